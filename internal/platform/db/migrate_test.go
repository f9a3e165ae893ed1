package db

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quoting/migrations"
)

func TestLatestMigrationOfEmbeddedSchema(t *testing.T) {
	version, err := LatestMigration(migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrations.FS, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestEmbeddedSchemaDeclaresTotalsTables(t *testing.T) {
	raw, err := fs.ReadFile(migrations.FS, "000001_quoting.up.sql")
	require.NoError(t, err)
	schema := string(raw)
	for _, table := range []string{"quote_totals", "customer_totals", "location_totals", "asset_totals", "opportunity_totals"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schema, "quote_versions_quote_id_version_number_key")
}

func TestLatestMigrationPicksHighestVersion(t *testing.T) {
	files := fstest.MapFS{
		"000001_init.up.sql":   {Data: []byte("SELECT 1;")},
		"000001_init.down.sql": {Data: []byte("SELECT 1;")},
		"000003_more.up.sql":   {Data: []byte("SELECT 1;")},
		"000002_next.up.sql":   {Data: []byte("SELECT 1;")},
	}
	version, err := LatestMigration(files)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
}

func TestLatestMigrationWithoutFiles(t *testing.T) {
	_, err := LatestMigration(fstest.MapFS{})
	assert.Error(t, err)
}
