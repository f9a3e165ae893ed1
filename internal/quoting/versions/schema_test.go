package versions

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quoting/internal/quoting/aggregate"
	"github.com/odyssey-erp/quoting/internal/testing/pgtest"
	"github.com/odyssey-erp/quoting/migrations"
)

func TestSelectListsMatchSchema(t *testing.T) {
	schema := pgtest.Embedded(t)
	cases := map[string]string{
		"quotes":            quoteColumns,
		"quote_versions":    versionColumns,
		"quote_line_groups": groupColumns,
		"quote_lines":       lineColumns,
	}
	for table, list := range cases {
		assert.Empty(t, schema.Missing(table, pgtest.Columns(list)), table)
	}
}

func TestInsertStatementsMatchSchema(t *testing.T) {
	schema := pgtest.Embedded(t)
	for _, stmt := range []string{insertQuoteStmt, insertVersionStmt, cloneGroupsStmt, cloneLinesStmt} {
		table, columns := pgtest.Inserted(stmt)
		require.NotEmpty(t, table)
		assert.Empty(t, schema.Missing(table, columns), table)
	}
	assert.Empty(t, schema.Missing("quote_lines", pgtest.Qualified(cloneLinesStmt, "l")))
	assert.Empty(t, schema.Missing("quote_line_groups", pgtest.Qualified(cloneLinesStmt, "g")))
}

func TestSchemaAcceptsEveryLineKind(t *testing.T) {
	raw, err := fs.ReadFile(migrations.FS, "000001_quoting.up.sql")
	require.NoError(t, err)
	checks := regexp.MustCompile(`kind TEXT NOT NULL CHECK \(kind IN \(([^)]*)\)\)`).FindAllStringSubmatch(string(raw), -1)
	require.Len(t, checks, 2, "quote_lines and quote_line_groups constrain kind")

	want := []string{"'" + string(aggregate.KindRow) + "'", "'" + string(aggregate.KindAsset) + "'"}
	for _, check := range checks {
		var allowed []string
		for _, v := range strings.Split(check[1], ",") {
			allowed = append(allowed, strings.TrimSpace(v))
		}
		assert.ElementsMatch(t, want, allowed)
	}
}
