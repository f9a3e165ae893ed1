package totals

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/quoting/internal/testing/pgtest"
)

func TestSnapshotQueryMatchesSchema(t *testing.T) {
	schema := pgtest.Embedded(t)
	versionCols := pgtest.Qualified(snapshotQuery, "v")
	assert.Contains(t, versionCols, "currency_code")
	assert.Empty(t, schema.Missing("quote_versions", versionCols))
	assert.Empty(t, schema.Missing("quotes", pgtest.Qualified(snapshotQuery, "q")))
}

func TestRowColumnsMatchEveryTotalsTable(t *testing.T) {
	schema := pgtest.Embedded(t)
	for _, dim := range Dimensions {
		assert.Empty(t, schema.Missing(dim.Table(), pgtest.Columns(rowColumns)), dim)
		assert.Empty(t, schema.Missing(dim.Table(), pgtest.Columns(rollupColumns)), dim)
	}
}
