package discount

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/quoting/internal/testing/pgtest"
)

func TestDiscountQueryMatchesEveryTable(t *testing.T) {
	schema := pgtest.Embedded(t)
	for typ, table := range tables {
		assert.Empty(t, schema.Missing(table, pgtest.Qualified(discountQuery, "d")), typ)
	}
	assert.Empty(t, schema.Missing("currencies", pgtest.Qualified(discountQuery, "c")))
}
