// Package pgtest supports tests that exercise hand-written SQL. Schema reads
// the embedded migrations so column lists can be checked without a database;
// Open connects to a real Postgres when PG_DSN is set and applies the
// migrations first.
package pgtest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quoting/internal/platform/db"
	"github.com/odyssey-erp/quoting/migrations"
)

// DSNEnv names the variable holding the integration database DSN.
const DSNEnv = "PG_DSN"

// Open returns a pool on the integration database with every migration
// applied. The test is skipped when PG_DSN is unset.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(DSNEnv))
	if dsn == "" {
		t.Skip("set PG_DSN to run Postgres integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool, migrations.FS)
	require.NoError(t, err)
	return pool
}

// Schema maps each table to the set of columns it declares.
type Schema map[string]map[string]bool

var (
	createTable = regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS (\w+) \((.*?)\);`)
	likeTable   = regexp.MustCompile(`^LIKE (\w+)`)
	identifier  = regexp.MustCompile(`\b[a-z][a-z0-9_]*\b`)
)

// LoadSchema parses the CREATE TABLE statements of every up migration in files.
// Tables declared with LIKE inherit the columns of their template.
func LoadSchema(files fs.FS) (Schema, error) {
	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	schema := make(Schema)
	for _, name := range names {
		raw, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, err
		}
		for _, m := range createTable.FindAllStringSubmatch(string(raw), -1) {
			table, body := m[1], strings.TrimSpace(m[2])
			columns := make(map[string]bool)
			if like := likeTable.FindStringSubmatch(body); like != nil {
				template, ok := schema[like[1]]
				if !ok {
					return nil, fmt.Errorf("%s: %s is LIKE unknown table %s", name, table, like[1])
				}
				for c := range template {
					columns[c] = true
				}
				schema[table] = columns
				continue
			}
			for _, line := range strings.Split(body, "\n") {
				fields := strings.Fields(strings.TrimSpace(line))
				if len(fields) == 0 {
					continue
				}
				// constraint clauses start with an upper-case keyword
				if first := fields[0]; first == strings.ToLower(first) {
					columns[first] = true
				}
			}
			schema[table] = columns
		}
	}
	return schema, nil
}

// Embedded returns the schema of the embedded migrations.
func Embedded(t testing.TB) Schema {
	t.Helper()
	schema, err := LoadSchema(migrations.FS)
	require.NoError(t, err)
	return schema
}

// Missing returns the columns that table does not declare, in input order.
// An unknown table reports every column.
func (s Schema) Missing(table string, columns []string) []string {
	var out []string
	for _, c := range columns {
		if !s[table][c] {
			out = append(out, c)
		}
	}
	return out
}

// Columns returns the lower-case identifiers of a select list such as
// "id, COALESCE(name, ''), created_at". Keywords and functions are written in
// upper case and are therefore skipped.
func Columns(list string) []string {
	return unique(identifier.FindAllString(stripLiterals(list), -1))
}

// Qualified returns the columns referenced through alias in query, so
// Qualified("SELECT v.id, q.name ...", "v") is [id].
func Qualified(query, alias string) []string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(alias) + `\.([a-z][a-z0-9_]*)`)
	var out []string
	for _, m := range re.FindAllStringSubmatch(stripLiterals(query), -1) {
		out = append(out, m[1])
	}
	return unique(out)
}

var insertInto = regexp.MustCompile(`INSERT INTO (\w+) \(([^)]*)\)`)

// Inserted returns the table and column list of an INSERT statement.
func Inserted(stmt string) (string, []string) {
	m := insertInto.FindStringSubmatch(stmt)
	if m == nil {
		return "", nil
	}
	return m[1], Columns(m[2])
}

var literal = regexp.MustCompile(`'[^']*'`)

func stripLiterals(sql string) string {
	return literal.ReplaceAllString(sql, "''")
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
