package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_PostgresOrdered(t *testing.T) {
	files, err := load(PostgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].name, files[i].name)
	}
	assert.True(t, strings.HasPrefix(files[0].name, "001_"))
	assert.Contains(t, files[0].sql, "CREATE TABLE IF NOT EXISTS events")
}

func TestClickhouseMigrations_Splittable(t *testing.T) {
	files, err := load(ClickhouseFS, "clickhouse")
	require.NoError(t, err)

	for _, m := range files {
		require.NoError(t, validateNoSemicolonInStrings(m.sql), m.name)
		stmts := splitStatements(m.sql)
		assert.NotEmpty(t, stmts, m.name)
		for _, stmt := range stmts {
			assert.NotContains(t, stmt, "--")
		}
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (y UInt8);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x UInt8)", "CREATE TABLE b (y UInt8)"}, stmts)
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b'"))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/ledger_archive")
	require.NoError(t, err)
	assert.Equal(t, "ledger_archive", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
