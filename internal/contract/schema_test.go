// ABOUTME: Contract tests for the fake desk's SQLite schema.
// ABOUTME: Pins tables, columns, indexes and the session status constraint.

package contract

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/store"
)

// expectedSchema is the column contract per table. Removing or renaming a
// column breaks existing desk databases.
var expectedSchema = map[string][]string{
	"departments": {"dept_id", "name", "is_active"},
	"sessions": {
		"chat_group_id", "session_id", "dept_id",
		"assigned_agent_id", "is_accepted", "status",
		"customer_name", "created_at", "updated_at",
	},
	"messages": {
		"id", "session_id", "sender_id",
		"sender_role", "body", "created_at",
	},
}

var expectedIndexes = []string{
	"idx_sessions_status",
	"idx_sessions_agent",
	"idx_messages_session_created",
}

// openSchemaDB lets the store create its schema, then opens a second
// connection to the same file for inspection.
func openSchemaDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contract.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
		s.Close()
	})
	return db
}

// masterNames lists sqlite_master entries of one type.
func masterNames(t *testing.T, db *sql.DB, kind string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%'", kind)
	require.NoError(t, err)
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names[name] = true
	}
	require.NoError(t, rows.Err())
	return names
}

func tableColumns(t *testing.T, db *sql.DB, table string) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		"SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols[name] = true
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestSchemaTables(t *testing.T) {
	db := openSchemaDB(t)
	tables := masterNames(t, db, "table")

	for table, want := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			require.True(t, tables[table], "table %s should exist", table)

			cols := tableColumns(t, db, table)
			for _, col := range want {
				assert.True(t, cols[col], "column %s.%s should exist", table, col)
			}
			if len(cols) > len(want) {
				t.Logf("table %s has %d columns outside the contract", table, len(cols)-len(want))
			}
		})
	}
}

func TestSchemaIndexes(t *testing.T) {
	db := openSchemaDB(t)
	indexes := masterNames(t, db, "index")

	for _, idx := range expectedIndexes {
		assert.True(t, indexes[idx], "index %s should exist", idx)
	}
}

// TestSessionStatusConstraint verifies the database rejects statuses outside
// the lifecycle set.
func TestSessionStatusConstraint(t *testing.T) {
	db := openSchemaDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO departments (dept_id, name, is_active) VALUES ('d1', 'Sales', 1)`)
	require.NoError(t, err)

	insert := `INSERT INTO sessions (chat_group_id, session_id, dept_id, status, created_at, updated_at)
		VALUES (?, ?, 'd1', ?, 0, 0)`

	for i, status := range []string{"queued", "active", "transferred", "ended"} {
		_, err := db.ExecContext(ctx, insert, "cg-"+status, "s-"+status, status)
		assert.NoError(t, err, "status %d (%s) should be accepted", i, status)
	}

	_, err = db.ExecContext(ctx, insert, "cg-bad", "s-bad", "archived")
	assert.Error(t, err)
}
