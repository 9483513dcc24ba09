// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides department, session and message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-desk/internal/desk"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Timestamps are unix nanoseconds so they order numerically.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS departments (
			dept_id   TEXT PRIMARY KEY,
			name      TEXT NOT NULL UNIQUE,
			is_active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS sessions (
			chat_group_id     TEXT PRIMARY KEY,
			session_id        TEXT NOT NULL UNIQUE,
			dept_id           TEXT NOT NULL REFERENCES departments(dept_id),
			assigned_agent_id TEXT NOT NULL DEFAULT '',
			is_accepted       INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			customer_name     TEXT NOT NULL DEFAULT '',
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL,

			CHECK (status IN ('queued', 'active', 'transferred', 'ended'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(assigned_agent_id);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL REFERENCES sessions(session_id),
			sender_id   TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			body        TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session_created
			ON messages(session_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateDepartment inserts a department
func (s *SQLiteStore) CreateDepartment(ctx context.Context, d desk.Department) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (dept_id, name, is_active) VALUES (?, ?, ?)`,
		d.DeptID, d.Name, boolInt(d.IsActive))
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: department %s", ErrDuplicate, d.DeptID)
	}
	if err != nil {
		return fmt.Errorf("inserting department: %w", err)
	}
	return nil
}

// GetDepartment returns one department
func (s *SQLiteStore) GetDepartment(ctx context.Context, deptID string) (desk.Department, error) {
	var d desk.Department
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT dept_id, name, is_active FROM departments WHERE dept_id = ?`, deptID,
	).Scan(&d.DeptID, &d.Name, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return desk.Department{}, ErrNotFound
	}
	if err != nil {
		return desk.Department{}, fmt.Errorf("querying department: %w", err)
	}
	d.IsActive = active == 1
	return d, nil
}

// ListDepartments returns every department ordered by name
func (s *SQLiteStore) ListDepartments(ctx context.Context) ([]desk.Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dept_id, name, is_active FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying departments: %w", err)
	}
	defer rows.Close()

	var out []desk.Department
	for rows.Next() {
		var d desk.Department
		var active int
		if err := rows.Scan(&d.DeptID, &d.Name, &active); err != nil {
			return nil, fmt.Errorf("scanning department: %w", err)
		}
		d.IsActive = active == 1
		out = append(out, d)
	}
	return out, rows.Err()
}

// CreateSession inserts a session. Department is resolved from DeptID.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess desk.Session) error {
	now := sess.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	status := sess.Status
	if status == "" {
		status = desk.StatusQueued
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (chat_group_id, session_id, dept_id, assigned_agent_id, is_accepted, status, customer_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ChatGroupID, sess.SessionID, sess.DeptID, sess.AssignedAgentID, boolInt(sess.IsAccepted),
		string(status), sess.CustomerName, now.UnixNano(), now.UnixNano())
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: session %s", ErrDuplicate, sess.ChatGroupID)
	}
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.chat_group_id, s.session_id, s.dept_id, d.name, s.assigned_agent_id,
	s.is_accepted, s.status, s.customer_name, s.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (desk.Session, error) {
	var sess desk.Session
	var accepted int
	var status string
	var updated int64
	if err := row.Scan(&sess.ChatGroupID, &sess.SessionID, &sess.DeptID, &sess.Department,
		&sess.AssignedAgentID, &accepted, &status, &sess.CustomerName, &updated); err != nil {
		return desk.Session{}, err
	}
	sess.IsAccepted = accepted == 1
	sess.Status = desk.Status(status)
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	return sess, nil
}

// GetSession returns one session by routing key
func (s *SQLiteStore) GetSession(ctx context.Context, chatGroupID string) (desk.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+`
		FROM sessions s JOIN departments d ON d.dept_id = s.dept_id
		WHERE s.chat_group_id = ?`, chatGroupID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return desk.Session{}, ErrNotFound
	}
	if err != nil {
		return desk.Session{}, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions matching filter, most recently updated first
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]desk.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions s JOIN departments d ON d.dept_id = s.dept_id`
	var where []string
	var args []any

	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "s.status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.AssignedAgentID != "" {
		where = append(where, "s.assigned_agent_id = ?")
		args = append(args, filter.AssignedAgentID)
	}
	if filter.Accepted != nil {
		where = append(where, "s.is_accepted = ?")
		args = append(args, boolInt(*filter.Accepted))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.updated_at DESC, s.chat_group_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []desk.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// updateSession runs a conditional update and returns the new row. Zero
// affected rows is ErrNotFound when the session is missing, ErrConflict
// otherwise.
func (s *SQLiteStore) updateSession(ctx context.Context, chatGroupID, query string, args ...any) (desk.Session, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return desk.Session{}, fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return desk.Session{}, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, chatGroupID); err != nil {
			return desk.Session{}, err
		}
		return desk.Session{}, ErrConflict
	}
	return s.GetSession(ctx, chatGroupID)
}

// AcceptSession assigns a waiting session to agentID. Only one agent wins.
func (s *SQLiteStore) AcceptSession(ctx context.Context, chatGroupID, agentID string, at time.Time) (desk.Session, error) {
	return s.updateSession(ctx, chatGroupID, `
		UPDATE sessions
		SET status = 'active', is_accepted = 1, assigned_agent_id = ?, updated_at = ?
		WHERE chat_group_id = ? AND is_accepted = 0 AND status IN ('queued', 'transferred')`,
		agentID, at.UnixNano(), chatGroupID)
}

// TransferSession requeues a live session in another department
func (s *SQLiteStore) TransferSession(ctx context.Context, chatGroupID, deptID string, at time.Time) (desk.Session, error) {
	return s.updateSession(ctx, chatGroupID, `
		UPDATE sessions
		SET dept_id = ?, status = 'queued', is_accepted = 0, assigned_agent_id = '', updated_at = ?
		WHERE chat_group_id = ? AND status != 'ended' AND dept_id != ?`,
		deptID, at.UnixNano(), chatGroupID, deptID)
}

// EndSession marks a session ended
func (s *SQLiteStore) EndSession(ctx context.Context, chatGroupID string, at time.Time) (desk.Session, error) {
	return s.updateSession(ctx, chatGroupID, `
		UPDATE sessions SET status = 'ended', updated_at = ?
		WHERE chat_group_id = ? AND status != 'ended'`,
		at.UnixNano(), chatGroupID)
}

// TouchSession bumps updated_at so the session sorts first
func (s *SQLiteStore) TouchSession(ctx context.Context, chatGroupID string, at time.Time) (desk.Session, error) {
	return s.updateSession(ctx, chatGroupID,
		`UPDATE sessions SET updated_at = ? WHERE chat_group_id = ?`,
		at.UnixNano(), chatGroupID)
}

// SaveMessage persists a message
func (s *SQLiteStore) SaveMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, sender_id, sender_role, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.SenderID, m.SenderRole, m.Body, m.CreatedAt.UnixNano())
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: message %s", ErrDuplicate, m.ID)
	}
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages older than before (or the newest
// when before is nil), ordered oldest first
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, before *time.Time, limit int) ([]Message, error) {
	query := `SELECT id, session_id, sender_id, sender_role, body, created_at
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if before != nil {
		query += " AND created_at < ?"
		args = append(args, before.UnixNano())
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderRole, &m.Body, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
