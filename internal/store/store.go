// ABOUTME: Store interface and record types for the development desk backend
// ABOUTME: Departments, customer sessions and their messages

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-desk/internal/desk"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional update lost a race, for example
// accepting a session another agent already took
var ErrConflict = errors.New("conflict")

// ErrDuplicate is returned when creating an entity whose id already exists
var ErrDuplicate = errors.New("already exists")

// Message is one persisted conversation message
type Message struct {
	ID         string
	SessionID  string
	SenderID   string
	SenderRole string
	Body       string
	CreatedAt  time.Time
}

// SessionFilter narrows ListSessions. Empty fields match everything.
type SessionFilter struct {
	Statuses        []desk.Status
	AssignedAgentID string
	Accepted        *bool
}

// Store is the persistence surface of the desk backend
type Store interface {
	CreateDepartment(ctx context.Context, d desk.Department) error
	GetDepartment(ctx context.Context, deptID string) (desk.Department, error)
	ListDepartments(ctx context.Context) ([]desk.Department, error)

	CreateSession(ctx context.Context, s desk.Session) error
	GetSession(ctx context.Context, chatGroupID string) (desk.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]desk.Session, error)
	AcceptSession(ctx context.Context, chatGroupID, agentID string, at time.Time) (desk.Session, error)
	TransferSession(ctx context.Context, chatGroupID, deptID string, at time.Time) (desk.Session, error)
	EndSession(ctx context.Context, chatGroupID string, at time.Time) (desk.Session, error)
	TouchSession(ctx context.Context, chatGroupID string, at time.Time) (desk.Session, error)

	SaveMessage(ctx context.Context, m Message) error
	ListMessages(ctx context.Context, sessionID string, before *time.Time, limit int) ([]Message, error)

	Close() error
}
