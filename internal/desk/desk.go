// ABOUTME: Core data types for sessions, messages and departments
// ABOUTME: Shared by the message store, directory, action engine and realtime reconciler

package desk

import (
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusActive      Status = "active"
	StatusTransferred Status = "transferred"
	StatusEnded       Status = "ended"
)

// transitions lists the legal lifecycle moves. Ended is terminal.
var transitions = map[Status][]Status{
	StatusQueued:      {StatusActive, StatusQueued, StatusTransferred},
	StatusActive:      {StatusQueued, StatusTransferred, StatusEnded},
	StatusTransferred: {StatusQueued, StatusActive},
	StatusEnded:       {},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session is a customer's chat group as seen by the console.
type Session struct {
	SessionID       string    `json:"session_id"`
	ChatGroupID     string    `json:"chat_group_id"`
	Department      string    `json:"department"`
	DeptID          string    `json:"dept_id,omitempty"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	IsAccepted      bool      `json:"is_accepted"`
	Status          Status    `json:"status"`
	CustomerName    string    `json:"customer_name,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// SenderCategory says who wrote a message relative to the local agent.
type SenderCategory string

const (
	SenderSelf        SenderCategory = "self"
	SenderCounterpart SenderCategory = "counterpart"
	SenderSystem      SenderCategory = "system"
)

// RoleSystem is the sender role the backend uses for generated messages.
const RoleSystem = "system"

// Message is one entry of a session's conversation log. Messages are never
// mutated after creation.
type Message struct {
	ID              string
	SessionID       string
	SenderID        string
	SenderRole      string
	SenderCategory  SenderCategory
	Body            string
	ServerTimestamp time.Time
	DisplayTime     string

	// Positional is true when ID was synthesized from the message's position in
	// a fetched page. Positional ids are only stable within one process run.
	Positional bool
}

// NewMessage builds a message, classifying its sender against localUserID and
// deriving the display time once.
func NewMessage(id, sessionID, senderID, senderRole, body string, ts time.Time, localUserID string) Message {
	return Message{
		ID:              id,
		SessionID:       sessionID,
		SenderID:        senderID,
		SenderRole:      senderRole,
		SenderCategory:  ClassifySender(senderID, senderRole, localUserID),
		Body:            body,
		ServerTimestamp: ts,
		DisplayTime:     DisplayTime(ts),
	}
}

// ClassifySender derives the sender category. It is the only classification
// rule in the console.
func ClassifySender(senderID, senderRole, localUserID string) SenderCategory {
	if senderRole == RoleSystem {
		return SenderSystem
	}
	if senderID != "" && senderID == localUserID {
		return SenderSelf
	}
	return SenderCounterpart
}

// DisplayTime renders a server timestamp in the local time zone.
func DisplayTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(time.Kitchen)
}

// Department is a routing bucket. The console never mutates departments.
type Department struct {
	DeptID   string `json:"dept_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Group is one row of a directory snapshot.
type Group struct {
	Session    Session `json:"session"`
	Department string  `json:"department"`
}
