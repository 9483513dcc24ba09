// ABOUTME: Package actions documentation
// ABOUTME: Lifecycle rules and failure behaviour of agent actions

// Package actions implements the agent's operations on sessions.
//
// Select focuses a session and loads its newest page (or shows the archived
// transcript of a session ended here). Accept, Send, EndChat and Transfer
// check the caller's capability first; a denial returns desk.ErrDenied
// before any store, directory or transport change.
//
// Lifecycle: queued -> active on accept; queued or active -> queued in the
// target department on transfer; active -> ended on end chat.
package actions
