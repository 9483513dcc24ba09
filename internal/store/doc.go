// ABOUTME: Package store documentation
// ABOUTME: SQLite persistence behind the development desk backend

// Package store persists the development backend's departments, customer
// sessions and messages in SQLite (modernc.org/sqlite, no cgo).
//
// Session state changes are conditional updates: AcceptSession only
// succeeds while a session is unaccepted and waiting, so two agents racing
// for the same session get one success and one ErrConflict.
//
// ListMessages pages backwards in time and returns each page oldest first.
package store
