// ABOUTME: Sentinel errors shared across the console packages
// ABOUTME: Callers wrap these with fmt.Errorf and match them with errors.Is

package desk

import "errors"

var (
	// ErrDenied is returned when the local agent lacks a capability.
	ErrDenied = errors.New("permission denied")

	// ErrNetwork wraps a failed REST or transport call.
	ErrNetwork = errors.New("network failure")

	// ErrStaleFocus marks a response for a session that is no longer focused.
	ErrStaleFocus = errors.New("stale focus")

	// ErrNoFocus is returned by actions that need a focused session.
	ErrNoFocus = errors.New("no session selected")

	// ErrEmptyBody is returned when sending a blank message.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrNotQueued is returned when accepting a session that is not waiting.
	ErrNotQueued = errors.New("session is not queued")

	// ErrSameDepartment is returned when transferring to the current department.
	ErrSameDepartment = errors.New("session is already in that department")

	// ErrUnknownDepartment is returned for transfer targets not in the catalog.
	ErrUnknownDepartment = errors.New("unknown department")

	// ErrInFlight is returned when an identical operation is already running.
	ErrInFlight = errors.New("operation already in flight")

	// ErrNotConnected is returned when emitting on a closed transport.
	ErrNotConnected = errors.New("transport not connected")
)
