// ABOUTME: Package realtime documentation
// ABOUTME: Transport contract, event variants, and the per-mode reconciler

// Package realtime keeps console state in step with the server's event stream.
//
// # Transport
//
// A single Transport is shared by every console mode. Conn speaks the
// websocket protocol: frames are JSON objects of the form
//
//	{"event": "message", "data": {...}}
//
// Inbound frames decode into one of MessageEvent, GroupListChangedEvent,
// MoveToTopEvent or RoomMembershipEvent. Unknown or malformed frames are
// logged and dropped. Handlers run on the read goroutine in receipt order.
//
// When the read loop fails Conn re-dials with exponential backoff and runs
// the OnReconnect hooks once connected. Reset drops the socket and dials a
// fresh one.
//
// # Reconciler
//
// Each mode owns a Reconciler. Attach and Detach add and remove listeners
// without touching the connection. Focus leaves the previous room before
// joining the next. Inbound events are applied idempotently:
//
//   - message: pushed to the store unless its id is already present
//   - group_list_changed: refetch, debounced in queue mode
//   - move_to_top: Directory.MoveToTop, or Remove when out of scope
//   - room_membership accepted: queue mode removes the session
package realtime
