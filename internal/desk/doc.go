// Package desk defines the shared data model of the support console.
//
// # Overview
//
// Every other package speaks in terms of the types declared here:
//
//   - Session: one customer's chat engagement, routed by ChatGroupID
//   - Message: one immutable entry of a session's append-only log
//   - Department: a routing bucket owned by the department administration
//   - Identity: the logged-in agent (user id, role, capabilities)
//
// # Lifecycle
//
// Sessions move through a small state machine:
//
//	queued -> active        (accept)
//	queued|active -> queued (transfer, new department)
//	active -> ended         (end, archived rather than deleted)
//
// CanTransition reports whether a move is legal.
//
// # Sender classification
//
// ClassifySender is the single rule used for both REST history and realtime
// messages: a "system" role is always system, a sender id equal to the local
// user id is self, everything else is counterpart.
package desk
