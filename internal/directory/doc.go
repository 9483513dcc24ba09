// Package directory maintains the department-bucketed index of sessions.
//
// # Directory
//
// A Directory maps department names to ordered session buckets. It is
// rebuilt wholesale from REST snapshots (Populate) and patched by realtime
// events (MoveToTop, Remove). Every mutation keeps two invariants:
//
//   - a session (keyed by ChatGroupID) sits in exactly one bucket
//   - that bucket is the one named by the session's own Department field
//
// Department names are derived as [All, buckets with at least one session],
// so a filter pointing at an emptied department falls back to All through
// Normalize.
//
// # Refresher
//
// Refresher wraps the REST fetch that feeds Populate with a minimum-interval
// cooldown and an in-flight guard. A refresh requested during the cooldown is
// not lost: one trailing refresh is scheduled for when the cooldown ends.
package directory
