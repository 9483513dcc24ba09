// Package dedupe provides a TTL-bounded set of claimed keys used to make
// operations fire-once. The action engine claims a session's routing key
// before issuing an accept so a second click, or a stale directory snapshot
// that still lists the session as queued, cannot issue another accept while
// the first is pending or shortly after it succeeded.
package dedupe
