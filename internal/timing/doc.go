// Package timing provides the scheduled-task primitives owned by the
// directory, reconciler and action engine: a trailing Debouncer and a
// cancelable one-shot Task. Both are safe for concurrent use and stop cleanly
// on Stop, so teardown never leaves a timer firing into released state.
package timing
