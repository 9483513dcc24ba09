// Package messages keeps the loaded message window of the focused session.
//
// The window is a deduplicated, oldest-first slice of desk.Message values with
// a backward cursor. Pages come from a Source (the REST collaborator); single
// messages arrive through Push from the realtime reconciler. Both paths go
// through the same dedup-by-id merge, so replays and echoes never show twice.
//
// A Load for a session that lost focus while the fetch was in flight returns
// desk.ErrStaleFocus and leaves the window alone.
package messages
