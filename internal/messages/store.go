// ABOUTME: Per-session paginated message window with a backward cursor
// ABOUTME: Guards concurrent loads and discards results for sessions that lost focus

package messages

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-desk/internal/desk"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 10

// Source fetches one page of a session's history, oldest first. A nil before
// requests the newest page.
type Source interface {
	FetchMessages(ctx context.Context, sessionID string, before *time.Time, limit int) ([]desk.Message, error)
}

// Notifier receives user-visible failures.
type Notifier interface {
	ReportError(message string)
}

// Snapshot is a copy of the window state.
type Snapshot struct {
	SessionID string
	Messages  []desk.Message
	HasMore   bool
	Cursor    time.Time
}

// Store holds the message window for one focused session at a time.
type Store struct {
	mu       sync.Mutex
	source   Source
	notifier Notifier
	pageSize int
	logger   *slog.Logger

	sessionID   string
	gen         uint64
	window      []desk.Message
	ids         map[string]struct{}
	cursor      time.Time
	hasMore     bool
	loading     bool
	loadingMore bool
}

// New creates a store. A pageSize <= 0 selects DefaultPageSize.
func New(source Source, notifier Notifier, pageSize int, logger *slog.Logger) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source:   source,
		notifier: notifier,
		pageSize: pageSize,
		logger:   logger.With("component", "messages"),
		ids:      make(map[string]struct{}),
	}
}

// Reset focuses the store on sessionID with an empty window. In-flight loads
// for the previous focus are discarded when they complete.
func (s *Store) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(sessionID)
}

func (s *Store) resetLocked(sessionID string) {
	s.sessionID = sessionID
	s.gen++
	s.window = nil
	s.ids = make(map[string]struct{})
	s.cursor = time.Time{}
	s.hasMore = sessionID != ""
	s.loading = false
	s.loadingMore = false
}

// Seed focuses the store on sessionID with a known transcript and no further
// history. Used for archived sessions.
func (s *Store) Seed(sessionID string, transcript []desk.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(sessionID)
	s.replaceLocked(transcript)
	s.hasMore = false
}

// Load fetches a page for sessionID. With appendPage false the page replaces
// the window; with appendPage true it is prepended as older history. A
// non-append load while another is in flight is a no-op, as is an append load
// once HasMore is false or while a previous append is still loading.
func (s *Store) Load(ctx context.Context, sessionID string, before *time.Time, appendPage bool) (Snapshot, error) {
	s.mu.Lock()
	if sessionID == "" || sessionID != s.sessionID {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, desk.ErrStaleFocus
	}
	if appendPage {
		if !s.hasMore || s.loadingMore {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		s.loadingMore = true
	} else {
		if s.loading {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		s.loading = true
	}
	gen := s.gen
	s.mu.Unlock()

	page, err := s.source.FetchMessages(ctx, sessionID, before, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.logger.Debug("discarding page for stale focus", "session_id", sessionID)
		return s.snapshotLocked(), desk.ErrStaleFocus
	}
	if appendPage {
		s.loadingMore = false
	} else {
		s.loading = false
	}

	if err != nil {
		s.logger.Error("failed to load messages", "session_id", sessionID, "error", err)
		if s.notifier != nil {
			s.notifier.ReportError("Failed to load messages")
		}
		return s.snapshotLocked(), fmt.Errorf("%w: loading messages: %v", desk.ErrNetwork, err)
	}

	if appendPage {
		s.prependLocked(page)
	} else {
		s.replaceLocked(page)
	}
	if len(page) < s.pageSize {
		s.hasMore = false
	}

	s.logger.Debug("loaded messages",
		"session_id", sessionID,
		"fetched", len(page),
		"window", len(s.window),
		"has_more", s.hasMore)

	return s.snapshotLocked(), nil
}

// LoadMore requests the page older than the cursor.
func (s *Store) LoadMore(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	cursor := s.cursor
	s.mu.Unlock()

	if cursor.IsZero() {
		return s.Snapshot(), nil
	}
	return s.Load(ctx, sessionID, &cursor, true)
}

// Push appends a single message if it belongs to the focused session and its
// id is not already in the window. It reports whether the window changed.
func (s *Store) Push(msg desk.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.SessionID != s.sessionID || s.sessionID == "" {
		return false
	}
	if _, dup := s.ids[msg.ID]; dup {
		return false
	}
	s.ids[msg.ID] = struct{}{}
	s.window = append(s.window, msg)
	if s.cursor.IsZero() {
		s.cursor = msg.ServerTimestamp
	}
	return true
}

// prependLocked merges an older page in front of the window. The cursor only
// moves backward; a page that does not move it ends pagination.
func (s *Store) prependLocked(page []desk.Message) {
	s.window = Merge(page, s.window)
	s.rebuildIDsLocked()

	first, ok := oldest(page)
	if !ok {
		s.hasMore = false
		return
	}
	if s.cursor.IsZero() || first.ServerTimestamp.Before(s.cursor) {
		s.cursor = first.ServerTimestamp
		return
	}
	s.hasMore = false
}

func (s *Store) replaceLocked(page []desk.Message) {
	s.window = Dedup(page)
	s.rebuildIDsLocked()
	s.cursor = time.Time{}
	if first, ok := oldest(s.window); ok {
		s.cursor = first.ServerTimestamp
	}
}

func (s *Store) rebuildIDsLocked() {
	s.ids = make(map[string]struct{}, len(s.window))
	for _, m := range s.window {
		s.ids[m.ID] = struct{}{}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	msgs := make([]desk.Message, len(s.window))
	copy(msgs, s.window)
	return Snapshot{
		SessionID: s.sessionID,
		Messages:  msgs,
		HasMore:   s.hasMore,
		Cursor:    s.cursor,
	}
}

// Snapshot returns a copy of the current window state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Messages returns a copy of the window.
func (s *Store) Messages() []desk.Message {
	return s.Snapshot().Messages
}

// Contains reports whether a message id is in the window.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// SessionID returns the focused session id, or "" when nothing is focused.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// HasMore reports whether older history may exist.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// LoadingMore reports whether an append load is in flight. Scroll handlers
// check it before requesting another page.
func (s *Store) LoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore
}
