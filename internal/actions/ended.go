// ABOUTME: Registry of sessions ended from this console, with their transcripts
// ABOUTME: Selecting an archived session shows the transcript without refetching

package actions

import (
	"sync"
	"time"

	"github.com/2389/coven-desk/internal/desk"
)

// Archive is an ended session and its final transcript.
type Archive struct {
	Session    desk.Session
	Transcript []desk.Message
	EndedAt    time.Time
}

// EndedRegistry maps session ids to archives.
type EndedRegistry struct {
	mu       sync.RWMutex
	archives map[string]Archive
}

// NewEndedRegistry creates an empty registry.
func NewEndedRegistry() *EndedRegistry {
	return &EndedRegistry{archives: make(map[string]Archive)}
}

// Archive stores a copy of the transcript under the session id, replacing
// any previous archive for it.
func (r *EndedRegistry) Archive(s desk.Session, transcript []desk.Message, at time.Time) {
	cp := make([]desk.Message, len(transcript))
	copy(cp, transcript)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.archives[s.SessionID] = Archive{Session: s, Transcript: cp, EndedAt: at}
}

// Lookup returns the archive for sessionID.
func (r *EndedRegistry) Lookup(sessionID string) (Archive, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.archives[sessionID]
	if !ok {
		return Archive{}, false
	}
	cp := make([]desk.Message, len(a.Transcript))
	copy(cp, a.Transcript)
	a.Transcript = cp
	return a, true
}

// Len returns the number of archived sessions.
func (r *EndedRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archives)
}
