// ABOUTME: Department-bucketed session index with move-to-top and remove operations
// ABOUTME: Keeps each session in exactly one bucket matching its Department field

package directory

import (
	"log/slog"
	"sync"

	"github.com/2389/coven-desk/internal/desk"
)

// All is the pseudo-department that selects every bucket.
const All = "ALL"

// Directory is safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	buckets map[string][]desk.Session
	order   []string // bucket names in first-seen order
	names   []string
	logger  *slog.Logger
}

// New creates an empty directory.
func New(logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		buckets: make(map[string][]desk.Session),
		names:   []string{All},
		logger:  logger.With("component", "directory"),
	}
}

// Populate replaces every bucket from a REST snapshot. A group's Department
// wins over the session's own field so the two always agree afterwards.
// Sessions repeated in the snapshot keep their first position.
func (d *Directory) Populate(groups []desk.Group) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buckets = make(map[string][]desk.Session)
	d.order = nil
	seen := make(map[string]struct{}, len(groups))

	for _, g := range groups {
		s := g.Session
		if g.Department != "" {
			s.Department = g.Department
		}
		if _, dup := seen[s.ChatGroupID]; dup {
			continue
		}
		seen[s.ChatGroupID] = struct{}{}

		if _, ok := d.buckets[s.Department]; !ok {
			d.order = append(d.order, s.Department)
		}
		d.buckets[s.Department] = append(d.buckets[s.Department], s)
	}
	d.recomputeNamesLocked()

	d.logger.Debug("directory populated", "sessions", len(seen), "departments", len(d.order))
}

// MoveToTop removes the session from whatever bucket holds it and inserts it
// at the head of its Department's bucket, creating the bucket if needed. An
// unknown session is simply inserted. The stored value is replaced, not
// merged, so it carries whatever the caller observed last.
func (d *Directory) MoveToTop(s desk.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(s.ChatGroupID)

	if _, ok := d.buckets[s.Department]; !ok {
		d.order = append(d.order, s.Department)
	}
	bucket := make([]desk.Session, 0, len(d.buckets[s.Department])+1)
	bucket = append(bucket, s)
	bucket = append(bucket, d.buckets[s.Department]...)
	d.buckets[s.Department] = bucket

	d.recomputeNamesLocked()
}

// Remove deletes the session with chatGroupID from its bucket, dropping the
// bucket when it empties. It returns the removed session.
func (d *Directory) Remove(chatGroupID string) (desk.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.removeLocked(chatGroupID)
	d.recomputeNamesLocked()
	return s, ok
}

// Patch applies fn to the stored session in place without reordering. If fn
// changes the department the session moves to the head of the new bucket.
func (d *Directory) Patch(chatGroupID string, fn func(*desk.Session)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for dept, bucket := range d.buckets {
		for i := range bucket {
			if bucket[i].ChatGroupID != chatGroupID {
				continue
			}
			updated := bucket[i]
			fn(&updated)
			if updated.Department == dept {
				bucket[i] = updated
				return true
			}
			d.removeLocked(chatGroupID)
			if _, ok := d.buckets[updated.Department]; !ok {
				d.order = append(d.order, updated.Department)
			}
			d.buckets[updated.Department] = append([]desk.Session{updated}, d.buckets[updated.Department]...)
			d.recomputeNamesLocked()
			return true
		}
	}
	return false
}

// removeLocked must be called with mu held. It scans every bucket so a
// session somehow present twice is fully removed.
func (d *Directory) removeLocked(chatGroupID string) (desk.Session, bool) {
	var removed desk.Session
	found := false

	for dept, bucket := range d.buckets {
		kept := bucket[:0:0]
		for _, s := range bucket {
			if s.ChatGroupID == chatGroupID {
				removed = s
				found = true
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == len(bucket) {
			continue
		}
		if len(kept) == 0 {
			delete(d.buckets, dept)
			d.dropOrderLocked(dept)
		} else {
			d.buckets[dept] = kept
		}
	}
	return removed, found
}

func (d *Directory) dropOrderLocked(dept string) {
	for i, name := range d.order {
		if name == dept {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			return
		}
	}
}

func (d *Directory) recomputeNamesLocked() {
	names := make([]string, 0, len(d.order)+1)
	names = append(names, All)
	for _, dept := range d.order {
		if len(d.buckets[dept]) > 0 {
			names = append(names, dept)
		}
	}
	d.names = names
}

// FilteredView returns every session when dept is All, otherwise the named
// bucket (empty when absent).
func (d *Directory) FilteredView(dept string) []desk.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if dept == All {
		var out []desk.Session
		for _, name := range d.order {
			out = append(out, d.buckets[name]...)
		}
		return out
	}

	bucket := d.buckets[dept]
	out := make([]desk.Session, len(bucket))
	copy(out, bucket)
	return out
}

// Departments returns All followed by every non-empty bucket name.
func (d *Directory) Departments() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Normalize returns dept if it is still a listed department, otherwise All.
func (d *Directory) Normalize(dept string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, name := range d.names {
		if name == dept {
			return dept
		}
	}
	return All
}

// Lookup finds a session by routing key.
func (d *Directory) Lookup(chatGroupID string) (desk.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, bucket := range d.buckets {
		for _, s := range bucket {
			if s.ChatGroupID == chatGroupID {
				return s, true
			}
		}
	}
	return desk.Session{}, false
}

// Count returns the number of sessions in dept ("" or All for every bucket).
func (d *Directory) Count(dept string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if dept == "" || dept == All {
		n := 0
		for _, bucket := range d.buckets {
			n += len(bucket)
		}
		return n
	}
	return len(d.buckets[dept])
}
