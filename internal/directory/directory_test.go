// ABOUTME: Tests for the department directory
// ABOUTME: Covers populate, move-to-top rerouting, removal, filtering and the single-bucket invariant

package directory

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/desk"
)

func sess(id, dept string) desk.Session {
	return desk.Session{
		SessionID:   "cust-" + id,
		ChatGroupID: id,
		Department:  dept,
		Status:      desk.StatusQueued,
	}
}

func groupIDs(sessions []desk.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ChatGroupID
	}
	return out
}

// assertInvariants checks that every session sits in exactly one bucket and
// that the bucket matches its Department field.
func assertInvariants(t *testing.T, d *Directory) {
	t.Helper()
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]string)
	for dept, bucket := range d.buckets {
		assert.NotEmpty(t, bucket, "empty bucket %q must be deleted", dept)
		for _, s := range bucket {
			prev, dup := seen[s.ChatGroupID]
			assert.False(t, dup, "session %s in both %q and %q", s.ChatGroupID, prev, dept)
			seen[s.ChatGroupID] = dept
			assert.Equal(t, dept, s.Department, "session %s bucketed under wrong department", s.ChatGroupID)
		}
	}
}

func TestPopulate_DerivesDepartmentNames(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{
		{Session: sess("g1", ""), Department: "Sales"},
		{Session: sess("g2", ""), Department: "Support"},
		{Session: sess("g3", ""), Department: "Sales"},
	})

	assert.Equal(t, []string{All, "Sales", "Support"}, d.Departments())
	assert.Equal(t, []string{"g1", "g3", "g2"}, groupIDs(d.FilteredView(All)))
	assert.Equal(t, []string{"g2"}, groupIDs(d.FilteredView("Support")))
	assert.Empty(t, d.FilteredView("Billing"))
	assertInvariants(t, d)
}

func TestPopulate_ReplacesPreviousSnapshot(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{{Session: sess("g1", "Sales"), Department: "Sales"}})
	d.Populate([]desk.Group{{Session: sess("g2", "Support"), Department: "Support"}})

	assert.Equal(t, []string{All, "Support"}, d.Departments())
	_, ok := d.Lookup("g1")
	assert.False(t, ok)
}

func TestPopulate_DuplicateInSnapshotKeptOnce(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{
		{Session: sess("g1", ""), Department: "Sales"},
		{Session: sess("g1", ""), Department: "Support"},
	})

	assert.Equal(t, 1, d.Count(All))
	assertInvariants(t, d)
}

func TestMoveToTop_ReroutesAndDropsEmptyBucket(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{
		{Session: sess("S1", "Sales"), Department: "Sales"},
		{Session: sess("S2", "Support"), Department: "Support"},
	})

	d.MoveToTop(sess("S1", "Support"))

	assert.Equal(t, []string{"S1", "S2"}, groupIDs(d.FilteredView("Support")))
	assert.Empty(t, d.FilteredView("Sales"))
	assert.Equal(t, []string{All, "Support"}, d.Departments())
	assertInvariants(t, d)
}

func TestMoveToTop_UnknownSessionIsInserted(t *testing.T) {
	d := New(nil)
	d.MoveToTop(sess("new", "Billing"))

	got, ok := d.Lookup("new")
	require.True(t, ok)
	assert.Equal(t, "Billing", got.Department)
	assert.Equal(t, []string{All, "Billing"}, d.Departments())
}

func TestMoveToTop_ReordersWithinBucket(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{
		{Session: sess("a", "Sales"), Department: "Sales"},
		{Session: sess("b", "Sales"), Department: "Sales"},
		{Session: sess("c", "Sales"), Department: "Sales"},
	})

	updated := sess("c", "Sales")
	updated.CustomerName = "Carol"
	d.MoveToTop(updated)

	view := d.FilteredView("Sales")
	assert.Equal(t, []string{"c", "a", "b"}, groupIDs(view))
	assert.Equal(t, "Carol", view[0].CustomerName, "stored value must be replaced")
}

func TestRemove_DeletesEmptyBucketAndNormalizes(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{
		{Session: sess("g1", "Sales"), Department: "Sales"},
		{Session: sess("g2", "Support"), Department: "Support"},
	})

	removed, ok := d.Remove("g1")
	require.True(t, ok)
	assert.Equal(t, "g1", removed.ChatGroupID)
	assert.Equal(t, []string{All, "Support"}, d.Departments())
	assert.Equal(t, All, d.Normalize("Sales"))
	assert.Equal(t, "Support", d.Normalize("Support"))

	_, ok = d.Remove("g1")
	assert.False(t, ok)
}

func TestPatch_InPlaceAndAcrossDepartments(t *testing.T) {
	d := New(nil)
	d.Populate([]desk.Group{
		{Session: sess("a", "Sales"), Department: "Sales"},
		{Session: sess("b", "Sales"), Department: "Sales"},
	})

	ok := d.Patch("b", func(s *desk.Session) { s.Status = desk.StatusEnded })
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, groupIDs(d.FilteredView("Sales")))
	got, _ := d.Lookup("b")
	assert.Equal(t, desk.StatusEnded, got.Status)

	ok = d.Patch("a", func(s *desk.Session) { s.Department = "Support" })
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, groupIDs(d.FilteredView("Support")))
	assertInvariants(t, d)

	assert.False(t, d.Patch("missing", func(*desk.Session) {}))
}

func TestSingleBucketInvariant_RandomSequences(t *testing.T) {
	depts := []string{"Sales", "Support", "Billing"}
	rng := rand.New(rand.NewSource(42))
	d := New(nil)

	for step := 0; step < 2000; step++ {
		id := fmt.Sprintf("g%d", rng.Intn(12))
		dept := depts[rng.Intn(len(depts))]

		switch rng.Intn(4) {
		case 0:
			n := rng.Intn(6)
			groups := make([]desk.Group, n)
			for i := range groups {
				groups[i] = desk.Group{
					Session:    sess(fmt.Sprintf("g%d", rng.Intn(12)), ""),
					Department: depts[rng.Intn(len(depts))],
				}
			}
			d.Populate(groups)
		case 1, 2:
			d.MoveToTop(sess(id, dept))
		case 3:
			d.Remove(id)
		}

		assertInvariants(t, d)
		names := d.Departments()
		require.Equal(t, All, names[0])
		for _, n := range names[1:] {
			require.NotZero(t, d.Count(n), "listed department %q must be non-empty", n)
		}
	}
}
