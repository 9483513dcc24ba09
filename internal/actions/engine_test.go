// ABOUTME: Tests for agent actions against fake backend, rooms and transport
// ABOUTME: Covers capability gating, fire-once accept, end chat archive, and transfer rules

package actions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/api"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/messages"
	"github.com/2389/coven-desk/internal/notify"
	"github.com/2389/coven-desk/internal/realtime"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	pages map[string][]desk.Message
}

func (f *fakeSource) FetchMessages(_ context.Context, sessionID string, _ *time.Time, _ int) ([]desk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pages[sessionID], nil
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRooms struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeRooms) Focus(_ context.Context, chatGroupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, chatGroupID)
	return nil
}

func (r *fakeRooms) focused() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeBackend struct {
	acceptCalls   atomic.Int32
	transferCalls atomic.Int32
	acceptGate    chan struct{}
	acceptResult  api.AcceptResult
	acceptErr     error
	transferErr   error
	departments   []desk.Department
	deptErr       error
}

func (b *fakeBackend) AcceptSession(ctx context.Context, chatGroupID string) (api.AcceptResult, error) {
	b.acceptCalls.Add(1)
	if b.acceptGate != nil {
		<-b.acceptGate
	}
	return b.acceptResult, b.acceptErr
}

func (b *fakeBackend) TransferSession(ctx context.Context, chatGroupID, targetDeptID string) error {
	b.transferCalls.Add(1)
	return b.transferErr
}

func (b *fakeBackend) ListDepartments(ctx context.Context) ([]desk.Department, error) {
	return b.departments, b.deptErr
}

type harness struct {
	engine  *Engine
	store   *messages.Store
	dir     *directory.Directory
	tr      *realtime.Memory
	rooms   *fakeRooms
	backend *fakeBackend
	source  *fakeSource
	notes   *notify.Recorder
}

func newHarness(t *testing.T, caps ...desk.Capability) *harness {
	t.Helper()
	if caps == nil {
		caps = desk.AllCapabilities
	}
	h := &harness{
		dir:   directory.New(nil),
		tr:    realtime.NewMemory(),
		rooms: &fakeRooms{},
		backend: &fakeBackend{
			acceptResult: api.AcceptResult{Success: true, AssignedAgentID: "a1"},
			departments: []desk.Department{
				{DeptID: "d-sales", Name: "Sales", IsActive: true},
				{DeptID: "d-support", Name: "Support", IsActive: true},
				{DeptID: "d-legacy", Name: "Legacy", IsActive: false},
			},
		},
		source: &fakeSource{pages: map[string][]desk.Message{}},
		notes:  &notify.Recorder{},
	}
	h.store = messages.New(h.source, h.notes, 10, nil)
	h.engine = New(h.store, h.dir, h.tr, h.rooms, h.backend, Options{
		Identity:     &desk.Identity{UserID: "a1", Role: "agent", Capabilities: caps},
		Notifier:     h.notes,
		EndChatDelay: 20 * time.Millisecond,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func queuedSession(id, dept, deptID string) desk.Session {
	return desk.Session{
		SessionID:   "s-" + id,
		ChatGroupID: id,
		Department:  dept,
		DeptID:      deptID,
		Status:      desk.StatusQueued,
	}
}

func activeSession(id, dept, deptID string) desk.Session {
	s := queuedSession(id, dept, deptID)
	s.Status = desk.StatusActive
	s.IsAccepted = true
	s.AssignedAgentID = "a1"
	return s
}

func TestSelect_ResetsAndLoads(t *testing.T) {
	h := newHarness(t)
	h.source.pages["s-g1"] = []desk.Message{
		{ID: "m1", SessionID: "s-g1", ServerTimestamp: t0},
		{ID: "m2", SessionID: "s-g1", ServerTimestamp: t0.Add(time.Minute)},
	}

	snap, err := h.engine.Select(context.Background(), queuedSession("g1", "Sales", "d-sales"))
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2)
	assert.False(t, snap.HasMore)
	assert.Equal(t, []string{"g1"}, h.rooms.focused())

	focused, ok := h.engine.Focused()
	require.True(t, ok)
	assert.Equal(t, "g1", focused.ChatGroupID)
	assert.False(t, h.engine.ChatEnded())
}

func TestCapabilityGating_NoMutationsNoEmits(t *testing.T) {
	h := newHarness(t, desk.Capability("nothing"))
	ctx := context.Background()
	s := queuedSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})
	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)
	before := h.store.Snapshot()
	emitsBefore := len(h.tr.Emitted())

	_, err = h.engine.Accept(ctx, s)
	assert.ErrorIs(t, err, desk.ErrDenied)
	assert.ErrorIs(t, h.engine.Send(ctx, "hello"), desk.ErrDenied)
	assert.ErrorIs(t, h.engine.EndChat(ctx), desk.ErrDenied)
	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-support"), desk.ErrDenied)

	assert.Equal(t, int32(0), h.backend.acceptCalls.Load())
	assert.Equal(t, int32(0), h.backend.transferCalls.Load())
	assert.Len(t, h.tr.Emitted(), emitsBefore)
	assert.Equal(t, before, h.store.Snapshot())
	assert.Equal(t, 1, h.dir.Count(directory.All))
	assert.Equal(t, 0, h.engine.Ended().Len())
	assert.Len(t, h.notes.Errors(), 4)
}

func TestAccept_Success(t *testing.T) {
	h := newHarness(t)
	s := queuedSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})

	accepted, err := h.engine.Accept(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, accepted.IsAccepted)
	assert.Equal(t, desk.StatusActive, accepted.Status)
	assert.Equal(t, "a1", accepted.AssignedAgentID)
	assert.Equal(t, 0, h.dir.Count(directory.All))
	assert.Equal(t, []string{realtime.IntentAccept}, h.tr.EmittedNames())
}

func TestAccept_TwiceInRapidSuccessionFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.backend.acceptGate = make(chan struct{})
	s := queuedSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})

	firstDone := make(chan error, 1)
	go func() {
		_, err := h.engine.Accept(context.Background(), s)
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return h.backend.acceptCalls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := h.engine.Accept(context.Background(), s)
	assert.ErrorIs(t, err, desk.ErrInFlight)

	close(h.backend.acceptGate)
	require.NoError(t, <-firstDone)
	assert.Equal(t, int32(1), h.backend.acceptCalls.Load())

	// Still claimed after success: a stale row click does not re-fire.
	_, err = h.engine.Accept(context.Background(), s)
	assert.ErrorIs(t, err, desk.ErrInFlight)
	assert.Equal(t, int32(1), h.backend.acceptCalls.Load())
}

func TestAccept_FailureLeavesStateAndReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.backend.acceptErr = errors.New("connection refused")
	s := queuedSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})

	_, err := h.engine.Accept(context.Background(), s)
	assert.ErrorIs(t, err, desk.ErrNetwork)
	assert.Equal(t, 1, h.dir.Count(directory.All))
	assert.Empty(t, h.tr.Emitted())

	h.backend.acceptErr = nil
	_, err = h.engine.Accept(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.backend.acceptCalls.Load())
}

func TestAccept_RejectedByServer(t *testing.T) {
	h := newHarness(t)
	h.backend.acceptResult = api.AcceptResult{Success: false, Message: "already taken"}
	s := queuedSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})

	_, err := h.engine.Accept(context.Background(), s)
	assert.ErrorIs(t, err, desk.ErrDenied)
	assert.Equal(t, 1, h.dir.Count(directory.All))

	h.backend.acceptErr = &api.StatusError{Code: 409}
	h.backend.acceptResult = api.AcceptResult{}
	_, err = h.engine.Accept(context.Background(), s)
	assert.ErrorIs(t, err, desk.ErrDenied)
}

func TestAccept_NotQueued(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Accept(context.Background(), activeSession("g1", "Sales", "d-sales"))
	assert.ErrorIs(t, err, desk.ErrNotQueued)
	assert.Equal(t, int32(0), h.backend.acceptCalls.Load())
}

func TestAccept_TransferredSessionIsWaiting(t *testing.T) {
	h := newHarness(t)
	s := queuedSession("g1", "Support", "d-support")
	s.Status = desk.StatusTransferred
	h.dir.Populate([]desk.Group{{Session: s, Department: "Support"}})

	got, err := h.engine.Accept(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, desk.StatusActive, got.Status)
	assert.Equal(t, int32(1), h.backend.acceptCalls.Load())
}

func TestAccept_EndedSessionIsNotWaiting(t *testing.T) {
	h := newHarness(t)
	s := queuedSession("g1", "Sales", "d-sales")
	s.Status = desk.StatusEnded

	_, err := h.engine.Accept(context.Background(), s)
	assert.ErrorIs(t, err, desk.ErrNotQueued)
	assert.Equal(t, int32(0), h.backend.acceptCalls.Load())
}

func TestSend_EmitsWithoutLocalAppend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.engine.Send(ctx, "   "), desk.ErrEmptyBody)
	assert.ErrorIs(t, h.engine.Send(ctx, "hi"), desk.ErrNoFocus)

	_, err := h.engine.Select(ctx, activeSession("g1", "Sales", "d-sales"))
	require.NoError(t, err)
	require.NoError(t, h.engine.Send(ctx, "  hello there \n"))

	assert.Empty(t, h.store.Messages())
	emitted := h.tr.Emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, realtime.IntentSend, emitted[0].Name)
	assert.JSONEq(t, `{"room_id":"g1","session_id":"s-g1","body":"hello there"}`, string(emitted[0].Payload))
}

func TestSend_TransportFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.Select(ctx, activeSession("g1", "Sales", "d-sales"))
	require.NoError(t, err)

	h.tr.FailEmits(desk.ErrNotConnected)
	assert.ErrorIs(t, h.engine.Send(ctx, "hello"), desk.ErrNotConnected)
	assert.Equal(t, []string{"Failed to send message"}, h.notes.Errors())
}

func TestEndChat_ArchivesAndClearsAfterDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := activeSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})
	h.source.pages["s-g1"] = []desk.Message{{ID: "m1", SessionID: "s-g1", ServerTimestamp: t0}}

	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)
	require.NoError(t, h.engine.EndChat(ctx))
	require.NoError(t, h.engine.EndChat(ctx))

	msgs := h.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, desk.SenderSystem, msgs[1].SenderCategory)
	assert.True(t, h.engine.ChatEnded())
	assert.Empty(t, h.tr.Emitted())

	// Ending archives the session; it stays listed in the chat directory.
	listed, ok := h.dir.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, desk.StatusEnded, listed.Status)
	assert.Equal(t, 1, h.dir.Count(directory.All))

	archive, ok := h.engine.Ended().Lookup("s-g1")
	require.True(t, ok)
	assert.Equal(t, desk.StatusEnded, archive.Session.Status)
	assert.Len(t, archive.Transcript, 2)

	assert.ErrorIs(t, h.engine.Send(ctx, "still there?"), desk.ErrDenied)

	assert.Eventually(t, func() bool {
		_, focused := h.engine.Focused()
		return !focused
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.engine.ChatEnded())
}

func TestEndChat_RequiresActiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := queuedSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})

	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)

	assert.ErrorIs(t, h.engine.EndChat(ctx), desk.ErrDenied)
	assert.False(t, h.engine.ChatEnded())
	assert.Equal(t, 0, h.engine.Ended().Len())
	assert.Empty(t, h.store.Messages())
	assert.Equal(t, []string{"Only active chats can be ended"}, h.notes.Errors())

	listed, ok := h.dir.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, desk.StatusQueued, listed.Status)
}

func TestSelect_ArchivedSessionSkipsFetch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := activeSession("g1", "Sales", "d-sales")
	h.source.pages["s-g1"] = []desk.Message{{ID: "m1", SessionID: "s-g1", ServerTimestamp: t0}}

	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)
	require.NoError(t, h.engine.EndChat(ctx))
	fetches := h.source.count()

	other := activeSession("g2", "Sales", "d-sales")
	_, err = h.engine.Select(ctx, other)
	require.NoError(t, err)
	assert.False(t, h.engine.ChatEnded())

	snap, err := h.engine.Select(ctx, s)
	require.NoError(t, err)
	assert.True(t, h.engine.ChatEnded())
	assert.Len(t, snap.Messages, 2)
	assert.False(t, snap.HasMore)
	assert.Equal(t, fetches+1, h.source.count())

	// The pending clear from EndChat was canceled by the later Select.
	time.Sleep(40 * time.Millisecond)
	_, focused := h.engine.Focused()
	assert.True(t, focused)
}

func TestTransfer_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := activeSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})
	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)

	require.NoError(t, h.engine.Transfer(ctx, "d-support"))

	assert.Equal(t, int32(1), h.backend.transferCalls.Load())
	assert.Equal(t, 0, h.dir.Count(directory.All))
	_, focused := h.engine.Focused()
	assert.False(t, focused)
	assert.Equal(t, []string{realtime.IntentTransfer}, h.tr.EmittedNames())
	assert.Equal(t, []string{"g1", ""}, h.rooms.focused())
}

func TestTransfer_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := activeSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})

	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-support"), desk.ErrNoFocus)

	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)

	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-sales"), desk.ErrSameDepartment)
	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-nowhere"), desk.ErrUnknownDepartment)
	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-legacy"), desk.ErrDenied)
	assert.Equal(t, int32(0), h.backend.transferCalls.Load())

	// An inactive department that still has routed sessions is allowed.
	h.dir.MoveToTop(queuedSession("g9", "Legacy", "d-legacy"))
	require.NoError(t, h.engine.Transfer(ctx, "d-legacy"))
}

func TestTransfer_FailureLeavesSessionInPlace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := activeSession("g1", "Sales", "d-sales")
	h.dir.Populate([]desk.Group{{Session: s, Department: "Sales"}})
	_, err := h.engine.Select(ctx, s)
	require.NoError(t, err)

	h.backend.transferErr = errors.New("boom")
	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-support"), desk.ErrNetwork)

	got, ok := h.dir.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, "Sales", got.Department)
	focused, ok := h.engine.Focused()
	require.True(t, ok)
	assert.Equal(t, "g1", focused.ChatGroupID)
	assert.Empty(t, h.tr.Emitted())

	h.backend.deptErr = errors.New("catalog down")
	assert.ErrorIs(t, h.engine.Transfer(ctx, "d-support"), desk.ErrNetwork)
}

func TestEndedRegistry_CopiesTranscript(t *testing.T) {
	r := NewEndedRegistry()
	transcript := []desk.Message{{ID: "m1"}}
	r.Archive(desk.Session{SessionID: "s1"}, transcript, t0)
	transcript[0].ID = "mutated"

	a, ok := r.Lookup("s1")
	require.True(t, ok)
	assert.Equal(t, "m1", a.Transcript[0].ID)
	a.Transcript[0].ID = "again"

	b, _ := r.Lookup("s1")
	assert.Equal(t, "m1", b.Transcript[0].ID)
	assert.Equal(t, 1, r.Len())
}
