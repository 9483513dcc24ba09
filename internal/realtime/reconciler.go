// ABOUTME: Applies inbound realtime events to one console mode's store and directory
// ABOUTME: Owns room join/leave sequencing and the queue-mode refresh debounce

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/messages"
	"github.com/2389/coven-desk/internal/telemetry"
	"github.com/2389/coven-desk/internal/timing"
)

// Mode is a console consumption mode.
type Mode string

const (
	ModeQueue Mode = "queue"
	ModeChat  Mode = "chat"
)

// DefaultQueueDebounce is the trailing window for queue-mode refetches.
const DefaultQueueDebounce = 500 * time.Millisecond

// Notifier receives user-visible reports.
type Notifier interface {
	ReportError(message string)
}

// Options configures a Reconciler.
type Options struct {
	Mode     Mode
	Identity *desk.Identity
	// Debounce applies to group_list_changed in queue mode. Zero selects
	// DefaultQueueDebounce.
	Debounce time.Duration
	Notifier Notifier
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	// OnFocusLost is called when another agent accepts the focused session.
	OnFocusLost func(chatGroupID string)
}

// Reconciler binds one console mode to the shared transport.
type Reconciler struct {
	transport Transport
	store     *messages.Store
	dir       *directory.Directory
	refresher *directory.Refresher
	mode      Mode
	identity  *desk.Identity
	notifier  Notifier
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	debounce  time.Duration

	mu          sync.Mutex
	debouncer   *timing.Debouncer
	room        string
	listenerIDs []string
	onFocusLost func(string)
	attached    bool
}

// NewReconciler creates a detached reconciler. Call Attach to start
// receiving events.
func NewReconciler(transport Transport, store *messages.Store, dir *directory.Directory, refresher *directory.Refresher, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ModeQueue
	}
	r := &Reconciler{
		transport:   transport,
		store:       store,
		dir:         dir,
		refresher:   refresher,
		mode:        opts.Mode,
		identity:    opts.Identity,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "reconciler", "mode", string(opts.Mode)),
		onFocusLost: opts.OnFocusLost,
	}
	if r.mode == ModeQueue {
		r.debounce = opts.Debounce
		if r.debounce <= 0 {
			r.debounce = DefaultQueueDebounce
		}
	}
	return r
}

// Mode returns the consumption mode.
func (r *Reconciler) Mode() Mode { return r.mode }

// SetFocusLostHandler replaces the callback run when another agent takes the
// focused session.
func (r *Reconciler) SetFocusLostHandler(fn func(chatGroupID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFocusLost = fn
}

// Attach registers this mode's listeners on the transport.
func (r *Reconciler) Attach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attached {
		return
	}
	r.attached = true
	if r.debounce > 0 {
		r.debouncer = timing.NewDebouncer(r.debounce, r.refresh)
	}
	r.listenerIDs = []string{
		r.transport.On(EventMessage, r.handleMessage),
		r.transport.On(EventGroupListChanged, r.handleGroupListChanged),
		r.transport.On(EventMoveToTop, r.handleMoveToTop),
		r.transport.On(EventRoomMembership, r.handleMembership),
		r.transport.OnReconnect(r.rejoin),
	}
}

// Detach removes this mode's listeners and cancels pending refetches. The
// connection itself stays open for other modes.
func (r *Reconciler) Detach() {
	r.mu.Lock()
	ids := r.listenerIDs
	r.listenerIDs = nil
	r.attached = false
	debouncer := r.debouncer
	r.mu.Unlock()

	for _, id := range ids {
		r.transport.Off(id)
	}
	if debouncer != nil {
		debouncer.Stop()
	}
}

// Room returns the currently joined room, or "".
func (r *Reconciler) Room() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.room
}

// Focus moves room membership to chatGroupID. The previous room is always
// left before the new one is joined. An empty chatGroupID only leaves.
func (r *Reconciler) Focus(ctx context.Context, chatGroupID string) error {
	r.mu.Lock()
	prev := r.room
	if prev == chatGroupID {
		r.mu.Unlock()
		return nil
	}
	r.room = chatGroupID
	r.mu.Unlock()

	if prev != "" {
		if err := r.transport.Emit(ctx, IntentLeave, r.roomPayload(prev)); err != nil {
			r.logger.Warn("failed to leave room", "room_id", prev, "error", err)
		}
	}
	if chatGroupID == "" {
		return nil
	}
	if err := r.transport.Emit(ctx, IntentJoin, r.roomPayload(chatGroupID)); err != nil {
		r.logger.Error("failed to join room", "room_id", chatGroupID, "error", err)
		return fmt.Errorf("joining room %s: %w", chatGroupID, err)
	}
	r.logger.Debug("joined room", "room_id", chatGroupID, "left", prev)
	return nil
}

// Logout leaves the current room and resets the connection so the next
// session dials with fresh credentials. Listeners are re-registered once the
// reset completes, so the view keeps reconciling on the new connection.
func (r *Reconciler) Logout(ctx context.Context) error {
	if err := r.Focus(ctx, ""); err != nil {
		return err
	}
	r.Detach()
	defer r.Attach()
	if err := r.transport.Reset(ctx); err != nil {
		return fmt.Errorf("resetting transport: %w", err)
	}
	return nil
}

func (r *Reconciler) roomPayload(room string) RoomPayload {
	p := RoomPayload{RoomID: room}
	if r.identity != nil {
		p.UserID = r.identity.UserID
		p.Role = r.identity.Role
	}
	return p
}

func (r *Reconciler) localUserID() string {
	if r.identity == nil {
		return ""
	}
	return r.identity.UserID
}

func (r *Reconciler) rejoin() {
	room := r.Room()
	if room == "" {
		return
	}
	if err := r.transport.Emit(context.Background(), IntentJoin, r.roomPayload(room)); err != nil {
		r.logger.Warn("failed to rejoin room", "room_id", room, "error", err)
		return
	}
	r.logger.Info("rejoined room after reconnect", "room_id", room)
}

func (r *Reconciler) handleMessage(ev Event) {
	e, ok := ev.(MessageEvent)
	if !ok {
		return
	}
	if e.SessionID != r.store.SessionID() {
		return
	}
	if r.store.Contains(e.ID) {
		r.logger.Debug("duplicate message absorbed", "message_id", e.ID)
		r.metrics.DuplicateAbsorbed(context.Background())
		return
	}
	if r.store.Push(e.ToMessage(r.localUserID())) {
		r.metrics.EventApplied(context.Background(), EventMessage)
	}
}

func (r *Reconciler) handleGroupListChanged(Event) {
	r.mu.Lock()
	debouncer := r.debouncer
	r.mu.Unlock()
	if debouncer != nil {
		debouncer.Trigger()
		return
	}
	go r.refresh()
}

func (r *Reconciler) refresh() {
	if r.refresher == nil {
		return
	}
	if _, err := r.refresher.Refresh(context.Background()); err != nil {
		r.logger.Debug("refresh after group change failed", "error", err)
		return
	}
	r.metrics.EventApplied(context.Background(), EventGroupListChanged)
}

// InScope reports whether a session belongs in this mode's directory: queued
// or transferred sessions for the queue, sessions the local agent is working
// for chat.
func (r *Reconciler) InScope(s desk.Session) bool {
	switch r.mode {
	case ModeChat:
		return s.Status == desk.StatusActive && s.AssignedAgentID == r.localUserID()
	default:
		return (s.Status == desk.StatusQueued || s.Status == desk.StatusTransferred) && !s.IsAccepted
	}
}

func (r *Reconciler) handleMoveToTop(ev Event) {
	e, ok := ev.(MoveToTopEvent)
	if !ok {
		return
	}
	if r.InScope(e.Session) {
		r.dir.MoveToTop(e.Session)
	} else if _, removed := r.dir.Remove(e.Session.ChatGroupID); removed {
		r.logger.Debug("session left scope", "chat_group_id", e.Session.ChatGroupID, "status", e.Session.Status)
	}
	r.metrics.EventApplied(context.Background(), EventMoveToTop)
}

func (r *Reconciler) handleMembership(ev Event) {
	e, ok := ev.(RoomMembershipEvent)
	if !ok || e.Action != MembershipAccepted || r.mode != ModeQueue {
		return
	}

	r.dir.Remove(e.RoomID)
	r.metrics.EventApplied(context.Background(), EventRoomMembership)

	if e.UserID == r.localUserID() {
		return
	}
	r.mu.Lock()
	focused := r.room == e.RoomID
	lost := r.onFocusLost
	r.mu.Unlock()
	if !focused {
		return
	}

	r.logger.Info("focused session accepted by another agent", "chat_group_id", e.RoomID, "agent_id", e.UserID)
	if r.notifier != nil {
		r.notifier.ReportError("This chat was accepted by another agent")
	}
	if lost != nil {
		lost(e.RoomID)
	}
}
