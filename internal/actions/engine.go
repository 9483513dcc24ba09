// ABOUTME: Select, accept, send, end and transfer operations on the focused session
// ABOUTME: Every mutating operation is capability-gated before any network call

package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-desk/internal/api"
	"github.com/2389/coven-desk/internal/dedupe"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/messages"
	"github.com/2389/coven-desk/internal/notify"
	"github.com/2389/coven-desk/internal/realtime"
	"github.com/2389/coven-desk/internal/timing"
)

const (
	// DefaultEndChatDelay keeps the ended banner visible before focus clears.
	DefaultEndChatDelay = 3 * time.Second
	// DefaultGuardTTL bounds how long an accept or transfer claim is held.
	DefaultGuardTTL = time.Minute

	endedNotice = "Chat has ended"
)

// Emitter sends realtime intents.
type Emitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// Rooms moves realtime room membership with focus.
type Rooms interface {
	Focus(ctx context.Context, chatGroupID string) error
}

// Backend is the REST surface the engine needs.
type Backend interface {
	AcceptSession(ctx context.Context, chatGroupID string) (api.AcceptResult, error)
	TransferSession(ctx context.Context, chatGroupID, targetDeptID string) error
	ListDepartments(ctx context.Context) ([]desk.Department, error)
}

// Permissions answers capability checks.
type Permissions interface {
	HasCapability(c desk.Capability) bool
}

// Options configures an Engine.
type Options struct {
	Identity     *desk.Identity
	Permissions  Permissions
	Notifier     notify.Notifier
	EndChatDelay time.Duration
	GuardTTL     time.Duration
	Ended        *EndedRegistry
	Logger       *slog.Logger
}

// Engine runs agent actions against one console mode's store and directory.
type Engine struct {
	store    *messages.Store
	dir      *directory.Directory
	emitter  Emitter
	rooms    Rooms
	backend  Backend
	identity *desk.Identity
	perms    Permissions
	notifier notify.Notifier
	ended    *EndedRegistry
	guard    *dedupe.Cache
	delay    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	clear timing.Task

	mu        sync.Mutex
	focused   *desk.Session
	chatEnded bool
}

// New creates an engine. Identity doubles as Permissions when none is given.
func New(store *messages.Store, dir *directory.Directory, emitter Emitter, rooms Rooms, backend Backend, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	perms := opts.Permissions
	if perms == nil {
		perms = opts.Identity
	}
	delay := opts.EndChatDelay
	if delay <= 0 {
		delay = DefaultEndChatDelay
	}
	ttl := opts.GuardTTL
	if ttl <= 0 {
		ttl = DefaultGuardTTL
	}
	ended := opts.Ended
	if ended == nil {
		ended = NewEndedRegistry()
	}
	return &Engine{
		store:    store,
		dir:      dir,
		emitter:  emitter,
		rooms:    rooms,
		backend:  backend,
		identity: opts.Identity,
		perms:    perms,
		notifier: opts.Notifier,
		ended:    ended,
		guard:    dedupe.New(ttl, 1024),
		delay:    delay,
		logger:   logger.With("component", "actions"),
		now:      time.Now,
	}
}

// Close cancels the pending focus clear and releases the claim cache.
func (e *Engine) Close() {
	e.clear.Cancel()
	e.guard.Close()
}

// Focused returns the focused session.
func (e *Engine) Focused() (desk.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.focused == nil {
		return desk.Session{}, false
	}
	return *e.focused, true
}

// ChatEnded reports whether the focused session has ended.
func (e *Engine) ChatEnded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chatEnded
}

// Ended returns the ended-session registry.
func (e *Engine) Ended() *EndedRegistry { return e.ended }

func (e *Engine) localUserID() string {
	if e.identity == nil {
		return ""
	}
	return e.identity.UserID
}

func (e *Engine) can(c desk.Capability) bool {
	return e.perms != nil && e.perms.HasCapability(c)
}

func (e *Engine) report(msg string) {
	if e.notifier != nil {
		e.notifier.ReportError(msg)
	}
}

func (e *Engine) success(msg string) {
	if e.notifier != nil {
		e.notifier.ReportSuccess(msg)
	}
}

func (e *Engine) deny(c desk.Capability, action string) error {
	e.logger.Debug("action denied", "capability", c, "action", action)
	e.report("You do not have permission to " + action)
	return fmt.Errorf("%w: %s requires %s", desk.ErrDenied, action, c)
}

// Select focuses s and loads its newest page. An archived session shows its
// transcript and sets the ended flag without fetching.
func (e *Engine) Select(ctx context.Context, s desk.Session) (messages.Snapshot, error) {
	e.clear.Cancel()

	if archive, ok := e.ended.Lookup(s.SessionID); ok {
		e.mu.Lock()
		sess := archive.Session
		e.focused = &sess
		e.chatEnded = true
		e.mu.Unlock()

		e.store.Seed(s.SessionID, archive.Transcript)
		if err := e.rooms.Focus(ctx, ""); err != nil {
			e.logger.Warn("failed to leave room", "error", err)
		}
		return e.store.Snapshot(), nil
	}

	e.mu.Lock()
	sess := s
	e.focused = &sess
	e.chatEnded = false
	e.mu.Unlock()

	e.store.Reset(s.SessionID)
	if err := e.rooms.Focus(ctx, s.ChatGroupID); err != nil {
		e.report("Failed to join chat")
	}
	return e.store.Load(ctx, s.SessionID, nil, false)
}

// LoadMore fetches the next older page for the focused session.
func (e *Engine) LoadMore(ctx context.Context) (messages.Snapshot, error) {
	if _, ok := e.Focused(); !ok {
		return e.store.Snapshot(), desk.ErrNoFocus
	}
	if e.store.LoadingMore() {
		return e.store.Snapshot(), nil
	}
	return e.store.LoadMore(ctx)
}

// ClearFocus drops focus if chatGroupID is focused. An empty chatGroupID
// clears unconditionally.
func (e *Engine) ClearFocus(chatGroupID string) {
	e.mu.Lock()
	if e.focused == nil || (chatGroupID != "" && e.focused.ChatGroupID != chatGroupID) {
		e.mu.Unlock()
		return
	}
	e.focused = nil
	e.chatEnded = false
	e.mu.Unlock()

	e.clear.Cancel()
	e.store.Reset("")
	if err := e.rooms.Focus(context.Background(), ""); err != nil {
		e.logger.Warn("failed to leave room", "error", err)
	}
}

// waiting reports whether s sits in a queue. A transferred session waits in
// its new department's queue until someone accepts it.
func waiting(s desk.Session) bool {
	if s.IsAccepted {
		return false
	}
	return s.Status == desk.StatusQueued || s.Status == desk.StatusTransferred
}

// Accept claims a queued session. The claim is recorded before the request
// so repeated accepts for the same session fire once; a failed request
// releases it and leaves local state untouched.
func (e *Engine) Accept(ctx context.Context, s desk.Session) (desk.Session, error) {
	if !e.can(desk.CapAcceptChat) {
		return s, e.deny(desk.CapAcceptChat, "accept chats")
	}
	if !waiting(s) {
		e.report("This chat is no longer waiting")
		return s, fmt.Errorf("%w: session %s is %s", desk.ErrNotQueued, s.SessionID, s.Status)
	}
	if !e.guard.Claim(s.ChatGroupID) {
		e.logger.Debug("accept already in flight", "chat_group_id", s.ChatGroupID)
		return s, fmt.Errorf("%w: accept %s", desk.ErrInFlight, s.ChatGroupID)
	}

	res, err := e.backend.AcceptSession(ctx, s.ChatGroupID)
	if err != nil || !res.Success {
		e.guard.Release(s.ChatGroupID)
		var se *api.StatusError
		switch {
		case err == nil:
			e.logger.Info("accept rejected", "chat_group_id", s.ChatGroupID, "message", res.Message)
			e.report("Failed to accept chat")
			return s, fmt.Errorf("%w: accept rejected: %s", desk.ErrDenied, res.Message)
		case errors.As(err, &se) && se.Code < 500:
			e.logger.Info("accept refused", "chat_group_id", s.ChatGroupID, "status", se.Code)
			e.report("Failed to accept chat")
			return s, fmt.Errorf("%w: %v", desk.ErrDenied, err)
		default:
			e.logger.Error("accept failed", "chat_group_id", s.ChatGroupID, "error", err)
			e.report("Failed to accept chat")
			return s, fmt.Errorf("%w: %v", desk.ErrNetwork, err)
		}
	}

	accepted := s
	accepted.IsAccepted = true
	accepted.Status = desk.StatusActive
	accepted.AssignedAgentID = res.AssignedAgentID
	if accepted.AssignedAgentID == "" {
		accepted.AssignedAgentID = e.localUserID()
	}

	e.dir.Remove(s.ChatGroupID)
	e.mu.Lock()
	if e.focused != nil && e.focused.ChatGroupID == s.ChatGroupID {
		e.focused = &accepted
	}
	e.mu.Unlock()

	if err := e.emitter.Emit(ctx, realtime.IntentAccept, realtime.AcceptPayload{
		RoomID:  s.ChatGroupID,
		AgentID: accepted.AssignedAgentID,
	}); err != nil {
		e.logger.Warn("failed to broadcast accept", "chat_group_id", s.ChatGroupID, "error", err)
	}

	e.logger.Info("session accepted", "session_id", s.SessionID, "chat_group_id", s.ChatGroupID)
	e.success("Chat accepted")
	return accepted, nil
}

// Send emits a message for the focused session. It never appends locally;
// the broadcast echo is the single path into the store.
func (e *Engine) Send(ctx context.Context, body string) error {
	if !e.can(desk.CapSendMessage) {
		return e.deny(desk.CapSendMessage, "send messages")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return desk.ErrEmptyBody
	}

	e.mu.Lock()
	focused := e.focused
	ended := e.chatEnded
	e.mu.Unlock()
	if focused == nil {
		return desk.ErrNoFocus
	}
	if ended {
		e.report("This chat has ended")
		return fmt.Errorf("%w: session %s has ended", desk.ErrDenied, focused.SessionID)
	}

	err := e.emitter.Emit(ctx, realtime.IntentSend, realtime.SendPayload{
		RoomID:    focused.ChatGroupID,
		SessionID: focused.SessionID,
		Body:      body,
	})
	if err != nil {
		e.logger.Error("failed to send message", "session_id", focused.SessionID, "error", err)
		e.report("Failed to send message")
		if errors.Is(err, desk.ErrNotConnected) || errors.Is(err, desk.ErrNetwork) {
			return err
		}
		return fmt.Errorf("%w: %v", desk.ErrNetwork, err)
	}
	return nil
}

// EndChat ends the focused active session: it appends a local system
// notice, archives the transcript, marks the listed session ended, and clears
// focus after the configured delay.
func (e *Engine) EndChat(ctx context.Context) error {
	if !e.can(desk.CapEndChat) {
		return e.deny(desk.CapEndChat, "end chats")
	}

	e.mu.Lock()
	if e.focused == nil {
		e.mu.Unlock()
		return desk.ErrNoFocus
	}
	if e.chatEnded {
		e.mu.Unlock()
		return nil
	}
	if !desk.CanTransition(e.focused.Status, desk.StatusEnded) {
		focused := *e.focused
		e.mu.Unlock()
		e.report("Only active chats can be ended")
		return fmt.Errorf("%w: session %s is %s", desk.ErrDenied, focused.SessionID, focused.Status)
	}
	ended := *e.focused
	ended.Status = desk.StatusEnded
	e.focused = &ended
	e.chatEnded = true
	e.mu.Unlock()

	now := e.now()
	notice := desk.Message{
		ID:              uuid.New().String(),
		SessionID:       ended.SessionID,
		SenderRole:      desk.RoleSystem,
		SenderCategory:  desk.SenderSystem,
		Body:            endedNotice,
		ServerTimestamp: now,
		DisplayTime:     desk.DisplayTime(now),
	}
	e.store.Push(notice)
	e.ended.Archive(ended, e.store.Messages(), now)
	// Ended chats stay listed; the archive serves their history.
	e.dir.Patch(ended.ChatGroupID, func(s *desk.Session) { s.Status = desk.StatusEnded })

	e.logger.Info("chat ended", "session_id", ended.SessionID, "clear_in", e.delay)
	e.clear.Schedule(e.delay, func() {
		e.ClearFocus(ended.ChatGroupID)
	})
	return nil
}

// Transfer routes the focused session to targetDeptID. The target must
// exist, differ from the current department, and be active unless sessions
// are already routed to it. On failure nothing moves.
func (e *Engine) Transfer(ctx context.Context, targetDeptID string) error {
	if !e.can(desk.CapTransferChat) {
		return e.deny(desk.CapTransferChat, "transfer chats")
	}

	e.mu.Lock()
	focused := e.focused
	e.mu.Unlock()
	if focused == nil {
		return desk.ErrNoFocus
	}
	if !desk.CanTransition(focused.Status, desk.StatusQueued) {
		e.report("This chat can no longer be transferred")
		return fmt.Errorf("%w: session %s is %s", desk.ErrDenied, focused.SessionID, focused.Status)
	}

	target, err := e.resolveDepartment(ctx, targetDeptID)
	if err != nil {
		return err
	}
	if target.DeptID == focused.DeptID || target.Name == focused.Department {
		e.report("Chat is already in " + target.Name)
		return fmt.Errorf("%w: %s", desk.ErrSameDepartment, target.Name)
	}
	if !target.IsActive && e.dir.Count(target.Name) == 0 {
		e.report(target.Name + " is not accepting transfers")
		return fmt.Errorf("%w: department %s is inactive", desk.ErrDenied, target.Name)
	}

	key := "transfer:" + focused.ChatGroupID
	if !e.guard.Claim(key) {
		return fmt.Errorf("%w: transfer %s", desk.ErrInFlight, focused.ChatGroupID)
	}
	defer e.guard.Release(key)

	if err := e.backend.TransferSession(ctx, focused.ChatGroupID, target.DeptID); err != nil {
		e.logger.Error("transfer failed", "chat_group_id", focused.ChatGroupID, "target", target.DeptID, "error", err)
		e.report("Failed to transfer chat")
		return fmt.Errorf("%w: %v", desk.ErrNetwork, err)
	}

	e.dir.Remove(focused.ChatGroupID)
	if err := e.emitter.Emit(ctx, realtime.IntentTransfer, realtime.TransferPayload{
		RoomID:       focused.ChatGroupID,
		TargetDeptID: target.DeptID,
	}); err != nil {
		e.logger.Warn("failed to broadcast transfer", "chat_group_id", focused.ChatGroupID, "error", err)
	}
	e.ClearFocus(focused.ChatGroupID)

	e.logger.Info("session transferred", "session_id", focused.SessionID, "from", focused.Department, "to", target.Name)
	e.success("Chat transferred to " + target.Name)
	return nil
}

func (e *Engine) resolveDepartment(ctx context.Context, deptID string) (desk.Department, error) {
	depts, err := e.backend.ListDepartments(ctx)
	if err != nil {
		e.logger.Error("failed to load departments", "error", err)
		e.report("Failed to load departments")
		return desk.Department{}, fmt.Errorf("%w: %v", desk.ErrNetwork, err)
	}
	for _, d := range depts {
		if d.DeptID == deptID {
			return d, nil
		}
	}
	e.report("Unknown department")
	return desk.Department{}, fmt.Errorf("%w: %s", desk.ErrUnknownDepartment, deptID)
}
