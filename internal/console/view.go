// ABOUTME: Queue and Chat views composing directory, message store, reconciler and actions
// ABOUTME: Both views share one transport; each registers and removes its own listeners

package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-desk/internal/actions"
	"github.com/2389/coven-desk/internal/api"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/directory"
	"github.com/2389/coven-desk/internal/messages"
	"github.com/2389/coven-desk/internal/notify"
	"github.com/2389/coven-desk/internal/realtime"
	"github.com/2389/coven-desk/internal/telemetry"
)

// Backend is the REST surface a view needs.
type Backend interface {
	actions.Backend
	messages.Source
	FetchGroups(ctx context.Context, scope api.Scope) ([]desk.Group, error)
}

// Deps are the collaborators shared by every view.
type Deps struct {
	Backend   Backend
	Transport realtime.Transport
	Identity  *desk.Identity
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	// Ended is shared so an archive made in one view is visible in the other.
	Ended  *actions.EndedRegistry
	Logger *slog.Logger

	PageSize        int
	QueueDebounce   time.Duration
	RefreshCooldown time.Duration
	EndChatDelay    time.Duration
	AcceptGuardTTL  time.Duration
}

// View is one consumption mode over the shared transport.
type View struct {
	mode       realtime.Mode
	dir        *directory.Directory
	store      *messages.Store
	refresher  *directory.Refresher
	reconciler *realtime.Reconciler
	engine     *actions.Engine
	logger     *slog.Logger

	mu         sync.Mutex
	department string
}

// NewQueueView builds the view of waiting sessions.
func NewQueueView(deps Deps) *View {
	return newView(realtime.ModeQueue, api.ScopeQueue, deps)
}

// NewChatView builds the view of the agent's active sessions.
func NewChatView(deps Deps) *View {
	return newView(realtime.ModeChat, api.ScopeChat, deps)
}

func newView(mode realtime.Mode, scope api.Scope, deps Deps) *View {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("view", string(mode))

	dir := directory.New(logger)
	store := messages.New(deps.Backend, deps.Notifier, deps.PageSize, logger)
	fetch := func(ctx context.Context) ([]desk.Group, error) {
		return deps.Backend.FetchGroups(ctx, scope)
	}
	refresher := directory.NewRefresher(dir, fetch, deps.RefreshCooldown, deps.Notifier, deps.Metrics, logger)

	rec := realtime.NewReconciler(deps.Transport, store, dir, refresher, realtime.Options{
		Mode:     mode,
		Identity: deps.Identity,
		Debounce: deps.QueueDebounce,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
		Logger:   logger,
	})
	engine := actions.New(store, dir, deps.Transport, rec, deps.Backend, actions.Options{
		Identity:     deps.Identity,
		Notifier:     deps.Notifier,
		EndChatDelay: deps.EndChatDelay,
		GuardTTL:     deps.AcceptGuardTTL,
		Ended:        deps.Ended,
		Logger:       logger,
	})
	rec.SetFocusLostHandler(engine.ClearFocus)
	rec.Attach()

	return &View{
		mode:       mode,
		dir:        dir,
		store:      store,
		refresher:  refresher,
		reconciler: rec,
		engine:     engine,
		logger:     logger.With("component", "view"),
		department: directory.All,
	}
}

// Mode returns the view's consumption mode.
func (v *View) Mode() realtime.Mode { return v.mode }

// Refresh repopulates the directory, subject to the refresh cooldown.
func (v *View) Refresh(ctx context.Context) error {
	_, err := v.refresher.Refresh(ctx)
	return err
}

// Departments returns All followed by every non-empty department.
func (v *View) Departments() []string {
	return v.dir.Departments()
}

// SelectDepartment sets the list filter. A name with no sessions falls back
// to All; the effective filter is returned.
func (v *View) SelectDepartment(name string) string {
	effective := v.dir.Normalize(name)
	v.mu.Lock()
	v.department = effective
	v.mu.Unlock()
	return effective
}

// Department returns the effective filter. A filter whose bucket emptied
// since it was chosen resets to All.
func (v *View) Department() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.department = v.dir.Normalize(v.department)
	return v.department
}

// Sessions returns the filtered list.
func (v *View) Sessions() []desk.Session {
	return v.dir.FilteredView(v.Department())
}

// SessionAt returns the i-th row of the filtered list (zero-based).
func (v *View) SessionAt(i int) (desk.Session, error) {
	sessions := v.Sessions()
	if i < 0 || i >= len(sessions) {
		return desk.Session{}, fmt.Errorf("no session at position %d", i+1)
	}
	return sessions[i], nil
}

// Select focuses a session.
func (v *View) Select(ctx context.Context, s desk.Session) (messages.Snapshot, error) {
	return v.engine.Select(ctx, s)
}

// Messages returns the focused session's window.
func (v *View) Messages() []desk.Message {
	return v.store.Messages()
}

// HasMore reports whether older history may exist for the focused session.
func (v *View) HasMore() bool {
	return v.store.HasMore()
}

// LoadMore fetches older history.
func (v *View) LoadMore(ctx context.Context) (messages.Snapshot, error) {
	return v.engine.LoadMore(ctx)
}

// Focused returns the focused session.
func (v *View) Focused() (desk.Session, bool) {
	return v.engine.Focused()
}

// ChatEnded reports whether the focused session has ended.
func (v *View) ChatEnded() bool {
	return v.engine.ChatEnded()
}

// Accept accepts s, or the focused session when s is nil.
func (v *View) Accept(ctx context.Context, s *desk.Session) (desk.Session, error) {
	if s == nil {
		focused, ok := v.engine.Focused()
		if !ok {
			return desk.Session{}, desk.ErrNoFocus
		}
		s = &focused
	}
	return v.engine.Accept(ctx, *s)
}

// Send sends body to the focused session.
func (v *View) Send(ctx context.Context, body string) error {
	return v.engine.Send(ctx, body)
}

// EndChat ends the focused session.
func (v *View) EndChat(ctx context.Context) error {
	return v.engine.EndChat(ctx)
}

// Transfer moves the focused session to another department.
func (v *View) Transfer(ctx context.Context, targetDeptID string) error {
	return v.engine.Transfer(ctx, targetDeptID)
}

// Leave drops focus and leaves the joined room without touching listeners.
func (v *View) Leave() {
	v.engine.ClearFocus("")
}

// Logout leaves the room and resets the shared connection.
func (v *View) Logout(ctx context.Context) error {
	v.engine.ClearFocus("")
	return v.reconciler.Logout(ctx)
}

// Close removes this view's listeners and stops its timers. The transport
// stays open.
func (v *View) Close() {
	v.engine.ClearFocus("")
	v.reconciler.Detach()
	v.refresher.Close()
	v.engine.Close()
	v.logger.Debug("view closed")
}
