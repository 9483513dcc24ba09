// ABOUTME: Wires config, logging, metrics, the REST client, the shared transport and both views
// ABOUTME: Prints live messages for the focused session of the active view

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/2389/coven-desk/internal/actions"
	"github.com/2389/coven-desk/internal/api"
	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/config"
	"github.com/2389/coven-desk/internal/console"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/logging"
	"github.com/2389/coven-desk/internal/notify"
	"github.com/2389/coven-desk/internal/realtime"
	"github.com/2389/coven-desk/internal/telemetry"
)

// app holds everything one console session needs.
type app struct {
	cfg      *config.Config
	identity *desk.Identity
	client   *api.Client
	conn     *realtime.Conn
	queue    *console.View
	chat     *console.View
	logger   *slog.Logger
	out      io.Writer

	closers []func(context.Context) error

	mu      sync.Mutex
	active  *console.View
	printed map[string]struct{}
}

// newApp connects to the backend and builds both views. The caller must
// Close the app.
func newApp(ctx context.Context, cfg *config.Config, token string, out io.Writer) (*app, error) {
	identity, err := auth.ParseIdentity(token)
	if err != nil {
		return nil, fmt.Errorf("reading agent token: %w", err)
	}

	logger, logCloser := logging.Setup(cfg.Logging)
	a := &app{
		cfg:      cfg,
		identity: identity,
		logger:   logger,
		out:      out,
		printed:  make(map[string]struct{}),
	}
	a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		m, err := a.setupMetrics(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		metrics = m
	}

	a.client = api.NewClient(cfg.Server.APIURL, token, identity.UserID, api.WithLogger(logger))
	a.conn = realtime.NewConn(cfg.Server.WSURL, token,
		realtime.WithBackoff(cfg.Sync.ReconnectBackoff, cfg.Sync.ReconnectMaxBackoff),
		realtime.WithConnLogger(logger))
	a.closers = append(a.closers, func(context.Context) error { return a.conn.Close() })

	if err := a.conn.Connect(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Server.WSURL, err)
	}

	deps := console.Deps{
		Backend:         a.client,
		Transport:       a.conn,
		Identity:        identity,
		Notifier:        notify.NewConsole(out, logger),
		Metrics:         metrics,
		Ended:           actions.NewEndedRegistry(),
		Logger:          logger,
		PageSize:        cfg.Sync.PageSize,
		QueueDebounce:   cfg.Sync.QueueDebounce,
		RefreshCooldown: cfg.Sync.RefreshCooldown,
		EndChatDelay:    cfg.Sync.EndChatDelay,
		AcceptGuardTTL:  cfg.Sync.AcceptGuardTTL,
	}
	a.queue = console.NewQueueView(deps)
	a.chat = console.NewChatView(deps)
	a.active = a.queue

	// Registered after the views so the window already holds the message.
	a.conn.On(realtime.EventMessage, a.onMessage)

	logger.Info("console started", "agent_id", identity.UserID, "role", identity.Role, "api", cfg.Server.APIURL)
	return a, nil
}

// setupMetrics exports counters into a rotated file, or discards them when
// no file is configured.
func (a *app) setupMetrics(ctx context.Context) (*telemetry.Metrics, error) {
	var w io.Writer = io.Discard
	if a.cfg.Metrics.File != "" {
		lj := &lumberjack.Logger{
			Filename:   a.cfg.Metrics.File,
			MaxSize:    a.cfg.Logging.MaxSizeMB,
			MaxBackups: a.cfg.Logging.MaxBackups,
			MaxAge:     a.cfg.Logging.MaxAgeDays,
		}
		w = lj
		a.closers = append(a.closers, func(context.Context) error { return lj.Close() })
	}

	m, shutdown, err := telemetry.Setup(ctx, w, a.cfg.Metrics.Interval, version)
	if err != nil {
		return nil, fmt.Errorf("setting up metrics: %w", err)
	}
	a.closers = append(a.closers, shutdown)
	return m, nil
}

// View returns the active view.
func (a *app) View() *console.View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Switch makes v the active view. The previous view drops its focus so only
// one room is joined at a time.
func (a *app) Switch(v *console.View) bool {
	a.mu.Lock()
	prev := a.active
	a.active = v
	a.mu.Unlock()
	if prev == v {
		return false
	}
	prev.Leave()
	return true
}

// markPrinted records message ids already shown on screen.
func (a *app) markPrinted(msgs []desk.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.printed = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		a.printed[m.ID] = struct{}{}
	}
}

func (a *app) onMessage(ev realtime.Event) {
	me, ok := ev.(realtime.MessageEvent)
	if !ok {
		return
	}
	focused, ok := a.View().Focused()
	if !ok || focused.SessionID != me.SessionID {
		return
	}

	a.mu.Lock()
	if _, seen := a.printed[me.ID]; seen {
		a.mu.Unlock()
		return
	}
	a.printed[me.ID] = struct{}{}
	a.mu.Unlock()

	fmt.Fprintln(a.out, console.FormatMessage(me.ToMessage(a.identity.UserID)))
}

// Close tears everything down in reverse order of construction.
func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.chat != nil {
		a.chat.Close()
	}
	ctx := context.Background()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
}
