// ABOUTME: End-to-end console tests against an in-process fake backend
// ABOUTME: Drives the command loop through queue, accept, chat and send

package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/config"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/gateway"
)

// syncBuffer is a bytes.Buffer safe for the console's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type fixture struct {
	gw  *gateway.Gateway
	app *app
	out *syncBuffer
	r   *repl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	color.NoColor = true

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	gw, err := gateway.New(gateway.Config{
		HTTPAddr:  "127.0.0.1:0",
		DBPath:    filepath.Join(t.TempDir(), "desk.db"),
		JWTSecret: "console-test-secret",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	token, err := gw.MintToken(&desk.Identity{UserID: "agent-1", Name: "Agent One", Role: auth.RoleAgent}, time.Hour)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.APIURL = srv.URL
	cfg.Server.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Sync.RefreshCooldown = 10 * time.Millisecond
	cfg.Sync.QueueDebounce = 10 * time.Millisecond
	cfg.Logging.Level = "warn"

	out := &syncBuffer{}
	a, err := newApp(context.Background(), cfg, token, out)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return &fixture{gw: gw, app: a, out: out, r: &repl{app: a, out: out}}
}

func TestConsoleAcceptAndReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Simulator().OpenSession(ctx, "sales", "Ada", "Is the blue one in stock?")
	require.NoError(t, err)

	assert.False(t, f.r.handle(ctx, "/queue"))
	assert.Contains(t, f.out.String(), "Ada")

	f.out.Reset()
	f.r.handle(ctx, "/select 1")
	assert.Contains(t, f.out.String(), "Is the blue one in stock?")
	assert.Equal(t, "[queue:Ada]> ", f.r.prompt())

	f.out.Reset()
	f.r.handle(ctx, "/accept")
	assert.Contains(t, f.out.String(), "Chat accepted")

	f.r.handle(ctx, "/chats")
	require.Eventually(t, func() bool {
		_ = f.app.chat.Refresh(ctx)
		return len(f.app.chat.Sessions()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	f.r.handle(ctx, "/select 1")
	assert.Equal(t, "[chats:Ada]> ", f.r.prompt())

	f.out.Reset()
	f.r.handle(ctx, "Yes, we have three left.")
	require.Eventually(t, func() bool {
		return strings.Contains(f.out.String(), "you: Yes, we have three left.")
	}, 5*time.Second, 20*time.Millisecond)

	// The echo is printed once even though the window also holds it.
	assert.Equal(t, 1, strings.Count(f.out.String(), "three left"))
}

func TestConsoleCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("quit", func(t *testing.T) {
		for _, cmd := range []string{"/quit", "/exit", "/q"} {
			assert.True(t, f.r.handle(ctx, cmd), cmd)
		}
	})

	t.Run("blank line", func(t *testing.T) {
		f.out.Reset()
		assert.False(t, f.r.handle(ctx, "   "))
		assert.Empty(t, f.out.String())
	})

	t.Run("unknown command", func(t *testing.T) {
		f.out.Reset()
		f.r.handle(ctx, "/frobnicate")
		assert.Contains(t, f.out.String(), "Unknown command /frobnicate")
	})

	t.Run("send without focus", func(t *testing.T) {
		f.out.Reset()
		f.r.handle(ctx, "hello?")
		assert.Contains(t, f.out.String(), "No chat open")
	})

	t.Run("select out of range", func(t *testing.T) {
		f.out.Reset()
		f.r.handle(ctx, "/select 9")
		assert.Contains(t, f.out.String(), "[error]")
	})

	t.Run("select needs a number", func(t *testing.T) {
		f.out.Reset()
		f.r.handle(ctx, "/select abc")
		assert.Contains(t, f.out.String(), `expected a list number, got "abc"`)
	})

	t.Run("transfer lists departments", func(t *testing.T) {
		f.out.Reset()
		f.r.handle(ctx, "/transfer")
		out := f.out.String()
		assert.Contains(t, out, "sales")
		assert.Contains(t, out, "billing")
		assert.Contains(t, out, "(inactive)")
	})

	t.Run("help", func(t *testing.T) {
		f.out.Reset()
		f.r.handle(ctx, "/help")
		assert.Contains(t, f.out.String(), "/accept [n]")
	})
}

func TestConsoleLoopStopsAtEOF(t *testing.T) {
	f := newFixture(t)

	err := f.r.loop(context.Background(), strings.NewReader("/list\n"))
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "Waiting chats")
}

func TestConsoleLoopStopsOnQuit(t *testing.T) {
	f := newFixture(t)

	err := f.r.loop(context.Background(), strings.NewReader("/quit\n/list\n"))
	require.NoError(t, err)
	assert.NotContains(t, f.out.String(), "Waiting chats")
}

func TestSwitchLeavesPreviousFocus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Simulator().OpenSession(ctx, "support", "Grace", "My order never arrived")
	require.NoError(t, err)

	f.r.handle(ctx, "/queue")
	f.r.handle(ctx, "/select 1")
	_, ok := f.app.queue.Focused()
	require.True(t, ok)

	assert.True(t, f.app.Switch(f.app.chat))
	_, ok = f.app.queue.Focused()
	assert.False(t, ok)
	assert.False(t, f.app.Switch(f.app.chat))
}
