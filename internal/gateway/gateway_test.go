// ABOUTME: Tests for the desk backend lifecycle, health endpoints and token minting
// ABOUTME: Shared helpers build a gateway on a temp SQLite database with a fixed clock

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/desk"
)

const testSecret = "test-secret-that-is-long-enough"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock returns a clock that advances one second per call.
func testClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		HTTPAddr:  "127.0.0.1:0",
		DBPath:    filepath.Join(t.TempDir(), "desk.db"),
		JWTSecret: testSecret,
	}
}

// newTestGateway creates a gateway with a deterministic clock. It is shut
// down when the test ends.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := New(testConfig(t), testLogger())
	require.NoError(t, err)
	gw.now = testClock()
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// newTestServer serves gw over httptest.
func newTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func tokenFor(t *testing.T, gw *Gateway, userID, role string) string {
	t.Helper()
	token, err := gw.MintToken(&desk.Identity{UserID: userID, Name: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func TestGatewayNew(t *testing.T) {
	gw := newTestGateway(t)

	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.broadcaster)
	assert.NotNil(t, gw.Simulator())
	assert.NotEmpty(t, gw.serverID)

	depts, err := gw.Store().ListDepartments(context.Background())
	require.NoError(t, err)
	assert.Len(t, depts, len(DefaultDepartments))
}

func TestGatewayNew_RequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = ""

	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}

func TestGatewayNew_SeedsOnlyEmptyCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Departments = []desk.Department{{DeptID: "vip", Name: "VIP", IsActive: true}}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, gw.Shutdown(context.Background()))

	cfg.Departments = DefaultDepartments
	gw, err = New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	depts, err := gw.Store().ListDepartments(context.Background())
	require.NoError(t, err)
	require.Len(t, depts, 1)
	assert.Equal(t, "VIP", depts[0].Name)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig(t)
	cfg.HTTPAddr = addr
	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)
	srv := newTestServer(t, gw)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready (3 departments)", string(body))
}

func TestMintToken_DefaultCapabilities(t *testing.T) {
	gw := newTestGateway(t)

	token := tokenFor(t, gw, "agent-1", auth.RoleAgent)
	id, err := gw.verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", id.UserID)
	assert.ElementsMatch(t, auth.DefaultCapabilities(auth.RoleAgent), id.Capabilities)

	token = tokenFor(t, gw, "watcher", auth.RoleObserver)
	id, err = gw.verifier.Verify(token)
	require.NoError(t, err)
	assert.False(t, id.HasCapability(desk.CapAcceptChat))
}
