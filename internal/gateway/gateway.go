// ABOUTME: Development desk backend that serves the REST and websocket contract
// ABOUTME: Wires the SQLite store, room broadcaster, token verifier and customer simulator

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/conversation"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/store"
)

// Config configures a Gateway.
type Config struct {
	// HTTPAddr is the listen address for REST and websocket traffic.
	HTTPAddr string

	// DBPath is the SQLite database file. DESK_DB_PATH overrides it.
	DBPath string

	// JWTSecret signs and verifies agent tokens. Required.
	JWTSecret string

	// Departments are created on startup when the catalog is empty.
	Departments []desk.Department

	// Simulate starts the customer simulator.
	Simulate bool

	// SimulateInterval is the pause between simulated customer actions.
	SimulateInterval time.Duration
}

// DefaultDepartments is the catalog seeded into an empty database.
var DefaultDepartments = []desk.Department{
	{DeptID: "sales", Name: "Sales", IsActive: true},
	{DeptID: "support", Name: "Support", IsActive: true},
	{DeptID: "billing", Name: "Billing", IsActive: false},
}

// Gateway is the development backend. It owns the store, the broadcaster and
// the HTTP server.
type Gateway struct {
	config      Config
	store       store.Store
	broadcaster *conversation.Broadcaster
	verifier    *auth.Verifier
	simulator   *Simulator
	httpServer  *http.Server
	logger      *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	// now is replaced in tests
	now func() time.Time
}

// initStore opens the SQLite store, honouring DESK_DB_PATH.
func initStore(cfg Config) (*store.SQLiteStore, error) {
	dbPath := cfg.DBPath
	if envPath := os.Getenv("DESK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// seedDepartments fills an empty catalog.
func seedDepartments(ctx context.Context, s store.Store, depts []desk.Department) error {
	existing, err := s.ListDepartments(ctx)
	if err != nil {
		return fmt.Errorf("listing departments: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, d := range depts {
		if err := s.CreateDepartment(ctx, d); err != nil {
			return fmt.Errorf("seeding department %s: %w", d.DeptID, err)
		}
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if len(cfg.Departments) == 0 {
		cfg.Departments = DefaultDepartments
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := seedDepartments(context.Background(), s, cfg.Departments); err != nil {
		s.Close()
		return nil, err
	}

	gw := &Gateway{
		config:      cfg,
		store:       s,
		broadcaster: conversation.NewBroadcaster(logger),
		verifier:    auth.NewVerifier([]byte(cfg.JWTSecret)),
		logger:      logger.With("component", "gateway"),
		serverID:    generateServerID(),
		now:         time.Now,
	}
	gw.simulator = NewSimulator(gw, cfg.SimulateInterval, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the routed HTTP handler. Everything except the health
// endpoints requires a verified token.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	authMiddleware := auth.Middleware(g.verifier)
	mux.Handle("/api/groups", authMiddleware(http.HandlerFunc(g.handleListGroups)))
	mux.Handle("/api/groups/", authMiddleware(http.HandlerFunc(g.handleGroupRoutes)))
	mux.Handle("/api/sessions/", authMiddleware(http.HandlerFunc(g.handleSessionMessages)))
	mux.Handle("/api/departments", authMiddleware(http.HandlerFunc(g.handleListDepartments)))
	mux.Handle("/ws", authMiddleware(http.HandlerFunc(g.handleWS)))

	return mux
}

// Store exposes the backing store.
func (g *Gateway) Store() store.Store {
	return g.store
}

// Simulator returns the customer simulator.
func (g *Gateway) Simulator() *Simulator {
	return g.simulator
}

// MintToken signs a token for an agent. Roles without explicit capabilities
// get their defaults.
func (g *Gateway) MintToken(id *desk.Identity, expiresIn time.Duration) (string, error) {
	if len(id.Capabilities) == 0 {
		withCaps := *id
		withCaps.Capabilities = auth.DefaultCapabilities(id.Role)
		id = &withCaps
	}
	return g.verifier.Generate(id, expiresIn)
}

// Run serves HTTP until ctx is cancelled, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP port: %w", err)
	}

	g.logger.Info("starting desk backend",
		"server_id", g.serverID,
		"http_addr", ln.Addr().String(),
		"simulate", g.config.Simulate)

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if g.config.Simulate {
		go g.simulator.Run(ctx)
	}

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error, initiating shutdown", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down desk backend")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	g.broadcaster.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is running.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	depts, err := g.store.ListDepartments(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d departments)", len(depts))
}

// generateServerID creates a unique identifier for this gateway instance.
func generateServerID() string {
	return fmt.Sprintf("coven-desk-%d", time.Now().UnixNano()%1000000)
}
