// ABOUTME: Gateway wiring that assembles store, mock engine, dispatcher, and HTTP server
// ABOUTME: Owns startup ordering, the sweeper lifecycle, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warden-hq/warden-gateway/internal/agent"
	"github.com/warden-hq/warden-gateway/internal/config"
	"github.com/warden-hq/warden-gateway/internal/dispatch"
	"github.com/warden-hq/warden-gateway/internal/mock"
	"github.com/warden-hq/warden-gateway/internal/store"
	"github.com/warden-hq/warden-gateway/internal/transport"
)

// Gateway assembles the warden-gateway server components: the SQLite
// store, the mock engine, the dispatch orchestrator, the agent WebSocket
// endpoint, and the HTTP API.
type Gateway struct {
	config     *config.Config
	registry   *agent.Registry
	pending    *agent.PendingTable
	mocks      *mock.Engine
	orch       *dispatch.Orchestrator
	store      *store.SQLiteStore
	httpServer *http.Server
	logger     *slog.Logger

	// serverID identifies this gateway instance
	serverID string
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WARDEN_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// loadMockProfiles seeds the engine from config and from profiles saved
// in the database. Config entries win on conflicting ids.
func loadMockProfiles(ctx context.Context, cfg *config.Config, s *store.SQLiteStore, engine *mock.Engine, logger *slog.Logger) error {
	saved, err := s.ListMockAgents(ctx)
	if err != nil {
		return fmt.Errorf("loading saved mock agents: %w", err)
	}
	for _, p := range saved {
		engine.RegisterProfile(p)
	}

	for i := range cfg.Mock.Agents {
		p := cfg.Mock.Agents[i]
		engine.RegisterProfile(&p)
	}

	if n := len(engine.ListIDs()); n > 0 {
		logger.Info("mock agents loaded", "count", n, "from_db", len(saved), "from_config", len(cfg.Mock.Agents))
	}
	return nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := agent.NewRegistry(logger.With("component", "registry"))
	pending := agent.NewPendingTable(logger.With("component", "pending"))
	mocks := mock.NewEngine(mock.Options{
		MinLatency: cfg.Mock.MinLatency,
		MaxLatency: cfg.Mock.MaxLatency,
	}, logger.With("component", "mock"))

	if err := loadMockProfiles(context.Background(), cfg, s, mocks, logger); err != nil {
		s.Close()
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := dispatch.NewMetrics(promRegistry, pending.Len)

	orch := dispatch.NewOrchestrator(registry, pending, mocks, s, metrics, dispatch.Limits{
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		MaxTimeout:     cfg.Dispatch.MaxTimeout,
		SweepInterval:  cfg.Dispatch.SweepInterval,
	}, logger.With("component", "dispatch"))

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		pending:  pending,
		mocks:    mocks,
		orch:     orch,
		store:    s,
		logger:   logger.With("component", "gateway"),
		serverID: resolveServerID(cfg),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// Agent attach endpoint
	mux.Handle("/ws/agent", transport.NewWSServer(orch, gw.serverID, logger.With("component", "transport")))

	// Command and inventory API
	mux.HandleFunc("/api/execute", gw.handleExecute)
	mux.HandleFunc("/api/agents", gw.handleListAgents)
	mux.HandleFunc("/api/mock-agents", gw.handleMockAgents)
	mux.HandleFunc("/api/mock-agents/", gw.handleMockAgentByID)
	mux.HandleFunc("/api/commands", gw.handleListCommands)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go g.orch.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "server_id", g.serverID)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
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

// Shutdown stops the HTTP server, fails outstanding commands, and closes
// the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	// Waiters still parked on pending entries get a definitive answer
	// before the store goes away.
	for _, id := range g.registry.ListConnected() {
		if conn, ok := g.registry.Lookup(id); ok {
			g.orch.OnDisconnect(id, conn)
			_ = conn.Close()
		}
	}

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the database answers; agent count is
// informational only since mock targets are always reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "database unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents, %d mocks)",
		g.registry.Len(), len(g.mocks.ListIDs()))
}

// resolveServerID returns the configured identity or a generated one.
func resolveServerID(cfg *config.Config) string {
	if cfg.Server.ServerID != "" {
		return cfg.Server.ServerID
	}
	return fmt.Sprintf("warden-gateway-%d", time.Now().UnixNano()%1000000)
}
