// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/cardinalpay/arbiter/internal/audit"
	"github.com/cardinalpay/arbiter/internal/auth"
	"github.com/cardinalpay/arbiter/internal/circuitbreaker"
	"github.com/cardinalpay/arbiter/internal/config"
	"github.com/cardinalpay/arbiter/internal/fanout"
	"github.com/cardinalpay/arbiter/internal/fusion"
	"github.com/cardinalpay/arbiter/internal/health"
	"github.com/cardinalpay/arbiter/internal/idempotency"
	"github.com/cardinalpay/arbiter/internal/idgen"
	"github.com/cardinalpay/arbiter/internal/logging"
	"github.com/cardinalpay/arbiter/internal/metrics"
	"github.com/cardinalpay/arbiter/internal/orchestrator"
	"github.com/cardinalpay/arbiter/internal/publisher"
	"github.com/cardinalpay/arbiter/internal/ratelimit"
	"github.com/cardinalpay/arbiter/internal/realtime"
	"github.com/cardinalpay/arbiter/internal/rules"
	"github.com/cardinalpay/arbiter/internal/scorer"
	"github.com/cardinalpay/arbiter/internal/security"
	"github.com/cardinalpay/arbiter/internal/validation"
	"github.com/cardinalpay/arbiter/internal/velocity"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	authMgr      *auth.Manager
	ruleLoader   *rules.Loader
	ruleRepo     rules.AdminRepository
	guard        *idempotency.Guard
	guardStore   *idempotency.MemoryStore // nil when Postgres-backed
	auditor      *audit.Writer
	auditStore   audit.Store
	signer       *audit.Signer
	decisions    orchestrator.DecisionStore
	velocities   *velocity.Memory
	lists        velocity.ListStore
	breaker      *circuitbreaker.Breaker
	publisher    *publisher.Publisher
	service      *orchestrator.Service
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set logger)
	for _, opt := range opts {
		opt(s)
	}

	// Velocity counters are an in-process sliding window either way;
	// only list entries move to durable storage.
	s.velocities = velocity.NewMemory()
	s.lists = s.velocities

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.ruleRepo = rules.NewPostgresRepository(db)
		s.guard = idempotency.NewGuard(idempotency.NewPostgresStore(db), cfg.IdempotencyTTL, s.logger)
		s.auditStore = audit.NewPostgresStore(db)
		s.decisions = orchestrator.NewPostgresDecisionStore(db)
		s.lists = velocity.NewPostgresListStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		repo := rules.NewMemoryRepository()
		s.ruleRepo = repo
		s.guardStore = idempotency.NewMemoryStore()
		s.guard = idempotency.NewGuard(s.guardStore, cfg.IdempotencyTTL, s.logger)
		s.auditStore = audit.NewMemoryStore()
		s.decisions = orchestrator.NewMemoryDecisionStore()
	}

	// Rule snapshot loader
	s.ruleLoader = rules.NewLoader(s.ruleRepo, cfg.RuleRefreshInterval, s.logger)
	if err := s.ruleLoader.Refresh(context.Background()); err != nil {
		s.logger.Warn("initial rule load failed, starting with empty snapshot", "error", err)
	}

	// Audit chain writer
	s.signer = audit.NewSigner(cfg.AuditSecret)
	s.auditor = audit.NewWriter(s.auditStore, s.signer, s.logger)

	// Model scorer behind a circuit breaker; nil scorer means rules-only
	var sc scorer.Scorer
	if cfg.ScorerURL != "" {
		sc = scorer.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerToken, cfg.ScoreTimeout)
		s.logger.Info("model scorer enabled", "url", cfg.ScorerURL)
	} else {
		s.logger.Info("no SCORER_URL set, running rules-only")
	}
	s.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenDuration)

	// Fan-out coordinator over the two evaluation paths
	gateway := &listBackedGateway{counters: s.velocities, lists: s.lists}
	coordinator := fanout.NewCoordinator(
		s.ruleLoader,
		rules.NewEvaluator(gateway),
		sc,
		s.breaker,
		fanout.Config{
			Budget:       cfg.DecisionBudget,
			RulesTimeout: cfg.RulesTimeout,
			ScoreTimeout: cfg.ScoreTimeout,
		},
		s.logger,
	)

	// Downstream event publisher. The sink URL is operator-supplied, so
	// it gets an SSRF check before we start posting decisions at it.
	var pub orchestrator.Publisher
	if cfg.PublisherURL != "" {
		if err := security.ValidateEndpointURL(cfg.PublisherURL); err != nil {
			s.logger.Error("publisher endpoint rejected, publishing disabled", "error", err)
		} else {
			s.publisher = publisher.New(publisher.NewHTTPSink(cfg.PublisherURL, cfg.PublisherSecret), s.logger)
			pub = s.publisher
			s.logger.Info("decision publishing enabled", "url", cfg.PublisherURL)
		}
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	s.service = orchestrator.NewService(
		s.guard,
		coordinator,
		fusion.Config{
			MidThreshold:     cfg.MidThreshold,
			HighThreshold:    cfg.HighThreshold,
			StrongAuthAmount: cfg.StrongAuthAmount,
			StrongAuthMargin: cfg.StrongAuthMargin,
		},
		s.auditor,
		s.decisions,
		s.velocities,
		pub,
		s.realtimeHub,
		s.logger,
	)

	s.setupHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupHealthChecks() {
	s.healthReg = health.NewRegistry()

	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	s.healthReg.Register("ruleset", func(ctx context.Context) health.Status {
		snapshot := s.ruleLoader.Active()
		if snapshot == nil || snapshot.Version == "" {
			return health.Status{Name: "ruleset", Healthy: false, Detail: "no snapshot loaded"}
		}
		return health.Status{Name: "ruleset", Healthy: true, Detail: snapshot.Version}
	})

	s.healthReg.Register("scorer_breaker", func(ctx context.Context) health.Status {
		st := s.breaker.State("scorer")
		// An open breaker degrades decisions but does not stop them.
		return health.Status{Name: "scorer_breaker", Healthy: true, Detail: st.String()}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		limCfg.BurstSize = s.cfg.RateLimitRPS * 2
	}
	s.rateLimiter = ratelimit.New(limCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	authHandler := auth.NewHandler(s.authMgr)

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))

	// Public
	v1.GET("/auth/info", authHandler.Info)
	v1.GET("/info", s.infoHandler)

	// Tenant endpoints (API key required)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.authMgr))

	orchestrator.NewHandler(s.service).RegisterRoutes(protected)
	audit.NewHandler(s.auditStore, s.signer).RegisterRoutes(protected)

	protected.GET("/auth/keys", authHandler.ListKeys)
	protected.POST("/auth/keys", authHandler.CreateKey)
	protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
	protected.GET("/auth/me", authHandler.GetCurrentTenant)

	// Live decision feed
	protected.GET("/feed", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	protected.GET("/feed/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// Operator endpoints (shared admin secret)
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))

	rules.NewHandler(s.ruleRepo, s.ruleLoader).RegisterRoutes(admin)
	admin.POST("/tenants/:tenantId/keys", authHandler.IssueKey)
	admin.POST("/lists/:listId/entries", s.addListEntryHandler)
	admin.DELETE("/lists/:listId/entries/:value", s.removeListEntryHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the health check response
type HealthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	Subsystems []health.Status `json:"subsystems,omitempty"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	resp := HealthResponse{
		Status:     "ok",
		Version:    "0.1.0",
		Subsystems: statuses,
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	snapshot := s.ruleLoader.Active()
	c.JSON(http.StatusOK, gin.H{
		"service":        "arbiter",
		"version":        "0.1.0",
		"environment":    s.cfg.Env,
		"ruleSetVersion": snapshot.Version,
		"rules":          snapshot.Len(),
	})
}

type listEntryRequest struct {
	Value  string `json:"value" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) addListEntryHandler(c *gin.Context) {
	var req listEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "value is required",
		})
		return
	}

	if err := s.lists.Add(c.Request.Context(), c.Param("listId"), req.Value, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to add list entry",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listId": c.Param("listId"),
		"value":  req.Value,
	})
}

func (s *Server) removeListEntryHandler(c *gin.Context) {
	if err := s.lists.Remove(c.Request.Context(), c.Param("listId"), c.Param("value")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to remove list entry",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listId":  c.Param("listId"),
		"value":   c.Param("value"),
		"removed": true,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"ruleset", s.ruleLoader.Active().Version,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Periodic rule snapshot refresh
	go s.ruleLoader.Start(runCtx)

	// Realtime hub
	go s.realtimeHub.Run(runCtx)

	// Publisher drain loop
	if s.publisher != nil {
		go s.publisher.Start(runCtx)
	}

	// Expired idempotency key sweeper (in-memory mode only; Postgres mode
	// relies on DeleteExpired from an external maintenance job)
	if s.guardStore != nil {
		go s.guardStore.StartJanitor(runCtx, time.Minute)
	}

	// DB pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, loader, publisher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush the publisher queue
	if s.publisher != nil {
		s.publisher.Stop()
		s.logger.Info("publisher stopped", "dropped", s.publisher.Dropped())
	}

	// Drain the audit writer last so every in-flight decision lands
	s.auditor.Close()
	s.logger.Info("audit writer drained")

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the decision service for testing
func (s *Server) Service() *orchestrator.Service {
	return s.service
}

func generateRequestID() string {
	return "req_" + idgen.Hex(8)
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// listBackedGateway serves counters from the in-process windows and list
// membership from the configured list store.
type listBackedGateway struct {
	counters *velocity.Memory
	lists    velocity.ListStore
}

func (g *listBackedGateway) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	return g.counters.Count(ctx, key, window)
}

func (g *listBackedGateway) Sum(ctx context.Context, key string, window time.Duration) (float64, error) {
	return g.counters.Sum(ctx, key, window)
}

func (g *listBackedGateway) IsMember(ctx context.Context, listID, value string) (bool, error) {
	return g.lists.Contains(ctx, listID, value)
}
