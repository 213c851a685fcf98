// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/keyward/keyward/internal/chain"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/contacts"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/guardians"
	"github.com/keyward/keyward/internal/health"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/metrics"
	"github.com/keyward/keyward/internal/notify"
	"github.com/keyward/keyward/internal/ratelimit"
	"github.com/keyward/keyward/internal/realtime"
	"github.com/keyward/keyward/internal/recovery"
	"github.com/keyward/keyward/internal/security"
	"github.com/keyward/keyward/internal/validation"
	"github.com/keyward/keyward/internal/vault"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	registry    *guardians.Registry
	recoverySvc *recovery.Service
	contactsSvc *contacts.Service
	transferor  chain.OwnershipTransferor
	bus         *events.Bus
	dispatcher  *notify.Dispatcher
	sweeper     *recovery.Sweeper
	realtimeHub *realtime.Hub
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	email notify.EmailSender
	sms   notify.SMSSender

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

// WithTransferor sets a custom ownership transferor (for testing)
func WithTransferor(t chain.OwnershipTransferor) Option {
	return func(s *Server) {
		s.transferor = t
	}
}

// WithEmailSender sets the email delivery channel
func WithEmailSender(e notify.EmailSender) Option {
	return func(s *Server) {
		s.email = e
	}
}

// WithSMSSender sets the SMS delivery channel
func WithSMSSender(sms notify.SMSSender) Option {
	return func(s *Server) {
		s.sms = sms
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
	}

	// Apply options first (may set transferor/logger/senders)
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	contactVault, err := vault.NewAESVaultFromHex(cfg.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create contact vault: %w", err)
	}

	s.bus = events.NewBus(s.logger)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		guardianStore guardians.Store
		recoveryStore recovery.Store
		auditStore    recovery.AuditStore
		contactStore  contacts.Store
	)
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
		guardianStore = guardians.NewPostgresStore(db)
		recoveryStore = recovery.NewPostgresStore(db)
		auditStore = recovery.NewPostgresAuditStore(db)
		contactStore = contacts.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		guardianStore = guardians.NewMemoryStore()
		recoveryStore = recovery.NewMemoryStore()
		auditStore = recovery.NewMemoryAuditStore()
		contactStore = contacts.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Guardian registry
	limits := guardians.Limits{MinGuardians: cfg.MinGuardians, MaxGuardians: cfg.MaxGuardians}
	registry, err := guardians.NewRegistry(guardianStore, contactVault, cfg.Threshold, limits)
	if err != nil {
		return nil, fmt.Errorf("failed to create guardian registry: %w", err)
	}
	s.registry = registry.WithBus(s.bus)
	s.logger.Info("guardian registry ready",
		"threshold", cfg.Threshold,
		"minGuardians", cfg.MinGuardians,
		"maxGuardians", cfg.MaxGuardians,
	)

	// Ownership transferor (on-chain if a submitter key is configured)
	if s.transferor == nil {
		if cfg.ChainEnabled() {
			eth, err := chain.NewEthTransferor(chain.Config{
				RPCURL:           cfg.RPCURL,
				PrivateKey:       cfg.SubmitterKey,
				ChainID:          cfg.ChainID,
				RegistryContract: cfg.RegistryContract,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create ownership transferor: %w", err)
			}
			s.transferor = eth
			s.logger.Info("on-chain ownership transfers enabled",
				"chainId", cfg.ChainID,
				"registry", cfg.RegistryContract,
				"submitter", eth.Address(),
			)
		} else {
			s.transferor = chain.NewSimTransferor()
			s.logger.Info("simulated ownership transfers (no SUBMITTER_KEY set)")
		}
	}

	// Realtime hub for WebSocket streaming; doubles as the push channel
	s.realtimeHub = realtime.NewHub(s.logger)
	s.realtimeHub.AttachBus(s.bus)
	s.logger.Info("realtime streaming enabled")

	// Notification dispatcher
	notifyOpts := []notify.Option{notify.WithPush(realtime.NewPushFeed(s.realtimeHub))}
	if s.email != nil {
		notifyOpts = append(notifyOpts, notify.WithEmail(s.email))
	}
	if s.sms != nil {
		notifyOpts = append(notifyOpts, notify.WithSMS(s.sms))
	}
	s.dispatcher = notify.NewDispatcher(contactVault, s.bus, s.logger, notifyOpts...)

	// Recovery state machine
	audit := recovery.NewAuditLogger(auditStore, s.bus, s.logger)
	recoverySvc, err := recovery.NewService(
		recoveryStore,
		s.registry,
		s.transferor,
		audit,
		cfg.TimeLock,
		recovery.WithBus(s.bus),
		recovery.WithDispatcher(s.dispatcher),
		recovery.WithLogger(s.logger),
		recovery.WithTestingEnabled(cfg.TestingEnabled),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recovery service: %w", err)
	}
	s.recoverySvc = recoverySvc
	s.sweeper = recovery.NewSweeper(recoverySvc, s.logger)
	s.logger.Info("recovery engine ready",
		"timeLock", cfg.TimeLock.String(),
		"testingEnabled", cfg.TestingEnabled,
	)

	// Emergency contacts
	s.contactsSvc = contacts.NewService(contactStore, contactVault)

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

	// CORS (restrict origins in production deployments)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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

	// API info
	s.router.GET("/", s.infoHandler)

	// WebSocket for real-time event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// V1 API group
	v1 := s.router.Group("/v1")

	guardians.NewHandler(s.registry).RegisterRoutes(v1)
	recovery.NewHandler(s.recoverySvc).RegisterRoutes(v1)
	contacts.NewHandler(s.contactsSvc).RegisterRoutes(v1)

	v1.GET("/realtime/stats", s.realtimeStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
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
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Keyward",
		"description": "Guardian-based wallet recovery",
		"version":     "0.1.0",
		"threshold":   s.registry.Threshold(),
		"timeLock":    s.cfg.TimeLock.String(),
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start expiry sweeper (flips PENDING requests past their deadline to EXPIRED)
	go s.sweeper.Start(runCtx)

	// Collect database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop expiry sweeper
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("expiry sweeper stopped")
	}

	// Cancel pending time-lock warning timers
	s.recoverySvc.Scheduler().Stop()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close the chain connection
	if closer, ok := s.transferor.(interface{ Close() }); ok {
		closer.Close()
	}

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

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
