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

	"github.com/mbd888/giftguard/internal/analysis"
	"github.com/mbd888/giftguard/internal/auth"
	"github.com/mbd888/giftguard/internal/config"
	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/health"
	"github.com/mbd888/giftguard/internal/idgen"
	"github.com/mbd888/giftguard/internal/ledger"
	"github.com/mbd888/giftguard/internal/logging"
	"github.com/mbd888/giftguard/internal/metrics"
	"github.com/mbd888/giftguard/internal/ratelimit"
	"github.com/mbd888/giftguard/internal/realtime"
	"github.com/mbd888/giftguard/internal/retry"
	"github.com/mbd888/giftguard/internal/security"
	"github.com/mbd888/giftguard/internal/sessions"
	"github.com/mbd888/giftguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// sessionPurgeInterval is how often expired analysis sessions are removed.
const sessionPurgeInterval = time.Hour

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	version      string
	ledger       *ledger.Ledger
	janitor      *ledger.Janitor
	sessions     *sessions.Service
	sessionTimer *sessions.Timer
	analysis     *analysis.Service
	realtimeHub  *realtime.Hub
	health       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	drainDelay   time.Duration
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

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDrainDelay sets how long Shutdown waits before closing the listener.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	thresholds := fraud.DefaultThresholds().WithLocation(loc)

	ctx := context.Background()

	var (
		ledgerStore  ledger.Store
		sessionStore sessions.Store
	)

	// Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// The database may still be starting alongside us.
		if err := retry.Do(ctx, retry.DefaultPolicy(), db.PingContext); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgLedger := ledger.NewPostgresStore(db)
		if err := pgLedger.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = pgLedger

		pgSessions := sessions.NewPostgresStore(db)
		if err := pgSessions.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		sessionStore = pgSessions

		s.health.Register("database", health.PingChecker("database", db))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		sessionStore = sessions.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
		s.health.Register("storage", health.Static("storage", "in-memory"))
	}

	s.realtimeHub = realtime.NewHub(s.logger, cfg.AllowedOrigin)

	s.ledger = ledger.New(ledgerStore)
	s.janitor = ledger.NewJanitor(s.ledger, cfg.CleanupInterval, cfg.PendingMaxAge, s.logger)

	s.sessions = sessions.NewService(sessionStore, cfg.SessionTTL).WithEvents(s.realtimeHub)
	s.sessionTimer = sessions.NewTimer(s.sessions, sessionPurgeInterval, s.logger)

	s.analysis = analysis.NewService(s.sessions, s.ledger, thresholds, cfg.MaxTransactions, s.logger).
		WithEvents(s.realtimeHub)
	s.logger.Info("fraud analysis enabled",
		"max_transactions", cfg.MaxTransactions,
		"timezone", loc.String(),
	)

	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, admin routes are open (development only)")
	}

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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigin))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honour an upstream request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > validation.MaxIDLength {
			requestID = idgen.WithPrefix(idgen.PrefixRequest)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}

		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
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

	v1 := s.router.Group("/v1")

	// Analysis runs are the expensive path, so only they are rate limited.
	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)

	analysisHandler := analysis.NewHandler(s.analysis)
	analysisHandler.RegisterRoutes(v1.Group("", s.rateLimiter.Middleware()))

	v1.GET("/analysis/stream", s.streamHandler)

	admin := v1.Group("", auth.RequireAdmin(s.cfg.AdminSecret))
	analysisHandler.RegisterAdminRoutes(admin)
	ledger.NewHandler(s.ledger, s.logger).RegisterAdminRoutes(admin)
	sessions.NewHandler(s.sessions).RegisterAdminRoutes(admin)
	admin.GET("/admin/stats", s.statsHandler)
}

// streamHandler upgrades to the analysis event stream. Admins see every
// event; an analysis token limits the stream to its session owner.
func (s *Server) streamHandler(c *gin.Context) {
	if secret := c.GetHeader(auth.AdminHeader); secret != "" || s.cfg.AdminSecret == "" {
		if s.cfg.AdminSecret != "" && !auth.SecretMatches(secret, s.cfg.AdminSecret) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "invalid admin secret"})
			return
		}
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
		return
	}

	token := c.Query("token")
	if token == "" {
		token = c.GetHeader(analysis.TokenHeader)
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "admin secret or analysis token required",
		})
		return
	}

	sess, err := s.sessions.Validate(c.Request.Context(), token)
	switch {
	case errors.Is(err, sessions.ErrSessionExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session_expired", "message": "analysis session has expired"})
		return
	case errors.Is(err, sessions.ErrSessionNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "message": "unknown analysis token"})
		return
	case err != nil:
		logging.L(c.Request.Context()).Error("failed to validate stream token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to open stream"})
		return
	}

	s.realtimeHub.HandleScopedWebSocket(c.Writer, c.Request, sess.Owner)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
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

// statsHandler reports ledger size and stream activity.
func (s *Server) statsHandler(c *gin.Context) {
	n, err := s.ledger.Count(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to count transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions":    n,
		"maxTransactions": s.cfg.MaxTransactions,
		"stream":          s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.janitor.Start(runCtx)
	go s.sessionTimer.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.janitor.Stop()
	s.sessionTimer.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

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
