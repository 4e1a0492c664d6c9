package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/crmhub/crmhub/internal/authfetch"
	"github.com/crmhub/crmhub/internal/blog"
	"github.com/crmhub/crmhub/internal/config"
	"github.com/crmhub/crmhub/internal/credentials"
	"github.com/crmhub/crmhub/internal/errors"
	"github.com/crmhub/crmhub/internal/logging"
	"github.com/crmhub/crmhub/internal/metrics"
	"github.com/crmhub/crmhub/internal/models"
	"github.com/crmhub/crmhub/internal/reports"
	"github.com/crmhub/crmhub/internal/store"
	"github.com/crmhub/crmhub/internal/syncer"
)

// Integration is the OAuth surface of one connectable service.
type Integration struct {
	Client    *credentials.OAuthClient
	Refresher *credentials.Refresher
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Store        store.Store
	Blog         *blog.Service
	Sessions     *authfetch.Factory
	Syncer       *syncer.Syncer
	Reports      *reports.Dispatcher
	Integrations map[models.Service]Integration
	State        *credentials.StateSigner
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	Audit        logging.AuditSink
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	cfg         *config.Config
	deps        Deps
	metrics     *metrics.Metrics
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	verifier    *SessionVerifier
	httpServer  *http.Server
	now         func() time.Time
}

// Router returns the gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates the server and registers every route.
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics("crmhub")
	}
	if deps.Audit == nil {
		deps.Audit = logging.NewLogAuditSink(deps.Logger)
	}

	requestsPerMinute := cfg.API.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	burst := cfg.API.RateLimit.Burst
	if burst <= 0 {
		burst = 60
	}
	maxBody := cfg.API.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	s := &Server{
		router:      gin.New(),
		cfg:         cfg,
		deps:        deps,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		rateLimiter: newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst),
		verifier:    NewSessionVerifier(cfg.API.Auth),
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.router.HandleMethodNotAllowed = true

	s.router.Use(recoveryMiddleware(s.logger))
	s.router.Use(loggingMiddleware(s.logger))
	if cfg.API.CORS.Enabled {
		s.router.Use(cors.New(corsConfig(cfg.API.CORS)))
	}
	s.router.Use(rateLimitMiddleware(s.rateLimiter, s.metrics))
	s.router.Use(bodyLimitMiddleware(maxBody))
	s.router.Use(metrics.Middleware(s.metrics, s.logger))

	s.setupRoutes()
	return s
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowOrigins:  c.Origins,
		AllowMethods:  c.Methods,
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", WorkspaceHeader, "X-Correlation-ID"},
		ExposeHeaders: []string{"Content-Length", "Retry-After", "X-Correlation-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(cc.AllowOrigins) == 0 {
		cc.AllowAllOrigins = true
	}
	if len(cc.AllowMethods) == 0 {
		cc.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	return cc
}

// loggingMiddleware attaches a correlation ID and logs each request.
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", correlationID)

		c.Next()

		logger.InfoWithContext(c.Request.Context(), "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func recoveryMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorWithContext(c.Request.Context(), "panic recovered",
			"path", c.Request.URL.Path,
			"panic", fmt.Sprint(recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	})
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/health", s.handleHealth)

	apiGroup := s.router.Group("/api")

	// Public blog.
	apiGroup.GET("/blog/posts", s.handleListPosts)

	// OAuth provider redirect target; authenticated by the signed state.
	apiGroup.GET("/integrations/:service/callback",
		auditAction(s.deps.Audit, logging.IntegrationConnected, "connect"), s.handleIntegrationCallback)

	apiGroup.GET("/cron/send-reports", CronAuth(s.cfg.Reports, s.logger),
		auditAction(s.deps.Audit, logging.ReportsDispatched, "send reports"), s.handleSendReports)

	authed := apiGroup.Group("")
	authed.Use(SessionAuth(s.verifier, s.logger))
	{
		authed.POST("/blog/publish",
			auditAction(s.deps.Audit, logging.ContentPublished, "publish"), s.handlePublish)
		authed.DELETE("/debug-generation/delete-test-posts",
			auditAction(s.deps.Audit, logging.TestPostsDeleted, "delete test posts"), s.handleDeleteTestPosts)

		authed.POST("/fortnox/sync/customers",
			auditAction(s.deps.Audit, logging.SyncRun, "sync customers"), s.handleSyncCustomers)
		authed.POST("/fortnox/sync/invoices",
			auditAction(s.deps.Audit, logging.SyncRun, "sync invoices"), s.handleSyncInvoices)

		authed.GET("/search-console/analytics", s.handleAnalytics)

		authed.GET("/integrations/:service/connect", s.handleIntegrationConnect)
		authed.GET("/integrations/:service/status", s.handleIntegrationStatus)
		authed.DELETE("/integrations/:service",
			auditAction(s.deps.Audit, logging.IntegrationDisconnected, "disconnect"), s.handleIntegrationDisconnect)
	}
}

// Run listens on the configured address until Shutdown.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)
	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router, s.cfg.Server)
	}
	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return &errors.ErrServerShutdown{Err: err}
		}
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy", "timestamp": s.now()}
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = err.Error()
		}
	}
	c.JSON(status, body)
}

// requireDep writes a 500 when a handler's dependency was not wired.
func (s *Server) requireDep(c *gin.Context, ok bool, name string) bool {
	if !ok {
		writeError(c, s.logger, fmt.Errorf("%s is not configured", name))
	}
	return ok
}
