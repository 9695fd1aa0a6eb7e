package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csr/ledger/internal/infrastructure/auth"
	"github.com/csr/ledger/internal/infrastructure/config"
	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/csr/ledger/internal/infrastructure/telemetry"
	"github.com/csr/ledger/internal/interfaces/http/dto"
	"github.com/csr/ledger/internal/interfaces/http/handler"
	"github.com/csr/ledger/internal/interfaces/http/middleware"
)

// Handlers are the endpoint groups of the API. Nil groups are not mounted.
type Handlers struct {
	System        *handler.SystemHandler
	Organizations *handler.OrganizationHandler
	Payments      *handler.PaymentHandler
	Invoices      *handler.InvoiceHandler
	Analytics     *handler.AnalyticsHandler
	Outbox        *handler.OutboxHandler
}

// Options are the cross-cutting dependencies of the engine
type Options struct {
	HTTP        config.HTTPConfig
	ServiceName string
	Production  bool
	Tracing     bool
	Profiling   bool
	Meter       *telemetry.MeterProvider
	JWT         *auth.JWTService
	Limiter     *middleware.RateLimiter
	Logger      *zap.Logger
}

// New builds the gin engine with the middleware chain and every route.
//
// Engine-wide: request id, panic recovery, tracing, access log, metrics,
// CORS, security headers, body limit and rate limit. API group: identity,
// span attributes and profiling labels.
func New(opts Options, h Handlers) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	if len(opts.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(opts.HTTP.TrustedProxies); err != nil {
			log.Warn("Invalid trusted proxies, trusting none", zap.Error(err))
			_ = engine.SetTrustedProxies(nil)
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	engine.Use(
		middleware.RequestID(log),
		logger.Recovery(log),
		middleware.Tracing(opts.ServiceName, opts.Tracing),
		logger.GinMiddleware(log),
		middleware.HTTPMetrics(opts.Meter, log),
		middleware.CORS(middleware.CORSConfigFrom(opts.HTTP)),
		middleware.Secure(opts.Production),
		middleware.BodyLimit(opts.HTTP.MaxBodySize),
	)
	if opts.HTTP.RateLimitEnabled && opts.Limiter != nil {
		engine.Use(middleware.RateLimit(opts.Limiter))
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponseWithRequestID(dto.ErrCodeNotFound, "Route not found", middleware.GetRequestID(c)))
	})

	if h.System != nil {
		engine.GET("/health", h.System.Health)
	}

	r := NewRouter(engine, WithGroupMiddleware(
		middleware.Identity(middleware.IdentityConfig{
			JWTService:       opts.JWT,
			AllowHeaders:     !opts.Production,
			SkipPaths:        []string{"/api/v1/ping"},
			SkipPathPrefixes: []string{"/api/v1/organizations"},
			Logger:           log,
		}),
		middleware.SpanAttributes(),
		middleware.Profiling(opts.Profiling),
	))
	r.Register(LedgerRoutes(h)...)
	r.Setup()

	return engine
}

// LedgerRoutes returns the route groups of the ledger API
func LedgerRoutes(h Handlers) []RouteRegistrar {
	var groups []RouteRegistrar

	if h.System != nil {
		sys := NewDomainGroup("system", "")
		sys.GET("/ping", h.System.Ping)
		sys.POST("/maintenance/run", h.System.RunMaintenance)
		groups = append(groups, sys)
	}

	if h.Organizations != nil {
		orgs := NewDomainGroup("organizations", "/organizations")
		orgs.POST("", h.Organizations.Create)
		orgs.GET("", h.Organizations.List)
		orgs.GET("/:id", h.Organizations.Get)
		orgs.PUT("/:id", h.Organizations.Update)
		groups = append(groups, orgs)
	}

	if h.Payments != nil {
		payments := NewDomainGroup("payments", "/payments")
		payments.POST("", h.Payments.Create)
		payments.GET("", h.Payments.List)
		payments.GET("/:id", h.Payments.Get)
		payments.GET("/:id/audit-trail", h.Payments.AuditTrail)
		payments.POST("/:id/approve", h.Payments.Approve)
		payments.POST("/:id/reject", h.Payments.Reject)
		payments.POST("/:id/escalate", h.Payments.Escalate)
		payments.POST("/:id/processing", h.Payments.MarkProcessing)
		payments.POST("/:id/complete", h.Payments.MarkCompleted)
		payments.POST("/:id/fail", h.Payments.MarkFailed)
		payments.POST("/:id/refund", h.Payments.Refund)
		payments.POST("/:id/cancel", h.Payments.Cancel)
		if h.Invoices != nil {
			payments.POST("/:id/invoice", h.Invoices.Generate)
		}
		groups = append(groups, payments)
	}

	if h.Invoices != nil {
		invoices := NewDomainGroup("invoices", "/invoices")
		invoices.GET("", h.Invoices.List)
		invoices.GET("/number/:number", h.Invoices.GetByNumber)
		invoices.GET("/:id", h.Invoices.Get)
		invoices.GET("/:id/outstanding", h.Invoices.Outstanding)
		invoices.GET("/:id/audit-trail", h.Invoices.AuditTrail)
		invoices.POST("/:id/send", h.Invoices.Send)
		invoices.POST("/:id/view", h.Invoices.MarkViewed)
		invoices.POST("/:id/payments", h.Invoices.RecordPayment)
		invoices.POST("/:id/cancel", h.Invoices.Cancel)
		invoices.POST("/:id/dispute", h.Invoices.Dispute)
		invoices.POST("/:id/resolve-dispute", h.Invoices.ResolveDispute)
		groups = append(groups, invoices)
	}

	if h.Analytics != nil {
		analytics := NewDomainGroup("analytics", "/analytics")
		analytics.GET("", h.Analytics.Get)
		analytics.GET("/status-breakdown", h.Analytics.StatusBreakdown)
		analytics.GET("/overdue-count", h.Analytics.OverdueCount)
		analytics.GET("/average-payment-days", h.Analytics.AveragePaymentDays)
		groups = append(groups, analytics)
	}

	if h.Outbox != nil {
		outbox := NewDomainGroup("outbox", "/outbox")
		outbox.GET("/stats", h.Outbox.Stats)
		outbox.GET("/dead", h.Outbox.DeadLetters)
		outbox.POST("/dead/retry-all", h.Outbox.RedriveAll)
		outbox.POST("/dead/:id/retry", h.Outbox.Redrive)
		outbox.GET("/:id", h.Outbox.Entry)
		groups = append(groups, outbox)
	}

	return groups
}
