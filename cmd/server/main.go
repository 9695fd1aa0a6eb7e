package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appevent "github.com/csr/ledger/internal/application/event"
	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/auth"
	"github.com/csr/ledger/internal/infrastructure/cache"
	"github.com/csr/ledger/internal/infrastructure/config"
	"github.com/csr/ledger/internal/infrastructure/delivery"
	"github.com/csr/ledger/internal/infrastructure/event"
	"github.com/csr/ledger/internal/infrastructure/idgen"
	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/csr/ledger/internal/infrastructure/persistence"
	"github.com/csr/ledger/internal/infrastructure/scheduler"
	"github.com/csr/ledger/internal/infrastructure/telemetry"
	"github.com/csr/ledger/internal/interfaces/http/handler"
	"github.com/csr/ledger/internal/interfaces/http/middleware"
	"github.com/csr/ledger/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	production := cfg.App.Env == "production"

	// A bootstrap logger covers telemetry setup; the final logger tees into
	// the OTLP log bridge once the providers exist.
	logCfg := logger.Defaults(cfg.App.Env)
	logCfg.Service = cfg.App.Name
	if cfg.Log.Level != "" {
		logCfg.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		logCfg.Format = cfg.Log.Format
	}
	if cfg.Log.Output != "" {
		logCfg.Output = cfg.Log.Output
	}
	bootLog, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Telemetry.ServiceVersion = version
	stack, err := telemetry.Setup(ctx, cfg.Telemetry, bootLog)
	if err != nil {
		bootLog.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	log, err := logger.NewTee(logCfg, stack.LogCore(cfg.Telemetry.ServiceName, zapcore.InfoLevel))
	if err != nil {
		bootLog.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CSR ledger",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, log, cfg.Telemetry.DBSlowQueryThresh)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := stack.InstrumentDB(ctx, db.DB, cfg.Telemetry); err != nil {
		log.Fatal("Failed to instrument database", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Repositories and the transactional outbox
	orgRepo := persistence.NewGormOrganizationRepository(db.DB)
	paymentRepo := persistence.NewGormPaymentRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	outboxRepo := event.NewGormOutboxRepository(db.DB)

	serializer := event.NewLedgerEventSerializer()
	outboxPublisher := event.NewOutboxPublisher(serializer)
	outboxPublisher.SetMaxRetries(cfg.Event.MaxRetries)
	paymentRepo.SetOutboxEventSaver(outboxPublisher)
	invoiceRepo.SetOutboxEventSaver(outboxPublisher)

	// Redis backed stores fall back to in-process ones outside production
	cacheCfg := cache.DefaultAnalyticsCacheConfig()
	if cfg.Ledger.AnalyticsCacheTTL > 0 {
		cacheCfg.TTL = cfg.Ledger.AnalyticsCacheTTL
	}
	factory := cache.NewFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!production),
		cache.WithAnalyticsCacheConfig(cacheCfg),
	)
	idempotency, err := factory.CreateIdempotencyStore()
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() { _ = idempotency.Close() }()

	analyticsCache, err := factory.CreateAnalyticsCache()
	if err != nil {
		log.Fatal("Failed to create analytics cache", zap.Error(err))
	}
	defer func() { _ = analyticsCache.Close() }()
	if tiered, ok := analyticsCache.(*cache.TieredAnalyticsCache); ok {
		if err := tiered.StartInvalidationSubscription(ctx); err != nil {
			log.Warn("Analytics cache invalidation subscription failed", zap.Error(err))
		}
	}

	// Application services
	numbers, err := idgen.NewSnowflakePaymentNumbers(cfg.Ledger.SnowflakeNodeID)
	if err != nil {
		log.Fatal("Failed to create payment number generator", zap.Error(err))
	}
	organizationService := appledger.NewOrganizationService(orgRepo, log)
	paymentService := appledger.NewPaymentService(paymentRepo, orgRepo, numbers, log)
	invoiceService := appledger.NewInvoiceService(invoiceRepo, paymentRepo, organizationService, paymentService, log)
	paymentService.SetInvoiceChecker(invoiceService)
	analyticsService := appledger.NewAnalyticsService(invoiceRepo, analyticsCache, cfg.Ledger.AnalyticsCacheTTL, log)
	reconciler := appledger.NewSettlementReconciler(invoiceRepo, paymentRepo, paymentService, invoiceService, cfg.Ledger.ReconcileBatch, log)
	outboxService := appevent.NewOutboxService(outboxRepo, log)

	ledgerMetrics, err := telemetry.NewLedgerMetrics(telemetry.LedgerMetricsConfig{
		Meter:    stack.Meter.Meter("csr-ledger"),
		Logger:   log,
		Provider: invoiceRepo,
	})
	if err != nil {
		log.Warn("Ledger metrics unavailable", zap.Error(err))
	} else {
		paymentService.SetLedgerMetrics(ledgerMetrics)
		invoiceService.SetLedgerMetrics(ledgerMetrics)
		if stack.Meter.IsEnabled() {
			ledgerMetrics.StartPeriodicCollection(ctx, orgRepo, time.Minute)
			defer ledgerMetrics.Stop()
		}
	}

	// Invoice delivery channels
	deliverers := []ledger.Deliverer{delivery.NewEmailDeliverer(cfg.App.Name, log)}
	if cfg.Storage.Enabled {
		store, err := delivery.NewS3Store(&cfg.Storage,
			delivery.WithLogger(log),
			delivery.WithPresignExpiration(cfg.Storage.PresignExpiration),
		)
		if err != nil {
			log.Fatal("Failed to create object store", zap.Error(err))
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Warn("Could not verify invoice bucket", zap.String("bucket", store.Bucket()), zap.Error(err))
		}
		deliverers = append(deliverers, delivery.NewPortalDeliverer(store, "invoices", cfg.Storage.PresignExpiration, log))
	} else {
		log.Info("Object storage disabled, portal delivery unavailable")
	}

	// Event bus: outbox entries are dispatched to idempotent handlers
	eventBus := event.NewInMemoryEventBus(log)
	idemCfg := shared.DefaultIdempotencyConfig()
	if cfg.Event.IdempotencyTTL > 0 {
		idemCfg.TTL = cfg.Event.IdempotencyTTL
	}
	subscribe := func(name string, h shared.EventHandler) {
		eventBus.Subscribe(event.NewIdempotentHandler(name, h, idempotency, idemCfg, log), h.EventTypes()...)
	}
	subscribe("invoice-paid", appledger.NewInvoicePaidHandler(paymentService, log))
	subscribe("invoice-delivery", appledger.NewInvoiceDeliveryHandler(invoiceRepo, invoiceService, log, deliverers...))
	subscribe("analytics-invalidation", appledger.NewAnalyticsInvalidationHandler(analyticsService, log))

	if cfg.Event.ProcessorEnabled {
		processorCfg := event.OutboxProcessorConfigFrom(cfg.Event)
		processor := event.NewOutboxProcessor(outboxRepo, eventBus, serializer, processorCfg, log)
		if err := processor.Start(ctx); err != nil {
			log.Fatal("Failed to start outbox processor", zap.Error(err))
		}
		defer func() {
			if err := processor.Stop(context.Background()); err != nil {
				log.Error("Error stopping outbox processor", zap.Error(err))
			}
		}()
		log.Info("Outbox processor started",
			zap.Int("batch_size", processorCfg.BatchSize),
			zap.Duration("poll_interval", processorCfg.PollInterval),
		)
	}

	// Daily maintenance: overdue sweep and settlement reconciliation
	var (
		runner  handler.MaintenanceRunner
		trigger handler.MaintenanceTrigger
	)
	if cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(scheduler.SchedulerConfigFrom(cfg.Scheduler), scheduler.NewLedgerJobExecutor(reconciler, log), log)
		if err := sched.Start(ctx); err != nil {
			log.Fatal("Failed to start maintenance scheduler", zap.Error(err))
		}
		defer func() {
			if err := sched.Stop(context.Background()); err != nil {
				log.Error("Error stopping maintenance scheduler", zap.Error(err))
			}
		}()

		triggerCfg, err := scheduler.CronTriggerConfigFromSchedule(cfg.Scheduler.DailyCronSchedule)
		if err != nil {
			log.Fatal("Invalid maintenance schedule", zap.Error(err))
		}
		cron := scheduler.NewCronTrigger(triggerCfg, sched, organizationService, log)
		if err := cron.Start(ctx); err != nil {
			log.Fatal("Failed to start cron trigger", zap.Error(err))
		}
		defer func() {
			if err := cron.Stop(context.Background()); err != nil {
				log.Error("Error stopping cron trigger", zap.Error(err))
			}
		}()
		runner, trigger = sched, cron
	}

	// HTTP
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		defer limiter.Stop()
	}
	var jwtService *auth.JWTService
	if cfg.JWT.Enabled {
		jwtService = auth.NewJWTService(cfg.JWT)
	}

	engine := router.New(router.Options{
		HTTP:        cfg.HTTP,
		ServiceName: cfg.Telemetry.ServiceName,
		Production:  production,
		Tracing:     stack.Tracer.IsEnabled(),
		Profiling:   stack.Profiler.IsEnabled(),
		Meter:       stack.Meter,
		JWT:         jwtService,
		Limiter:     limiter,
		Logger:      log,
	}, router.Handlers{
		System:        handler.NewSystemHandler(cfg.App.Name, version, db, runner, trigger),
		Organizations: handler.NewOrganizationHandler(organizationService),
		Payments:      handler.NewPaymentHandler(paymentService),
		Invoices:      handler.NewInvoiceHandler(invoiceService),
		Analytics:     handler.NewAnalyticsHandler(analyticsService),
		Outbox:        handler.NewOutboxHandler(outboxService),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := stack.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
