package telemetry

import (
	"context"
	"errors"

	"github.com/csr/ledger/internal/infrastructure/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Stack holds the telemetry providers of one process
type Stack struct {
	Tracer   *TracerProvider
	Meter    *MeterProvider
	Logs     *LoggerProvider
	Profiler *Profiler
	DB       *DBMetrics

	logger *zap.Logger
}

// Setup builds every provider enabled in cfg. Disabled providers are no-ops,
// so callers use the returned Stack unconditionally.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Stack, error) {
	s := &Stack{logger: logger}
	var err error

	s.Tracer, err = NewTracerProvider(ctx, Config{
		Enabled:           cfg.Enabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		SamplingRatio:     cfg.SamplingRatio,
		ServiceName:       cfg.ServiceName,
		ServiceVersion:    cfg.ServiceVersion,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, err
	}

	s.Meter, err = NewMeterProvider(ctx, MetricsConfig{
		Enabled:           cfg.Enabled && cfg.MetricsEnabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ExportInterval:    cfg.MetricsInterval,
		ServiceName:       cfg.ServiceName,
		ServiceVersion:    cfg.ServiceVersion,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, errors.Join(err, s.Shutdown(ctx))
	}

	s.Logs, err = NewLoggerProvider(ctx, LogsConfig{
		Enabled:           cfg.Enabled && cfg.LogsEnabled,
		CollectorEndpoint: cfg.CollectorEndpoint,
		ServiceName:       cfg.ServiceName,
		ServiceVersion:    cfg.ServiceVersion,
		Insecure:          cfg.Insecure,
	}, logger)
	if err != nil {
		return nil, errors.Join(err, s.Shutdown(ctx))
	}

	s.Profiler, err = NewProfiler(ProfilerConfig{
		Enabled:         cfg.ProfilingEnabled,
		ServerAddress:   cfg.PyroscopeURL,
		ApplicationName: cfg.ServiceName,
		ServiceVersion:  cfg.ServiceVersion,
	}, logger)
	if err != nil {
		return nil, errors.Join(err, s.Shutdown(ctx))
	}
	if s.Profiler.IsEnabled() {
		if err := s.Tracer.EnableSpanProfiles(); err != nil {
			logger.Warn("span profiles unavailable", zap.Error(err))
		}
	}

	return s, nil
}

// LogCore returns the OTEL log bridge core, a no-op core when logs are disabled
func (s *Stack) LogCore(serviceName string, level zapcore.Level) zapcore.Core {
	return NewZapOTELCore(ZapBridgeConfig{
		ServiceName:    serviceName,
		LoggerProvider: s.Logs,
		Level:          level,
	})
}

// InstrumentDB installs query tracing and pool/query metrics on db
func (s *Stack) InstrumentDB(ctx context.Context, db *gorm.DB, cfg config.TelemetryConfig) error {
	tracing := DefaultDBTracingConfig()
	tracing.Enabled = cfg.Enabled && cfg.DBTraceEnabled
	tracing.LogFullSQL = cfg.DBLogFullSQL
	if cfg.DBSlowQueryThresh > 0 {
		tracing.SlowQueryThresh = cfg.DBSlowQueryThresh
	}
	if err := NewDBTracingPlugin(tracing, s.logger).RegisterOtelGorm(db); err != nil {
		return err
	}

	metricsCfg := DefaultDBMetricsConfig()
	metricsCfg.SlowQueryThreshold = tracing.SlowQueryThresh
	dbMetrics, err := RegisterDBMetrics(db, s.Meter, metricsCfg, s.logger)
	if err != nil {
		return err
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
		s.DB = dbMetrics
	}
	return nil
}

// Shutdown stops every provider, flushing pending data. Nil members are skipped.
func (s *Stack) Shutdown(ctx context.Context) error {
	var errs []error
	if s.DB != nil {
		s.DB.Stop()
	}
	if s.Profiler != nil {
		errs = append(errs, s.Profiler.Stop())
	}
	if s.Logs != nil {
		errs = append(errs, s.Logs.Shutdown(ctx))
	}
	if s.Meter != nil {
		errs = append(errs, s.Meter.Shutdown(ctx))
	}
	if s.Tracer != nil {
		errs = append(errs, s.Tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
