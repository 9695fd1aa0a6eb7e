package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/csr/ledger/internal/infrastructure/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultSlowQuery         = 200 * time.Millisecond
	defaultPoolStatsInterval = 15 * time.Second
)

// DBMetricsConfig configures query and pool metrics.
type DBMetricsConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
	PoolStatsInterval  time.Duration
}

func DefaultDBMetricsConfig() DBMetricsConfig {
	return DBMetricsConfig{
		Enabled:            true,
		SlowQueryThreshold: defaultSlowQuery,
		PoolStatsInterval:  defaultPoolStatsInterval,
	}
}

// DBMetrics records ledger_db_* instruments: query counts, latency, slow
// queries, failures and connection pool occupancy.
type DBMetrics struct {
	pool       *Gauge
	poolMax    *Gauge
	queries    *Counter
	latency    *Histogram
	slow       *Counter
	queryFails *Counter

	cfg DBMetricsConfig
	log *zap.Logger

	mu    sync.RWMutex
	sqlDB *sql.DB

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDBMetrics(meter metric.Meter, cfg DBMetricsConfig, log *zap.Logger) (*DBMetrics, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = defaultSlowQuery
	}
	if cfg.PoolStatsInterval <= 0 {
		cfg.PoolStatsInterval = defaultPoolStatsInterval
	}

	m := &DBMetrics{cfg: cfg, log: log, stop: make(chan struct{})}
	var err error
	if m.pool, err = NewGauge(meter, "ledger_db_pool_connections", "Pool connections by state", "{connection}"); err != nil {
		return nil, err
	}
	if m.poolMax, err = NewGauge(meter, "ledger_db_pool_connections_max", "Configured pool size", "{connection}"); err != nil {
		return nil, err
	}
	if m.queries, err = NewCounter(meter, "ledger_db_query_total", "Statements executed by operation", "{query}"); err != nil {
		return nil, err
	}
	if m.slow, err = NewCounter(meter, "ledger_db_slow_query_total", "Statements slower than the slow query threshold", "{query}"); err != nil {
		return nil, err
	}
	if m.queryFails, err = NewCounter(meter, "ledger_db_query_errors_total", "Statements that returned an error other than not found", "{query}"); err != nil {
		return nil, err
	}
	m.latency, err = NewHistogram(meter, HistogramOpts{
		Name:        "ledger_db_query_duration_seconds",
		Description: "Statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// SetSQLDB attaches the pool sampled by StartPoolStatsCollection.
func (m *DBMetrics) SetSQLDB(db *sql.DB) {
	m.mu.Lock()
	m.sqlDB = db
	m.mu.Unlock()
}

func (m *DBMetrics) pooled() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sqlDB
}

// StartPoolStatsCollection samples the pool now and then every
// PoolStatsInterval until Stop or ctx cancellation.
func (m *DBMetrics) StartPoolStatsCollection(ctx context.Context) {
	if m.pooled() == nil {
		m.log.Warn("pool stats not started: no sql.DB attached")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		tick := time.NewTicker(m.cfg.PoolStatsInterval)
		defer tick.Stop()
		for {
			m.samplePool(ctx)
			select {
			case <-tick.C:
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *DBMetrics) samplePool(ctx context.Context) {
	db := m.pooled()
	if db == nil {
		return
	}
	s := db.Stats()
	m.poolMax.Record(ctx, int64(s.MaxOpenConnections))
	m.pool.Record(ctx, int64(s.Idle), AttrDBState.String("idle"))
	m.pool.Record(ctx, int64(s.InUse), AttrDBState.String("in_use"))
	m.pool.Record(ctx, int64(s.OpenConnections), AttrDBState.String("open"))
}

// Stop ends pool sampling. Idempotent.
func (m *DBMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
	})
}

// RecordQuery counts one statement. Slow statements are also counted per
// table and organization.
func (m *DBMetrics) RecordQuery(ctx context.Context, operation, table string, d time.Duration, err error) {
	op := AttrDBOperation.String(strings.ToUpper(cmpOr(operation, "unknown")))
	m.queries.Inc(ctx, op)
	m.latency.RecordDuration(ctx, d, op)

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		m.queryFails.Inc(ctx, op)
	}
	if d <= m.cfg.SlowQueryThreshold {
		return
	}
	attrs := []attribute.KeyValue{AttrDBTable.String(cmpOr(table, "unknown"))}
	if org := logger.GetOrganizationID(ctx); org != "" {
		attrs = append(attrs, AttrOrganizationID.String(org))
	}
	m.slow.Inc(ctx, attrs...)
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// DBMetricsPlugin is the gorm.Plugin that feeds DBMetrics.
type DBMetricsPlugin struct {
	metrics *DBMetrics
	log     *zap.Logger
}

func NewDBMetricsPlugin(metrics *DBMetrics, log *zap.Logger) *DBMetricsPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &DBMetricsPlugin{metrics: metrics, log: log}
}

func (p *DBMetricsPlugin) Name() string { return "ledger:db_metrics" }

type metricsStartKey struct{}

// Initialize times every statement kind. Row and Raw statements carry no
// fixed operation, so theirs is read off the SQL text.
func (p *DBMetricsPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	type register func(string, func(*gorm.DB)) error
	kinds := []struct {
		name, op      string
		before, after register
	}{
		{"create", "INSERT", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", "SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", "UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", "DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", "", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", "", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, k := range kinds {
		op := k.op
		if err := k.before("ledger_metrics:before_"+k.name, startTimer); err != nil {
			return err
		}
		if err := k.after("ledger_metrics:after_"+k.name, func(tx *gorm.DB) {
			p.observe(tx, op)
		}); err != nil {
			return err
		}
	}
	return nil
}

func startTimer(tx *gorm.DB) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tx.Statement.Context = context.WithValue(ctx, metricsStartKey{}, time.Now())
}

func (p *DBMetricsPlugin) observe(tx *gorm.DB, op string) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if op == "" {
		op = detectOperationType(tx.Statement.SQL.String())
	}
	var elapsed time.Duration
	if start, ok := ctx.Value(metricsStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	p.metrics.RecordQuery(ctx, op, tx.Statement.Table, elapsed, tx.Error)
}

func detectOperationType(stmt string) string {
	verb, _, _ := strings.Cut(strings.TrimSpace(stmt), " ")
	switch v := strings.ToUpper(verb); v {
	case "SELECT", "INSERT", "UPDATE", "DELETE":
		return v
	default:
		return "OTHER"
	}
}

// RegisterDBMetrics installs DBMetricsPlugin on db. It returns nil when
// metrics are off; the caller owns Stop on a non-nil result.
func RegisterDBMetrics(db *gorm.DB, mp *MeterProvider, cfg DBMetricsConfig, log *zap.Logger) (*DBMetrics, error) {
	if !cfg.Enabled || mp == nil || !mp.IsEnabled() {
		return nil, nil
	}

	metrics, err := NewDBMetrics(mp.Meter("ledger.db"), cfg, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	metrics.SetSQLDB(sqlDB)
	if err := db.Use(NewDBMetricsPlugin(metrics, log)); err != nil {
		return nil, err
	}

	log.Info("database metrics registered",
		zap.Duration("slow_query_threshold", metrics.cfg.SlowQueryThreshold),
		zap.Duration("pool_stats_interval", metrics.cfg.PoolStatsInterval),
	)
	return metrics, nil
}
