package ledger

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultAnalyticsWindow is used when a caller gives no time window
const DefaultAnalyticsWindow = 90 * 24 * time.Hour

// defaultWindowStep rounds the open end of a default window so repeated
// requests land on the same cache key
const defaultWindowStep = time.Minute

// AnalyticsCache stores computed analytics views per organization
type AnalyticsCache interface {
	Get(ctx context.Context, key string) (*ledger.Analytics, bool, error)
	Set(ctx context.Context, organizationID uuid.UUID, key string, value *ledger.Analytics, ttl time.Duration) error
	InvalidateOrganization(ctx context.Context, organizationID uuid.UUID) error
}

// AnalyticsService builds reporting views over invoices
type AnalyticsService struct {
	invoiceRepo ledger.InvoiceRepository
	cache       AnalyticsCache
	cacheTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewAnalyticsService creates a new AnalyticsService. cache may be nil.
func NewAnalyticsService(invoiceRepo ledger.InvoiceRepository, cache AnalyticsCache, cacheTTL time.Duration, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{
		invoiceRepo: invoiceRepo,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the time source
func (s *AnalyticsService) SetClock(now func() time.Time) {
	s.now = now
}

// Window resolves an optional [from, to) range, defaulting to the trailing window
func (s *AnalyticsService) Window(from, to *time.Time) (time.Time, time.Time, error) {
	end := s.now().Truncate(defaultWindowStep).Add(defaultWindowStep)
	if to != nil {
		end = *to
	}
	start := end.Add(-DefaultAnalyticsWindow)
	if from != nil {
		start = *from
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, shared.NewDomainError(shared.CodeInvalidInput, "from must be before to")
	}
	return start, end, nil
}

// StatusBreakdown counts and sums invoices per status issued in the window
func (s *AnalyticsService) StatusBreakdown(ctx context.Context, organizationID uuid.UUID, from, to time.Time) ([]ledger.StatusBucket, error) {
	buckets, err := s.invoiceRepo.StatusBreakdown(ctx, organizationID, from, to)
	if err != nil {
		return nil, err
	}
	return ledger.NormalizeBreakdown(buckets), nil
}

// OverdueCount counts unsettled invoices past their due date now
func (s *AnalyticsService) OverdueCount(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	return s.invoiceRepo.CountOverdue(ctx, organizationID, s.now())
}

// AveragePaymentDays is the mean issue-to-paid time of invoices issued in the window
func (s *AnalyticsService) AveragePaymentDays(ctx context.Context, organizationID uuid.UUID, from, to time.Time) (float64, error) {
	samples, err := s.invoiceRepo.FindSettlementSamples(ctx, organizationID, from, to)
	if err != nil {
		return 0, err
	}
	return roundDays(ledger.AverageSettlementDays(samples)), nil
}

// GetAnalytics returns the combined view. The window aggregates are served
// from cache when available; the overdue count is always read fresh.
func (s *AnalyticsService) GetAnalytics(ctx context.Context, organizationID uuid.UUID, from, to time.Time) (*ledger.Analytics, error) {
	view, err := s.windowView(ctx, organizationID, from, to)
	if err != nil {
		return nil, err
	}
	overdue, err := s.OverdueCount(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	out := *view
	out.OverdueCount = overdue
	return &out, nil
}

// windowView returns the cacheable part of the view, which depends only on the window
func (s *AnalyticsService) windowView(ctx context.Context, organizationID uuid.UUID, from, to time.Time) (*ledger.Analytics, error) {
	key := analyticsKey(organizationID, from, to)
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	breakdown, err := s.StatusBreakdown(ctx, organizationID, from, to)
	if err != nil {
		return nil, err
	}
	avg, err := s.AveragePaymentDays(ctx, organizationID, from, to)
	if err != nil {
		return nil, err
	}

	view := &ledger.Analytics{
		OrganizationID:     organizationID.String(),
		From:               from,
		To:                 to,
		StatusBreakdown:    breakdown,
		AveragePaymentDays: avg,
		GeneratedAt:        s.now(),
	}
	view.Summarize()

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.Set(ctx, organizationID, key, view, s.cacheTTL); err != nil {
			s.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return view, nil
}

// Invalidate drops cached analytics of an organization
func (s *AnalyticsService) Invalidate(ctx context.Context, organizationID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateOrganization(ctx, organizationID)
}

func analyticsKey(organizationID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("analytics:%s:%d:%d", organizationID, from.Unix(), to.Unix())
}

func roundDays(d float64) float64 {
	return math.Round(d*100) / 100
}
