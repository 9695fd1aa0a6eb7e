package scheduler

import (
	"context"
	"fmt"

	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SettlementMaintainer is the application surface the daily jobs drive
type SettlementMaintainer interface {
	Reconcile(ctx context.Context, organizationID uuid.UUID) (*appledger.ReconcileReport, error)
	SweepOverdue(ctx context.Context, organizationID uuid.UUID) (int, error)
}

// LedgerJobExecutor executes ledger maintenance jobs
type LedgerJobExecutor struct {
	maintainer SettlementMaintainer
	logger     *zap.Logger
}

// NewLedgerJobExecutor creates a new LedgerJobExecutor
func NewLedgerJobExecutor(maintainer SettlementMaintainer, logger *zap.Logger) *LedgerJobExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerJobExecutor{maintainer: maintainer, logger: logger}
}

// Execute runs the job. A reconciliation pass with per-item failures is
// reported as an error so the scheduler retries it.
func (e *LedgerJobExecutor) Execute(ctx context.Context, job *Job) error {
	ctx, log := logger.WithOrganizationID(ctx, e.logger, job.OrganizationID.String())

	switch job.Type {
	case JobTypeSweepOverdue:
		swept, err := e.maintainer.SweepOverdue(ctx, job.OrganizationID)
		if err != nil {
			return fmt.Errorf("sweep overdue: %w", err)
		}
		log.Info("Overdue sweep finished", zap.Int("invoices", swept))
		return nil

	case JobTypeReconcileSettlements:
		report, err := e.maintainer.Reconcile(ctx, job.OrganizationID)
		if err != nil {
			return fmt.Errorf("reconcile settlements: %w", err)
		}
		if report.Failures > 0 {
			return fmt.Errorf("reconcile settlements: %d item(s) failed", report.Failures)
		}
		return nil
	}
	return ErrInvalidJobType
}

var _ JobExecutor = (*LedgerJobExecutor)(nil)
