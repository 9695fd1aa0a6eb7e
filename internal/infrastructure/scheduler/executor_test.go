package scheduler

import (
	"context"
	"errors"
	"testing"

	appledger "github.com/csr/ledger/internal/application/ledger"
	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockMaintainer struct {
	mock.Mock
}

func (m *mockMaintainer) Reconcile(ctx context.Context, organizationID uuid.UUID) (*appledger.ReconcileReport, error) {
	args := m.Called(ctx, organizationID)
	report, _ := args.Get(0).(*appledger.ReconcileReport)
	return report, args.Error(1)
}

func (m *mockMaintainer) SweepOverdue(ctx context.Context, organizationID uuid.UUID) (int, error) {
	args := m.Called(ctx, organizationID)
	return args.Int(0), args.Error(1)
}

func TestLedgerJobExecutor_Execute(t *testing.T) {
	orgID := uuid.New()

	tests := []struct {
		name    string
		jobType JobType
		setup   func(m *mockMaintainer)
		wantErr string
	}{
		{
			name:    "sweep overdue",
			jobType: JobTypeSweepOverdue,
			setup: func(m *mockMaintainer) {
				m.On("SweepOverdue", mock.Anything, orgID).Return(3, nil)
			},
		},
		{
			name:    "sweep error",
			jobType: JobTypeSweepOverdue,
			setup: func(m *mockMaintainer) {
				m.On("SweepOverdue", mock.Anything, orgID).Return(0, errors.New("db down"))
			},
			wantErr: "sweep overdue: db down",
		},
		{
			name:    "clean reconciliation",
			jobType: JobTypeReconcileSettlements,
			setup: func(m *mockMaintainer) {
				m.On("Reconcile", mock.Anything, orgID).
					Return(&appledger.ReconcileReport{OrganizationID: orgID, PaymentsCompleted: 2}, nil)
			},
		},
		{
			name:    "reconciliation with failures is retried",
			jobType: JobTypeReconcileSettlements,
			setup: func(m *mockMaintainer) {
				m.On("Reconcile", mock.Anything, orgID).
					Return(&appledger.ReconcileReport{OrganizationID: orgID, Failures: 1}, nil)
			},
			wantErr: "1 item(s) failed",
		},
		{
			name:    "unknown job type",
			jobType: JobType("UNKNOWN"),
			setup:   func(*mockMaintainer) {},
			wantErr: ErrInvalidJobType.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockMaintainer{}
			tt.setup(m)
			exec := NewLedgerJobExecutor(m, zap.NewNop())

			err := exec.Execute(context.Background(), NewJob(orgID, tt.jobType, 0))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestLedgerJobExecutor_ScopesContextToOrganization(t *testing.T) {
	orgID := uuid.New()
	m := &mockMaintainer{}
	m.On("SweepOverdue", mock.MatchedBy(func(ctx context.Context) bool {
		return logger.GetOrganizationID(ctx) == orgID.String()
	}), orgID).Return(0, nil)

	err := NewLedgerJobExecutor(m, nil).Execute(context.Background(), NewJob(orgID, JobTypeSweepOverdue, 0))
	assert.NoError(t, err)
	m.AssertExpectations(t)
}
