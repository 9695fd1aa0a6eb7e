//go:build integration

package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/csr/ledger/internal/domain/ledger"
	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/migration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// startPostgres runs a migrated postgres container for the test
func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("csr_ledger_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.New(sqlDB, migration.EmbeddedSource(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	status, err := m.Status()
	require.NoError(t, err)
	assert.Empty(t, status.Pending)
	assert.False(t, status.Dirty)

	return db
}

func TestPostgres_InvoiceLifecycle(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	orgs := NewGormOrganizationRepository(db)
	payments := NewGormPaymentRepository(db)
	invoices := NewGormInvoiceRepository(db)

	org := newOrganization(t, "Acme Foundation")
	require.NoError(t, orgs.Save(ctx, org))

	p := saveApprovedPayment(t, payments, org.ID, "PAY-PG-1", 150000)

	number, err := invoices.GenerateInvoiceNumber(ctx, time.Now())
	require.NoError(t, err)
	inv := issueInvoice(t, invoices, p, number)

	t.Run("partial unique index rejects a second active invoice", func(t *testing.T) {
		dup := newInvoiceFor(t, p, ledger.FormatInvoiceNumber(time.Now(), 9000))
		p.LinkInvoice(dup.ID, dup.InvoiceNumber, uuid.New())
		err := invoices.CreateWithPaymentLink(ctx, dup, p)
		assert.Equal(t, shared.CodeDuplicateInvoice, shared.ErrorCode(err))

		// resync the in-memory payment with the stored row
		stored, err := payments.FindByIDForOrganization(ctx, org.ID, p.ID)
		require.NoError(t, err)
		*p = *stored
	})

	t.Run("invoice number index reports a conflict", func(t *testing.T) {
		other := saveApprovedPayment(t, payments, org.ID, "PAY-PG-2", 1000)
		clash := newInvoiceFor(t, other, inv.InvoiceNumber)
		other.LinkInvoice(clash.ID, clash.InvoiceNumber, uuid.New())
		err := invoices.CreateWithPaymentLink(ctx, clash, other)
		assert.ErrorIs(t, err, shared.ErrNumberConflict)
	})

	t.Run("payment settles the invoice", func(t *testing.T) {
		require.NoError(t, inv.Send(ledger.DeliveryMethodEmail, "", uuid.New()))
		require.NoError(t, invoices.SaveWithLock(ctx, inv))
		_, err := inv.RecordPayment(ledger.PaymentReferenceInput{PaymentMethod: "neft", Amount: inv.TotalAmount}, uuid.New())
		require.NoError(t, err)
		require.NoError(t, invoices.SaveWithLock(ctx, inv))

		unsettled, err := invoices.FindPaidWithUnsettledPayment(ctx, org.ID, 10)
		require.NoError(t, err)
		require.Len(t, unsettled, 1)
		assert.Equal(t, inv.ID, unsettled[0].ID)

		outstanding, err := invoices.OutstandingAmount(ctx, org.ID)
		require.NoError(t, err)
		assert.True(t, outstanding.IsZero())
	})
}
