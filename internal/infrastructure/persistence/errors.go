package persistence

import (
	"errors"
	"strings"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/csr/ledger/internal/infrastructure/persistence/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE of a unique constraint violation
const pgUniqueViolation = "23505"

// uniqueViolation reports the violated index name when err is a unique
// constraint violation. Postgres errors carry the constraint name; sqlite only
// reports "UNIQUE constraint failed: <table>.<column>", which is mapped back
// to the index name.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return "", false
		}
		return pgErr.ConstraintName, true
	}

	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return "", false
	}
	switch {
	case strings.Contains(msg, "invoices.invoice_number"):
		return models.IndexInvoiceNumber, true
	case strings.Contains(msg, "invoices.payment_id"):
		return models.IndexInvoiceActivePayment, true
	case strings.Contains(msg, "payments.payment_number"):
		return models.IndexPaymentNumber, true
	}
	return "", true
}

// translateInvoiceInsertError maps unique violations raised while inserting
// an invoice to ledger errors. Other errors are returned unchanged.
func translateInvoiceInsertError(err error, paymentNumber string) error {
	index, ok := uniqueViolation(err)
	if !ok {
		return err
	}
	switch index {
	case models.IndexInvoiceNumber:
		return shared.ErrNumberConflict
	case models.IndexInvoiceActivePayment:
		return shared.NewDomainError(shared.CodeDuplicateInvoice,
			"an active invoice already exists for payment "+paymentNumber)
	}
	return shared.NewDomainError(shared.CodeAlreadyExists, "invoice already exists")
}
