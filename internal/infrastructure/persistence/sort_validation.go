package persistence

import (
	"slices"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sortColumns whitelists the columns a list endpoint may order by. Client
// input never reaches ORDER BY unless it names one of these exactly.
type sortColumns []string

var (
	OrganizationSortFields = sortColumns{"id", "name", "active", "created_at", "updated_at"}
	PaymentSortFields      = sortColumns{
		"id", "payment_number", "amount", "status", "approval_status",
		"payment_type", "completed_at", "created_at", "updated_at",
	}
	InvoiceSortFields = sortColumns{
		"id", "invoice_number", "total_amount", "paid_amount", "status",
		"issue_date", "due_date", "paid_at", "created_at", "updated_at",
	}
)

// column returns the whitelisted column named by field, or fallback.
func (s sortColumns) column(field, fallback string) string {
	if f := strings.TrimSpace(field); slices.Contains(s, f) {
		return f
	}
	return fallback
}

// descending is true unless dir is "asc" in any case.
func descending(dir string) bool {
	return !strings.EqualFold(strings.TrimSpace(dir), "asc")
}

// applySort orders by a whitelisted column and direction. Unknown columns
// fall back to newest first.
func applySort(query *gorm.DB, orderBy, orderDir string, allowed sortColumns) *gorm.DB {
	col := allowed.column(orderBy, "")
	if col == "" {
		return query.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true})
	}
	return query.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: descending(orderDir)})
}
