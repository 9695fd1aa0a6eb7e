// Package orgscope keeps ledger queries inside one funding organization.
//
// Repositories pass the organization explicitly through Scope. The callback
// registered by Register is a second line: statements against tables that
// carry an organization_id column and have no organization condition of their
// own get one added from the request context.
//
// Usage:
//
//	orgscope.Register(db, orgscope.DefaultConfig())
//	db.WithContext(logger.WithOrganizationID(ctx, id)).Find(&invoices)
//	// WHERE "invoices"."organization_id" = 'id' is added
package orgscope

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultColumn is the organization column on scoped tables
const DefaultColumn = "organization_id"

var (
	// ErrOrganizationRequired is returned when a scoped statement runs without an organization
	ErrOrganizationRequired = errors.New("organization_id is required but not found in context")

	// ErrInvalidOrganizationID is returned when the organization id is not a UUID
	ErrInvalidOrganizationID = errors.New("invalid organization_id format")
)

// Scope filters a query to one organization. The column is qualified with
// the statement's table so joined queries stay unambiguous. Repositories pass
// the organization explicitly through it; the callback then sees the
// condition and leaves the statement alone.
func Scope(organizationID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: DefaultColumn},
			Value:  organizationID,
		})
	}
}

// Config controls the scoping callback
type Config struct {
	// Column is the organization column name (default: organization_id)
	Column string
	// Required fails scoped statements that run without an organization in context
	Required bool
}

// DefaultConfig scopes by organization_id without requiring it. Background
// jobs run across organizations and pass the id explicitly.
func DefaultConfig() Config {
	return Config{Column: DefaultColumn}
}
