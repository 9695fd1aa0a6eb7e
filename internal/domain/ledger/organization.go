package ledger

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/google/uuid"
)

// Address is a postal address
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Contact is the billing contact of an organization
type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// TaxIdentifiers holds the tax registrations printed on invoices
type TaxIdentifiers struct {
	GSTIN string `json:"gstin,omitempty"`
	PAN   string `json:"pan,omitempty"`
	VAT   string `json:"vat,omitempty"`
	EIN   string `json:"ein,omitempty"`
}

// OrganizationSnapshot is the organization's billing details copied onto an invoice at issue time.
// Later edits to the organization never alter an issued invoice.
type OrganizationSnapshot struct {
	OrganizationID uuid.UUID      `json:"organization_id"`
	Name           string         `json:"name"`
	LegalName      string         `json:"legal_name,omitempty"`
	Address        Address        `json:"address"`
	Contact        Contact        `json:"contact"`
	TaxIDs         TaxIdentifiers `json:"tax_ids"`
	CapturedAt     time.Time      `json:"captured_at"`
}

// Value implements driver.Valuer for JSONB storage
func (s OrganizationSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB storage
func (s *OrganizationSnapshot) Scan(value interface{}) error {
	return scanJSONArray(value, s, func() { *s = OrganizationSnapshot{} })
}

// Organization is a funding organization (corporate CSR sponsor)
type Organization struct {
	shared.BaseAggregateRoot
	Name      string
	LegalName string
	Address   Address
	Contact   Contact
	TaxIDs    TaxIdentifiers
	Active    bool
}

// NewOrganization creates an active organization
func NewOrganization(name, legalName string, address Address, contact Contact, taxIDs TaxIdentifiers) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "organization name cannot be empty")
	}
	if len(name) > 200 {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "organization name cannot exceed 200 characters")
	}
	return &Organization{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Name:              name,
		LegalName:         legalName,
		Address:           address,
		Contact:           contact,
		TaxIDs:            taxIDs,
		Active:            true,
	}, nil
}

// UpdateBilling replaces the billing details; issued invoices keep their snapshot
func (o *Organization) UpdateBilling(legalName string, address Address, contact Contact, taxIDs TaxIdentifiers) {
	o.LegalName = legalName
	o.Address = address
	o.Contact = contact
	o.TaxIDs = taxIDs
	o.Touch(time.Now())
	o.IncrementVersion()
}

// Deactivate stops the organization from funding new payments
func (o *Organization) Deactivate() {
	o.Active = false
	o.Touch(time.Now())
	o.IncrementVersion()
}

// Snapshot captures the current billing details
func (o *Organization) Snapshot() OrganizationSnapshot {
	legal := o.LegalName
	if legal == "" {
		legal = o.Name
	}
	return OrganizationSnapshot{
		OrganizationID: o.ID,
		Name:           o.Name,
		LegalName:      legal,
		Address:        o.Address,
		Contact:        o.Contact,
		TaxIDs:         o.TaxIDs,
		CapturedAt:     time.Now(),
	}
}

// OrganizationLookup resolves the billing snapshot for an organization
type OrganizationLookup interface {
	Snapshot(ctx context.Context, organizationID uuid.UUID) (*OrganizationSnapshot, error)
}
