package ledger

import (
	"errors"
	"testing"

	"github.com/csr/ledger/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrganization(t *testing.T) {
	_, err := NewOrganization("  ", "", Address{}, Contact{}, TaxIdentifiers{})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	org, err := NewOrganization("Acme", "", Address{City: "Pune"}, Contact{Email: "csr@acme.test"}, TaxIdentifiers{PAN: "AAAPL1234C"})
	require.NoError(t, err)
	assert.True(t, org.Active)

	snap := org.Snapshot()
	assert.Equal(t, org.ID, snap.OrganizationID)
	assert.Equal(t, "Acme", snap.LegalName)
	assert.Equal(t, "AAAPL1234C", snap.TaxIDs.PAN)
}

func TestOrganization_SnapshotIsDecoupled(t *testing.T) {
	org, err := NewOrganization("Acme", "Acme Pvt Ltd", Address{City: "Pune"}, Contact{}, TaxIdentifiers{})
	require.NoError(t, err)
	snap := org.Snapshot()

	org.UpdateBilling("Acme Holdings", Address{City: "Mumbai"}, Contact{}, TaxIdentifiers{})

	assert.Equal(t, "Pune", snap.Address.City)
	assert.Equal(t, "Acme Pvt Ltd", snap.LegalName)
	assert.Equal(t, 2, org.Version)

	raw, err := snap.Value()
	require.NoError(t, err)
	var scanned OrganizationSnapshot
	require.NoError(t, scanned.Scan(raw))
	assert.Equal(t, snap.Name, scanned.Name)
}
