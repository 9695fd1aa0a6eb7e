package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SystemActor performs automated transitions (overdue sweep, reconciliation)
var SystemActor = uuid.Nil

// AuditAction names a state-changing action recorded in an audit trail
type AuditAction string

const (
	AuditActionCreated          AuditAction = "created"
	AuditActionApproved         AuditAction = "approved"
	AuditActionRejected         AuditAction = "rejected"
	AuditActionEscalated        AuditAction = "escalated"
	AuditActionStatusChanged    AuditAction = "status_changed"
	AuditActionInvoiceLinked    AuditAction = "invoice_linked"
	AuditActionGenerated        AuditAction = "generated"
	AuditActionSent             AuditAction = "sent"
	AuditActionViewed           AuditAction = "viewed"
	AuditActionPaymentRecorded  AuditAction = "payment_recorded"
	AuditActionCancelled        AuditAction = "cancelled"
	AuditActionDisputed         AuditAction = "disputed"
	AuditActionOverdue          AuditAction = "overdue"
	AuditActionDeliveryRecorded AuditAction = "delivery_recorded"
)

// AuditEntry is one immutable record of a state change
type AuditEntry struct {
	Action      AuditAction `json:"action"`
	PerformedBy uuid.UUID   `json:"performed_by"`
	Timestamp   time.Time   `json:"timestamp"`
	Details     string      `json:"details,omitempty"`
	OldValue    string      `json:"old_value,omitempty"`
	NewValue    string      `json:"new_value,omitempty"`
}

// AuditTrail is an append-only ordered log stored as JSONB.
// Aggregates only ever append to it; entries are never edited or removed.
type AuditTrail []AuditEntry

func (t *AuditTrail) append(action AuditAction, actor uuid.UUID, at time.Time, details, oldValue, newValue string) {
	*t = append(*t, AuditEntry{
		Action:      action,
		PerformedBy: actor,
		Timestamp:   at,
		Details:     details,
		OldValue:    oldValue,
		NewValue:    newValue,
	})
}

// Last returns the most recent entry
func (t AuditTrail) Last() (AuditEntry, bool) {
	if len(t) == 0 {
		return AuditEntry{}, false
	}
	return t[len(t)-1], true
}

// Entries returns a copy of the trail
func (t AuditTrail) Entries() []AuditEntry {
	out := make([]AuditEntry, len(t))
	copy(out, t)
	return out
}

// Value implements driver.Valuer for JSONB storage
func (t AuditTrail) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for JSONB storage
func (t *AuditTrail) Scan(value interface{}) error {
	return scanJSONArray(value, t, func() { *t = AuditTrail{} })
}

// scanJSONArray decodes a JSONB column into dst, calling empty for NULL or blank values
func scanJSONArray(value interface{}, dst interface{}, empty func()) error {
	if value == nil {
		empty()
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan JSON column: unsupported type")
	}

	if len(bytes) == 0 {
		empty()
		return nil
	}
	return json.Unmarshal(bytes, dst)
}
