package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobType names a ledger maintenance pass.
type JobType string

const (
	// JobTypeSweepOverdue materializes OVERDUE on unpaid invoices past their due date.
	JobTypeSweepOverdue JobType = "SWEEP_OVERDUE"
	// JobTypeReconcileSettlements completes payments whose invoice is PAID and
	// restores missing payment back-references.
	JobTypeReconcileSettlements JobType = "RECONCILE_SETTLEMENTS"
)

var dailyJobs = []JobType{JobTypeSweepOverdue, JobTypeReconcileSettlements}

// AllJobTypes lists the daily passes in run order. Sweeping first lets the
// reconciliation report see fresh overdue counts.
func AllJobTypes() []JobType {
	return append([]JobType(nil), dailyJobs...)
}

func (t JobType) IsValid() bool {
	for _, known := range dailyJobs {
		if t == known {
			return true
		}
	}
	return false
}

// Job is one maintenance pass over one organization.
type Job struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Type           JobType
	Status         JobStatus
	Error          string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
}

func NewJob(organizationID uuid.UUID, jobType JobType, maxRetries int) *Job {
	return &Job{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Type:           jobType,
		Status:         JobStatusPending,
		MaxRetries:     maxRetries,
	}
}

func stamp() *time.Time {
	t := time.Now()
	return &t
}

func (j *Job) Start() {
	j.Status, j.StartedAt, j.Error = JobStatusRunning, stamp(), ""
}

func (j *Job) Complete() {
	j.Status, j.CompletedAt = JobStatusSuccess, stamp()
}

func (j *Job) Fail(reason string) {
	j.Status, j.CompletedAt, j.Error = JobStatusFailed, stamp(), reason
}

// ShouldRetry is true for a failed job with attempts left.
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry resets the job to PENDING and records when it may run again.
func (j *Job) ScheduleRetry(delay time.Duration) {
	at := time.Now().Add(delay)
	j.RetryCount++
	j.Status, j.NextRetryAt, j.Error = JobStatusPending, &at, ""
}

// JobExecutor performs the work of a job.
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}
