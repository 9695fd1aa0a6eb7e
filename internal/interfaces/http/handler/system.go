package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/csr/ledger/internal/infrastructure/persistence"
	"github.com/csr/ledger/internal/infrastructure/scheduler"
	"github.com/csr/ledger/internal/interfaces/http/dto"
)

// DatabaseChecker reports database liveness
type DatabaseChecker interface {
	Ping() error
	Stats() (persistence.ConnectionStats, error)
}

// MaintenanceRunner exposes the maintenance scheduler to the API
type MaintenanceRunner interface {
	Stats() scheduler.Stats
}

// MaintenanceTrigger queues maintenance jobs on demand
type MaintenanceTrigger interface {
	Status() scheduler.TriggerStatus
	TriggerManual(ctx context.Context, organizationID *uuid.UUID, jobType *scheduler.JobType) error
}

// SystemHandler serves health, ping and maintenance endpoints
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	db        DatabaseChecker
	runner    MaintenanceRunner
	trigger   MaintenanceTrigger
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. runner and trigger may be nil
// when the scheduler is disabled.
func NewSystemHandler(name, version string, db DatabaseChecker, runner MaintenanceRunner, trigger MaintenanceTrigger) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		db:        db,
		runner:    runner,
		trigger:   trigger,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                       `json:"status"`
	Name      string                       `json:"name"`
	Version   string                       `json:"version"`
	GoVersion string                       `json:"go_version"`
	Uptime    string                       `json:"uptime"`
	Database  string                       `json:"database"`
	Pool      *persistence.ConnectionStats `json:"pool,omitempty"`
	Scheduler *scheduler.Stats             `json:"scheduler,omitempty"`
	Trigger   *scheduler.TriggerStatus     `json:"trigger,omitempty"`
	Checks    map[string]string            `json:"checks,omitempty"`
}

// Health handles GET /health. An unreachable database answers 503.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Database:  "up",
	}

	status := http.StatusOK
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "down"
			resp.Checks = map[string]string{"database": err.Error()}
			status = http.StatusServiceUnavailable
		} else if stats, err := h.db.Stats(); err == nil {
			resp.Pool = &stats
		}
	}
	if h.runner != nil {
		stats := h.runner.Stats()
		resp.Scheduler = &stats
	}
	if h.trigger != nil {
		st := h.trigger.Status()
		resp.Trigger = &st
	}

	c.JSON(status, dto.Response{Success: status == http.StatusOK, Data: resp})
}

// PingResponse is the body of GET /api/v1/ping
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping handles GET /api/v1/ping
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RunMaintenanceRequest selects the job to queue; empty queues the daily set
type RunMaintenanceRequest struct {
	JobType string `json:"job_type" binding:"omitempty,oneof=SWEEP_OVERDUE RECONCILE_SETTLEMENTS"`
}

// RunMaintenance handles POST /maintenance/run for the caller's organization
func (h *SystemHandler) RunMaintenance(c *gin.Context) {
	orgID, _, ok := h.caller(c)
	if !ok {
		return
	}
	if h.trigger == nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidState, "Maintenance scheduler is disabled")
		return
	}
	var req RunMaintenanceRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	var jobType *scheduler.JobType
	if req.JobType != "" {
		jt := scheduler.JobType(req.JobType)
		jobType = &jt
	}
	if err := h.trigger.TriggerManual(c.Request.Context(), &orgID, jobType); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(gin.H{"queued": true}))
}
