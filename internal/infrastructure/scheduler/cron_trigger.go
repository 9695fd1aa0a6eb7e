package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrganizationProvider lists the organizations a daily run covers.
type OrganizationProvider interface {
	FindAllActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

const (
	defaultDailyHour   = 2
	defaultDailyMinute = 0
)

type CronTriggerConfig struct {
	DailyHour     int
	DailyMinute   int
	CheckInterval time.Duration
}

func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		DailyHour:     defaultDailyHour,
		DailyMinute:   defaultDailyMinute,
		CheckInterval: time.Minute,
	}
}

// CronTriggerConfigFromSchedule reads the minute and hour of a five-field
// cron expression; the remaining fields are ignored.
func CronTriggerConfigFromSchedule(expr string) (CronTriggerConfig, error) {
	cfg := DefaultCronTriggerConfig()
	hour, minute, err := ParseCronSchedule(expr)
	if err != nil {
		return cfg, err
	}
	cfg.DailyHour, cfg.DailyMinute = hour, minute
	return cfg, nil
}

// ParseCronSchedule accepts "M H * * *" with plain numbers or "*" in the
// first two fields. "*" and an empty expression fall back to 02:00. On error
// the defaults are returned alongside it.
func ParseCronSchedule(expr string) (hour, minute int, err error) {
	fields := strings.Fields(expr)
	if len(fields) < 2 {
		return defaultDailyHour, defaultDailyMinute, nil
	}

	minute, err = cronField(fields[0], defaultDailyMinute, 59, "minute")
	if err == nil {
		hour, err = cronField(fields[1], defaultDailyHour, 23, "hour")
	}
	if err != nil {
		return defaultDailyHour, defaultDailyMinute, err
	}
	return hour, minute, nil
}

func cronField(field string, wildcard, limit int, name string) (int, error) {
	if field == "*" {
		return wildcard, nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return 0, fmt.Errorf("%w: unsupported %s field %q", ErrInvalidCronSchedule, name, field)
	}
	if v < 0 || v > limit {
		return 0, fmt.Errorf("%w: %s must be 0-%d, got %d", ErrInvalidCronSchedule, name, limit, v)
	}
	return v, nil
}

type TriggerStatus struct {
	Running     bool      `json:"running"`
	Schedule    string    `json:"schedule"`
	LastRunDate string    `json:"last_run_date,omitempty"`
	NextRunAt   time.Time `json:"next_run_at"`
}

// CronTrigger fires the daily maintenance run once per calendar day, on the
// first check at or after the configured wall-clock time.
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler *Scheduler
	orgs      OrganizationProvider
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	lastRun string // date of the last run, time.DateOnly
}

func NewCronTrigger(config CronTriggerConfig, scheduler *Scheduler, orgs OrganizationProvider, logger *zap.Logger) *CronTrigger {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		orgs:      orgs,
		logger:    logger.Named("cron"),
		now:       time.Now,
	}
}

func (c *CronTrigger) SetClock(now func() time.Time) { c.now = now }

func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}
	c.stop, c.done = make(chan struct{}), make(chan struct{})
	go c.tick(ctx, c.stop, c.done)

	c.logger.Info("cron trigger started",
		zap.String("schedule", c.expression()),
		zap.Duration("check_interval", c.config.CheckInterval),
	)
	return nil
}

func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}

	close(stop)
	select {
	case <-done:
		c.logger.Info("cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) tick(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndTrigger(ctx)
		}
	}
}

func (c *CronTrigger) scheduledOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.config.DailyHour, c.config.DailyMinute, 0, 0, day.Location())
}

// claimRun marks today as run and reports whether the caller should fire.
// A tick that misses the exact minute still fires later the same day.
func (c *CronTrigger) claimRun(now time.Time) bool {
	today := now.Format(time.DateOnly)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRun == today || now.Before(c.scheduledOn(now)) {
		return false
	}
	c.lastRun = today
	return true
}

// checkAndTrigger returns how many organizations got their daily jobs queued.
func (c *CronTrigger) checkAndTrigger(ctx context.Context) int {
	if !c.claimRun(c.now()) {
		return 0
	}

	ids, err := c.orgs.FindAllActiveIDs(ctx)
	if err != nil {
		c.logger.Error("daily run: listing organizations failed", zap.Error(err))
		return 0
	}

	queued := 0
	for _, id := range ids {
		if err := c.scheduler.ScheduleDaily(id); err != nil {
			c.logger.Error("daily run: scheduling failed", zap.Stringer("organization_id", id), zap.Error(err))
			continue
		}
		queued++
	}
	c.logger.Info("daily run queued", zap.Int("organizations", len(ids)), zap.Int("queued", queued))
	return queued
}

// TriggerManual queues jobs now. A nil organizationID means every active
// organization and a nil jobType means every daily job type. The first
// rejected submission aborts the call.
func (c *CronTrigger) TriggerManual(ctx context.Context, organizationID *uuid.UUID, jobType *JobType) error {
	targets := []uuid.UUID{}
	if organizationID != nil {
		targets = append(targets, *organizationID)
	} else {
		ids, err := c.orgs.FindAllActiveIDs(ctx)
		if err != nil {
			return err
		}
		targets = ids
	}

	for _, id := range targets {
		var err error
		if jobType != nil {
			err = c.scheduler.Schedule(id, *jobType)
		} else {
			err = c.scheduler.ScheduleDaily(id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NextRunAt is when the daily run will fire as seen from now. A run that is
// overdue today fires on the next check, reported as now.
func (c *CronTrigger) NextRunAt(now time.Time) time.Time {
	next := c.scheduledOn(now)

	c.mu.Lock()
	ranToday := c.lastRun == now.Format(time.DateOnly)
	c.mu.Unlock()

	if ranToday {
		return next.AddDate(0, 0, 1)
	}
	if next.Before(now) {
		return now
	}
	return next
}

func (c *CronTrigger) expression() string {
	return fmt.Sprintf("%d %d * * *", c.config.DailyMinute, c.config.DailyHour)
}

func (c *CronTrigger) Status() TriggerStatus {
	c.mu.Lock()
	running, last := c.stop != nil, c.lastRun
	c.mu.Unlock()

	return TriggerStatus{
		Running:     running,
		Schedule:    c.expression(),
		LastRunDate: last,
		NextRunAt:   c.NextRunAt(c.now()),
	}
}
