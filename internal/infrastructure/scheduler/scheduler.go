package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/csr/ledger/internal/infrastructure/config"
	"github.com/csr/ledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SchedulerConfig struct {
	Enabled           bool
	MaxConcurrentJobs int
	QueueSize         int
	JobTimeout        time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: 3,
		QueueSize:         100,
		JobTimeout:        10 * time.Minute,
		RetryAttempts:     3,
		RetryDelay:        time.Minute,
	}
}

// SchedulerConfigFrom overlays the non-zero application settings on the
// defaults. A zero RetryAttempts is honored and disables retries.
func SchedulerConfigFrom(cfg config.SchedulerConfig) SchedulerConfig {
	out := DefaultSchedulerConfig()
	out.Enabled = cfg.Enabled
	if cfg.RetryAttempts >= 0 {
		out.RetryAttempts = cfg.RetryAttempts
	}
	out.MaxConcurrentJobs = positive(cfg.MaxConcurrentJobs, out.MaxConcurrentJobs)
	out.JobTimeout = positive(cfg.JobTimeout, out.JobTimeout)
	out.RetryDelay = positive(cfg.RetryDelay, out.RetryDelay)
	return out
}

func positive[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Running   bool  `json:"running"`
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

type counters struct {
	submitted, succeeded, failed, retried atomic.Int64
}

// Scheduler drains a bounded queue of jobs with a fixed pool of workers.
// Failed jobs are re-queued after RetryDelay until MaxRetries is spent.
type Scheduler struct {
	config   SchedulerConfig
	executor JobExecutor
	logger   *zap.Logger
	queue    chan *Job

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	workers   sync.WaitGroup

	n counters
}

func NewScheduler(cfg SchedulerConfig, executor JobExecutor, logger *zap.Logger) *Scheduler {
	cfg.MaxConcurrentJobs = positive(cfg.MaxConcurrentJobs, 1)
	cfg.QueueSize = positive(cfg.QueueSize, 100)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:   cfg,
		executor: executor,
		logger:   logger.Named("scheduler"),
		queue:    make(chan *Job, cfg.QueueSize),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	for id := range s.config.MaxConcurrentJobs {
		s.workers.Go(func() { s.work(ctx, id) })
	}

	s.logger.Info("scheduler started",
		zap.Int("workers", s.config.MaxConcurrentJobs),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers, giving up when ctx ends.
// Jobs still queued are dropped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("scheduler stopped", zap.Int("dropped", len(s.queue)))
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// SubmitJob enqueues without blocking.
func (s *Scheduler) SubmitJob(job *Job) error {
	if !job.Type.IsValid() {
		return ErrInvalidJobType
	}
	if err := s.enqueue(job); err != nil {
		return err
	}
	s.n.submitted.Add(1)
	s.jobLogger(job).Debug("job queued")
	return nil
}

func (s *Scheduler) enqueue(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}
	select {
	case s.queue <- job:
		return nil
	default:
		return ErrJobQueueFull
	}
}

// ScheduleDaily queues every daily pass for one organization, stopping at
// the first rejection.
func (s *Scheduler) ScheduleDaily(organizationID uuid.UUID) error {
	for _, jobType := range dailyJobs {
		if err := s.Schedule(organizationID, jobType); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) Schedule(organizationID uuid.UUID, jobType JobType) error {
	return s.SubmitJob(NewJob(organizationID, jobType, s.config.RetryAttempts))
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Running:   s.IsRunning(),
		Workers:   s.config.MaxConcurrentJobs,
		Queued:    len(s.queue),
		Submitted: s.n.submitted.Load(),
		Succeeded: s.n.succeeded.Load(),
		Failed:    s.n.failed.Load(),
		Retried:   s.n.retried.Load(),
	}
}

func (s *Scheduler) jobLogger(job *Job) *zap.Logger {
	return s.logger.With(
		zap.Stringer("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.Stringer("organization_id", job.OrganizationID),
	)
}

func (s *Scheduler) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.run(ctx, job, s.jobLogger(job).With(zap.Int("worker", id)))
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job *Job, log *zap.Logger) {
	job.Start()
	log.Info("job started", zap.Int("attempt", job.RetryCount+1))

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	var err error
	labels := telemetry.OperationLabels(string(job.Type), map[string]string{
		telemetry.ProfilingLabelOrganizationID: job.OrganizationID.String(),
	})
	telemetry.WithProfilingLabels(jobCtx, labels, func(c context.Context) {
		err = s.executor.Execute(c, job)
	})

	if err == nil {
		job.Complete()
		s.n.succeeded.Add(1)
		log.Info("job completed", zap.Duration("took", job.CompletedAt.Sub(*job.StartedAt)))
		return
	}

	job.Fail(err.Error())
	log.Error("job failed", zap.Error(err))
	if !job.ShouldRetry() || ctx.Err() != nil {
		s.n.failed.Add(1)
		return
	}

	job.ScheduleRetry(s.config.RetryDelay)
	s.n.retried.Add(1)
	log.Info("job retry scheduled",
		zap.Int("retry", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
		zap.Time("at", *job.NextRetryAt),
	)
	time.AfterFunc(s.config.RetryDelay, func() {
		if err := s.enqueue(job); err != nil {
			s.n.failed.Add(1)
			log.Warn("job retry dropped", zap.Error(err))
		}
	})
}
