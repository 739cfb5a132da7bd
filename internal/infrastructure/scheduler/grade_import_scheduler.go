package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	lmsapp "github.com/campus/lmssync/internal/application/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
)

// GradeImporter pulls grades for every synced course
type GradeImporter interface {
	ImportAllCourseGrades(ctx context.Context) (lmsapp.BatchResult, error)
}

// ---------------------------------------------------------------------------
// GradeImportConfig
// ---------------------------------------------------------------------------

// GradeImportConfig holds configuration for the grade import scheduler
type GradeImportConfig struct {
	// Enabled starts the interval trigger; manual runs work either way
	Enabled bool
	// Interval between automatic runs
	Interval time.Duration
	// JobTimeout bounds a single attempt
	JobTimeout time.Duration
	// MaxRetries is the number of retries of a failed run
	MaxRetries int
	// RetryDelay is the base of the exponential backoff
	RetryDelay time.Duration
	// HistorySize is the number of attempts kept in memory
	HistorySize int
}

// DefaultGradeImportConfig returns default configuration
func DefaultGradeImportConfig() GradeImportConfig {
	return GradeImportConfig{
		Enabled:     false,
		Interval:    time.Hour,
		JobTimeout:  30 * time.Minute,
		MaxRetries:  3,
		RetryDelay:  time.Minute,
		HistorySize: 50,
	}
}

// Validate validates the configuration
func (c *GradeImportConfig) Validate() error {
	if c.Enabled && c.Interval <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 || c.RetryDelay <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRetries < 0 || c.HistorySize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// GradeImportScheduler
// ---------------------------------------------------------------------------

// GradeImportScheduler runs the all-courses grade import on an interval and
// on demand. At most one job is pending or running at any time; a failed
// run is retried with exponential backoff.
type GradeImportScheduler struct {
	config   GradeImportConfig
	importer GradeImporter
	logger   *zap.Logger

	jobs      chan *GradeImportJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    *GradeImportJob

	historyMu sync.RWMutex
	history   []GradeImportJob
}

// NewGradeImportScheduler creates a new grade import scheduler
func NewGradeImportScheduler(config GradeImportConfig, importer GradeImporter, logger *zap.Logger) (*GradeImportScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradeImportScheduler{
		config:   config,
		importer: importer,
		logger:   logger,
		jobs:     make(chan *GradeImportJob, 1),
		history:  make([]GradeImportJob, 0, config.HistorySize),
	}, nil
}

// Start starts the worker and, when enabled, the interval trigger
func (s *GradeImportScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.worker(ctx)

	if s.config.Enabled {
		s.wg.Add(1)
		go s.runLoop(ctx)
	}

	s.logger.Info("Grade import scheduler started",
		zap.Bool("interval_enabled", s.config.Enabled),
		zap.Duration("interval", s.config.Interval),
		zap.Duration("job_timeout", s.config.JobTimeout),
		zap.Int("max_retries", s.config.MaxRetries),
	)
	return nil
}

// Stop cancels the running job and any pending retry, then waits for the
// goroutines to exit
func (s *GradeImportScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Grade import scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Grade import scheduler stop timed out")
		return ctx.Err()
	}
}

// TriggerNow queues a manual run and returns a snapshot of the queued job
func (s *GradeImportScheduler) TriggerNow() (GradeImportJob, error) {
	return s.submit(TriggerManual)
}

func (s *GradeImportScheduler) submit(trigger Trigger) (GradeImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return GradeImportJob{}, ErrSchedulerNotRunning
	}
	if s.active != nil {
		return *s.active, ErrImportInProgress
	}

	job := NewGradeImportJob(trigger, s.config.MaxRetries)
	select {
	case s.jobs <- job:
		s.active = job
		s.logger.Debug("Grade import job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("trigger", string(trigger)),
		)
		return *job, nil
	default:
		return GradeImportJob{}, ErrJobQueueFull
	}
}

// Active returns a snapshot of the pending or running job
func (s *GradeImportScheduler) Active() (GradeImportJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return GradeImportJob{}, false
	}
	return *s.active, true
}

// runLoop submits a job every interval; a tick that finds a job in flight
// is dropped
func (s *GradeImportScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.submit(TriggerInterval); err != nil {
				s.logger.Debug("Skipping scheduled grade import", zap.Error(err))
			}
		}
	}
}

func (s *GradeImportScheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.clearActive()
			return
		case job := <-s.jobs:
			s.processJob(ctx, job)
		}
	}
}

// processJob executes one attempt. Job fields are only mutated under s.mu
// so snapshots taken by Active and submit stay consistent.
func (s *GradeImportScheduler) processJob(ctx context.Context, job *GradeImportJob) {
	s.mu.Lock()
	job.Start()
	s.mu.Unlock()

	s.logger.Info("Processing grade import job",
		zap.String("job_id", job.ID.String()),
		zap.String("trigger", string(job.Trigger)),
		zap.Int("retry_count", job.RetryCount),
	)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()
	// audit entries written by the import carry the job id as run id
	jobCtx = logger.WithSyncRunID(jobCtx, job.ID.String())

	result, err := s.importer.ImportAllCourseGrades(jobCtx)

	s.mu.Lock()
	if err != nil {
		job.Fail(err.Error())
	} else {
		job.Complete(result.Succeeded, result.Failed, result.Skipped)
	}
	retry := job.ShouldRetry()
	var delay time.Duration
	if retry {
		s.addToHistory(*job)
		delay = job.ScheduleRetry(s.config.RetryDelay)
	} else {
		s.active = nil
		s.addToHistory(*job)
	}
	snapshot := *job
	s.mu.Unlock()

	if !retry {
		fields := []zap.Field{
			zap.String("job_id", snapshot.ID.String()),
			zap.String("status", string(snapshot.Status)),
			zap.Int("succeeded", snapshot.Succeeded),
			zap.Int("failed", snapshot.Failed),
			zap.Int("skipped", snapshot.Skipped),
		}
		if snapshot.Status == JobStatusFailed {
			s.logger.Error("Grade import job failed", append(fields, zap.String("error", snapshot.Error))...)
		} else {
			s.logger.Info("Grade import job completed", fields...)
		}
		return
	}

	s.logger.Warn("Grade import job scheduled for retry",
		zap.String("job_id", snapshot.ID.String()),
		zap.Int("retry_count", snapshot.RetryCount),
		zap.Int("max_retries", snapshot.MaxRetries),
		zap.Duration("delay", delay),
		zap.String("error", errString(err, snapshot.Error)),
	)
	s.retryAfter(ctx, job, delay)
}

// retryAfter re-queues job once delay elapses unless the scheduler stops
func (s *GradeImportScheduler) retryAfter(ctx context.Context, job *GradeImportJob, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			s.clearActive()
		case <-timer.C:
			select {
			case s.jobs <- job:
			case <-ctx.Done():
				s.clearActive()
			}
		}
	}()
}

func (s *GradeImportScheduler) clearActive() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// addToHistory records a finished attempt, newest first
func (s *GradeImportScheduler) addToHistory(job GradeImportJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]GradeImportJob{job}, s.history...)
	if len(s.history) > s.config.HistorySize {
		s.history = s.history[:s.config.HistorySize]
	}
}

// GetJobHistory returns recent attempts, newest first
func (s *GradeImportScheduler) GetJobHistory(limit int) []GradeImportJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]GradeImportJob, limit)
	copy(result, s.history[:limit])
	return result
}

func errString(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
