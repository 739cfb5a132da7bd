// Package lms holds the synchronization use cases between the SIS and the
// LMS: upserting users and courses, managing enrolments, reconciling grades
// and reporting on sync activity.
package lms

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// Repositories groups the mapping store and the audit log
type Repositories struct {
	Users       lms.UserMappingRepository
	Courses     lms.CourseMappingRepository
	Enrollments lms.EnrollmentMappingRepository
	Grades      lms.GradeRecordRepository
	Logs        lms.SyncLogRepository
}

// ProfilePictureStore persists downloaded profile pictures and returns the
// object key they were stored under
type ProfilePictureStore interface {
	StoreProfilePicture(ctx context.Context, localUserID uuid.UUID, file *lms.RemoteFile) (string, error)
}

// Settings are the runtime switches of the engine
type Settings struct {
	// SyncEnabled gates every outbound remote call
	SyncEnabled bool
	// Configured reports whether the LMS endpoint and token are set
	Configured bool
	// DefaultCategoryID is the category new courses are created in
	DefaultCategoryID int64
	// BatchWorkers bounds batch concurrency; 1 runs sequentially
	BatchWorkers int
	// RecentWindow is the activity window of the statistics
	RecentWindow time.Duration
}

// DefaultSettings returns the settings used when none are given
func DefaultSettings() Settings {
	return Settings{
		BatchWorkers: 1,
		RecentWindow: 24 * time.Hour,
	}
}

func (s Settings) normalized() Settings {
	if s.BatchWorkers < 1 {
		s.BatchWorkers = 1
	}
	if s.RecentWindow <= 0 {
		s.RecentWindow = 24 * time.Hour
	}
	return s
}

// Option configures optional collaborators of the services
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics
	scale   *lms.GradingScale
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		logger: zap.NewNop(),
		scale:  lms.DefaultGradingScale(),
		now:    time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records sync attempts and grade outcomes
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithGradingScale overrides the default letter grade table
func WithGradingScale(scale *lms.GradingScale) Option {
	return func(o *options) {
		if scale != nil {
			o.scale = scale
		}
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// appendLog writes an audit entry. A failed append never fails the sync
// itself; it is logged instead.
func appendLog(ctx context.Context, repo lms.SyncLogRepository, l *zap.Logger, entry *lms.SyncLogEntry) {
	if entry.SyncRunID == "" {
		entry.SyncRunID = logger.GetSyncRunID(ctx)
	}
	if err := repo.Append(ctx, entry); err != nil {
		logger.For(ctx, l).Error("failed to append sync log",
			zap.String("sync_type", string(entry.SyncType)),
			zap.String("subject", entry.SubjectType+":"+entry.SubjectID),
			zap.Error(err),
		)
	}
}

// lockEntity acquires key and returns its release func
func lockEntity(ctx context.Context, locker lms.EntityLocker, key string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	return locker.Lock(ctx, key)
}
