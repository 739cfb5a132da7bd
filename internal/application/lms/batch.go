package lms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// Batch errors
var (
	// ErrSkipped is returned by a batch item func to count the item as skipped
	ErrSkipped = errors.New("lms: batch item skipped")

	ErrInvalidRetryKind = errors.New("lms: retry type must be users, courses or enrollments")
)

// SyncMany runs fn over items with at most workers in flight. It never
// aborts early: every item ends up succeeded, skipped or failed. Once ctx is
// done the remaining items are recorded as failed without running fn.
func SyncMany[T any](
	ctx context.Context,
	items []T,
	identify func(T) string,
	fn func(context.Context, T) error,
	workers int,
) BatchResult {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			outcomes[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = err
				return nil
			}
			outcomes[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Errors: []BatchError{}}
	for i, err := range outcomes {
		switch {
		case err == nil:
			result.Succeeded++
		case errors.Is(err, ErrSkipped):
			result.Skipped++
		default:
			result.Failed++
			result.Errors = append(result.Errors, BatchError{ID: identify(items[i]), Error: err.Error()})
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// BatchService
// ---------------------------------------------------------------------------

// BatchService resolves the local entities needing sync and runs the entity
// synchronizers over them with per-item isolation
type BatchService struct {
	sync      *SyncService
	directory lms.Directory
	repos     Repositories
	settings  Settings
	opts      options
}

// NewBatchService creates a BatchService
func NewBatchService(
	syncService *SyncService,
	directory lms.Directory,
	repos Repositories,
	settings Settings,
	opts ...Option,
) *BatchService {
	return &BatchService{
		sync:      syncService,
		directory: directory,
		repos:     repos,
		settings:  settings.normalized(),
		opts:      buildOptions(opts),
	}
}

// run wraps SyncMany with a span, a sync run id and profiling labels
func (s *BatchService) run(
	ctx context.Context,
	operation string,
	syncType lms.SyncType,
	size int,
	body func(context.Context) BatchResult,
) BatchResult {
	ctx, span := telemetry.StartServiceSpan(ctx, "batch", operation,
		telemetry.WithAttribute(telemetry.SpanAttrSyncType, string(syncType)),
		telemetry.WithAttribute(telemetry.SpanAttrBatchSize, size),
	)
	defer span.End()

	runID := logger.GetSyncRunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logger.WithSyncRunID(ctx, runID)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrRunID, runID)

	var result BatchResult
	telemetry.WithProfilingLabels(ctx, telemetry.OperationLabels(operation, string(syncType)), func(ctx context.Context) {
		result = body(ctx)
	})
	s.opts.metrics.RecordBatch(ctx, operation, result.Succeeded, result.Failed)

	logger.For(ctx, s.opts.logger).Info("batch finished",
		zap.String("operation", operation),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result
}

// SyncUsers syncs local users, all of them unless opts narrows the set
func (s *BatchService) SyncUsers(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	users, err := s.directory.ListUsers(ctx, lms.UserFilter{IDs: opts.IDs})
	if err != nil {
		return BatchResult{}, fmt.Errorf("list local users: %w", err)
	}
	return s.run(ctx, "sync_users", lms.SyncTypeUser, len(users), func(ctx context.Context) BatchResult {
		return SyncMany(ctx, users, func(u lms.LocalUser) string { return u.ID.String() },
			func(ctx context.Context, u lms.LocalUser) error {
				if opts.OnlyPending && s.userSynced(ctx, u.ID) {
					return ErrSkipped
				}
				mapping, err := s.sync.SyncUser(ctx, u)
				if err != nil {
					return err
				}
				if !mapping.IsSynced() {
					return ErrSkipped
				}
				return nil
			}, s.settings.BatchWorkers)
	}), nil
}

// SyncCourses syncs local courses, all of them unless opts narrows the set
func (s *BatchService) SyncCourses(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	courses, err := s.directory.ListCourses(ctx, lms.CourseFilter{IDs: opts.IDs})
	if err != nil {
		return BatchResult{}, fmt.Errorf("list local courses: %w", err)
	}
	return s.run(ctx, "sync_courses", lms.SyncTypeCourse, len(courses), func(ctx context.Context) BatchResult {
		return SyncMany(ctx, courses, func(c lms.LocalCourse) string { return c.ID.String() },
			func(ctx context.Context, c lms.LocalCourse) error {
				if opts.OnlyPending && s.courseSynced(ctx, c.ID) {
					return ErrSkipped
				}
				mapping, err := s.sync.SyncCourse(ctx, c)
				if err != nil {
					return err
				}
				if !mapping.IsSynced() {
					return ErrSkipped
				}
				return nil
			}, s.settings.BatchWorkers)
	}), nil
}

// SyncEnrollments syncs local enrollments, optionally restricted to a term
func (s *BatchService) SyncEnrollments(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	enrollments, err := s.directory.ListEnrollments(ctx, lms.EnrollmentFilter{IDs: opts.IDs, Term: opts.Term})
	if err != nil {
		return BatchResult{}, fmt.Errorf("list local enrollments: %w", err)
	}
	return s.run(ctx, "sync_enrollments", lms.SyncTypeEnrollment, len(enrollments), func(ctx context.Context) BatchResult {
		return SyncMany(ctx, enrollments, func(e lms.LocalEnrollment) string { return e.ID.String() },
			func(ctx context.Context, e lms.LocalEnrollment) error {
				if opts.OnlyPending && s.enrollmentSettled(ctx, e) {
					return ErrSkipped
				}
				mapping, err := s.sync.SyncEnrollment(ctx, e)
				if err != nil {
					return err
				}
				if mapping.Status == lms.SyncStatusPending {
					return ErrSkipped
				}
				return nil
			}, s.settings.BatchWorkers)
	}), nil
}

// RetryFailed re-runs the sync of every FAILED mapping of kind, reloading the
// local entity first
func (s *BatchService) RetryFailed(ctx context.Context, kind RetryKind) (BatchResult, error) {
	switch kind {
	case RetryUsers:
		failed, err := s.repos.Users.FindByStatus(ctx, lms.SyncStatusFailed, 0)
		if err != nil {
			return BatchResult{}, err
		}
		return s.run(ctx, "retry_users", lms.SyncTypeUser, len(failed), func(ctx context.Context) BatchResult {
			return SyncMany(ctx, failed, func(m lms.UserMapping) string { return m.LocalUserID.String() },
				func(ctx context.Context, m lms.UserMapping) error {
					_, err := s.sync.SyncUserByID(ctx, m.LocalUserID)
					return err
				}, s.settings.BatchWorkers)
		}), nil
	case RetryCourses:
		failed, err := s.repos.Courses.FindByStatus(ctx, lms.SyncStatusFailed, 0)
		if err != nil {
			return BatchResult{}, err
		}
		return s.run(ctx, "retry_courses", lms.SyncTypeCourse, len(failed), func(ctx context.Context) BatchResult {
			return SyncMany(ctx, failed, func(m lms.CourseMapping) string { return m.LocalCourseID.String() },
				func(ctx context.Context, m lms.CourseMapping) error {
					_, err := s.sync.SyncCourseByID(ctx, m.LocalCourseID)
					return err
				}, s.settings.BatchWorkers)
		}), nil
	case RetryEnrollments:
		failed, err := s.repos.Enrollments.FindByStatus(ctx, lms.SyncStatusFailed, 0)
		if err != nil {
			return BatchResult{}, err
		}
		return s.run(ctx, "retry_enrollments", lms.SyncTypeEnrollment, len(failed), func(ctx context.Context) BatchResult {
			return SyncMany(ctx, failed, func(m lms.EnrollmentMapping) string { return m.LocalEnrollmentID.String() },
				func(ctx context.Context, m lms.EnrollmentMapping) error {
					_, err := s.sync.SyncEnrollmentByID(ctx, m.LocalEnrollmentID)
					return err
				}, s.settings.BatchWorkers)
		}), nil
	default:
		return BatchResult{}, ErrInvalidRetryKind
	}
}

func (s *BatchService) userSynced(ctx context.Context, id uuid.UUID) bool {
	m, err := s.repos.Users.FindByLocalUserID(ctx, id)
	return err == nil && m.IsSynced()
}

func (s *BatchService) courseSynced(ctx context.Context, id uuid.UUID) bool {
	m, err := s.repos.Courses.FindByLocalCourseID(ctx, id)
	return err == nil && m.IsSynced()
}

// enrollmentSettled reports whether the mapping already reflects the local
// status: SYNCED for active enrollments, UNENROLLED for withdrawals
func (s *BatchService) enrollmentSettled(ctx context.Context, e lms.LocalEnrollment) bool {
	m, err := s.repos.Enrollments.FindByLocalEnrollmentID(ctx, e.ID)
	if err != nil {
		return false
	}
	if e.Status.IsWithdrawal() {
		return m.Status == lms.SyncStatusUnenrolled
	}
	return m.Status == lms.SyncStatusSynced
}
