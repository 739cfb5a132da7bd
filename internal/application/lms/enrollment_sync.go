package lms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// SyncEnrollment enrols or unenrols a student on the LMS. The user and the
// course are synced first when their mappings are missing or not SYNCED;
// if either fails no enrol call is made.
func (s *SyncService) SyncEnrollment(ctx context.Context, enrollment lms.LocalEnrollment) (*lms.EnrollmentMapping, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "enrollment_sync", "SyncEnrollment",
		telemetry.WithAttribute(telemetry.SpanAttrLocalID, enrollment.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSyncType, string(lms.SyncTypeEnrollment)),
	)
	defer span.End()
	ctx = logger.WithEntity(ctx, lms.EnrollmentLockKey(enrollment.ID))

	release, err := lockEntity(ctx, s.locker, lms.EnrollmentLockKey(enrollment.ID))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	candidate, err := lms.NewEnrollmentMapping(enrollment.ID, enrollment.UserID, enrollment.CourseID, enrollment.Role)
	if err != nil {
		return nil, err
	}
	mapping, err := s.repos.Enrollments.GetOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("load enrollment mapping: %w", err)
	}
	mapping.LocalUserID = enrollment.UserID
	mapping.LocalCourseID = enrollment.CourseID
	mapping.Role = candidate.Role

	start := s.opts.now()
	entry := lms.NewSyncLogEntry(lms.SyncTypeEnrollment, lms.DirectionToExternal, lms.SubjectEnrollment, enrollment.ID.String())

	userMapping, courseMapping, depErr := s.ensureDependencies(ctx, enrollment)
	if !s.settings.SyncEnabled {
		if depErr != nil && !errors.Is(depErr, lms.ErrDependencyNotSynced) {
			return mapping, depErr
		}
		return mapping, nil
	}
	if depErr != nil {
		telemetry.RecordError(span, depErr)
		return mapping, s.failEnrollment(ctx, mapping, entry, enrollment, depErr, start)
	}

	request := lms.RemoteEnrolment{
		UserID:   *userMapping.ExternalUserID,
		CourseID: *courseMapping.ExternalCourseID,
		Role:     mapping.Role,
	}

	var message string
	if enrollment.Status.IsWithdrawal() {
		err = s.gateway.Unenrol(ctx, request)
		if err == nil {
			err = mapping.MarkUnenrolled(request.UserID, request.CourseID)
			message = fmt.Sprintf("unenrolled user %d from course %d", request.UserID, request.CourseID)
		}
	} else {
		err = s.gateway.Enrol(ctx, request)
		message = fmt.Sprintf("enrolled user %d in course %d", request.UserID, request.CourseID)
		if lms.IsAlreadyEnrolled(err) {
			err = nil
			message = fmt.Sprintf("user %d already enrolled in course %d", request.UserID, request.CourseID)
		}
		if err == nil {
			err = mapping.MarkSynced(request.UserID, request.CourseID)
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return mapping, s.failEnrollment(ctx, mapping, entry, request, err, start)
	}

	if err := s.repos.Enrollments.Save(ctx, mapping); err != nil {
		return mapping, fmt.Errorf("save enrollment mapping: %w", err)
	}
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Succeeded(message, request, nil))
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeEnrollment, lms.OutcomeSuccess, time.Since(start))

	logger.For(ctx, s.opts.logger).Info("enrollment synced",
		zap.String("status", string(mapping.Status)),
		zap.Int64("external_user_id", request.UserID),
		zap.Int64("external_course_id", request.CourseID),
	)
	return mapping, nil
}

// SyncEnrollmentByID loads the local enrollment and syncs it
func (s *SyncService) SyncEnrollmentByID(ctx context.Context, id uuid.UUID) (*lms.EnrollmentMapping, error) {
	enrollment, err := s.directory.FindEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncEnrollment(ctx, *enrollment)
}

// ensureDependencies returns SYNCED user and course mappings for the
// enrollment, syncing either side on demand. Each dependency sync takes its
// own lock key.
func (s *SyncService) ensureDependencies(
	ctx context.Context,
	enrollment lms.LocalEnrollment,
) (*lms.UserMapping, *lms.CourseMapping, error) {
	userMapping, err := s.repos.Users.FindByLocalUserID(ctx, enrollment.UserID)
	if err != nil && !errors.Is(err, lms.ErrMappingNotFound) {
		return nil, nil, err
	}
	if userMapping == nil || !userMapping.IsSynced() {
		user, err := s.directory.FindUser(ctx, enrollment.UserID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: user %s: %w", lms.ErrDependencyNotSynced, enrollment.UserID, err)
		}
		if userMapping, err = s.SyncUser(ctx, *user); err != nil {
			return nil, nil, fmt.Errorf("%w: user %s: %w", lms.ErrDependencyNotSynced, enrollment.UserID, err)
		}
		if !userMapping.IsSynced() {
			return nil, nil, fmt.Errorf("%w: user %s is %s", lms.ErrDependencyNotSynced, enrollment.UserID, userMapping.Status)
		}
	}

	courseMapping, err := s.repos.Courses.FindByLocalCourseID(ctx, enrollment.CourseID)
	if err != nil && !errors.Is(err, lms.ErrMappingNotFound) {
		return nil, nil, err
	}
	if courseMapping == nil || !courseMapping.IsSynced() {
		course, err := s.directory.FindCourse(ctx, enrollment.CourseID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: course %s: %w", lms.ErrDependencyNotSynced, enrollment.CourseID, err)
		}
		if courseMapping, err = s.SyncCourse(ctx, *course); err != nil {
			return nil, nil, fmt.Errorf("%w: course %s: %w", lms.ErrDependencyNotSynced, enrollment.CourseID, err)
		}
		if !courseMapping.IsSynced() {
			return nil, nil, fmt.Errorf("%w: course %s is %s", lms.ErrDependencyNotSynced, enrollment.CourseID, courseMapping.Status)
		}
	}
	return userMapping, courseMapping, nil
}

func (s *SyncService) failEnrollment(
	ctx context.Context,
	mapping *lms.EnrollmentMapping,
	entry *lms.SyncLogEntry,
	request any,
	cause error,
	start time.Time,
) error {
	mapping.MarkFailed(cause.Error())
	if err := s.repos.Enrollments.Save(ctx, mapping); err != nil {
		logger.For(ctx, s.opts.logger).Error("failed to save enrollment mapping", zap.Error(err))
	}
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Failed(cause, request).WithRetryCount(mapping.FailureCount))
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeEnrollment, lms.OutcomeFailed, time.Since(start))

	logger.For(ctx, s.opts.logger).Warn("enrollment sync failed",
		zap.Int("failure_count", mapping.FailureCount),
		zap.Error(cause),
	)
	return cause
}
