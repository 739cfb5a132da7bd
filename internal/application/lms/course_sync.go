package lms

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// courseSummaryFormatHTML is the LMS summaryformat of course descriptions
const courseSummaryFormatHTML = 1

// SyncCourse creates or updates the LMS course of a local course, keyed by
// its normalized short-name
func (s *SyncService) SyncCourse(ctx context.Context, course lms.LocalCourse) (*lms.CourseMapping, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "course_sync", "SyncCourse",
		telemetry.WithAttribute(telemetry.SpanAttrLocalID, course.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSyncType, string(lms.SyncTypeCourse)),
	)
	defer span.End()
	ctx = logger.WithEntity(ctx, lms.CourseLockKey(course.ID))

	release, err := lockEntity(ctx, s.locker, lms.CourseLockKey(course.ID))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	candidate, err := lms.NewCourseMapping(course.ID, course.Shortname())
	if err != nil {
		return nil, err
	}
	mapping, err := s.repos.Courses.GetOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("load course mapping: %w", err)
	}
	if !s.settings.SyncEnabled {
		return mapping, nil
	}
	mapping.Shortname = candidate.Shortname

	start := s.opts.now()
	input := s.courseInput(course)
	entry := lms.NewSyncLogEntry(lms.SyncTypeCourse, lms.DirectionToExternal, lms.SubjectCourse, course.ID.String())

	externalID, created, err := s.pushCourse(ctx, input)
	if err == nil {
		categoryID := input.CategoryID
		err = mapping.MarkSynced(externalID, &categoryID)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		mapping.MarkFailed(err.Error())
		if saveErr := s.repos.Courses.Save(ctx, mapping); saveErr != nil {
			logger.For(ctx, s.opts.logger).Error("failed to save course mapping", zap.Error(saveErr))
		}
		appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Failed(err, input).WithRetryCount(mapping.FailureCount))
		s.opts.metrics.RecordSync(ctx, lms.SyncTypeCourse, lms.OutcomeFailed, time.Since(start))
		logger.For(ctx, s.opts.logger).Warn("course sync failed",
			zap.String("shortname", mapping.Shortname),
			zap.Error(err),
		)
		return mapping, err
	}

	if err := s.repos.Courses.Save(ctx, mapping); err != nil {
		return mapping, fmt.Errorf("save course mapping: %w", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrExternalID, externalID)

	action := "updated"
	if created {
		action = "created"
	}
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Succeeded(
		fmt.Sprintf("course %s as %d", action, externalID), input, map[string]any{"id": externalID}))
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeCourse, lms.OutcomeSuccess, time.Since(start))

	logger.For(ctx, s.opts.logger).Info("course synced",
		zap.String("shortname", mapping.Shortname),
		zap.Int64("external_course_id", externalID),
		zap.Bool("created", created),
	)
	return mapping, nil
}

// SyncCourseByID loads the local course and syncs it
func (s *SyncService) SyncCourseByID(ctx context.Context, id uuid.UUID) (*lms.CourseMapping, error) {
	course, err := s.directory.FindCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncCourse(ctx, *course)
}

func (s *SyncService) pushCourse(ctx context.Context, input lms.RemoteCourseInput) (int64, bool, error) {
	existing, err := s.gateway.FindCourseByShortname(ctx, input.Shortname)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		input.ID = existing.ID
		if err := s.gateway.UpdateCourse(ctx, input); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	id, err := s.gateway.CreateCourse(ctx, input)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *SyncService) courseInput(course lms.LocalCourse) lms.RemoteCourseInput {
	fullname := course.Name
	if fullname == "" {
		fullname = course.Shortname()
	}
	return lms.RemoteCourseInput{
		Shortname:     course.Shortname(),
		Fullname:      fullname,
		IDNumber:      course.ID.String(),
		Summary:       course.Description,
		SummaryFormat: courseSummaryFormatHTML,
		CategoryID:    s.settings.DefaultCategoryID,
		Visible:       course.Active,
	}
}
