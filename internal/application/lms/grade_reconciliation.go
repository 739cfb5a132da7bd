package lms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// localGradeSource marks grade rows written by the reconciliation engine
const localGradeSource = "lms"

// passingGrade is the scaled grade from which an imported course grade
// counts as completed
var passingGrade = decimal.NewFromInt(50)

// Grade event results reported to metrics
const (
	gradeResultApplied  = "applied"
	gradeResultRecorded = "recorded"
	gradeResultStale    = "stale"
	gradeResultUnmapped = "unmapped"
	gradeResultInvalid  = "invalid"
	gradeResultFailed   = "failed"
)

// GradeService ingests grade and completion events from the LMS and
// reconciles terminal ones into the SIS
type GradeService struct {
	gateway  lms.Gateway
	repos    Repositories
	records  lms.AcademicRecords
	locker   lms.EntityLocker
	settings Settings
	opts     options
}

// NewGradeService creates a GradeService
func NewGradeService(
	gateway lms.Gateway,
	repos Repositories,
	records lms.AcademicRecords,
	locker lms.EntityLocker,
	settings Settings,
	opts ...Option,
) *GradeService {
	return &GradeService{
		gateway:  gateway,
		repos:    repos,
		records:  records,
		locker:   locker,
		settings: settings.normalized(),
		opts:     buildOptions(opts),
	}
}

// Scale returns the grading scale in use
func (s *GradeService) Scale() *lms.GradingScale {
	return s.opts.scale
}

// ---------------------------------------------------------------------------
// Event ingestion
// ---------------------------------------------------------------------------

// IngestGradeEvent records a grade event against its enrollment and applies
// it to the SIS when the completion status is terminal. Every call writes
// exactly one audit entry.
//
// Events that cannot be attributed to a mapped enrollment fail with
// ErrUnmappedEntity. Events older than the stored record return the stored
// record with ErrStaleEvent and change nothing.
func (s *GradeService) IngestGradeEvent(ctx context.Context, event lms.GradeEvent) (*lms.GradeRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "grade_reconciliation", "IngestGradeEvent",
		telemetry.WithAttribute(telemetry.SpanAttrSyncType, string(lms.SyncTypeGrade)),
		telemetry.WithAttribute(telemetry.SpanAttrExternalID, event.ExternalUserID),
	)
	defer span.End()

	start := s.opts.now()
	eventSubject := fmt.Sprintf("%d:%d", event.ExternalUserID, event.ExternalCourseID)
	entry := lms.NewSyncLogEntry(lms.SyncTypeGrade, lms.DirectionFromExternal, lms.SubjectEvent, eventSubject)

	if err := event.Validate(); err != nil {
		s.rejectEvent(ctx, entry, event, err, gradeResultInvalid, start)
		return nil, err
	}

	mapping, err := s.repos.Enrollments.FindByExternalPair(ctx, event.ExternalUserID, event.ExternalCourseID)
	if err != nil {
		if errors.Is(err, lms.ErrMappingNotFound) {
			err = fmt.Errorf("%w: user %d course %d", lms.ErrUnmappedEntity, event.ExternalUserID, event.ExternalCourseID)
			s.rejectEvent(ctx, entry, event, err, gradeResultUnmapped, start)
			telemetry.AddEvent(span, "grade_unmapped", telemetry.SpanAttrGradeResult, gradeResultUnmapped)
			return nil, err
		}
		s.rejectEvent(ctx, entry, event, err, gradeResultFailed, start)
		telemetry.RecordError(span, err)
		return nil, err
	}
	ctx = logger.WithEntity(ctx, lms.GradeLockKey(mapping.LocalEnrollmentID))
	telemetry.SetAttributes(span, telemetry.SpanAttrLocalID, mapping.LocalEnrollmentID)

	release, err := lockEntity(ctx, s.locker, lms.GradeLockKey(mapping.LocalEnrollmentID))
	if err != nil {
		s.rejectEvent(ctx, entry, event, err, gradeResultFailed, start)
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	existing, err := s.repos.Grades.FindByLocalEnrollmentID(ctx, mapping.LocalEnrollmentID)
	if err != nil && !errors.Is(err, lms.ErrGradeRecordNotFound) {
		s.rejectEvent(ctx, entry, event, err, gradeResultFailed, start)
		telemetry.RecordError(span, err)
		return nil, err
	}

	if existing != nil && existing.IsStale(event) {
		entry.SubjectType = lms.SubjectGradeRecord
		entry.SubjectID = existing.ID.String()
		s.rejectEvent(ctx, entry, event, fmt.Errorf("stale event: %w", lms.ErrStaleEvent), gradeResultStale, start)
		telemetry.AddEvent(span, "grade_stale", telemetry.SpanAttrGradeResult, gradeResultStale)
		return existing, lms.ErrStaleEvent
	}

	record := existing
	if record == nil {
		if record, err = lms.NewGradeRecord(mapping, event); err != nil {
			s.rejectEvent(ctx, entry, event, err, gradeResultInvalid, start)
			return nil, err
		}
	} else {
		record.EnrollmentMappingID = mapping.ID
		record.Overwrite(event)
	}

	stored, err := s.repos.Grades.Upsert(ctx, record)
	if err != nil {
		err = fmt.Errorf("store grade record: %w", err)
		s.rejectEvent(ctx, entry, event, err, gradeResultFailed, start)
		telemetry.RecordError(span, err)
		return nil, err
	}
	entry.SubjectType = lms.SubjectGradeRecord
	entry.SubjectID = stored.ID.String()

	if !stored.NeedsApplication() {
		appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Succeeded(
			fmt.Sprintf("grade recorded (%s)", stored.CompletionStatus), event, nil))
		s.opts.metrics.RecordGradeEvent(ctx, gradeResultRecorded)
		s.opts.metrics.RecordSync(ctx, lms.SyncTypeGrade, lms.OutcomeSuccess, time.Since(start))
		return stored, nil
	}

	result, err := s.apply(ctx, stored)
	if err != nil {
		err = fmt.Errorf("reconcile grade: %w", err)
		s.rejectEvent(ctx, entry, event, err, gradeResultFailed, start)
		telemetry.RecordError(span, err)
		return stored, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrGradeResult, result.Letter)
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Succeeded(
		fmt.Sprintf("grade applied: %s %s (%s)", result.Scaled.StringFixed(2), result.Letter, stored.CompletionStatus),
		event, gradeResultPayload(result)))
	s.opts.metrics.RecordGradeEvent(ctx, gradeResultApplied)
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeGrade, lms.OutcomeSuccess, time.Since(start))

	logger.For(ctx, s.opts.logger).Info("grade applied",
		zap.String("enrollment_id", stored.LocalEnrollmentID.String()),
		zap.String("scaled", result.Scaled.StringFixed(2)),
		zap.String("letter", result.Letter),
		zap.String("completion_status", string(stored.CompletionStatus)),
	)
	return stored, nil
}

// apply writes the evaluated grade and the final enrollment status to the
// SIS and marks the record applied. The caller holds the grade lock.
func (s *GradeService) apply(ctx context.Context, record *lms.GradeRecord) (lms.GradeResult, error) {
	result := record.Evaluate(s.opts.scale)

	gradedAt := s.opts.now()
	if record.CompletedAt != nil {
		gradedAt = *record.CompletedAt
	}
	if err := s.records.UpsertGrade(ctx, lms.LocalGrade{
		EnrollmentID: record.LocalEnrollmentID,
		Total:        result.Scaled,
		Letter:       result.Letter,
		Points:       result.Points,
		Source:       localGradeSource,
		GradedAt:     gradedAt,
	}); err != nil {
		return result, fmt.Errorf("write local grade: %w", err)
	}

	status := lms.EnrollmentStatusFor(record.CompletionStatus)
	if err := s.records.SetEnrollmentStatus(ctx, record.LocalEnrollmentID, status); err != nil {
		return result, fmt.Errorf("set enrollment status: %w", err)
	}

	record.MarkApplied()
	if err := s.repos.Grades.Save(ctx, record); err != nil {
		return result, fmt.Errorf("mark grade applied: %w", err)
	}
	return result, nil
}

func (s *GradeService) rejectEvent(
	ctx context.Context,
	entry *lms.SyncLogEntry,
	event lms.GradeEvent,
	cause error,
	result string,
	start time.Time,
) {
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Failed(cause, event))
	s.opts.metrics.RecordGradeEvent(ctx, result)
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeGrade, lms.OutcomeFailed, time.Since(start))

	logger.For(ctx, s.opts.logger).Warn("grade event rejected",
		zap.Int64("external_user_id", event.ExternalUserID),
		zap.Int64("external_course_id", event.ExternalCourseID),
		zap.String("result", result),
		zap.Error(cause),
	)
}

func gradeResultPayload(r lms.GradeResult) map[string]string {
	return map[string]string{
		"scaled": r.Scaled.StringFixed(2),
		"letter": r.Letter,
		"points": r.Points.StringFixed(2),
	}
}

// ---------------------------------------------------------------------------
// Pending application
// ---------------------------------------------------------------------------

// ApplyPendingGrades reconciles terminal records that were stored but never
// written to the SIS, for example after a SIS outage
func (s *GradeService) ApplyPendingGrades(ctx context.Context) (BatchResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "grade_reconciliation", "ApplyPendingGrades")
	defer span.End()

	pending, err := s.repos.Grades.FindPendingApplication(ctx, 0)
	if err != nil {
		telemetry.RecordError(span, err)
		return BatchResult{}, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchSize, len(pending))

	result := SyncMany(ctx, pending, func(r lms.GradeRecord) string { return r.LocalEnrollmentID.String() },
		func(ctx context.Context, r lms.GradeRecord) error {
			return s.applyPending(ctx, r)
		}, s.settings.BatchWorkers)
	s.opts.metrics.RecordBatch(ctx, "apply_pending_grades", result.Succeeded, result.Failed)
	return result, nil
}

func (s *GradeService) applyPending(ctx context.Context, r lms.GradeRecord) error {
	release, err := lockEntity(ctx, s.locker, lms.GradeLockKey(r.LocalEnrollmentID))
	if err != nil {
		return err
	}
	defer release()

	// reload under the lock; an event may have landed since the listing
	record, err := s.repos.Grades.FindByLocalEnrollmentID(ctx, r.LocalEnrollmentID)
	if err != nil {
		return err
	}
	if !record.NeedsApplication() {
		return ErrSkipped
	}

	start := s.opts.now()
	entry := lms.NewSyncLogEntry(lms.SyncTypeGrade, lms.DirectionFromExternal, lms.SubjectGradeRecord, record.ID.String())
	result, err := s.apply(ctx, record)
	if err != nil {
		appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Failed(err, nil))
		s.opts.metrics.RecordSync(ctx, lms.SyncTypeGrade, lms.OutcomeFailed, time.Since(start))
		return err
	}
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Succeeded(
		fmt.Sprintf("pending grade applied: %s %s", result.Scaled.StringFixed(2), result.Letter),
		nil, gradeResultPayload(result)))
	s.opts.metrics.RecordGradeEvent(ctx, gradeResultApplied)
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeGrade, lms.OutcomeSuccess, time.Since(start))
	return nil
}

// ---------------------------------------------------------------------------
// Grade import
// ---------------------------------------------------------------------------

// ImportCourseGrades pulls the course grade of every user enrolled in an LMS
// course and ingests it. Users without a grade entry are skipped; per-user
// failures are isolated in the result.
func (s *GradeService) ImportCourseGrades(ctx context.Context, externalCourseID int64) (BatchResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "grade_reconciliation", "ImportCourseGrades",
		telemetry.WithAttribute(telemetry.SpanAttrExternalID, externalCourseID),
	)
	defer span.End()

	if externalCourseID <= 0 {
		return BatchResult{}, lms.ErrInvalidExternalID
	}
	users, err := s.gateway.EnrolledUsers(ctx, externalCourseID)
	if err != nil {
		telemetry.RecordError(span, err)
		return BatchResult{}, fmt.Errorf("list enrolled users of course %d: %w", externalCourseID, err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchSize, len(users))

	var result BatchResult
	telemetry.WithProfilingLabels(ctx, telemetry.OperationLabels("import_grades", string(lms.SyncTypeGrade)), func(ctx context.Context) {
		result = SyncMany(ctx, users, func(u lms.RemoteEnrolledUser) string { return strconv.FormatInt(u.ID, 10) },
			func(ctx context.Context, u lms.RemoteEnrolledUser) error {
				return s.importUserGrade(ctx, u.ID, externalCourseID)
			}, s.settings.BatchWorkers)
	})
	s.opts.metrics.RecordBatch(ctx, "import_grades", result.Succeeded, result.Failed)

	logger.For(ctx, s.opts.logger).Info("course grades imported",
		zap.Int64("external_course_id", externalCourseID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *GradeService) importUserGrade(ctx context.Context, userID, courseID int64) error {
	grades, err := s.gateway.UserCourseGrades(ctx, userID)
	if err != nil {
		return err
	}
	for _, g := range grades {
		if g.CourseID != courseID {
			continue
		}
		// the overview percentage is already on the 0..100 scale
		score := g.Score()
		gradeMax := lms.DefaultGradeMax
		_, err := s.IngestGradeEvent(ctx, lms.GradeEvent{
			ExternalUserID:   userID,
			ExternalCourseID: courseID,
			Grade:            score,
			GradeMax:         &gradeMax,
			StatusHint:       StatusHintForGrade(g.Grade, score),
		})
		return err
	}
	return ErrSkipped
}

// ImportAllCourseGrades runs ImportCourseGrades over every SYNCED course.
// A course whose enrolment listing fails counts as one failed item.
func (s *GradeService) ImportAllCourseGrades(ctx context.Context) (BatchResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "grade_reconciliation", "ImportAllCourseGrades")
	defer span.End()

	courses, err := s.repos.Courses.FindByStatus(ctx, lms.SyncStatusSynced, 0)
	if err != nil {
		telemetry.RecordError(span, err)
		return BatchResult{}, err
	}

	total := BatchResult{Errors: []BatchError{}}
	for _, c := range courses {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if c.ExternalCourseID == nil {
			total.Skipped++
			continue
		}
		result, err := s.ImportCourseGrades(ctx, *c.ExternalCourseID)
		if err != nil {
			total.Failed++
			total.Errors = append(total.Errors, BatchError{
				ID:    fmt.Sprintf("course:%d", *c.ExternalCourseID),
				Error: err.Error(),
			})
			continue
		}
		total.Merge(result)
	}
	return total, nil
}

// StatusHintForGrade derives a completion hint from a course grade overview
// entry: no grade is in progress, 50 or more is completed, anything lower
// is failed
func StatusHintForGrade(display string, raw *decimal.Decimal) string {
	if raw == nil {
		display = strings.TrimSpace(display)
		if display == "" || display == "-" {
			return "in_progress"
		}
		value := strings.TrimSpace(strings.TrimSuffix(display, "%"))
		parsed, err := decimal.NewFromString(value)
		if err != nil {
			return "in_progress"
		}
		raw = &parsed
	}
	if raw.GreaterThanOrEqual(passingGrade) {
		return "completed"
	}
	return "failed"
}
