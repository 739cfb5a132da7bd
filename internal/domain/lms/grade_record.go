package lms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GradeEvent is a grade report received from the LMS, either pushed through
// the webhook or pulled by a course import.
type GradeEvent struct {
	ExternalUserID   int64
	ExternalCourseID int64
	// Grade is nil when the LMS has not graded the user yet
	Grade *decimal.Decimal
	// GradeMax defaults to 100 when nil
	GradeMax    *decimal.Decimal
	StatusHint  string
	CompletedAt *time.Time
	// OccurredAt is the source timestamp, used to reject out-of-order delivery
	OccurredAt *time.Time
	// GradeItems is an opaque breakdown stored as-is
	GradeItems json.RawMessage
}

// Validate checks the event can be attributed at all
func (e GradeEvent) Validate() error {
	if e.ExternalUserID <= 0 || e.ExternalCourseID <= 0 {
		return ErrInvalidExternalID
	}
	return nil
}

// Max returns the effective scale maximum
func (e GradeEvent) Max() decimal.Decimal {
	if e.GradeMax == nil {
		return DefaultGradeMax
	}
	return *e.GradeMax
}

// ---------------------------------------------------------------------------
// GradeRecord Entity
// ---------------------------------------------------------------------------

// GradeRecord is the latest grade the LMS reported for one enrollment.
// Re-reporting overwrites the record; there is never more than one per enrollment.
type GradeRecord struct {
	ID                  uuid.UUID
	LocalEnrollmentID   uuid.UUID
	EnrollmentMappingID uuid.UUID
	ExternalUserID      int64
	ExternalCourseID    int64
	RawGrade            *decimal.Decimal
	GradeMax            decimal.Decimal
	CompletionStatus    CompletionStatus
	CompletedAt         *time.Time
	OccurredAt          *time.Time
	ReceivedAt          time.Time
	Applied             bool
	AppliedAt           *time.Time
	GradeItems          json.RawMessage
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewGradeRecord creates the record for an enrollment from its first event
func NewGradeRecord(mapping *EnrollmentMapping, event GradeEvent) (*GradeRecord, error) {
	if mapping == nil || mapping.LocalEnrollmentID == uuid.Nil {
		return nil, ErrInvalidLocalID
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	r := &GradeRecord{
		ID:                  uuid.New(),
		LocalEnrollmentID:   mapping.LocalEnrollmentID,
		EnrollmentMappingID: mapping.ID,
		CreatedAt:           now,
	}
	r.Overwrite(event)
	return r, nil
}

// Overwrite replaces the reported state with the event and resets the
// applied flag
func (r *GradeRecord) Overwrite(event GradeEvent) {
	now := time.Now()
	r.ExternalUserID = event.ExternalUserID
	r.ExternalCourseID = event.ExternalCourseID
	r.RawGrade = event.Grade
	r.GradeMax = event.Max()
	r.CompletionStatus = ParseCompletionHint(event.StatusHint)
	r.CompletedAt = event.CompletedAt
	if r.CompletionStatus.IsTerminal() && r.CompletedAt == nil {
		r.CompletedAt = &now
	}
	r.OccurredAt = event.OccurredAt
	r.GradeItems = event.GradeItems
	r.ReceivedAt = now
	r.Applied = false
	r.AppliedAt = nil
	r.UpdatedAt = now
}

// IsStale reports whether the event is older than what is already stored.
// Events without a source timestamp are never stale.
func (r *GradeRecord) IsStale(event GradeEvent) bool {
	if r.OccurredAt == nil || event.OccurredAt == nil {
		return false
	}
	return event.OccurredAt.Before(*r.OccurredAt)
}

// NeedsApplication reports whether the record is terminal but not yet
// reflected in the local academic record
func (r *GradeRecord) NeedsApplication() bool {
	return r.CompletionStatus.IsTerminal() && !r.Applied
}

// MarkApplied flags the record as reconciled
func (r *GradeRecord) MarkApplied() {
	now := time.Now()
	r.Applied = true
	r.AppliedAt = &now
	r.UpdatedAt = now
}

// Evaluate applies the grading scale to the stored grade
func (r *GradeRecord) Evaluate(scale *GradingScale) GradeResult {
	return scale.Evaluate(r.RawGrade, r.GradeMax)
}

// GradeRecordStats aggregates grade records for reporting
type GradeRecordStats struct {
	Total              int64 `json:"total"`
	Applied            int64 `json:"applied"`
	PendingApplication int64 `json:"pending_application"`
	Completed          int64 `json:"completed"`
	Failed             int64 `json:"failed"`
	InProgress         int64 `json:"in_progress"`
}

// ---------------------------------------------------------------------------
// GradeRecord Repository
// ---------------------------------------------------------------------------

// GradeRecordRepository persists grade records
type GradeRecordRepository interface {
	FindByLocalEnrollmentID(ctx context.Context, localEnrollmentID uuid.UUID) (*GradeRecord, error)
	// FindPendingApplication returns terminal records that were not applied
	FindPendingApplication(ctx context.Context, limit int) ([]GradeRecord, error)
	// Upsert inserts the record or overwrites the one stored for the same
	// enrollment, and returns the stored row
	Upsert(ctx context.Context, record *GradeRecord) (*GradeRecord, error)
	Save(ctx context.Context, record *GradeRecord) error
	Stats(ctx context.Context) (GradeRecordStats, error)
}
