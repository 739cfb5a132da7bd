package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	lmsapp "github.com/campus/lmssync/internal/application/lms"
	"github.com/campus/lmssync/internal/domain/lms"
)

// MaxBulkGrades caps the number of grades in one bulk webhook delivery
const MaxBulkGrades = 500

// ErrInvalidGradeValue is returned for negative grades or a non-positive maximum
var ErrInvalidGradeValue = errors.New("grade must be non-negative and grade_max positive")

// ---------------------------------------------------------------------------
// Webhook requests
// ---------------------------------------------------------------------------

// GradeWebhookRequest is a grade report pushed by the LMS. The external_*
// and status_hint names take precedence; user_id, course_id and status are
// accepted from older plugin versions.
type GradeWebhookRequest struct {
	ExternalUserID   int64            `json:"external_user_id" binding:"required_without=UserID,gte=0"`
	ExternalCourseID int64            `json:"external_course_id" binding:"required_without=CourseID,gte=0"`
	UserID           int64            `json:"user_id" binding:"required_without=ExternalUserID,gte=0"`
	CourseID         int64            `json:"course_id" binding:"required_without=ExternalCourseID,gte=0"`
	Grade            *decimal.Decimal `json:"grade"`
	GradeMax         *decimal.Decimal `json:"grade_max"`
	StatusHint       string           `json:"status_hint" binding:"omitempty,oneof=completed complete in_progress failed fail"`
	Status           string           `json:"status" binding:"omitempty,oneof=completed complete in_progress failed fail"`
	CompletedAt      *time.Time       `json:"completed_at"`
	OccurredAt       *time.Time       `json:"occurred_at"`
	GradeItems       json.RawMessage  `json:"grade_items"`
	// Secret is the fallback location of the shared webhook secret
	Secret string `json:"secret"`
}

// LMSUserID returns external_user_id, or user_id when it is absent
func (r GradeWebhookRequest) LMSUserID() int64 {
	return firstID(r.ExternalUserID, r.UserID)
}

// LMSCourseID returns external_course_id, or course_id when it is absent
func (r GradeWebhookRequest) LMSCourseID() int64 {
	return firstID(r.ExternalCourseID, r.CourseID)
}

func (r GradeWebhookRequest) statusHint() string {
	if r.StatusHint != "" {
		return r.StatusHint
	}
	return r.Status
}

func firstID(preferred, fallback int64) int64 {
	if preferred != 0 {
		return preferred
	}
	return fallback
}

// ToEvent converts the request into a domain grade event
func (r GradeWebhookRequest) ToEvent() (lms.GradeEvent, error) {
	if r.Grade != nil && r.Grade.IsNegative() {
		return lms.GradeEvent{}, ErrInvalidGradeValue
	}
	if r.GradeMax != nil && !r.GradeMax.IsPositive() {
		return lms.GradeEvent{}, ErrInvalidGradeValue
	}
	event := lms.GradeEvent{
		ExternalUserID:   r.LMSUserID(),
		ExternalCourseID: r.LMSCourseID(),
		Grade:            r.Grade,
		GradeMax:         r.GradeMax,
		StatusHint:       r.statusHint(),
		CompletedAt:      r.CompletedAt,
		OccurredAt:       r.OccurredAt,
	}
	if len(r.GradeItems) > 0 && string(r.GradeItems) != "null" {
		event.GradeItems = r.GradeItems
	}
	return event, nil
}

// BulkGradeWebhookRequest carries several grade reports. Each item is
// validated on its own; one bad item fails the whole delivery.
type BulkGradeWebhookRequest struct {
	Grades []GradeWebhookRequest `json:"grades" binding:"required,min=1,max=500,dive"`
	Secret string                `json:"secret"`
}

// CompletionWebhookRequest reports a terminal course completion. Identifiers
// follow the same naming as GradeWebhookRequest.
type CompletionWebhookRequest struct {
	ExternalUserID   int64      `json:"external_user_id" binding:"required_without=UserID,gte=0"`
	ExternalCourseID int64      `json:"external_course_id" binding:"required_without=CourseID,gte=0"`
	UserID           int64      `json:"user_id" binding:"required_without=ExternalUserID,gte=0"`
	CourseID         int64      `json:"course_id" binding:"required_without=ExternalCourseID,gte=0"`
	Status           string     `json:"status" binding:"required,oneof=completed failed"`
	CompletedAt      *time.Time `json:"completed_at"`
	OccurredAt       *time.Time `json:"occurred_at"`
	Secret           string     `json:"secret"`
}

// ToEvent converts the request into a grade event without a grade.
// CompletedAt defaults to now.
func (r CompletionWebhookRequest) ToEvent(now time.Time) lms.GradeEvent {
	completedAt := r.CompletedAt
	if completedAt == nil {
		completedAt = &now
	}
	return lms.GradeEvent{
		ExternalUserID:   firstID(r.ExternalUserID, r.UserID),
		ExternalCourseID: firstID(r.ExternalCourseID, r.CourseID),
		StatusHint:       r.Status,
		CompletedAt:      completedAt,
		OccurredAt:       r.OccurredAt,
	}
}

// ---------------------------------------------------------------------------
// Webhook responses
// ---------------------------------------------------------------------------

// GradeWebhookResponse describes the stored grade record
type GradeWebhookResponse struct {
	ID               string `json:"id"`
	EnrollmentID     string `json:"enrollment_id"`
	CompletionStatus string `json:"completion_status"`
	Applied          bool   `json:"applied"`
	Stale            bool   `json:"stale,omitempty"`
}

// ToGradeWebhookResponse converts a grade record
func ToGradeWebhookResponse(r *lms.GradeRecord) GradeWebhookResponse {
	return GradeWebhookResponse{
		ID:               r.ID.String(),
		EnrollmentID:     r.LocalEnrollmentID.String(),
		CompletionStatus: string(r.CompletionStatus),
		Applied:          r.Applied,
	}
}

// BulkGradeError is the failure of one bulk item
type BulkGradeError struct {
	UserID   int64  `json:"user_id"`
	CourseID int64  `json:"course_id"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// BulkGradeResponse summarizes a bulk delivery. Pending items were stored
// but not yet applied to the SIS; apply-pending picks them up.
type BulkGradeResponse struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Stale     int              `json:"stale"`
	Pending   int              `json:"pending"`
	Errors    []BulkGradeError `json:"errors"`
}

// ---------------------------------------------------------------------------
// Admin requests
// ---------------------------------------------------------------------------

// SyncBatchRequest selects the entities of a batch sync
type SyncBatchRequest struct {
	IDs         []string `json:"ids" binding:"omitempty,max=1000,dive,uuid"`
	OnlyPending bool     `json:"only_pending"`
	Term        string   `json:"term" binding:"omitempty,max=64"`
}

// ToOptions converts the request into batch options
func (r SyncBatchRequest) ToOptions() (lmsapp.BatchOptions, error) {
	opts := lmsapp.BatchOptions{
		OnlyPending: r.OnlyPending,
		Term:        strings.TrimSpace(r.Term),
	}
	for _, raw := range r.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return lmsapp.BatchOptions{}, fmt.Errorf("%w: %q", lms.ErrInvalidLocalID, raw)
		}
		opts.IDs = append(opts.IDs, id)
	}
	return opts, nil
}

// ImportGradesRequest names the LMS course to pull grades for
type ImportGradesRequest struct {
	ExternalCourseID int64 `json:"external_course_id" binding:"required,gt=0"`
}

// RetryFailedRequest names the mapping kind to retry
type RetryFailedRequest struct {
	Type string `json:"type" binding:"required,oneof=users courses enrollments"`
}

// DefaultImportJobsLimit is the history size returned without ?limit=
const DefaultImportJobsLimit = 20

// ImportJobsQuery bounds the import job history listing
type ImportJobsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// LogListQuery filters the audit log listing
type LogListQuery struct {
	Type      string `form:"type"`
	Direction string `form:"direction"`
	Outcome   string `form:"outcome"`
	Days      int    `form:"days" binding:"omitempty,min=0"`
	Page      int    `form:"page" binding:"omitempty,min=0"`
	PageSize  int    `form:"page_size" binding:"omitempty,min=0"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// ToQuery validates the enum filters, which are matched case-insensitively
func (q LogListQuery) ToQuery() (lmsapp.LogQuery, []ValidationDetail) {
	query := lmsapp.LogQuery{
		SyncType:  lms.SyncType(strings.ToUpper(q.Type)),
		Direction: lms.Direction(strings.ToUpper(q.Direction)),
		Outcome:   lms.Outcome(strings.ToUpper(q.Outcome)),
		Days:      q.Days,
		Page:      q.Page,
		PageSize:  q.PageSize,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
	}
	var details []ValidationDetail
	if query.SyncType != "" && !query.SyncType.IsValid() {
		details = append(details, ValidationDetail{Field: "type", Message: "Must be one of: USER COURSE ENROLLMENT GRADE"})
	}
	if query.Direction != "" && !query.Direction.IsValid() {
		details = append(details, ValidationDetail{Field: "direction", Message: "Must be one of: TO_EXTERNAL FROM_EXTERNAL"})
	}
	if query.Outcome != "" && !query.Outcome.IsValid() {
		details = append(details, ValidationDetail{Field: "outcome", Message: "Must be one of: SUCCESS FAILED"})
	}
	return query, details
}

// ---------------------------------------------------------------------------
// Admin responses
// ---------------------------------------------------------------------------

// MappingResponse is the API view of a user, course or enrollment mapping
type MappingResponse struct {
	ID           string     `json:"id"`
	LocalID      string     `json:"local_id"`
	ExternalID   *int64     `json:"external_id,omitempty"`
	NaturalKey   string     `json:"natural_key,omitempty"`
	Status       string     `json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	FailureCount int        `json:"failure_count"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ToUserMappingResponse converts a user mapping
func ToUserMappingResponse(m *lms.UserMapping) MappingResponse {
	return MappingResponse{
		ID:           m.ID.String(),
		LocalID:      m.LocalUserID.String(),
		ExternalID:   m.ExternalUserID,
		NaturalKey:   m.Username,
		Status:       string(m.Status),
		LastSyncedAt: m.LastSyncedAt,
		LastError:    m.LastError,
		FailureCount: m.FailureCount,
		UpdatedAt:    m.UpdatedAt,
	}
}

// ToCourseMappingResponse converts a course mapping
func ToCourseMappingResponse(m *lms.CourseMapping) MappingResponse {
	return MappingResponse{
		ID:           m.ID.String(),
		LocalID:      m.LocalCourseID.String(),
		ExternalID:   m.ExternalCourseID,
		NaturalKey:   m.Shortname,
		Status:       string(m.Status),
		LastSyncedAt: m.LastSyncedAt,
		LastError:    m.LastError,
		FailureCount: m.FailureCount,
		UpdatedAt:    m.UpdatedAt,
	}
}

// EnrollmentMappingResponse adds both sides of the pair
type EnrollmentMappingResponse struct {
	MappingResponse
	ExternalUserID   *int64 `json:"external_user_id,omitempty"`
	ExternalCourseID *int64 `json:"external_course_id,omitempty"`
	Role             string `json:"role"`
}

// ToEnrollmentMappingResponse converts an enrollment mapping
func ToEnrollmentMappingResponse(m *lms.EnrollmentMapping) EnrollmentMappingResponse {
	return EnrollmentMappingResponse{
		MappingResponse: MappingResponse{
			ID:           m.ID.String(),
			LocalID:      m.LocalEnrollmentID.String(),
			Status:       string(m.Status),
			LastSyncedAt: m.LastSyncedAt,
			LastError:    m.LastError,
			FailureCount: m.FailureCount,
			UpdatedAt:    m.UpdatedAt,
		},
		ExternalUserID:   m.ExternalUserID,
		ExternalCourseID: m.ExternalCourseID,
		Role:             m.Role,
	}
}

// SyncLogResponse is the API view of an audit entry
type SyncLogResponse struct {
	ID           string          `json:"id"`
	SubjectType  string          `json:"subject_type"`
	SubjectID    string          `json:"subject_id"`
	SyncType     string          `json:"sync_type"`
	Direction    string          `json:"direction"`
	Outcome      string          `json:"outcome"`
	Message      string          `json:"message"`
	RequestData  json.RawMessage `json:"request_data,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	RetryCount   int             `json:"retry_count"`
	SyncRunID    string          `json:"sync_run_id,omitempty"`
	SyncedAt     time.Time       `json:"synced_at"`
}

// ToSyncLogResponses converts audit entries
func ToSyncLogResponses(entries []lms.SyncLogEntry) []SyncLogResponse {
	out := make([]SyncLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, SyncLogResponse{
			ID:           e.ID.String(),
			SubjectType:  e.SubjectType,
			SubjectID:    e.SubjectID,
			SyncType:     string(e.SyncType),
			Direction:    string(e.Direction),
			Outcome:      string(e.Outcome),
			Message:      e.Message,
			RequestData:  e.RequestData,
			ResponseData: e.ResponseData,
			RetryCount:   e.RetryCount,
			SyncRunID:    e.SyncRunID,
			SyncedAt:     e.SyncedAt,
		})
	}
	return out
}
