package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus/lmssync/internal/domain/lms"
)

func TestGradeWebhookRequest_ToEvent(t *testing.T) {
	var req GradeWebhookRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"user_id": 42,
		"course_id": 7,
		"grade": "87.5",
		"grade_max": 100,
		"status": "completed",
		"completed_at": "2026-05-01T10:00:00Z",
		"grade_items": [{"name": "Quiz 1", "grade": 9}]
	}`), &req))

	event, err := req.ToEvent()
	require.NoError(t, err)
	assert.Equal(t, int64(42), event.ExternalUserID)
	assert.Equal(t, int64(7), event.ExternalCourseID)
	require.NotNil(t, event.Grade)
	assert.True(t, event.Grade.Equal(decimal.RequireFromString("87.5")))
	assert.Equal(t, "completed", event.StatusHint)
	require.NotNil(t, event.CompletedAt)
	assert.Equal(t, 2026, event.CompletedAt.Year())
	assert.JSONEq(t, `[{"name": "Quiz 1", "grade": 9}]`, string(event.GradeItems))
	assert.Nil(t, event.OccurredAt)
}

func TestGradeWebhookRequest_ToEvent_FieldNames(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantUser   int64
		wantCourse int64
		wantHint   string
	}{
		{"external names", `{"external_user_id": 42, "external_course_id": 7, "status_hint": "in_progress"}`, 42, 7, "in_progress"},
		{"short names", `{"user_id": 42, "course_id": 7, "status": "failed"}`, 42, 7, "failed"},
		{"external names win", `{"external_user_id": 5, "user_id": 42, "external_course_id": 6, "course_id": 7, "status_hint": "completed", "status": "failed"}`, 5, 6, "completed"},
		{"mixed", `{"external_user_id": 42, "course_id": 7}`, 42, 7, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req GradeWebhookRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

			event, err := req.ToEvent()
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, event.ExternalUserID)
			assert.Equal(t, tt.wantCourse, event.ExternalCourseID)
			assert.Equal(t, tt.wantHint, event.StatusHint)
			assert.Equal(t, tt.wantUser, req.LMSUserID())
			assert.Equal(t, tt.wantCourse, req.LMSCourseID())
		})
	}
}

func TestGradeWebhookRequest_ToEvent_NullItemsDropped(t *testing.T) {
	var req GradeWebhookRequest
	require.NoError(t, json.Unmarshal([]byte(`{"user_id": 1, "course_id": 2, "grade_items": null}`), &req))

	event, err := req.ToEvent()
	require.NoError(t, err)
	assert.Nil(t, event.GradeItems)
	assert.Nil(t, event.Grade)
}

func TestGradeWebhookRequest_ToEvent_RejectsInvalidValues(t *testing.T) {
	negative := decimal.NewFromInt(-1)
	zero := decimal.Zero

	_, err := GradeWebhookRequest{UserID: 1, CourseID: 2, Grade: &negative}.ToEvent()
	assert.ErrorIs(t, err, ErrInvalidGradeValue)

	_, err = GradeWebhookRequest{UserID: 1, CourseID: 2, GradeMax: &zero}.ToEvent()
	assert.ErrorIs(t, err, ErrInvalidGradeValue)
}

func TestCompletionWebhookRequest_ToEvent(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	event := CompletionWebhookRequest{UserID: 3, CourseID: 4, Status: "failed"}.ToEvent(now)
	assert.Nil(t, event.Grade)
	assert.Equal(t, "failed", event.StatusHint)
	require.NotNil(t, event.CompletedAt)
	assert.Equal(t, now, *event.CompletedAt)
	assert.Equal(t, lms.CompletionFailed, lms.ParseCompletionHint(event.StatusHint))

	earlier := now.Add(-time.Hour)
	event = CompletionWebhookRequest{UserID: 3, CourseID: 4, Status: "completed", CompletedAt: &earlier}.ToEvent(now)
	assert.Equal(t, earlier, *event.CompletedAt)

	event = CompletionWebhookRequest{ExternalUserID: 8, ExternalCourseID: 9, Status: "completed"}.ToEvent(now)
	assert.Equal(t, int64(8), event.ExternalUserID)
	assert.Equal(t, int64(9), event.ExternalCourseID)
}

func TestSyncBatchRequest_ToOptions(t *testing.T) {
	id := uuid.New()

	opts, err := SyncBatchRequest{IDs: []string{id.String()}, OnlyPending: true, Term: " 2026-FA "}.ToOptions()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, opts.IDs)
	assert.True(t, opts.OnlyPending)
	assert.Equal(t, "2026-FA", opts.Term)

	_, err = SyncBatchRequest{IDs: []string{"not-a-uuid"}}.ToOptions()
	assert.ErrorIs(t, err, lms.ErrInvalidLocalID)
}

func TestLogListQuery_ToQuery(t *testing.T) {
	query, details := LogListQuery{Type: "user", Direction: "to_external", Outcome: "failed", Days: 3}.ToQuery()
	assert.Empty(t, details)
	assert.Equal(t, lms.SyncTypeUser, query.SyncType)
	assert.Equal(t, lms.DirectionToExternal, query.Direction)
	assert.Equal(t, lms.OutcomeFailed, query.Outcome)
	assert.Equal(t, 3, query.Days)

	_, details = LogListQuery{Type: "payment", Outcome: "maybe"}.ToQuery()
	require.Len(t, details, 2)
	assert.Equal(t, "type", details[0].Field)
	assert.Equal(t, "outcome", details[1].Field)
}

func TestToEnrollmentMappingResponse(t *testing.T) {
	userID, courseID := int64(10), int64(20)
	m, err := lms.NewEnrollmentMapping(uuid.New(), uuid.New(), uuid.New(), "")
	require.NoError(t, err)
	m.ExternalUserID = &userID
	m.ExternalCourseID = &courseID

	resp := ToEnrollmentMappingResponse(m)
	assert.Equal(t, m.LocalEnrollmentID.String(), resp.LocalID)
	assert.Equal(t, lms.DefaultEnrollmentRole, resp.Role)
	assert.Equal(t, string(lms.SyncStatusPending), resp.Status)
	assert.Equal(t, &courseID, resp.ExternalCourseID)
}
