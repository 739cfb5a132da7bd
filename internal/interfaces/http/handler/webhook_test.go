package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/interfaces/http/dto"
)

type MockGradeIngester struct {
	mock.Mock
}

func (m *MockGradeIngester) IngestGradeEvent(ctx context.Context, event lms.GradeEvent) (*lms.GradeRecord, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.GradeRecord), args.Error(1)
}

func newWebhookTestRouter(ingester GradeIngester, now time.Time) *gin.Engine {
	h := NewWebhookHandler(ingester)
	h.now = func() time.Time { return now }

	router := gin.New()
	router.POST("/grades", h.IngestGrade)
	router.POST("/grades/bulk", h.IngestBulkGrades)
	router.POST("/completion", h.IngestCompletion)
	return router
}

func postWebhook(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func gradeRecord(status lms.CompletionStatus, applied bool) *lms.GradeRecord {
	return &lms.GradeRecord{
		ID:                uuid.New(),
		LocalEnrollmentID: uuid.New(),
		CompletionStatus:  status,
		Applied:           applied,
	}
}

func decodeGradeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.GradeWebhookResponse {
	t.Helper()
	var envelope struct {
		Success bool                     `json:"success"`
		Data    dto.GradeWebhookResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestWebhookHandler_IngestGrade_Applied(t *testing.T) {
	ingester := new(MockGradeIngester)
	record := gradeRecord(lms.CompletionCompleted, true)
	ingester.On("IngestGradeEvent", mock.Anything, mock.MatchedBy(func(e lms.GradeEvent) bool {
		return e.ExternalUserID == 12 && e.ExternalCourseID == 7 &&
			e.Grade != nil && e.Grade.Equal(decimal.RequireFromString("87.5")) &&
			e.StatusHint == "completed"
	})).Return(record, nil)

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades",
		`{"user_id":12,"course_id":7,"grade":87.5,"grade_max":100,"status":"completed"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeGradeResponse(t, w)
	assert.Equal(t, record.ID.String(), resp.ID)
	assert.Equal(t, record.LocalEnrollmentID.String(), resp.EnrollmentID)
	assert.Equal(t, "COMPLETED", resp.CompletionStatus)
	assert.True(t, resp.Applied)
	assert.False(t, resp.Stale)
	ingester.AssertExpectations(t)
}

func TestWebhookHandler_IngestGrade_ExternalFieldNames(t *testing.T) {
	ingester := new(MockGradeIngester)
	ingester.On("IngestGradeEvent", mock.Anything, mock.MatchedBy(func(e lms.GradeEvent) bool {
		return e.ExternalUserID == 12 && e.ExternalCourseID == 7 && e.StatusHint == "failed"
	})).Return(gradeRecord(lms.CompletionFailed, true), nil)

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades",
		`{"external_user_id":12,"external_course_id":7,"grade":40,"status_hint":"failed"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FAILED", decodeGradeResponse(t, w).CompletionStatus)
	ingester.AssertExpectations(t)
}

func TestWebhookHandler_IngestGrade_Stale(t *testing.T) {
	ingester := new(MockGradeIngester)
	existing := gradeRecord(lms.CompletionCompleted, true)
	ingester.On("IngestGradeEvent", mock.Anything, mock.Anything).Return(existing, lms.ErrStaleEvent)

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades", `{"user_id":12,"course_id":7,"grade":50}`)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeGradeResponse(t, w)
	assert.True(t, resp.Stale)
	assert.Equal(t, existing.ID.String(), resp.ID)
}

func TestWebhookHandler_IngestGrade_ReconciliationFailed(t *testing.T) {
	ingester := new(MockGradeIngester)
	stored := gradeRecord(lms.CompletionCompleted, false)
	ingester.On("IngestGradeEvent", mock.Anything, mock.Anything).
		Return(stored, fmt.Errorf("reconcile grade: %w", lms.ErrLocalEntityNotFound))

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades",
		`{"user_id":12,"course_id":7,"grade":50,"status":"completed"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	resp := decodeGradeResponse(t, w)
	assert.False(t, resp.Applied)
}

func TestWebhookHandler_IngestGrade_Unmapped(t *testing.T) {
	ingester := new(MockGradeIngester)
	ingester.On("IngestGradeEvent", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: user 12 course 7", lms.ErrUnmappedEntity))

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades", `{"user_id":12,"course_id":7}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeUnmappedEntity, resp.Error.Code)
}

func TestWebhookHandler_IngestGrade_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user", `{"course_id":7}`},
		{"missing course", `{"external_user_id":12}`},
		{"negative user", `{"user_id":-12,"course_id":7}`},
		{"unknown status hint", `{"external_user_id":12,"external_course_id":7,"status_hint":"graded"}`},
		{"negative grade", `{"user_id":12,"course_id":7,"grade":-1}`},
		{"zero max", `{"user_id":12,"course_id":7,"grade":1,"grade_max":0}`},
		{"unknown status", `{"user_id":12,"course_id":7,"status":"graded"}`},
		{"malformed", `{"user_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := new(MockGradeIngester)

			w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			ingester.AssertNotCalled(t, "IngestGradeEvent", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhookHandler_IngestCompletion_DefaultsCompletedAt(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)
	ingester := new(MockGradeIngester)
	ingester.On("IngestGradeEvent", mock.Anything, mock.MatchedBy(func(e lms.GradeEvent) bool {
		return e.Grade == nil && e.StatusHint == "failed" &&
			e.CompletedAt != nil && e.CompletedAt.Equal(now)
	})).Return(gradeRecord(lms.CompletionFailed, true), nil)

	w := postWebhook(newWebhookTestRouter(ingester, now), "/completion", `{"user_id":12,"course_id":7,"status":"failed"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FAILED", decodeGradeResponse(t, w).CompletionStatus)
	ingester.AssertExpectations(t)
}

func TestWebhookHandler_IngestCompletion_RequiresStatus(t *testing.T) {
	ingester := new(MockGradeIngester)

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/completion", `{"user_id":12,"course_id":7}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	ingester.AssertNotCalled(t, "IngestGradeEvent", mock.Anything, mock.Anything)
}

func TestWebhookHandler_IngestBulkGrades(t *testing.T) {
	ingester := new(MockGradeIngester)
	byUser := func(id int64) any {
		return mock.MatchedBy(func(e lms.GradeEvent) bool { return e.ExternalUserID == id })
	}
	ingester.On("IngestGradeEvent", mock.Anything, byUser(1)).Return(gradeRecord(lms.CompletionCompleted, true), nil)
	ingester.On("IngestGradeEvent", mock.Anything, byUser(2)).Return(gradeRecord(lms.CompletionCompleted, true), lms.ErrStaleEvent)
	ingester.On("IngestGradeEvent", mock.Anything, byUser(3)).Return(nil, lms.ErrUnmappedEntity)
	ingester.On("IngestGradeEvent", mock.Anything, byUser(4)).
		Return(gradeRecord(lms.CompletionCompleted, false), fmt.Errorf("reconcile grade: %w", lms.ErrLocalEntityNotFound))

	body := `{"grades":[
		{"user_id":1,"course_id":7,"grade":90},
		{"user_id":2,"course_id":7,"grade":80},
		{"user_id":3,"course_id":7,"grade":70},
		{"user_id":4,"course_id":7,"grade":60,"status":"completed"},
		{"user_id":5,"course_id":7,"grade":-3}
	]}`
	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades/bulk", body)

	assert.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data dto.BulkGradeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	got := envelope.Data
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Stale)
	assert.Equal(t, 1, got.Pending)
	assert.Equal(t, 2, got.Failed)
	require.Len(t, got.Errors, 2)
	assert.Equal(t, int64(3), got.Errors[0].UserID)
	assert.Equal(t, dto.ErrCodeUnmappedEntity, got.Errors[0].Code)
	assert.Equal(t, int64(5), got.Errors[1].UserID)
	assert.Equal(t, dto.ErrCodeInvalidInput, got.Errors[1].Code)
	ingester.AssertNumberOfCalls(t, "IngestGradeEvent", 4)
}

func TestWebhookHandler_IngestBulkGrades_EmptyBatch(t *testing.T) {
	ingester := new(MockGradeIngester)

	w := postWebhook(newWebhookTestRouter(ingester, time.Now()), "/grades/bulk", `{"grades":[]}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
