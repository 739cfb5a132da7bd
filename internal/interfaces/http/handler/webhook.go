package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/interfaces/http/dto"
	"github.com/campus/lmssync/internal/interfaces/http/middleware"
)

// GradeIngester records LMS grade events
type GradeIngester interface {
	IngestGradeEvent(ctx context.Context, event lms.GradeEvent) (*lms.GradeRecord, error)
}

// WebhookHandler receives grade and completion pushes from the LMS. The
// routes sit behind middleware.WebhookSecret, not JWT.
type WebhookHandler struct {
	BaseHandler
	grades GradeIngester
	now    func() time.Time
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(grades GradeIngester) *WebhookHandler {
	return &WebhookHandler{grades: grades, now: time.Now}
}

// IngestGrade handles POST /api/v1/webhook/lms/grades
func (h *WebhookHandler) IngestGrade(c *gin.Context) {
	var req dto.GradeWebhookRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	event, err := req.ToEvent()
	if err != nil {
		h.ValidationError(c, []dto.ValidationDetail{{Field: "grade", Message: err.Error()}})
		return
	}
	h.respond(c, event)
}

// IngestCompletion handles POST /api/v1/webhook/lms/completion
func (h *WebhookHandler) IngestCompletion(c *gin.Context) {
	var req dto.CompletionWebhookRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	h.respond(c, req.ToEvent(h.now()))
}

// respond ingests one event and maps the outcome. A stale event answers 200
// so the LMS stops redelivering it; a stored event whose reconciliation
// failed answers 202 and waits for apply-pending.
func (h *WebhookHandler) respond(c *gin.Context, event lms.GradeEvent) {
	record, err := h.grades.IngestGradeEvent(c.Request.Context(), event)
	switch {
	case err == nil:
		h.Success(c, dto.ToGradeWebhookResponse(record))
	case errors.Is(err, lms.ErrStaleEvent) && record != nil:
		resp := dto.ToGradeWebhookResponse(record)
		resp.Stale = true
		h.Success(c, resp)
	case record != nil:
		logger.L(c.Request.Context()).Warn("grade stored but not applied",
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
		h.Accepted(c, dto.ToGradeWebhookResponse(record))
	default:
		h.Error(c, err)
	}
}

// IngestBulkGrades handles POST /api/v1/webhook/lms/grades/bulk. Items are
// ingested in order; one failing item never stops the others.
func (h *WebhookHandler) IngestBulkGrades(c *gin.Context) {
	var req dto.BulkGradeWebhookRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	ctx := c.Request.Context()
	resp := dto.BulkGradeResponse{Errors: []dto.BulkGradeError{}}
	for _, item := range req.Grades {
		if ctx.Err() != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, bulkError(item, ctx.Err()))
			continue
		}

		event, err := item.ToEvent()
		if err != nil {
			resp.Failed++
			resp.Errors = append(resp.Errors, dto.BulkGradeError{
				UserID: item.LMSUserID(), CourseID: item.LMSCourseID(),
				Code: dto.ErrCodeInvalidInput, Error: err.Error(),
			})
			continue
		}

		record, err := h.grades.IngestGradeEvent(ctx, event)
		switch {
		case err == nil:
			resp.Succeeded++
		case errors.Is(err, lms.ErrStaleEvent):
			resp.Stale++
		case record != nil:
			resp.Pending++
		default:
			resp.Failed++
			resp.Errors = append(resp.Errors, bulkError(item, err))
		}
	}

	logger.L(ctx).Info("bulk grade delivery processed",
		zap.Int("items", len(req.Grades)),
		zap.Int("succeeded", resp.Succeeded),
		zap.Int("failed", resp.Failed),
		zap.Int("stale", resp.Stale),
		zap.Int("pending", resp.Pending),
	)
	h.Success(c, resp)
}

func bulkError(item dto.GradeWebhookRequest, err error) dto.BulkGradeError {
	m := dto.ErrorFromDomain(err)
	return dto.BulkGradeError{
		UserID:   item.LMSUserID(),
		CourseID: item.LMSCourseID(),
		Code:     m.Code,
		Error:    m.Message,
	}
}
