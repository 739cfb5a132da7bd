package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	lmsapp "github.com/campus/lmssync/internal/application/lms"
	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/scheduler"
	"github.com/campus/lmssync/internal/interfaces/http/dto"
	"github.com/campus/lmssync/internal/interfaces/http/middleware"
)

// EntitySyncer pushes single local entities to the LMS
type EntitySyncer interface {
	SyncUserByID(ctx context.Context, id uuid.UUID) (*lms.UserMapping, error)
	SyncCourseByID(ctx context.Context, id uuid.UUID) (*lms.CourseMapping, error)
	SyncEnrollmentByID(ctx context.Context, id uuid.UUID) (*lms.EnrollmentMapping, error)
	UserCourses(ctx context.Context, localUserID uuid.UUID) ([]lms.RemoteCourse, error)
}

// BatchRunner runs batch syncs
type BatchRunner interface {
	SyncUsers(ctx context.Context, opts lmsapp.BatchOptions) (lmsapp.BatchResult, error)
	SyncCourses(ctx context.Context, opts lmsapp.BatchOptions) (lmsapp.BatchResult, error)
	SyncEnrollments(ctx context.Context, opts lmsapp.BatchOptions) (lmsapp.BatchResult, error)
	RetryFailed(ctx context.Context, kind lmsapp.RetryKind) (lmsapp.BatchResult, error)
}

// GradeImporter pulls grades from the LMS and applies pending records
type GradeImporter interface {
	ApplyPendingGrades(ctx context.Context) (lmsapp.BatchResult, error)
	ImportCourseGrades(ctx context.Context, externalCourseID int64) (lmsapp.BatchResult, error)
	ImportAllCourseGrades(ctx context.Context) (lmsapp.BatchResult, error)
}

// StatsReporter answers the read-only admin endpoints
type StatsReporter interface {
	Stats(ctx context.Context) (*lmsapp.SyncStatistics, error)
	ListLogs(ctx context.Context, query lmsapp.LogQuery) (*lmsapp.LogPage, error)
	TestConnection(ctx context.Context) (*lmsapp.ConnectionTest, error)
	Status(ctx context.Context) (*lmsapp.StatusReport, error)
}

// PictureSyncer copies LMS profile pictures into object storage
type PictureSyncer interface {
	SyncProfilePictures(ctx context.Context) (lmsapp.BatchResult, error)
}

// ImportJobQueue queues scheduler runs of the all-courses grade import
type ImportJobQueue interface {
	TriggerNow() (scheduler.GradeImportJob, error)
	GetJobHistory(limit int) []scheduler.GradeImportJob
}

// LMSHandlerDeps holds the services behind the admin API. Pictures and
// ImportJobs may be nil when object storage or the scheduler is disabled.
type LMSHandlerDeps struct {
	Sync       EntitySyncer
	Batch      BatchRunner
	Grades     GradeImporter
	Stats      StatsReporter
	Pictures   PictureSyncer
	ImportJobs ImportJobQueue
}

// LMSHandler serves the JWT protected admin API under /api/v1/lms
type LMSHandler struct {
	BaseHandler
	deps LMSHandlerDeps
}

// NewLMSHandler creates a new LMSHandler
func NewLMSHandler(deps LMSHandlerDeps) *LMSHandler {
	return &LMSHandler{deps: deps}
}

// ---------------------------------------------------------------------------
// Status and statistics
// ---------------------------------------------------------------------------

// GetStatus reports LMS connectivity and, when connected, statistics
func (h *LMSHandler) GetStatus(c *gin.Context) {
	report, err := h.deps.Stats.Status(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, report)
}

// GetStats returns the mapping and activity statistics
func (h *LMSHandler) GetStats(c *gin.Context) {
	stats, err := h.deps.Stats.Stats(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, stats)
}

// ListLogs returns one page of the audit log
func (h *LMSHandler) ListLogs(c *gin.Context) {
	var q dto.LogListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	query, details := q.ToQuery()
	if len(details) > 0 {
		h.ValidationError(c, details)
		return
	}

	page, err := h.deps.Stats.ListLogs(c.Request.Context(), query)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.SuccessWithMeta(c, dto.ToSyncLogResponses(page.Entries), page.Total, page.Page, page.PageSize)
}

// TestConnection checks the LMS. A failed check is still a 200; the body
// carries the error.
func (h *LMSHandler) TestConnection(c *gin.Context) {
	result, err := h.deps.Stats.TestConnection(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, result)
}

// ---------------------------------------------------------------------------
// Single entity sync
// ---------------------------------------------------------------------------

// SyncUser pushes one local user
func (h *LMSHandler) SyncUser(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	mapping, err := h.deps.Sync.SyncUserByID(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, dto.ToUserMappingResponse(mapping))
}

// SyncCourse pushes one local course
func (h *LMSHandler) SyncCourse(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	mapping, err := h.deps.Sync.SyncCourseByID(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, dto.ToCourseMappingResponse(mapping))
}

// SyncEnrollment pushes one local enrollment, syncing its user and course
// first when needed
func (h *LMSHandler) SyncEnrollment(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	mapping, err := h.deps.Sync.SyncEnrollmentByID(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, dto.ToEnrollmentMappingResponse(mapping))
}

// UserCourses lists the LMS courses a synced local user is enrolled in
func (h *LMSHandler) UserCourses(c *gin.Context) {
	id, ok := h.parseIDParam(c, "id")
	if !ok {
		return
	}
	courses, err := h.deps.Sync.UserCourses(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}
	if courses == nil {
		courses = []lms.RemoteCourse{}
	}
	h.Success(c, courses)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

type batchFunc func(ctx context.Context, opts lmsapp.BatchOptions) (lmsapp.BatchResult, error)

func (h *LMSHandler) runBatch(c *gin.Context, name string, run batchFunc) {
	var req dto.SyncBatchRequest
	// an empty body selects everything
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}
	opts, err := req.ToOptions()
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx := c.Request.Context()
	result, err := run(ctx, opts)
	if err != nil {
		h.Error(c, err)
		return
	}
	logger.L(ctx).Info("batch sync finished",
		zap.String("batch", name),
		zap.String("admin", middleware.GetJWTSubject(c)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	h.Success(c, result)
}

// SyncUsers runs the user batch
func (h *LMSHandler) SyncUsers(c *gin.Context) {
	h.runBatch(c, "users", h.deps.Batch.SyncUsers)
}

// SyncCourses runs the course batch
func (h *LMSHandler) SyncCourses(c *gin.Context) {
	h.runBatch(c, "courses", h.deps.Batch.SyncCourses)
}

// SyncEnrollments runs the enrollment batch
func (h *LMSHandler) SyncEnrollments(c *gin.Context) {
	h.runBatch(c, "enrollments", h.deps.Batch.SyncEnrollments)
}

// RetryFailed re-runs every FAILED mapping of one kind
func (h *LMSHandler) RetryFailed(c *gin.Context) {
	var req dto.RetryFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	result, err := h.deps.Batch.RetryFailed(c.Request.Context(), lmsapp.RetryKind(req.Type))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, result)
}

// SyncProfilePictures copies custom LMS profile pictures into storage
func (h *LMSHandler) SyncProfilePictures(c *gin.Context) {
	if h.deps.Pictures == nil {
		h.Error(c, lmsapp.ErrStorageNotConfigured)
		return
	}
	result, err := h.deps.Pictures.SyncProfilePictures(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, result)
}

// ---------------------------------------------------------------------------
// Grades
// ---------------------------------------------------------------------------

// ImportGrades pulls the grades of one LMS course
func (h *LMSHandler) ImportGrades(c *gin.Context) {
	var req dto.ImportGradesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	result, err := h.deps.Grades.ImportCourseGrades(c.Request.Context(), req.ExternalCourseID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, result)
}

// ImportAllGrades pulls the grades of every synced course in this request.
// Long imports should go through the import job queue instead.
func (h *LMSHandler) ImportAllGrades(c *gin.Context) {
	result, err := h.deps.Grades.ImportAllCourseGrades(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, result)
}

// ApplyPendingGrades retries reconciliation of stored but unapplied grades
func (h *LMSHandler) ApplyPendingGrades(c *gin.Context) {
	result, err := h.deps.Grades.ApplyPendingGrades(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, result)
}

// ---------------------------------------------------------------------------
// Import jobs
// ---------------------------------------------------------------------------

// QueueImportJob queues an all-courses grade import on the scheduler
func (h *LMSHandler) QueueImportJob(c *gin.Context) {
	if h.deps.ImportJobs == nil {
		h.Error(c, scheduler.ErrSchedulerNotRunning)
		return
	}
	job, err := h.deps.ImportJobs.TriggerNow()
	if err != nil {
		h.Error(c, err)
		return
	}
	logger.L(c.Request.Context()).Info("grade import job queued",
		zap.String("job_id", job.ID.String()),
		zap.String("admin", middleware.GetJWTSubject(c)),
	)
	h.Accepted(c, job)
}

// ListImportJobs returns the most recent import job attempts
func (h *LMSHandler) ListImportJobs(c *gin.Context) {
	var q dto.ImportJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = dto.DefaultImportJobsLimit
	}
	if h.deps.ImportJobs == nil {
		h.Success(c, []scheduler.GradeImportJob{})
		return
	}
	jobs := h.deps.ImportJobs.GetJobHistory(q.Limit)
	if jobs == nil {
		jobs = []scheduler.GradeImportJob{}
	}
	h.Success(c, jobs)
}
