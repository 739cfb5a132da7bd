package router

import (
	"github.com/gin-gonic/gin"

	"github.com/campus/lmssync/internal/interfaces/http/handler"
)

// NewWebhookGroup builds /webhook/lms. guards run before every route,
// normally the body limit and the shared secret check.
func NewWebhookGroup(h *handler.WebhookHandler, guards ...gin.HandlerFunc) *DomainGroup {
	g := NewDomainGroup("webhook", "/webhook/lms").Use(guards...)
	g.POST("/grades", h.IngestGrade)
	g.POST("/grades/bulk", h.IngestBulkGrades)
	g.POST("/completion", h.IngestCompletion)
	return g
}

// NewAdminGroup builds the JWT protected /lms admin API
func NewAdminGroup(h *handler.LMSHandler, guards ...gin.HandlerFunc) *DomainGroup {
	g := NewDomainGroup("lms", "/lms").Use(guards...)
	g.GET("/status", h.GetStatus).
		GET("/stats", h.GetStats).
		GET("/logs", h.ListLogs).
		POST("/test-connection", h.TestConnection).
		POST("/retry-failed", h.RetryFailed).
		POST("/grades/apply-pending", h.ApplyPendingGrades).
		GET("/users/:id/courses", h.UserCourses)

	g.Group("sync", "/sync").
		POST("/users", h.SyncUsers).
		POST("/courses", h.SyncCourses).
		POST("/enrollments", h.SyncEnrollments).
		POST("/users/:id", h.SyncUser).
		POST("/courses/:id", h.SyncCourse).
		POST("/enrollments/:id", h.SyncEnrollment).
		POST("/profile-pictures", h.SyncProfilePictures)

	g.Group("import", "/import").
		POST("/grades", h.ImportGrades).
		POST("/all-grades", h.ImportAllGrades).
		POST("/jobs", h.QueueImportJob).
		GET("/jobs", h.ListImportJobs)
	return g
}

// RegisterHealth mounts the unauthenticated health check at /health
func RegisterHealth(engine *gin.Engine, h *handler.HealthHandler) {
	engine.GET("/health", h.Health)
}
