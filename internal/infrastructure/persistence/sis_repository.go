package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/persistence/models"
)

// GormSISRepository reads the SIS directory and writes academic results back.
// It implements both lms.Directory and lms.AcademicRecords.
type GormSISRepository struct {
	db *gorm.DB
}

// NewGormSISRepository creates a new GormSISRepository
func NewGormSISRepository(db *gorm.DB) *GormSISRepository {
	return &GormSISRepository{db: db}
}

var (
	_ lms.Directory       = (*GormSISRepository)(nil)
	_ lms.AcademicRecords = (*GormSISRepository)(nil)
)

// ---------------------------------------------------------------------------
// Directory implementation
// ---------------------------------------------------------------------------

// FindUser loads a local user
func (r *GormSISRepository) FindUser(ctx context.Context, id uuid.UUID) (*lms.LocalUser, error) {
	var model models.SISUserModel
	if err := r.first(ctx, &model, id); err != nil {
		return nil, err
	}
	user := model.ToDomain()
	return &user, nil
}

// FindCourse loads a local course
func (r *GormSISRepository) FindCourse(ctx context.Context, id uuid.UUID) (*lms.LocalCourse, error) {
	var model models.SISCourseModel
	if err := r.first(ctx, &model, id); err != nil {
		return nil, err
	}
	course := model.ToDomain()
	return &course, nil
}

// FindEnrollment loads a local enrollment
func (r *GormSISRepository) FindEnrollment(ctx context.Context, id uuid.UUID) (*lms.LocalEnrollment, error) {
	var model models.SISEnrollmentModel
	if err := r.first(ctx, &model, id); err != nil {
		return nil, err
	}
	enrollment := model.ToDomain()
	return &enrollment, nil
}

func (r *GormSISRepository) first(ctx context.Context, dest any, id uuid.UUID) error {
	if err := r.db.WithContext(ctx).First(dest, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", lms.ErrLocalEntityNotFound, id)
		}
		return err
	}
	return nil
}

// ListUsers lists users matching the filter in a stable order
func (r *GormSISRepository) ListUsers(ctx context.Context, filter lms.UserFilter) ([]lms.LocalUser, error) {
	q := r.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}

	var rows []models.SISUserModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make([]lms.LocalUser, len(rows))
	for i := range rows {
		users[i] = rows[i].ToDomain()
	}
	return users, nil
}

// ListCourses lists courses matching the filter
func (r *GormSISRepository) ListCourses(ctx context.Context, filter lms.CourseFilter) ([]lms.LocalCourse, error) {
	q := r.db.WithContext(ctx).Order("code ASC, id ASC")
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.ActiveOnly {
		q = q.Where("active = ?", true)
	}

	var rows []models.SISCourseModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	courses := make([]lms.LocalCourse, len(rows))
	for i := range rows {
		courses[i] = rows[i].ToDomain()
	}
	return courses, nil
}

// ListEnrollments lists enrollments matching the filter
func (r *GormSISRepository) ListEnrollments(ctx context.Context, filter lms.EnrollmentFilter) ([]lms.LocalEnrollment, error) {
	q := r.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.Term != "" {
		q = q.Where("term = ?", filter.Term)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}

	var rows []models.SISEnrollmentModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	enrollments := make([]lms.LocalEnrollment, len(rows))
	for i := range rows {
		enrollments[i] = rows[i].ToDomain()
	}
	return enrollments, nil
}

// ---------------------------------------------------------------------------
// AcademicRecords implementation
// ---------------------------------------------------------------------------

// UpsertGrade writes the final grade of an enrollment
func (r *GormSISRepository) UpsertGrade(ctx context.Context, grade lms.LocalGrade) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "enrollment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"total", "letter", "points", "source", "graded_at", "updated_at"}),
		}).
		Create(models.SISGradeModelFromDomain(grade)).Error
}

// SetEnrollmentStatus updates the status of an enrollment
func (r *GormSISRepository) SetEnrollmentStatus(ctx context.Context, enrollmentID uuid.UUID, status lms.EnrollmentStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.SISEnrollmentModel{}).
		Where("id = ?", enrollmentID).
		Updates(map[string]any{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: enrollment %s", lms.ErrLocalEntityNotFound, enrollmentID)
	}
	return nil
}
