package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/persistence/models"
)

// GormCourseMappingRepository implements lms.CourseMappingRepository using GORM
type GormCourseMappingRepository struct {
	db *gorm.DB
}

// NewGormCourseMappingRepository creates a new GormCourseMappingRepository
func NewGormCourseMappingRepository(db *gorm.DB) *GormCourseMappingRepository {
	return &GormCourseMappingRepository{db: db}
}

var _ lms.CourseMappingRepository = (*GormCourseMappingRepository)(nil)

// FindByID finds a mapping by its ID
func (r *GormCourseMappingRepository) FindByID(ctx context.Context, id uuid.UUID) (*lms.CourseMapping, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByLocalCourseID finds the mapping of a local course
func (r *GormCourseMappingRepository) FindByLocalCourseID(ctx context.Context, localCourseID uuid.UUID) (*lms.CourseMapping, error) {
	return r.first(ctx, "local_course_id = ?", localCourseID)
}

// FindByExternalCourseID finds the mapping that points at an LMS course
func (r *GormCourseMappingRepository) FindByExternalCourseID(ctx context.Context, externalCourseID int64) (*lms.CourseMapping, error) {
	return r.first(ctx, "external_course_id = ?", externalCourseID)
}

func (r *GormCourseMappingRepository) first(ctx context.Context, query string, args ...any) (*lms.CourseMapping, error) {
	var model models.CourseMappingModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByStatus lists mappings in a status
func (r *GormCourseMappingRepository) FindByStatus(ctx context.Context, status lms.SyncStatus, limit int) ([]lms.CourseMapping, error) {
	var rows []models.CourseMappingModel
	if err := byStatus(r.db.WithContext(ctx), status, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	mappings := make([]lms.CourseMapping, len(rows))
	for i := range rows {
		mappings[i] = *rows[i].ToDomain()
	}
	return mappings, nil
}

// CountByStatus counts mappings per sync status
func (r *GormCourseMappingRepository) CountByStatus(ctx context.Context) (map[lms.SyncStatus]int64, error) {
	return countByStatus(ctx, r.db, &models.CourseMappingModel{})
}

// GetOrCreate inserts the candidate unless the local course is already mapped
func (r *GormCourseMappingRepository) GetOrCreate(ctx context.Context, candidate *lms.CourseMapping) (*lms.CourseMapping, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "local_course_id"}},
			DoNothing: true,
		}).
		Create(models.CourseMappingModelFromDomain(candidate)).Error; err != nil {
		return nil, err
	}
	return r.FindByLocalCourseID(ctx, candidate.LocalCourseID)
}

// Save persists the mapping's current state
func (r *GormCourseMappingRepository) Save(ctx context.Context, mapping *lms.CourseMapping) error {
	model := models.CourseMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return err
	}
	mapping.UpdatedAt = model.UpdatedAt
	return nil
}
