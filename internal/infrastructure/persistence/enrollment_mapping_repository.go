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

// GormEnrollmentMappingRepository implements lms.EnrollmentMappingRepository using GORM
type GormEnrollmentMappingRepository struct {
	db *gorm.DB
}

// NewGormEnrollmentMappingRepository creates a new GormEnrollmentMappingRepository
func NewGormEnrollmentMappingRepository(db *gorm.DB) *GormEnrollmentMappingRepository {
	return &GormEnrollmentMappingRepository{db: db}
}

var _ lms.EnrollmentMappingRepository = (*GormEnrollmentMappingRepository)(nil)

// ---------------------------------------------------------------------------
// EnrollmentMappingReader implementation
// ---------------------------------------------------------------------------

// FindByID finds a mapping by its ID
func (r *GormEnrollmentMappingRepository) FindByID(ctx context.Context, id uuid.UUID) (*lms.EnrollmentMapping, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// FindByLocalEnrollmentID finds the mapping of a local enrollment
func (r *GormEnrollmentMappingRepository) FindByLocalEnrollmentID(ctx context.Context, localEnrollmentID uuid.UUID) (*lms.EnrollmentMapping, error) {
	return r.first(r.db.WithContext(ctx).Where("local_enrollment_id = ?", localEnrollmentID))
}

// FindByExternalPair finds the mapping for an LMS user and course. A student
// who re-enrolls gets a new local enrollment, so the latest one wins.
func (r *GormEnrollmentMappingRepository) FindByExternalPair(ctx context.Context, externalUserID, externalCourseID int64) (*lms.EnrollmentMapping, error) {
	return r.first(r.db.WithContext(ctx).
		Where("external_user_id = ? AND external_course_id = ?", externalUserID, externalCourseID).
		Order("updated_at DESC"))
}

func (r *GormEnrollmentMappingRepository) first(q *gorm.DB) (*lms.EnrollmentMapping, error) {
	var model models.EnrollmentMappingModel
	if err := q.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ---------------------------------------------------------------------------
// EnrollmentMappingFinder implementation
// ---------------------------------------------------------------------------

// FindByStatus lists mappings in a status
func (r *GormEnrollmentMappingRepository) FindByStatus(ctx context.Context, status lms.SyncStatus, limit int) ([]lms.EnrollmentMapping, error) {
	var rows []models.EnrollmentMappingModel
	if err := byStatus(r.db.WithContext(ctx), status, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	mappings := make([]lms.EnrollmentMapping, len(rows))
	for i := range rows {
		mappings[i] = *rows[i].ToDomain()
	}
	return mappings, nil
}

// CountByStatus counts mappings per sync status, UNENROLLED included
func (r *GormEnrollmentMappingRepository) CountByStatus(ctx context.Context) (map[lms.SyncStatus]int64, error) {
	return countByStatus(ctx, r.db, &models.EnrollmentMappingModel{})
}

// ---------------------------------------------------------------------------
// EnrollmentMappingWriter implementation
// ---------------------------------------------------------------------------

// GetOrCreate inserts the candidate unless the local enrollment is already mapped
func (r *GormEnrollmentMappingRepository) GetOrCreate(ctx context.Context, candidate *lms.EnrollmentMapping) (*lms.EnrollmentMapping, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "local_enrollment_id"}},
			DoNothing: true,
		}).
		Create(models.EnrollmentMappingModelFromDomain(candidate)).Error; err != nil {
		return nil, err
	}
	return r.FindByLocalEnrollmentID(ctx, candidate.LocalEnrollmentID)
}

// Save persists the mapping's current state. Mappings are never deleted.
func (r *GormEnrollmentMappingRepository) Save(ctx context.Context, mapping *lms.EnrollmentMapping) error {
	model := models.EnrollmentMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return err
	}
	mapping.UpdatedAt = model.UpdatedAt
	return nil
}
