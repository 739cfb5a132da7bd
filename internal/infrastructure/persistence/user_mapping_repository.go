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

// GormUserMappingRepository implements lms.UserMappingRepository using GORM
type GormUserMappingRepository struct {
	db *gorm.DB
}

// NewGormUserMappingRepository creates a new GormUserMappingRepository
func NewGormUserMappingRepository(db *gorm.DB) *GormUserMappingRepository {
	return &GormUserMappingRepository{db: db}
}

// Ensure GormUserMappingRepository implements lms.UserMappingRepository
var _ lms.UserMappingRepository = (*GormUserMappingRepository)(nil)

// ---------------------------------------------------------------------------
// UserMappingReader implementation
// ---------------------------------------------------------------------------

// FindByID finds a mapping by its ID
func (r *GormUserMappingRepository) FindByID(ctx context.Context, id uuid.UUID) (*lms.UserMapping, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByLocalUserID finds the mapping of a local user
func (r *GormUserMappingRepository) FindByLocalUserID(ctx context.Context, localUserID uuid.UUID) (*lms.UserMapping, error) {
	return r.first(ctx, "local_user_id = ?", localUserID)
}

// FindByExternalUserID finds the mapping that points at an LMS user
func (r *GormUserMappingRepository) FindByExternalUserID(ctx context.Context, externalUserID int64) (*lms.UserMapping, error) {
	return r.first(ctx, "external_user_id = ?", externalUserID)
}

func (r *GormUserMappingRepository) first(ctx context.Context, query string, args ...any) (*lms.UserMapping, error) {
	var model models.UserMappingModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrMappingNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ---------------------------------------------------------------------------
// UserMappingFinder implementation
// ---------------------------------------------------------------------------

// FindByStatus lists mappings in a status
func (r *GormUserMappingRepository) FindByStatus(ctx context.Context, status lms.SyncStatus, limit int) ([]lms.UserMapping, error) {
	var rows []models.UserMappingModel
	if err := byStatus(r.db.WithContext(ctx), status, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	mappings := make([]lms.UserMapping, len(rows))
	for i := range rows {
		mappings[i] = *rows[i].ToDomain()
	}
	return mappings, nil
}

// CountByStatus counts mappings per sync status
func (r *GormUserMappingRepository) CountByStatus(ctx context.Context) (map[lms.SyncStatus]int64, error) {
	return countByStatus(ctx, r.db, &models.UserMappingModel{})
}

// CountByRole counts mappings per user role
func (r *GormUserMappingRepository) CountByRole(ctx context.Context) (map[lms.UserRole]int64, error) {
	var rows []struct {
		Role  string
		Count int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.UserMappingModel{}).
		Select("role, COUNT(*) AS count").
		Group("role").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[lms.UserRole]int64, len(rows))
	for _, row := range rows {
		counts[lms.UserRole(row.Role)] = row.Count
	}
	return counts, nil
}

// ---------------------------------------------------------------------------
// UserMappingWriter implementation
// ---------------------------------------------------------------------------

// GetOrCreate inserts the candidate unless the local user is already mapped
// and returns the stored row. Concurrent callers observe the same row.
func (r *GormUserMappingRepository) GetOrCreate(ctx context.Context, candidate *lms.UserMapping) (*lms.UserMapping, error) {
	model := models.UserMappingModelFromDomain(candidate)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "local_user_id"}},
			DoNothing: true,
		}).
		Create(model).Error; err != nil {
		return nil, err
	}
	return r.FindByLocalUserID(ctx, candidate.LocalUserID)
}

// Save persists the mapping's current state
func (r *GormUserMappingRepository) Save(ctx context.Context, mapping *lms.UserMapping) error {
	model := models.UserMappingModelFromDomain(mapping)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return err
	}
	mapping.UpdatedAt = model.UpdatedAt
	return nil
}
