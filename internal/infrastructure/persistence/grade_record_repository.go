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

// gradeRecordUpsertColumns are overwritten when an event arrives for an
// enrollment that already has a record
var gradeRecordUpsertColumns = []string{
	"enrollment_mapping_id",
	"external_user_id",
	"external_course_id",
	"raw_grade",
	"grade_max",
	"completion_status",
	"completed_at",
	"occurred_at",
	"received_at",
	"applied",
	"applied_at",
	"grade_items",
	"updated_at",
}

// GormGradeRecordRepository implements lms.GradeRecordRepository using GORM
type GormGradeRecordRepository struct {
	db *gorm.DB
}

// NewGormGradeRecordRepository creates a new GormGradeRecordRepository
func NewGormGradeRecordRepository(db *gorm.DB) *GormGradeRecordRepository {
	return &GormGradeRecordRepository{db: db}
}

var _ lms.GradeRecordRepository = (*GormGradeRecordRepository)(nil)

// FindByLocalEnrollmentID returns the record of an enrollment
func (r *GormGradeRecordRepository) FindByLocalEnrollmentID(ctx context.Context, localEnrollmentID uuid.UUID) (*lms.GradeRecord, error) {
	var model models.GradeRecordModel
	if err := r.db.WithContext(ctx).
		Where("local_enrollment_id = ?", localEnrollmentID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lms.ErrGradeRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPendingApplication returns terminal records not yet written to the SIS
func (r *GormGradeRecordRepository) FindPendingApplication(ctx context.Context, limit int) ([]lms.GradeRecord, error) {
	q := r.db.WithContext(ctx).
		Where("applied = ? AND completion_status IN ?", false, terminalStatuses()).
		Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.GradeRecordModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]lms.GradeRecord, len(rows))
	for i := range rows {
		records[i] = *rows[i].ToDomain()
	}
	return records, nil
}

// Upsert writes the record keyed by its enrollment. The last write wins.
func (r *GormGradeRecordRepository) Upsert(ctx context.Context, record *lms.GradeRecord) (*lms.GradeRecord, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "local_enrollment_id"}},
			DoUpdates: clause.AssignmentColumns(gradeRecordUpsertColumns),
		}).
		Create(models.GradeRecordModelFromDomain(record)).Error; err != nil {
		return nil, err
	}
	return r.FindByLocalEnrollmentID(ctx, record.LocalEnrollmentID)
}

// Save persists the record's current state, typically after MarkApplied
func (r *GormGradeRecordRepository) Save(ctx context.Context, record *lms.GradeRecord) error {
	model := models.GradeRecordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return err
	}
	record.UpdatedAt = model.UpdatedAt
	return nil
}

// Stats aggregates the grade records in a single query
func (r *GormGradeRecordRepository) Stats(ctx context.Context) (lms.GradeRecordStats, error) {
	var row struct {
		Total              int64
		Applied            int64
		PendingApplication int64
		Completed          int64
		Failed             int64
		InProgress         int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.GradeRecordModel{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN applied = ? THEN 1 ELSE 0 END), 0) AS applied,
			COALESCE(SUM(CASE WHEN applied = ? AND completion_status IN ? THEN 1 ELSE 0 END), 0) AS pending_application,
			COALESCE(SUM(CASE WHEN completion_status = ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN completion_status = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN completion_status = ? THEN 1 ELSE 0 END), 0) AS in_progress`,
			true,
			false, terminalStatuses(),
			lms.CompletionCompleted,
			lms.CompletionFailed,
			lms.CompletionInProgress,
		).
		Scan(&row).Error
	if err != nil {
		return lms.GradeRecordStats{}, err
	}
	return lms.GradeRecordStats(row), nil
}

func terminalStatuses() []lms.CompletionStatus {
	return []lms.CompletionStatus{lms.CompletionCompleted, lms.CompletionFailed}
}
