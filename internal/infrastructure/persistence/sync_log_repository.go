package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/persistence/models"
)

// GormSyncLogRepository implements lms.SyncLogRepository using GORM.
// It only ever inserts.
type GormSyncLogRepository struct {
	db *gorm.DB
}

// NewGormSyncLogRepository creates a new GormSyncLogRepository
func NewGormSyncLogRepository(db *gorm.DB) *GormSyncLogRepository {
	return &GormSyncLogRepository{db: db}
}

var _ lms.SyncLogRepository = (*GormSyncLogRepository)(nil)

// Append inserts one entry
func (r *GormSyncLogRepository) Append(ctx context.Context, entry *lms.SyncLogEntry) error {
	return r.db.WithContext(ctx).Create(models.SyncLogModelFromDomain(entry)).Error
}

// List returns one page of entries matching the filter, newest first, and
// the total number of matches
func (r *GormSyncLogRepository) List(ctx context.Context, filter lms.SyncLogFilter) ([]lms.SyncLogEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.SyncLogModel{})
	if filter.SyncType != "" {
		q = q.Where("sync_type = ?", filter.SyncType)
	}
	if filter.Direction != "" {
		q = q.Where("direction = ?", filter.Direction)
	}
	if filter.Outcome != "" {
		q = q.Where("outcome = ?", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		q = q.Where("synced_at >= ?", filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, size := filter.Page, filter.Limit()
	if page < 1 {
		page = 1
	}

	var rows []models.SyncLogModel
	if err := q.Order(orderClause(filter.OrderBy, filter.OrderDir)).
		Offset((page - 1) * size).
		Limit(size).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toLogEntries(rows), total, nil
}

// CountSince groups entries newer than since by sync type and outcome
func (r *GormSyncLogRepository) CountSince(ctx context.Context, since time.Time) ([]lms.SyncLogCount, error) {
	var rows []struct {
		SyncType string
		Outcome  string
		Count    int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.SyncLogModel{}).
		Select("sync_type, outcome, COUNT(*) AS count").
		Where("synced_at >= ?", since).
		Group("sync_type, outcome").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make([]lms.SyncLogCount, len(rows))
	for i, row := range rows {
		counts[i] = lms.SyncLogCount{
			SyncType: lms.SyncType(row.SyncType),
			Outcome:  lms.Outcome(row.Outcome),
			Count:    row.Count,
		}
	}
	return counts, nil
}

// Recent returns the newest entries
func (r *GormSyncLogRepository) Recent(ctx context.Context, limit int) ([]lms.SyncLogEntry, error) {
	if limit < 1 {
		limit = lms.DefaultLogPageSize
	}
	var rows []models.SyncLogModel
	if err := r.db.WithContext(ctx).
		Order("synced_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toLogEntries(rows), nil
}

func toLogEntries(rows []models.SyncLogModel) []lms.SyncLogEntry {
	entries := make([]lms.SyncLogEntry, len(rows))
	for i := range rows {
		entries[i] = *rows[i].ToDomain()
	}
	return entries
}
