package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/campus/lmssync/internal/domain/lms"
)

// statusCount is a row of a GROUP BY status query
type statusCount struct {
	Status string
	Count  int64
}

// countByStatus groups the rows of model's table by its status column
func countByStatus(ctx context.Context, db *gorm.DB, model any) (map[lms.SyncStatus]int64, error) {
	var rows []statusCount
	if err := db.WithContext(ctx).
		Model(model).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[lms.SyncStatus]int64, len(rows))
	for _, row := range rows {
		counts[lms.SyncStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// byStatus selects rows in the given status, oldest update first
func byStatus(db *gorm.DB, status lms.SyncStatus, limit int) *gorm.DB {
	q := db.Where("status = ?", status).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
