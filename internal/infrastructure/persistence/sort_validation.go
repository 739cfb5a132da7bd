package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	if strings.ToUpper(strings.TrimSpace(orderDir)) == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField when it is whitelisted, otherwise
// defaultField. Only whitelisted names ever reach an ORDER BY clause.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// SyncLogSortFields are the audit log columns a listing may order by
var SyncLogSortFields = map[string]bool{
	"synced_at":   true,
	"sync_type":   true,
	"direction":   true,
	"outcome":     true,
	"subject_id":  true,
	"retry_count": true,
}

// orderClause builds a whitelisted ORDER BY with synced_at as tie-breaker
// so pages stay stable
func orderClause(field, dir string) string {
	field = ValidateSortField(field, SyncLogSortFields, "synced_at")
	clause := field + " " + ValidateSortOrder(dir)
	if field != "synced_at" {
		clause += ", synced_at DESC"
	}
	return clause
}
