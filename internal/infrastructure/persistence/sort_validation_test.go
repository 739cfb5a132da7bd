package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string returns DESC", "", "DESC"},
		{"ASC uppercase returns ASC", "ASC", "ASC"},
		{"asc lowercase returns ASC", "asc", "ASC"},
		{"desc lowercase returns DESC", "desc", "DESC"},
		{"invalid value returns DESC", "SIDEWAYS", "DESC"},
		{"injection attempt returns DESC", "ASC; DROP TABLE lms_sync_logs;--", "DESC"},
		{"whitespace around ASC returns ASC", "  asc  ", "ASC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortOrder(tt.input))
		})
	}
}

func TestValidateSortField(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string returns default", "", "synced_at"},
		{"whitelisted field", "outcome", "outcome"},
		{"whitespace around field", "  retry_count ", "retry_count"},
		{"unknown column returns default", "message", "synced_at"},
		{"case sensitive", "OUTCOME", "synced_at"},
		{"injection attempt returns default", "outcome; DROP TABLE lms_sync_logs;--", "synced_at"},
		{"subquery returns default", "outcome, (SELECT token FROM settings)", "synced_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortField(tt.input, SyncLogSortFields, "synced_at"))
		})
	}
}

func TestOrderClause(t *testing.T) {
	tests := []struct {
		field, dir, want string
	}{
		{"", "", "synced_at DESC"},
		{"synced_at", "asc", "synced_at ASC"},
		{"outcome", "ASC", "outcome ASC, synced_at DESC"},
		{"message", "asc", "synced_at ASC"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, orderClause(tt.field, tt.dir), "field=%q dir=%q", tt.field, tt.dir)
	}
}
