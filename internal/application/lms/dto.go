package lms

import (
	"time"

	"github.com/google/uuid"

	"github.com/campus/lmssync/internal/domain/lms"
)

// ---------------------------------------------------------------------------
// Batch DTOs
// ---------------------------------------------------------------------------

// BatchError is the failure of one item of a batch
type BatchError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult summarizes a batch run. Failures of single items never abort
// the batch.
type BatchResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Errors    []BatchError `json:"errors"`
}

// Total returns the number of items the batch looked at
func (r BatchResult) Total() int {
	return r.Succeeded + r.Failed + r.Skipped
}

// Merge adds other's counts and errors to r
func (r *BatchResult) Merge(other BatchResult) {
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// BatchOptions selects the local entities of a batch sync
type BatchOptions struct {
	// IDs restricts the batch to these local ids
	IDs []uuid.UUID `json:"ids,omitempty"`
	// OnlyPending skips entities whose mapping is already SYNCED
	OnlyPending bool `json:"only_pending"`
	// Term restricts enrollment batches to one academic term
	Term string `json:"term,omitempty"`
}

// ---------------------------------------------------------------------------
// Statistics DTOs
// ---------------------------------------------------------------------------

// MappingStats counts the mappings of one entity kind
type MappingStats struct {
	Total    int64                    `json:"total"`
	ByStatus map[lms.SyncStatus]int64 `json:"by_status"`
}

// UserMappingStats adds the per-role split of user mappings
type UserMappingStats struct {
	MappingStats
	ByRole map[lms.UserRole]int64 `json:"by_role"`
}

// ActivityStats counts audit entries of one sync type inside the window
type ActivityStats struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}

// SyncStatistics is the aggregate view of the mapping store and audit log
type SyncStatistics struct {
	Users          UserMappingStats               `json:"users"`
	Courses        MappingStats                   `json:"courses"`
	Enrollments    MappingStats                   `json:"enrollments"`
	Grades         lms.GradeRecordStats           `json:"grades"`
	RecentActivity map[lms.SyncType]ActivityStats `json:"recent_activity"`
	Window         string                         `json:"window"`
	GeneratedAt    time.Time                      `json:"generated_at"`
}

// StatusReport describes connectivity with the LMS
type StatusReport struct {
	Configured bool            `json:"configured"`
	Enabled    bool            `json:"enabled"`
	Connected  bool            `json:"connected"`
	Site       *lms.SiteInfo   `json:"site,omitempty"`
	Error      string          `json:"error,omitempty"`
	Statistics *SyncStatistics `json:"statistics,omitempty"`
}

// ConnectionTest is the result of a connectivity check
type ConnectionTest struct {
	Success bool          `json:"success"`
	Site    *lms.SiteInfo `json:"site,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// ---------------------------------------------------------------------------
// Audit log DTOs
// ---------------------------------------------------------------------------

// Log listing limits
const (
	DefaultLogDays     = 7
	MaxLogDays         = 30
	DefaultLogPageSize = lms.DefaultLogPageSize
	MaxLogPageSize     = lms.MaxLogPageSize
)

// LogQuery filters the audit log listing
type LogQuery struct {
	SyncType  lms.SyncType
	Direction lms.Direction
	Outcome   lms.Outcome
	Days      int
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// LogPage is one page of audit entries
type LogPage struct {
	Entries  []lms.SyncLogEntry `json:"entries"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Days     int                `json:"days"`
}

// RetryKind names the mapping kind RetryFailed works on
type RetryKind string

const (
	RetryUsers       RetryKind = "users"
	RetryCourses     RetryKind = "courses"
	RetryEnrollments RetryKind = "enrollments"
)

// IsValid reports whether k is a known kind
func (k RetryKind) IsValid() bool {
	switch k {
	case RetryUsers, RetryCourses, RetryEnrollments:
		return true
	}
	return false
}
