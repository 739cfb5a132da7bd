package lms

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subject types recorded in the audit log
const (
	SubjectUser        = "user"
	SubjectCourse      = "course"
	SubjectEnrollment  = "enrollment"
	SubjectGradeRecord = "grade_record"
	// SubjectEvent is used when a grade event could not be attributed
	SubjectEvent = "event"
)

// SyncLogEntry is an immutable audit record of one synchronization attempt
type SyncLogEntry struct {
	ID          uuid.UUID
	SubjectType string
	SubjectID   string
	SyncType    SyncType
	Direction   Direction
	Outcome     Outcome
	Message     string
	// RequestData and ResponseData are JSON snapshots of the payloads
	RequestData  json.RawMessage
	ResponseData json.RawMessage
	// RetryCount is the number of consecutive failures preceding this attempt
	RetryCount int
	// SyncRunID groups entries written by the same batch run
	SyncRunID string
	SyncedAt  time.Time
}

// NewSyncLogEntry starts an entry for a subject; finish it with Succeeded or Failed
func NewSyncLogEntry(syncType SyncType, direction Direction, subjectType, subjectID string) *SyncLogEntry {
	return &SyncLogEntry{
		ID:          uuid.New(),
		SubjectType: subjectType,
		SubjectID:   subjectID,
		SyncType:    syncType,
		Direction:   direction,
		SyncedAt:    time.Now(),
	}
}

// Succeeded marks the entry as a successful attempt
func (e *SyncLogEntry) Succeeded(message string, request, response any) *SyncLogEntry {
	e.Outcome = OutcomeSuccess
	e.Message = message
	e.RequestData = Snapshot(request)
	e.ResponseData = Snapshot(response)
	return e
}

// Failed marks the entry as a failed attempt
func (e *SyncLogEntry) Failed(err error, request any) *SyncLogEntry {
	e.Outcome = OutcomeFailed
	if err != nil {
		e.Message = err.Error()
	}
	e.RequestData = Snapshot(request)
	return e
}

// WithRetryCount records how many failures preceded the attempt
func (e *SyncLogEntry) WithRetryCount(n int) *SyncLogEntry {
	e.RetryCount = n
	return e
}

// WithRunID tags the entry with a batch run id
func (e *SyncLogEntry) WithRunID(runID string) *SyncLogEntry {
	e.SyncRunID = runID
	return e
}

// Snapshot marshals a payload for storage. Values that cannot be marshalled
// are stored as null.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// Log listing page sizes. A zero PageSize means the default and larger
// values are clamped to the maximum.
const (
	DefaultLogPageSize = 50
	MaxLogPageSize     = 100
)

// SyncLogFilter narrows a log listing
type SyncLogFilter struct {
	SyncType  SyncType
	Direction Direction
	Outcome   Outcome
	Since     time.Time
	Page      int
	PageSize  int
	OrderBy   string // column name, unknown names fall back to synced_at
	OrderDir  string
}

// Limit returns PageSize clamped to 1..MaxLogPageSize
func (f SyncLogFilter) Limit() int {
	switch {
	case f.PageSize < 1:
		return DefaultLogPageSize
	case f.PageSize > MaxLogPageSize:
		return MaxLogPageSize
	}
	return f.PageSize
}

// SyncLogCount is one bucket of the recent activity report
type SyncLogCount struct {
	SyncType SyncType
	Outcome  Outcome
	Count    int64
}

// SyncLogRepository is append-only: it offers no update or delete
type SyncLogRepository interface {
	Append(ctx context.Context, entry *SyncLogEntry) error
	List(ctx context.Context, filter SyncLogFilter) ([]SyncLogEntry, int64, error)
	CountSince(ctx context.Context, since time.Time) ([]SyncLogCount, error)
	Recent(ctx context.Context, limit int) ([]SyncLogEntry, error)
}
