package lms

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultEnrollmentRole is the LMS role assigned when the local enrollment names none
const DefaultEnrollmentRole = "student"

// ---------------------------------------------------------------------------
// EnrollmentMapping Entity
// ---------------------------------------------------------------------------

// EnrollmentMapping links a local enrollment to the pair of LMS ids it was
// enrolled with. It only reaches SYNCED once both sides are known, and
// UNENROLLED replaces deletion when the student leaves the course.
type EnrollmentMapping struct {
	ID                uuid.UUID
	LocalEnrollmentID uuid.UUID
	LocalUserID       uuid.UUID
	LocalCourseID     uuid.UUID
	ExternalUserID    *int64
	ExternalCourseID  *int64
	Role              string
	Status            SyncStatus
	LastSyncedAt      *time.Time
	LastError         string
	FailureCount      int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewEnrollmentMapping creates a PENDING mapping for a local enrollment
func NewEnrollmentMapping(localEnrollmentID, localUserID, localCourseID uuid.UUID, role string) (*EnrollmentMapping, error) {
	if localEnrollmentID == uuid.Nil || localUserID == uuid.Nil || localCourseID == uuid.Nil {
		return nil, ErrInvalidLocalID
	}
	if role == "" {
		role = DefaultEnrollmentRole
	}

	now := time.Now()
	return &EnrollmentMapping{
		ID:                uuid.New(),
		LocalEnrollmentID: localEnrollmentID,
		LocalUserID:       localUserID,
		LocalCourseID:     localCourseID,
		Role:              role,
		Status:            SyncStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// MarkSynced records a successful enroll call
func (m *EnrollmentMapping) MarkSynced(externalUserID, externalCourseID int64) error {
	if externalUserID <= 0 || externalCourseID <= 0 {
		return ErrInvalidExternalID
	}
	now := time.Now()
	m.ExternalUserID = &externalUserID
	m.ExternalCourseID = &externalCourseID
	m.Status = SyncStatusSynced
	m.LastSyncedAt = &now
	m.LastError = ""
	m.FailureCount = 0
	m.UpdatedAt = now
	return nil
}

// MarkUnenrolled records a successful unenroll call. The external ids are
// kept so late grade events can still be attributed.
func (m *EnrollmentMapping) MarkUnenrolled(externalUserID, externalCourseID int64) error {
	if externalUserID <= 0 || externalCourseID <= 0 {
		return ErrInvalidExternalID
	}
	now := time.Now()
	m.ExternalUserID = &externalUserID
	m.ExternalCourseID = &externalCourseID
	m.Status = SyncStatusUnenrolled
	m.LastSyncedAt = &now
	m.LastError = ""
	m.FailureCount = 0
	m.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt. External ids of a previous successful
// sync are left in place.
func (m *EnrollmentMapping) MarkFailed(reason string) {
	m.Status = SyncStatusFailed
	m.LastError = reason
	m.FailureCount++
	m.UpdatedAt = time.Now()
}

// IsSynced returns true if the enrollment is active on the LMS
func (m *EnrollmentMapping) IsSynced() bool {
	return m.Status == SyncStatusSynced
}

// ---------------------------------------------------------------------------
// EnrollmentMapping Repository
// ---------------------------------------------------------------------------

// EnrollmentMappingReader provides read access to enrollment mappings
type EnrollmentMappingReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*EnrollmentMapping, error)
	FindByLocalEnrollmentID(ctx context.Context, localEnrollmentID uuid.UUID) (*EnrollmentMapping, error)
	// FindByExternalPair returns the most recently updated mapping for the pair
	FindByExternalPair(ctx context.Context, externalUserID, externalCourseID int64) (*EnrollmentMapping, error)
}

// EnrollmentMappingFinder provides query operations on enrollment mappings
type EnrollmentMappingFinder interface {
	FindByStatus(ctx context.Context, status SyncStatus, limit int) ([]EnrollmentMapping, error)
	CountByStatus(ctx context.Context) (map[SyncStatus]int64, error)
}

// EnrollmentMappingWriter provides write operations on enrollment mappings
type EnrollmentMappingWriter interface {
	GetOrCreate(ctx context.Context, candidate *EnrollmentMapping) (*EnrollmentMapping, error)
	Save(ctx context.Context, mapping *EnrollmentMapping) error
}

// EnrollmentMappingRepository combines all enrollment mapping operations
type EnrollmentMappingRepository interface {
	EnrollmentMappingReader
	EnrollmentMappingFinder
	EnrollmentMappingWriter
}
