package lms

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// UserMapping Entity
// ---------------------------------------------------------------------------

// UserMapping links a local SIS user to its LMS account.
// There is at most one mapping per local user, and ExternalUserID is set
// exactly when the mapping is SYNCED.
type UserMapping struct {
	// ID is the unique identifier of this mapping
	ID uuid.UUID
	// LocalUserID is the SIS user (student or staff member)
	LocalUserID uuid.UUID
	// Role is the SIS role of the local user
	Role UserRole
	// ExternalUserID is the LMS user id, nil until synced
	ExternalUserID *int64
	// Username is the natural key used to look the account up in the LMS
	Username string
	// Status is the current sync state
	Status SyncStatus
	// LastSyncedAt is when the mapping last reached SYNCED
	LastSyncedAt *time.Time
	// LastError holds the reason of the last failure
	LastError string
	// FailureCount counts consecutive failed attempts
	FailureCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewUserMapping creates a PENDING mapping for a local user
func NewUserMapping(localUserID uuid.UUID, role UserRole, username string) (*UserMapping, error) {
	if localUserID == uuid.Nil {
		return nil, ErrInvalidLocalID
	}
	if !role.IsValid() {
		return nil, ErrInvalidRole
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	now := time.Now()
	return &UserMapping{
		ID:          uuid.New(),
		LocalUserID: localUserID,
		Role:        role,
		Username:    username,
		Status:      SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// MarkSynced records the remote id after a successful create or update
func (m *UserMapping) MarkSynced(externalID int64) error {
	if externalID <= 0 {
		return ErrInvalidExternalID
	}
	now := time.Now()
	m.ExternalUserID = &externalID
	m.Status = SyncStatusSynced
	m.LastSyncedAt = &now
	m.LastError = ""
	m.FailureCount = 0
	m.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt. The remote id is dropped so that the
// next attempt resolves the account again by username.
func (m *UserMapping) MarkFailed(reason string) {
	m.ExternalUserID = nil
	m.Status = SyncStatusFailed
	m.LastError = reason
	m.FailureCount++
	m.UpdatedAt = time.Now()
}

// IsSynced returns true if the mapping holds a usable remote id
func (m *UserMapping) IsSynced() bool {
	return m.Status == SyncStatusSynced && m.ExternalUserID != nil
}

// ---------------------------------------------------------------------------
// UserMapping Repository
// ---------------------------------------------------------------------------

// UserMappingReader provides read access to user mappings
type UserMappingReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*UserMapping, error)
	FindByLocalUserID(ctx context.Context, localUserID uuid.UUID) (*UserMapping, error)
	FindByExternalUserID(ctx context.Context, externalUserID int64) (*UserMapping, error)
}

// UserMappingFinder provides query operations on user mappings
type UserMappingFinder interface {
	FindByStatus(ctx context.Context, status SyncStatus, limit int) ([]UserMapping, error)
	CountByStatus(ctx context.Context) (map[SyncStatus]int64, error)
	CountByRole(ctx context.Context) (map[UserRole]int64, error)
}

// UserMappingWriter provides write operations on user mappings
type UserMappingWriter interface {
	// GetOrCreate atomically inserts candidate unless a mapping for the same
	// local user exists, and returns the stored row either way.
	GetOrCreate(ctx context.Context, candidate *UserMapping) (*UserMapping, error)
	Save(ctx context.Context, mapping *UserMapping) error
}

// UserMappingRepository combines all user mapping operations
type UserMappingRepository interface {
	UserMappingReader
	UserMappingFinder
	UserMappingWriter
}
