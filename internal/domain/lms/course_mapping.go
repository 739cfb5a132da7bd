package lms

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// CourseMapping Entity
// ---------------------------------------------------------------------------

// CourseMapping links a local SIS course to its LMS course
type CourseMapping struct {
	ID            uuid.UUID
	LocalCourseID uuid.UUID
	// ExternalCourseID is the LMS course id, nil until synced
	ExternalCourseID *int64
	// Shortname is the natural key, derived from the local course code
	Shortname string
	// CategoryID is informational, as reported by the LMS
	CategoryID   *int64
	Status       SyncStatus
	LastSyncedAt *time.Time
	LastError    string
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCourseMapping creates a PENDING mapping for a local course
func NewCourseMapping(localCourseID uuid.UUID, shortname string) (*CourseMapping, error) {
	if localCourseID == uuid.Nil {
		return nil, ErrInvalidLocalID
	}
	if strings.TrimSpace(shortname) == "" {
		return nil, ErrInvalidShortname
	}

	now := time.Now()
	return &CourseMapping{
		ID:            uuid.New(),
		LocalCourseID: localCourseID,
		Shortname:     shortname,
		Status:        SyncStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// MarkSynced records the remote course id and category
func (m *CourseMapping) MarkSynced(externalID int64, categoryID *int64) error {
	if externalID <= 0 {
		return ErrInvalidExternalID
	}
	now := time.Now()
	m.ExternalCourseID = &externalID
	if categoryID != nil {
		m.CategoryID = categoryID
	}
	m.Status = SyncStatusSynced
	m.LastSyncedAt = &now
	m.LastError = ""
	m.FailureCount = 0
	m.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt
func (m *CourseMapping) MarkFailed(reason string) {
	m.ExternalCourseID = nil
	m.Status = SyncStatusFailed
	m.LastError = reason
	m.FailureCount++
	m.UpdatedAt = time.Now()
}

// IsSynced returns true if the mapping holds a usable remote id
func (m *CourseMapping) IsSynced() bool {
	return m.Status == SyncStatusSynced && m.ExternalCourseID != nil
}

// ---------------------------------------------------------------------------
// Shortname generation
// ---------------------------------------------------------------------------

// NormalizeShortname derives the LMS short-name from a local course code.
// The result is stable for a given code: accents are folded, letters are
// upper-cased, and every run of other characters becomes a single dash.
// An empty result falls back to COURSE-<localCourseID>.
func NormalizeShortname(code string, localCourseID uuid.UUID) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.TrimSpace(code),
	)
	if err != nil {
		folded = code
	}

	var b strings.Builder
	dash := false
	for _, r := range folded {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToUpper(r))
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return fmt.Sprintf("COURSE-%s", localCourseID.String())
	}
	return out
}

// ---------------------------------------------------------------------------
// CourseMapping Repository
// ---------------------------------------------------------------------------

// CourseMappingReader provides read access to course mappings
type CourseMappingReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*CourseMapping, error)
	FindByLocalCourseID(ctx context.Context, localCourseID uuid.UUID) (*CourseMapping, error)
	FindByExternalCourseID(ctx context.Context, externalCourseID int64) (*CourseMapping, error)
}

// CourseMappingFinder provides query operations on course mappings
type CourseMappingFinder interface {
	FindByStatus(ctx context.Context, status SyncStatus, limit int) ([]CourseMapping, error)
	CountByStatus(ctx context.Context) (map[SyncStatus]int64, error)
}

// CourseMappingWriter provides write operations on course mappings
type CourseMappingWriter interface {
	GetOrCreate(ctx context.Context, candidate *CourseMapping) (*CourseMapping, error)
	Save(ctx context.Context, mapping *CourseMapping) error
}

// CourseMappingRepository combines all course mapping operations
type CourseMappingRepository interface {
	CourseMappingReader
	CourseMappingFinder
	CourseMappingWriter
}
