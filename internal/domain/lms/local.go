package lms

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Local (SIS) read models
// ---------------------------------------------------------------------------

// LocalUser is a student or staff member as seen by the SIS
type LocalUser struct {
	ID   uuid.UUID
	Role UserRole
	// Number is the student number or the staff number
	Number             string
	Email              string
	InstitutionalEmail string
	FullName           string
	Department         string
	Active             bool
}

// Username returns the natural key of the user on the LMS.
// Students use their institutional email and fall back to the student
// number; staff use their email.
func (u LocalUser) Username() string {
	var candidate string
	switch u.Role {
	case UserRoleStudent:
		candidate = u.InstitutionalEmail
		if strings.TrimSpace(candidate) == "" {
			candidate = u.Number
		}
	default:
		candidate = u.Email
	}
	return strings.ToLower(strings.TrimSpace(candidate))
}

// ContactEmail returns the address the LMS should hold for the user
func (u LocalUser) ContactEmail() string {
	if u.Role == UserRoleStudent && u.InstitutionalEmail != "" {
		return u.InstitutionalEmail
	}
	return u.Email
}

// IDNumber returns the identifier stored in the LMS idnumber field
func (u LocalUser) IDNumber() string {
	if u.Role == UserRoleStaff {
		return "STAFF-" + u.Number
	}
	return u.Number
}

// SplitName splits the full name at the first space.
// Missing parts become "Unknown" and "User".
func (u LocalUser) SplitName() (first, last string) {
	name := strings.Join(strings.Fields(u.FullName), " ")
	first, last, _ = strings.Cut(name, " ")
	if first == "" {
		first = "Unknown"
	}
	if last == "" {
		last = "User"
	}
	return first, last
}

// LocalCourse is a course offering in the SIS
type LocalCourse struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Description string
	Credits     int
	Active      bool
}

// Shortname returns the natural key of the course on the LMS
func (c LocalCourse) Shortname() string {
	return NormalizeShortname(c.Code, c.ID)
}

// LocalEnrollment is a student's registration in a course
type LocalEnrollment struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	CourseID uuid.UUID
	Status   EnrollmentStatus
	// Role is the LMS role to enrol with, "student" when empty
	Role string
	Term string
}

// LocalGrade is the final grade written back to the SIS
type LocalGrade struct {
	EnrollmentID uuid.UUID
	Total        decimal.Decimal
	Letter       string
	Points       decimal.Decimal
	Source       string
	GradedAt     time.Time
}

// ---------------------------------------------------------------------------
// Collaborator ports
// ---------------------------------------------------------------------------

// UserFilter selects local users for batch synchronization
type UserFilter struct {
	IDs        []uuid.UUID
	Role       UserRole
	ActiveOnly bool
}

// CourseFilter selects local courses for batch synchronization
type CourseFilter struct {
	IDs        []uuid.UUID
	ActiveOnly bool
}

// EnrollmentFilter selects local enrollments for batch synchronization
type EnrollmentFilter struct {
	IDs      []uuid.UUID
	Term     string
	Statuses []EnrollmentStatus
}

// Directory is the read side of the SIS. Finders return
// ErrLocalEntityNotFound when the record does not exist.
type Directory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*LocalUser, error)
	FindCourse(ctx context.Context, id uuid.UUID) (*LocalCourse, error)
	FindEnrollment(ctx context.Context, id uuid.UUID) (*LocalEnrollment, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]LocalUser, error)
	ListCourses(ctx context.Context, filter CourseFilter) ([]LocalCourse, error)
	ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]LocalEnrollment, error)
}

// AcademicRecords is the write side of the SIS used by grade reconciliation
type AcademicRecords interface {
	// UpsertGrade writes the single grade row of an enrollment
	UpsertGrade(ctx context.Context, grade LocalGrade) error
	SetEnrollmentStatus(ctx context.Context, enrollmentID uuid.UUID, status EnrollmentStatus) error
}
