package lms

import "strings"

// ---------------------------------------------------------------------------
// SyncStatus
// ---------------------------------------------------------------------------

// SyncStatus is the synchronization state of a mapping
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "PENDING"
	SyncStatusSynced     SyncStatus = "SYNCED"
	SyncStatusFailed     SyncStatus = "FAILED"
	SyncStatusUnenrolled SyncStatus = "UNENROLLED" // enrollments only
)

// IsValid returns true if the status is one of the known values
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed, SyncStatusUnenrolled:
		return true
	}
	return false
}

// String returns the string representation
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// CompletionStatus
// ---------------------------------------------------------------------------

// CompletionStatus is the derived course completion state of a GradeRecord
type CompletionStatus string

const (
	CompletionInProgress CompletionStatus = "IN_PROGRESS"
	CompletionCompleted  CompletionStatus = "COMPLETED"
	CompletionFailed     CompletionStatus = "FAILED"
)

// IsTerminal reports whether the status triggers reconciliation
func (s CompletionStatus) IsTerminal() bool {
	return s == CompletionCompleted || s == CompletionFailed
}

// IsValid returns true if the status is one of the known values
func (s CompletionStatus) IsValid() bool {
	switch s {
	case CompletionInProgress, CompletionCompleted, CompletionFailed:
		return true
	}
	return false
}

// ParseCompletionHint maps the LMS status hint onto a CompletionStatus.
// Unknown or empty hints are treated as in progress.
func ParseCompletionHint(hint string) CompletionStatus {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "completed", "complete":
		return CompletionCompleted
	case "failed", "fail":
		return CompletionFailed
	default:
		return CompletionInProgress
	}
}

// ---------------------------------------------------------------------------
// Audit enums
// ---------------------------------------------------------------------------

// SyncType identifies which kind of entity a log entry is about
type SyncType string

const (
	SyncTypeUser       SyncType = "USER"
	SyncTypeCourse     SyncType = "COURSE"
	SyncTypeEnrollment SyncType = "ENROLLMENT"
	SyncTypeGrade      SyncType = "GRADE"
)

// AllSyncTypes lists sync types in reporting order
var AllSyncTypes = []SyncType{SyncTypeUser, SyncTypeCourse, SyncTypeEnrollment, SyncTypeGrade}

// IsValid returns true if the sync type is known
func (t SyncType) IsValid() bool {
	switch t {
	case SyncTypeUser, SyncTypeCourse, SyncTypeEnrollment, SyncTypeGrade:
		return true
	}
	return false
}

// Direction is the data flow direction of a sync attempt
type Direction string

const (
	DirectionToExternal   Direction = "TO_EXTERNAL"
	DirectionFromExternal Direction = "FROM_EXTERNAL"
)

// IsValid returns true if the direction is known
func (d Direction) IsValid() bool {
	return d == DirectionToExternal || d == DirectionFromExternal
}

// Outcome is the result of a sync attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// IsValid returns true if the outcome is known
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

// ---------------------------------------------------------------------------
// Local enums
// ---------------------------------------------------------------------------

// UserRole distinguishes students from staff in the SIS
type UserRole string

const (
	UserRoleStudent UserRole = "STUDENT"
	UserRoleStaff   UserRole = "STAFF"
)

// IsValid returns true if the role is known
func (r UserRole) IsValid() bool {
	return r == UserRoleStudent || r == UserRoleStaff
}

// EnrollmentStatus is the status of an enrollment in the SIS
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusWithdrawn EnrollmentStatus = "WITHDRAWN"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusFailed    EnrollmentStatus = "FAILED"
)

// IsWithdrawal reports whether the local status means the student left the course
func (s EnrollmentStatus) IsWithdrawal() bool {
	return s == EnrollmentStatusDropped || s == EnrollmentStatusWithdrawn
}

// EnrollmentStatusFor returns the local enrollment status for a terminal completion
func EnrollmentStatusFor(c CompletionStatus) EnrollmentStatus {
	switch c {
	case CompletionCompleted:
		return EnrollmentStatusCompleted
	case CompletionFailed:
		return EnrollmentStatusFailed
	default:
		return EnrollmentStatusEnrolled
	}
}
