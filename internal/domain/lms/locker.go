package lms

import (
	"context"

	"github.com/google/uuid"
)

// EntityLocker serializes work on the same entity across workers.
// Lock blocks until the key is free or ctx is done, and returns a release
// function that must be called exactly once. Locks are not re-entrant.
type EntityLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// UserLockKey is the lock key of a user sync.
// Course, enrollment and grade keys follow the same kind:id format.
func UserLockKey(localUserID uuid.UUID) string {
	return "user:" + localUserID.String()
}

func CourseLockKey(localCourseID uuid.UUID) string {
	return "course:" + localCourseID.String()
}

func EnrollmentLockKey(localEnrollmentID uuid.UUID) string {
	return "enrollment:" + localEnrollmentID.String()
}

func GradeLockKey(localEnrollmentID uuid.UUID) string {
	return "grade:" + localEnrollmentID.String()
}
