package moodle

import (
	"context"

	"github.com/campus/lmssync/internal/domain/lms"
)

// Unconfigured is the gateway used when no LMS endpoint or token is set.
// Every call fails with lms.ErrNotConfigured.
type Unconfigured struct{}

var _ lms.Gateway = Unconfigured{}

func (Unconfigured) SiteInfo(context.Context) (*lms.SiteInfo, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) FindUserByUsername(context.Context, string) (*lms.RemoteUser, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) ListUsers(context.Context) ([]lms.RemoteUser, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) CreateUser(context.Context, lms.RemoteUserInput) (int64, error) {
	return 0, lms.ErrNotConfigured
}

func (Unconfigured) UpdateUser(context.Context, lms.RemoteUserInput) error {
	return lms.ErrNotConfigured
}

func (Unconfigured) FindCourseByShortname(context.Context, string) (*lms.RemoteCourse, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) CreateCourse(context.Context, lms.RemoteCourseInput) (int64, error) {
	return 0, lms.ErrNotConfigured
}

func (Unconfigured) UpdateCourse(context.Context, lms.RemoteCourseInput) error {
	return lms.ErrNotConfigured
}

func (Unconfigured) Enrol(context.Context, lms.RemoteEnrolment) error {
	return lms.ErrNotConfigured
}

func (Unconfigured) Unenrol(context.Context, lms.RemoteEnrolment) error {
	return lms.ErrNotConfigured
}

func (Unconfigured) UserCourseGrades(context.Context, int64) ([]lms.RemoteCourseGrade, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) EnrolledUsers(context.Context, int64) ([]lms.RemoteEnrolledUser, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) UserCourses(context.Context, int64) ([]lms.RemoteCourse, error) {
	return nil, lms.ErrNotConfigured
}

func (Unconfigured) FetchFile(context.Context, string) (*lms.RemoteFile, error) {
	return nil, lms.ErrNotConfigured
}
