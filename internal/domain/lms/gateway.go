package lms

import (
	"context"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Remote shapes
// ---------------------------------------------------------------------------

// SiteInfo is the connectivity check result
type SiteInfo struct {
	SiteName  string `json:"site_name"`
	Username  string `json:"username"`
	UserID    int64  `json:"user_id"`
	Release   string `json:"release"`
	Version   string `json:"version"`
	SiteURL   string `json:"site_url"`
	Functions int    `json:"functions"`
}

// RemoteUser is a user account on the LMS
type RemoteUser struct {
	ID              int64
	Username        string
	Email           string
	FirstName       string
	LastName        string
	IDNumber        string
	Suspended       bool
	ProfileImageURL string
}

// RemoteUserInput is the outgoing payload of a user create or update.
// ID is set for updates only, Password for creates only.
type RemoteUserInput struct {
	ID         int64  `json:"id,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"-"`
	FirstName  string `json:"firstname"`
	LastName   string `json:"lastname"`
	Email      string `json:"email"`
	IDNumber   string `json:"idnumber"`
	Auth       string `json:"auth"`
	Department string `json:"department,omitempty"`
	Suspended  *bool  `json:"suspended,omitempty"`
}

// RemoteCourse is a course on the LMS
type RemoteCourse struct {
	ID         int64  `json:"id"`
	Shortname  string `json:"shortname"`
	Fullname   string `json:"fullname"`
	CategoryID int64  `json:"category_id"`
	Visible    bool   `json:"visible"`
}

// RemoteCourseInput is the outgoing payload of a course create or update
type RemoteCourseInput struct {
	ID            int64  `json:"id,omitempty"`
	Shortname     string `json:"shortname"`
	Fullname      string `json:"fullname"`
	IDNumber      string `json:"idnumber"`
	Summary       string `json:"summary"`
	SummaryFormat int    `json:"summaryformat"`
	CategoryID    int64  `json:"categoryid"`
	Visible       bool   `json:"visible"`
}

// RemoteEnrolment identifies one manual enrolment on the LMS
type RemoteEnrolment struct {
	UserID   int64  `json:"userid"`
	CourseID int64  `json:"courseid"`
	Role     string `json:"role"`
}

// RemoteCourseGrade is one entry of a user's course grade overview. Grade is
// the displayed value, usually a percentage. Percentage is that value parsed
// and RawGrade is the course total on its own maximum, which need not be 100.
// Both are nil when the LMS shows no grade ("-").
type RemoteCourseGrade struct {
	CourseID   int64
	Grade      string
	Percentage *decimal.Decimal
	RawGrade   *decimal.Decimal
}

// Score is the grade on a 0..100 scale: the displayed percentage, or the raw
// total when the display is not numeric (a letter, for instance)
func (g RemoteCourseGrade) Score() *decimal.Decimal {
	if g.Percentage != nil {
		return g.Percentage
	}
	return g.RawGrade
}

// RemoteEnrolledUser is one user enrolled in an LMS course
type RemoteEnrolledUser struct {
	ID       int64
	Username string
	Email    string
	FullName string
}

// RemoteFile is a file downloaded from the LMS
type RemoteFile struct {
	Data        []byte
	ContentType string
}

// ---------------------------------------------------------------------------
// Gateway port
// ---------------------------------------------------------------------------

// Gateway is the typed RPC surface of the LMS. Every method is a single
// attempt bounded by a timeout; failures are *TransportError or
// *RemoteAPIError.
type Gateway interface {
	SiteInfo(ctx context.Context) (*SiteInfo, error)

	// FindUserByUsername returns nil with no error when the user does not exist
	FindUserByUsername(ctx context.Context, username string) (*RemoteUser, error)
	// ListUsers enumerates all LMS users. It uses the bulk timeout.
	ListUsers(ctx context.Context) ([]RemoteUser, error)
	CreateUser(ctx context.Context, input RemoteUserInput) (int64, error)
	UpdateUser(ctx context.Context, input RemoteUserInput) error

	// FindCourseByShortname returns nil with no error when the course does not exist
	FindCourseByShortname(ctx context.Context, shortname string) (*RemoteCourse, error)
	CreateCourse(ctx context.Context, input RemoteCourseInput) (int64, error)
	UpdateCourse(ctx context.Context, input RemoteCourseInput) error

	Enrol(ctx context.Context, enrolment RemoteEnrolment) error
	Unenrol(ctx context.Context, enrolment RemoteEnrolment) error

	UserCourseGrades(ctx context.Context, userID int64) ([]RemoteCourseGrade, error)
	// EnrolledUsers lists the users of a course. It uses the bulk timeout.
	EnrolledUsers(ctx context.Context, courseID int64) ([]RemoteEnrolledUser, error)
	UserCourses(ctx context.Context, userID int64) ([]RemoteCourse, error)

	// FetchFile downloads an LMS-hosted file such as a profile picture
	FetchFile(ctx context.Context, url string) (*RemoteFile, error)
}
