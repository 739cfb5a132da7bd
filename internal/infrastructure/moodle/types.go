package moodle

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Web service functions consumed by the engine
const (
	FnSiteInfo          = "core_webservice_get_site_info"
	FnGetUsers          = "core_user_get_users"
	FnCreateUsers       = "core_user_create_users"
	FnUpdateUsers       = "core_user_update_users"
	FnGetCoursesByField = "core_course_get_courses_by_field"
	FnCreateCourses     = "core_course_create_courses"
	FnUpdateCourses     = "core_course_update_courses"
	FnEnrolUsers        = "enrol_manual_enrol_users"
	FnUnenrolUsers      = "enrol_manual_unenrol_users"
	FnCourseGrades      = "gradereport_overview_get_course_grades"
	FnEnrolledUsers     = "core_enrol_get_enrolled_users"
	FnUsersCourses      = "core_enrol_get_users_courses"
)

// exceptionResponse is the error shape returned with HTTP 200
type exceptionResponse struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	DebugInfo string `json:"debuginfo"`
}

// warning is an item-level failure reported alongside a successful call
type warning struct {
	Item        string `json:"item"`
	ItemID      int64  `json:"itemid"`
	WarningCode string `json:"warningcode"`
	Message     string `json:"message"`
}

type warningsResponse struct {
	Warnings []warning `json:"warnings"`
}

// looseString accepts a JSON string, number or null
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	*s = looseString(b)
	return nil
}

// looseBool accepts true/false, 0/1 and "0"/"1"
type looseBool bool

func (v *looseBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(b)), `"`) {
	case "true", "1":
		*v = true
	default:
		*v = false
	}
	return nil
}

type siteInfoResponse struct {
	SiteName  string `json:"sitename"`
	Username  string `json:"username"`
	UserID    int64  `json:"userid"`
	Release   string `json:"release"`
	Version   string `json:"version"`
	SiteURL   string `json:"siteurl"`
	Functions []struct {
		Name string `json:"name"`
	} `json:"functions"`
}

type remoteUser struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FirstName       string    `json:"firstname"`
	LastName        string    `json:"lastname"`
	FullName        string    `json:"fullname"`
	IDNumber        string    `json:"idnumber"`
	Suspended       looseBool `json:"suspended"`
	ProfileImageURL string    `json:"profileimageurl"`
}

type getUsersResponse struct {
	Users    []remoteUser `json:"users"`
	Warnings []warning    `json:"warnings"`
}

type createdUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type remoteCourse struct {
	ID         int64     `json:"id"`
	Shortname  string    `json:"shortname"`
	Fullname   string    `json:"fullname"`
	CategoryID int64     `json:"categoryid"`
	Category   int64     `json:"category"`
	Visible    looseBool `json:"visible"`
}

type getCoursesResponse struct {
	Courses  []remoteCourse `json:"courses"`
	Warnings []warning      `json:"warnings"`
}

type createdCourse struct {
	ID        int64  `json:"id"`
	Shortname string `json:"shortname"`
}

type courseGrade struct {
	CourseID int64       `json:"courseid"`
	Grade    looseString `json:"grade"`
	RawGrade looseString `json:"rawgrade"`
}

type courseGradesResponse struct {
	Grades   []courseGrade `json:"grades"`
	Warnings []warning     `json:"warnings"`
}

// ParseGrade reads a displayed or raw grade such as "85.00 %" or "72,5".
// It returns nil for "-", empty and unparseable values.
func ParseGrade(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" || s == "-" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
