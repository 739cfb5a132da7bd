package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campus/lmssync/internal/domain/lms"
)

const tracerName = "github.com/campus/lmssync/internal/infrastructure/moodle"

// Client calls the LMS web service API. Each call is a single attempt;
// retrying is left to the caller.
type Client struct {
	config     *Config
	httpClient *http.Client
	bulkClient *http.Client
	tracer     trace.Tracer
}

// Ensure Client implements lms.Gateway
var _ lms.Gateway = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClients overrides the single-entity and bulk HTTP clients
func WithHTTPClients(single, bulk *http.Client) ClientOption {
	return func(c *Client) {
		if single != nil {
			c.httpClient = single
		}
		if bulk != nil {
			c.bulkClient = bulk
		}
	}
}

// NewClient creates a client for the configured site
func NewClient(config *Config, opts ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		bulkClient: &http.Client{Timeout: config.BulkTimeout},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Call invokes a web service function and returns the raw JSON result.
// Failures are *lms.TransportError or *lms.RemoteAPIError.
func (c *Client) Call(ctx context.Context, function string, params Params) (json.RawMessage, error) {
	return c.call(ctx, c.httpClient, function, params)
}

// CallBulk is Call bounded by the bulk timeout
func (c *Client) CallBulk(ctx context.Context, function string, params Params) (json.RawMessage, error) {
	return c.call(ctx, c.bulkClient, function, params)
}

func (c *Client) call(ctx context.Context, hc *http.Client, function string, params Params) (body json.RawMessage, err error) {
	ctx, span := c.tracer.Start(ctx, "moodle."+function,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.system", "moodle"), attribute.String("rpc.method", function)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	form, err := encodeForm(params)
	if err != nil {
		return nil, err
	}
	form.Set("wstoken", c.config.Token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("moodle: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &lms.TransportError{Function: function, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		return nil, &lms.TransportError{Function: function, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &lms.RemoteAPIError{
			Function: function,
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Message:  truncate(string(raw), 512),
		}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var exc exceptionResponse
		if json.Unmarshal(raw, &exc) == nil && exc.Exception != "" {
			return nil, &lms.RemoteAPIError{Function: function, Code: exc.ErrorCode, Message: exc.Message}
		}
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func decode(function string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", lms.ErrInvalidResponse, function, err)
	}
	return nil
}

// firstWarning turns an item-level warning into a remote error
func firstWarning(function string, warnings []warning) error {
	if len(warnings) == 0 {
		return nil
	}
	w := warnings[0]
	return &lms.RemoteAPIError{Function: function, Code: w.WarningCode, Message: w.Message}
}

// ---------------------------------------------------------------------------
// Site
// ---------------------------------------------------------------------------

// SiteInfo is used as a connectivity test
func (c *Client) SiteInfo(ctx context.Context) (*lms.SiteInfo, error) {
	raw, err := c.Call(ctx, FnSiteInfo, nil)
	if err != nil {
		return nil, err
	}
	var resp siteInfoResponse
	if err := decode(FnSiteInfo, raw, &resp); err != nil {
		return nil, err
	}
	return &lms.SiteInfo{
		SiteName:  resp.SiteName,
		Username:  resp.Username,
		UserID:    resp.UserID,
		Release:   resp.Release,
		Version:   resp.Version,
		SiteURL:   resp.SiteURL,
		Functions: len(resp.Functions),
	}, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// FindUserByUsername looks a user up by its natural key
func (c *Client) FindUserByUsername(ctx context.Context, username string) (*lms.RemoteUser, error) {
	raw, err := c.Call(ctx, FnGetUsers, Params{
		"criteria": []Params{{"key": "username", "value": username}},
	})
	if err != nil {
		return nil, err
	}
	var resp getUsersResponse
	if err := decode(FnGetUsers, raw, &resp); err != nil {
		return nil, err
	}
	for _, u := range resp.Users {
		if strings.EqualFold(u.Username, username) {
			out := toRemoteUser(u)
			return &out, nil
		}
	}
	return nil, nil
}

// ListUsers enumerates every user with an email address
func (c *Client) ListUsers(ctx context.Context) ([]lms.RemoteUser, error) {
	raw, err := c.CallBulk(ctx, FnGetUsers, Params{
		"criteria": []Params{{"key": "email", "value": "%"}},
	})
	if err != nil {
		return nil, err
	}
	var resp getUsersResponse
	if err := decode(FnGetUsers, raw, &resp); err != nil {
		return nil, err
	}
	out := make([]lms.RemoteUser, 0, len(resp.Users))
	for _, u := range resp.Users {
		out = append(out, toRemoteUser(u))
	}
	return out, nil
}

func toRemoteUser(u remoteUser) lms.RemoteUser {
	return lms.RemoteUser{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		IDNumber:        u.IDNumber,
		Suspended:       bool(u.Suspended),
		ProfileImageURL: u.ProfileImageURL,
	}
}

func userParams(in lms.RemoteUserInput) Params {
	p := Params{
		"username":  in.Username,
		"firstname": in.FirstName,
		"lastname":  in.LastName,
		"email":     in.Email,
		"idnumber":  in.IDNumber,
		"auth":      in.Auth,
	}
	if in.Department != "" {
		p["department"] = in.Department
	}
	return p
}

// CreateUser creates a user and returns its id
func (c *Client) CreateUser(ctx context.Context, in lms.RemoteUserInput) (int64, error) {
	p := userParams(in)
	if in.Password != "" {
		p["password"] = in.Password
	} else {
		p["createpassword"] = true
	}

	raw, err := c.Call(ctx, FnCreateUsers, Params{"users": []Params{p}})
	if err != nil {
		return 0, err
	}
	var created []createdUser
	if err := decode(FnCreateUsers, raw, &created); err != nil {
		return 0, err
	}
	if len(created) == 0 || created[0].ID <= 0 {
		return 0, fmt.Errorf("%w: %s returned no user id", lms.ErrInvalidResponse, FnCreateUsers)
	}
	return created[0].ID, nil
}

// UpdateUser updates an existing user by id
func (c *Client) UpdateUser(ctx context.Context, in lms.RemoteUserInput) error {
	if in.ID <= 0 {
		return lms.ErrInvalidExternalID
	}
	p := userParams(in)
	p["id"] = in.ID
	if in.Suspended != nil {
		p["suspended"] = *in.Suspended
	}

	raw, err := c.Call(ctx, FnUpdateUsers, Params{"users": []Params{p}})
	if err != nil {
		return err
	}
	return checkWarnings(FnUpdateUsers, raw)
}

// checkWarnings inspects the optional {warnings: [...]} result of update calls
func checkWarnings(function string, raw json.RawMessage) error {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var resp warningsResponse
	if err := decode(function, raw, &resp); err != nil {
		return err
	}
	return firstWarning(function, resp.Warnings)
}

// ---------------------------------------------------------------------------
// Courses
// ---------------------------------------------------------------------------

// FindCourseByShortname looks a course up by its natural key
func (c *Client) FindCourseByShortname(ctx context.Context, shortname string) (*lms.RemoteCourse, error) {
	raw, err := c.Call(ctx, FnGetCoursesByField, Params{"field": "shortname", "value": shortname})
	if err != nil {
		return nil, err
	}
	var resp getCoursesResponse
	if err := decode(FnGetCoursesByField, raw, &resp); err != nil {
		return nil, err
	}
	for _, rc := range resp.Courses {
		if rc.Shortname == shortname {
			out := toRemoteCourse(rc)
			return &out, nil
		}
	}
	return nil, nil
}

func toRemoteCourse(rc remoteCourse) lms.RemoteCourse {
	category := rc.CategoryID
	if category == 0 {
		category = rc.Category
	}
	return lms.RemoteCourse{
		ID:         rc.ID,
		Shortname:  rc.Shortname,
		Fullname:   rc.Fullname,
		CategoryID: category,
		Visible:    bool(rc.Visible),
	}
}

func courseParams(in lms.RemoteCourseInput) Params {
	return Params{
		"shortname":     in.Shortname,
		"fullname":      in.Fullname,
		"idnumber":      in.IDNumber,
		"summary":       in.Summary,
		"summaryformat": in.SummaryFormat,
		"categoryid":    in.CategoryID,
		"visible":       in.Visible,
	}
}

// CreateCourse creates a course and returns its id
func (c *Client) CreateCourse(ctx context.Context, in lms.RemoteCourseInput) (int64, error) {
	raw, err := c.Call(ctx, FnCreateCourses, Params{"courses": []Params{courseParams(in)}})
	if err != nil {
		return 0, err
	}
	var created []createdCourse
	if err := decode(FnCreateCourses, raw, &created); err != nil {
		return 0, err
	}
	if len(created) == 0 || created[0].ID <= 0 {
		return 0, fmt.Errorf("%w: %s returned no course id", lms.ErrInvalidResponse, FnCreateCourses)
	}
	return created[0].ID, nil
}

// UpdateCourse updates an existing course by id
func (c *Client) UpdateCourse(ctx context.Context, in lms.RemoteCourseInput) error {
	if in.ID <= 0 {
		return lms.ErrInvalidExternalID
	}
	p := courseParams(in)
	p["id"] = in.ID

	raw, err := c.Call(ctx, FnUpdateCourses, Params{"courses": []Params{p}})
	if err != nil {
		return err
	}
	return checkWarnings(FnUpdateCourses, raw)
}

// ---------------------------------------------------------------------------
// Enrolments
// ---------------------------------------------------------------------------

// Enrol adds a manual enrolment with the role's id
func (c *Client) Enrol(ctx context.Context, e lms.RemoteEnrolment) error {
	_, err := c.Call(ctx, FnEnrolUsers, Params{
		"enrolments": []Params{{
			"roleid":   RoleID(e.Role),
			"userid":   e.UserID,
			"courseid": e.CourseID,
		}},
	})
	return err
}

// Unenrol removes a manual enrolment
func (c *Client) Unenrol(ctx context.Context, e lms.RemoteEnrolment) error {
	_, err := c.Call(ctx, FnUnenrolUsers, Params{
		"enrolments": []Params{{
			"userid":   e.UserID,
			"courseid": e.CourseID,
			"roleid":   RoleID(e.Role),
		}},
	})
	return err
}

// EnrolledUsers lists the users enrolled in a course
func (c *Client) EnrolledUsers(ctx context.Context, courseID int64) ([]lms.RemoteEnrolledUser, error) {
	raw, err := c.CallBulk(ctx, FnEnrolledUsers, Params{"courseid": courseID})
	if err != nil {
		return nil, err
	}
	var users []remoteUser
	if err := decode(FnEnrolledUsers, raw, &users); err != nil {
		return nil, err
	}
	out := make([]lms.RemoteEnrolledUser, 0, len(users))
	for _, u := range users {
		out = append(out, lms.RemoteEnrolledUser{ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName})
	}
	return out, nil
}

// UserCourses lists the courses a user is enrolled in
func (c *Client) UserCourses(ctx context.Context, userID int64) ([]lms.RemoteCourse, error) {
	raw, err := c.Call(ctx, FnUsersCourses, Params{"userid": userID})
	if err != nil {
		return nil, err
	}
	var courses []remoteCourse
	if err := decode(FnUsersCourses, raw, &courses); err != nil {
		return nil, err
	}
	out := make([]lms.RemoteCourse, 0, len(courses))
	for _, rc := range courses {
		out = append(out, toRemoteCourse(rc))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Grades
// ---------------------------------------------------------------------------

// UserCourseGrades returns the course grade overview of a user
func (c *Client) UserCourseGrades(ctx context.Context, userID int64) ([]lms.RemoteCourseGrade, error) {
	raw, err := c.Call(ctx, FnCourseGrades, Params{"userid": userID})
	if err != nil {
		return nil, err
	}
	var resp courseGradesResponse
	if err := decode(FnCourseGrades, raw, &resp); err != nil {
		return nil, err
	}
	out := make([]lms.RemoteCourseGrade, 0, len(resp.Grades))
	for _, g := range resp.Grades {
		out = append(out, lms.RemoteCourseGrade{
			CourseID:   g.CourseID,
			Grade:      string(g.Grade),
			Percentage: ParseGrade(string(g.Grade)),
			RawGrade:   ParseGrade(string(g.RawGrade)),
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// FetchFile downloads an LMS-hosted file. The web service token is appended
// so protected pluginfile URLs can be read.
func (c *Client) FetchFile(ctx context.Context, fileURL string) (*lms.RemoteFile, error) {
	const function = "pluginfile"

	u, err := url.Parse(fileURL)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: invalid file url %q", lms.ErrInvalidResponse, fileURL)
	}
	q := u.Query()
	q.Set("token", c.config.Token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("moodle: failed to create request: %w", err)
	}
	resp, err := c.bulkClient.Do(req)
	if err != nil {
		return nil, &lms.TransportError{Function: function, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &lms.RemoteAPIError{Function: function, Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes))
	if err != nil {
		return nil, &lms.TransportError{Function: function, Err: err}
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if strings.HasPrefix(contentType, "application/json") {
		var exc exceptionResponse
		if json.Unmarshal(data, &exc) == nil && exc.Exception != "" {
			return nil, &lms.RemoteAPIError{Function: function, Code: exc.ErrorCode, Message: exc.Message}
		}
	}
	return &lms.RemoteFile{Data: data, ContentType: contentType}, nil
}

// IsTimeout reports whether err is a transport timeout
func IsTimeout(err error) bool {
	var te *lms.TransportError
	if !errors.As(err, &te) {
		return false
	}
	if errors.Is(te.Err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(te.Err, &ne) && ne.Timeout()
}
