package moodle

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// RESTPath is the web service endpoint relative to the site URL
const RESTPath = "/webservice/rest/server.php"

const (
	defaultTimeout          = 30 * time.Second
	defaultBulkTimeout      = 300 * time.Second
	defaultMaxResponseBytes = 32 << 20
)

// Errors for client configuration
var (
	ErrConfigMissingURL   = errors.New("moodle: site url is required")
	ErrConfigInvalidURL   = errors.New("moodle: site url must be absolute")
	ErrConfigMissingToken = errors.New("moodle: web service token is required")
)

// Config holds the connection settings of one LMS site
type Config struct {
	// BaseURL is the site root, e.g. https://lms.example.edu
	BaseURL string
	// Token is the web service token
	Token string
	// Timeout bounds single-entity calls
	Timeout time.Duration
	// BulkTimeout bounds enumeration calls and file downloads
	BulkTimeout time.Duration
	// MaxResponseBytes caps how much of a response body is read
	MaxResponseBytes int64
}

// Validate checks required fields and fills defaults
func (c *Config) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return ErrConfigMissingURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrConfigInvalidURL
	}
	if c.Token == "" {
		return ErrConfigMissingToken
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BulkTimeout <= 0 {
		c.BulkTimeout = defaultBulkTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
	return nil
}

// Endpoint returns the full REST endpoint URL
func (c *Config) Endpoint() string {
	return c.BaseURL + RESTPath
}

// Role ids of a standard installation
const (
	RoleManager        = 1
	RoleEditingTeacher = 3
	RoleTeacher        = 4
	RoleStudent        = 5
)

// RoleID maps an enrolment role name to its id; unknown names enrol as student
func RoleID(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "manager":
		return RoleManager
	case "editingteacher":
		return RoleEditingTeacher
	case "teacher":
		return RoleTeacher
	default:
		return RoleStudent
	}
}
