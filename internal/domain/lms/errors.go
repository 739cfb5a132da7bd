package lms

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Remote API errors
	ErrTransport       = errors.New("lms: transport error")
	ErrRemoteAPI       = errors.New("lms: remote api error")
	ErrInvalidResponse = errors.New("lms: invalid remote response")
	ErrNotConfigured   = errors.New("lms: remote endpoint not configured")

	// Mapping errors
	ErrMappingNotFound       = errors.New("lms: mapping not found")
	ErrInvalidLocalID        = errors.New("lms: invalid local id")
	ErrInvalidUsername       = errors.New("lms: username is required")
	ErrInvalidShortname      = errors.New("lms: course shortname is required")
	ErrInvalidRole           = errors.New("lms: invalid user role")
	ErrInvalidExternalID     = errors.New("lms: invalid external id")
	ErrDependencyNotSynced   = errors.New("lms: enrollment dependency not synced")
	ErrInvalidStateChange    = errors.New("lms: invalid sync state transition")
	ErrLocalEntityNotFound   = errors.New("lms: local entity not found")
	ErrLocalEntityIncomplete = errors.New("lms: local entity is missing required data")

	// Grade errors
	ErrUnmappedEntity        = errors.New("lms: event cannot be attributed to a mapped enrollment")
	ErrStaleEvent            = errors.New("lms: grade event is older than the stored record")
	ErrInvalidGradingScale   = errors.New("lms: invalid grading scale")
	ErrGradeRecordNotFound   = errors.New("lms: grade record not found")
	ErrInvalidCompletionHint = errors.New("lms: invalid completion status")

	// Concurrency errors
	ErrLockTimeout = errors.New("lms: timed out waiting for entity lock")
)

// RemoteAPIError is returned when the LMS rejects a call, either with a
// non-2xx transport status or with an exception payload.
type RemoteAPIError struct {
	Function string
	Code     string
	Message  string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("lms: %s failed: %s (%s)", e.Function, e.Message, e.Code)
}

// Unwrap lets errors.Is match ErrRemoteAPI.
func (e *RemoteAPIError) Unwrap() error {
	return ErrRemoteAPI
}

// TransportError wraps network and timeout failures.
type TransportError struct {
	Function string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("lms: %s transport failure: %v", e.Function, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// alreadyEnrolledMarkers are error codes and message fragments the LMS uses
// when the requested enrolment already holds.
var alreadyEnrolledMarkers = []string{
	"alreadyenrolled",
	"already enrolled",
	"user_already_enrolled",
}

// IsAlreadyEnrolled reports whether err is the remote "already enrolled" condition.
func IsAlreadyEnrolled(err error) bool {
	var apiErr *RemoteAPIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := strings.ToLower(apiErr.Code)
	msg := strings.ToLower(apiErr.Message)
	for _, marker := range alreadyEnrolledMarkers {
		if strings.Contains(code, marker) || strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
