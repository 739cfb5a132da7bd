package dto

import (
	"context"
	"errors"
	"net/http"

	lmsapp "github.com/campus/lmssync/internal/application/lms"
	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/scheduler"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeInternal = "ERR_INTERNAL"
	ErrCodeTimeout  = "ERR_TIMEOUT"
)

// Request error codes
const (
	ErrCodeValidation      = "ERR_VALIDATION"
	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput    = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound         = "ERR_NOT_FOUND"
	ErrCodeStaleEvent       = "ERR_STALE_EVENT"
	ErrCodeImportInProgress = "ERR_IMPORT_IN_PROGRESS"
)

// Sync error codes
const (
	ErrCodeUnmappedEntity        = "ERR_UNMAPPED_ENTITY"
	ErrCodeDependencyNotSynced   = "ERR_DEPENDENCY_NOT_SYNCED"
	ErrCodeLocalEntityIncomplete = "ERR_LOCAL_ENTITY_INCOMPLETE"
	ErrCodeRemoteAPI             = "ERR_REMOTE_API"
	ErrCodeRemoteUnavailable     = "ERR_REMOTE_UNAVAILABLE"
	ErrCodeNotConfigured         = "ERR_NOT_CONFIGURED"
	ErrCodeBusy                  = "ERR_BUSY"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,
	ErrCodeTimeout:  http.StatusGatewayTimeout,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:         http.StatusNotFound,
	ErrCodeStaleEvent:       http.StatusConflict,
	ErrCodeImportInProgress: http.StatusConflict,

	// Requests that are well formed but cannot be processed -> 422
	ErrCodeUnmappedEntity:        http.StatusUnprocessableEntity,
	ErrCodeDependencyNotSynced:   http.StatusUnprocessableEntity,
	ErrCodeLocalEntityIncomplete: http.StatusUnprocessableEntity,

	// Upstream LMS failures -> 502
	ErrCodeRemoteAPI:         http.StatusBadGateway,
	ErrCodeRemoteUnavailable: http.StatusBadGateway,

	ErrCodeNotConfigured: http.StatusServiceUnavailable,
	ErrCodeBusy:          http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorMapping is the HTTP rendering of an error
type ErrorMapping struct {
	Status  int
	Code    string
	Message string
}

// errorRule maps a sentinel onto an error code. Rules are checked in order,
// so a dependency failure caused by the LMS renders as a remote error.
type errorRule struct {
	target error
	code   string
}

var errorRules = []errorRule{
	{lms.ErrTransport, ErrCodeRemoteUnavailable},
	{lms.ErrRemoteAPI, ErrCodeRemoteAPI},
	{lms.ErrInvalidResponse, ErrCodeRemoteAPI},
	{lms.ErrNotConfigured, ErrCodeNotConfigured},
	{lmsapp.ErrStorageNotConfigured, ErrCodeNotConfigured},
	{lms.ErrDependencyNotSynced, ErrCodeDependencyNotSynced},
	{lms.ErrUnmappedEntity, ErrCodeUnmappedEntity},
	{lms.ErrLocalEntityIncomplete, ErrCodeLocalEntityIncomplete},
	{lms.ErrMappingNotFound, ErrCodeNotFound},
	{lms.ErrLocalEntityNotFound, ErrCodeNotFound},
	{lms.ErrGradeRecordNotFound, ErrCodeNotFound},
	{lms.ErrStaleEvent, ErrCodeStaleEvent},
	{scheduler.ErrImportInProgress, ErrCodeImportInProgress},
	{lms.ErrLockTimeout, ErrCodeBusy},
	{scheduler.ErrSchedulerNotRunning, ErrCodeBusy},
	{scheduler.ErrJobQueueFull, ErrCodeBusy},
	{lms.ErrInvalidLocalID, ErrCodeInvalidInput},
	{lms.ErrInvalidUsername, ErrCodeInvalidInput},
	{lms.ErrInvalidShortname, ErrCodeInvalidInput},
	{lms.ErrInvalidRole, ErrCodeInvalidInput},
	{lms.ErrInvalidExternalID, ErrCodeInvalidInput},
	{lms.ErrInvalidCompletionHint, ErrCodeInvalidInput},
	{lms.ErrInvalidStateChange, ErrCodeInvalidInput},
	{lmsapp.ErrInvalidRetryKind, ErrCodeInvalidInput},
	{context.DeadlineExceeded, ErrCodeTimeout},
}

// ErrorFromDomain maps an application or domain error to its HTTP status
// and code. Unknown errors become a 500 whose message is not echoed.
func ErrorFromDomain(err error) ErrorMapping {
	for _, rule := range errorRules {
		if errors.Is(err, rule.target) {
			return ErrorMapping{
				Status:  GetHTTPStatus(rule.code),
				Code:    rule.code,
				Message: err.Error(),
			}
		}
	}
	return ErrorMapping{
		Status:  http.StatusInternalServerError,
		Code:    ErrCodeInternal,
		Message: "An internal error occurred",
	}
}
