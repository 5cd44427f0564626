package core

// error_messages.go maps errors to user-facing messages.
//
// Every error leaving the service maps to a user-facing message with a code
// support staff can look up. Typed errors are matched first with errors.Is
// and errors.As; anything else falls back to case-insensitive substring
// patterns.
//
// # Country Rules (CFG001-CFG099)
//
//	CFG001 - Country not found: no rule document for the requested country
//	CFG002 - Country rules invalid: a rule document failed to parse
//
// # Oracle (ORA001-ORA099, SCH001)
//
//	SCH001 - Interpretation rejected: the model answer failed the schema
//	ORA001 - Interpretation timed out
//	ORA002 - Interpretation service failed
//
// # Batch Jobs (JOB001-JOB099)
//
//	JOB001 - Batch rejected (empty, too large)
//	JOB002 - Batch job not found or expired
//	JOB003 - Too many batch jobs running
//	JOB004 - Batch job already started
//	JOB005 - Service shutting down
//	JOB006 - Batch job still running
//
// # Confirmation (CNF001-CNF099)
//
//	CNF001 - Not eligible: confidence is already high
//	CNF002 - Invalid action: must be call or whatsapp
//	CNF003 - Already confirmed
//	CNF004 - Confirmation or result not found
//	CNF005 - Confirmation agent not configured
//
// # Files (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE003 - Missing address column
//	FILE004 - No file provided
//	FILE005 - Empty file
//
// # Requests
//
//	VAL001  - Invalid request
//	RATE001 - Rate limited
//	REQ001  - Request cancelled
//	REQ002  - Request timed out
//	ERR000  - Unknown error; check the logs for the technical error

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/addrintel/internal/batch"
	"github.com/JonMunkholm/addrintel/internal/confirm"
	"github.com/JonMunkholm/addrintel/internal/country"
	"github.com/JonMunkholm/addrintel/internal/oracle"
	"github.com/JonMunkholm/addrintel/internal/store"
	"github.com/JonMunkholm/addrintel/internal/validation"
)

var (
	// ErrNoFile is returned when a batch request carries no CSV.
	ErrNoFile = errors.New("no file provided")

	// ErrAgentDisabled is returned when confirmation is requested without an agent.
	ErrAgentDisabled = errors.New("confirmation agent not configured")

	// ErrJobRunning is returned when results of an unfinished job are exported.
	ErrJobRunning = errors.New("batch job still running")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
	Status  int    // HTTP status for API responses
}

// errorMatcher maps a typed error to its user message.
type errorMatcher struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

func as[T error]() func(error) bool {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}

// errorMatchers run before the string patterns. Order matters: the first
// match wins.
var errorMatchers = []errorMatcher{
	{as[*country.NotFoundError](), UserMessage{
		Message: "No address rules exist for this country",
		Action:  "Check the country name or use GET /api/countries",
		Code:    "CFG001", Status: http.StatusNotFound,
	}},
	{as[*country.ParseError](), UserMessage{
		Message: "Address rules for this country could not be loaded",
		Action:  "Please contact support",
		Code:    "CFG002", Status: http.StatusInternalServerError,
	}},
	{is(oracle.ErrEmptyAddress), UserMessage{
		Message: "Address is required",
		Action:  "Provide a non-empty address",
		Code:    "VAL001", Status: http.StatusBadRequest,
	}},
	{as[*oracle.SchemaError](), UserMessage{
		Message: "The address could not be interpreted",
		Action:  "Please try again",
		Code:    "SCH001", Status: http.StatusBadGateway,
	}},
	{is(validation.ErrOracleTimeout), UserMessage{
		Message: "Address interpretation timed out",
		Action:  "Please try again in a few moments",
		Code:    "ORA001", Status: http.StatusGatewayTimeout,
	}},
	{as[*validation.OracleError](), UserMessage{
		Message: "Address interpretation service failed",
		Action:  "Please try again in a few moments",
		Code:    "ORA002", Status: http.StatusBadGateway,
	}},
	{as[*batch.SubmissionError](), UserMessage{
		Message: "The batch was rejected",
		Action:  "Check that the file has address rows and is within the row limit",
		Code:    "JOB001", Status: http.StatusBadRequest,
	}},
	{is(batch.ErrJobNotFound), UserMessage{
		Message: "Batch job not found",
		Action:  "The job may have expired. Please submit the batch again",
		Code:    "JOB002", Status: http.StatusNotFound,
	}},
	{is(batch.ErrTooManyJobs), UserMessage{
		Message: "Too many batch jobs are running",
		Action:  "Please wait a moment and try again",
		Code:    "JOB003", Status: http.StatusServiceUnavailable,
	}},
	{is(batch.ErrJobStarted), UserMessage{
		Message: "Batch job already started",
		Action:  "Poll the job status instead",
		Code:    "JOB004", Status: http.StatusConflict,
	}},
	{is(batch.ErrManagerClosed), UserMessage{
		Message: "The service is shutting down",
		Action:  "Please try again shortly",
		Code:    "JOB005", Status: http.StatusServiceUnavailable,
	}},
	{is(confirm.ErrClosed), UserMessage{
		Message: "The service is shutting down",
		Action:  "Please try again shortly",
		Code:    "JOB005", Status: http.StatusServiceUnavailable,
	}},
	{is(ErrJobRunning), UserMessage{
		Message: "Batch job is still running",
		Action:  "Wait for the job to finish before downloading results",
		Code:    "JOB006", Status: http.StatusConflict,
	}},
	{is(confirm.ErrNotEligible), UserMessage{
		Message: "This address already has high confidence",
		Action:  "Confirmation is only needed below 90% confidence",
		Code:    "CNF001", Status: http.StatusBadRequest,
	}},
	{is(confirm.ErrInvalidAction), UserMessage{
		Message: "Invalid confirmation action",
		Action:  "Use call or whatsapp",
		Code:    "CNF002", Status: http.StatusBadRequest,
	}},
	{is(confirm.ErrAlreadyConfirmed), UserMessage{
		Message: "This address has already been confirmed",
		Action:  "Fetch the confirmed address instead",
		Code:    "CNF003", Status: http.StatusConflict,
	}},
	{is(confirm.ErrNotFound), UserMessage{
		Message: "Confirmation not found",
		Action:  "Trigger a confirmation first",
		Code:    "CNF004", Status: http.StatusNotFound,
	}},
	{is(store.ErrResultNotFound), UserMessage{
		Message: "Validation result not found",
		Action:  "Validate the address first",
		Code:    "CNF004", Status: http.StatusNotFound,
	}},
	{is(ErrAgentDisabled), UserMessage{
		Message: "Address confirmation is not available",
		Action:  "Please contact support",
		Code:    "CNF005", Status: http.StatusServiceUnavailable,
	}},
	{is(ErrFileTooLarge), UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller batches",
		Code:    "FILE001", Status: http.StatusRequestEntityTooLarge,
	}},
	{is(ErrNoAddressColumn), UserMessage{
		Message: "No address column found in CSV",
		Action:  "Add an address column or street, suburb, city and postal code columns",
		Code:    "FILE003", Status: http.StatusBadRequest,
	}},
	{is(ErrNoFile), UserMessage{
		Message: "No file was provided",
		Action:  "Upload a CSV file or send csv_content",
		Code:    "FILE004", Status: http.StatusBadRequest,
	}},
	{is(ErrEmptyFile), UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with data rows",
		Code:    "FILE005", Status: http.StatusBadRequest,
	}},
	{is(ErrNoAddresses), UserMessage{
		Message: "No addresses found in file",
		Action:  "Check that address cells are filled in",
		Code:    "FILE005", Status: http.StatusBadRequest,
	}},
	{is(context.Canceled), UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001", Status: 499,
	}},
	{is(context.DeadlineExceeded), UserMessage{
		Message: "Request timed out",
		Action:  "Please try again",
		Code:    "REQ002", Status: http.StatusGatewayTimeout,
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catch errors that arrive without a type, mostly from
// request decoding. Patterns are matched case-insensitively.
var errorPatterns = []errorPattern{
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent quoting",
			Code:    "FILE002", Status: http.StatusBadRequest,
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "Invalid request",
			Action:  "Check the request body against the API documentation",
			Code:    "VAL001", Status: http.StatusBadRequest,
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001", Status: http.StatusTooManyRequests,
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller batches",
			Code:    "FILE001", Status: http.StatusRequestEntityTooLarge,
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts a technical error to a user-friendly message. Typed
// errors win over string patterns; unknown errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, m := range errorMatchers {
		if m.match(err) {
			return m.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with the message shown to users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

// InvalidRequest wraps a request validation failure as VAL001 with detail
// shown in the message.
func InvalidRequest(detail string) *UserError {
	return &UserError{
		Technical: fmt.Errorf("invalid request: %s", detail),
		User: UserMessage{
			Message: "Invalid request: " + detail,
			Action:  "Check the request body against the API documentation",
			Code:    "VAL001",
			Status:  http.StatusBadRequest,
		},
	}
}
