// Package batch runs many address validations as one tracked job.
//
// A job moves from pending to processing when its first row is dispatched
// and to complete once every row has a terminal outcome. Failed rows are
// recorded as data and never abort the job. A job is failed only when it
// could not start at all.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/JonMunkholm/addrintel/internal/address"
	"github.com/JonMunkholm/addrintel/internal/country"
	"github.com/JonMunkholm/addrintel/internal/oracle"
	"github.com/JonMunkholm/addrintel/internal/validation"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the job can no longer change.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// RowStatus is the outcome of a single row.
type RowStatus string

const (
	RowPending   RowStatus = "pending"
	RowSucceeded RowStatus = "succeeded"
	RowFailed    RowStatus = "failed"
	RowCancelled RowStatus = "cancelled"
)

// ErrorKind classifies a row failure.
type ErrorKind string

const (
	KindSchema  ErrorKind = "schema"
	KindTimeout ErrorKind = "timeout"
	KindConfig  ErrorKind = "config"
	KindRow     ErrorKind = "row"
)

var (
	// ErrJobNotFound is returned for unknown or evicted job ids.
	ErrJobNotFound = errors.New("batch job not found")

	// ErrJobStarted is returned when a job is run twice.
	ErrJobStarted = errors.New("batch job already started or finished")

	// ErrManagerClosed is returned after Shutdown.
	ErrManagerClosed = errors.New("batch manager is shut down")
)

// SubmissionError rejects a batch before any job is created.
type SubmissionError struct {
	Reason string
}

func (e *SubmissionError) Error() string {
	return "batch submission rejected: " + e.Reason
}

// RowError is a captured per-row failure.
type RowError struct {
	Index int
	Kind  ErrorKind
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %v", e.Index, e.Kind, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// classify wraps a validation error into a RowError.
func classify(index int, err error) *RowError {
	var (
		schemaErr *oracle.SchemaError
		notFound  *country.NotFoundError
		parseErr  *country.ParseError
	)

	kind := KindRow
	switch {
	case errors.As(err, &schemaErr):
		kind = KindSchema
	case errors.Is(err, validation.ErrOracleTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &notFound), errors.As(err, &parseErr):
		kind = KindConfig
	}
	return &RowError{Index: index, Kind: kind, Err: err}
}

// Row is one address to validate. Index is the stable 1-based position in
// the submitted batch; Submit assigns it when zero.
type Row struct {
	Index   int
	Address string
	Country string
	Contact string

	// Source holds the original input columns for export.
	Source map[string]string
}

// RowResult is the committed outcome of one row.
type RowResult struct {
	Index     int               `json:"row_index"`
	Address   string            `json:"address"`
	Country   string            `json:"country,omitempty"`
	Status    RowStatus         `json:"status"`
	Result    *address.Result   `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	ErrorKind ErrorKind         `json:"error_kind,omitempty"`
	Source    map[string]string `json:"source,omitempty"`
}

// Snapshot is a read-only copy of a job.
type Snapshot struct {
	ID          string      `json:"job_id"`
	Status      Status      `json:"status"`
	Total       int         `json:"total"`
	Processed   int         `json:"processed"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	Progress    float64     `json:"progress_percentage"`
	Cancelled   bool        `json:"cancelled"`
	Error       string      `json:"error,omitempty"`
	Results     []RowResult `json:"results"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// progress returns processed/total as a percentage rounded down to one
// decimal, so 100 is only reported when every row is done.
func progress(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Floor(float64(processed)*1000/float64(total)) / 10
}
