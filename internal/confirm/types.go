// Package confirm tracks the human confirmation workflow for low-confidence
// validation results.
//
// A record is created when an agent action is triggered for a result, is
// polled until the agent reports the address the customer confirmed, and is
// then frozen together with the differences from the original result.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TriggerThreshold is the score at or above which a result is not eligible
// for confirmation.
const TriggerThreshold = 90

// Action is the channel used to reach the customer.
type Action string

const (
	ActionCall     Action = "call"
	ActionWhatsApp Action = "whatsapp"
)

// ParseAction returns the action named by s, ignoring case and surrounding
// space.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCall, ActionWhatsApp:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// State is the lifecycle state of a confirmation record.
type State string

const (
	StateUntriggered State = "untriggered"
	StateTriggered   State = "triggered"
	StateConfirmed   State = "confirmed"
)

var (
	// ErrNotEligible is returned when a result scores too high to need
	// confirmation.
	ErrNotEligible = errors.New("result is not eligible for confirmation")

	// ErrInvalidAction is returned for an action other than call or whatsapp.
	ErrInvalidAction = errors.New("invalid confirmation action")

	// ErrAlreadyConfirmed is returned when triggering a result whose address
	// was already confirmed.
	ErrAlreadyConfirmed = errors.New("address already confirmed")

	// ErrNotFound is returned by stores for unknown references.
	ErrNotFound = errors.New("confirmation not found")

	// ErrClosed is returned after the tracker is closed.
	ErrClosed = errors.New("confirmation tracker is closed")
)

// Confirmed is the address the customer confirmed.
type Confirmed struct {
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Record is one triggered confirmation. It is mutated exactly once, when the
// confirmation arrives, and never again.
type Record struct {
	Reference   string    `json:"reference"`
	ResultID    string    `json:"result_id"`
	Action      Action    `json:"action"`
	State       State     `json:"state"`
	TriggeredAt time.Time `json:"triggered_at"`

	// The original result as it was when the action was triggered.
	OriginalAddress   string   `json:"original_address"`
	OriginalLatitude  *float64 `json:"original_latitude,omitempty"`
	OriginalLongitude *float64 `json:"original_longitude,omitempty"`
	Contact           string   `json:"contact,omitempty"`

	Confirmed          *Confirmed      `json:"confirmed,omitempty"`
	ConfirmedAt        *time.Time      `json:"confirmed_at,omitempty"`
	ConfirmationMethod string          `json:"confirmation_method,omitempty"`
	ConfirmedBy        string          `json:"confirmed_by,omitempty"`
	Differences        *Differences    `json:"differences,omitempty"`
	AgentResponse      json.RawMessage `json:"agent_response,omitempty"`
}

// TriggerRequest is what the tracker asks an Agent to act on.
type TriggerRequest struct {
	Reference  string
	Action     Action
	Contact    string
	Address    string
	City       string
	PostalCode string
	Country    string
	Latitude   *float64
	Longitude  *float64
}

// Confirmation is an agent's report of a confirmed address.
type Confirmation struct {
	Address     string
	Latitude    *float64
	Longitude   *float64
	Method      string
	ConfirmedBy string
	ConfirmedAt time.Time
	Raw         json.RawMessage
}

// Agent reaches the customer out-of-band and reports what they confirmed.
type Agent interface {
	// Trigger starts the action for req.Reference.
	Trigger(ctx context.Context, req TriggerRequest) error

	// Fetch returns the confirmation for reference, or nil while it is
	// still pending.
	Fetch(ctx context.Context, reference string) (*Confirmation, error)
}

// Store persists confirmation records.
type Store interface {
	// SaveConfirmation upserts by reference. Once a record is confirmed
	// later saves for its reference are ignored.
	SaveConfirmation(ctx context.Context, rec Record) error
	// Confirmation returns ErrNotFound for unknown references.
	Confirmation(ctx context.Context, reference string) (Record, error)
	ConfirmationsByResult(ctx context.Context, resultID string) ([]Record, error)
	// PendingConfirmations lists records that were triggered but never
	// confirmed.
	PendingConfirmations(ctx context.Context) ([]Record, error)
}
