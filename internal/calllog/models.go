package calllog

import (
	"fmt"
	"strings"
	"time"
)

// Event is an immutable, append-only call history record.
//
// Invariants:
// - Events are never updated or deleted.
// - Customer is always the customer identity, whichever side recorded it.
// - Recording is best-effort; call flows never block on it.
//
// Storage (Postgres): table call_events, INSERT-only.
type Event struct {
	ID       string `json:"id" db:"id"`
	Customer string `json:"customer" db:"customer"`

	// Actor is the identity whose session recorded the event.
	Actor string `json:"actor" db:"actor"`

	Kind      Kind   `json:"kind" db:"kind"`
	MediaKind string `json:"mediaKind,omitempty" db:"media_kind"`

	// Message is a short human-readable line for the support transcript view.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Kind string

const (
	KindStarted      Kind = "started"
	KindCancelled    Kind = "cancelled"
	KindMissed       Kind = "missed"
	KindEnded        Kind = "ended"
	KindRejected     Kind = "rejected"
	KindVerified     Kind = "verified"
	KindVerifyFailed Kind = "verify_failed"
)

func (k Kind) Valid() bool {
	switch k {
	case KindStarted, KindCancelled, KindMissed, KindEnded, KindRejected, KindVerified, KindVerifyFailed:
		return true
	default:
		return false
	}
}

// Describe renders the default history line for an event kind.
func Describe(k Kind, mediaKind string) string {
	if mediaKind == "" {
		mediaKind = "video"
	}
	switch k {
	case KindStarted:
		return fmt.Sprintf("Started a %s call", mediaKind)
	case KindCancelled:
		return fmt.Sprintf("Cancelled %s call", mediaKind)
	case KindMissed:
		return fmt.Sprintf("Missed %s call", mediaKind)
	case KindEnded:
		return fmt.Sprintf("%s call ended", capitalize(mediaKind))
	case KindRejected:
		return fmt.Sprintf("Declined %s call", mediaKind)
	case KindVerified:
		return "Identity verified"
	case KindVerifyFailed:
		return "Identity verification failed"
	}
	return string(k)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// TimeRange bounds a query. Zero values are open ends.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type Filter struct {
	Customer string
	Range    TimeRange
}

// Summary aggregates call history.
type Summary struct {
	Customer string    `json:"customer,omitempty"`
	Range    TimeRange `json:"range"`

	StartedCalls   int `json:"started_calls"`
	CompletedCalls int `json:"completed_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	MissedCalls    int `json:"missed_calls"`
	RejectedCalls  int `json:"rejected_calls"`

	Verifications       int `json:"verifications"`
	FailedVerifications int `json:"failed_verifications"`

	Customers int `json:"customers"`
}
