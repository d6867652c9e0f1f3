package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
)

// EventType classifies what the extraction pipeline pulled out of a chat.
type EventType string

const (
	TypeMeeting       EventType = "meeting"
	TypePromiseByMe   EventType = "promise_by_me"
	TypePromiseByThem EventType = "promise_by_them"
	TypeTask          EventType = "task"
	TypeFact          EventType = "fact"
	TypeCancellation  EventType = "cancellation"
)

type EventStatus string

const (
	StatusPending       EventStatus = "pending"
	StatusConfirmed     EventStatus = "confirmed"
	StatusRejected      EventStatus = "rejected"
	StatusAutoProcessed EventStatus = "auto_processed"
	StatusExpired       EventStatus = "expired"
)

// SourceSystem marks events originated by the assistant itself rather than a
// human conversation; digests skip them.
const SourceSystem = "system"

// Event is an extracted event as persisted by the domain store.
//
// NotificationSentAt transitions nil -> non-nil exactly once per event. The
// transition is enforced by a conditional "set where null" UPDATE, not by
// application-level locking.
type Event struct {
	ID         string
	ChatID     int64
	Type       EventType
	Payload    json.RawMessage
	Confidence float64
	Status     EventStatus
	Source     string

	// StartAt is the parsed start time for meetings (nil otherwise).
	StartAt *time.Time
	// Deadline is a freeform or parsed deadline for promise-type events.
	Deadline string

	CreatedAt          time.Time
	NotificationSentAt *time.Time
	UserResponseAt     *time.Time
}

// Contact provides a display name for formatting; read-only here.
type Contact struct {
	ChatID      int64
	DisplayName string
}

// Config configures the sqlite-backed event store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// EventStore is the domain-store collaborator surface this engine consumes.
//
// MarkNotified and MarkNotifiedBatch are the only concurrency safety net
// against double-send: they push the exclusivity check down to a single
// atomic UPDATE.
type EventStore interface {
	InsertEvent(ctx context.Context, e Event) error
	GetEvent(ctx context.Context, id string) (Event, error)

	// ListPending returns pending, not-yet-notified events inside a bounded
	// scan window: the newest `window` rows, re-ordered ascending by
	// creation time.
	ListPending(ctx context.Context, window int) ([]Event, error)

	// MarkNotified sets notification_sent_at if and only if it is still
	// null. Returns false when another worker already marked the event.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkNotifiedBatch applies the same conditional update over a set of
	// ids and returns the count of rows actually newly marked.
	MarkNotifiedBatch(ctx context.Context, ids []string, at time.Time) (int, error)

	// SetStatus records the user's verdict and stamps user_response_at.
	SetStatus(ctx context.Context, id string, st EventStatus) error

	// ExpirePending flags pending events created before cutoff as expired
	// and returns how many were flagged.
	ExpirePending(ctx context.Context, cutoff time.Time) (int, error)

	// ContactName resolves a chat to a display name ("" when unknown).
	ContactName(ctx context.Context, chatID int64) (string, error)

	Close() error
}
