package approval

import (
	"errors"
	"time"

	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
)

var (
	// ErrNotFound means the approval expired or never existed; callers
	// surface it as a generic "no longer available".
	ErrNotFound = errors.New("approval: not found")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusEditing  Status = "editing"
	StatusExpired  Status = "expired"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// EditMode selects how an edit is applied to the draft text.
type EditMode string

const (
	EditModeDirect EditMode = "direct"
	EditModeLLM    EditMode = "llm"
)

// Action is an inbound user interaction with a pending approval.
type Action string

const (
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionEdit        Action = "edit"
	ActionSetEditMode Action = "set_edit_mode"
	ActionUpdateText  Action = "update_text"
	ActionRegenerate  Action = "regenerate"
)

// Result is what a waiting caller receives, exactly once.
type Result string

const (
	ResultApproved Result = "approved"
	ResultRejected Result = "rejected"
	ResultTimeout  Result = "timeout"
	ResultShutdown Result = "shutdown"
)

// Approved reports whether the result allows the pending action to proceed.
func (r Result) Approved() bool { return r == ResultApproved }

// PendingApproval is the full snapshot kept in the ephemeral store.
// Lifecycle: pending -> approved/rejected/expired (terminal), or
// pending -> editing -> pending when the draft text changes.
type PendingApproval struct {
	ID        string         `json:"id"`
	Recipient kit.ChatTarget `json:"recipient"`
	Text      string         `json:"text"`
	Status    Status         `json:"status"`
	EditMode  EditMode       `json:"editMode,omitempty"`
	Message   kit.MessageRef `json:"message"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
