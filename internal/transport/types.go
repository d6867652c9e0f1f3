package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// Callback is an inbound button click. Data carries the raw callback
// payload, bounded by MaxCallbackDataLen on the way out.
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

// MessageRef identifies an already-sent message for later in-place edits.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is a platform-neutral inline button. Data must fit the platform's
// callback payload budget; see MaxCallbackDataLen.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are inline keyboard rows attached to the message.
	Buttons [][]Button
}

// Status reports adapter readiness and the owner chat for direct flows.
type Status struct {
	Ready       bool
	OwnerChatID int64
}

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// The full "<action>:<token>" string must fit within it.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("transport: callback_data too long")

// Adapter is the chat-platform collaborator. Implementations must be safe
// for concurrent use.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	// SendAsUser posts text into the chat attributed to the assistant owner
	// (e.g. a drafted reply approved for sending).
	SendAsUser(ctx context.Context, to ChatTarget, text string) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	Status() Status
}

// ValidateCallbackData rejects data exceeding the platform budget before the
// platform round-trips it back truncated or rejected.
func ValidateCallbackData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
