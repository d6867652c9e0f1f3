package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

var ErrAdapterNotReady = errors.New("notify: chat adapter not ready")

// Callback action codes understood by the inbound router. The full payload
// "<action>:<token>" must fit the platform's 64-byte callback budget.
const (
	ActionConfirm = "confirm"
	ActionReject  = "reject"
)

type Config struct {
	RatePerSec int
	ScanWindow int
}

// Dispatcher sends single-event notifications with an at-most-one-commit
// guarantee: the outbound send happens first, and only on success does the
// conditional "set sent where null" update run. Concurrent workers may both
// attempt the send path for the same event; the conditional update makes
// sure only one of them records it, and the loser treats that as success.
type Dispatcher struct {
	store   storage.EventStore
	refs    *ephemeral.ShortRefStore
	adapter kit.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(cfg Config, store storage.EventStore, refs *ephemeral.ShortRefStore, adapter kit.Adapter, log logx.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:   store,
		refs:    refs,
		adapter: adapter,
		// Token bucket: burst = rate per sec, so short spikes don't block.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

// Notify formats and sends one event to the owner chat, then marks it
// notified. Calling Notify twice (even concurrently) results in at most one
// durable "sent" record; a failed send skips the mark so a retry can
// re-attempt delivery.
func (d *Dispatcher) Notify(ctx context.Context, ev storage.Event) error {
	st := d.adapter.Status()
	if !st.Ready || st.OwnerChatID == 0 {
		return ErrAdapterNotReady
	}

	name, err := d.store.ContactName(ctx, ev.ChatID)
	if err != nil {
		d.log.Warn("contact lookup failed", logx.String("event", ev.ID), logx.Err(err))
		name = ""
	}
	text := FormatEvent(ev, name)

	token, err := d.refs.Put([]string{ev.ID})
	if err != nil {
		return fmt.Errorf("short ref: %w", err)
	}
	buttons, err := ConfirmRejectButtons(token)
	if err != nil {
		return err
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := d.adapter.SendText(ctx, kit.ChatTarget{ChatID: st.OwnerChatID}, text, &kit.SendOptions{
		DisablePreview: true,
		Buttons:        buttons,
	}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	marked, err := d.store.MarkNotified(ctx, ev.ID, time.Now())
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	if !marked {
		// Another dispatcher won the conditional update; nothing to redo.
		d.log.Debug("event already marked notified", logx.String("event", ev.ID))
	}
	return nil
}

// ConfirmRejectButtons builds the standard two-button row for a short ref
// token, validating the callback byte budget up front.
func ConfirmRejectButtons(token string) ([][]kit.Button, error) {
	confirm := ActionConfirm + ":" + token
	reject := ActionReject + ":" + token
	if err := kit.ValidateCallbackData(confirm); err != nil {
		return nil, err
	}
	if err := kit.ValidateCallbackData(reject); err != nil {
		return nil, err
	}
	return [][]kit.Button{{
		{Text: "✅ Confirm", Data: confirm},
		{Text: "❌ Reject", Data: reject},
	}}, nil
}
