package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

// Batcher collects pending events into priority digests and sends them as a
// single message.
//
// The scan is bounded (newest ScanWindow pending rows) before the priority
// filter runs, so when pending volume regularly exceeds the window,
// lower-priority events can be starved out of digests. Observed behavior,
// kept as-is.
type Batcher struct {
	store      storage.EventStore
	refs       *ephemeral.ShortRefStore
	adapter    kit.Adapter
	thresholds func() Thresholds
	scanWindow int
	log        logx.Logger
}

func NewBatcher(cfg Config, store storage.EventStore, refs *ephemeral.ShortRefStore, adapter kit.Adapter, thresholds func() Thresholds, log logx.Logger) *Batcher {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = 200
	}
	if thresholds == nil {
		thresholds = DefaultThresholds
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Batcher{
		store:      store,
		refs:       refs,
		adapter:    adapter,
		thresholds: thresholds,
		scanWindow: cfg.ScanWindow,
		log:        log,
	}
}

// BuildDigest returns up to limit pending events that classify to pri, in
// the scan's original order. System-originated events are excluded so the
// assistant never nags the user about its own bookkeeping.
func (b *Batcher) BuildDigest(ctx context.Context, pri Priority, limit int) ([]storage.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	events, err := b.store.ListPending(ctx, b.scanWindow)
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}

	th := b.thresholds()
	now := time.Now()
	out := make([]storage.Event, 0, limit)
	for _, ev := range events {
		if ev.Source == storage.SourceSystem {
			continue
		}
		if Classify(ev, now, th) != pri {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SendDigest formats one message for the given events, dispatches it, and
// marks the whole batch notified with a conditional update. The returned
// count is how many events were actually newly marked; a retried job that
// hits already-sent events reports 0 instead of double-counting them.
// An empty batch is a no-op, not an error.
func (b *Batcher) SendDigest(ctx context.Context, pri Priority, events []storage.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	st := b.adapter.Status()
	if !st.Ready || st.OwnerChatID == 0 {
		return 0, ErrAdapterNotReady
	}

	ids := make([]string, 0, len(events))
	names := make(map[int64]string, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
		if _, ok := names[ev.ChatID]; !ok {
			name, err := b.store.ContactName(ctx, ev.ChatID)
			if err == nil && name != "" {
				names[ev.ChatID] = name
			}
		}
	}

	token, err := b.refs.Put(ids)
	if err != nil {
		return 0, fmt.Errorf("short ref: %w", err)
	}
	buttons, err := ConfirmRejectButtons(token)
	if err != nil {
		return 0, err
	}

	text := FormatDigest(pri, events, names)
	if _, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: st.OwnerChatID}, text, &kit.SendOptions{
		DisablePreview: true,
		Buttons:        buttons,
	}); err != nil {
		// Send failed: leave notification_sent_at untouched so a retry
		// re-attempts delivery.
		return 0, fmt.Errorf("send digest: %w", err)
	}

	marked, err := b.store.MarkNotifiedBatch(ctx, ids, time.Now())
	if err != nil {
		return 0, fmt.Errorf("mark batch: %w", err)
	}
	if marked < len(ids) {
		b.log.Debug("digest included already-notified events",
			logx.Int("batch", len(ids)), logx.Int("newly_marked", marked))
	}
	return marked, nil
}
