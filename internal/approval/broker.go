// Package approval implements the two-way confirmation protocol: show a
// draft to the user, block the requesting flow until approve/reject arrives
// out of band, or time out.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/eventbus"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

// Callback action codes for approval buttons.
const (
	CallbackApprove    = "aapp"
	CallbackReject     = "arej"
	CallbackEdit       = "aedit"
	CallbackSetMode    = "amode"
	CallbackRegenerate = "aregen"
)

type Config struct {
	// Timeout bounds how long a blocking RequestApproval waits. It should
	// match the approval namespace TTL.
	Timeout time.Duration
}

// Broker resolves waiting callers through per-approval topics on the event
// bus. Each waiter holds a one-shot channel; whichever of click, timeout, or
// shutdown fires first wins, and later resolution attempts are silent
// no-ops.
type Broker struct {
	cfg     Config
	store   *ephemeral.Store
	bus     eventbus.Bus
	adapter kit.Adapter
	log     logx.Logger

	waiters sync.Map // id -> *waiter

	closeOnce sync.Once
	shutdown  chan struct{}
}

type waiter struct {
	ch   chan Result
	once sync.Once
}

func (w *waiter) resolve(r Result) {
	w.once.Do(func() { w.ch <- r })
}

func NewBroker(cfg Config, store *ephemeral.Store, bus eventbus.Bus, adapter kit.Adapter, log logx.Logger) *Broker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broker{
		cfg:      cfg,
		store:    store,
		bus:      bus,
		adapter:  adapter,
		log:      log,
		shutdown: make(chan struct{}),
	}
}

func topicFor(id string) string { return "approval." + id }

// CreateApproval creates a pending approval and shows it to the user,
// returning immediately with the id. For callers that poll Get or are
// event-driven instead of blocking.
func (b *Broker) CreateApproval(ctx context.Context, recipient kit.ChatTarget, text string) (string, error) {
	ap, err := b.create(ctx, recipient, text)
	if err != nil {
		return "", err
	}
	return ap.ID, nil
}

// RequestApproval creates a pending approval, shows it, and blocks until a
// user action resolves it or the timeout elapses, whichever comes first,
// exactly once. Edits do not resolve the waiter; they loop the approval back
// to pending with new text.
func (b *Broker) RequestApproval(ctx context.Context, recipient kit.ChatTarget, text string) (Result, error) {
	ap, err := b.create(ctx, recipient, text)
	if err != nil {
		return "", err
	}
	id := ap.ID

	w := &waiter{ch: make(chan Result, 1)}
	b.waiters.Store(id, w)
	defer b.waiters.Delete(id)

	// Subscribe before any resolution can be published. A nil bus degrades
	// to "approvals always time out" instead of failing the request.
	var subCh <-chan eventbus.Event
	unsub := func() {}
	if b.bus != nil {
		subCh, unsub = b.bus.Subscribe(topicFor(id), 4)
	} else {
		b.log.Warn("approval bus unavailable, request will rely on timeout", logx.String("approval", id))
	}
	defer unsub()

	if subCh != nil {
		go func() {
			for e := range subCh {
				if r, ok := e.Data.(Result); ok {
					w.resolve(r)
					return
				}
			}
		}()
	}

	timer := time.NewTimer(b.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		// The click may have raced the timer; resolve() is one-shot, so
		// reading the channel afterwards yields whichever won.
		w.resolve(ResultTimeout)
	case <-ctx.Done():
		w.resolve(ResultShutdown)
	case <-b.shutdown:
		w.resolve(ResultShutdown)
	case r := <-w.ch:
		return r, nil
	}

	r := <-w.ch
	if r == ResultTimeout {
		b.expire(id)
	}
	return r, nil
}

func (b *Broker) create(ctx context.Context, recipient kit.ChatTarget, text string) (PendingApproval, error) {
	now := time.Now()
	ap := PendingApproval{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Text:      text,
		Status:    StatusPending,
		EditMode:  EditModeDirect,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.Set(ephemeral.NamespaceApproval, ap.ID, ap); err != nil {
		return PendingApproval{}, err
	}

	ref, err := b.display(ctx, ap)
	if err != nil {
		b.store.Delete(ephemeral.NamespaceApproval, ap.ID)
		return PendingApproval{}, fmt.Errorf("show approval: %w", err)
	}
	ap.Message = ref
	if err := b.store.Set(ephemeral.NamespaceApproval, ap.ID, ap); err != nil {
		return PendingApproval{}, err
	}
	return ap, nil
}

func (b *Broker) display(ctx context.Context, ap PendingApproval) (kit.MessageRef, error) {
	st := b.adapter.Status()
	if !st.Ready || st.OwnerChatID == 0 {
		return kit.MessageRef{}, fmt.Errorf("approval: chat adapter not ready")
	}
	return b.adapter.SendText(ctx, kit.ChatTarget{ChatID: st.OwnerChatID}, RenderPrompt(ap), &kit.SendOptions{
		DisablePreview: true,
		Buttons:        Buttons(ap),
	})
}

// Get returns the current approval snapshot; ErrNotFound after expiry.
func (b *Broker) Get(id string) (PendingApproval, error) {
	var ap PendingApproval
	if err := b.store.Get(ephemeral.NamespaceApproval, id, &ap); err != nil {
		return PendingApproval{}, ErrNotFound
	}
	return ap, nil
}

// HandleAction is invoked by the inbound side (button click or typed edit).
// Approve/reject publish the result to the waiter's topic; a resolution
// attempt against an already-terminal approval is a silent no-op, since the
// timeout race and the click race are inherently concurrent.
func (b *Broker) HandleAction(ctx context.Context, id string, action Action, arg string) (PendingApproval, error) {
	_ = ctx
	ap, err := b.Get(id)
	if err != nil {
		return PendingApproval{}, err
	}

	switch action {
	case ActionApprove, ActionReject:
		if ap.Status.Terminal() {
			b.log.Debug("approval already resolved", logx.String("approval", id), logx.String("status", string(ap.Status)))
			return ap, nil
		}
		result := ResultApproved
		ap.Status = StatusApproved
		if action == ActionReject {
			result = ResultRejected
			ap.Status = StatusRejected
		}
		ap.UpdatedAt = time.Now()
		if err := b.store.Set(ephemeral.NamespaceApproval, id, ap); err != nil {
			return PendingApproval{}, err
		}
		b.publish(id, result)
		return ap, nil

	case ActionEdit:
		if ap.Status.Terminal() {
			return ap, nil
		}
		ap.Status = StatusEditing
		ap.UpdatedAt = time.Now()
		return ap, b.store.Set(ephemeral.NamespaceApproval, id, ap)

	case ActionSetEditMode:
		if ap.Status.Terminal() {
			return ap, nil
		}
		mode := EditMode(arg)
		if mode != EditModeDirect && mode != EditModeLLM {
			return PendingApproval{}, fmt.Errorf("approval: unknown edit mode %q", arg)
		}
		ap.EditMode = mode
		ap.UpdatedAt = time.Now()
		return ap, b.store.Set(ephemeral.NamespaceApproval, id, ap)

	case ActionUpdateText:
		if ap.Status.Terminal() {
			return ap, nil
		}
		// New text loops the approval back to pending; the waiter keeps
		// waiting for a verdict on the updated draft.
		ap.Text = arg
		ap.Status = StatusPending
		ap.UpdatedAt = time.Now()
		return ap, b.store.Set(ephemeral.NamespaceApproval, id, ap)

	case ActionRegenerate:
		// Display-only: the router re-renders the current draft.
		return ap, nil

	default:
		return PendingApproval{}, fmt.Errorf("approval: unknown action %q", action)
	}
}

func (b *Broker) publish(id string, r Result) {
	if b.bus == nil {
		return
	}
	// Publishing to a topic with no live subscriber (already resolved or a
	// non-blocking creator) is a drop, not an error.
	if !eventbus.HasSubscribers(b.bus, topicFor(id)) {
		b.log.Debug("approval resolved without waiter", logx.String("approval", id), logx.String("result", string(r)))
	}
	b.bus.Publish(eventbus.Event{Topic: topicFor(id), Data: r})
}

func (b *Broker) expire(id string) {
	ap, err := b.Get(id)
	if err != nil || ap.Status.Terminal() {
		return
	}
	ap.Status = StatusExpired
	ap.UpdatedAt = time.Now()
	if err := b.store.Set(ephemeral.NamespaceApproval, id, ap); err != nil {
		b.log.Warn("approval expire write failed", logx.String("approval", id), logx.Err(err))
	}
}

// Close resolves every still-waiting caller with ResultShutdown so nothing
// is left hanging across process shutdown. Idempotent.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.shutdown)
		b.waiters.Range(func(_, v any) bool {
			if w, ok := v.(*waiter); ok {
				w.resolve(ResultShutdown)
			}
			return true
		})
	})
}

// RenderPrompt formats the approval message shown to the user.
func RenderPrompt(ap PendingApproval) string {
	head := "🤖 Draft ready — send it?"
	if ap.Status == StatusEditing {
		head = "✏️ Editing draft (send new text as a message)"
	}
	return head + "\n\n" + ap.Text
}

// Buttons builds the approval keyboard. While editing, a third row toggles
// how the typed text is applied (verbatim or rewritten by the model).
func Buttons(ap PendingApproval) [][]kit.Button {
	id := ap.ID
	rows := [][]kit.Button{
		{
			{Text: "✅ Send", Data: CallbackApprove + ":" + id},
			{Text: "❌ Discard", Data: CallbackReject + ":" + id},
		},
		{
			{Text: "✏️ Edit", Data: CallbackEdit + ":" + id},
			{Text: "🔁 Again", Data: CallbackRegenerate + ":" + id},
		},
	}
	if ap.Status == StatusEditing {
		direct, llm := "✍️ As typed", "🤖 Rewrite"
		if ap.EditMode == EditModeLLM {
			llm = "• " + llm
		} else {
			direct = "• " + direct
		}
		rows = append(rows, []kit.Button{
			{Text: direct, Data: CallbackSetMode + ":" + id + ":" + string(EditModeDirect)},
			{Text: llm, Data: CallbackSetMode + ":" + id + ":" + string(EditModeLLM)},
		})
	}
	return rows
}
