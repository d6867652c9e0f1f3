// Package router turns inbound chat updates into calls on the interactive
// services and keeps the on-screen messages in sync via in-place edits.
// Every callback click gets answered, even when the referenced state has
// already expired.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/approval"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/brief"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/carousel"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/eventbus"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/notify"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

// Callback action codes. The packed form "<action>:<payload>" must fit the
// platform's callback budget; keys and tokens are short by construction.
const (
	actionConfirm = notify.ActionConfirm
	actionReject  = notify.ActionReject

	actionBriefExpand   = "bexp"
	actionBriefCollapse = "bcol"
	actionBriefDone     = "bdone"
	actionBriefDismiss  = "bdis"
	actionBriefAction   = "bact"

	actionCarouselNext    = "cnext"
	actionCarouselPrev    = "cprev"
	actionCarouselConfirm = "cok"
	actionCarouselReject  = "crej"
)

// Bus topics the router publishes for upstream collaborators.
const (
	TopicBriefAction    = "brief.action"
	TopicApprovalRegen  = "approval.regenerate"
	TopicEventConfirmed = "event.confirmed"
	TopicEventRejected  = "event.rejected"
)

const expiredNotice = "No longer available"

type Router struct {
	store     storage.EventStore
	refs      *ephemeral.ShortRefStore
	briefs    *brief.Service
	carousels *carousel.Engine
	approvals *approval.Broker
	adapter   kit.Adapter
	bus       eventbus.Bus
	log       logx.Logger

	mu      sync.Mutex
	editing map[int64]string // chat -> approval awaiting replacement text
}

func New(store storage.EventStore, refs *ephemeral.ShortRefStore, briefs *brief.Service, carousels *carousel.Engine, approvals *approval.Broker, adapter kit.Adapter, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store:     store,
		refs:      refs,
		briefs:    briefs,
		carousels: carousels,
		approvals: approvals,
		adapter:   adapter,
		bus:       bus,
		log:       log,
		editing:   map[int64]string{},
	}
}

// Run consumes updates until the channel closes or ctx is cancelled.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			r.Handle(ctx, u)
		}
	}
}

func (r *Router) Handle(ctx context.Context, u kit.Update) {
	switch u.Kind {
	case kit.UpdateCallback:
		if u.Callback != nil {
			r.handleCallback(ctx, u.Callback)
		}
	case kit.UpdateMessage:
		if u.Message != nil {
			r.handleMessage(ctx, u.Message)
		}
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	action, payload, _ := strings.Cut(cb.Data, ":")

	var notice string
	var err error
	switch action {
	case actionConfirm:
		notice, err = r.eventVerdict(ctx, cb, payload, true)
	case actionReject:
		notice, err = r.eventVerdict(ctx, cb, payload, false)

	case actionBriefExpand, actionBriefCollapse, actionBriefDone, actionBriefDismiss, actionBriefAction:
		notice, err = r.briefAction(ctx, cb, action, payload)

	case actionCarouselNext, actionCarouselPrev, actionCarouselConfirm, actionCarouselReject:
		notice, err = r.carouselAction(ctx, cb, action, payload)

	case approval.CallbackApprove, approval.CallbackReject, approval.CallbackEdit, approval.CallbackSetMode, approval.CallbackRegenerate:
		notice, err = r.approvalAction(ctx, cb, action, payload)

	default:
		r.log.Debug("unknown callback action", logx.String("action", action))
		notice = expiredNotice
	}

	if err != nil {
		if isExpired(err) {
			notice = expiredNotice
		} else {
			r.log.Warn("callback handling failed", logx.String("action", action), logx.Err(err))
			notice = "Something went wrong"
		}
	}
	if err := r.adapter.AnswerCallback(ctx, cb.ID, notice); err != nil {
		r.log.Debug("answer callback failed", logx.Err(err))
	}
}

func isExpired(err error) bool {
	return errors.Is(err, ephemeral.ErrNotFound) ||
		errors.Is(err, approval.ErrNotFound) ||
		errors.Is(err, storage.ErrNotFound)
}

// eventVerdict resolves a short-ref token into event ids and records the
// user's confirm/reject on each of them.
func (r *Router) eventVerdict(ctx context.Context, cb *kit.Callback, token string, confirmed bool) (string, error) {
	ids, err := r.refs.Get(token)
	if err != nil {
		return "", err
	}

	st := storage.StatusConfirmed
	topic := TopicEventConfirmed
	if !confirmed {
		st = storage.StatusRejected
		topic = TopicEventRejected
	}
	for _, id := range ids {
		if err := r.store.SetStatus(ctx, id, st); err != nil {
			// Keep going; a missing row must not strand the rest of a digest.
			r.log.Warn("set status failed", logx.String("event", id), logx.Err(err))
			continue
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Topic: topic, Time: time.Now(), Data: id})
		}
	}
	r.refs.Delete(token)

	text := "✅ Confirmed"
	if !confirmed {
		text = "❌ Rejected"
	}
	if len(ids) > 1 {
		text = fmt.Sprintf("%s (%d items)", text, len(ids))
	}
	r.editOrLog(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, text, nil)
	return text, nil
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	r.mu.Lock()
	id, ok := r.editing[m.ChatID]
	if ok {
		delete(r.editing, m.ChatID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	ap, err := r.approvals.HandleAction(ctx, id, approval.ActionUpdateText, m.Text)
	if err != nil {
		if isExpired(err) {
			r.log.Debug("edit arrived for expired approval", logx.String("approval", id))
			return
		}
		r.log.Warn("apply edited text failed", logx.String("approval", id), logx.Err(err))
		return
	}
	r.editOrLog(ctx, ap.Message, approval.RenderPrompt(ap), approval.Buttons(ap))
}

func (r *Router) editOrLog(ctx context.Context, ref kit.MessageRef, text string, buttons [][]kit.Button) {
	var opt *kit.SendOptions
	if buttons != nil {
		opt = &kit.SendOptions{DisablePreview: true, Buttons: buttons}
	}
	if err := r.adapter.EditText(ctx, ref, text, opt); err != nil {
		r.log.Debug("message edit failed", logx.Int("message", ref.MessageID), logx.Err(err))
	}
}

func parseIndexed(payload string) (key string, idx int, err error) {
	key, rest, ok := strings.Cut(payload, ":")
	if !ok {
		return "", 0, fmt.Errorf("router: malformed payload %q", payload)
	}
	idx, err = strconv.Atoi(rest)
	if err != nil {
		return "", 0, fmt.Errorf("router: bad index in %q: %w", payload, err)
	}
	return key, idx, nil
}
