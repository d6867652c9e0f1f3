package router

import (
	"context"
	"fmt"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/notify"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

func (r *Router) carouselAction(ctx context.Context, cb *kit.Callback, action, key string) (string, error) {
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch action {
	case actionCarouselNext:
		ev, ok, err := r.carousels.Next(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok {
			return r.finishCarousel(ctx, key, ref)
		}
		return "", r.renderCarousel(ctx, key, ev, ref)

	case actionCarouselPrev:
		ev, ok, err := r.carousels.Prev(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok {
			return r.finishCarousel(ctx, key, ref)
		}
		return "", r.renderCarousel(ctx, key, ev, ref)

	case actionCarouselConfirm, actionCarouselReject:
		ev, ok, err := r.carousels.Current(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok {
			return r.finishCarousel(ctx, key, ref)
		}

		st := storage.StatusConfirmed
		notice := "✅"
		if action == actionCarouselReject {
			st = storage.StatusRejected
			notice = "❌"
		}
		if err := r.store.SetStatus(ctx, ev.ID, st); err != nil {
			return "", err
		}
		if err := r.carousels.MarkProcessed(key, ev.ID); err != nil {
			return "", err
		}

		next, ok, err := r.carousels.Next(ctx, key)
		if err != nil {
			return "", err
		}
		if !ok {
			if _, err := r.finishCarousel(ctx, key, ref); err != nil {
				return "", err
			}
			return notice, nil
		}
		return notice, r.renderCarousel(ctx, key, next, ref)
	}
	return "", fmt.Errorf("router: unknown carousel action %q", action)
}

func (r *Router) finishCarousel(ctx context.Context, key string, ref kit.MessageRef) (string, error) {
	r.carousels.Delete(key)
	r.editOrLog(ctx, ref, "🎠 All items reviewed", nil)
	return "All reviewed ✅", nil
}

func (r *Router) renderCarousel(ctx context.Context, key string, ev storage.Event, ref kit.MessageRef) error {
	st, err := r.carousels.Get(key)
	if err != nil {
		return err
	}
	name, err := r.store.ContactName(ctx, ev.ChatID)
	if err != nil {
		r.log.Debug("contact lookup failed", logx.Int64("chat", ev.ChatID), logx.Err(err))
	}

	pos := fmt.Sprintf("%d/%d", st.CurrentIdx+1, len(st.EventIDs))
	text := fmt.Sprintf("🎠 %s\n\n%s", pos, notify.FormatEvent(ev, name))
	r.editOrLog(ctx, ref, text, CarouselButtons(key))
	return nil
}

// CarouselButtons builds the review keyboard. The same four buttons apply to
// whichever item is current.
func CarouselButtons(key string) [][]kit.Button {
	return [][]kit.Button{
		{
			{Text: "✅ Confirm", Data: actionCarouselConfirm + ":" + key},
			{Text: "❌ Reject", Data: actionCarouselReject + ":" + key},
		},
		{
			{Text: "◀ Prev", Data: actionCarouselPrev + ":" + key},
			{Text: "Next ▶", Data: actionCarouselNext + ":" + key},
		},
	}
}

// StartCarousel sends a review message and binds a fresh carousel to it.
// Returns the carousel key.
func (r *Router) StartCarousel(ctx context.Context, to kit.ChatTarget, eventIDs []string) (string, error) {
	ref, err := r.adapter.SendText(ctx, to, "🎠 Loading review…", nil)
	if err != nil {
		return "", err
	}
	key, err := r.carousels.Create(eventIDs, ref)
	if err != nil {
		return "", err
	}
	ev, ok, err := r.carousels.Current(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		_, err := r.finishCarousel(ctx, key, ref)
		return key, err
	}
	return key, r.renderCarousel(ctx, key, ev, ref)
}
