package router

import (
	"context"
	"fmt"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/brief"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/eventbus"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
)

func (r *Router) briefAction(ctx context.Context, cb *kit.Callback, action, payload string) (string, error) {
	var (
		st     brief.State
		key    string
		notice string
		err    error
	)

	switch action {
	case actionBriefCollapse:
		key = payload
		st, err = r.briefs.Collapse(key)

	case actionBriefExpand:
		var idx int
		key, idx, err = parseIndexed(payload)
		if err != nil {
			return "", err
		}
		st, err = r.briefs.Expand(key, idx)

	case actionBriefDone:
		var idx int
		key, idx, err = parseIndexed(payload)
		if err != nil {
			return "", err
		}
		st, err = r.briefs.MarkDone(ctx, key, idx)
		notice = "Done ✅"

	case actionBriefDismiss:
		var idx int
		key, idx, err = parseIndexed(payload)
		if err != nil {
			return "", err
		}
		st, err = r.briefs.MarkDismissed(ctx, key, idx)
		notice = "Dismissed"

	case actionBriefAction:
		key, idx, perr := parseIndexed(payload)
		if perr != nil {
			return "", perr
		}
		item, aerr := r.briefs.TriggerAction(key, idx)
		if aerr != nil {
			return "", aerr
		}
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Topic: TopicBriefAction, Time: time.Now(), Data: item})
		}
		return fmt.Sprintf("Working on: %s", item.Title), nil
	}
	if err != nil {
		return "", err
	}

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if len(st.Items) == 0 {
		r.briefs.Delete(key)
		r.editOrLog(ctx, ref, "☀️ Brief complete, nothing left for today", nil)
		return "All done ✅", nil
	}
	r.editOrLog(ctx, ref, brief.Render(st), BriefButtons(key, st))
	return notice, nil
}

// BriefButtons builds the accordion keyboard: one expand button per item
// while collapsed; verdict buttons plus collapse for the expanded item.
func BriefButtons(key string, st brief.State) [][]kit.Button {
	if st.ExpandedIdx == nil {
		rows := make([][]kit.Button, 0, len(st.Items))
		for i, it := range st.Items {
			rows = append(rows, []kit.Button{{
				Text: "▶ " + it.Title,
				Data: fmt.Sprintf("%s:%s:%d", actionBriefExpand, key, i),
			}})
		}
		return rows
	}

	idx := *st.ExpandedIdx
	return [][]kit.Button{
		{
			{Text: "✅ Done", Data: fmt.Sprintf("%s:%s:%d", actionBriefDone, key, idx)},
			{Text: "🚫 Dismiss", Data: fmt.Sprintf("%s:%s:%d", actionBriefDismiss, key, idx)},
		},
		{
			{Text: "⚡ Act", Data: fmt.Sprintf("%s:%s:%d", actionBriefAction, key, idx)},
			{Text: "▲ Collapse", Data: fmt.Sprintf("%s:%s", actionBriefCollapse, key)},
		},
	}
}

// StartBrief sends the morning brief message and binds its interactive
// state to it. Returns the brief key.
func (r *Router) StartBrief(ctx context.Context, to kit.ChatTarget, items []brief.Item) (string, error) {
	ref, err := r.adapter.SendText(ctx, to, "☀️ Preparing your brief…", nil)
	if err != nil {
		return "", err
	}
	key, err := r.briefs.Create(items, ref)
	if err != nil {
		return "", err
	}
	st, err := r.briefs.Get(key)
	if err != nil {
		return "", err
	}
	r.editOrLog(ctx, ref, brief.Render(st), BriefButtons(key, st))
	return key, nil
}
