package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/approval"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/eventbus"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
)

func (r *Router) approvalAction(ctx context.Context, cb *kit.Callback, action, id string) (string, error) {
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch action {
	case approval.CallbackApprove:
		ap, err := r.approvals.HandleAction(ctx, id, approval.ActionApprove, "")
		if err != nil {
			return "", err
		}
		r.editOrLog(ctx, ref, "✅ Approved\n\n"+ap.Text, nil)
		return "Approved ✅", nil

	case approval.CallbackReject:
		ap, err := r.approvals.HandleAction(ctx, id, approval.ActionReject, "")
		if err != nil {
			return "", err
		}
		r.editOrLog(ctx, ref, "❌ Discarded\n\n"+ap.Text, nil)
		return "Discarded", nil

	case approval.CallbackEdit:
		ap, err := r.approvals.HandleAction(ctx, id, approval.ActionEdit, "")
		if err != nil {
			return "", err
		}
		if !ap.Status.Terminal() {
			r.mu.Lock()
			r.editing[cb.ChatID] = id
			r.mu.Unlock()
			r.editOrLog(ctx, ref, approval.RenderPrompt(ap), approval.Buttons(ap))
			return "Send the new text as a message", nil
		}
		return "", nil

	case approval.CallbackSetMode:
		// Payload is "<id>:<mode>" here.
		apID, mode, ok := strings.Cut(id, ":")
		if !ok {
			return "", fmt.Errorf("router: malformed mode payload %q", id)
		}
		ap, err := r.approvals.HandleAction(ctx, apID, approval.ActionSetEditMode, mode)
		if err != nil {
			return "", err
		}
		if !ap.Status.Terminal() {
			r.editOrLog(ctx, ref, approval.RenderPrompt(ap), approval.Buttons(ap))
		}
		return "Edit mode: " + mode, nil

	case approval.CallbackRegenerate:
		ap, err := r.approvals.HandleAction(ctx, id, approval.ActionRegenerate, "")
		if err != nil {
			return "", err
		}
		// The generator listens on the bus and pushes the new draft back
		// through ActionUpdateText.
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Topic: TopicApprovalRegen, Time: time.Now(), Data: ap.ID})
		}
		return "Regenerating…", nil
	}
	return "", nil
}
