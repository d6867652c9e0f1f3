package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/brief"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/jobs"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/notify"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

func (a *App) registerHandlers(scanWindow int) {
	if scanWindow <= 0 {
		scanWindow = 200
	}
	a.pool.Register(jobs.KindHighSweep, a.highSweep(scanWindow))
	a.pool.Register(jobs.KindSingleEvent, a.singleEvent)
	a.pool.Register(jobs.KindHourlyDigest, a.digest(notify.PriorityMedium, func() int { return a.snapshotLimits().hourly }))
	a.pool.Register(jobs.KindDailyDigest, a.digest(notify.PriorityLow, func() int { return a.snapshotLimits().daily }))
	a.pool.Register(jobs.KindMorningBrief, a.morningBrief(scanWindow))
	a.pool.Register(jobs.KindExpirySweep, a.expirySweep)
}

type limits struct {
	hourly int
	daily  int
}

func (a *App) snapshotLimits() limits {
	a.thmu.Lock()
	defer a.thmu.Unlock()
	return limits{hourly: a.hourlyLimit, daily: a.dailyLimit}
}

// highSweep fans out one delivery job per high-priority pending event.
// Delivery itself stays in singleEvent so each send gets its own retry
// budget.
func (a *App) highSweep(scanWindow int) jobs.Handler {
	return func(ctx context.Context, _ jobs.Job) error {
		pending, err := a.store.ListPending(ctx, scanWindow)
		if err != nil {
			return err
		}
		now := time.Now()
		th := a.thresholds()
		enqueued := 0
		for _, ev := range pending {
			if ev.Source == storage.SourceSystem {
				continue
			}
			if notify.Classify(ev, now, th) != notify.PriorityHigh {
				continue
			}
			err := a.pool.Enqueue(jobs.Job{Kind: jobs.KindSingleEvent, EventID: ev.ID})
			if errors.Is(err, jobs.ErrQueueFull) {
				// The rest will be picked up by the next sweep.
				a.log.Warn("high sweep truncated, queue full", logx.Int("enqueued", enqueued))
				return nil
			}
			if err != nil {
				return err
			}
			enqueued++
		}
		if enqueued > 0 {
			a.log.Debug("high sweep fanned out", logx.Int("events", enqueued))
		}
		return nil
	}
}

func (a *App) singleEvent(ctx context.Context, job jobs.Job) error {
	ev, err := a.store.GetEvent(ctx, job.EventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.log.Debug("event vanished before delivery", logx.String("event", job.EventID))
			return nil
		}
		return err
	}
	// The sweep races user responses and other workers; anything no longer
	// pending-and-unsent is simply done.
	if ev.Status != storage.StatusPending || ev.NotificationSentAt != nil {
		return nil
	}
	return a.dispatcher.Notify(ctx, ev)
}

func (a *App) digest(pri notify.Priority, limit func() int) jobs.Handler {
	return func(ctx context.Context, _ jobs.Job) error {
		batch, err := a.batcher.BuildDigest(ctx, pri, limit())
		if err != nil {
			return err
		}
		sent, err := a.batcher.SendDigest(ctx, pri, batch)
		if err != nil {
			return err
		}
		if sent > 0 {
			a.log.Info("digest sent", logx.String("priority", string(pri)), logx.Int("events", sent))
		}
		return nil
	}
}

// morningBrief assembles today's interactive brief from pending events. An
// empty day sends nothing.
func (a *App) morningBrief(scanWindow int) jobs.Handler {
	return func(ctx context.Context, _ jobs.Job) error {
		st := a.adapter.Status()
		if !st.Ready || st.OwnerChatID == 0 {
			return notify.ErrAdapterNotReady
		}

		pending, err := a.store.ListPending(ctx, scanWindow)
		if err != nil {
			return err
		}
		items := buildBriefItems(pending, time.Now())
		if len(items) == 0 {
			a.log.Debug("morning brief empty, skipping")
			return nil
		}

		to := kit.ChatTarget{ChatID: st.OwnerChatID}
		if _, err := a.adapter.SendText(ctx, to, notify.FormatMorningBrief(time.Now(), len(items)), nil); err != nil {
			return err
		}
		key, err := a.routes.StartBrief(ctx, to, items)
		if err != nil {
			return err
		}
		a.log.Info("morning brief sent", logx.String("brief", key), logx.Int("items", len(items)))
		return nil
	}
}

// buildBriefItems picks what belongs in the daily review: today's meetings,
// open tasks, promises with a deadline, and fresh facts.
func buildBriefItems(pending []storage.Event, now time.Time) []brief.Item {
	var items []brief.Item
	for _, ev := range pending {
		if ev.Source == storage.SourceSystem {
			continue
		}
		switch ev.Type {
		case storage.TypeMeeting:
			if ev.StartAt == nil || !sameDay(*ev.StartAt, now) {
				continue
			}
			items = append(items, brief.Item{
				Kind:     brief.KindEvent,
				SourceID: ev.ID,
				Title:    notify.EventTitle(ev),
				Details:  "🕐 " + ev.StartAt.Format("15:04"),
			})
		case storage.TypeTask:
			items = append(items, brief.Item{
				Kind:     brief.KindTask,
				SourceID: ev.ID,
				Title:    notify.EventTitle(ev),
				Details:  deadlineDetails(ev),
			})
		case storage.TypePromiseByMe, storage.TypePromiseByThem:
			if strings.TrimSpace(ev.Deadline) == "" {
				continue
			}
			items = append(items, brief.Item{
				Kind:     brief.KindEvent,
				SourceID: ev.ID,
				Title:    notify.EventTitle(ev),
				Details:  deadlineDetails(ev),
			})
		case storage.TypeFact:
			items = append(items, brief.Item{
				Kind:     brief.KindFact,
				SourceID: ev.ID,
				Title:    notify.EventTitle(ev),
			})
		}
	}
	return items
}

func deadlineDetails(ev storage.Event) string {
	if d := strings.TrimSpace(ev.Deadline); d != "" {
		return "⏳ due " + d
	}
	return ""
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

func (a *App) expirySweep(ctx context.Context, _ jobs.Job) error {
	a.thmu.Lock()
	cutoffAge := a.expireAfter
	a.thmu.Unlock()
	if cutoffAge < defaultExpireAfter {
		cutoffAge = defaultExpireAfter
	}

	n, err := a.store.ExpirePending(ctx, time.Now().Add(-cutoffAge))
	if err != nil {
		return fmt.Errorf("expire pending: %w", err)
	}
	if n > 0 {
		a.log.Info("expired stale events", logx.Int("count", n))
	}
	return nil
}
