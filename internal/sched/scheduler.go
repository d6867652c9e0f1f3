// Package sched drives the notification cadence. Cron entries do nothing
// but enqueue jobs; all real work, including retries, happens on the jobs
// worker pool.
package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/jobs"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

type Config struct {
	Timezone string

	// Cron specs, 5-field or 6-field with seconds.
	HighSweepSpec    string
	HourlyDigestSpec string
	DailyDigestSpec  string
	MorningBriefSpec string
	ExpirySweepSpec  string
}

func (c Config) withDefaults() Config {
	if c.HighSweepSpec == "" {
		c.HighSweepSpec = "*/5 * * * *"
	}
	if c.HourlyDigestSpec == "" {
		c.HourlyDigestSpec = "0 * * * *"
	}
	if c.DailyDigestSpec == "" {
		c.DailyDigestSpec = "0 20 * * *"
	}
	if c.MorningBriefSpec == "" {
		c.MorningBriefSpec = "0 9 * * *"
	}
	if c.ExpirySweepSpec == "" {
		c.ExpirySweepSpec = "30 3 * * *"
	}
	return c
}

// Enqueuer is the jobs side the scheduler talks to.
type Enqueuer interface {
	Enqueue(job jobs.Job) error
}

type Service struct {
	cfg    Config
	queue  Enqueuer
	log    logx.Logger
	parser cron.Parser

	mu sync.Mutex
	c  *cron.Cron
}

func New(cfg Config, queue Enqueuer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		queue: queue,
		log:   log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("sched: load timezone %q: %w", tz, err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	entries := []struct {
		spec string
		kind jobs.Kind
	}{
		{s.cfg.HighSweepSpec, jobs.KindHighSweep},
		{s.cfg.HourlyDigestSpec, jobs.KindHourlyDigest},
		{s.cfg.DailyDigestSpec, jobs.KindDailyDigest},
		{s.cfg.MorningBriefSpec, jobs.KindMorningBrief},
		{s.cfg.ExpirySweepSpec, jobs.KindExpirySweep},
	}
	for _, e := range entries {
		if _, err := c.AddJob(e.spec, s.trigger(e.kind)); err != nil {
			return fmt.Errorf("sched: schedule %s (%q): %w", e.kind, e.spec, err)
		}
	}

	s.c = c
	c.Start()
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", len(entries)))
	return nil
}

func (s *Service) trigger(kind jobs.Kind) cron.Job {
	return cron.FuncJob(func() {
		if err := s.queue.Enqueue(jobs.Job{Kind: kind}); err != nil {
			// A full queue means the workers are behind; the next tick
			// will enqueue again.
			if errors.Is(err, jobs.ErrQueueFull) {
				s.log.Warn("schedule tick dropped", logx.String("kind", string(kind)))
				return
			}
			s.log.Error("schedule enqueue failed", logx.String("kind", string(kind)), logx.Err(err))
		}
	})
}

// Stop halts triggering and waits for any running trigger callbacks,
// bounded by ctx. Jobs already enqueued keep running on the pool.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}
