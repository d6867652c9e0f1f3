// Package jobs runs notification work on a bounded worker pool with
// bounded retries, decoupling the scheduler's ticks from chat-platform
// latency.
package jobs

import (
	"errors"
	"time"
)

// Kind identifies what a job does. Handlers are registered per kind.
type Kind string

const (
	// KindSingleEvent delivers the notification for one event.
	KindSingleEvent Kind = "single_event"
	// KindHighSweep scans pending events and fans out KindSingleEvent jobs
	// for the high-priority ones.
	KindHighSweep Kind = "high_sweep"
	// KindHourlyDigest batches medium-priority pending events.
	KindHourlyDigest Kind = "hourly_digest"
	// KindDailyDigest batches low-priority pending events.
	KindDailyDigest Kind = "daily_digest"
	// KindMorningBrief assembles and sends the interactive morning brief.
	KindMorningBrief Kind = "morning_brief"
	// KindExpirySweep marks stale pending events expired.
	KindExpirySweep Kind = "expiry_sweep"
)

// Job is one unit of work. EventID is set only for KindSingleEvent.
// Attempt counts retries consumed so far; a failed run goes back on the
// queue with Attempt incremented instead of occupying its worker.
type Job struct {
	ID         string
	Kind       Kind
	EventID    string
	Attempt    int
	EnqueuedAt time.Time
}

// JobEvent is the payload published on the job.* bus topics.
type JobEvent struct {
	ID       string
	Kind     Kind
	Started  time.Time
	Duration time.Duration
	Attempts int
	Error    string
}

// Bus topics for job lifecycle events.
const (
	TopicStarted  = "job.started"
	TopicFinished = "job.finished"
	TopicFailed   = "job.failed"
)

var (
	ErrQueueFull   = errors.New("jobs: queue full")
	ErrNotStarted  = errors.New("jobs: service not started")
	ErrUnknownKind = errors.New("jobs: no handler for kind")
)

type Config struct {
	Workers  int
	Queue    int
	RetryMax int
	// RetryBase doubles per attempt up to RetryMaxDelay, with
	// +/-RetryJitter applied to spread concurrent retries.
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Queue <= 0 {
		c.Queue = 64
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	return c
}
