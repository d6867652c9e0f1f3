package jobs

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/eventbus"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

// Handler executes one job. A returned error puts the job back on the
// queue with backoff, up to the configured attempt limit.
type Handler func(ctx context.Context, job Job) error

type Service struct {
	cfg Config
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	handlers map[Kind]Handler
	queue    chan Job
	stopCh   chan struct{}
	timers   map[string]*time.Timer
	wg       sync.WaitGroup
	started  bool
	stopped  bool
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		bus:      bus,
		log:      log,
		handlers: make(map[Kind]Handler),
	}
}

// Register binds a handler to a kind. Must be called before Start.
func (s *Service) Register(kind Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.queue = make(chan Job, s.cfg.Queue)
	s.stopCh = make(chan struct{})
	s.timers = make(map[string]*time.Timer)
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.log.Info("job workers started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.Queue))
}

// Enqueue submits a job without blocking. A full queue is reported to the
// caller instead of stalling the scheduler tick that produced the job.
func (s *Service) Enqueue(job Job) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := s.handlers[job.Kind]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}
	q := s.queue
	s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = time.Now()

	select {
	case q <- job:
		return nil
	default:
		s.log.Warn("job dropped, queue full", logx.String("kind", string(job.Kind)), logx.String("job", job.ID))
		return ErrQueueFull
	}
}

// Stop lets in-flight jobs finish and waits for the workers, bounded by ctx.
// Queued but unstarted jobs and pending retries are dropped; the schedules
// that produced them will produce them again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	for key, tmr := range s.timers {
		tmr.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) worker(ctx context.Context, idx int) {
	defer s.wg.Done()
	// Per-worker RNG: avoids global lock contention when many jobs retry concurrently.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case job := <-s.queue:
			s.execOne(ctx, job, rng)
		}
	}
}

func (s *Service) execOne(ctx context.Context, job Job, rng *rand.Rand) {
	s.mu.Lock()
	h := s.handlers[job.Kind]
	s.mu.Unlock()
	if h == nil {
		s.log.Error("job has no handler", logx.String("kind", string(job.Kind)))
		return
	}

	start := time.Now()
	attempt := job.Attempt + 1
	if job.Attempt == 0 {
		s.log.Debug("job.started", logx.String("kind", string(job.Kind)), logx.String("job", job.ID))
		s.publish(TopicStarted, JobEvent{ID: job.ID, Kind: job.Kind, Started: start})
	}

	var err error
	// Guard against handler panics so one bad job can't kill a worker.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job.panic", logx.String("kind", string(job.Kind)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = h(ctx, job)
	}()

	dur := time.Since(start)
	if err == nil {
		s.log.Debug("job.finished", logx.String("kind", string(job.Kind)), logx.Duration("dur", dur), logx.Int("attempts", attempt))
		s.publish(TopicFinished, JobEvent{ID: job.ID, Kind: job.Kind, Started: start, Duration: dur, Attempts: attempt})
		return
	}
	if attempt <= s.cfg.RetryMax && ctx.Err() == nil {
		s.scheduleRetry(job, s.backoffDelay(attempt, rng), err)
		return
	}
	s.log.Warn("job.failed", logx.String("kind", string(job.Kind)), logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempt))
	s.publish(TopicFailed, JobEvent{ID: job.ID, Kind: job.Kind, Started: start, Duration: dur, Attempts: attempt, Error: err.Error()})
}

// scheduleRetry puts the job back on the queue after the backoff delay so
// the worker is free for other jobs in the meantime.
func (s *Service) scheduleRetry(job Job, delay time.Duration, cause error) {
	next := job
	next.Attempt++
	s.log.Debug("job retry scheduled", logx.String("kind", string(next.Kind)), logx.Int("attempt", next.Attempt+1), logx.Duration("delay", delay), logx.Err(cause))

	key := next.ID + "#" + strconv.Itoa(next.Attempt)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		stopped := s.stopped
		q := s.queue
		s.mu.Unlock()
		if stopped {
			return
		}
		select {
		case q <- next:
		default:
			s.log.Warn("retry dropped, queue full", logx.String("kind", string(next.Kind)), logx.String("job", next.ID))
			s.publish(TopicFailed, JobEvent{ID: next.ID, Kind: next.Kind, Attempts: next.Attempt, Error: cause.Error()})
		}
	})
}

func (s *Service) backoffDelay(retry int, rng *rand.Rand) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	if s.cfg.RetryJitter > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * s.cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
		if d < 0 {
			d = 0
		}
	}
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	return d
}

func (s *Service) publish(topic string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Time: time.Now(), Data: ev})
}
