// Package app wires the services together and owns startup and shutdown
// ordering.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/approval"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/brief"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/carousel"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/config"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/ephemeral"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/eventbus"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/jobs"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/notify"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/router"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/sched"
	"github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/storage"
	kit "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport"
	telegram "github.com/mityayka1/Personal-Knowledge-Graph-sub002/internal/transport/telegram"
	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

const defaultExpireAfter = 7 * 24 * time.Hour

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.EventStore
	eph     *ephemeral.Store
	refs    *ephemeral.ShortRefStore
	adapter *telegram.Adapter

	dispatcher *notify.Dispatcher
	batcher    *notify.Batcher
	briefs     *brief.Service
	carousels  *carousel.Engine
	broker     *approval.Broker
	pool       *jobs.Service
	cron       *sched.Service
	routes     *router.Router

	// live settings swapped on config reload
	thmu        sync.Mutex
	th          notify.Thresholds
	hourlyLimit int
	dailyLimit  int
	expireAfter time.Duration

	// prev is the last config actually applied, for change summaries; the
	// manager's Get() already holds the new one by reload time.
	prev *config.Config

	updates  chan kit.Update
	cancelBg context.CancelFunc
	bg       sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logSvc, log: log, bus: eventbus.New(), prev: cfg}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		OwnerChatID: cfg.Telegram.OwnerChatID,
		PollTimeout: pollTimeout,
	}, a.log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = adapter

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store

	if a.eph, err = buildEphemeralStore(cfg.Ephemeral); err != nil {
		return err
	}
	a.refs = ephemeral.NewShortRefStore(a.eph)

	if err := a.applyTunables(cfg); err != nil {
		return err
	}

	a.dispatcher = notify.NewDispatcher(notify.Config{
		RatePerSec: cfg.Notify.RatePerSec,
		ScanWindow: cfg.Notify.ScanWindow,
	}, store, a.refs, adapter, a.log.With(logx.String("comp", "notify")))
	a.batcher = notify.NewBatcher(notify.Config{
		ScanWindow: cfg.Notify.ScanWindow,
	}, store, a.refs, adapter, a.thresholds, a.log.With(logx.String("comp", "digest")))

	a.briefs = brief.NewService(a.eph, store, a.log.With(logx.String("comp", "brief")))
	a.carousels = carousel.NewEngine(a.eph, store, a.log.With(logx.String("comp", "carousel")))

	approvalTimeout, err := config.ParseDurationOrDefault("approval.timeout", cfg.Approval.Timeout, 2*time.Minute)
	if err != nil {
		return err
	}
	a.broker = approval.NewBroker(approval.Config{Timeout: approvalTimeout}, a.eph, a.bus, adapter,
		a.log.With(logx.String("comp", "approval")))

	poolCfg, err := mapJobsConfig(cfg.Jobs)
	if err != nil {
		return err
	}
	a.pool = jobs.New(poolCfg, a.bus, a.log.With(logx.String("comp", "jobs")))
	a.registerHandlers(cfg.Notify.ScanWindow)

	a.cron = sched.New(sched.Config{
		Timezone:         cfg.Schedules.Timezone,
		HighSweepSpec:    cfg.Schedules.HighSweep,
		HourlyDigestSpec: cfg.Schedules.HourlyDigest,
		DailyDigestSpec:  cfg.Schedules.DailyDigest,
		MorningBriefSpec: cfg.Schedules.MorningBrief,
		ExpirySweepSpec:  cfg.Schedules.ExpirySweep,
	}, a.pool, a.log.With(logx.String("comp", "sched")))

	a.routes = router.New(store, a.refs, a.briefs, a.carousels, a.broker, adapter, a.bus,
		a.log.With(logx.String("comp", "router")))
	return nil
}

func buildEphemeralStore(ec config.EphemeralConfig) (*ephemeral.Store, error) {
	st := ephemeral.NewStore()
	if ec.MaxEntries > 0 {
		st.WithMax(ec.MaxEntries)
	}
	for _, binding := range []struct {
		path string
		raw  string
		ns   string
		def  time.Duration
	}{
		{"ephemeral.brief_ttl", ec.BriefTTL, ephemeral.NamespaceBrief, 48 * time.Hour},
		{"ephemeral.carousel_ttl", ec.CarouselTTL, ephemeral.NamespaceCarousel, 24 * time.Hour},
		{"ephemeral.approval_ttl", ec.ApprovalTTL, ephemeral.NamespaceApproval, 2 * time.Minute},
		{"ephemeral.digest_ref_ttl", ec.DigestRefTTL, ephemeral.NamespaceDigestRef, 24 * time.Hour},
	} {
		ttl, err := config.ParseDurationOrDefault(binding.path, binding.raw, binding.def)
		if err != nil {
			return nil, err
		}
		st.WithNamespaceTTL(binding.ns, ttl)
	}
	if ec.DefaultTTL != "" {
		ttl, err := config.ParseDurationField("ephemeral.default_ttl", ec.DefaultTTL)
		if err != nil {
			return nil, err
		}
		st.WithDefaultTTL(ttl)
	}
	return st, nil
}

func mapJobsConfig(jc config.JobsConfig) (jobs.Config, error) {
	base, err := config.ParseDurationField("jobs.retry_base", jc.RetryBase)
	if err != nil {
		return jobs.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("jobs.retry_max_delay", jc.RetryMaxDelay)
	if err != nil {
		return jobs.Config{}, err
	}
	return jobs.Config{
		Workers:       jc.Workers,
		Queue:         jc.QueueSize,
		RetryMax:      jc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		RetryJitter:   jc.RetryJitter,
	}, nil
}

// applyTunables swaps in the settings that take effect without a restart.
func (a *App) applyTunables(cfg *config.Config) error {
	th := notify.DefaultThresholds()
	if cfg.Notify.ConfidenceFloor > 0 {
		th.ConfidenceFloor = cfg.Notify.ConfidenceFloor
	}
	if cfg.Notify.UrgentMeetingWindow != "" {
		w, err := config.ParseDurationField("notify.urgent_meeting_window", cfg.Notify.UrgentMeetingWindow)
		if err != nil {
			return err
		}
		if w > 0 {
			th.UrgentMeetingWindow = w
		}
	}
	expireAfter, err := config.ParseDurationOrDefault("schedules.expire_after", cfg.Schedules.ExpireAfter, defaultExpireAfter)
	if err != nil {
		return err
	}

	a.thmu.Lock()
	a.th = th
	a.hourlyLimit = cfg.Digest.HourlyLimit
	if a.hourlyLimit <= 0 {
		a.hourlyLimit = 10
	}
	a.dailyLimit = cfg.Digest.DailyLimit
	if a.dailyLimit <= 0 {
		a.dailyLimit = 20
	}
	a.expireAfter = expireAfter
	a.thmu.Unlock()
	return nil
}

func (a *App) thresholds() notify.Thresholds {
	a.thmu.Lock()
	defer a.thmu.Unlock()
	return a.th
}

func (a *App) Start(ctx context.Context) error {
	a.updates = make(chan kit.Update, 256)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return fmt.Errorf("start adapter: %w", err)
	}

	a.pool.Start(ctx)
	if err := a.cron.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBg = cancel

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.routes.Run(bgCtx, a.updates)
	}()

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		_ = a.cfgm.Watch(bgCtx)
	}()

	sub := a.cfgm.Subscribe(1)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-bgCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.onReload(cfg)
			}
		}
	}()

	a.log.Info("assistant started")
	return nil
}

// onReload applies the hot-swappable subset of a changed config. Settings
// that need a restart (workers, schedules, telegram token) are logged and
// left as they are.
func (a *App) onReload(cfg *config.Config) {
	changed, attrs := config.SummarizeChange(a.prev, cfg)
	a.prev = cfg
	a.log.Info("applying config change", append(attrs, logx.Any("sections", changed))...)

	if err := a.applyTunables(cfg); err != nil {
		a.log.Warn("config change not applied", logx.Err(err))
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	for _, section := range changed {
		switch section {
		case "telegram", "storage", "jobs", "schedules", "ephemeral":
			a.log.Warn("config section needs restart to take effect", logx.String("section", section))
		}
	}
}

// Stop shuts down in dependency order: stop producing (scheduler), drain the
// workers, release approval waiters, then stop the transport.
func (a *App) Stop(ctx context.Context) error {
	a.cron.Stop(ctx)
	if err := a.pool.Stop(ctx); err != nil {
		a.log.Warn("job pool drain incomplete", logx.Err(err))
	}
	a.broker.Close()

	if a.cancelBg != nil {
		a.cancelBg()
	}
	a.bg.Wait()

	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("assistant stopped")
	return a.logs.Close()
}
