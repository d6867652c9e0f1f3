package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	Ephemeral EphemeralConfig `json:"ephemeral,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Digest    DigestConfig    `json:"digest,omitempty"`
	Approval  ApprovalConfig  `json:"approval,omitempty"`
	Jobs      JobsConfig      `json:"jobs,omitempty"`
	Schedules SchedulesConfig `json:"schedules,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerChatID int64  `json:"owner_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// EphemeralConfig sets the per-namespace lifetimes of interactive state.
// All fields are Go duration strings.
type EphemeralConfig struct {
	DefaultTTL   string `json:"default_ttl,omitempty"`
	BriefTTL     string `json:"brief_ttl,omitempty"`
	CarouselTTL  string `json:"carousel_ttl,omitempty"`
	ApprovalTTL  string `json:"approval_ttl,omitempty"`
	DigestRefTTL string `json:"digest_ref_ttl,omitempty"`
	MaxEntries   int    `json:"max_entries,omitempty"`
}

// NotifyConfig controls immediate delivery and priority classification.
type NotifyConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
	ScanWindow int `json:"scan_window,omitempty"`

	// ConfidenceFloor gates which meetings count as urgent (0..1).
	ConfidenceFloor float64 `json:"confidence_floor,omitempty"`
	// UrgentMeetingWindow is a Go duration string.
	UrgentMeetingWindow string `json:"urgent_meeting_window,omitempty"`
}

type DigestConfig struct {
	HourlyLimit int `json:"hourly_limit,omitempty"`
	DailyLimit  int `json:"daily_limit,omitempty"`
}

type ApprovalConfig struct {
	// Timeout is a Go duration string; it should match ephemeral.approval_ttl.
	Timeout string `json:"timeout,omitempty"`
}

// JobsConfig controls the worker pool. Durations are Go duration strings.
type JobsConfig struct {
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	RetryJitter   float64 `json:"retry_jitter,omitempty"`
}

// SchedulesConfig holds the cron specs driving the notification cadence.
type SchedulesConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	HighSweep    string `json:"high_sweep,omitempty"`
	HourlyDigest string `json:"hourly_digest,omitempty"`
	DailyDigest  string `json:"daily_digest,omitempty"`
	MorningBrief string `json:"morning_brief,omitempty"`
	// ExpireAfter is how old a pending event must be before the sweep marks
	// it expired. Minimum one week.
	ExpireAfter string `json:"expire_after,omitempty"`
	ExpirySweep string `json:"expiry_sweep,omitempty"`
}

// Validate checks the fields that cannot be defaulted away.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.OwnerChatID == 0 {
		return fmt.Errorf("telegram.owner_chat_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if f := c.Notify.ConfidenceFloor; f < 0 || f > 1 {
		return fmt.Errorf("notify.confidence_floor must be within [0, 1]")
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":        c.Telegram.PollTimeout,
		"storage.busy_timeout":         c.Storage.BusyTimeout,
		"ephemeral.default_ttl":        c.Ephemeral.DefaultTTL,
		"ephemeral.brief_ttl":          c.Ephemeral.BriefTTL,
		"ephemeral.carousel_ttl":       c.Ephemeral.CarouselTTL,
		"ephemeral.approval_ttl":       c.Ephemeral.ApprovalTTL,
		"ephemeral.digest_ref_ttl":     c.Ephemeral.DigestRefTTL,
		"notify.urgent_meeting_window": c.Notify.UrgentMeetingWindow,
		"approval.timeout":             c.Approval.Timeout,
		"jobs.retry_base":              c.Jobs.RetryBase,
		"jobs.retry_max_delay":         c.Jobs.RetryMaxDelay,
		"schedules.expire_after":       c.Schedules.ExpireAfter,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if raw := strings.TrimSpace(c.Schedules.ExpireAfter); raw != "" {
		d, _ := ParseDurationField("schedules.expire_after", raw)
		if d < minExpireAfter {
			return fmt.Errorf("schedules.expire_after must be at least %s", minExpireAfter)
		}
	}
	return nil
}
