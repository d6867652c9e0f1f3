package config

import (
	"strings"

	logx "github.com/mityayka1/Personal-Knowledge-Graph-sub002/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (the bot token) are never included,
// only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if (strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		oldCfg.Telegram.OwnerChatID != newCfg.Telegram.OwnerChatID ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.owner_chat_id", newCfg.Telegram.OwnerChatID),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)))
	}

	if oldCfg.Ephemeral != newCfg.Ephemeral {
		changed = append(changed, "ephemeral")
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Float64("notify.confidence_floor", newCfg.Notify.ConfidenceFloor),
			logx.String("notify.urgent_meeting_window", newCfg.Notify.UrgentMeetingWindow),
		)
	}

	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
	}
	if oldCfg.Approval != newCfg.Approval {
		changed = append(changed, "approval")
	}
	if oldCfg.Jobs != newCfg.Jobs {
		changed = append(changed, "jobs")
	}
	if oldCfg.Schedules != newCfg.Schedules {
		changed = append(changed, "schedules")
		attrs = append(attrs, logx.String("schedules.timezone", strings.TrimSpace(newCfg.Schedules.Timezone)))
	}

	return changed, attrs
}
