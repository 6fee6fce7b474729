package config

import (
	"strconv"
	"strings"
)

// applyEnvOverrides layers recognized environment variables over the file
// config. Tokens and keys win over file values so secrets can stay out of
// config files entirely. getenv is injected for tests.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("COURIER_STATE_DIR"); v != "" {
		cfg.Server.StateDir = v
	}

	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.BotToken = v
	}
	if v := getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Channels.Discord.BotToken = v
	}
	if v := getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Channels.Slack.BotToken = v
	}
	if v := getenv("SLACK_APP_TOKEN"); v != "" {
		cfg.Channels.Slack.AppToken = v
	}
	if v, ok := parseBool(getenv("SLACK_SKELETON_ENABLED")); ok {
		cfg.Channels.Slack.Skeleton = v
	}
	if v := getenv("SLACK_ALLOWED_TENANTS"); v != "" {
		cfg.Channels.Slack.AllowedTenants = splitList(v)
	}

	if v := getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Claude.APIKey = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v, ok := parseBool(getenv("COURIER_PROVIDER_CLAUDE_ENABLED")); ok {
		cfg.Providers.Claude.Enabled = v
	}
	if v, ok := parseBool(getenv("COURIER_PROVIDER_OPENAI_ENABLED")); ok {
		cfg.Providers.OpenAI.Enabled = v
	}
	if v, ok := parseBool(getenv("COURIER_PROVIDER_CODEX_ENABLED")); ok {
		cfg.Providers.Codex.Enabled = v
	}
}

// parseBool accepts strconv bool forms. The second return reports whether
// the variable was set to something parseable; unset or garbage means "leave
// the file value alone".
func parseBool(s string) (bool, bool) {
	if s == "" {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return v, true
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
