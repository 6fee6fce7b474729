package config

import "fmt"

// ChannelsConfig configures the channel boundaries. A boundary is only
// constructed when its Enabled flag is set.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	Slack    SlackConfig    `yaml:"slack"`
}

// TelegramConfig configures the Telegram boundary.
type TelegramConfig struct {
	Enabled bool `yaml:"enabled"`

	// BotToken is the @BotFather token. Overridable via TELEGRAM_BOT_TOKEN.
	BotToken string `yaml:"bot_token"`

	// AllowedUsers gates admission when non-empty.
	AllowedUsers []string `yaml:"allowed_users"`
}

// DiscordConfig configures the Discord boundary.
type DiscordConfig struct {
	Enabled bool `yaml:"enabled"`

	// BotToken is the developer-portal token. Overridable via
	// DISCORD_BOT_TOKEN.
	BotToken string `yaml:"bot_token"`

	// Skeleton runs the boundary without a Discord connection.
	Skeleton bool `yaml:"skeleton"`

	// AllowedUsers gates admission when non-empty.
	AllowedUsers []string `yaml:"allowed_users"`
}

// SlackConfig configures the Slack boundary.
type SlackConfig struct {
	Enabled bool `yaml:"enabled"`

	// BotToken is the xoxb- Web API token. Overridable via SLACK_BOT_TOKEN.
	BotToken string `yaml:"bot_token"`

	// AppToken is the xapp- Socket Mode token.
	AppToken string `yaml:"app_token"`

	// Skeleton runs the boundary without a Slack connection. Overridable
	// via SLACK_SKELETON_ENABLED.
	Skeleton bool `yaml:"skeleton"`

	// AllowedTenants gates admission when non-empty. Overridable via
	// SLACK_ALLOWED_TENANTS (comma-separated).
	AllowedTenants []string `yaml:"allowed_tenants"`
}

func (c *ChannelsConfig) validate() error {
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("config: channels.telegram enabled without a bot token")
	}
	if c.Discord.Enabled && !c.Discord.Skeleton && c.Discord.BotToken == "" {
		return fmt.Errorf("config: channels.discord enabled without a bot token")
	}
	if c.Slack.Enabled && !c.Slack.Skeleton {
		if c.Slack.BotToken == "" {
			return fmt.Errorf("config: channels.slack enabled without a bot token")
		}
		if c.Slack.AppToken == "" {
			return fmt.Errorf("config: channels.slack enabled without an app token")
		}
	}
	return nil
}
