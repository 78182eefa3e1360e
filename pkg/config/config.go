package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Bridge      BridgeConfig      `json:"bridge"`
	Backend     BackendConfig     `json:"backend"`
	Adapters    AdaptersConfig    `json:"adapters"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// BridgeConfig holds the orchestrator tunables. Durations are expressed in the
// unit their name carries; zero values fall back to DefaultConfig.
type BridgeConfig struct {
	Workspace                string `env:"CLAWBRIDGE_BRIDGE_WORKSPACE"                  json:"workspace"`
	StaleSeconds             int    `env:"CLAWBRIDGE_BRIDGE_STALE_SECONDS"              json:"stale_seconds"`
	BatchWindowMs            int    `env:"CLAWBRIDGE_BRIDGE_BATCH_WINDOW_MS"            json:"batch_window_ms"`
	PermissionTimeoutMs      int    `env:"CLAWBRIDGE_BRIDGE_PERMISSION_TIMEOUT_MS"      json:"permission_timeout_ms"`
	FlushIntervalMs          int    `env:"CLAWBRIDGE_BRIDGE_FLUSH_INTERVAL_MS"          json:"flush_interval_ms"`
	MaxLinesPerFlush         int    `env:"CLAWBRIDGE_BRIDGE_MAX_LINES_PER_FLUSH"        json:"max_lines_per_flush"`
	RetainLines              int    `env:"CLAWBRIDGE_BRIDGE_RETAIN_LINES"               json:"retain_lines"`
	MaxAttachmentBytes       int64  `env:"CLAWBRIDGE_BRIDGE_MAX_ATTACHMENT_BYTES"       json:"max_attachment_bytes"`
	MaxAttachmentsPerMessage int    `env:"CLAWBRIDGE_BRIDGE_MAX_ATTACHMENTS_PER_MESSAGE" json:"max_attachments_per_message"`
	SessionIdleMinutes       int    `env:"CLAWBRIDGE_BRIDGE_SESSION_IDLE_MINUTES"       json:"session_idle_minutes"`
	AttachMode               string `env:"CLAWBRIDGE_BRIDGE_ATTACH_MODE"                json:"attach_mode"`
}

type BackendConfig struct {
	Provider  string `env:"CLAWBRIDGE_BACKEND_PROVIDER"  json:"provider"`
	APIKey    string `env:"CLAWBRIDGE_BACKEND_API_KEY"   json:"api_key"`
	APIBase   string `env:"CLAWBRIDGE_BACKEND_API_BASE"  json:"api_base,omitempty"`
	Model     string `env:"CLAWBRIDGE_BACKEND_MODEL"     json:"model"`
	MaxTokens int    `env:"CLAWBRIDGE_BACKEND_MAX_TOKENS" json:"max_tokens"`
	MaxTurns  int    `env:"CLAWBRIDGE_BACKEND_MAX_TURNS"  json:"max_turns"`
}

type AdaptersConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
	WebChat  WebChatConfig  `json:"webchat"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool                `env:"CLAWBRIDGE_ADAPTERS_TELEGRAM_ENABLED"    json:"enabled"`
	Token     string              `env:"CLAWBRIDGE_ADAPTERS_TELEGRAM_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"CLAWBRIDGE_ADAPTERS_TELEGRAM_ALLOW_FROM" json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool                `env:"CLAWBRIDGE_ADAPTERS_DISCORD_ENABLED"    json:"enabled"`
	Token     string              `env:"CLAWBRIDGE_ADAPTERS_DISCORD_TOKEN"      json:"token"`
	AllowFrom FlexibleStringSlice `env:"CLAWBRIDGE_ADAPTERS_DISCORD_ALLOW_FROM" json:"allow_from"`
}

type SlackConfig struct {
	Enabled   bool                `env:"CLAWBRIDGE_ADAPTERS_SLACK_ENABLED"    json:"enabled"`
	BotToken  string              `env:"CLAWBRIDGE_ADAPTERS_SLACK_BOT_TOKEN"  json:"bot_token"`
	AppToken  string              `env:"CLAWBRIDGE_ADAPTERS_SLACK_APP_TOKEN"  json:"app_token"`
	AllowFrom FlexibleStringSlice `env:"CLAWBRIDGE_ADAPTERS_SLACK_ALLOW_FROM" json:"allow_from"`
}

type WebChatConfig struct {
	Enabled   bool                `env:"CLAWBRIDGE_ADAPTERS_WEBCHAT_ENABLED"    json:"enabled"`
	Host      string              `env:"CLAWBRIDGE_ADAPTERS_WEBCHAT_HOST"       json:"host"`
	Port      int                 `env:"CLAWBRIDGE_ADAPTERS_WEBCHAT_PORT"       json:"port"`
	AllowFrom FlexibleStringSlice `env:"CLAWBRIDGE_ADAPTERS_WEBCHAT_ALLOW_FROM" json:"allow_from"`
}

type CLIConfig struct {
	Enabled bool `env:"CLAWBRIDGE_ADAPTERS_CLI_ENABLED" json:"enabled"`
}

type MaintenanceConfig struct {
	Enabled            bool   `env:"CLAWBRIDGE_MAINTENANCE_ENABLED"              json:"enabled"`
	CleanupSchedule    string `env:"CLAWBRIDGE_MAINTENANCE_CLEANUP_SCHEDULE"     json:"cleanup_schedule"`
	MediaRetentionDays int    `env:"CLAWBRIDGE_MAINTENANCE_MEDIA_RETENTION_DAYS" json:"media_retention_days"`
}

// DefaultConfig returns the configuration template used when no config file
// exists yet. All orchestrator defaults live here, not scattered in the code.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Bridge: BridgeConfig{
			Workspace:                filepath.Join(home, ".clawbridge", "workspace"),
			StaleSeconds:             45,
			BatchWindowMs:            4000,
			PermissionTimeoutMs:      600000,
			FlushIntervalMs:          1200,
			MaxLinesPerFlush:         8,
			RetainLines:              24,
			MaxAttachmentBytes:       10485760,
			MaxAttachmentsPerMessage: 5,
			SessionIdleMinutes:       120,
			AttachMode:               "auto",
		},
		Backend: BackendConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4.6",
			MaxTokens: 8192,
			MaxTurns:  20,
		},
		Adapters: AdaptersConfig{
			WebChat: WebChatConfig{
				Host: "127.0.0.1",
				Port: 18791,
			},
			CLI: CLIConfig{Enabled: true},
		},
		Maintenance: MaintenanceConfig{
			Enabled:            true,
			CleanupSchedule:    "*/30 * * * *",
			MediaRetentionDays: 7,
		},
	}
}

// LoadConfig reads the JSON config at path, overlays environment variables,
// and returns defaults when the file does not exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Bridge.Workspace)
}

// DataDir is where sessions, permissions and media live.
func (c *Config) DataDir() string {
	return filepath.Join(c.WorkspacePath(), "data")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
