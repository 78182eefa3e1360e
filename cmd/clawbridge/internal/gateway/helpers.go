package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal"
	"github.com/tinyland-inc/clawbridge/pkg/adapters"
	"github.com/tinyland-inc/clawbridge/pkg/backend"
	"github.com/tinyland-inc/clawbridge/pkg/backend/anthropic"
	"github.com/tinyland-inc/clawbridge/pkg/bridge"
	"github.com/tinyland-inc/clawbridge/pkg/config"
	"github.com/tinyland-inc/clawbridge/pkg/logger"
	"github.com/tinyland-inc/clawbridge/pkg/maintenance"
	"github.com/tinyland-inc/clawbridge/pkg/screenshot"
	"github.com/tinyland-inc/clawbridge/pkg/store"
)

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Backend.APIKey == "" {
		return fmt.Errorf("no backend API key configured (set CLAWBRIDGE_BACKEND_API_KEY)")
	}

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("error creating data dir: %w", err)
	}

	sessions, err := store.NewSessionStore(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("error opening session store: %w", err)
	}
	permissions, err := store.NewPermissionStore(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("error opening permission store: %w", err)
	}
	media := store.NewMediaStore(cfg.DataDir())

	agent := anthropic.New(anthropic.Config{
		APIKey:      cfg.Backend.APIKey,
		APIBase:     cfg.Backend.APIBase,
		Model:       cfg.Backend.Model,
		MaxTokens:   cfg.Backend.MaxTokens,
		MaxTurns:    cfg.Backend.MaxTurns,
		CommandsDir: filepath.Join(cfg.WorkspacePath(), "commands"),
	})

	manager := adapters.NewManager()
	core := bridge.NewCore(cfg, bridge.Deps{
		Registry:     manager,
		Agent:        agent,
		AgentName:    fmt.Sprintf("%s (%s)", cfg.Backend.Provider, cfg.Backend.Model),
		Sessions:     sessions,
		Permissions:  permissions,
		Media:        media,
		Capturer:     screenshot.NewCapturer(filepath.Join(cfg.DataDir(), "screenshots")),
		ReloadConfig: func() error { _, err := internal.LoadConfig(); return err },
	})
	handler := core.Handler()

	registerAdapters(cfg, manager, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.StartAll(ctx)

	manager.SetCommands(ctx, bridge.MergeCommands(bridge.NativeCommands(), agent.ListCommands()))

	enabled := 0
	for range manager.Health() {
		enabled++
	}
	if enabled == 0 {
		fmt.Println("⚠ Warning: no adapters enabled")
	}

	if cfg.Maintenance.Enabled {
		sweeper := maintenance.NewSweeper(
			cfg.Maintenance.CleanupSchedule,
			time.Duration(cfg.Maintenance.MediaRetentionDays)*24*time.Hour,
		)
		sweeper.AddTarget("media", media)
		sweeper.AddTarget("permissions", permissions)
		go sweeper.Run(ctx)
	}

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	manager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")

	return nil
}

func registerAdapters(cfg *config.Config, manager *adapters.Manager, handler bridge.Handler) {
	if cfg.Adapters.Telegram.Enabled {
		manager.Register(adapters.NewTelegramAdapter(
			cfg.Adapters.Telegram.Token,
			cfg.Adapters.Telegram.AllowFrom,
			handler,
		))
	}
	if cfg.Adapters.Discord.Enabled {
		manager.Register(adapters.NewDiscordAdapter(
			cfg.Adapters.Discord.Token,
			cfg.Adapters.Discord.AllowFrom,
			handler,
		))
	}
	if cfg.Adapters.Slack.Enabled {
		manager.Register(adapters.NewSlackAdapter(
			cfg.Adapters.Slack.BotToken,
			cfg.Adapters.Slack.AppToken,
			cfg.Adapters.Slack.AllowFrom,
			handler,
		))
	}
	if cfg.Adapters.WebChat.Enabled {
		manager.Register(adapters.NewWebChatAdapter(
			cfg.Adapters.WebChat.Host,
			cfg.Adapters.WebChat.Port,
			cfg.Adapters.WebChat.AllowFrom,
			handler,
		))
	}
	if cfg.Adapters.CLI.Enabled {
		manager.Register(adapters.NewCLIAdapter(handler))
	}
}

var _ backend.Backend = (*anthropic.Backend)(nil)
