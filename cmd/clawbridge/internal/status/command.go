package status

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and adapter status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd()
		},
	}
}

func statusCmd() error {
	path := internal.GetConfigPath()
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("No config at %s. Run: clawbridge onboard\n", path)
		return nil
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	fmt.Printf("Config:    %s\n", path)
	fmt.Printf("Workspace: %s\n", cfg.WorkspacePath())
	fmt.Printf("Backend:   %s (%s)\n", cfg.Backend.Provider, cfg.Backend.Model)
	if cfg.Backend.APIKey == "" {
		fmt.Println("           ⚠ no API key configured")
	}

	fmt.Println("Adapters:")
	printAdapter("telegram", cfg.Adapters.Telegram.Enabled)
	printAdapter("discord", cfg.Adapters.Discord.Enabled)
	printAdapter("slack", cfg.Adapters.Slack.Enabled)
	printAdapter("webchat", cfg.Adapters.WebChat.Enabled)
	printAdapter("cli", cfg.Adapters.CLI.Enabled)
	return nil
}

func printAdapter(name string, enabled bool) {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("  %-9s %s\n", name, state)
}
