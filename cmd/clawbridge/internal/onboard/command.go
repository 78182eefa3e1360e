package onboard

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal"
	"github.com/tinyland-inc/clawbridge/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create the default configuration and workspace",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return onboardCmd(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func onboardCmd(force bool) error {
	path := internal.GetConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Printf("Config already exists at %s (use --force to overwrite)\n", path)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(path, cfg); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkspacePath(), 0o755); err != nil {
		return fmt.Errorf("error creating workspace: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("error creating data dir: %w", err)
	}

	fmt.Printf("✓ Config written to %s\n", path)
	fmt.Printf("✓ Workspace at %s\n", cfg.WorkspacePath())
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set your API key: export CLAWBRIDGE_BACKEND_API_KEY=sk-...")
	fmt.Println("  2. Enable an adapter in the config (telegram, discord, slack, webchat)")
	fmt.Println("  3. Run: clawbridge gateway")
	return nil
}
