package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal"
	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal/gateway"
	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal/onboard"
	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal/status"
	"github.com/tinyland-inc/clawbridge/cmd/clawbridge/internal/version"
)

func NewClawbridgeCommand() *cobra.Command {
	short := fmt.Sprintf("%s clawbridge - Chat bridge for coding agents v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "clawbridge",
		Short:   short,
		Example: "clawbridge gateway",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		gateway.NewGatewayCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewClawbridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
