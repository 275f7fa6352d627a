package cmd

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/renamarr/renamarr/internal/runner"
)

// unmonitorCmd turns off monitoring for entries whose folders already
// match their generated paths.
//
//nolint:gochecknoglobals // cobra requires package-level command variable
var unmonitorCmd = &cobra.Command{
	Use:   "unmonitor",
	Short: "Stop monitoring entries whose folders are already correct",
	Long: `Unmonitor walks every enabled service and turns off monitoring for
entries whose current folder already matches the path the service's
naming format generates. Entries with mismatched folders are left
monitored. Honors --dry-run.`,
	SilenceUsage: true,
	RunE:         runUnmonitor,
}

//nolint:gochecknoinits // cobra requires init for command registration
func init() {
	rootCmd.AddCommand(unmonitorCmd)
}

func runUnmonitor(cmd *cobra.Command, _ []string) error {
	r := runner.New(appConfig,
		runner.WithLogger(log.With().Str("component", "unmonitor").Logger()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return r.Unmonitor(ctx)
}
