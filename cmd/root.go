// Package cmd provides the CLI entry point.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/renamarr/renamarr/internal/config"
	"github.com/renamarr/renamarr/internal/runner"
)

// Version information - set at build time via ldflags.
//
//nolint:gochecknoglobals // build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
	BuiltBy   = "unknown"
)

//nolint:gochecknoglobals // cobra CLI flags require package-level variables
var (
	cfgFile   string
	logLevel  string
	logPretty bool
	dryRun    bool
	workLimit int

	showVersion bool
	appConfig   config.Config
)

// rootCmd represents the base command.
//
//nolint:gochecknoglobals // cobra requires package-level command variable
var rootCmd = &cobra.Command{
	Use:   "renamarr",
	Short: "Keep Radarr and Sonarr folders aligned with their naming formats",
	Long: `Renamarr compares each Radarr movie and Sonarr series folder against
the path its service's folder naming format would generate, requests a
move for every mismatch, verifies the move completed, and refreshes the
Plex library when a run finishes.

Safe to run repeatedly: paths already confirmed correct are cached and
skipped on later runs.`,
	SilenceUsage: true,
	RunE:         run,
}

// Execute runs the root command.
func Execute() {
	// Check for version flag early to avoid config loading
	for _, arg := range os.Args[1:] {
		if arg == "-V" || arg == "--version" {
			printVersion()
			return
		}
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // cobra requires init for flag registration
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.renamarr.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "enable pretty (human-readable) logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "log intended moves without requesting them")

	rootCmd.Flags().BoolVarP(&showVersion, "version", "V", false, "print version information and exit")
	rootCmd.Flags().IntVar(&workLimit, "work-limit", -1, "max moves to request this run (0 = unlimited)")
}

func run(cmd *cobra.Command, _ []string) error {
	// Handle version flag
	if showVersion {
		printVersion()
		return nil
	}

	if workLimit >= 0 {
		appConfig.Reconcile.WorkLimit = workLimit
	}

	r := runner.New(appConfig,
		runner.WithLogger(log.With().Str("component", "runner").Logger()))

	if err := r.EnsureCacheDir(); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return r.Run(ctx)
}

//nolint:forbidigo // CLI version output requires fmt.Printf
func printVersion() {
	fmt.Printf("renamarr %s\n", Version)
	fmt.Printf("  commit:   %s\n", Commit)
	fmt.Printf("  built:    %s\n", BuildDate)
	fmt.Printf("  built by: %s\n", BuiltBy)
}

func initConfig() {
	// Load config from file and environment variables
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: cfgFile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Apply CLI flag overrides
	if dryRun {
		cfg.Reconcile.DryRun = true
	}

	appConfig = cfg

	// Setup logging based on CLI flags
	setupLogging()
}

func setupLogging() {
	// Set log level based on CLI flag
	switch strings.ToLower(logLevel) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Setup output based on CLI flag
	if logPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}) //nolint:reassign // standard zerolog pattern
	}
}
