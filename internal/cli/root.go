// Package cli provides the operator command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/patrolsync/internal/app"
	"github.com/raphaelgruber/patrolsync/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and components
	cfg       config.Config
	device    *app.App
	closeLog  func() error
	cliLogger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "patrol",
	Short: "Offline-first guard rounds",
	Long: `Patrol runs scheduled guard rounds on an operator device.

Rounds, checkpoint scans and field records are written to the local cache
first and synchronized with the remote store whenever it is reachable.
Writes made offline are queued and replayed in order.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip wiring for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		} else if level < slog.LevelWarn {
			// Keep command output readable.
			level = slog.LevelWarn
		}
		cliLogger, closeLog = config.SetupLogger(cfg.LogFile, level)

		if usesAgent(cmd) {
			return nil
		}

		var err error
		device, err = app.New(cmd.Context(), cfg, cliLogger)
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		device.Probe(cmd.Context())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if device != nil {
			if err := device.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close device state: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// usesAgent reports whether the command talks to a running agent instead of
// opening the local device state.
func usesAgent(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("server")
	return f != nil && f.Value.String() != ""
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(manualCmd)
	rootCmd.AddCommand(codesCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
}
