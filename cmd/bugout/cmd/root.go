package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time.
var Version = "dev"

var (
	verbose  bool
	debug    bool
	logLevel string

	// logger is built from the flags before any subcommand runs.
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "bugout",
	Short: "Bugout game backends",
	Long: `Bugout runs the backends of the bugout game platform. Gateways publish
commands to named topics; the lobby and game-state backends consume them and
publish their outcomes to topics of their own.

Deployments are described in HCL configuration files. "bugout demo" runs a
gateway beside both backends in one process.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := setupLogger()
		if err != nil {
			return fmt.Errorf("failed to setup logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the command line. It is called once, from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "debug output")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
}
