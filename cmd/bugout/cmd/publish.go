package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/config"
	"github.com/tsarna/bugout/pkg/bugout/dispatch"
	"github.com/tsarna/bugout/pkg/bugout/otel"
	"go.uber.org/zap"
)

var publishCmd = &cobra.Command{
	Use:   "publish <command-json> [config-files-or-directories...]",
	Short: "Publish one command to its topic",
	Long: `Publish a command, written in its wire form, to the topic the registry binds
it to. The configuration must name a Redis transport; the in-memory transport
only exists inside a running process.

Examples:
  bugout publish '{"CreateGame":{"clientId":"c1","visibility":"Public","sessionId":"s1","boardSize":19}}' bugout.hcl
  bugout publish '{"ProvideHistory":{"gameId":"g42","reqId":"r1"}}' ./configs/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPublish,
}

var publishTimeout time.Duration

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 30*time.Second, "Total operation timeout")
}

func runPublish(cmd *cobra.Command, args []string) error {
	c, err := command.Decode([]byte(args[0]))
	if err != nil {
		return err
	}

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(configSources(args[1:])...).
		Build()
	if diags.HasErrors() {
		return diags
	}
	if cfg.Transport.Type != config.TransportRedis {
		return fmt.Errorf("publish needs a redis transport, configuration has %q", cfg.Transport.Type)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
	defer cancel()

	transport, err := newTransport(cfg, logger, otel.NewProvider(serviceName, Version), "")
	if err != nil {
		return err
	}
	if err := transport.Start(); err != nil {
		return err
	}
	defer transport.Stop()

	if err := dispatch.NewPublisher(transport, nil, logger).Publish(ctx, c); err != nil {
		return fmt.Errorf("failed to publish %s: %w", c.Kind(), err)
	}

	logger.Info("Command published", zap.String("kind", string(c.Kind())))
	return nil
}
