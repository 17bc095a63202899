package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/config"
	"github.com/tsarna/bugout/pkg/bugout/otel"
	"github.com/tsarna/bugout/pkg/bugout/subutils"
	"github.com/tsarna/bugout/pkg/bugout/sweep"
	"github.com/tsarna/bugout/pkg/bugout/topic"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve [config-files-or-directories...]",
	Short: "Run the lobby and game-state backends",
	Long: `Run the backends enabled by the configuration against a Redis transport.
Gateways run as separate processes and reach the backends through the same
streams. The in-memory transport only reaches the process that owns it, so
serve refuses it; use "bugout demo" to run everything in one process.

Examples:
  bugout serve bugout.hcl
  bugout serve ./configs/ --trace`,
	RunE: runServe,
}

var (
	wireReserved bool
	trace        bool
)

var errMemoryServe = errors.New(`serve needs a redis transport; the in-memory transport reaches no other process (try "bugout demo")`)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&wireReserved, "wire-reserved", false, "also consume reserved topics (QuitGame)")
	serveCmd.Flags().BoolVar(&trace, "trace", false, "log every message on every topic")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Starting bugout",
		zap.Strings("config-paths", args),
		zap.String("version", Version),
	)

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(configSources(args)...).
		Build()
	if diags.HasErrors() {
		logger.Error("Failed to build config", zap.Any("diags", diags))
		return diags
	}
	if cfg.Transport.Type == config.TransportMemory {
		return errMemoryServe
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := otel.NewProvider(serviceName, Version)
	transport, err := newTransport(cfg, logger, provider, "")
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}
	if err := transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer transport.Stop()

	sessions, sessionSweeper, closeSessions, err := newSessionStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	scheduler := sweep.NewScheduler(logger, cfg.Idempotency.Location)
	if sessionSweeper != nil {
		if err := scheduler.Add(cfg.Idempotency.Sweep, "sessions", sessionSweeper); err != nil {
			return err
		}
	}

	p := &platform{
		cfg:       cfg,
		logger:    logger,
		provider:  provider,
		transport: transport,
		sessions:  sessions,
		scheduler: scheduler,
	}
	components, err := p.backends(wireReserved)
	if err != nil {
		return err
	}

	if trace {
		tap, err := newTap(cfg, logger, provider, transport)
		if err != nil {
			return err
		}
		components = append(components, tap)
	}

	if len(components) == 0 {
		return fmt.Errorf("no backends enabled")
	}

	if err := startAll(ctx, logger, components); err != nil {
		return err
	}
	scheduler.Start()

	logger.Info("Bugout started", zap.Int("components", len(components)))
	<-ctx.Done()
	logger.Info("Shutting down")

	<-scheduler.Stop().Done()
	stopAll(logger, components)
	return nil
}

// tap logs every message on every registered topic without holding up
// delivery. On Redis it reads through its own consumer group so the
// backends still see every message.
type tap struct {
	transport bugout.Transport
	owned     bool
	sub       *subutils.AsyncQueueingSubscriber
	topics    []topic.Topic
}

func newTap(cfg *config.Config, logger *zap.Logger, provider *otel.Provider, shared bugout.Transport) (*tap, error) {
	t := &tap{transport: shared, topics: topic.Default().Topics()}

	if cfg.Transport.Type == config.TransportRedis {
		group := cfg.Transport.Redis.Group
		if group == "" {
			group = "bugout"
		}
		own, err := newTransport(cfg, logger, provider, group+"-trace")
		if err != nil {
			return nil, err
		}
		t.transport = own
		t.owned = true
	}

	logSub := subutils.NewNamedLoggingSubscriber(nil, logger, zap.InfoLevel, "trace")
	t.sub = subutils.NewAsyncQueueingSubscriber(logSub, 1024, logger)
	return t, nil
}

func (t *tap) Start(ctx context.Context) error {
	if t.owned {
		if err := t.transport.Start(); err != nil {
			return err
		}
	}
	t.sub.Start()

	for _, name := range t.topics {
		if err := t.transport.Subscribe(ctx, t.sub, string(name)); err != nil {
			return fmt.Errorf("tracing %s: %w", name, err)
		}
	}
	return nil
}

func (t *tap) Stop(ctx context.Context) error {
	err := t.transport.UnsubscribeAll(ctx, t.sub)
	_ = t.sub.Close()
	if t.owned {
		if stopErr := t.transport.Stop(); err == nil {
			err = stopErr
		}
	}
	return err
}
