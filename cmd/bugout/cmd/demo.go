package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/bugout/pkg/bugout/config"
	"github.com/tsarna/bugout/pkg/bugout/dispatch"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/gateway"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"github.com/tsarna/bugout/pkg/bugout/otel"
	"github.com/tsarna/bugout/pkg/bugout/sweep"
	"go.uber.org/zap"
)

var demoCmd = &cobra.Command{
	Use:   "demo [config-files-or-directories...]",
	Short: "Play a scripted game through a gateway and both backends in one process",
	Long: `Run a gateway, the lobby and the game-state backend over the in-memory
transport and play a short public game between two scripted clients, printing
every outcome the gateway delivers. The configured transport and session store
are ignored; everything stays in this process.

Examples:
  bugout demo
  bugout demo --trace`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, diags := config.NewConfig().
			WithLogger(logger).
			WithSources(configSources(args)...).
			Build()
		if diags.HasErrors() {
			return diags
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), demoTimeout)
		defer cancel()
		return runDemo(ctx, cmd.OutOrStdout(), cfg, logger)
	},
}

var (
	demoTrace   bool
	demoTimeout = 30 * time.Second
)

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().BoolVar(&demoTrace, "trace", false, "log every message on every topic")
}

// runDemo hosts a gateway beside the backends on one in-memory bus and
// drives two clients through matchmaking, two moves and a history request.
func runDemo(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger) error {
	local := *cfg
	local.Transport.Type = config.TransportMemory
	local.Session.Store = config.StoreMemory
	local.Backends.Lobby = true
	local.Backends.GameState = true

	provider := otel.NewProvider(serviceName, Version)
	transport, err := newTransport(&local, logger, provider, "")
	if err != nil {
		return err
	}
	if err := transport.Start(); err != nil {
		return err
	}
	defer transport.Stop()

	sessions, sessionSweeper, closeSessions, err := newSessionStore(&local, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	scheduler := sweep.NewScheduler(logger, local.Idempotency.Location)
	if err := scheduler.Add(local.Idempotency.Sweep, "sessions", sessionSweeper); err != nil {
		return err
	}

	p := &platform{
		cfg:       &local,
		logger:    logger,
		provider:  provider,
		transport: transport,
		sessions:  sessions,
		scheduler: scheduler,
	}
	components, err := p.backends(false)
	if err != nil {
		return err
	}

	gw, err := gateway.NewGateway(dispatch.NewPublisher(transport, nil, logger), sessions).
		WithLogger(logger.Named("gateway")).
		WithRequestTTL(gateway.DefaultRequestTTL).
		Build()
	if err != nil {
		return err
	}
	if err := scheduler.Add(local.Idempotency.Sweep, "gateway-requests", gw); err != nil {
		return err
	}
	outcomes, err := p.router("gateway").BuildEventRouter(gw)
	if err != nil {
		return err
	}
	components = append(components, outcomes)

	if demoTrace {
		tap, err := newTap(&local, logger, provider, transport)
		if err != nil {
			return err
		}
		components = append(components, tap)
	}

	if err := startAll(ctx, logger, components); err != nil {
		return err
	}
	defer stopAll(logger, components)
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	return playDemoGame(ctx, out, gw)
}

type demoClient struct {
	name     string
	id       model.SessionId
	outcomes chan event.Event
	out      io.Writer
}

func connectDemoClient(ctx context.Context, gw *gateway.Gateway, out io.Writer, name model.ClientId) (*demoClient, error) {
	c := &demoClient{name: string(name), outcomes: make(chan event.Event, 32), out: out}
	s, err := gw.Connect(ctx, name, gateway.SinkFunc(func(ctx context.Context, ev event.Event) error {
		select {
		case c.outcomes <- ev:
			return nil
		default:
			return fmt.Errorf("%s is not keeping up", name)
		}
	}))
	if err != nil {
		return nil, err
	}
	c.id = s.Id
	fmt.Fprintf(out, "%s connected as %s\n", name, s.Id)
	return c, nil
}

// await prints outcomes as they arrive until one of kind shows up.
func (c *demoClient) await(ctx context.Context, kind event.Kind) (event.Event, error) {
	for {
		select {
		case ev := <-c.outcomes:
			data, err := event.Encode(ev)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(c.out, "%s <- %s\n", c.name, data)
			if ev.Kind() == kind {
				return ev, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%s waiting for %s: %w", c.name, kind, ctx.Err())
		}
	}
}

func playDemoGame(ctx context.Context, out io.Writer, gw *gateway.Gateway) error {
	alice, err := connectDemoClient(ctx, gw, out, "alice")
	if err != nil {
		return err
	}
	bob, err := connectDemoClient(ctx, gw, out, "bob")
	if err != nil {
		return err
	}

	if err := gw.CreateGame(ctx, alice.id, model.Public, model.DefaultBoardSize); err != nil {
		return err
	}
	if _, err := alice.await(ctx, event.KindWaitForOpponent); err != nil {
		return err
	}
	if err := gw.FindPublicGame(ctx, bob.id); err != nil {
		return err
	}
	ev, err := alice.await(ctx, event.KindGameReady)
	if err != nil {
		return err
	}
	if _, err := bob.await(ctx, event.KindGameReady); err != nil {
		return err
	}

	ready := ev.(event.GameReady)
	black, white := alice, bob
	if ready.Sessions.Black == bob.id {
		black, white = bob, alice
	}

	moves := []struct {
		by     *demoClient
		player model.Player
		at     model.Coord
	}{
		{black, model.Black, model.Coord{X: 3, Y: 3}},
		{white, model.White, model.Coord{X: 15, Y: 15}},
	}
	for _, m := range moves {
		at := m.at
		if _, err := gw.MakeMove(ctx, m.by.id, "", ready.GameId, m.player, &at); err != nil {
			return err
		}
		for _, c := range []*demoClient{black, white} {
			if _, err := c.await(ctx, event.KindMoveMade); err != nil {
				return err
			}
		}
	}

	if _, err := gw.ProvideHistory(ctx, black.id, "", ready.GameId); err != nil {
		return err
	}
	ev, err = black.await(ctx, event.KindHistoryProvided)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "game %s finished the demo with %d moves\n", ready.GameId, len(ev.(event.HistoryProvided).Moves))

	for _, c := range []*demoClient{alice, bob} {
		if err := gw.Disconnect(ctx, c.id); err != nil {
			return err
		}
	}
	return nil
}
