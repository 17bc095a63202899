package cmd

import (
	"context"
	"time"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/config"
	"github.com/tsarna/bugout/pkg/bugout/dispatch"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/gamestate"
	"github.com/tsarna/bugout/pkg/bugout/idem"
	"github.com/tsarna/bugout/pkg/bugout/lobby"
	"github.com/tsarna/bugout/pkg/bugout/otel"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"github.com/tsarna/bugout/pkg/bugout/sweep"
	"go.uber.org/zap"
)

// component is anything a command starts and must stop on the way out.
type component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// platform holds what every process hosting backends shares.
type platform struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  *otel.Provider
	transport bugout.Transport
	sessions  session.Store
	scheduler *sweep.Scheduler
}

func (p *platform) router(name string) *dispatch.RouterBuilder {
	return dispatch.NewRouter(p.transport).
		WithLogger(p.logger).
		WithName(name).
		WithObservability(p.provider, p.provider)
}

// backends builds the routers for the backends cfg enables. Sweeps are
// registered with the scheduler; nothing is started.
func (p *platform) backends(wireReserved bool) ([]component, error) {
	emitter := dispatch.NewEmitter(p.transport, nil)
	var components []component

	if p.cfg.Backends.Lobby {
		lb, err := lobby.NewLobby(emitter).WithSessions(p.sessions).WithLogger(p.logger.Named("lobby")).Build()
		if err != nil {
			return nil, err
		}
		r, err := p.router("lobby").BuildCommandRouter(lb, lobby.Kinds(wireReserved || p.cfg.Backends.WireReserved)...)
		if err != nil {
			return nil, err
		}
		components = append(components, r)
	}

	if p.cfg.Backends.GameState {
		requests := idem.New[event.Event](p.cfg.Idempotency.TTL)
		if err := p.scheduler.Add(p.cfg.Idempotency.Sweep, "requests", requests); err != nil {
			return nil, err
		}

		gs, err := gamestate.NewGameState(emitter).
			WithSessions(p.sessions).
			WithRequests(requests).
			WithLogger(p.logger.Named("gamestate")).
			Build()
		if err != nil {
			return nil, err
		}
		commands, err := p.router("gamestate").BuildCommandRouter(gs, gamestate.Kinds()...)
		if err != nil {
			return nil, err
		}
		observer, err := p.router("gamestate-observer").BuildEventRouter(gs.Observer(), gamestate.EventKinds()...)
		if err != nil {
			return nil, err
		}
		components = append(components, observer, commands)
	}

	return components, nil
}

func startAll(ctx context.Context, logger *zap.Logger, components []component) error {
	for i, c := range components {
		if err := c.Start(ctx); err != nil {
			stopAll(logger, components[:i])
			return err
		}
	}
	return nil
}

func stopAll(logger *zap.Logger, components []component) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(ctx); err != nil {
			logger.Warn("Stopping component failed", zap.Error(err))
		}
	}
}
