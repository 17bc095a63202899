package gateway

import (
	"context"

	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"go.uber.org/zap"
)

func (g *Gateway) HandleMoveMade(ctx context.Context, ev event.MoveMade) error {
	g.deliver(ctx, ev, g.players(ev.GameId, g.answered(ev.ReplyTo)...)...)
	return nil
}

func (g *Gateway) HandleHistoryProvided(ctx context.Context, ev event.HistoryProvided) error {
	g.deliver(ctx, ev, g.answered(ev.ReplyTo)...)
	return nil
}

func (g *Gateway) HandlePrivateGameRejected(ctx context.Context, ev event.PrivateGameRejected) error {
	g.deliver(ctx, ev, ev.SessionId)
	return nil
}

func (g *Gateway) HandleGameReady(ctx context.Context, ev event.GameReady) error {
	g.mu.Lock()
	g.games[ev.GameId] = ev.Sessions
	g.mu.Unlock()

	g.deliver(ctx, ev, ev.Sessions.Black, ev.Sessions.White)
	return nil
}

func (g *Gateway) HandleWaitForOpponent(ctx context.Context, ev event.WaitForOpponent) error {
	g.deliver(ctx, ev, ev.SessionId)
	return nil
}

func (g *Gateway) HandleColorsChosen(ctx context.Context, ev event.ColorsChosen) error {
	g.deliver(ctx, ev, g.players(ev.GameId)...)
	return nil
}

func (g *Gateway) HandleBotAttached(ctx context.Context, ev event.BotAttached) error {
	g.deliver(ctx, ev, g.players(ev.GameId)...)
	return nil
}

func (g *Gateway) HandleSyncReply(ctx context.Context, ev event.SyncReply) error {
	g.answered(ev.ReplyTo)
	g.deliver(ctx, ev, ev.SessionId)
	return nil
}

func (g *Gateway) HandleMoveUndone(ctx context.Context, ev event.MoveUndone) error {
	g.deliver(ctx, ev, g.players(ev.GameId, g.answered(ev.ReplyTo)...)...)
	return nil
}

func (g *Gateway) HandleUndoRejected(ctx context.Context, ev event.UndoRejected) error {
	g.deliver(ctx, ev, g.answered(ev.ReplyTo)...)
	return nil
}

// answered forgets a pending request and returns the session that made it,
// if this gateway holds it.
func (g *Gateway) answered(req model.ReqId) []model.SessionId {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[req]
	if !ok {
		return nil
	}
	delete(g.pending, req)
	return []model.SessionId{p.session}
}

// players returns both sessions seated in a game plus any extra sessions.
func (g *Gateway) players(game model.GameId, extra ...model.SessionId) []model.SessionId {
	g.mu.Lock()
	defer g.mu.Unlock()

	if seats, ok := g.games[game]; ok {
		return append(extra, seats.Black, seats.White)
	}
	return extra
}

// deliver hands ev to each distinct session with a sink here. Sink
// failures are logged; they never cause the outcome to be redelivered.
func (g *Gateway) deliver(ctx context.Context, ev event.Event, to ...model.SessionId) {
	seen := make(map[model.SessionId]bool, len(to))
	for _, s := range to {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true

		g.mu.Lock()
		sink, ok := g.sinks[s]
		g.mu.Unlock()
		if !ok {
			continue
		}

		if err := sink.Deliver(ctx, ev); err != nil {
			g.logger.Warn("Delivering outcome failed",
				zap.String("sessionId", string(s)),
				zap.String("kind", string(ev.Kind())),
				zap.Error(err),
			)
		}
	}
}
