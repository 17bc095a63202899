// Package gamestate is the reference game backend. It keeps the move list
// of every game, answers history and sync requests, and applies undo and
// bot attachment. Requests carrying a ReqId are processed at most once:
// redeliveries replay the recorded outcome.
//
// Rules of play beyond turn order and board bounds belong to the rule
// engine; captures are never computed here.
package gamestate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/idem"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"go.uber.org/zap"
)

// Emitter publishes outcomes. *dispatch.Emitter satisfies it.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// Kinds lists the command kinds this backend consumes.
func Kinds() []command.Kind {
	return []command.Kind{
		command.KindMakeMove,
		command.KindProvideHistory,
		command.KindReqSync,
		command.KindUndoMove,
		command.KindAttachBot,
	}
}

// EventKinds lists the outcomes this backend observes.
func EventKinds() []event.Kind {
	return []event.Kind{event.KindGameReady}
}

type game struct {
	boardSize model.BoardSize
	moves     []model.Move
	bots      map[model.Player]bool
}

// turn is the number of the next move, starting at 1.
func (g *game) turn() uint32 {
	return uint32(len(g.moves)) + 1
}

func (g *game) playerUp() model.Player {
	if len(g.moves) == 0 {
		return model.Black
	}
	return g.moves[len(g.moves)-1].Player.Other()
}

func (g *game) history() []model.Move {
	return append([]model.Move{}, g.moves...)
}

func (g *game) inBounds(c *model.Coord) bool {
	return c == nil || (c.X < uint16(g.boardSize) && c.Y < uint16(g.boardSize))
}

type GameState struct {
	command.UnimplementedHandler

	emitter  Emitter
	sessions session.Store
	requests *idem.Cache[event.Event]
	logger   *zap.Logger

	mu    sync.Mutex
	games map[model.GameId]*game
}

var _ command.Handler = (*GameState)(nil)

// GameStateBuilder provides a fluent interface for creating a GameState.
type GameStateBuilder struct {
	emitter  Emitter
	sessions session.Store
	requests *idem.Cache[event.Event]
	logger   *zap.Logger
}

func NewGameState(emitter Emitter) *GameStateBuilder {
	return &GameStateBuilder{emitter: emitter}
}

// WithSessions sets the store ReqSync sessions are checked against.
func (b *GameStateBuilder) WithSessions(store session.Store) *GameStateBuilder {
	b.sessions = store
	return b
}

// WithRequests shares an idempotency cache, typically so a scheduler can
// sweep it. By default the backend keeps its own that is never swept.
func (b *GameStateBuilder) WithRequests(cache *idem.Cache[event.Event]) *GameStateBuilder {
	b.requests = cache
	return b
}

func (b *GameStateBuilder) WithLogger(logger *zap.Logger) *GameStateBuilder {
	b.logger = logger
	return b
}

func (b *GameStateBuilder) Build() (*GameState, error) {
	if b.emitter == nil {
		return nil, fmt.Errorf("game state requires an emitter")
	}
	if b.sessions == nil {
		return nil, fmt.Errorf("game state requires a session store")
	}

	gs := &GameState{
		emitter:  b.emitter,
		sessions: b.sessions,
		requests: b.requests,
		logger:   b.logger,
		games:    make(map[model.GameId]*game),
	}
	if gs.requests == nil {
		gs.requests = idem.New[event.Event](0)
	}
	if gs.logger == nil {
		gs.logger = zap.NewNop()
	}
	return gs, nil
}

// observer feeds the outcomes listed by EventKinds back into the state.
type observer struct {
	event.UnimplementedHandler
	gs *GameState
}

// Observer returns the handler for the outcomes listed by EventKinds.
func (gs *GameState) Observer() event.Handler {
	return observer{gs: gs}
}

// HandleGameReady sets up the board for a game the lobby has just formed.
func (o observer) HandleGameReady(ctx context.Context, ev event.GameReady) error {
	gs := o.gs
	gs.mu.Lock()
	defer gs.mu.Unlock()

	g := gs.game(ev.GameId)
	if len(g.moves) == 0 && ev.BoardSize.Valid() {
		g.boardSize = ev.BoardSize
	}
	return nil
}

func (gs *GameState) HandleMakeMove(ctx context.Context, cmd command.MakeMove) error {
	return gs.once(ctx, idem.Key(string(cmd.GameId), cmd.ReqId), func() event.Event {
		g := gs.game(cmd.GameId)

		if cmd.Player != g.playerUp() {
			gs.logger.Warn("Dropping move out of turn",
				zap.String("gameId", string(cmd.GameId)),
				zap.String("player", string(cmd.Player)),
				zap.Uint32("turn", g.turn()),
			)
			return nil
		}
		if !g.inBounds(cmd.Coord) {
			gs.logger.Warn("Dropping move off the board",
				zap.String("gameId", string(cmd.GameId)),
				zap.Any("coord", cmd.Coord),
			)
			return nil
		}

		move := gs.apply(g, model.Move{Player: cmd.Player, Coord: cmd.Coord})
		return event.MoveMade{
			GameId:  cmd.GameId,
			ReplyTo: cmd.ReqId,
			Player:  move.Player,
			Coord:   move.Coord,
			Turn:    move.Turn,
		}
	})
}

func (gs *GameState) HandleProvideHistory(ctx context.Context, cmd command.ProvideHistory) error {
	gs.mu.Lock()
	ev := event.HistoryProvided{
		GameId:  cmd.GameId,
		ReplyTo: cmd.ReqId,
		Moves:   gs.game(cmd.GameId).history(),
	}
	gs.mu.Unlock()

	return gs.emitter.Emit(ctx, ev)
}

// HandleReqSync reconciles a client with the server's view of a game. The
// session must be one the store issued. If the client reports a last move
// the server has not seen, and it is the move the server expects next, it
// is applied once before replying.
func (gs *GameState) HandleReqSync(ctx context.Context, cmd command.ReqSync) error {
	if _, err := gs.sessions.Validate(ctx, cmd.SessionId); err != nil {
		var identityErr *bugout.IdentityError
		if errors.As(err, &identityErr) {
			gs.logger.Warn("Dropping sync from unknown session",
				zap.String("gameId", string(cmd.GameId)),
				zap.String("sessionId", string(cmd.SessionId)),
			)
		}
		return err
	}

	return gs.once(ctx, idem.Key(string(cmd.SessionId), cmd.ReqId), func() event.Event {
		g := gs.game(cmd.GameId)

		if m := cmd.LastMove; m != nil && m.Turn == g.turn() && m.Player == g.playerUp() && g.inBounds(m.Coord) {
			gs.apply(g, *m)
			gs.logger.Debug("Applied move reported by sync",
				zap.String("gameId", string(cmd.GameId)),
				zap.Uint32("turn", m.Turn),
			)
		}

		return event.SyncReply{
			SessionId: cmd.SessionId,
			ReplyTo:   cmd.ReqId,
			PlayerUp:  g.playerUp(),
			Turn:      g.turn(),
			Moves:     g.history(),
			GameId:    cmd.GameId,
		}
	})
}

func (gs *GameState) HandleUndoMove(ctx context.Context, cmd command.UndoMove) error {
	return gs.once(ctx, idem.Key(string(cmd.GameId), cmd.ReqId), func() event.Event {
		g := gs.game(cmd.GameId)

		reject := func(reason string) event.Event {
			return event.UndoRejected{GameId: cmd.GameId, ReplyTo: cmd.ReqId, Player: cmd.Player, Reason: reason}
		}
		switch {
		case len(g.moves) == 0:
			return reject("no moves to undo")
		case g.moves[len(g.moves)-1].Player != cmd.Player:
			return reject("last move was not played by " + string(cmd.Player))
		case g.bots[cmd.Player.Other()]:
			return reject("cannot undo against a bot")
		}

		g.moves = g.moves[:len(g.moves)-1]
		return event.MoveUndone{
			GameId:  cmd.GameId,
			ReplyTo: cmd.ReqId,
			Player:  cmd.Player,
			Turn:    g.turn(),
		}
	})
}

func (gs *GameState) HandleAttachBot(ctx context.Context, cmd command.AttachBot) error {
	gs.mu.Lock()
	g := gs.game(cmd.GameId)
	g.bots[cmd.Player] = true
	if cmd.BoardSize != nil && len(g.moves) == 0 && cmd.BoardSize.Valid() {
		g.boardSize = *cmd.BoardSize
	}
	gs.mu.Unlock()

	return gs.emitter.Emit(ctx, event.BotAttached{GameId: cmd.GameId, Player: cmd.Player})
}

// History returns a copy of the moves recorded for a game.
func (gs *GameState) History(id model.GameId) []model.Move {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if g, ok := gs.games[id]; ok {
		return g.history()
	}
	return nil
}

// once computes an outcome at most once per key and emits it. A nil
// outcome means the request was dropped.
func (gs *GameState) once(ctx context.Context, key string, compute func() event.Event) error {
	ev, err := gs.requests.Do(ctx, key, func(context.Context) (event.Event, error) {
		gs.mu.Lock()
		defer gs.mu.Unlock()
		return compute(), nil
	})

	var dup *bugout.DuplicateRequestError
	if errors.As(err, &dup) {
		gs.logger.Debug("Replaying recorded outcome", zap.String("request", key))
	} else if err != nil {
		return err
	}

	if ev == nil {
		return nil
	}
	return gs.emitter.Emit(ctx, ev)
}

func (gs *GameState) apply(g *game, m model.Move) model.Move {
	if m.Coord != nil {
		c := *m.Coord
		m.Coord = &c
	}
	m.Turn = g.turn()
	g.moves = append(g.moves, m)
	return m
}

// game returns the state for id, creating it on first use.
func (gs *GameState) game(id model.GameId) *game {
	g, ok := gs.games[id]
	if !ok {
		g = &game{boardSize: model.DefaultBoardSize, bots: make(map[model.Player]bool)}
		gs.games[id] = g
	}
	return g
}
