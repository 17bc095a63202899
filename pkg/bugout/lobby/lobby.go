// Package lobby is the matchmaking backend. It is the only component that
// mints GameIds.
//
// Every CreateGame, FindPublicGame and JoinPrivateGame produces exactly one
// outcome: WaitForOpponent or GameReady for the first two,
// GameReady or PrivateGameRejected for the last. A session is seated in at
// most one game at a time, which makes redelivered requests replay their
// recorded outcome instead of opening a second game. QuitGame releases the
// seat.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"go.uber.org/zap"
)

// Emitter publishes outcomes. *dispatch.Emitter satisfies it.
type Emitter interface {
	Emit(ctx context.Context, ev event.Event) error
}

// Kinds lists the command kinds the lobby consumes. QuitGame travels on a
// reserved topic and is only included when withReserved is set.
func Kinds(withReserved bool) []command.Kind {
	kinds := []command.Kind{
		command.KindCreateGame,
		command.KindFindPublicGame,
		command.KindJoinPrivateGame,
		command.KindChooseColorPref,
		command.KindSessionDisconnected,
	}
	if withReserved {
		kinds = append(kinds, command.KindQuitGame)
	}
	return kinds
}

type seat struct {
	client  model.ClientId
	session model.SessionId
}

type colorChoice struct {
	session model.SessionId
	pref    model.ColorPref
}

type game struct {
	id         model.GameId
	visibility model.Visibility
	boardSize  model.BoardSize
	creator    seat
	joiner     seat

	waiting event.WaitForOpponent
	ready   *event.GameReady
	choices []colorChoice
	colors  *event.ColorsChosen
}

func (g *game) seats(s model.SessionId) bool {
	return g.creator.session == s || (g.ready != nil && g.joiner.session == s)
}

type Lobby struct {
	command.UnimplementedHandler

	emitter  Emitter
	sessions session.Store
	logger   *zap.Logger
	newId    func() string

	mu        sync.Mutex
	games     map[model.GameId]*game
	public    []model.GameId
	bySession map[model.SessionId]model.GameId
}

var _ command.Handler = (*Lobby)(nil)

// LobbyBuilder provides a fluent interface for creating a Lobby.
type LobbyBuilder struct {
	emitter  Emitter
	sessions session.Store
	logger   *zap.Logger
}

func NewLobby(emitter Emitter) *LobbyBuilder {
	return &LobbyBuilder{emitter: emitter}
}

// WithSessions makes the lobby check the session on every join, rejecting
// joins from sessions the store does not know.
func (b *LobbyBuilder) WithSessions(store session.Store) *LobbyBuilder {
	b.sessions = store
	return b
}

func (b *LobbyBuilder) WithLogger(logger *zap.Logger) *LobbyBuilder {
	b.logger = logger
	return b
}

func (b *LobbyBuilder) Build() (*Lobby, error) {
	if b.emitter == nil {
		return nil, fmt.Errorf("lobby requires an emitter")
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Lobby{
		emitter:   b.emitter,
		sessions:  b.sessions,
		logger:    logger,
		newId:     uuid.NewString,
		games:     make(map[model.GameId]*game),
		bySession: make(map[model.SessionId]model.GameId),
	}, nil
}

func (l *Lobby) HandleCreateGame(ctx context.Context, cmd command.CreateGame) error {
	size := cmd.BoardSize
	if !size.Valid() {
		l.logger.Warn("Unsupported board size, opening a default board",
			zap.String("sessionId", string(cmd.SessionId)),
			zap.Uint16("boardSize", uint16(size)),
		)
		size = model.DefaultBoardSize
	}

	l.mu.Lock()
	ev := l.create(cmd.ClientId, cmd.SessionId, cmd.Visibility, size)
	l.mu.Unlock()

	return l.emitter.Emit(ctx, ev)
}

func (l *Lobby) HandleFindPublicGame(ctx context.Context, cmd command.FindPublicGame) error {
	l.mu.Lock()
	ev := l.findPublic(cmd.ClientId, cmd.SessionId)
	l.mu.Unlock()

	return l.emitter.Emit(ctx, ev)
}

func (l *Lobby) HandleJoinPrivateGame(ctx context.Context, cmd command.JoinPrivateGame) error {
	if l.sessions != nil {
		_, err := l.sessions.Validate(ctx, cmd.SessionId)
		var identityErr *bugout.IdentityError
		if errors.As(err, &identityErr) {
			l.logger.Info("Rejecting join from unknown session",
				zap.String("gameId", string(cmd.GameId)),
				zap.String("sessionId", string(cmd.SessionId)),
				zap.Error(err),
			)
			return l.emitter.Emit(ctx, l.reject(cmd))
		}
		if err != nil {
			return err
		}
	}

	l.mu.Lock()
	ev := l.joinPrivate(cmd)
	l.mu.Unlock()

	return l.emitter.Emit(ctx, ev)
}

func (l *Lobby) HandleChooseColorPref(ctx context.Context, cmd command.ChooseColorPref) error {
	l.mu.Lock()
	ev, ok := l.choose(cmd)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	return l.emitter.Emit(ctx, ev)
}

func (l *Lobby) HandleQuitGame(ctx context.Context, cmd command.QuitGame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	g, ok := l.games[cmd.GameId]
	if !ok {
		return nil
	}
	if g.creator.client != cmd.ClientId && g.joiner.client != cmd.ClientId {
		l.logger.Warn("Ignoring quit from a client not seated in the game",
			zap.String("gameId", string(cmd.GameId)),
			zap.String("clientId", string(cmd.ClientId)),
		)
		return nil
	}

	l.remove(g)
	l.logger.Info("Game closed", zap.String("gameId", string(g.id)))
	return nil
}

// HandleSessionDisconnected abandons a game the session was still waiting
// in. Games already under way keep their seats so the player can sync back.
func (l *Lobby) HandleSessionDisconnected(ctx context.Context, cmd command.SessionDisconnected) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.bySession[cmd.SessionId]
	if !ok {
		return nil
	}
	if g := l.games[id]; g != nil && g.ready == nil {
		l.remove(g)
		l.logger.Debug("Abandoned waiting game",
			zap.String("gameId", string(id)),
			zap.String("sessionId", string(cmd.SessionId)),
		)
	}
	return nil
}

// Waiting reports how many games are waiting for an opponent.
func (l *Lobby) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, g := range l.games {
		if g.ready == nil {
			n++
		}
	}
	return n
}

func (l *Lobby) create(client model.ClientId, s model.SessionId, visibility model.Visibility, size model.BoardSize) event.Event {
	if g := l.current(s); g != nil {
		if g.creator.session == s && g.visibility == visibility && g.boardSize == size {
			return g.waiting
		}
		if g.ready == nil {
			l.remove(g)
		}
	}

	g := &game{
		id:         model.GameId(l.newId()),
		visibility: visibility,
		boardSize:  size,
		creator:    seat{client: client, session: s},
	}
	g.waiting = event.WaitForOpponent{
		GameId:     g.id,
		SessionId:  s,
		EventId:    l.eventId(),
		Visibility: visibility,
	}

	l.games[g.id] = g
	l.bySession[s] = g.id
	if visibility == model.Public {
		l.public = append(l.public, g.id)
	}

	l.logger.Debug("Game created",
		zap.String("gameId", string(g.id)),
		zap.String("visibility", string(visibility)),
	)
	return g.waiting
}

func (l *Lobby) findPublic(client model.ClientId, s model.SessionId) event.Event {
	if g := l.current(s); g != nil && g.visibility == model.Public {
		if g.ready == nil {
			return g.waiting
		}
		if g.joiner.session == s {
			return *g.ready
		}
	}

	for i, id := range l.public {
		g := l.games[id]
		if g.creator.session == s {
			continue
		}
		l.public = append(l.public[:i:i], l.public[i+1:]...)
		return l.seat(g, client, s)
	}

	return l.create(client, s, model.Public, model.DefaultBoardSize)
}

func (l *Lobby) joinPrivate(cmd command.JoinPrivateGame) event.Event {
	g, ok := l.games[cmd.GameId]
	switch {
	case !ok, g.visibility != model.Private, g.creator.session == cmd.SessionId:
		return l.reject(cmd)
	case g.ready != nil && g.joiner.session == cmd.SessionId:
		return *g.ready
	case g.ready != nil:
		return l.reject(cmd)
	}
	return l.seat(g, cmd.ClientId, cmd.SessionId)
}

func (l *Lobby) seat(g *game, client model.ClientId, s model.SessionId) event.Event {
	if prev := l.current(s); prev != nil && prev.ready == nil {
		l.remove(prev)
	}

	g.joiner = seat{client: client, session: s}
	g.ready = &event.GameReady{
		GameId: g.id,
		Sessions: event.GameSessions{
			Black: g.creator.session,
			White: s,
		},
		EventId:   l.eventId(),
		BoardSize: g.boardSize,
	}
	l.bySession[s] = g.id

	l.logger.Debug("Game ready", zap.String("gameId", string(g.id)))
	return *g.ready
}

func (l *Lobby) reject(cmd command.JoinPrivateGame) event.Event {
	return event.PrivateGameRejected{
		GameId:    cmd.GameId,
		ClientId:  cmd.ClientId,
		EventId:   l.eventId(),
		SessionId: cmd.SessionId,
	}
}

// choose records a color preference and, once both players have stated
// one, settles the colors.
func (l *Lobby) choose(cmd command.ChooseColorPref) (event.Event, bool) {
	g := l.current(cmd.SessionId)
	if g == nil || g.ready == nil {
		l.logger.Debug("Color preference outside a ready game",
			zap.String("sessionId", string(cmd.SessionId)),
		)
		return nil, false
	}
	if g.colors != nil {
		return *g.colors, true
	}

	for _, c := range g.choices {
		if c.session == cmd.SessionId {
			return nil, false
		}
	}
	g.choices = append(g.choices, colorChoice{session: cmd.SessionId, pref: cmd.ColorPref})
	if len(g.choices) < 2 {
		return nil, false
	}

	first, second := g.choices[0], g.choices[1]
	black, white := g.creator.client, g.joiner.client
	if settleFirst(first.pref, second.pref) != model.Black {
		black, white = white, black
	}
	if first.session != g.creator.session {
		black, white = white, black
	}

	g.colors = &event.ColorsChosen{GameId: g.id, Black: black, White: white}
	return *g.colors, true
}

// settleFirst returns the color of whoever stated a preference first. A
// specific preference wins over "Any", and the earlier of two conflicting
// preferences wins.
func settleFirst(first, second model.ColorPref) model.Player {
	switch {
	case first == model.PrefBlack:
		return model.Black
	case first == model.PrefWhite:
		return model.White
	case second == model.PrefBlack:
		return model.White
	case second == model.PrefWhite:
		return model.Black
	default:
		return model.Black
	}
}

func (l *Lobby) current(s model.SessionId) *game {
	id, ok := l.bySession[s]
	if !ok {
		return nil
	}
	g, ok := l.games[id]
	if !ok || !g.seats(s) {
		return nil
	}
	return g
}

func (l *Lobby) remove(g *game) {
	delete(l.games, g.id)
	for i, id := range l.public {
		if id == g.id {
			l.public = append(l.public[:i:i], l.public[i+1:]...)
			break
		}
	}
	for _, s := range []model.SessionId{g.creator.session, g.joiner.session} {
		if s != "" && l.bySession[s] == g.id {
			delete(l.bySession, s)
		}
	}
}

func (l *Lobby) eventId() model.EventId {
	return model.EventId(l.newId())
}
