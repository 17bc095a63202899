// Package gateway is the client-facing half of the contract. A client
// transport calls it with the SessionId of the connection it holds; the
// gateway checks that session against the store and fills in every
// identity field itself, so nothing a client asserts about who it is ever
// reaches a backend. Outcomes come back through the gateway's event.Handler
// implementation and are delivered to the sinks of the sessions they
// concern.
//
// Every gateway instance observes every outcome and delivers only to the
// sessions it holds. With the Redis transport, each instance therefore
// needs its own consumer group.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"go.uber.org/zap"
)

// Publisher sends commands. *dispatch.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, cmd command.Command) error
}

// Sink receives the outcomes addressed to one session. Deliver should not
// block; a slow client must not hold up everyone else's outcomes.
type Sink interface {
	Deliver(ctx context.Context, ev event.Event) error
}

type SinkFunc func(ctx context.Context, ev event.Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}

// ErrRequestInUse is returned when a client names a ReqId that another
// session is still waiting on.
var ErrRequestInUse = errors.New("request id is pending for another session")

// DefaultRequestTTL bounds how long a request waits for its outcome before
// a sweep forgets it.
const DefaultRequestTTL = 10 * time.Minute

type pendingRequest struct {
	session model.SessionId
	at      time.Time
}

type Gateway struct {
	publisher  Publisher
	sessions   session.Store
	logger     *zap.Logger
	newReqId   func() string
	now        func() time.Time
	requestTTL time.Duration

	mu      sync.Mutex
	sinks   map[model.SessionId]Sink
	games   map[model.GameId]event.GameSessions
	pending map[model.ReqId]pendingRequest
}

var _ event.Handler = (*Gateway)(nil)

// GatewayBuilder provides a fluent interface for creating a Gateway.
type GatewayBuilder struct {
	publisher  Publisher
	sessions   session.Store
	logger     *zap.Logger
	requestTTL time.Duration
}

func NewGateway(publisher Publisher, sessions session.Store) *GatewayBuilder {
	return &GatewayBuilder{publisher: publisher, sessions: sessions}
}

func (b *GatewayBuilder) WithLogger(logger *zap.Logger) *GatewayBuilder {
	b.logger = logger
	return b
}

// WithRequestTTL sets how long an unanswered request is remembered. Zero
// keeps requests until they are answered or their session disconnects.
func (b *GatewayBuilder) WithRequestTTL(ttl time.Duration) *GatewayBuilder {
	b.requestTTL = ttl
	return b
}

func (b *GatewayBuilder) Build() (*Gateway, error) {
	if b.publisher == nil {
		return nil, fmt.Errorf("gateway requires a publisher")
	}
	if b.sessions == nil {
		return nil, fmt.Errorf("gateway requires a session store")
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		publisher:  b.publisher,
		sessions:   b.sessions,
		logger:     logger,
		newReqId:   uuid.NewString,
		now:        time.Now,
		requestTTL: b.requestTTL,
		sinks:      make(map[model.SessionId]Sink),
		games:      make(map[model.GameId]event.GameSessions),
		pending:    make(map[model.ReqId]pendingRequest),
	}, nil
}

// Connect issues a session for clientId and routes its outcomes to sink.
func (g *Gateway) Connect(ctx context.Context, clientId model.ClientId, sink Sink) (session.Session, error) {
	if clientId == "" {
		return session.Session{}, fmt.Errorf("connect: empty client id")
	}

	s, err := g.sessions.Issue(ctx, clientId)
	if err != nil {
		return session.Session{}, err
	}

	g.mu.Lock()
	g.sinks[s.Id] = sink
	g.mu.Unlock()

	g.logger.Debug("Client connected",
		zap.String("clientId", string(clientId)),
		zap.String("sessionId", string(s.Id)),
	)
	return s, nil
}

// Disconnect ends a session and tells the backends it is gone.
func (g *Gateway) Disconnect(ctx context.Context, id model.SessionId) error {
	g.mu.Lock()
	delete(g.sinks, id)
	for req, p := range g.pending {
		if p.session == id {
			delete(g.pending, req)
		}
	}
	g.mu.Unlock()

	if err := g.sessions.Revoke(ctx, id); err != nil {
		return err
	}

	cmd, err := command.NewSessionDisconnected(id)
	if err != nil {
		return err
	}
	return g.publisher.Publish(ctx, cmd)
}

// Sweep forgets requests that have waited longer than the request TTL for
// an outcome that is never coming.
func (g *Gateway) Sweep(now time.Time) int {
	if g.requestTTL <= 0 {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for req, p := range g.pending {
		if now.Sub(p.at) >= g.requestTTL {
			delete(g.pending, req)
			removed++
		}
	}
	return removed
}

// Connected reports how many sessions have a sink on this gateway.
func (g *Gateway) Connected() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sinks)
}

func (g *Gateway) Heartbeat(ctx context.Context, id model.SessionId, kind model.HeartbeatType) error {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewClientHeartbeat(s.ClientId, kind)
	})
}

func (g *Gateway) CreateGame(ctx context.Context, id model.SessionId, visibility model.Visibility, size model.BoardSize) error {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewCreateGame(s.ClientId, visibility, s.Id, size)
	})
}

func (g *Gateway) FindPublicGame(ctx context.Context, id model.SessionId) error {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewFindPublicGame(s.ClientId, s.Id)
	})
}

func (g *Gateway) JoinPrivateGame(ctx context.Context, id model.SessionId, game model.GameId) error {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewJoinPrivateGame(game, s.ClientId, s.Id)
	})
}

func (g *Gateway) ChooseColorPref(ctx context.Context, id model.SessionId, pref model.ColorPref) error {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewChooseColorPref(s.ClientId, pref, s.Id)
	})
}

func (g *Gateway) QuitGame(ctx context.Context, id model.SessionId, game model.GameId) error {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewQuitGame(s.ClientId, game)
	})
}

func (g *Gateway) AttachBot(ctx context.Context, id model.SessionId, game model.GameId, player model.Player, size *model.BoardSize) error {
	if _, err := g.sessions.Validate(ctx, id); err != nil {
		return err
	}
	return g.publish(ctx, func() (command.Command, error) {
		return command.NewAttachBot(game, player, size)
	})
}

// MakeMove submits a move. An empty reqId is replaced with a fresh one; a
// client retrying a move passes the id it was given the first time.
func (g *Gateway) MakeMove(ctx context.Context, id model.SessionId, reqId model.ReqId, game model.GameId, player model.Player, coord *model.Coord) (model.ReqId, error) {
	return g.request(ctx, id, reqId, func(s session.Session, r model.ReqId) (command.Command, error) {
		return command.NewMakeMove(game, r, player, coord)
	})
}

func (g *Gateway) ProvideHistory(ctx context.Context, id model.SessionId, reqId model.ReqId, game model.GameId) (model.ReqId, error) {
	return g.request(ctx, id, reqId, func(s session.Session, r model.ReqId) (command.Command, error) {
		return command.NewProvideHistory(game, r)
	})
}

// ReqSync asks the game backend to reconcile. The SessionId placed in the
// command is the one the store returned, never a client-supplied value.
func (g *Gateway) ReqSync(ctx context.Context, id model.SessionId, reqId model.ReqId, game model.GameId, playerUp model.Player, turn uint32, lastMove *model.Move) (model.ReqId, error) {
	return g.request(ctx, id, reqId, func(s session.Session, r model.ReqId) (command.Command, error) {
		return command.NewReqSync(s.Id, r, playerUp, turn, lastMove, game)
	})
}

func (g *Gateway) UndoMove(ctx context.Context, id model.SessionId, reqId model.ReqId, game model.GameId, player model.Player) (model.ReqId, error) {
	return g.request(ctx, id, reqId, func(s session.Session, r model.ReqId) (command.Command, error) {
		return command.NewUndoMove(game, r, player)
	})
}

func (g *Gateway) publish(ctx context.Context, build func() (command.Command, error)) error {
	cmd, err := build()
	if err != nil {
		return err
	}
	return g.publisher.Publish(ctx, cmd)
}

// request publishes a command that expects a reply correlated by ReqId and
// remembers which session asked.
func (g *Gateway) request(ctx context.Context, id model.SessionId, reqId model.ReqId, build func(session.Session, model.ReqId) (command.Command, error)) (model.ReqId, error) {
	s, err := g.sessions.Validate(ctx, id)
	if err != nil {
		return "", err
	}
	if reqId == "" {
		reqId = model.ReqId(g.newReqId())
	}

	cmd, err := build(s, reqId)
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	prior, retry := g.pending[reqId]
	if retry && prior.session != s.Id {
		g.mu.Unlock()
		g.logger.Warn("Request id already pending for another session",
			zap.String("sessionId", string(s.Id)),
			zap.String("reqId", string(reqId)),
		)
		return "", fmt.Errorf("%w: %s", ErrRequestInUse, reqId)
	}
	g.pending[reqId] = pendingRequest{session: s.Id, at: g.now()}
	g.mu.Unlock()

	if err := g.publisher.Publish(ctx, cmd); err != nil {
		// a failed retry leaves the original attempt waiting
		if !retry {
			g.mu.Lock()
			delete(g.pending, reqId)
			g.mu.Unlock()
		}
		return "", err
	}
	return reqId, nil
}
