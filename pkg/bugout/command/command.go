// Package command defines the closed set of instructions a gateway may
// send to a backend.
//
// Command is a sealed interface: only the variant types declared in this
// package satisfy it. Consumers handle commands through Handler, which
// has one method per variant, so adding a variant is a compile error at
// every consumer until it is handled.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsarna/bugout/pkg/bugout/model"
)

// Kind is the variant tag written on the wire.
type Kind string

const (
	KindMakeMove            Kind = "MakeMove"
	KindProvideHistory      Kind = "ProvideHistory"
	KindJoinPrivateGame     Kind = "JoinPrivateGame"
	KindFindPublicGame      Kind = "FindPublicGame"
	KindCreateGame          Kind = "CreateGame"
	KindChooseColorPref     Kind = "ChooseColorPref"
	KindClientHeartbeat     Kind = "ClientHeartbeat"
	KindSessionDisconnected Kind = "SessionDisconnected"
	KindQuitGame            Kind = "QuitGame"
	KindAttachBot           Kind = "AttachBot"
	KindReqSync             Kind = "ReqSync"
	KindUndoMove            Kind = "UndoMove"
)

var kinds = []Kind{
	KindMakeMove,
	KindProvideHistory,
	KindJoinPrivateGame,
	KindFindPublicGame,
	KindCreateGame,
	KindChooseColorPref,
	KindClientHeartbeat,
	KindSessionDisconnected,
	KindQuitGame,
	KindAttachBot,
	KindReqSync,
	KindUndoMove,
}

// Kinds returns every command kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func (k Kind) Valid() bool {
	_, ok := variants[k]
	return ok
}

// IsNotice reports whether the kind is a gateway-originated notice: a
// command that expects no reply and is observed by any interested backend.
// Notices travel on event-direction channels.
func (k Kind) IsNotice() bool {
	return k == KindClientHeartbeat || k == KindSessionDisconnected
}

// ErrUnhandled is returned by UnimplementedHandler.
var ErrUnhandled = errors.New("command not handled by this consumer")

// Command is one gateway-to-backend instruction. Values are immutable once
// constructed; a backend may observe the same command more than once.
type Command interface {
	Kind() Kind
	// PartitionKey is the ordering key used when publishing. Commands that
	// touch a single game are keyed by its GameId.
	PartitionKey() string

	validate() error
}

type MakeMove struct {
	GameId model.GameId `json:"gameId"`
	ReqId  model.ReqId  `json:"reqId"`
	Player model.Player `json:"player"`
	Coord  *model.Coord `json:"coord"`
}

type ProvideHistory struct {
	GameId model.GameId `json:"gameId"`
	ReqId  model.ReqId  `json:"reqId"`
}

type JoinPrivateGame struct {
	GameId    model.GameId    `json:"gameId"`
	ClientId  model.ClientId  `json:"clientId"`
	SessionId model.SessionId `json:"sessionId"`
}

type FindPublicGame struct {
	ClientId  model.ClientId  `json:"clientId"`
	SessionId model.SessionId `json:"sessionId"`
}

// CreateGame asks the lobby for a new game. It deliberately has no GameId:
// the lobby assigns one, so concurrent creations cannot race on identity.
type CreateGame struct {
	ClientId   model.ClientId   `json:"clientId"`
	Visibility model.Visibility `json:"visibility"`
	SessionId  model.SessionId  `json:"sessionId"`
	BoardSize  model.BoardSize  `json:"boardSize"`
}

type ChooseColorPref struct {
	ClientId  model.ClientId  `json:"clientId"`
	ColorPref model.ColorPref `json:"colorPref"`
	SessionId model.SessionId `json:"sessionId"`
}

type ClientHeartbeat struct {
	ClientId      model.ClientId      `json:"clientId"`
	HeartbeatType model.HeartbeatType `json:"heartbeatType"`
}

type SessionDisconnected struct {
	SessionId model.SessionId `json:"sessionId"`
}

type QuitGame struct {
	ClientId model.ClientId `json:"clientId"`
	GameId   model.GameId   `json:"gameId"`
}

// AttachBot asks the bot service to play one side of a game. Its field
// shape is owned by the bot service.
type AttachBot struct {
	GameId    model.GameId     `json:"gameId"`
	Player    model.Player     `json:"player"`
	BoardSize *model.BoardSize `json:"boardSize"`
}

// ReqSync reconciles a client's view of a game with the server's. The
// SessionId is assigned by the gateway from its own session store and is
// never copied from client input.
type ReqSync struct {
	SessionId model.SessionId `json:"sessionId"`
	ReqId     model.ReqId     `json:"reqId"`
	PlayerUp  model.Player    `json:"playerUp"`
	Turn      uint32          `json:"turn"`
	LastMove  *model.Move     `json:"lastMove"`
	GameId    model.GameId    `json:"gameId"`
}

// UndoMove asks the undo service to take back the last move. Its field
// shape is owned by the undo service.
type UndoMove struct {
	GameId model.GameId `json:"gameId"`
	ReqId  model.ReqId  `json:"reqId"`
	Player model.Player `json:"player"`
}

func (MakeMove) Kind() Kind            { return KindMakeMove }
func (ProvideHistory) Kind() Kind      { return KindProvideHistory }
func (JoinPrivateGame) Kind() Kind     { return KindJoinPrivateGame }
func (FindPublicGame) Kind() Kind      { return KindFindPublicGame }
func (CreateGame) Kind() Kind          { return KindCreateGame }
func (ChooseColorPref) Kind() Kind     { return KindChooseColorPref }
func (ClientHeartbeat) Kind() Kind     { return KindClientHeartbeat }
func (SessionDisconnected) Kind() Kind { return KindSessionDisconnected }
func (QuitGame) Kind() Kind            { return KindQuitGame }
func (AttachBot) Kind() Kind           { return KindAttachBot }
func (ReqSync) Kind() Kind             { return KindReqSync }
func (UndoMove) Kind() Kind            { return KindUndoMove }

func (c MakeMove) PartitionKey() string            { return string(c.GameId) }
func (c ProvideHistory) PartitionKey() string      { return string(c.GameId) }
func (c JoinPrivateGame) PartitionKey() string     { return string(c.GameId) }
func (c FindPublicGame) PartitionKey() string      { return string(c.SessionId) }
func (c CreateGame) PartitionKey() string          { return string(c.SessionId) }
func (c ChooseColorPref) PartitionKey() string     { return string(c.SessionId) }
func (c ClientHeartbeat) PartitionKey() string     { return string(c.ClientId) }
func (c SessionDisconnected) PartitionKey() string { return string(c.SessionId) }
func (c QuitGame) PartitionKey() string            { return string(c.GameId) }
func (c AttachBot) PartitionKey() string           { return string(c.GameId) }
func (c ReqSync) PartitionKey() string             { return string(c.GameId) }
func (c UndoMove) PartitionKey() string            { return string(c.GameId) }

// Handler consumes commands. It has one method per variant.
type Handler interface {
	HandleMakeMove(ctx context.Context, cmd MakeMove) error
	HandleProvideHistory(ctx context.Context, cmd ProvideHistory) error
	HandleJoinPrivateGame(ctx context.Context, cmd JoinPrivateGame) error
	HandleFindPublicGame(ctx context.Context, cmd FindPublicGame) error
	HandleCreateGame(ctx context.Context, cmd CreateGame) error
	HandleChooseColorPref(ctx context.Context, cmd ChooseColorPref) error
	HandleClientHeartbeat(ctx context.Context, cmd ClientHeartbeat) error
	HandleSessionDisconnected(ctx context.Context, cmd SessionDisconnected) error
	HandleQuitGame(ctx context.Context, cmd QuitGame) error
	HandleAttachBot(ctx context.Context, cmd AttachBot) error
	HandleReqSync(ctx context.Context, cmd ReqSync) error
	HandleUndoMove(ctx context.Context, cmd UndoMove) error
}

// Dispatch calls the Handler method matching the command's variant.
func Dispatch(ctx context.Context, cmd Command, h Handler) error {
	switch c := cmd.(type) {
	case MakeMove:
		return h.HandleMakeMove(ctx, c)
	case ProvideHistory:
		return h.HandleProvideHistory(ctx, c)
	case JoinPrivateGame:
		return h.HandleJoinPrivateGame(ctx, c)
	case FindPublicGame:
		return h.HandleFindPublicGame(ctx, c)
	case CreateGame:
		return h.HandleCreateGame(ctx, c)
	case ChooseColorPref:
		return h.HandleChooseColorPref(ctx, c)
	case ClientHeartbeat:
		return h.HandleClientHeartbeat(ctx, c)
	case SessionDisconnected:
		return h.HandleSessionDisconnected(ctx, c)
	case QuitGame:
		return h.HandleQuitGame(ctx, c)
	case AttachBot:
		return h.HandleAttachBot(ctx, c)
	case ReqSync:
		return h.HandleReqSync(ctx, c)
	case UndoMove:
		return h.HandleUndoMove(ctx, c)
	default:
		return fmt.Errorf("dispatch: unexpected command type %T", cmd)
	}
}

// UnimplementedHandler can be embedded by backends that consume only some
// command topics.
type UnimplementedHandler struct{}

func (UnimplementedHandler) HandleMakeMove(context.Context, MakeMove) error { return ErrUnhandled }
func (UnimplementedHandler) HandleProvideHistory(context.Context, ProvideHistory) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleJoinPrivateGame(context.Context, JoinPrivateGame) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleFindPublicGame(context.Context, FindPublicGame) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleCreateGame(context.Context, CreateGame) error { return ErrUnhandled }
func (UnimplementedHandler) HandleChooseColorPref(context.Context, ChooseColorPref) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleClientHeartbeat(context.Context, ClientHeartbeat) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleSessionDisconnected(context.Context, SessionDisconnected) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleQuitGame(context.Context, QuitGame) error   { return ErrUnhandled }
func (UnimplementedHandler) HandleAttachBot(context.Context, AttachBot) error { return ErrUnhandled }
func (UnimplementedHandler) HandleReqSync(context.Context, ReqSync) error     { return ErrUnhandled }
func (UnimplementedHandler) HandleUndoMove(context.Context, UndoMove) error   { return ErrUnhandled }
