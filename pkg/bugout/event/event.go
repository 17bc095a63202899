// Package event defines the outcomes backends publish in reply to
// commands. Each outcome kind has its own topic; there is no generic
// result message carrying a discriminant.
package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsarna/bugout/pkg/bugout/model"
)

type Kind string

const (
	KindMoveMade            Kind = "MoveMade"
	KindHistoryProvided     Kind = "HistoryProvided"
	KindPrivateGameRejected Kind = "PrivateGameRejected"
	KindGameReady           Kind = "GameReady"
	KindWaitForOpponent     Kind = "WaitForOpponent"
	KindColorsChosen        Kind = "ColorsChosen"
	KindBotAttached         Kind = "BotAttached"
	KindSyncReply           Kind = "SyncReply"
	KindMoveUndone          Kind = "MoveUndone"
	KindUndoRejected        Kind = "UndoRejected"
)

var kinds = []Kind{
	KindMoveMade,
	KindHistoryProvided,
	KindPrivateGameRejected,
	KindGameReady,
	KindWaitForOpponent,
	KindColorsChosen,
	KindBotAttached,
	KindSyncReply,
	KindMoveUndone,
	KindUndoRejected,
}

// Kinds returns every event kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func (k Kind) Valid() bool {
	_, ok := variants[k]
	return ok
}

var ErrUnhandled = errors.New("event not handled by this consumer")

// Event is the outcome of a previously issued command.
type Event interface {
	Kind() Kind
	// PartitionKey orders events for one game.
	PartitionKey() string

	isEvent()
}

type MoveMade struct {
	GameId   model.GameId  `json:"gameId"`
	ReplyTo  model.ReqId   `json:"replyTo"`
	Player   model.Player  `json:"player"`
	Coord    *model.Coord  `json:"coord"`
	Captured []model.Coord `json:"captured"`
	Turn     uint32        `json:"turn"`
}

type HistoryProvided struct {
	GameId  model.GameId `json:"gameId"`
	ReplyTo model.ReqId  `json:"replyTo"`
	Moves   []model.Move `json:"moves"`
}

type PrivateGameRejected struct {
	GameId    model.GameId    `json:"gameId"`
	ClientId  model.ClientId  `json:"clientId"`
	EventId   model.EventId   `json:"eventId"`
	SessionId model.SessionId `json:"sessionId"`
}

// GameSessions names the session seated on each side.
type GameSessions struct {
	Black model.SessionId `json:"black"`
	White model.SessionId `json:"white"`
}

type GameReady struct {
	GameId    model.GameId    `json:"gameId"`
	Sessions  GameSessions    `json:"sessions"`
	EventId   model.EventId   `json:"eventId"`
	BoardSize model.BoardSize `json:"boardSize"`
}

type WaitForOpponent struct {
	GameId     model.GameId     `json:"gameId"`
	SessionId  model.SessionId  `json:"sessionId"`
	EventId    model.EventId    `json:"eventId"`
	Visibility model.Visibility `json:"visibility"`
}

type ColorsChosen struct {
	GameId model.GameId   `json:"gameId"`
	Black  model.ClientId `json:"black"`
	White  model.ClientId `json:"white"`
}

type BotAttached struct {
	GameId model.GameId `json:"gameId"`
	Player model.Player `json:"player"`
}

type SyncReply struct {
	SessionId model.SessionId `json:"sessionId"`
	ReplyTo   model.ReqId     `json:"replyTo"`
	PlayerUp  model.Player    `json:"playerUp"`
	Turn      uint32          `json:"turn"`
	Moves     []model.Move    `json:"moves"`
	GameId    model.GameId    `json:"gameId"`
}

type MoveUndone struct {
	GameId  model.GameId `json:"gameId"`
	ReplyTo model.ReqId  `json:"replyTo"`
	Player  model.Player `json:"player"`
	Turn    uint32       `json:"turn"`
}

type UndoRejected struct {
	GameId  model.GameId `json:"gameId"`
	ReplyTo model.ReqId  `json:"replyTo"`
	Player  model.Player `json:"player"`
	Reason  string       `json:"reason,omitempty"`
}

func (MoveMade) Kind() Kind            { return KindMoveMade }
func (HistoryProvided) Kind() Kind     { return KindHistoryProvided }
func (PrivateGameRejected) Kind() Kind { return KindPrivateGameRejected }
func (GameReady) Kind() Kind           { return KindGameReady }
func (WaitForOpponent) Kind() Kind     { return KindWaitForOpponent }
func (ColorsChosen) Kind() Kind        { return KindColorsChosen }
func (BotAttached) Kind() Kind         { return KindBotAttached }
func (SyncReply) Kind() Kind           { return KindSyncReply }
func (MoveUndone) Kind() Kind          { return KindMoveUndone }
func (UndoRejected) Kind() Kind        { return KindUndoRejected }

func (e MoveMade) PartitionKey() string            { return string(e.GameId) }
func (e HistoryProvided) PartitionKey() string     { return string(e.GameId) }
func (e PrivateGameRejected) PartitionKey() string { return string(e.GameId) }
func (e GameReady) PartitionKey() string           { return string(e.GameId) }
func (e WaitForOpponent) PartitionKey() string     { return string(e.GameId) }
func (e ColorsChosen) PartitionKey() string        { return string(e.GameId) }
func (e BotAttached) PartitionKey() string         { return string(e.GameId) }
func (e SyncReply) PartitionKey() string           { return string(e.GameId) }
func (e MoveUndone) PartitionKey() string          { return string(e.GameId) }
func (e UndoRejected) PartitionKey() string        { return string(e.GameId) }

func (MoveMade) isEvent()            {}
func (HistoryProvided) isEvent()     {}
func (PrivateGameRejected) isEvent() {}
func (GameReady) isEvent()           {}
func (WaitForOpponent) isEvent()     {}
func (ColorsChosen) isEvent()        {}
func (BotAttached) isEvent()         {}
func (SyncReply) isEvent()           {}
func (MoveUndone) isEvent()          {}
func (UndoRejected) isEvent()        {}

type Handler interface {
	HandleMoveMade(ctx context.Context, ev MoveMade) error
	HandleHistoryProvided(ctx context.Context, ev HistoryProvided) error
	HandlePrivateGameRejected(ctx context.Context, ev PrivateGameRejected) error
	HandleGameReady(ctx context.Context, ev GameReady) error
	HandleWaitForOpponent(ctx context.Context, ev WaitForOpponent) error
	HandleColorsChosen(ctx context.Context, ev ColorsChosen) error
	HandleBotAttached(ctx context.Context, ev BotAttached) error
	HandleSyncReply(ctx context.Context, ev SyncReply) error
	HandleMoveUndone(ctx context.Context, ev MoveUndone) error
	HandleUndoRejected(ctx context.Context, ev UndoRejected) error
}

func Dispatch(ctx context.Context, ev Event, h Handler) error {
	switch e := ev.(type) {
	case MoveMade:
		return h.HandleMoveMade(ctx, e)
	case HistoryProvided:
		return h.HandleHistoryProvided(ctx, e)
	case PrivateGameRejected:
		return h.HandlePrivateGameRejected(ctx, e)
	case GameReady:
		return h.HandleGameReady(ctx, e)
	case WaitForOpponent:
		return h.HandleWaitForOpponent(ctx, e)
	case ColorsChosen:
		return h.HandleColorsChosen(ctx, e)
	case BotAttached:
		return h.HandleBotAttached(ctx, e)
	case SyncReply:
		return h.HandleSyncReply(ctx, e)
	case MoveUndone:
		return h.HandleMoveUndone(ctx, e)
	case UndoRejected:
		return h.HandleUndoRejected(ctx, e)
	default:
		return fmt.Errorf("dispatch: unexpected event type %T", ev)
	}
}

// UnimplementedHandler can be embedded by consumers that observe only some
// outcome topics.
type UnimplementedHandler struct{}

func (UnimplementedHandler) HandleMoveMade(context.Context, MoveMade) error { return ErrUnhandled }
func (UnimplementedHandler) HandleHistoryProvided(context.Context, HistoryProvided) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandlePrivateGameRejected(context.Context, PrivateGameRejected) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleGameReady(context.Context, GameReady) error { return ErrUnhandled }
func (UnimplementedHandler) HandleWaitForOpponent(context.Context, WaitForOpponent) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleColorsChosen(context.Context, ColorsChosen) error {
	return ErrUnhandled
}
func (UnimplementedHandler) HandleBotAttached(context.Context, BotAttached) error { return ErrUnhandled }
func (UnimplementedHandler) HandleSyncReply(context.Context, SyncReply) error     { return ErrUnhandled }
func (UnimplementedHandler) HandleMoveUndone(context.Context, MoveUndone) error   { return ErrUnhandled }
func (UnimplementedHandler) HandleUndoRejected(context.Context, UndoRejected) error {
	return ErrUnhandled
}
