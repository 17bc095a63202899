package command

import (
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/model"
)

func NewMakeMove(gameId model.GameId, reqId model.ReqId, player model.Player, coord *model.Coord) (MakeMove, error) {
	c := MakeMove{GameId: gameId, ReqId: reqId, Player: player, Coord: copyCoord(coord)}
	return c, c.validate()
}

func NewProvideHistory(gameId model.GameId, reqId model.ReqId) (ProvideHistory, error) {
	c := ProvideHistory{GameId: gameId, ReqId: reqId}
	return c, c.validate()
}

func NewJoinPrivateGame(gameId model.GameId, clientId model.ClientId, sessionId model.SessionId) (JoinPrivateGame, error) {
	c := JoinPrivateGame{GameId: gameId, ClientId: clientId, SessionId: sessionId}
	return c, c.validate()
}

func NewFindPublicGame(clientId model.ClientId, sessionId model.SessionId) (FindPublicGame, error) {
	c := FindPublicGame{ClientId: clientId, SessionId: sessionId}
	return c, c.validate()
}

func NewCreateGame(clientId model.ClientId, visibility model.Visibility, sessionId model.SessionId, boardSize model.BoardSize) (CreateGame, error) {
	c := CreateGame{ClientId: clientId, Visibility: visibility, SessionId: sessionId, BoardSize: boardSize}
	return c, c.validate()
}

func NewChooseColorPref(clientId model.ClientId, pref model.ColorPref, sessionId model.SessionId) (ChooseColorPref, error) {
	c := ChooseColorPref{ClientId: clientId, ColorPref: pref, SessionId: sessionId}
	return c, c.validate()
}

func NewClientHeartbeat(clientId model.ClientId, heartbeatType model.HeartbeatType) (ClientHeartbeat, error) {
	c := ClientHeartbeat{ClientId: clientId, HeartbeatType: heartbeatType}
	return c, c.validate()
}

func NewSessionDisconnected(sessionId model.SessionId) (SessionDisconnected, error) {
	c := SessionDisconnected{SessionId: sessionId}
	return c, c.validate()
}

func NewQuitGame(clientId model.ClientId, gameId model.GameId) (QuitGame, error) {
	c := QuitGame{ClientId: clientId, GameId: gameId}
	return c, c.validate()
}

func NewAttachBot(gameId model.GameId, player model.Player, boardSize *model.BoardSize) (AttachBot, error) {
	c := AttachBot{GameId: gameId, Player: player}
	if boardSize != nil {
		size := *boardSize
		c.BoardSize = &size
	}
	return c, c.validate()
}

// NewReqSync builds a sync request. sessionId must come from the gateway's
// session store.
func NewReqSync(sessionId model.SessionId, reqId model.ReqId, playerUp model.Player, turn uint32, lastMove *model.Move, gameId model.GameId) (ReqSync, error) {
	c := ReqSync{
		SessionId: sessionId,
		ReqId:     reqId,
		PlayerUp:  playerUp,
		Turn:      turn,
		GameId:    gameId,
	}
	if lastMove != nil {
		m := *lastMove
		m.Coord = copyCoord(lastMove.Coord)
		c.LastMove = &m
	}
	return c, c.validate()
}

func NewUndoMove(gameId model.GameId, reqId model.ReqId, player model.Player) (UndoMove, error) {
	c := UndoMove{GameId: gameId, ReqId: reqId, Player: player}
	return c, c.validate()
}

func (c MakeMove) validate() error {
	return firstErr(
		present(KindMakeMove, "gameId", c.GameId),
		present(KindMakeMove, "reqId", c.ReqId),
		member(KindMakeMove, "player", c.Player.Valid()),
	)
}

func (c ProvideHistory) validate() error {
	return firstErr(
		present(KindProvideHistory, "gameId", c.GameId),
		present(KindProvideHistory, "reqId", c.ReqId),
	)
}

func (c JoinPrivateGame) validate() error {
	return firstErr(
		present(KindJoinPrivateGame, "gameId", c.GameId),
		present(KindJoinPrivateGame, "clientId", c.ClientId),
		present(KindJoinPrivateGame, "sessionId", c.SessionId),
	)
}

func (c FindPublicGame) validate() error {
	return firstErr(
		present(KindFindPublicGame, "clientId", c.ClientId),
		present(KindFindPublicGame, "sessionId", c.SessionId),
	)
}

func (c CreateGame) validate() error {
	return firstErr(
		present(KindCreateGame, "clientId", c.ClientId),
		member(KindCreateGame, "visibility", c.Visibility.Valid()),
		present(KindCreateGame, "sessionId", c.SessionId),
	)
}

func (c ChooseColorPref) validate() error {
	return firstErr(
		present(KindChooseColorPref, "clientId", c.ClientId),
		member(KindChooseColorPref, "colorPref", c.ColorPref.Valid()),
		present(KindChooseColorPref, "sessionId", c.SessionId),
	)
}

func (c ClientHeartbeat) validate() error {
	return firstErr(
		present(KindClientHeartbeat, "clientId", c.ClientId),
		member(KindClientHeartbeat, "heartbeatType", c.HeartbeatType.Valid()),
	)
}

func (c SessionDisconnected) validate() error {
	return present(KindSessionDisconnected, "sessionId", c.SessionId)
}

func (c QuitGame) validate() error {
	return firstErr(
		present(KindQuitGame, "clientId", c.ClientId),
		present(KindQuitGame, "gameId", c.GameId),
	)
}

func (c AttachBot) validate() error {
	return firstErr(
		present(KindAttachBot, "gameId", c.GameId),
		member(KindAttachBot, "player", c.Player.Valid()),
	)
}

func (c ReqSync) validate() error {
	err := firstErr(
		present(KindReqSync, "sessionId", c.SessionId),
		present(KindReqSync, "reqId", c.ReqId),
		member(KindReqSync, "playerUp", c.PlayerUp.Valid()),
		present(KindReqSync, "gameId", c.GameId),
	)
	if err == nil && c.LastMove != nil {
		err = member(KindReqSync, "lastMove", c.LastMove.Player.Valid())
	}
	return err
}

func (c UndoMove) validate() error {
	return firstErr(
		present(KindUndoMove, "gameId", c.GameId),
		present(KindUndoMove, "reqId", c.ReqId),
		member(KindUndoMove, "player", c.Player.Valid()),
	)
}

func present[T ~string](kind Kind, field string, v T) error {
	if v == "" {
		return &bugout.SchemaError{Tag: string(kind), Field: field, Err: bugout.ErrMissingField}
	}
	return nil
}

func member(kind Kind, field string, ok bool) error {
	if !ok {
		return &bugout.SchemaError{Tag: string(kind), Field: field, Err: bugout.ErrFieldType}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func copyCoord(c *model.Coord) *model.Coord {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}
