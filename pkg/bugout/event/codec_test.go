package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/model"
)

func sampleEvents() []Event {
	moves := []model.Move{
		{Player: model.Black, Coord: &model.Coord{X: 3, Y: 3}, Turn: 1},
		{Player: model.White, Turn: 2},
	}
	return []Event{
		MoveMade{GameId: "g42", ReplyTo: "r1", Player: model.Black, Coord: &model.Coord{X: 4, Y: 4}, Captured: []model.Coord{{X: 4, Y: 5}}, Turn: 3},
		HistoryProvided{GameId: "g42", ReplyTo: "r2", Moves: moves},
		PrivateGameRejected{GameId: "g_unknown", ClientId: "c2", EventId: "e1", SessionId: "s2"},
		GameReady{GameId: "g42", Sessions: GameSessions{Black: "s1", White: "s2"}, EventId: "e2", BoardSize: 19},
		WaitForOpponent{GameId: "g42", SessionId: "s1", EventId: "e3", Visibility: model.Public},
		ColorsChosen{GameId: "g42", Black: "c1", White: "c2"},
		BotAttached{GameId: "g42", Player: model.White},
		SyncReply{SessionId: "s1", ReplyTo: "r7", PlayerUp: model.Black, Turn: 14, Moves: moves, GameId: "g42"},
		MoveUndone{GameId: "g42", ReplyTo: "r8", Player: model.Black, Turn: 2},
		UndoRejected{GameId: "g42", ReplyTo: "r9", Player: model.White, Reason: "not your turn"},
	}
}

func TestRoundTripEveryKind(t *testing.T) {
	seen := map[Kind]bool{}
	for _, ev := range sampleEvents() {
		data, err := Encode(ev)
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, ev, decoded)
		seen[ev.Kind()] = true
	}
	for _, k := range Kinds() {
		assert.True(t, seen[k], "kind %s not covered", k)
	}
}

func TestDecodeRejectsUnknownAndPartial(t *testing.T) {
	_, err := Decode([]byte(`{"GameOver":{"gameId":"g1"}}`))
	assert.ErrorIs(t, err, bugout.ErrUnknownTag)

	_, err = Decode([]byte(`{"BotAttached":{"gameId":"g1"}}`))
	assert.ErrorIs(t, err, bugout.ErrMissingField)

	_, err = Decode([]byte(`{"BotAttached":{"gameId":"g1","player":"GREEN"}}`))
	assert.ErrorIs(t, err, bugout.ErrFieldType)
}

type countingHandler struct {
	calls map[Kind]int
}

func (c *countingHandler) record(k Kind) error {
	c.calls[k]++
	return nil
}

func (c *countingHandler) HandleMoveMade(_ context.Context, e MoveMade) error { return c.record(e.Kind()) }
func (c *countingHandler) HandleHistoryProvided(_ context.Context, e HistoryProvided) error {
	return c.record(e.Kind())
}
func (c *countingHandler) HandlePrivateGameRejected(_ context.Context, e PrivateGameRejected) error {
	return c.record(e.Kind())
}
func (c *countingHandler) HandleGameReady(_ context.Context, e GameReady) error { return c.record(e.Kind()) }
func (c *countingHandler) HandleWaitForOpponent(_ context.Context, e WaitForOpponent) error {
	return c.record(e.Kind())
}
func (c *countingHandler) HandleColorsChosen(_ context.Context, e ColorsChosen) error {
	return c.record(e.Kind())
}
func (c *countingHandler) HandleBotAttached(_ context.Context, e BotAttached) error {
	return c.record(e.Kind())
}
func (c *countingHandler) HandleSyncReply(_ context.Context, e SyncReply) error { return c.record(e.Kind()) }
func (c *countingHandler) HandleMoveUndone(_ context.Context, e MoveUndone) error {
	return c.record(e.Kind())
}
func (c *countingHandler) HandleUndoRejected(_ context.Context, e UndoRejected) error {
	return c.record(e.Kind())
}

func TestDispatchReachesEveryKind(t *testing.T) {
	h := &countingHandler{calls: map[Kind]int{}}
	for _, ev := range sampleEvents() {
		require.NoError(t, Dispatch(context.Background(), ev, h))
	}
	for _, k := range Kinds() {
		assert.Equal(t, 1, h.calls[k], k)
	}
}
