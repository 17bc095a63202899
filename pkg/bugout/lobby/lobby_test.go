package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"go.uber.org/zap/zaptest"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (r *recordingEmitter) Emit(ctx context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

// take returns and clears what has been emitted so far.
func (r *recordingEmitter) take() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func newTestLobby(t *testing.T, store session.Store) (*Lobby, *recordingEmitter) {
	t.Helper()
	em := &recordingEmitter{}
	b := NewLobby(em).WithLogger(zaptest.NewLogger(t))
	if store != nil {
		b.WithSessions(store)
	}
	l, err := b.Build()
	require.NoError(t, err)

	n := 0
	l.newId = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return l, em
}

func only(t *testing.T, em *recordingEmitter) event.Event {
	t.Helper()
	evs := em.take()
	require.Len(t, evs, 1, "each request has exactly one outcome")
	return evs[0]
}

func TestBuild_RequiresEmitter(t *testing.T) {
	_, err := NewLobby(nil).Build()
	assert.Error(t, err)
}

func TestKinds(t *testing.T) {
	assert.NotContains(t, Kinds(false), command.KindQuitGame)
	assert.Contains(t, Kinds(true), command.KindQuitGame)
}

func TestCreateGame_WaitsThenFindPublicGameSeats(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ctx := context.Background()

	require.NoError(t, l.HandleCreateGame(ctx, command.CreateGame{
		ClientId: "c1", Visibility: model.Public, SessionId: "s1", BoardSize: 19,
	}))
	wait, ok := only(t, em).(event.WaitForOpponent)
	require.True(t, ok)
	assert.NotEmpty(t, wait.GameId)
	assert.Equal(t, model.SessionId("s1"), wait.SessionId)
	assert.Equal(t, model.Public, wait.Visibility)
	assert.NotEmpty(t, wait.EventId)
	assert.Equal(t, 1, l.Waiting())

	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c2", SessionId: "s2"}))
	ready, ok := only(t, em).(event.GameReady)
	require.True(t, ok)
	assert.Equal(t, wait.GameId, ready.GameId)
	assert.Equal(t, event.GameSessions{Black: "s1", White: "s2"}, ready.Sessions)
	assert.Equal(t, model.BoardSize(19), ready.BoardSize)
	assert.NotEqual(t, wait.EventId, ready.EventId)
	assert.Equal(t, 0, l.Waiting())
}

func TestCreateGame_UnsupportedSizeOpensDefaultBoard(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ctx := context.Background()

	create := command.CreateGame{ClientId: "c1", Visibility: model.Public, SessionId: "s1", BoardSize: 21}
	require.NoError(t, l.HandleCreateGame(ctx, create))
	wait := only(t, em).(event.WaitForOpponent)

	require.NoError(t, l.HandleCreateGame(ctx, create))
	assert.Equal(t, wait, only(t, em), "a redelivered request replays its outcome")

	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c2", SessionId: "s2"}))
	ready, ok := only(t, em).(event.GameReady)
	require.True(t, ok)
	assert.Equal(t, model.DefaultBoardSize, ready.BoardSize)
}

func TestFindPublicGame_WaitsWhenNobodyIsWaiting(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ctx := context.Background()

	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c1", SessionId: "s1"}))
	wait, ok := only(t, em).(event.WaitForOpponent)
	require.True(t, ok)

	// Finding again while waiting does not pair the session with itself.
	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c1", SessionId: "s1"}))
	again, ok := only(t, em).(event.WaitForOpponent)
	require.True(t, ok)
	assert.Equal(t, wait, again)

	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c2", SessionId: "s2"}))
	ready, ok := only(t, em).(event.GameReady)
	require.True(t, ok)
	assert.Equal(t, model.DefaultBoardSize, ready.BoardSize)
}

func TestRedeliveredRequestsReplayTheirOutcome(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ctx := context.Background()
	create := command.CreateGame{ClientId: "c1", Visibility: model.Public, SessionId: "s1", BoardSize: 13}
	find := command.FindPublicGame{ClientId: "c2", SessionId: "s2"}

	require.NoError(t, l.HandleCreateGame(ctx, create))
	first := only(t, em)
	require.NoError(t, l.HandleCreateGame(ctx, create))
	assert.Equal(t, first, only(t, em))

	require.NoError(t, l.HandleFindPublicGame(ctx, find))
	ready := only(t, em)
	require.NoError(t, l.HandleFindPublicGame(ctx, find))
	assert.Equal(t, ready, only(t, em))

	// The creator's request still replays the wait it originally produced.
	require.NoError(t, l.HandleCreateGame(ctx, create))
	assert.Equal(t, first, only(t, em))

	assert.Len(t, l.games, 1)
}

func TestPrivateGames(t *testing.T) {
	store := session.NewMemoryStore(0)
	ctx := context.Background()
	s1, err := store.Issue(ctx, "c1")
	require.NoError(t, err)
	s2, err := store.Issue(ctx, "c2")
	require.NoError(t, err)
	s3, err := store.Issue(ctx, "c3")
	require.NoError(t, err)

	l, em := newTestLobby(t, store)

	require.NoError(t, l.HandleCreateGame(ctx, command.CreateGame{
		ClientId: "c1", Visibility: model.Private, SessionId: s1.Id, BoardSize: 9,
	}))
	wait := only(t, em).(event.WaitForOpponent)
	assert.Equal(t, model.Private, wait.Visibility)

	t.Run("private games are not offered publicly", func(t *testing.T) {
		require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c3", SessionId: s3.Id}))
		other := only(t, em).(event.WaitForOpponent)
		assert.NotEqual(t, wait.GameId, other.GameId)
	})

	t.Run("unknown game is rejected", func(t *testing.T) {
		require.NoError(t, l.HandleJoinPrivateGame(ctx, command.JoinPrivateGame{
			GameId: "g_unknown", ClientId: "c2", SessionId: s2.Id,
		}))
		rejected, ok := only(t, em).(event.PrivateGameRejected)
		require.True(t, ok)
		assert.Equal(t, model.GameId("g_unknown"), rejected.GameId)
		assert.Equal(t, model.ClientId("c2"), rejected.ClientId)
		assert.Equal(t, s2.Id, rejected.SessionId)
	})

	t.Run("unknown session is rejected", func(t *testing.T) {
		require.NoError(t, l.HandleJoinPrivateGame(ctx, command.JoinPrivateGame{
			GameId: wait.GameId, ClientId: "c2", SessionId: "forged",
		}))
		_, ok := only(t, em).(event.PrivateGameRejected)
		assert.True(t, ok)
	})

	t.Run("creator cannot join their own game", func(t *testing.T) {
		require.NoError(t, l.HandleJoinPrivateGame(ctx, command.JoinPrivateGame{
			GameId: wait.GameId, ClientId: "c1", SessionId: s1.Id,
		}))
		_, ok := only(t, em).(event.PrivateGameRejected)
		assert.True(t, ok)
	})

	t.Run("invited session joins", func(t *testing.T) {
		join := command.JoinPrivateGame{GameId: wait.GameId, ClientId: "c2", SessionId: s2.Id}
		require.NoError(t, l.HandleJoinPrivateGame(ctx, join))
		ready, ok := only(t, em).(event.GameReady)
		require.True(t, ok)
		assert.Equal(t, model.BoardSize(9), ready.BoardSize)
		assert.Equal(t, event.GameSessions{Black: s1.Id, White: s2.Id}, ready.Sessions)

		require.NoError(t, l.HandleJoinPrivateGame(ctx, join))
		assert.Equal(t, ready, only(t, em), "redelivered join replays")
	})

	t.Run("a full game rejects a third player", func(t *testing.T) {
		require.NoError(t, l.HandleJoinPrivateGame(ctx, command.JoinPrivateGame{
			GameId: wait.GameId, ClientId: "c3", SessionId: s3.Id,
		}))
		_, ok := only(t, em).(event.PrivateGameRejected)
		assert.True(t, ok)
	})
}

type failingStore struct {
	session.Store
}

func (failingStore) Validate(context.Context, model.SessionId) (session.Session, error) {
	return session.Session{}, errors.New("redis down")
}

func TestJoinPrivateGame_StoreFailureIsRetried(t *testing.T) {
	l, em := newTestLobby(t, failingStore{})

	err := l.HandleJoinPrivateGame(context.Background(), command.JoinPrivateGame{
		GameId: "g", ClientId: "c2", SessionId: "s2",
	})
	assert.EqualError(t, err, "redis down")
	assert.Empty(t, em.take())
}

func TestEmitFailureIsReturned(t *testing.T) {
	l, em := newTestLobby(t, nil)
	em.err = errors.New("transport closed")

	err := l.HandleFindPublicGame(context.Background(), command.FindPublicGame{ClientId: "c1", SessionId: "s1"})
	assert.EqualError(t, err, "transport closed")
}

func readyGame(t *testing.T, l *Lobby, em *recordingEmitter) event.GameReady {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c1", SessionId: "s1"}))
	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c2", SessionId: "s2"}))
	evs := em.take()
	require.Len(t, evs, 2)
	return evs[1].(event.GameReady)
}

func TestChooseColorPref(t *testing.T) {
	cases := []struct {
		name         string
		first        command.ChooseColorPref
		second       command.ChooseColorPref
		black, white model.ClientId
	}{
		{
			name:   "compatible",
			first:  command.ChooseColorPref{ClientId: "c1", ColorPref: model.PrefWhite, SessionId: "s1"},
			second: command.ChooseColorPref{ClientId: "c2", ColorPref: model.PrefBlack, SessionId: "s2"},
			black:  "c2", white: "c1",
		},
		{
			name:   "conflict goes to the first",
			first:  command.ChooseColorPref{ClientId: "c2", ColorPref: model.PrefBlack, SessionId: "s2"},
			second: command.ChooseColorPref{ClientId: "c1", ColorPref: model.PrefBlack, SessionId: "s1"},
			black:  "c2", white: "c1",
		},
		{
			name:   "specific beats any",
			first:  command.ChooseColorPref{ClientId: "c1", ColorPref: model.PrefAny, SessionId: "s1"},
			second: command.ChooseColorPref{ClientId: "c2", ColorPref: model.PrefWhite, SessionId: "s2"},
			black:  "c1", white: "c2",
		},
		{
			name:   "both any gives black to the first",
			first:  command.ChooseColorPref{ClientId: "c2", ColorPref: model.PrefAny, SessionId: "s2"},
			second: command.ChooseColorPref{ClientId: "c1", ColorPref: model.PrefAny, SessionId: "s1"},
			black:  "c2", white: "c1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, em := newTestLobby(t, nil)
			ctx := context.Background()
			ready := readyGame(t, l, em)

			require.NoError(t, l.HandleChooseColorPref(ctx, tc.first))
			require.NoError(t, l.HandleChooseColorPref(ctx, tc.first))
			assert.Empty(t, em.take(), "no outcome until both have chosen")

			require.NoError(t, l.HandleChooseColorPref(ctx, tc.second))
			chosen, ok := only(t, em).(event.ColorsChosen)
			require.True(t, ok)
			assert.Equal(t, ready.GameId, chosen.GameId)
			assert.Equal(t, tc.black, chosen.Black)
			assert.Equal(t, tc.white, chosen.White)

			require.NoError(t, l.HandleChooseColorPref(ctx, tc.second))
			assert.Equal(t, chosen, only(t, em))
		})
	}
}

func TestChooseColorPref_OutsideGameIsIgnored(t *testing.T) {
	l, em := newTestLobby(t, nil)
	require.NoError(t, l.HandleChooseColorPref(context.Background(), command.ChooseColorPref{
		ClientId: "c1", ColorPref: model.PrefAny, SessionId: "s1",
	}))
	assert.Empty(t, em.take())
}

func TestSessionDisconnected_AbandonsWaitingGame(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ctx := context.Background()

	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c1", SessionId: "s1"}))
	em.take()
	require.NoError(t, l.HandleSessionDisconnected(ctx, command.SessionDisconnected{SessionId: "s1"}))
	assert.Equal(t, 0, l.Waiting())

	require.NoError(t, l.HandleFindPublicGame(ctx, command.FindPublicGame{ClientId: "c2", SessionId: "s2"}))
	_, ok := only(t, em).(event.WaitForOpponent)
	assert.True(t, ok, "the abandoned game is not offered")

	require.NoError(t, l.HandleSessionDisconnected(ctx, command.SessionDisconnected{SessionId: "nobody"}))
}

func TestSessionDisconnected_KeepsReadyGame(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ready := readyGame(t, l, em)

	require.NoError(t, l.HandleSessionDisconnected(context.Background(), command.SessionDisconnected{SessionId: "s1"}))
	assert.Contains(t, l.games, ready.GameId)
}

func TestQuitGame(t *testing.T) {
	l, em := newTestLobby(t, nil)
	ctx := context.Background()
	ready := readyGame(t, l, em)

	require.NoError(t, l.HandleQuitGame(ctx, command.QuitGame{ClientId: "c9", GameId: ready.GameId}))
	assert.Contains(t, l.games, ready.GameId, "strangers cannot close a game")

	require.NoError(t, l.HandleQuitGame(ctx, command.QuitGame{ClientId: "c1", GameId: ready.GameId}))
	assert.NotContains(t, l.games, ready.GameId)
	assert.Empty(t, l.bySession)
	assert.Empty(t, em.take(), "quitting has no outcome topic")

	require.NoError(t, l.HandleQuitGame(ctx, command.QuitGame{ClientId: "c1", GameId: "unknown"}))
}

func TestUnconsumedKindsAreUnhandled(t *testing.T) {
	l, _ := newTestLobby(t, nil)
	err := l.HandleMakeMove(context.Background(), command.MakeMove{GameId: "g", ReqId: "r", Player: model.Black})
	assert.ErrorIs(t, err, command.ErrUnhandled)
}
