package topic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
)

func TestDefaultRegistryIsBijective(t *testing.T) {
	r := Default()

	seen := map[Topic]string{}
	for _, k := range command.Kinds() {
		topic, err := r.CommandTopic(k)
		require.NoError(t, err)
		prior, dup := seen[topic]
		assert.False(t, dup, "%s shared by %s and command %s", topic, prior, k)
		seen[topic] = "command " + string(k)

		back, ok := r.CommandKind(topic)
		assert.True(t, ok)
		assert.Equal(t, k, back)
	}
	for _, k := range event.Kinds() {
		topic, err := r.EventTopic(k)
		require.NoError(t, err)
		prior, dup := seen[topic]
		assert.False(t, dup, "%s shared by %s and event %s", topic, prior, k)
		seen[topic] = "event " + string(k)

		back, ok := r.EventKind(topic)
		assert.True(t, ok)
		assert.Equal(t, k, back)
	}

	assert.Len(t, r.Topics(), len(command.Kinds())+len(event.Kinds()))
}

func TestDefaultTopicNames(t *testing.T) {
	r := Default()

	assert.Equal(t, []Topic{
		"bugout-make-move-cmd",
		"bugout-provide-history-cmd",
		"bugout-join-private-game-cmd",
		"bugout-find-public-game-cmd",
		"bugout-create-game-cmd",
		"bugout-choose-color-pref-cmd",
		"bugout-client-heartbeat-ev",
		"bugout-session-disconnected-ev",
		"bugout-quit-game-cmd",
		"bugout-attach-bot-cmd",
		"bugout-req-sync-cmd",
		"bugout-undo-move-cmd",
	}, r.CommandTopics())

	assert.Equal(t, []Topic{
		"bugout-move-made-ev",
		"bugout-history-provided-ev",
		"bugout-private-game-rejected-ev",
		"bugout-game-ready-ev",
		"bugout-wait-for-opponent-ev",
		"bugout-colors-chosen-ev",
		"bugout-bot-attached-ev",
		"bugout-sync-reply-ev",
		"bugout-move-undone-ev",
		"bugout-undo-rejected-ev",
	}, r.EventTopics())

	for _, topic := range r.Topics() {
		_, err := topic.Validate()
		assert.NoError(t, err, topic)
	}
}

func TestQuitGameIsReserved(t *testing.T) {
	r := Default()
	assert.True(t, r.IsReserved(QuitGame))
	assert.False(t, r.IsReserved(CreateGame))

	topic, err := r.CommandTopic(command.KindQuitGame)
	require.NoError(t, err)
	assert.Equal(t, QuitGame, topic)
}

func TestCollisionIsDetected(t *testing.T) {
	_, err := NewRegistry().
		WithDefaults().
		BindEvent(event.KindMoveMade, GameReady).
		Build()
	require.Error(t, err)

	b := NewRegistry()
	for _, k := range command.Kinds() {
		topic, _ := Default().CommandTopic(k)
		b.BindCommand(k, topic)
	}
	for _, k := range event.Kinds() {
		topic, _ := Default().EventTopic(k)
		if k == event.KindUndoRejected {
			topic = MoveUndone
		}
		b.BindEvent(k, topic)
	}

	_, err = b.Build()
	var collision *bugout.TopicCollision
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, string(MoveUndone), collision.Topic)
	assert.Equal(t, "event MoveUndone", collision.First)
	assert.Equal(t, "event UndoRejected", collision.Second)
	assert.Equal(t, bugout.ErrorFatal, bugout.Classify(err))
}

func TestRegistryMustBeTotal(t *testing.T) {
	_, err := NewRegistry().
		BindCommand(command.KindMakeMove, MakeMove).
		Build()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unbound kinds"))
}

func TestDirectionIsEnforced(t *testing.T) {
	_, err := NewRegistry().BindEvent(event.KindMoveMade, MakeMove).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command topic")

	_, err = NewRegistry().BindCommand(command.KindSessionDisconnected, "bugout-session-disconnected-cmd").Build()
	require.Error(t, err)

	_, err = NewRegistry().BindCommand(command.KindReqSync, SyncReply).Build()
	require.Error(t, err)
}

func TestTopicValidate(t *testing.T) {
	tests := []struct {
		topic Topic
		dir   Direction
		ok    bool
	}{
		{"bugout-make-move-cmd", DirectionCommand, true},
		{"bugout-move-made-ev", DirectionEvent, true},
		{"bugout-cmd", 0, false},
		{"Bugout-make-move-cmd", 0, false},
		{"bugout_make_move_cmd", 0, false},
		{"other-make-move-cmd", 0, false},
		{"bugout-make-move", 0, false},
	}
	for _, tt := range tests {
		dir, err := tt.topic.Validate()
		if tt.ok {
			assert.NoError(t, err, tt.topic)
			assert.Equal(t, tt.dir, dir, tt.topic)
		} else {
			assert.Error(t, err, tt.topic)
		}
	}
}
