// Package topic names the channels that carry bugout commands and events.
//
// A topic name is lowercase and hyphen-delimited, starts with the product
// namespace, and ends with a direction suffix: "-cmd" for gateway to
// backend, "-ev" for backend to gateway (and for gateway notices that any
// backend may observe).
package topic

import (
	"fmt"
	"regexp"
	"strings"
)

type Topic string

const Namespace = "bugout"

const (
	CommandSuffix = "-cmd"
	EventSuffix   = "-ev"
)

// Command topics.
const (
	MakeMove        Topic = "bugout-make-move-cmd"
	ProvideHistory  Topic = "bugout-provide-history-cmd"
	JoinPrivateGame Topic = "bugout-join-private-game-cmd"
	FindPublicGame  Topic = "bugout-find-public-game-cmd"
	CreateGame      Topic = "bugout-create-game-cmd"
	ChooseColorPref Topic = "bugout-choose-color-pref-cmd"
	// QuitGame is reserved for the participation service; nothing consumes
	// it yet.
	QuitGame  Topic = "bugout-quit-game-cmd"
	AttachBot Topic = "bugout-attach-bot-cmd"
	ReqSync   Topic = "bugout-req-sync-cmd"
	UndoMove  Topic = "bugout-undo-move-cmd"
)

// Event topics.
const (
	// MoveMade carries a move that was judged fit for communication to all
	// interested clients.
	MoveMade            Topic = "bugout-move-made-ev"
	HistoryProvided     Topic = "bugout-history-provided-ev"
	PrivateGameRejected Topic = "bugout-private-game-rejected-ev"
	GameReady           Topic = "bugout-game-ready-ev"
	WaitForOpponent     Topic = "bugout-wait-for-opponent-ev"
	ColorsChosen        Topic = "bugout-colors-chosen-ev"
	SessionDisconnected Topic = "bugout-session-disconnected-ev"
	ClientHeartbeat     Topic = "bugout-client-heartbeat-ev"
	BotAttached         Topic = "bugout-bot-attached-ev"
	SyncReply           Topic = "bugout-sync-reply-ev"
	MoveUndone          Topic = "bugout-move-undone-ev"
	UndoRejected        Topic = "bugout-undo-rejected-ev"
)

type Direction int

const (
	DirectionCommand Direction = iota
	DirectionEvent
)

func (d Direction) String() string {
	if d == DirectionEvent {
		return "event"
	}
	return "command"
}

var namePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)+$`)

// Validate checks the naming convention and returns the topic's direction.
func (t Topic) Validate() (Direction, error) {
	s := string(t)
	if !namePattern.MatchString(s) {
		return 0, fmt.Errorf("topic %q: must be lowercase and hyphen-delimited", s)
	}
	if !strings.HasPrefix(s, Namespace+"-") {
		return 0, fmt.Errorf("topic %q: missing %q namespace prefix", s, Namespace)
	}

	switch {
	case strings.HasSuffix(s, CommandSuffix) && len(s) > len(Namespace)+len(CommandSuffix)+1:
		return DirectionCommand, nil
	case strings.HasSuffix(s, EventSuffix) && len(s) > len(Namespace)+len(EventSuffix)+1:
		return DirectionEvent, nil
	default:
		return 0, fmt.Errorf("topic %q: must end in %q or %q after a name", s, CommandSuffix, EventSuffix)
	}
}

func (t Topic) String() string {
	return string(t)
}
