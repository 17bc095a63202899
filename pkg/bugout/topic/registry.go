package topic

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
)

// Registry is the read-only bijection between message kinds and topics.
// It is never mutated after Build, so it is safe to share without locks.
type Registry struct {
	commands map[command.Kind]Topic
	events   map[event.Kind]Topic
	byTopic  map[Topic]binding
	reserved map[Topic]bool
}

type binding struct {
	command command.Kind
	event   event.Kind
}

func (b binding) String() string {
	if b.command != "" {
		return "command " + string(b.command)
	}
	return "event " + string(b.event)
}

// RegistryBuilder collects bindings for a Registry.
type RegistryBuilder struct {
	commands []commandBinding
	events   []eventBinding
	reserved []Topic
}

type commandBinding struct {
	kind  command.Kind
	topic Topic
}

type eventBinding struct {
	kind  event.Kind
	topic Topic
}

func NewRegistry() *RegistryBuilder {
	return &RegistryBuilder{}
}

// WithDefaults binds every kind to its standard topic.
func (b *RegistryBuilder) WithDefaults() *RegistryBuilder {
	b.BindCommand(command.KindMakeMove, MakeMove).
		BindCommand(command.KindProvideHistory, ProvideHistory).
		BindCommand(command.KindJoinPrivateGame, JoinPrivateGame).
		BindCommand(command.KindFindPublicGame, FindPublicGame).
		BindCommand(command.KindCreateGame, CreateGame).
		BindCommand(command.KindChooseColorPref, ChooseColorPref).
		BindCommand(command.KindClientHeartbeat, ClientHeartbeat).
		BindCommand(command.KindSessionDisconnected, SessionDisconnected).
		BindCommand(command.KindQuitGame, QuitGame).
		BindCommand(command.KindAttachBot, AttachBot).
		BindCommand(command.KindReqSync, ReqSync).
		BindCommand(command.KindUndoMove, UndoMove).
		Reserve(QuitGame)

	return b.BindEvent(event.KindMoveMade, MoveMade).
		BindEvent(event.KindHistoryProvided, HistoryProvided).
		BindEvent(event.KindPrivateGameRejected, PrivateGameRejected).
		BindEvent(event.KindGameReady, GameReady).
		BindEvent(event.KindWaitForOpponent, WaitForOpponent).
		BindEvent(event.KindColorsChosen, ColorsChosen).
		BindEvent(event.KindBotAttached, BotAttached).
		BindEvent(event.KindSyncReply, SyncReply).
		BindEvent(event.KindMoveUndone, MoveUndone).
		BindEvent(event.KindUndoRejected, UndoRejected)
}

func (b *RegistryBuilder) BindCommand(kind command.Kind, t Topic) *RegistryBuilder {
	b.commands = append(b.commands, commandBinding{kind: kind, topic: t})
	return b
}

func (b *RegistryBuilder) BindEvent(kind event.Kind, t Topic) *RegistryBuilder {
	b.events = append(b.events, eventBinding{kind: kind, topic: t})
	return b
}

// Reserve marks a bound topic as defined but not yet consumed by any
// backend.
func (b *RegistryBuilder) Reserve(t Topic) *RegistryBuilder {
	b.reserved = append(b.reserved, t)
	return b
}

// Build validates the bindings. Two kinds sharing a topic yields a
// *bugout.TopicCollision; a malformed name, a kind bound twice, or an
// unbound kind is also an error.
func (b *RegistryBuilder) Build() (*Registry, error) {
	r := &Registry{
		commands: make(map[command.Kind]Topic, len(b.commands)),
		events:   make(map[event.Kind]Topic, len(b.events)),
		byTopic:  make(map[Topic]binding, len(b.commands)+len(b.events)),
		reserved: make(map[Topic]bool, len(b.reserved)),
	}

	for _, cb := range b.commands {
		if !cb.kind.Valid() {
			return nil, fmt.Errorf("unknown command kind %q", cb.kind)
		}
		if _, dup := r.commands[cb.kind]; dup {
			return nil, fmt.Errorf("command %s bound more than once", cb.kind)
		}
		dir, err := cb.topic.Validate()
		if err != nil {
			return nil, err
		}
		want := DirectionCommand
		if cb.kind.IsNotice() {
			want = DirectionEvent
		}
		if dir != want {
			return nil, fmt.Errorf("command %s bound to %s topic %q, want %s", cb.kind, dir, cb.topic, want)
		}
		if err := r.claim(cb.topic, binding{command: cb.kind}); err != nil {
			return nil, err
		}
		r.commands[cb.kind] = cb.topic
	}

	for _, eb := range b.events {
		if !eb.kind.Valid() {
			return nil, fmt.Errorf("unknown event kind %q", eb.kind)
		}
		if _, dup := r.events[eb.kind]; dup {
			return nil, fmt.Errorf("event %s bound more than once", eb.kind)
		}
		dir, err := eb.topic.Validate()
		if err != nil {
			return nil, err
		}
		if dir != DirectionEvent {
			return nil, fmt.Errorf("event %s bound to command topic %q", eb.kind, eb.topic)
		}
		if err := r.claim(eb.topic, binding{event: eb.kind}); err != nil {
			return nil, err
		}
		r.events[eb.kind] = eb.topic
	}

	var missing []string
	for _, k := range command.Kinds() {
		if _, ok := r.commands[k]; !ok {
			missing = append(missing, "command "+string(k))
		}
	}
	for _, k := range event.Kinds() {
		if _, ok := r.events[k]; !ok {
			missing = append(missing, "event "+string(k))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unbound kinds: %v", missing)
	}

	for _, t := range b.reserved {
		if _, ok := r.byTopic[t]; !ok {
			return nil, fmt.Errorf("reserved topic %q is not bound", t)
		}
		r.reserved[t] = true
	}

	return r, nil
}

func (r *Registry) claim(t Topic, b binding) error {
	if prior, taken := r.byTopic[t]; taken {
		return &bugout.TopicCollision{Topic: string(t), First: prior.String(), Second: b.String()}
	}
	r.byTopic[t] = b
	return nil
}

// ErrUnbound is returned for a kind with no topic. A built Registry is
// total, so this only happens for kinds it has never heard of.
var ErrUnbound = errors.New("kind has no topic")

// CommandTopic returns the topic a command is published on.
func (r *Registry) CommandTopic(kind command.Kind) (Topic, error) {
	t, ok := r.commands[kind]
	if !ok {
		return "", fmt.Errorf("command %q: %w", kind, ErrUnbound)
	}
	return t, nil
}

// EventTopic returns the topic an outcome is published on.
func (r *Registry) EventTopic(kind event.Kind) (Topic, error) {
	t, ok := r.events[kind]
	if !ok {
		return "", fmt.Errorf("event %q: %w", kind, ErrUnbound)
	}
	return t, nil
}

// CommandKind returns the command kind carried on t, if any.
func (r *Registry) CommandKind(t Topic) (command.Kind, bool) {
	b, ok := r.byTopic[t]
	return b.command, ok && b.command != ""
}

// EventKind returns the event kind carried on t, if any.
func (r *Registry) EventKind(t Topic) (event.Kind, bool) {
	b, ok := r.byTopic[t]
	return b.event, ok && b.event != ""
}

// IsReserved reports whether t is defined but not yet consumed.
func (r *Registry) IsReserved(t Topic) bool {
	return r.reserved[t]
}

// Topics returns every bound topic, sorted.
func (r *Registry) Topics() []Topic {
	out := make([]Topic, 0, len(r.byTopic))
	for t := range r.byTopic {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CommandTopics returns the topics carrying commands, in command kind order.
func (r *Registry) CommandTopics() []Topic {
	out := make([]Topic, 0, len(r.commands))
	for _, k := range command.Kinds() {
		out = append(out, r.commands[k])
	}
	return out
}

// EventTopics returns the topics carrying outcomes, in event kind order.
func (r *Registry) EventTopics() []Topic {
	out := make([]Topic, 0, len(r.events))
	for _, k := range event.Kinds() {
		out = append(out, r.events[k])
	}
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry with the standard bindings.
// It panics on first use if the bindings are inconsistent, before any
// traffic can be routed.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry().WithDefaults().Build()
		if err != nil {
			panic(fmt.Sprintf("topic registry: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
