package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tsarna/bugout/pkg/bugout"
)

// ErrInvalidValue is returned when an enumerated value is not one of its
// declared members.
var ErrInvalidValue = errors.New("invalid value")

type Player string

const (
	Black Player = "BLACK"
	White Player = "WHITE"
)

// Other returns the opponent.
func (p Player) Other() Player {
	if p == Black {
		return White
	}
	return Black
}

func (p Player) Valid() bool {
	return p == Black || p == White
}

func (p *Player) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, (*string)(p), "player", string(Black), string(White))
}

type Visibility string

const (
	Public  Visibility = "Public"
	Private Visibility = "Private"
)

func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

func (v *Visibility) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, (*string)(v), "visibility", string(Public), string(Private))
}

type ColorPref string

const (
	PrefBlack ColorPref = "Black"
	PrefWhite ColorPref = "White"
	PrefAny   ColorPref = "Any"
)

func (c ColorPref) Valid() bool {
	return c == PrefBlack || c == PrefWhite || c == PrefAny
}

func (c *ColorPref) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, (*string)(c), "colorPref", string(PrefBlack), string(PrefWhite), string(PrefAny))
}

// HeartbeatType distinguishes the two liveness sources.
type HeartbeatType string

const (
	WebSocketPong     HeartbeatType = "WebSocketPong"
	UserInterfaceBeep HeartbeatType = "UserInterfaceBeep"
)

func (h HeartbeatType) Valid() bool {
	return h == WebSocketPong || h == UserInterfaceBeep
}

func (h *HeartbeatType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(data, (*string)(h), "heartbeatType", string(WebSocketPong), string(UserInterfaceBeep))
}

// BoardSize is the side length of a square board. Any value travels on the
// wire; Valid reports the sizes the lobby opens games for.
type BoardSize uint16

const DefaultBoardSize BoardSize = 19

func (b BoardSize) Valid() bool {
	switch b {
	case 9, 13, 19:
		return true
	}
	return false
}

type Coord struct {
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
}

func (c *Coord) UnmarshalJSON(data []byte) error {
	if err := requireKeys(data, "coord", "x", "y"); err != nil {
		return err
	}
	type plain Coord
	return json.Unmarshal(data, (*plain)(c))
}

// Move is one turn of play. A nil Coord is a pass.
type Move struct {
	Player Player `json:"player"`
	Coord  *Coord `json:"coord"`
	Turn   uint32 `json:"turn"`
}

// UnmarshalJSON requires player and turn; an absent or null coord is a
// pass.
func (m *Move) UnmarshalJSON(data []byte) error {
	if err := requireKeys(data, "move", "player", "turn"); err != nil {
		return err
	}
	type plain Move
	return json.Unmarshal(data, (*plain)(m))
}

func (m Move) IsPass() bool {
	return m.Coord == nil
}

func (m Move) Equal(o Move) bool {
	if m.Player != o.Player || m.Turn != o.Turn {
		return false
	}
	if m.Coord == nil || o.Coord == nil {
		return m.Coord == nil && o.Coord == nil
	}
	return *m.Coord == *o.Coord
}

func unmarshalEnum(data []byte, dst *string, name string, allowed ...string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%s: %w", name, ErrInvalidValue)
	}
	for _, a := range allowed {
		if s == a {
			*dst = s
			return nil
		}
	}
	return fmt.Errorf("%s %q: %w", name, s, ErrInvalidValue)
}

// requireKeys checks that each name is present and non-null in the JSON
// object data, naming a missing one as scope.name.
func requireKeys(data []byte, scope string, names ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return fmt.Errorf("%s: %w", scope, ErrInvalidValue)
	}
	for _, name := range names {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return &bugout.SchemaError{Field: scope + "." + name, Err: bugout.ErrMissingField}
		}
	}
	return nil
}
