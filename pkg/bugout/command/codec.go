package command

import (
	"encoding/json"
	"errors"
	"reflect"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/wire"
)

type variant struct {
	fields wire.Fields
	decode func(tag string, body json.RawMessage) (Command, error)
}

var variants = map[Kind]variant{
	KindMakeMove:            newVariant[MakeMove](),
	KindProvideHistory:      newVariant[ProvideHistory](),
	KindJoinPrivateGame:     newVariant[JoinPrivateGame](),
	KindFindPublicGame:      newVariant[FindPublicGame](),
	KindCreateGame:          newVariant[CreateGame]("gameId"),
	KindChooseColorPref:     newVariant[ChooseColorPref](),
	KindClientHeartbeat:     newVariant[ClientHeartbeat](),
	KindSessionDisconnected: newVariant[SessionDisconnected](),
	KindQuitGame:            newVariant[QuitGame](),
	KindAttachBot:           newVariant[AttachBot](),
	KindReqSync:             newVariant[ReqSync](),
	KindUndoMove:            newVariant[UndoMove](),
}

func newVariant[T Command](forbidden ...string) variant {
	return variant{
		fields: wire.FieldsOf(reflect.TypeOf((*T)(nil)).Elem(), forbidden...),
		decode: func(tag string, body json.RawMessage) (Command, error) {
			var c T
			if err := wire.Unmarshal(tag, body, &c); err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// Encode renders a command in its tagged wire form.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, &bugout.SchemaError{Err: errors.New("nil command")}
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return wire.Encode(string(cmd.Kind()), cmd)
}

// Decode parses a tagged command. Any structural problem, including an
// unrecognized tag, is reported as a *bugout.SchemaError.
func Decode(data []byte) (Command, error) {
	tag, body, err := wire.SplitTag(data)
	if err != nil {
		return nil, err
	}

	v, ok := variants[Kind(tag)]
	if !ok {
		return nil, &bugout.SchemaError{Tag: tag, Err: bugout.ErrUnknownTag}
	}
	if err := v.fields.Check(tag, body); err != nil {
		return nil, err
	}

	cmd, err := v.decode(tag, body)
	if err != nil {
		return nil, err
	}
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// DecodeKind reads only the tag of a command payload.
func DecodeKind(data []byte) (Kind, error) {
	tag, _, err := wire.SplitTag(data)
	if err != nil {
		return "", err
	}
	if !Kind(tag).Valid() {
		return "", &bugout.SchemaError{Tag: tag, Err: bugout.ErrUnknownTag}
	}
	return Kind(tag), nil
}
