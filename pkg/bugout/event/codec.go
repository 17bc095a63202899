package event

import (
	"encoding/json"
	"errors"
	"reflect"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/wire"
)

type variant struct {
	fields wire.Fields
	decode func(tag string, body json.RawMessage) (Event, error)
}

var variants = map[Kind]variant{
	KindMoveMade:            newVariant[MoveMade](),
	KindHistoryProvided:     newVariant[HistoryProvided](),
	KindPrivateGameRejected: newVariant[PrivateGameRejected](),
	KindGameReady:           newVariant[GameReady](),
	KindWaitForOpponent:     newVariant[WaitForOpponent](),
	KindColorsChosen:        newVariant[ColorsChosen](),
	KindBotAttached:         newVariant[BotAttached](),
	KindSyncReply:           newVariant[SyncReply](),
	KindMoveUndone:          newVariant[MoveUndone](),
	KindUndoRejected:        newVariant[UndoRejected](),
}

func newVariant[T Event]() variant {
	return variant{
		fields: wire.FieldsOf(reflect.TypeOf((*T)(nil)).Elem()),
		decode: func(tag string, body json.RawMessage) (Event, error) {
			var e T
			if err := wire.Unmarshal(tag, body, &e); err != nil {
				return nil, err
			}
			return e, nil
		},
	}
}

func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, &bugout.SchemaError{Err: errors.New("nil event")}
	}
	return wire.Encode(string(ev.Kind()), ev)
}

func Decode(data []byte) (Event, error) {
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
	return v.decode(tag, body)
}
