package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerOther(t *testing.T) {
	assert.Equal(t, White, Black.Other())
	assert.Equal(t, Black, White.Other())
}

func TestEnumUnmarshalRejectsUnknownMembers(t *testing.T) {
	var p Player
	err := json.Unmarshal([]byte(`"RED"`), &p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))

	var v Visibility
	require.NoError(t, json.Unmarshal([]byte(`"Private"`), &v))
	assert.Equal(t, Private, v)

	var h HeartbeatType
	err = json.Unmarshal([]byte(`42`), &h)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestMoveEqual(t *testing.T) {
	a := Move{Player: Black, Coord: &Coord{X: 3, Y: 3}, Turn: 1}
	b := Move{Player: Black, Coord: &Coord{X: 3, Y: 3}, Turn: 1}
	pass := Move{Player: Black, Turn: 1}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(pass))
	assert.True(t, pass.Equal(Move{Player: Black, Turn: 1}))
	assert.True(t, pass.IsPass())
}

func TestBoardSizeValid(t *testing.T) {
	assert.True(t, DefaultBoardSize.Valid())
	assert.True(t, BoardSize(9).Valid())
	assert.False(t, BoardSize(10).Valid())
}
