package wire

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout"
)

type sample struct {
	Name    string   `json:"name"`
	Count   int      `json:"count"`
	Note    *string  `json:"note"`
	Tags    []string `json:"tags"`
	Comment string   `json:"comment,omitempty"`
	Skipped string   `json:"-"`
	Untaged string
}

func TestFieldsOf(t *testing.T) {
	f := FieldsOf(reflect.TypeOf(sample{}), "id")
	assert.Equal(t, []string{"name", "count"}, f.Required)
	assert.Equal(t, []string{"id"}, f.Forbidden)
}

func TestSplitTag(t *testing.T) {
	tag, body, err := SplitTag([]byte(`{"Thing":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, "Thing", tag)
	assert.JSONEq(t, `{"a":1}`, string(body))

	_, _, err = SplitTag([]byte(`{}`))
	assert.ErrorIs(t, err, bugout.ErrUnknownTag)

	_, _, err = SplitTag([]byte(`"Thing"`))
	assert.ErrorIs(t, err, bugout.ErrFieldType)
}

func TestCheckAndUnmarshal(t *testing.T) {
	f := FieldsOf(reflect.TypeOf(sample{}), "id")

	assert.NoError(t, f.Check("S", []byte(`{"name":"x","count":1,"extra":true}`)))
	assert.ErrorIs(t, f.Check("S", []byte(`{"name":"x"}`)), bugout.ErrMissingField)
	assert.ErrorIs(t, f.Check("S", []byte(`{"name":"x","count":1,"id":"7"}`)), bugout.ErrForbidden)

	var s sample
	err := Unmarshal("S", []byte(`{"name":"x","count":"one"}`), &s)
	var schemaErr *bugout.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "count", schemaErr.Field)
	assert.ErrorIs(t, err, bugout.ErrFieldType)
}
