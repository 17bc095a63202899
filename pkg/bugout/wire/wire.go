// Package wire implements the externally tagged JSON record format shared
// by commands and events: {"<Tag>": {<camelCase fields>}}.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/model"
)

// Fields describes the presence rules for one tagged variant.
type Fields struct {
	Required  []string
	Forbidden []string
}

// FieldsOf derives presence rules from a struct's json tags. Pointer,
// slice, and map fields, and fields tagged omitempty, are optional;
// every other tagged field is required.
func FieldsOf(t reflect.Type, forbidden ...string) Fields {
	f := Fields{Forbidden: forbidden}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, opts, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" || strings.Contains(opts, "omitempty") {
			continue
		}
		switch field.Type.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map:
			continue
		}
		f.Required = append(f.Required, name)
	}
	return f
}

// Encode writes value under tag.
func Encode(tag string, value any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: value})
}

// SplitTag separates the tag of a record from its body.
func SplitTag(data []byte) (string, json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return "", nil, &bugout.SchemaError{Err: fmt.Errorf("%w: %v", bugout.ErrFieldType, err)}
	}
	if len(top) != 1 {
		return "", nil, &bugout.SchemaError{Err: fmt.Errorf("%w: expected exactly one tag, got %d", bugout.ErrUnknownTag, len(top))}
	}

	var tag string
	var body json.RawMessage
	for tag, body = range top {
	}
	return tag, body, nil
}

// Check verifies required fields are present and non-null and forbidden
// fields are absent. Unknown extra fields are tolerated.
func (f Fields) Check(tag string, body json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return &bugout.SchemaError{Tag: tag, Err: fmt.Errorf("%w: %v", bugout.ErrFieldType, err)}
	}

	for _, name := range f.Required {
		raw, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return &bugout.SchemaError{Tag: tag, Field: name, Err: bugout.ErrMissingField}
		}
	}
	for _, name := range f.Forbidden {
		if _, ok := fields[name]; ok {
			return &bugout.SchemaError{Tag: tag, Field: name, Err: bugout.ErrForbidden}
		}
	}
	return nil
}

// Unmarshal decodes body into dst, converting decoding failures into
// *bugout.SchemaError.
func Unmarshal(tag string, body json.RawMessage, dst any) error {
	err := json.Unmarshal(body, dst)
	if err == nil {
		return nil
	}

	var schemaErr *bugout.SchemaError
	if errors.As(err, &schemaErr) {
		return &bugout.SchemaError{Tag: tag, Field: schemaErr.Field, Err: schemaErr.Err}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &bugout.SchemaError{Tag: tag, Field: typeErr.Field, Err: fmt.Errorf("%w: %v", bugout.ErrFieldType, err)}
	}
	if errors.Is(err, model.ErrInvalidValue) {
		return &bugout.SchemaError{Tag: tag, Err: fmt.Errorf("%w: %v", bugout.ErrFieldType, err)}
	}
	return &bugout.SchemaError{Tag: tag, Err: err}
}
