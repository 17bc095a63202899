package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns the process environment as a cty object, so a
// config can say addr = env.REDIS_ADDR. Names that are not valid HCL
// identifiers have the offending characters replaced with underscores, and
// a leading digit is prefixed with one.
func GetEnvObject() cty.Value {
	attrs := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		attrs[envAttrName(name)] = cty.StringVal(value)
	}
	return cty.ObjectVal(attrs)
}

func envAttrName(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		case i > 0 && r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
