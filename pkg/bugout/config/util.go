package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/sosodev/duration"
	"github.com/zclconf/go-cty/cty"
)

// IsExpressionProvided reports whether an optional attribute was written.
// gohcl fills absent optional expressions with a zero-length range.
func IsExpressionProvided(expr hcl.Expression) bool {
	return expr != nil && expr.Range().End.Byte > expr.Range().Start.Byte
}

// ParseDuration evaluates expr as a non-negative duration. A number is
// seconds, a string starting with "P" is ISO 8601 ("PT30S"), and any
// other string goes to time.ParseDuration ("30s").
func (c *Config) ParseDuration(expr hcl.Expression) (time.Duration, hcl.Diagnostics) {
	val, diags := expr.Value(c.evalCtx)
	if diags.HasErrors() {
		return 0, diags
	}

	fail := func(summary, detail string) (time.Duration, hcl.Diagnostics) {
		return 0, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  summary,
			Detail:   detail,
			Subject:  expr.Range().Ptr(),
		})
	}

	if val.IsNull() || !val.IsKnown() {
		return fail("Invalid duration", "Duration must not be null")
	}

	var d time.Duration
	switch val.Type() {
	case cty.Number:
		seconds, accuracy := val.AsBigFloat().Float64()
		if accuracy != big.Exact {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagWarning,
				Summary:  "Duration precision loss",
				Detail:   "The number given may have lost precision when converted to seconds",
				Subject:  expr.Range().Ptr(),
			})
		}
		d = time.Duration(seconds * float64(time.Second))

	case cty.String:
		str := strings.TrimSpace(val.AsString())
		if strings.HasPrefix(str, "P") {
			iso, err := duration.Parse(str)
			if err != nil {
				return fail("Invalid ISO 8601 duration", fmt.Sprintf("%q: %v", str, err))
			}
			d = iso.ToTimeDuration()
		} else {
			var err error
			if d, err = time.ParseDuration(str); err != nil {
				return fail("Invalid duration format",
					fmt.Sprintf("%q: %v. Use a number of seconds, an ISO 8601 duration like \"PT5M\", or a Go duration like \"5m\"", str, err))
			}
		}

	default:
		return fail("Invalid duration type",
			fmt.Sprintf("Duration must be a number of seconds or a string, got %s", val.Type().FriendlyName()))
	}

	if d < 0 {
		return fail("Invalid duration", "Duration must not be negative")
	}
	return d, diags
}
