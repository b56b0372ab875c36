// Package responsefixer applies a small, enumerated set of config-driven
// corrections to upstream response JSON — buffered or per-stream-event —
// using tidwall/gjson and tidwall/sjson to mutate only the fields in
// question without reserializing (and thus reordering or reformatting) the
// rest of the payload. Every applied rewrite is recorded for the
// special_settings audit trail.
package responsefixer

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Options selects which rewrites are active. There is one option set;
// stream events and buffered bodies are not configured separately.
type Options struct {
	NormalizeStopReason bool
	LiftUsageSubkeys    bool
	FillServiceTier     bool
}

// Rewrite records one applied fixup for the special_settings audit trail.
type Rewrite struct {
	Field    string
	Original string
	Fixed    string
}

var legacyStopReasons = map[string]string{
	"stop":      "end_turn",
	"length":    "max_tokens",
	"tool_call": "tool_use",
}

// Fix applies the configured rewrites to body (a JSON document, buffered
// response or single stream event payload) and returns the possibly-modified
// body plus the list of rewrites applied.
func Fix(body []byte, opts Options) ([]byte, []Rewrite) {
	var rewrites []Rewrite
	doc := body

	if opts.NormalizeStopReason {
		if r := gjson.GetBytes(doc, "stop_reason"); r.Exists() {
			if canonical, ok := legacyStopReasons[r.String()]; ok {
				if next, err := sjson.SetBytes(doc, "stop_reason", canonical); err == nil {
					doc = next
					rewrites = append(rewrites, Rewrite{Field: "stop_reason", Original: r.String(), Fixed: canonical})
				}
			}
		}
	}

	if opts.LiftUsageSubkeys {
		if r := gjson.GetBytes(doc, "usage.cache_creation_input_tokens"); r.Exists() && r.Type == gjson.Number {
			// Legacy shape: a bare integer with no 5m/1h split. Treat it as
			// the 5m bucket, since that's the default TTL upstreams used
			// before the split existed.
			legacy := r.Raw
			if next, err := sjson.SetBytes(doc, "usage.cache_creation.ephemeral_5m_input_tokens", r.Int()); err == nil {
				doc = next
				if next2, err := sjson.DeleteBytes(doc, "usage.cache_creation_input_tokens"); err == nil {
					doc = next2
				}
				rewrites = append(rewrites, Rewrite{
					Field:    "usage.cache_creation_input_tokens",
					Original: legacy,
					Fixed:    `{"ephemeral_5m_input_tokens":` + legacy + `}`,
				})
			}
		}
	}

	if opts.FillServiceTier {
		if r := gjson.GetBytes(doc, "service_tier"); !r.Exists() || r.String() == "" {
			if next, err := sjson.SetBytes(doc, "service_tier", "standard"); err == nil {
				doc = next
				rewrites = append(rewrites, Rewrite{Field: "service_tier", Original: "", Fixed: "standard"})
			}
		}
	}

	return doc, rewrites
}
