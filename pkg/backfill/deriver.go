package backfill

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SkipReason says why a record produced no write
type SkipReason string

const (
	SkipNone SkipReason = ""
	// SkipCurrent: the derived field already holds the computed value
	SkipCurrent SkipReason = "current"
	// SkipIneligible: the record cannot be derived (missing, wrong type, duplicate)
	SkipIneligible SkipReason = "ineligible"
)

// Derivation is the outcome of deriving one record
type Derivation struct {
	Field string
	Value interface{}
	Skip  SkipReason
}

// Deriver computes a derived field from a record. Implementations are pure
// and safe for concurrent use.
type Deriver interface {
	Name() string
	TargetField() string
	Derive(rec Record) Derivation
}

type deriverFactory struct {
	source, target string
	build          func(source, target string) Deriver
}

var derivers = map[string]deriverFactory{
	"lowercase": {
		source: "title", target: "title_lowercase",
		build: func(source, target string) Deriver { return &LowercaseDeriver{Source: source, Target: target} },
	},
	"tags": {
		source: "title", target: "tags",
		build: func(source, target string) Deriver { return &TagsDeriver{Source: source, Target: target} },
	},
}

// DeriverNames lists the registered derivers
func DeriverNames() []string {
	names := make([]string, 0, len(derivers))
	for name := range derivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDeriver looks up a deriver by name. Empty source or target fields fall
// back to the deriver's defaults.
func NewDeriver(name, source, target string) (Deriver, error) {
	f, ok := derivers[name]
	if !ok {
		return nil, &ConfigurationError{
			Field:  "deriver",
			Reason: fmt.Sprintf("unknown deriver %q (available: %s)", name, strings.Join(DeriverNames(), ", ")),
		}
	}
	if source == "" {
		source = f.source
	}
	if target == "" {
		target = f.target
	}
	if source == target {
		return nil, &ConfigurationError{Field: "target", Reason: "must differ from the source field"}
	}
	return f.build(source, target), nil
}

// sourceText reads the source field. An absent or null field counts as the
// empty string; any other non-string value is not derivable.
func sourceText(rec Record, field string) (string, bool) {
	if rec.Missing {
		return "", false
	}
	v, ok := rec.Fields[field]
	if !ok || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func lower(s string) string {
	// a Caser holds state and must not be shared between goroutines
	return cases.Lower(language.Und).String(s)
}

// LowercaseDeriver stores the Unicode lowercase form of a text field
type LowercaseDeriver struct {
	Source string
	Target string
}

func (d *LowercaseDeriver) Name() string        { return "lowercase" }
func (d *LowercaseDeriver) TargetField() string { return d.Target }

func (d *LowercaseDeriver) Derive(rec Record) Derivation {
	text, ok := sourceText(rec, d.Source)
	if !ok {
		return Derivation{Field: d.Target, Skip: SkipIneligible}
	}
	value := lower(text)
	if current, ok := rec.Fields[d.Target].(string); ok && current == value {
		return Derivation{Field: d.Target, Value: value, Skip: SkipCurrent}
	}
	return Derivation{Field: d.Target, Value: value}
}

// TagsDeriver stores the lowercase space-separated words of a text field
type TagsDeriver struct {
	Source string
	Target string
}

func (d *TagsDeriver) Name() string        { return "tags" }
func (d *TagsDeriver) TargetField() string { return d.Target }

func (d *TagsDeriver) Derive(rec Record) Derivation {
	text, ok := sourceText(rec, d.Source)
	if !ok {
		return Derivation{Field: d.Target, Skip: SkipIneligible}
	}
	var words []string
	for _, w := range strings.Split(lower(text), " ") {
		if w != "" {
			words = append(words, w)
		}
	}
	if current, ok := stringSlice(rec.Fields[d.Target]); ok && slices.Equal(current, words) {
		return Derivation{Field: d.Target, Value: toAnySlice(words), Skip: SkipCurrent}
	}
	return Derivation{Field: d.Target, Value: toAnySlice(words)}
}

// stringSlice accepts both []string and the []interface{} a JSON decode produces
func stringSlice(v interface{}) ([]string, bool) {
	switch vals := v.(type) {
	case []string:
		return vals, true
	case []interface{}:
		out := make([]string, len(vals))
		for i, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toAnySlice(words []string) []interface{} {
	out := make([]interface{}, len(words))
	for i, w := range words {
		out[i] = w
	}
	return out
}
