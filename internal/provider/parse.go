package provider

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
)

// ParseStrategy tries to extract a structured payload from a completion.
type ParseStrategy interface {
	Name() string
	Parse(text string) (map[string]any, bool)
}

type strategy struct {
	name  string
	parse func(text string) (map[string]any, bool)
}

func (s strategy) Name() string { return s.name }
func (s strategy) Parse(text string) (map[string]any, bool) {
	return s.parse(text)
}

// DefaultStrategies are tried in order; the first success wins.
func DefaultStrategies() []ParseStrategy {
	return []ParseStrategy{
		strategy{"whole", parseWhole},
		strategy{"fenced", parseFenced},
		strategy{"embedded", parseEmbedded},
		strategy{"lenient", parseLenient},
	}
}

// analysisKeys are the payload fields taken as the primary text, in order.
var analysisKeys = []string{"analysis", "analysisText", "analysis_text", "feedback", "text"}

// Parse runs strategies over text. When none succeeds the raw text is kept as
// the analysis and the structured fields are empty.
func Parse(text string, strategies []ParseStrategy) (string, map[string]any) {
	for _, s := range strategies {
		fields, ok := s.Parse(text)
		if !ok {
			continue
		}
		for _, key := range analysisKeys {
			if v, ok := fields[key].(string); ok && v != "" {
				return v, fields
			}
		}
		return strings.TrimSpace(text), fields
	}
	return strings.TrimSpace(text), map[string]any{}
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

func parseWhole(text string) (map[string]any, bool) {
	return decodeObject(strings.TrimSpace(text))
}

func parseFenced(text string) (map[string]any, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if fields, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return fields, true
		}
	}
	return nil, false
}

func parseEmbedded(text string) (map[string]any, bool) {
	for _, candidate := range balancedObjects(text) {
		if fields, ok := decodeObject(candidate); ok {
			return fields, true
		}
	}
	return nil, false
}

// parseLenient accepts comments and trailing commas in any candidate the
// strict strategies rejected.
func parseLenient(text string) (map[string]any, bool) {
	candidates := []string{strings.TrimSpace(text)}
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	candidates = append(candidates, balancedObjects(text)...)

	for _, c := range candidates {
		if fields, ok := decodeObject(string(jsonc.ToJSON([]byte(c)))); ok {
			return fields, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" || !gjson.Valid(s) {
		return nil, false
	}
	result := gjson.Parse(s)
	if !result.IsObject() {
		return nil, false
	}
	fields, ok := result.Value().(map[string]any)
	return fields, ok
}

// balancedObjects returns every top-level {...} span in text, tracking
// string literals so braces inside strings are ignored.
func balancedObjects(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
			}
		}
	}
	return out
}
