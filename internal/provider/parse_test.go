package provider

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantAnalysis string
		wantFields   int
	}{
		{
			name:         "whole json",
			text:         `{"analysis": "good", "score": 3}`,
			wantAnalysis: "good",
			wantFields:   2,
		},
		{
			name:         "fenced block with prose",
			text:         "Here you go:\n```json\n{\"analysis\": \"fenced\"}\n```\nThanks",
			wantAnalysis: "fenced",
			wantFields:   1,
		},
		{
			name:         "embedded object",
			text:         `Result: {"feedback": "inline {braces} in string", "ok": true} done`,
			wantAnalysis: "inline {braces} in string",
			wantFields:   2,
		},
		{
			name:         "skips invalid first object",
			text:         `{not json} then {"analysis": "second"}`,
			wantAnalysis: "second",
			wantFields:   1,
		},
		{
			name:         "lenient trailing comma",
			text:         "```json\n{\"analysis\": \"lenient\", // note\n \"score\": 1,}\n```",
			wantAnalysis: "lenient",
			wantFields:   2,
		},
		{
			name:         "object without analysis keeps raw text",
			text:         `{"score": 5}`,
			wantAnalysis: `{"score": 5}`,
			wantFields:   1,
		},
		{
			name:         "plain text degrades",
			text:         "  Just prose, no structure.  ",
			wantAnalysis: "Just prose, no structure.",
			wantFields:   0,
		},
		{
			name:         "array is not a payload",
			text:         `[1, 2, 3]`,
			wantAnalysis: `[1, 2, 3]`,
			wantFields:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis, fields := Parse(tt.text, DefaultStrategies())

			if analysis != tt.wantAnalysis {
				t.Errorf("analysis = %q, want %q", analysis, tt.wantAnalysis)
			}
			if fields == nil {
				t.Fatal("fields must never be nil")
			}
			if len(fields) != tt.wantFields {
				t.Errorf("got %d fields, want %d: %v", len(fields), tt.wantFields, fields)
			}
		})
	}
}

func TestBalancedObjects(t *testing.T) {
	got := balancedObjects(`a {"x": {"y": 1}} b {"z": "}"} c }`)

	want := []string{`{"x": {"y": 1}}`, `{"z": "}"}`}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("object %d = %q, want %q", i, got[i], want[i])
		}
	}
}
