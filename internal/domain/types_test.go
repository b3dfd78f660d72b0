package domain

import "testing"

func TestGenerationResult_Clone(t *testing.T) {
	r := &GenerationResult{
		AnalysisText: "text",
		StructuredFields: map[string]any{
			"items": []any{map[string]any{"n": 1.0}},
		},
		Metadata: ResultMetadata{ModelUsed: "m1"},
	}

	c := r.Clone()
	c.StructuredFields["items"].([]any)[0].(map[string]any)["n"] = 2.0
	c.Metadata.ModelUsed = "m2"

	if got := r.StructuredFields["items"].([]any)[0].(map[string]any)["n"]; got != 1.0 {
		t.Errorf("nested value changed to %v", got)
	}
	if r.Metadata.ModelUsed != "m1" {
		t.Errorf("metadata changed to %s", r.Metadata.ModelUsed)
	}

	if (&GenerationResult{}).Clone().StructuredFields != nil {
		t.Error("nil fields should stay nil")
	}
}
