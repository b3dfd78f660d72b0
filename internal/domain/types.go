package domain

import "time"

// ActionGenerateContent is the capability a listed model must advertise to be
// considered for text generation.
const ActionGenerateContent = "generateContent"

// ModelDescriptor is a ranked, routable model. Descriptors are immutable once
// published by the registry; a discovery cycle replaces the whole list.
type ModelDescriptor struct {
	ID               string    `json:"id"`
	DisplayName      string    `json:"display_name"`
	Provider         string    `json:"provider"`
	InputTokenLimit  int       `json:"input_token_limit"`
	OutputTokenLimit int       `json:"output_token_limit"`
	PriorityRank     int       `json:"priority_rank"`
	Capabilities     []string  `json:"capabilities"`
	DiscoveredAt     time.Time `json:"discovered_at"`
}

// HasCapability reports whether the descriptor lists capability c.
func (m ModelDescriptor) HasCapability(c string) bool {
	for _, capability := range m.Capabilities {
		if capability == c {
			return true
		}
	}
	return false
}

// DiscoveredModel is a raw row from a provider's model listing, before
// filtering and ranking.
type DiscoveredModel struct {
	Name             string
	DisplayName      string
	Provider         string
	InputTokenLimit  int
	OutputTokenLimit int
	SupportedActions []string
}

type GenerationRequest struct {
	RequestID       string            `json:"request_id,omitempty"`
	Prompt          string            `json:"prompt"`
	Instruction     string            `json:"instruction,omitempty"`
	Language        string            `json:"language,omitempty"`
	Phase           string            `json:"phase,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
}

type GenerationResult struct {
	AnalysisText     string         `json:"analysis_text"`
	StructuredFields map[string]any `json:"structured_fields"`
	Metadata         ResultMetadata `json:"metadata"`
}

// Clone returns a copy that shares no maps or slices with r. Structured
// fields decoded from JSON nest only maps, slices and scalars.
func (r *GenerationResult) Clone() *GenerationResult {
	c := *r
	if r.StructuredFields != nil {
		c.StructuredFields = cloneValue(r.StructuredFields).(map[string]any)
	}
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

type ResultMetadata struct {
	ModelUsed  string    `json:"model_used"`
	TokensUsed int       `json:"tokens_used"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
	CacheHit   bool      `json:"cache_hit"`
	Attempts   int       `json:"attempts,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// ChunkType classifies the content of a chunk.
type ChunkType string

const (
	ChunkSingle      ChunkType = "single"
	ChunkSummary     ChunkType = "summary"
	ChunkEducational ChunkType = "educational"
	ChunkHeading     ChunkType = "heading"
	ChunkList        ChunkType = "list"
	ChunkCode        ChunkType = "code"
	ChunkExample     ChunkType = "example"
	ChunkQuiz        ChunkType = "quiz"
	ChunkParagraph   ChunkType = "paragraph"
)

// Chunk is a bounded piece of a longer text. StartPosition and EndPosition
// are rune offsets into the source text; curriculum chunks carry zero offsets.
type Chunk struct {
	Text          string            `json:"text"`
	Index         int               `json:"index"`
	Type          ChunkType         `json:"type"`
	StartPosition int               `json:"start_position"`
	EndPosition   int               `json:"end_position"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Context       *ChunkContext     `json:"context,omitempty"`
}

type ChunkContext struct {
	Previous string `json:"previous,omitempty"`
	Next     string `json:"next,omitempty"`
}

// EventKind names the terminal outcome an event describes.
type EventKind string

const (
	EventSuccess          EventKind = "success"
	EventCacheHit         EventKind = "cache_hit"
	EventCandidateFailure EventKind = "candidate_failure"
	EventAggregateFailure EventKind = "aggregate_failure"
)

// RouteEvent is the observability record emitted for every routing outcome.
type RouteEvent struct {
	Kind           EventKind          `json:"kind"`
	RequestID      string             `json:"request_id"`
	Model          string             `json:"model,omitempty"`
	LatencyMs      int64              `json:"latency_ms"`
	TokensUsed     int                `json:"tokens_used,omitempty"`
	CacheHit       bool               `json:"cache_hit"`
	Attempts       int                `json:"attempts,omitempty"`
	ErrorKind      string             `json:"error_kind,omitempty"`
	Error          string             `json:"error,omitempty"`
	Failures       []CandidateFailure `json:"failures,omitempty"`
	CircuitSkipped int                `json:"circuit_skipped,omitempty"`
	Skipped        int                `json:"skipped,omitempty"`
	CircuitState   string             `json:"circuit_state,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}
