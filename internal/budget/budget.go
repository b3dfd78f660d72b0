// Package budget assembles a prompt from prioritized sections so that it fits
// a model's token budget.
//
// Token counts are estimated from the rune count (CharsPerToken runes per
// token). The estimate is an approximation, not a tokenizer: real counts vary
// by model and language, so callers should keep a margin in outputReserve.
package budget

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	CharsPerToken    = 4
	SectionDelimiter = "\n\n---\n\n"
	TruncationMarker = "...truncated"
)

type Position string

const (
	PositionStart  Position = "start"
	PositionMiddle Position = "middle"
	PositionEnd    Position = "end"
)

// Kind classifies a section. Request sections are mandatory; the optional
// kinds carry the per-category caps.
type Kind string

const (
	KindInstruction Kind = "instruction"
	KindRequest     Kind = "request"
	KindExamples    Kind = "examples"
	KindReference   Kind = "reference"
	KindSession     Kind = "session"
	KindProfile     Kind = "profile"
	KindReminder    Kind = "reminder"
)

type Section struct {
	Label    string   `json:"label"`
	Priority int      `json:"priority"`
	Content  string   `json:"content"`
	Position Position `json:"position,omitempty"`
	Kind     Kind     `json:"kind,omitempty"`
}

// Caps maps a section kind to its maximum share of the total budget.
type Caps map[Kind]float64

func DefaultCaps() Caps {
	return Caps{
		KindExamples:  0.10,
		KindReference: 0.30,
		KindSession:   0.10,
		KindProfile:   0.05,
	}
}

type IncludedSection struct {
	Label     string   `json:"label"`
	Kind      Kind     `json:"kind,omitempty"`
	Position  Position `json:"position"`
	Tokens    int      `json:"tokens"`
	Truncated bool     `json:"truncated"`
}

type AssembledPrompt struct {
	Text       string            `json:"text"`
	Included   []IncludedSection `json:"included"`
	Dropped    []string          `json:"dropped,omitempty"`
	TokensUsed int               `json:"tokens_used"`
	Available  int               `json:"available"`
	// OverBudget is set when the request sections alone exceed the
	// available budget.
	OverBudget bool `json:"over_budget"`
}

type Allocator struct {
	caps Caps
}

func NewAllocator(caps Caps) *Allocator {
	if caps == nil {
		caps = DefaultCaps()
	}
	return &Allocator{caps: caps}
}

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Truncate keeps the longest prefix of content that, with TruncationMarker
// appended, fits in maxTokens. It returns "" when not even the marker fits.
func Truncate(content string, maxTokens int) (string, bool) {
	if EstimateTokens(content) <= maxTokens {
		return content, false
	}

	suffix := "\n" + TruncationMarker
	keep := maxTokens*CharsPerToken - utf8.RuneCountInString(suffix)
	if keep <= 0 {
		return "", true
	}

	runes := []rune(content)
	prefix := strings.TrimRight(string(runes[:keep]), " \t\n")
	return prefix + suffix, true
}

type placed struct {
	content string
	tokens  int
	cut     bool
}

// Allocate decides which sections fit in totalBudget-outputReserve tokens and
// assembles them. Request sections are always kept whole, start and end
// sections are never split, and capped middle sections are truncated to
// their share of totalBudget before being fitted.
func (a *Allocator) Allocate(sections []Section, totalBudget, outputReserve int) AssembledPrompt {
	available := max(totalBudget-outputReserve, 0)
	out := AssembledPrompt{Available: available}

	ordered := slices.Clone(sections)
	slices.SortStableFunc(ordered, func(x, y Section) int {
		return cmp.Compare(y.Priority, x.Priority)
	})

	chosen := make(map[int]placed, len(ordered))
	remaining := available

	for i, s := range ordered {
		if s.Kind != KindRequest {
			continue
		}
		tokens := EstimateTokens(s.Content)
		chosen[i] = placed{content: s.Content, tokens: tokens}
		remaining -= tokens
	}
	if remaining < 0 {
		out.OverBudget = true
		remaining = 0
	}

	fit := func(i int, content string, cut bool) {
		tokens := EstimateTokens(content)
		if content == "" || tokens > remaining {
			out.Dropped = append(out.Dropped, ordered[i].Label)
			return
		}
		chosen[i] = placed{content: content, tokens: tokens, cut: cut}
		remaining -= tokens
	}

	for _, pos := range []Position{PositionStart, PositionMiddle, PositionEnd} {
		for i, s := range ordered {
			if s.Kind == KindRequest || position(s) != pos {
				continue
			}

			content, cut := s.Content, false
			if pos == PositionMiddle {
				if share, ok := a.caps[s.Kind]; ok {
					content, cut = Truncate(s.Content, int(share*float64(totalBudget)))
				}
			}
			fit(i, content, cut)
		}
	}

	var parts []string
	for _, pos := range []Position{PositionStart, PositionMiddle, PositionEnd} {
		for i, s := range ordered {
			p, ok := chosen[i]
			if !ok || position(s) != pos {
				continue
			}
			parts = append(parts, p.content)
			out.Included = append(out.Included, IncludedSection{
				Label:     s.Label,
				Kind:      s.Kind,
				Position:  pos,
				Tokens:    p.tokens,
				Truncated: p.cut,
			})
			out.TokensUsed += p.tokens
		}
	}

	out.Text = strings.Join(parts, SectionDelimiter)
	return out
}

func position(s Section) Position {
	switch s.Position {
	case PositionStart, PositionEnd:
		return s.Position
	default:
		return PositionMiddle
	}
}
