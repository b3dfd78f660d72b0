// Package chunker splits long texts into overlapping chunks sized for
// retrieval and prompt assembly.
package chunker

import (
	"context"
	"maps"
	"strings"
	"unicode"

	"github.com/felipepmaragno/model-router/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxChunkSize = 500
	DefaultMinChunkSize = 100
	DefaultOverlapSize  = 50
)

// Splitter sizes are counted in runes. A non-positive MaxChunkSize or
// MinChunkSize, or a negative OverlapSize, falls back to its default, so the
// zero value is usable.
type Splitter struct {
	MaxChunkSize int
	MinChunkSize int
	OverlapSize  int
}

func New() *Splitter {
	return &Splitter{
		MaxChunkSize: DefaultMaxChunkSize,
		MinChunkSize: DefaultMinChunkSize,
		OverlapSize:  DefaultOverlapSize,
	}
}

// Split cuts text into chunks of at most MaxChunkSize runes. Each chunk after
// the first starts OverlapSize runes before the previous cut.
func (s *Splitter) Split(text string, metadata map[string]string) []domain.Chunk {
	sz := s.sizes()
	return sz.split(text, metadata)
}

func (s *Splitter) sizes() Splitter {
	sz := *s
	if sz.MaxChunkSize <= 0 {
		sz.MaxChunkSize = DefaultMaxChunkSize
	}
	if sz.MinChunkSize <= 0 {
		sz.MinChunkSize = DefaultMinChunkSize
	}
	if sz.OverlapSize < 0 {
		sz.OverlapSize = DefaultOverlapSize
	}
	return sz
}

func (s *Splitter) split(text string, metadata map[string]string) []domain.Chunk {
	runes := []rune(text)
	if len(runes) <= s.MaxChunkSize {
		return []domain.Chunk{{
			Text:          text,
			Index:         0,
			Type:          domain.ChunkSingle,
			StartPosition: 0,
			EndPosition:   len(runes),
			Metadata:      maps.Clone(metadata),
		}}
	}

	var chunks []domain.Chunk
	start := 0
	for {
		end := start + s.MaxChunkSize
		if end >= len(runes) {
			chunks = append(chunks, s.chunk(runes, start, len(runes), len(chunks), metadata))
			break
		}

		cut := start + s.splitPoint(runes, start, end)
		chunks = append(chunks, s.chunk(runes, start, cut, len(chunks), metadata))

		next := cut - s.OverlapSize
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

func (s *Splitter) chunk(runes []rune, start, end, index int, metadata map[string]string) domain.Chunk {
	text := string(runes[start:end])
	return domain.Chunk{
		Text:          text,
		Index:         index,
		Type:          Classify(text),
		StartPosition: start,
		EndPosition:   end,
		Metadata:      maps.Clone(metadata),
	}
}

// splitPoint returns the cut offset relative to start. Delimiters are tried
// in priority order; for each, the last match leaving at least MinChunkSize
// runes wins. Without a match the window is cut hard at its end.
func (s *Splitter) splitPoint(runes []rune, start, end int) int {
	for _, match := range delimiters {
		for i := end - 1; i >= start; i-- {
			n, ok := match(runes, i)
			if !ok {
				continue
			}
			cut := i + n
			if cut > end {
				continue
			}
			if cut-start < s.MinChunkSize {
				break
			}
			return cut - start
		}
	}
	return end - start
}

// A delimiter reports whether one starts at runes[i] and how many runes
// belong to the chunk being closed.
type delimiter func(runes []rune, i int) (int, bool)

var delimiters = []delimiter{
	paragraphBreak,
	sentenceEnd,
	clauseBreak,
	comma,
}

func paragraphBreak(runes []rune, i int) (int, bool) {
	if runes[i] == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
		return 2, true
	}
	return 0, false
}

// sentenceEnd matches a period followed by whitespace and a capital letter.
func sentenceEnd(runes []rune, i int) (int, bool) {
	if runes[i] != '.' {
		return 0, false
	}
	j := i + 1
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	if j == i+1 || j >= len(runes) || !unicode.IsUpper(runes[j]) {
		return 0, false
	}
	return 1, true
}

func clauseBreak(runes []rune, i int) (int, bool) {
	if runes[i] == ';' || runes[i] == ':' {
		return 1, true
	}
	return 0, false
}

func comma(runes []rune, i int) (int, bool) {
	if runes[i] == ',' {
		return 1, true
	}
	return 0, false
}

// Classify sniffs the coarse content type of a chunk.
func Classify(text string) domain.ChunkType {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.Contains(trimmed, "```"):
		return domain.ChunkCode
	case strings.HasPrefix(trimmed, "#"), strings.HasPrefix(trimmed, "*"):
		return domain.ChunkHeading
	case strings.HasPrefix(trimmed, "-"), trimmed != "" && unicode.IsDigit([]rune(trimmed)[0]):
		return domain.ChunkList
	case strings.Contains(lower, "quiz"):
		return domain.ChunkQuiz
	case strings.Contains(lower, "example"):
		return domain.ChunkExample
	default:
		return domain.ChunkParagraph
	}
}

// AttachContext sets each chunk's Context to the first previewRunes runes of
// its neighbours. Chunks are modified in place.
func AttachContext(chunks []domain.Chunk, previewRunes int) {
	for i := range chunks {
		ctx := &domain.ChunkContext{}
		if i > 0 {
			ctx.Previous = preview(chunks[i-1].Text, previewRunes)
		}
		if i < len(chunks)-1 {
			ctx.Next = preview(chunks[i+1].Text, previewRunes)
		}
		chunks[i].Context = ctx
	}
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SplitAll splits documents concurrently with at most workers goroutines.
// The result is indexed like docs.
func (s *Splitter) SplitAll(ctx context.Context, docs []Document, workers int) ([][]domain.Chunk, error) {
	out := make([][]domain.Chunk, len(docs))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = s.Split(doc.Text, doc.Metadata)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
