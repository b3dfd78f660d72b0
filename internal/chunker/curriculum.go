package chunker

import (
	"fmt"
	"strings"

	"github.com/felipepmaragno/model-router/internal/domain"
)

type Curriculum struct {
	Title string `json:"title"`
	Units []Unit `json:"units"`
}

type Unit struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Lessons     []Lesson `json:"lessons"`
}

type Lesson struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Objectives []string `json:"objectives,omitempty"`
}

// SplitCurriculum emits, per unit, one summary chunk followed by one chunk per
// lesson. Lesson chunks inline the unit title and description so each chunk
// reads on its own.
func SplitCurriculum(c Curriculum) []domain.Chunk {
	var chunks []domain.Chunk

	for _, unit := range c.Units {
		var summary strings.Builder
		fmt.Fprintf(&summary, "Unit: %s\n", unit.Title)
		if unit.Description != "" {
			fmt.Fprintf(&summary, "%s\n", unit.Description)
		}
		if len(unit.Lessons) > 0 {
			summary.WriteString("Lessons:\n")
			for _, lesson := range unit.Lessons {
				fmt.Fprintf(&summary, "- %s\n", lesson.Title)
			}
		}

		chunks = append(chunks, domain.Chunk{
			Text:  strings.TrimRight(summary.String(), "\n"),
			Index: len(chunks),
			Type:  domain.ChunkSummary,
			Metadata: map[string]string{
				"curriculum": c.Title,
				"unit_id":    unit.ID,
				"unit":       unit.Title,
			},
		})

		for _, lesson := range unit.Lessons {
			var b strings.Builder
			fmt.Fprintf(&b, "Unit: %s\n", unit.Title)
			if unit.Description != "" {
				fmt.Fprintf(&b, "Unit overview: %s\n", unit.Description)
			}
			fmt.Fprintf(&b, "Lesson: %s\n", lesson.Title)
			if len(lesson.Objectives) > 0 {
				fmt.Fprintf(&b, "Objectives: %s\n", strings.Join(lesson.Objectives, "; "))
			}
			if lesson.Content != "" {
				fmt.Fprintf(&b, "\n%s", lesson.Content)
			}

			chunks = append(chunks, domain.Chunk{
				Text:  strings.TrimRight(b.String(), "\n"),
				Index: len(chunks),
				Type:  domain.ChunkEducational,
				Metadata: map[string]string{
					"curriculum": c.Title,
					"unit_id":    unit.ID,
					"unit":       unit.Title,
					"lesson_id":  lesson.ID,
					"lesson":     lesson.Title,
				},
			})
		}
	}

	return chunks
}
