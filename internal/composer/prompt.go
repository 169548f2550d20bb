// Package composer assembles the prompts the orchestrator sends to the
// model: the tool-selection system prompt, grounded document questions,
// and the persona rendering pass.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/satriobp/kino/internal/retrieval"
)

const defaultMaxContextTokens = 4000

// DecisionSystemPrompt is the persona-free system message used while the
// model decides what to do with a user message. Persona only shapes the
// final wording, never which tools run.
func DecisionSystemPrompt() string {
	return strings.TrimSpace(`
You are kino, a conversational movie assistant. You help with movie lookups,
cinema listings, a personal watchlist, viewing schedules, and questions about
an uploaded movie document.

Rules:
- Use the provided tools for anything factual. Never invent movie details,
  runtimes, ratings, or cinema listings.
- When recommending from the watchlist, look up candidates with search_movie
  before judging them.
- Schedules come only from plan_schedule. Never assemble one yourself.
- Questions about the uploaded document go through ask_document. Relay its
  answer faithfully, including when it reports nothing relevant was found.
- When a tool reports a problem (duplicate, not found, nothing eligible),
  explain it plainly to the user instead of retrying forever.
- Answer small talk and opinion questions directly without tools.`)
}

// Composer builds grounded question prompts under a token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// GroundedQuestion builds the prompt for answering a question strictly from
// retrieved document excerpts. Lowest-scoring chunks are dropped first when
// the budget is tight.
func (c *Composer) GroundedQuestion(question string, chunks []retrieval.ContextChunk) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the document excerpts below.\n")
	sb.WriteString("Cite the page number for every claim, like (p. 12).\n")
	sb.WriteString("If the excerpts do not contain the answer, say so plainly. Do not guess.\n")

	// Sort chunks by score descending.
	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	header := "\n[Document Excerpts]\n"
	remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(header)

	var selected []string
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}

	sb.WriteString("\n[Question]\n")
	sb.WriteString(question)
	return sb.String()
}

func formatChunk(ch retrieval.ContextChunk) string {
	return fmt.Sprintf("(Page %d, score %.2f)\n%s\n\n", ch.Page, ch.Score, ch.Text)
}

// RenderPrompt builds the system message for the persona pass, which
// rewrites a draft reply in the session's voice without touching facts.
func RenderPrompt(style string) string {
	return style + "\n\n" +
		"Rewrite the draft reply below in your voice. Keep every fact, title, " +
		"number, and page citation exactly as given. Do not add new claims or " +
		"drop information. Reply with the rewritten text only."
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
