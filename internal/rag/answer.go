package rag

import (
	"context"
	"fmt"

	"github.com/satriobp/kino/internal/composer"
	"github.com/satriobp/kino/internal/llm"
	"github.com/satriobp/kino/internal/retrieval"
)

const (
	// DefaultTopK is how many chunks back a grounded answer.
	DefaultTopK = 4
	// DefaultMinSimilarity is the score floor below which a chunk is not
	// considered relevant.
	DefaultMinSimilarity = 0.35
)

// NotFoundAnswer is the fixed reply when nothing in the document clears
// the similarity floor. The model is never consulted in that case, so it
// cannot invent an answer.
const NotFoundAnswer = "I couldn't find anything about that in the uploaded document."

// Retriever finds document chunks relevant to a query. *retrieval.Retriever
// satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, documentID, query string, topK int) ([]retrieval.ContextChunk, error)
}

// CompletionClient produces chat completions. *llm.Client satisfies it.
type CompletionClient interface {
	Complete(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error)
}

// Answer is a grounded reply with its supporting evidence.
type Answer struct {
	Text     string
	Grounded bool
	Chunks   []retrieval.ContextChunk
}

// Answerer answers questions strictly from an indexed document.
type Answerer struct {
	retriever     Retriever
	llm           CompletionClient
	model         string
	composer      *composer.Composer
	topK          int
	minSimilarity float32
}

// NewAnswerer creates an Answerer. Pass topK <= 0 or minSimilarity <= 0 to
// use the defaults.
func NewAnswerer(r Retriever, client CompletionClient, model string, topK int, minSimilarity float32) *Answerer {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &Answerer{
		retriever:     r,
		llm:           client,
		model:         model,
		composer:      composer.New(0),
		topK:          topK,
		minSimilarity: minSimilarity,
	}
}

// Answer retrieves evidence for the question and, only when at least one
// chunk clears the similarity floor, asks the model for a grounded reply.
func (a *Answerer) Answer(ctx context.Context, documentID, question string) (Answer, error) {
	chunks, err := a.retriever.Retrieve(ctx, documentID, question, a.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	relevant := chunks[:0:0]
	for _, ch := range chunks {
		if ch.Score >= a.minSimilarity {
			relevant = append(relevant, ch)
		}
	}
	if len(relevant) == 0 {
		return Answer{Text: NotFoundAnswer, Grounded: false}, nil
	}

	prompt := a.composer.GroundedQuestion(question, relevant)
	resp, err := a.llm.Complete(ctx, llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You answer questions about a movie document. Follow the grounding rules in the user message exactly."},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return Answer{}, fmt.Errorf("completing grounded answer: %w", err)
	}

	return Answer{
		Text:     resp.First().Content,
		Grounded: true,
		Chunks:   relevant,
	}, nil
}
