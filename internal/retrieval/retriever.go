package retrieval

import (
	"context"
	"fmt"
)

// ContextChunk is one retrieved slice of the document, ready for prompt
// assembly.
type ContextChunk struct {
	ID    string
	Page  int
	Text  string
	Score float32
}

// Retriever embeds a query and finds the document chunks most similar to it.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to topK chunks of the document ranked by similarity
// to the query, best first. Scores are raw cosine similarities; threshold
// policy belongs to the caller.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, topK int) ([]ContextChunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.store.Search(documentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:    s.ID,
			Page:  s.Page,
			Text:  s.Text,
			Score: s.Score,
		}
	}
	return chunks, nil
}
