// Package rag indexes uploaded documents and answers questions grounded
// in them.
package rag

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/satriobp/kino/internal/document"
	"github.com/satriobp/kino/internal/retrieval"
	"github.com/satriobp/kino/internal/storage"
)

// Ingestor turns an uploaded PDF into an indexed, searchable document.
// Ingestion is synchronous so unsupported uploads fail the request that
// sent them.
type Ingestor struct {
	vectors  retrieval.VectorStore
	embedder *retrieval.Embedder
	chunker  document.Chunker
}

func NewIngestor(vectors retrieval.VectorStore, embedder *retrieval.Embedder) *Ingestor {
	return &Ingestor{
		vectors:  vectors,
		embedder: embedder,
		chunker:  document.NewChunker(),
	}
}

// Ingest extracts, chunks, and embeds data, then atomically replaces the
// session's indexed document. Returns document.ErrUnsupportedDocument for
// payloads that are not readable PDFs.
func (ing *Ingestor) Ingest(ctx context.Context, sessionID, name string, data []byte) (storage.Document, error) {
	pages, err := document.ExtractPages(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return storage.Document{}, err
	}

	chunks := ing.chunker.Split(pages)
	if len(chunks) == 0 {
		return storage.Document{}, fmt.Errorf("%w: no extractable text", document.ErrUnsupportedDocument)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return storage.Document{}, fmt.Errorf("embedding chunks: %w", err)
	}

	doc := storage.Document{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Name:       name,
		PageCount:  len(pages),
		ChunkCount: len(chunks),
	}

	records := make([]retrieval.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = retrieval.Record{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Ordinal:    ch.Ordinal,
			Page:       ch.Page,
			Text:       ch.Text,
			Embedding:  vecs[i],
		}
	}

	if err := ing.vectors.ReplaceDocument(doc, records); err != nil {
		return storage.Document{}, fmt.Errorf("indexing document: %w", err)
	}
	return doc, nil
}
