package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/satriobp/kino/internal/document"
	"github.com/satriobp/kino/internal/retrieval"
	"github.com/satriobp/kino/internal/storage"
)

type nopVectorStore struct{}

func (nopVectorStore) ReplaceDocument(doc storage.Document, records []retrieval.Record) error {
	return nil
}
func (nopVectorStore) Search(documentID string, vector []float32, topK int) ([]retrieval.ScoredRecord, error) {
	return nil, nil
}
func (nopVectorStore) DeleteDocument(documentID string) error { return nil }
func (nopVectorStore) Count(documentID string) (int, error)   { return 0, nil }

type nopEngine struct{}

func (nopEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return []float32{1}, nil
}

func TestIngestRejectsNonPDF(t *testing.T) {
	ing := NewIngestor(nopVectorStore{}, retrieval.NewEmbedder(nopEngine{}, "m"))

	payloads := map[string][]byte{
		"empty":      {},
		"plain text": []byte("just some words, not a pdf"),
		"truncated":  []byte("%PDF-1.4 and then nothing"),
	}
	for name, data := range payloads {
		if _, err := ing.Ingest(context.Background(), "s1", "notes.txt", data); !errors.Is(err, document.ErrUnsupportedDocument) {
			t.Errorf("%s: got %v, want ErrUnsupportedDocument", name, err)
		}
	}
}
