package retrieval

import "github.com/satriobp/kino/internal/storage"

// VectorStore is the interface for chunk storage and similarity search.
// The current implementation uses SQLite with brute-force cosine
// similarity, which is comfortable at single-document scale (a feature
// film script chunks to a few hundred vectors).
type VectorStore interface {
	// ReplaceDocument atomically swaps a session's indexed document for a
	// new one: the old document and its chunks are removed and the new
	// set becomes visible in a single transaction.
	ReplaceDocument(doc storage.Document, records []Record) error

	// Search returns the top-K records of a document most similar to the
	// query vector, best first.
	Search(documentID string, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteDocument removes a document and all its chunks.
	DeleteDocument(documentID string) error

	// Count returns the number of chunks stored for a document.
	Count(documentID string) (int, error)
}

// Record represents one stored chunk.
type Record struct {
	ID         string
	DocumentID string
	Ordinal    int
	Page       int
	Text       string
	Embedding  []float32
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
