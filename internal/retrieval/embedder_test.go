package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

// mockEngine implements Engine with a function field.
type mockEngine struct {
	embedFunc func(ctx context.Context, model, text string) ([]float32, error)
}

func (m *mockEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return m.embedFunc(ctx, model, text)
}

func TestEmbed(t *testing.T) {
	e := NewEmbedder(&mockEngine{
		embedFunc: func(ctx context.Context, model, text string) ([]float32, error) {
			if model != "nomic-embed-text" {
				t.Errorf("model = %q", model)
			}
			return []float32{0.1, 0.2}, nil
		},
	}, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("got %d floats, want 2", len(vec))
	}
}

func TestEmbedBatch(t *testing.T) {
	var calls atomic.Int32
	e := NewEmbedder(&mockEngine{
		embedFunc: func(ctx context.Context, model, text string) ([]float32, error) {
			calls.Add(1)
			return []float32{float32(len(text))}, nil
		},
	}, "m")

	texts := []string{"a", "bb", "ccc"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	// Results keep input order despite concurrent execution.
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, vecs[i], len(text))
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("engine called %d times, want 3", got)
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	e := NewEmbedder(&mockEngine{}, "m")
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

func TestEmbedBatchError(t *testing.T) {
	wantErr := errors.New("engine down")
	e := NewEmbedder(&mockEngine{
		embedFunc: func(ctx context.Context, model, text string) ([]float32, error) {
			if text == "bad" {
				return nil, wantErr
			}
			return []float32{1}, nil
		},
	}, "m")

	if _, err := e.EmbedBatch(context.Background(), []string{"ok", "bad"}); !errors.Is(err, wantErr) {
		t.Errorf("got %v, want wrapped engine error", err)
	}
}
