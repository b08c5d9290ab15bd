package embedding

import (
	"context"
	"testing"
	"time"

	"docsearch/internal/rag/interfaces"
)

type countingModel struct {
	calls int
}

func (m *countingModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

var _ interfaces.EmbeddingModel = (*countingModel)(nil)

func TestCachedModelSkipsRepeatedTexts(t *testing.T) {
	inner := &countingModel{}
	model, err := WithCache(inner, 16, time.Minute)
	if err != nil {
		t.Fatalf("WithCache: %v", err)
	}
	ctx := context.Background()

	first, err := model.Embed(ctx, []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := model.Embed(ctx, []string{"hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner model called %d times, want 1", inner.calls)
	}
	if first[0][0] != second[0][0] {
		t.Error("cached vector differs from original")
	}
}

func TestCachedModelMixedHitMiss(t *testing.T) {
	inner := &countingModel{}
	model, err := WithCache(inner, 16, time.Minute)
	if err != nil {
		t.Fatalf("WithCache: %v", err)
	}
	ctx := context.Background()

	if _, err := model.Embed(ctx, []string{"aa"}); err != nil {
		t.Fatal(err)
	}
	out, err := model.Embed(ctx, []string{"aa", "bbbb"})
	if err != nil {
		t.Fatal(err)
	}
	if out[0][0] != 2 || out[1][0] != 4 {
		t.Errorf("vectors landed in wrong slots: %v", out)
	}
	if inner.calls != 2 {
		t.Errorf("inner model called %d times, want 2", inner.calls)
	}
}
