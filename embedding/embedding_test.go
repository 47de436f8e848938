package embedding

import (
	"context"
	"testing"
)

type fakeEmbedder struct {
	calls int
	vec   Vector
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	f.calls++
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i := range texts {
		f.calls++
		out[i] = f.vec
	}
	return out, nil
}

func TestEmbedCachesByNormalizedText(t *testing.T) {
	p := &fakeEmbedder{vec: Vector{0.1, 0.2}}
	s := New(p, 10, nil)

	v1, err := s.Embed(context.Background(), "  Hello World  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := s.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 upstream call due to normalization+cache, got %d", p.calls)
	}
	if len(v1) != 2 || len(v2) != 2 {
		t.Fatal("expected both calls to return the cached vector")
	}
	stats := s.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got %+v", stats)
	}
}

func TestEmbedUnconfiguredReturnsNilNotError(t *testing.T) {
	s := New(nil, 10, nil)
	v, err := s.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if v != nil {
		t.Fatal("expected nil vector when unconfigured")
	}
}

func TestEmbedBatchOnlyCallsUpstreamForMisses(t *testing.T) {
	p := &fakeEmbedder{vec: Vector{1, 2, 3}}
	s := New(p, 10, nil)

	_, _ = s.Embed(context.Background(), "cached")

	out, err := s.EmbedBatch(context.Background(), []string{"cached", "fresh-one", "fresh-two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(out))
	}
	if p.calls != 3 { // 1 for the initial Embed + 2 for the batch misses
		t.Fatalf("expected 3 total upstream calls, got %d", p.calls)
	}
}

func TestNormalizeKeyTrimsAndLowercases(t *testing.T) {
	if NormalizeKey("  Foo Bar  ") != "foo bar" {
		t.Fatal("expected trim + lowercase")
	}
}
