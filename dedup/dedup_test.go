package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/cogniforge/qpipeline/embedding"
)

type fakeEmbedder struct {
	vectors map[string]embedding.Vector
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return f.vectors[text], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	out := make([]embedding.Vector, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return nil, errors.New("embedding service unavailable")
}

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	return nil, errors.New("embedding service unavailable")
}

func TestCheckDuplicateExactMatchIsCaseAndWhitespaceInsensitive(t *testing.T) {
	c := New(nil)
	r, err := c.CheckDuplicate(context.Background(), "  What Comes Next?  ", []string{"what comes next?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsDuplicate || r.DuplicateType != MatchExact || r.SimilarityScore != 1.0 {
		t.Fatalf("expected exact match, got %+v", r)
	}
}

func TestCheckDuplicateSemanticMatchAboveThreshold(t *testing.T) {
	fe := &fakeEmbedder{vectors: map[string]embedding.Vector{
		"candidate": {1, 0},
		"existing":  {0.99, 0.14},
	}}
	svc := embedding.New(fe, 10, nil)
	c := New(svc)

	r, err := c.CheckDuplicate(context.Background(), "candidate", []string{"existing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsDuplicate || r.DuplicateType != MatchSemantic {
		t.Fatalf("expected semantic match, got %+v", r)
	}
}

func TestCheckDuplicateBelowThresholdIsNotDuplicate(t *testing.T) {
	fe := &fakeEmbedder{vectors: map[string]embedding.Vector{
		"candidate": {1, 0},
		"existing":  {0, 1},
	}}
	svc := embedding.New(fe, 10, nil)
	c := New(svc)

	r, err := c.CheckDuplicate(context.Background(), "candidate", []string{"existing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.IsDuplicate {
		t.Fatalf("expected no duplicate, got %+v", r)
	}
}

func TestCosineSimilarityZeroNormReturnsZero(t *testing.T) {
	if got := cosineSimilarity(embedding.Vector{0, 0}, embedding.Vector{1, 1}); got != 0 {
		t.Fatalf("expected 0 for zero-norm vector, got %v", got)
	}
}

func TestCheckBatchFailsOpenOnPerCandidateError(t *testing.T) {
	// "a" matches exactly before any embedding call; "b" reaches the semantic
	// pass, whose embedding call fails, and must come back as a non-duplicate.
	c := New(embedding.New(failingEmbedder{}, 10, nil))
	results := c.CheckBatch(context.Background(), []string{"a", "b"}, []string{"a"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].IsDuplicate {
		t.Fatal("expected exact match for first candidate")
	}
	if results[1].IsDuplicate {
		t.Fatal("expected no match for second candidate")
	}
}
