// Package dedup checks a candidate question against previously accepted
// ones, first by exact normalized text match and then by embedding cosine
// similarity (C10).
package dedup

import (
	"context"
	"math"
	"strings"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/embedding"
)

// MatchType distinguishes how a duplicate was found.
type MatchType string

const (
	MatchNone     MatchType = ""
	MatchExact    MatchType = "exact"
	MatchSemantic MatchType = "semantic"
)

// Result is the §4.10 DuplicateCheckResult.
type Result struct {
	IsDuplicate      bool
	DuplicateType    MatchType
	SimilarityScore  float64
	MatchedQuestion  string
}

// Checker compares a candidate's text against a corpus of existing question
// texts, using Embeddings for the semantic pass.
type Checker struct {
	Embeddings         *embedding.Service
	SimilarityThreshold float64
	Logger             core.Logger
}

func New(embeddings *embedding.Service) *Checker {
	return &Checker{
		Embeddings:          embeddings,
		SimilarityThreshold: core.DefaultSimilarityThreshold,
		Logger:              core.NoOpLogger{},
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CheckDuplicate implements §4.10's short-circuiting algorithm: exact match
// first, then semantic similarity against existing.
func (c *Checker) CheckDuplicate(ctx context.Context, candidate string, existing []string) (Result, error) {
	normalizedCandidate := normalize(candidate)
	for _, e := range existing {
		if normalize(e) == normalizedCandidate {
			return Result{IsDuplicate: true, DuplicateType: MatchExact, SimilarityScore: 1.0, MatchedQuestion: e}, nil
		}
	}

	if c.Embeddings == nil {
		return Result{}, nil
	}

	candidateVec, err := c.Embeddings.Embed(ctx, candidate)
	if err != nil {
		return Result{}, err
	}
	if candidateVec == nil {
		return Result{}, nil
	}

	threshold := c.SimilarityThreshold
	if threshold == 0 {
		threshold = core.DefaultSimilarityThreshold
	}

	var best float64
	var bestMatch string
	for _, e := range existing {
		if strings.TrimSpace(e) == "" {
			continue
		}
		vec, err := c.Embeddings.Embed(ctx, e)
		if err != nil || vec == nil {
			continue
		}
		sim := cosineSimilarity(candidateVec, vec)
		if sim > best {
			best = sim
			bestMatch = e
		}
	}

	if best >= threshold {
		return Result{IsDuplicate: true, DuplicateType: MatchSemantic, SimilarityScore: best, MatchedQuestion: bestMatch}, nil
	}
	return Result{SimilarityScore: 0}, nil
}

// CheckBatch runs independent checks per candidate. A failed check is
// fail-open: treated as not-a-duplicate so one broken embedding call never
// silently blocks generation, and is logged rather than propagated.
func (c *Checker) CheckBatch(ctx context.Context, candidates []string, existing []string) []Result {
	results := make([]Result, len(candidates))
	for i, candidate := range candidates {
		r, err := c.CheckDuplicate(ctx, candidate, existing)
		if err != nil {
			c.Logger.Warn("duplicate check failed, treating as non-duplicate", map[string]interface{}{
				"error": err.Error(),
			})
			results[i] = Result{}
			continue
		}
		results[i] = r
	}
	return results
}

// cosineSimilarity is clamped to [0,1]; zero-norm inputs return 0.
func cosineSimilarity(a, b embedding.Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
