// Package embedding provides a deterministic, content-addressed cache in
// front of an embedding model (C9), grounded on the teacher's
// ui/session_redis.go two-tier caching shape (in-process cache backed by an
// optional Redis tier) but keyed by content hash instead of session id,
// since embeddings are pure functions of their input text.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/go-redis/redis/v8"

	"github.com/cogniforge/qpipeline/core"
)

// Vector is the embedding model's output for one piece of text.
type Vector []float32

// Provider is the minimal embedding-model seam; provider adapters in
// package llm implement richer interfaces, but embeddings only need this.
type Provider interface {
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}

// Stats are the hit/miss counters §4.9/§4.12 require.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Service is the LRU-cached embedding façade. It is safe to use with a nil
// Provider: in that configuration Embed always returns (nil, nil) and logs
// once, matching §4.9's "unconfigured" behavior.
type Service struct {
	provider Provider
	cache    *lru.Cache[string, Vector]
	redis    *redis.Client
	logger   core.Logger

	mu          sync.Mutex
	hits        int64
	misses      int64
	warnedOnce  bool
}

// New builds a Service with an in-process LRU of the given size (entries,
// not bytes). size <= 0 falls back to 10000.
func New(provider Provider, size int, logger core.Logger) *Service {
	if size <= 0 {
		size = 10000
	}
	cache, _ := lru.New[string, Vector](size)
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Service{provider: provider, cache: cache, logger: logger}
}

// WithRedis attaches an optional second-tier Redis cache. Redis is queried
// only on an in-process miss, and populated on every store.
func (s *Service) WithRedis(client *redis.Client) *Service {
	s.redis = client
	return s
}

// NormalizeKey implements the "lowercased, stripped" normalization the
// dedup stage also relies on for exact matching (§4.10).
func NormalizeKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(NormalizeKey(text)))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached or freshly computed embedding for text. It
// returns (nil, nil) — not an error — when no provider is configured.
func (s *Service) Embed(ctx context.Context, text string) (Vector, error) {
	if s.provider == nil {
		s.mu.Lock()
		if !s.warnedOnce {
			s.warnedOnce = true
			s.logger.Warn("embedding provider not configured; embeddings disabled", nil)
		}
		s.mu.Unlock()
		return nil, nil
	}

	key := cacheKey(text)
	if v, ok := s.cache.Get(key); ok {
		s.recordHit()
		return v, nil
	}

	if s.redis != nil {
		if v, ok := s.fetchRedis(ctx, key); ok {
			s.cache.Add(key, v)
			s.recordHit()
			return v, nil
		}
	}

	s.recordMiss()
	v, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, v)
	s.storeRedis(ctx, key, v)
	return v, nil
}

// EmbedBatch issues one upstream call for every text not already cached.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if s.provider == nil {
		s.mu.Lock()
		if !s.warnedOnce {
			s.warnedOnce = true
			s.logger.Warn("embedding provider not configured; embeddings disabled", nil)
		}
		s.mu.Unlock()
		return make([]Vector, len(texts)), nil
	}

	out := make([]Vector, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		key := cacheKey(text)
		if v, ok := s.cache.Get(key); ok {
			out[i] = v
			s.recordHit()
			continue
		}
		if s.redis != nil {
			if v, ok := s.fetchRedis(ctx, key); ok {
				s.cache.Add(key, v)
				out[i] = v
				s.recordHit()
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
		s.recordMiss()
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := s.provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		if j >= len(vectors) {
			break
		}
		out[idx] = vectors[j]
		s.cache.Add(cacheKey(texts[idx]), vectors[j])
		s.storeRedis(ctx, cacheKey(texts[idx]), vectors[j])
	}
	return out, nil
}

func (s *Service) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *Service) recordMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

// Stats returns a snapshot of the hit/miss counters for the metrics
// tracker (C12).
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Hits: s.hits, Misses: s.misses, Size: s.cache.Len()}
}

func (s *Service) fetchRedis(ctx context.Context, key string) (Vector, bool) {
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	raw, err := s.redis.Get(rctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var v Vector
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (s *Service) storeRedis(ctx context.Context, key string, v Vector) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = s.redis.Set(rctx, redisKeyPrefix+key, raw, 0).Err()
}

const redisKeyPrefix = "qpipeline:embedding:"
