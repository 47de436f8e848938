// Package metrics tracks in-process counters, gauges, and stage timers for
// every pipeline stage (C12), grounded on the teacher's
// telemetry/metrics.go instrument cache (name -> instrument maps behind a
// sync.RWMutex), adapted from OTel instruments to plain counters since this
// package is the pipeline's own run summary, not the OTel export path
// (that's package observability, C13).
package metrics

import (
	"sync"
	"time"
)

// Tracker is the thread-safe home for every stage's counters. The zero
// value is not ready to use; call New.
type Tracker struct {
	mu sync.Mutex

	executionStart time.Time
	executionEnd   time.Time

	generation generationStats
	evaluation evaluationStats
	dedup      dedupStats
	database   databaseStats
	api        apiStats

	costByProviderModel map[string]float64
	costTotal           float64

	errorsByCategory map[string]int
	errorsBySeverity map[string]int
	criticalErrors    []string

	retryAttempts      int
	retrySuccesses     int
	retryExhausted     int

	circuitOpens  map[string]int
	circuitCloses map[string]int

	stageDurations map[string]time.Duration

	embeddingHits   int64
	embeddingMisses int64
}

type generationStats struct {
	Requested    int
	Generated    int
	Failed       int
	ByProvider   map[string]int
	ByType       map[string]int
	ByDifficulty map[string]int
	LastErrors   []string
}

type evaluationStats struct {
	Evaluated int
	Approved  int
	Rejected  int
	Failed    int
	scoreSum  float64
	scoreMin  float64
	scoreMax  float64
	scored    bool
}

type dedupStats struct {
	Checked         int
	DuplicatesExact int
	DuplicatesSem   int
}

type databaseStats struct {
	Inserted int
	Failed   int
}

type apiStats struct {
	TotalCalls int
	ByProvider map[string]int
}

func New() *Tracker {
	return &Tracker{
		generation: generationStats{
			ByProvider:   map[string]int{},
			ByType:       map[string]int{},
			ByDifficulty: map[string]int{},
		},
		api:                 apiStats{ByProvider: map[string]int{}},
		costByProviderModel: map[string]float64{},
		errorsByCategory:    map[string]int{},
		errorsBySeverity:    map[string]int{},
		circuitOpens:        map[string]int{},
		circuitCloses:       map[string]int{},
		stageDurations:      map[string]time.Duration{},
	}
}

// StartExecution/EndExecution bracket the whole run.
func (t *Tracker) StartExecution() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executionStart = now()
}

func (t *Tracker) EndExecution() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executionEnd = now()
}

// now is the single seam for "current time"; a test can replace it with a
// fixed clock.
var now = time.Now

func (t *Tracker) RecordGeneration(requested, generated, failed int, byProvider map[string]int, qType, difficulty string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation.Requested += requested
	t.generation.Generated += generated
	t.generation.Failed += failed
	for p, c := range byProvider {
		t.generation.ByProvider[p] += c
	}
	if qType != "" {
		t.generation.ByType[qType]++
	}
	if difficulty != "" {
		t.generation.ByDifficulty[difficulty]++
	}
}

func (t *Tracker) RecordGenerationError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation.LastErrors = append(t.generation.LastErrors, msg)
	if len(t.generation.LastErrors) > 20 {
		t.generation.LastErrors = t.generation.LastErrors[len(t.generation.LastErrors)-20:]
	}
}

func (t *Tracker) RecordEvaluation(approved bool, failed bool, overall float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if failed {
		t.evaluation.Failed++
		return
	}
	t.evaluation.Evaluated++
	if approved {
		t.evaluation.Approved++
	} else {
		t.evaluation.Rejected++
	}
	if !t.evaluation.scored {
		t.evaluation.scoreMin, t.evaluation.scoreMax = overall, overall
		t.evaluation.scored = true
	} else {
		if overall < t.evaluation.scoreMin {
			t.evaluation.scoreMin = overall
		}
		if overall > t.evaluation.scoreMax {
			t.evaluation.scoreMax = overall
		}
	}
	t.evaluation.scoreSum += overall
}

func (t *Tracker) RecordDedup(isExact, isSemantic bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dedup.Checked++
	if isExact {
		t.dedup.DuplicatesExact++
	}
	if isSemantic {
		t.dedup.DuplicatesSem++
	}
}

func (t *Tracker) RecordDatabase(inserted, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.database.Inserted += inserted
	t.database.Failed += failed
}

func (t *Tracker) RecordAPICall(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.api.TotalCalls++
	t.api.ByProvider[provider]++
}

func (t *Tracker) RecordCost(provider, model string, usd float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.costByProviderModel[provider+"/"+model] += usd
	t.costTotal += usd
}

func (t *Tracker) RecordError(category, severity string, critical bool, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorsByCategory[category]++
	t.errorsBySeverity[severity]++
	if critical {
		t.criticalErrors = append(t.criticalErrors, detail)
	}
}

func (t *Tracker) RecordRetry(succeededAfterRetry bool, exhausted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryAttempts++
	if succeededAfterRetry {
		t.retrySuccesses++
	}
	if exhausted {
		t.retryExhausted++
	}
}

func (t *Tracker) RecordCircuitOpen(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.circuitOpens[name]++
}

func (t *Tracker) RecordCircuitClose(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.circuitCloses[name]++
}

func (t *Tracker) RecordEmbeddingCache(hits, misses int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.embeddingHits += hits
	t.embeddingMisses += misses
}

// TimeStage returns a function to call when the stage completes; it
// accumulates into stageDurations keyed by name. Usage:
//
//	done := tracker.TimeStage("generation")
//	defer done()
func (t *Tracker) TimeStage(name string) func() {
	start := now()
	return func() {
		elapsed := now().Sub(start)
		t.mu.Lock()
		t.stageDurations[name] += elapsed
		t.mu.Unlock()
	}
}

// Summary is the deep, read-only snapshot returned by GetSummary.
type Summary struct {
	ExecutionDuration time.Duration

	Generation struct {
		Requested    int
		Generated    int
		Failed       int
		ByProvider   map[string]int
		ByType       map[string]int
		ByDifficulty map[string]int
		LastErrors   []string
	}
	Evaluation struct {
		Evaluated, Approved, Rejected, Failed int
		AvgScore, MinScore, MaxScore          float64
	}
	Dedup struct {
		Checked, DuplicatesExact, DuplicatesSemantic int
	}
	Database struct {
		Inserted, Failed int
	}
	API struct {
		TotalCalls int
		ByProvider map[string]int
	}
	CostByProviderModel map[string]float64
	CostTotalUSD        float64
	ErrorsByCategory    map[string]int
	ErrorsBySeverity    map[string]int
	CriticalErrors      []string
	RetryAttempts       int
	RetrySuccesses      int
	RetryExhausted      int
	CircuitOpens        map[string]int
	CircuitCloses       map[string]int
	StageDurations      map[string]time.Duration
	EmbeddingCacheHits  int64
	EmbeddingCacheMiss  int64
	EmbeddingHitRate    float64
}

// GetSummary deep-copies every counter so callers can't mutate tracker
// internals through the returned struct.
func (t *Tracker) GetSummary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	if !t.executionEnd.IsZero() && !t.executionStart.IsZero() {
		s.ExecutionDuration = t.executionEnd.Sub(t.executionStart)
	}

	s.Generation.Requested = t.generation.Requested
	s.Generation.Generated = t.generation.Generated
	s.Generation.Failed = t.generation.Failed
	s.Generation.ByProvider = copyIntMap(t.generation.ByProvider)
	s.Generation.ByType = copyIntMap(t.generation.ByType)
	s.Generation.ByDifficulty = copyIntMap(t.generation.ByDifficulty)
	s.Generation.LastErrors = append([]string(nil), t.generation.LastErrors...)

	s.Evaluation.Evaluated = t.evaluation.Evaluated
	s.Evaluation.Approved = t.evaluation.Approved
	s.Evaluation.Rejected = t.evaluation.Rejected
	s.Evaluation.Failed = t.evaluation.Failed
	if t.evaluation.Evaluated > 0 {
		s.Evaluation.AvgScore = t.evaluation.scoreSum / float64(t.evaluation.Evaluated)
	}
	s.Evaluation.MinScore = t.evaluation.scoreMin
	s.Evaluation.MaxScore = t.evaluation.scoreMax

	s.Dedup.Checked = t.dedup.Checked
	s.Dedup.DuplicatesExact = t.dedup.DuplicatesExact
	s.Dedup.DuplicatesSemantic = t.dedup.DuplicatesSem

	s.Database.Inserted = t.database.Inserted
	s.Database.Failed = t.database.Failed

	s.API.TotalCalls = t.api.TotalCalls
	s.API.ByProvider = copyIntMap(t.api.ByProvider)

	s.CostByProviderModel = copyFloatMap(t.costByProviderModel)
	s.CostTotalUSD = t.costTotal

	s.ErrorsByCategory = copyIntMap(t.errorsByCategory)
	s.ErrorsBySeverity = copyIntMap(t.errorsBySeverity)
	s.CriticalErrors = append([]string(nil), t.criticalErrors...)

	s.RetryAttempts = t.retryAttempts
	s.RetrySuccesses = t.retrySuccesses
	s.RetryExhausted = t.retryExhausted

	s.CircuitOpens = copyIntMap(t.circuitOpens)
	s.CircuitCloses = copyIntMap(t.circuitCloses)

	s.StageDurations = make(map[string]time.Duration, len(t.stageDurations))
	for k, v := range t.stageDurations {
		s.StageDurations[k] = v
	}

	s.EmbeddingCacheHits = t.embeddingHits
	s.EmbeddingCacheMiss = t.embeddingMisses
	if total := t.embeddingHits + t.embeddingMisses; total > 0 {
		s.EmbeddingHitRate = float64(t.embeddingHits) / float64(total)
	}

	return s
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
