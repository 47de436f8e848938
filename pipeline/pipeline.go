// Package pipeline drives generation, evaluation, deduplication, storage,
// and reporting in order (C15), grounded on the teacher's
// orchestration/workflow.go step-sequencing loop: a fixed stage order, each
// stage timed and spanned, with failures downgrading the final exit code
// rather than aborting the remaining stages outright.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cogniforge/qpipeline/classify"
	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/dedup"
	"github.com/cogniforge/qpipeline/generator"
	"github.com/cogniforge/qpipeline/judge"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/metrics"
	"github.com/cogniforge/qpipeline/observability"
	"github.com/cogniforge/qpipeline/reporter"
	"github.com/cogniforge/qpipeline/storage"
)

// Cell is one (type, difficulty) generation request, one of the cells in
// the requested distribution (§4.15 step 1).
type Cell struct {
	QuestionType core.QuestionType
	Difficulty   core.DifficultyLevel
	Count        int
	Distribute   bool
}

// Request is everything one pipeline run needs that isn't wired at
// construction time.
type Request struct {
	Cells                 []Cell
	Temperature           float32
	MaxTokens             int
	JudgeTemperature      float32
	JudgeMaxTokens        int
	ExistingQuestionTexts []string // corpus fetched for dedup, grows within the run

	PromptVersion            string
	ArbiterConfigVersion     string
	MinArbiterScoreThreshold float64
	Environment              string
	TriggeredBy              string
}

func (r Request) validate() error {
	if len(r.Cells) == 0 {
		return fmt.Errorf("pipeline: request has no cells")
	}
	total := 0
	for _, c := range r.Cells {
		if !c.QuestionType.Valid() {
			return fmt.Errorf("pipeline: invalid question_type %q", c.QuestionType)
		}
		if !c.Difficulty.Valid() {
			return fmt.Errorf("pipeline: invalid difficulty_level %q", c.Difficulty)
		}
		if c.Count < 0 {
			return fmt.Errorf("pipeline: negative count for %s/%s", c.QuestionType, c.Difficulty)
		}
		total += c.Count
	}
	if total == 0 {
		return fmt.Errorf("pipeline: request asks for zero questions")
	}
	return nil
}

// Pipeline wires every stage component. Generator and Judge must be non-nil.
// A nil Dedup skips deduplication, a nil Storage counts every survivor as an
// insertion failure, and a nil Reporter or Obs turns reporting or tracing
// off.
type Pipeline struct {
	Generator *generator.Generator
	Judge     *judge.Judge
	Dedup     *dedup.Checker
	Storage   *storage.Writer
	Metrics   *metrics.Tracker
	Obs       *observability.Facade
	Reporter  *reporter.Reporter
	Logger    core.Logger
}

// New wires a Pipeline from its components. A nil Metrics or Logger is
// replaced with a usable zero value so callers never need to construct
// boilerplate just to run a pipeline in a test.
func New(gen *generator.Generator, j *judge.Judge, d *dedup.Checker, w *storage.Writer, m *metrics.Tracker, obs *observability.Facade, rep *reporter.Reporter, logger core.Logger) *Pipeline {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Pipeline{Generator: gen, Judge: j, Dedup: d, Storage: w, Metrics: m, Obs: obs, Reporter: rep, Logger: logger}
}

// Run implements §4.15's five stages and returns the finished summary plus
// the terminal exit code. It never panics outward: an unexpected internal
// failure is recovered and reported as ExitOtherFatal5.
func (p *Pipeline) Run(ctx context.Context, req Request) (summary core.RunSummary, exitCode core.ExitCode) {
	defer func() {
		if rec := recover(); rec != nil {
			p.Logger.Error("pipeline: recovered from panic", map[string]interface{}{"panic": fmt.Sprintf("%v", rec)})
			exitCode = core.ExitOtherFatal5
			summary.CompletedAt = time.Now()
			p.report(ctx, summary, exitCode)
		}
	}()

	p.Metrics.StartExecution()
	defer p.Metrics.EndExecution()

	summary.StartedAt = time.Now()
	summary.PromptVersion = req.PromptVersion
	summary.ArbiterConfigVersion = req.ArbiterConfigVersion
	summary.MinArbiterScoreThreshold = req.MinArbiterScoreThreshold
	summary.Environment = req.Environment
	summary.TriggeredBy = req.TriggeredBy
	summary.ProviderMetrics = map[string]core.ProviderMetric{}
	summary.TypeMetrics = map[string]int{}
	summary.DifficultyMetrics = map[string]int{}
	summary.Errors = core.ErrorSummary{ByCategory: map[core.ErrorCategory]int{}, BySeverity: map[core.ErrorSeverity]int{}}

	if err := req.validate(); err != nil {
		p.Logger.Error("pipeline: invalid request", map[string]interface{}{"error": err.Error()})
		summary.CompletedAt = time.Now()
		p.report(ctx, summary, core.ExitConfigError)
		return summary, core.ExitConfigError
	}

	candidates := p.runGeneration(ctx, req, &summary)
	if len(candidates) == 0 {
		p.Logger.Warn("pipeline: no questions generated", nil)
		summary.CompletedAt = time.Now()
		p.report(ctx, summary, core.ExitNoQuestions)
		return summary, core.ExitNoQuestions
	}

	approved := p.runEvaluation(ctx, req, candidates, &summary)

	survivors := p.runDeduplication(ctx, req, approved, &summary)

	dbFailed := p.runStorage(ctx, survivors, &summary)

	summary.CompletedAt = time.Now()

	exitCode = p.deriveExitCode(summary, dbFailed)
	p.report(ctx, summary, exitCode)
	return summary, exitCode
}

func (p *Pipeline) deriveExitCode(summary core.RunSummary, dbFailed bool) core.ExitCode {
	if dbFailed && summary.QuestionsInserted == 0 {
		return core.ExitDatabaseError
	}
	if summary.QuestionsInserted >= summary.QuestionsRequested && summary.QuestionsRequested > 0 {
		return core.ExitSuccess
	}
	return core.ExitPartialFailure
}

func (p *Pipeline) report(ctx context.Context, summary core.RunSummary, exitCode core.ExitCode) {
	if p.Reporter == nil {
		return
	}
	payload := reporter.BuildPayload(summary, exitCode)
	p.Reporter.ReportRun(ctx, payload)
}

func (p *Pipeline) startSpan(ctx context.Context, name string) (context.Context, core.Span) {
	if p.Obs == nil {
		return ctx, core.NoOpSpan{}
	}
	return p.Obs.StartSpan(ctx, name)
}

func (p *Pipeline) recordFailure(summary *core.RunSummary, providerOrStage string, err error) {
	classified := classify.Classify(err, providerOrStage)
	if classified == nil {
		return
	}
	p.Metrics.RecordError(string(classified.Category), string(classified.Severity), classified.Severity == core.SeverityCritical, classified.Error())

	summary.TotalErrors++
	summary.Errors.ByCategory[classified.Category]++
	summary.Errors.BySeverity[classified.Severity]++
	if classified.Severity == core.SeverityCritical {
		summary.Errors.CriticalCount++
	}
}

// runGeneration implements step 1: one generate_batch call per requested
// cell, accumulated into a single candidate slice.
func (p *Pipeline) runGeneration(ctx context.Context, req Request, summary *core.RunSummary) []core.GeneratedQuestion {
	done := p.Metrics.TimeStage("generation")
	defer done()
	ctx, span := p.startSpan(ctx, "pipeline.generation")
	defer span.End()

	var candidates []core.GeneratedQuestion
	for _, cell := range req.Cells {
		if cell.Count == 0 {
			continue
		}
		summary.QuestionsRequested += cell.Count

		batch, err := p.Generator.GenerateBatch(ctx, cell.QuestionType, cell.Difficulty, cell.Count, cell.Distribute, req.Temperature, req.MaxTokens)
		if err != nil {
			span.RecordError(err)
			p.recordFailure(summary, "generator", err)
			summary.GenerationFailures += cell.Count
			p.Metrics.RecordGeneration(cell.Count, 0, cell.Count, nil, string(cell.QuestionType), string(cell.Difficulty))
			continue
		}

		failed := cell.Count - len(batch.Questions)
		if failed < 0 {
			failed = 0
		}
		summary.GenerationFailures += failed
		summary.QuestionsGenerated += len(batch.Questions)
		summary.TypeMetrics[string(cell.QuestionType)] += len(batch.Questions)
		summary.DifficultyMetrics[string(cell.Difficulty)] += len(batch.Questions)

		for name, n := range batch.ByProvider {
			pm := summary.ProviderMetrics[name]
			pm.Generated += n
			pm.APICalls += n
			summary.ProviderMetrics[name] = pm
			p.Metrics.RecordAPICall(name)
		}
		for cause, n := range batch.FailuresByCause {
			p.Metrics.RecordGenerationError(fmt.Sprintf("%s: %d", cause, n))
		}
		p.Metrics.RecordGeneration(cell.Count, len(batch.Questions), failed, batch.ByProvider, string(cell.QuestionType), string(cell.Difficulty))

		candidates = append(candidates, batch.Questions...)
	}
	summary.TotalAPICalls = sumProviderAPICalls(summary.ProviderMetrics)
	p.rollUpCosts(p.Generator.Costs)
	return candidates
}

// rollUpCosts feeds a stage's per-provider, per-model cost totals (C5) into
// the metrics tracker's cost rollup (§4.12). Safe to call repeatedly: it
// reflects the tracker's current cumulative totals, not a delta.
func (p *Pipeline) rollUpCosts(tracker *llm.Tracker) {
	if tracker == nil {
		return
	}
	for _, t := range tracker.Totals() {
		p.Metrics.RecordCost(t.Provider, t.Model, t.CostUSD)
	}
}

func sumProviderAPICalls(m map[string]core.ProviderMetric) int {
	total := 0
	for _, pm := range m {
		total += pm.APICalls
	}
	return total
}

// runEvaluation implements step 2: pass raw candidates through the async
// judge and return the approved subset.
func (p *Pipeline) runEvaluation(ctx context.Context, req Request, candidates []core.GeneratedQuestion, summary *core.RunSummary) []core.EvaluatedQuestion {
	done := p.Metrics.TimeStage("evaluation")
	defer done()
	ctx, span := p.startSpan(ctx, "pipeline.evaluation")
	defer span.End()

	evaluated, stats := p.Judge.EvaluateBatch(ctx, candidates, req.JudgeTemperature, req.JudgeMaxTokens)

	summary.QuestionsEvaluated += stats.Evaluated
	summary.QuestionsApproved += stats.Approved
	summary.QuestionsRejected += stats.Rejected
	for cause, n := range stats.FailuresByCause {
		for i := 0; i < n; i++ {
			p.recordFailure(summary, "judge:"+cause, fmt.Errorf("%s", cause))
		}
	}

	approved := make([]core.EvaluatedQuestion, 0, stats.Approved)
	for _, ev := range evaluated {
		score := ev.Evaluation.Overall
		summary.ArbiterScores = append(summary.ArbiterScores, score)
		p.Metrics.RecordEvaluation(ev.Approved, false, score)
		if ev.Approved {
			approved = append(approved, ev)
		}
	}
	for i := 0; i < stats.Failed; i++ {
		p.Metrics.RecordEvaluation(false, true, 0)
	}
	if stats.Failed > 0 {
		span.SetAttribute("evaluation.failed", stats.Failed)
	}
	p.rollUpCosts(p.Judge.Costs)
	return approved
}

// runDeduplication implements step 3: filter approved candidates against
// the existing corpus AND against each other within the run, by growing
// the "existing" slice as each survivor is accepted.
func (p *Pipeline) runDeduplication(ctx context.Context, req Request, approved []core.EvaluatedQuestion, summary *core.RunSummary) []core.EvaluatedQuestion {
	done := p.Metrics.TimeStage("deduplication")
	defer done()
	ctx, span := p.startSpan(ctx, "pipeline.deduplication")
	defer span.End()

	if p.Dedup == nil {
		return approved
	}

	existing := append([]string(nil), req.ExistingQuestionTexts...)
	survivors := make([]core.EvaluatedQuestion, 0, len(approved))

	for _, ev := range approved {
		result, err := p.Dedup.CheckDuplicate(ctx, ev.Question.QuestionText, existing)
		if err != nil {
			// Fail open: an unreachable embedding backend must not block an
			// otherwise-approved question.
			p.recordFailure(summary, "dedup", err)
			span.RecordError(err)
			survivors = append(survivors, ev)
			existing = append(existing, ev.Question.QuestionText)
			continue
		}

		isExact := result.DuplicateType == dedup.MatchExact
		isSemantic := result.DuplicateType == dedup.MatchSemantic
		p.Metrics.RecordDedup(isExact, isSemantic)

		if result.IsDuplicate {
			summary.DuplicatesFound++
			if isExact {
				summary.ExactDuplicates++
			} else {
				summary.SemanticDuplicates++
			}
			continue
		}
		survivors = append(survivors, ev)
		existing = append(existing, ev.Question.QuestionText)
	}
	return survivors
}

// runStorage implements step 4: bulk-insert survivors in one transaction.
// It returns whether the insert failed outright.
func (p *Pipeline) runStorage(ctx context.Context, survivors []core.EvaluatedQuestion, summary *core.RunSummary) (dbFailed bool) {
	done := p.Metrics.TimeStage("storage")
	defer done()
	ctx, span := p.startSpan(ctx, "pipeline.storage")
	defer span.End()

	if len(survivors) == 0 {
		return false
	}
	if p.Storage == nil {
		summary.InsertionFailures += len(survivors)
		p.Metrics.RecordDatabase(0, len(survivors))
		return true
	}

	inserted, err := p.Storage.InsertBatch(ctx, survivors)
	if err != nil {
		span.RecordError(err)
		p.recordFailure(summary, "storage", err)
		summary.InsertionFailures += len(survivors)
		p.Metrics.RecordDatabase(0, len(survivors))
		return true
	}

	summary.QuestionsInserted += len(inserted)
	p.Metrics.RecordDatabase(len(inserted), 0)
	return false
}
