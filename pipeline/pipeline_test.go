package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/dedup"
	"github.com/cogniforge/qpipeline/embedding"
	"github.com/cogniforge/qpipeline/generator"
	"github.com/cogniforge/qpipeline/judge"
	"github.com/cogniforge/qpipeline/llm"
	"github.com/cogniforge/qpipeline/metrics"
	"github.com/cogniforge/qpipeline/reporter"
	"github.com/cogniforge/qpipeline/resilience"
	"github.com/cogniforge/qpipeline/storage"
)

// fakeProvider answers both generation and judge prompts, discriminated by
// the response schema's keys, so the same double can back both stages in a
// single test.
type fakeProvider struct {
	name              string
	genErrs           []error
	evalErrs          []error
	evalOverrides     map[string]interface{}
	sameTextEveryCall bool
	genCalls          int
	evalCalls         int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) GenerateCompletion(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "", nil
}
func (f *fakeProvider) GenerateCompletionWithUsage(ctx context.Context, prompt string, opts llm.GenerateOptions) (core.CompletionResult, error) {
	return core.CompletionResult{}, nil
}
func (f *fakeProvider) GenerateStructuredCompletion(ctx context.Context, prompt string, schema llm.ResponseSchema, opts llm.GenerateOptions) (map[string]interface{}, error) {
	result, err := f.GenerateStructuredCompletionWithUsage(ctx, prompt, schema, opts)
	if err != nil {
		return nil, err
	}
	return result.Structured, nil
}
func (f *fakeProvider) GenerateStructuredCompletionWithUsage(ctx context.Context, prompt string, schema llm.ResponseSchema, opts llm.GenerateOptions) (core.CompletionResult, error) {
	usage := &core.TokenUsage{InputTokens: 100, OutputTokens: 50, Provider: f.name, Model: "test-model"}
	if _, isGeneration := schema["question_text"]; isGeneration {
		i := f.genCalls
		f.genCalls++
		if i < len(f.genErrs) && f.genErrs[i] != nil {
			return core.CompletionResult{}, f.genErrs[i]
		}
		if f.sameTextEveryCall {
			return core.CompletionResult{Structured: validGenerationReply(0), TokenUsage: usage}, nil
		}
		return core.CompletionResult{Structured: validGenerationReply(i), TokenUsage: usage}, nil
	}
	i := f.evalCalls
	f.evalCalls++
	if i < len(f.evalErrs) && f.evalErrs[i] != nil {
		return core.CompletionResult{}, f.evalErrs[i]
	}
	return core.CompletionResult{Structured: goodEvalReply(f.evalOverrides), TokenUsage: usage}, nil
}
func (f *fakeProvider) CountTokens(text string) int                       { return len(text) / 4 }
func (f *fakeProvider) FetchAvailableModels(ctx context.Context) []string { return nil }
func (f *fakeProvider) Cleanup()                                         {}

var _ llm.Provider = (*fakeProvider)(nil)

func validGenerationReply(n int) map[string]interface{} {
	text := "Which completes the pattern?"
	if n > 0 {
		text = fmt.Sprintf("Which completes the pattern? (variant %d)", n)
	}
	return map[string]interface{}{
		"question_text":  text,
		"correct_answer": "B",
		"answer_options": []interface{}{"A", "B", "C", "D"},
		"explanation":    "because",
	}
}

func goodEvalReply(overrides map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"clarity_score":    0.9,
		"difficulty_score": 0.6,
		"validity_score":   0.9,
		"formatting_score": 0.9,
		"creativity_score": 0.8,
		"feedback":         "solid question",
	}
	for k, v := range overrides {
		m[k] = v
	}
	return m
}

// fakeEmbedder derives a fixed vector from each text's rune sum, so identical
// texts compare as perfectly similar. Distinct texts get unrelated but not
// orthogonal vectors (every vector's third component is 1); the texts of
// validGenerationReply(0) and validGenerationReply(1) have a cosine
// similarity of about 0.21.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if text == "" {
		return nil, nil
	}
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	return embedding.Vector{float32(sum % 97), float32(sum % 53), 1}, nil
}
func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	out := make([]embedding.Vector, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	return mockDB, mock, gormDB
}

func newTestPipeline(t *testing.T, providers map[string]llm.Provider, order []string, db *gorm.DB, rep *reporter.Reporter) *Pipeline {
	t.Helper()
	breakers := resilience.NewRegistry()
	gen := generator.New(providers, order, breakers)
	j := judge.New(providers, nil, order, breakers)

	embeddings := embedding.New(fakeEmbedder{}, 0, core.NoOpLogger{})
	dedupChecker := dedup.New(embeddings)
	var writer *storage.Writer
	if db != nil {
		writer = storage.New(db, embeddings, "prompts-v1", core.NoOpLogger{})
	}

	return New(gen, j, dedupChecker, writer, metrics.New(), nil, rep, core.NoOpLogger{})
}

func basicRequest(count int) Request {
	return Request{
		Cells: []Cell{
			{QuestionType: core.TypePattern, Difficulty: core.DifficultyEasy, Count: count, Distribute: true},
		},
		Temperature:      0.7,
		MaxTokens:        200,
		JudgeTemperature: 0.2,
		JudgeMaxTokens:   200,
		PromptVersion:    "prompts-v1",
	}
}

func TestRunHappyPathInsertsAllAndReturnsSuccess(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "questions"`)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1").AddRow("2"))
	mock.ExpectCommit()

	var gotPayload reporter.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_ = json.NewDecoder(req.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run-1"})
	}))
	defer srv.Close()
	rep := reporter.New(srv.URL, "key", 2*time.Second, core.NoOpLogger{})

	p1 := &fakeProvider{name: "openai"}
	pipe := newTestPipeline(t, map[string]llm.Provider{"openai": p1}, []string{"openai"}, gormDB, rep)

	summary, exitCode := pipe.Run(context.Background(), basicRequest(2))

	if exitCode != core.ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %d", exitCode)
	}
	if summary.QuestionsInserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", summary.QuestionsInserted)
	}
	if gotPayload.ExitCode != int(core.ExitSuccess) {
		t.Fatalf("expected reported exit code 0, got %d", gotPayload.ExitCode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet DB expectations: %v", err)
	}
}

func TestRunWithNoProvidersAvailableReturnsNoQuestions(t *testing.T) {
	registry := resilience.NewRegistry()
	cb := registry.Get("openai")
	for i := 0; i < core.DefaultFailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	}

	p1 := &fakeProvider{name: "openai"}
	gen := generator.New(map[string]llm.Provider{"openai": p1}, []string{"openai"}, registry)
	j := judge.New(map[string]llm.Provider{"openai": p1}, nil, []string{"openai"}, registry)
	pipe := New(gen, j, nil, nil, metrics.New(), nil, nil, core.NoOpLogger{})

	summary, exitCode := pipe.Run(context.Background(), basicRequest(2))

	if exitCode != core.ExitNoQuestions {
		t.Fatalf("expected ExitNoQuestions, got %d", exitCode)
	}
	if summary.QuestionsGenerated != 0 {
		t.Fatalf("expected 0 generated, got %d", summary.QuestionsGenerated)
	}
}

func TestRunWithSomeJudgeRejectionsReturnsPartialFailure(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "questions"`)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1"))
	mock.ExpectCommit()

	p1 := &fakeProvider{name: "openai", evalOverrides: map[string]interface{}{"validity_score": 0.1}}
	pipe := newTestPipeline(t, map[string]llm.Provider{"openai": p1}, []string{"openai"}, gormDB, nil)

	summary, exitCode := pipe.Run(context.Background(), basicRequest(1))

	if exitCode != core.ExitPartialFailure {
		t.Fatalf("expected ExitPartialFailure, got %d", exitCode)
	}
	if summary.QuestionsApproved != 0 {
		t.Fatalf("expected 0 approved, got %d", summary.QuestionsApproved)
	}
	if summary.QuestionsRejected != 1 {
		t.Fatalf("expected 1 rejected, got %d", summary.QuestionsRejected)
	}
}

func TestRunDropsExactDuplicateAgainstExistingCorpus(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	// No survivors reach storage, so no DB interaction is expected at all.

	p1 := &fakeProvider{name: "openai"}
	pipe := newTestPipeline(t, map[string]llm.Provider{"openai": p1}, []string{"openai"}, gormDB, nil)

	req := basicRequest(1)
	req.ExistingQuestionTexts = []string{"Which completes the pattern?"}

	summary, exitCode := pipe.Run(context.Background(), req)

	if exitCode != core.ExitPartialFailure {
		t.Fatalf("expected ExitPartialFailure, got %d", exitCode)
	}
	if summary.DuplicatesFound != 1 || summary.ExactDuplicates != 1 {
		t.Fatalf("expected 1 exact duplicate recorded, got %+v", summary)
	}
	if summary.QuestionsInserted != 0 {
		t.Fatalf("expected nothing inserted, got %d", summary.QuestionsInserted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected DB interaction: %v", err)
	}
}

func TestRunDedupesWithinBatchAgainstItself(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "questions"`)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1"))
	mock.ExpectCommit()

	// sameTextEveryCall forces every generated candidate to share identical
	// text, so a 2-question batch must dedup the second one against the
	// first within the same run.
	p1 := &fakeProvider{name: "openai", sameTextEveryCall: true}
	pipe := newTestPipeline(t, map[string]llm.Provider{"openai": p1}, []string{"openai"}, gormDB, nil)

	summary, exitCode := pipe.Run(context.Background(), basicRequest(2))

	if exitCode != core.ExitPartialFailure {
		t.Fatalf("expected ExitPartialFailure (one duplicate dropped), got %d", exitCode)
	}
	if summary.DuplicatesFound != 1 {
		t.Fatalf("expected 1 within-run duplicate, got %d", summary.DuplicatesFound)
	}
	if summary.QuestionsInserted != 1 {
		t.Fatalf("expected 1 surviving insert, got %d", summary.QuestionsInserted)
	}
}

func TestRunReturnsDatabaseErrorWhenStorageFails(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "questions"`)).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	p1 := &fakeProvider{name: "openai"}
	pipe := newTestPipeline(t, map[string]llm.Provider{"openai": p1}, []string{"openai"}, gormDB, nil)

	summary, exitCode := pipe.Run(context.Background(), basicRequest(1))

	if exitCode != core.ExitDatabaseError {
		t.Fatalf("expected ExitDatabaseError, got %d", exitCode)
	}
	if summary.InsertionFailures != 1 {
		t.Fatalf("expected 1 insertion failure recorded, got %d", summary.InsertionFailures)
	}
}

func TestRunWithEmptyCellsReturnsConfigError(t *testing.T) {
	pipe := New(nil, nil, nil, nil, metrics.New(), nil, nil, core.NoOpLogger{})
	_, exitCode := pipe.Run(context.Background(), Request{})
	if exitCode != core.ExitConfigError {
		t.Fatalf("expected ExitConfigError, got %d", exitCode)
	}
}

func TestRunStillSucceedsWhenReporterIsUnreachable(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "questions"`)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("1"))
	mock.ExpectCommit()

	rep := reporter.New("http://127.0.0.1:1", "key", 500*time.Millisecond, core.NoOpLogger{})
	p1 := &fakeProvider{name: "openai"}
	pipe := newTestPipeline(t, map[string]llm.Provider{"openai": p1}, []string{"openai"}, gormDB, rep)

	_, exitCode := pipe.Run(context.Background(), basicRequest(1))

	if exitCode != core.ExitSuccess {
		t.Fatalf("expected ExitSuccess even though the reporter is unreachable, got %d", exitCode)
	}
}
