package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cogniforge/qpipeline/core"
	"github.com/cogniforge/qpipeline/embedding"
)

// Writer is the Storage Writer (C11): it embeds, enriches, and inserts
// evaluated questions inside a single transaction per call.
type Writer struct {
	DB            *gorm.DB
	Embeddings    *embedding.Service
	PromptVersion string
	Logger        core.Logger
}

func New(db *gorm.DB, embeddings *embedding.Service, promptVersion string, logger core.Logger) *Writer {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Writer{DB: db, Embeddings: embeddings, PromptVersion: promptVersion, Logger: logger}
}

// InsertEvaluatedQuestion implements §4.11's per-question algorithm: embed
// (nil on failure is acceptable), enrich metadata, insert in one
// transaction.
func (w *Writer) InsertEvaluatedQuestion(ctx context.Context, ev core.EvaluatedQuestion) (core.Question, error) {
	vec := w.embedOrNil(ctx, ev.Question.QuestionText)
	q := core.FromEvaluated(ev, w.PromptVersion, vec)
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := FromCore(q)
		return tx.Create(&row).Error
	})
	if err != nil {
		return core.Question{}, fmt.Errorf("insert evaluated question: %w", err)
	}
	return q, nil
}

// InsertBatch embeds every candidate in one batch call, then issues a
// single bulk insert. Any row failure rolls the whole batch back (§4.11
// step 4).
func (w *Writer) InsertBatch(ctx context.Context, evs []core.EvaluatedQuestion) ([]core.Question, error) {
	if len(evs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(evs))
	for i, ev := range evs {
		texts[i] = ev.Question.QuestionText
	}
	vectors := w.embedBatchOrNil(ctx, texts)

	questions := make([]core.Question, len(evs))
	rows := make([]QuestionRow, len(evs))
	for i, ev := range evs {
		var vec []float32
		if i < len(vectors) {
			vec = vectors[i]
		}
		q := core.FromEvaluated(ev, w.PromptVersion, vec)
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		questions[i] = q
		rows[i] = FromCore(q)
	}

	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("insert evaluated question batch: %w", err)
	}
	return questions, nil
}

// ExistingQuestionTexts loads every persisted question_text so the
// deduplication stage (C10) can check new candidates against the full
// corpus, not just the current run's survivors.
func (w *Writer) ExistingQuestionTexts(ctx context.Context) ([]string, error) {
	var texts []string
	if err := w.DB.WithContext(ctx).Model(&QuestionRow{}).Pluck("question_text", &texts).Error; err != nil {
		return nil, fmt.Errorf("load existing question texts: %w", err)
	}
	return texts, nil
}

func (w *Writer) embedOrNil(ctx context.Context, text string) []float32 {
	if w.Embeddings == nil {
		return nil
	}
	vec, err := w.Embeddings.Embed(ctx, text)
	if err != nil {
		w.Logger.Warn("embedding failed, persisting without vector", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return []float32(vec)
}

func (w *Writer) embedBatchOrNil(ctx context.Context, texts []string) [][]float32 {
	if w.Embeddings == nil {
		return make([][]float32, len(texts))
	}
	vecs, err := w.Embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		w.Logger.Warn("batch embedding failed, persisting without vectors", map[string]interface{}{"error": err.Error()})
		return make([][]float32, len(texts))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		out[i] = []float32(v)
	}
	return out
}
