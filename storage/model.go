// Package storage persists evaluated questions to Postgres via gorm (C11),
// grounded on agentflow's internal/database/pool.go transaction wrapper
// (WithTransaction over gorm.DB) adapted to this pipeline's single-insert
// and batch-insert shapes.
package storage

import (
	"time"

	"gorm.io/gorm"

	"github.com/cogniforge/qpipeline/core"
)

// QuestionRow is the gorm model backing the questions table. Metadata,
// AnswerOptions, and QuestionEmbedding are stored as JSON-encoded text
// columns (gorm type:text). Tests run it against the Postgres dialector over
// go-sqlmock.
type QuestionRow struct {
	ID                string `gorm:"primaryKey"`
	QuestionText      string
	QuestionType      string
	DifficultyLevel   string
	CorrectAnswer     string
	AnswerOptions     StringSlice `gorm:"type:text"`
	Explanation       string
	Stimulus          string
	SubType           string
	Metadata          JSONMap `gorm:"type:text"`
	SourceLLM         string
	SourceModel       string
	JudgeScore        *float64
	PromptVersion     string
	IsActive          bool
	QuestionEmbedding FloatSlice `gorm:"type:text"`
	CreatedAt         time.Time
}

func (QuestionRow) TableName() string { return "questions" }

// FromCore converts the domain model (§4.11) into its persisted row.
func FromCore(q core.Question) QuestionRow {
	return QuestionRow{
		ID:                q.ID,
		QuestionText:      q.QuestionText,
		QuestionType:      string(q.QuestionType),
		DifficultyLevel:   string(q.DifficultyLevel),
		CorrectAnswer:     q.CorrectAnswer,
		AnswerOptions:     StringSlice(q.AnswerOptions),
		Explanation:       q.Explanation,
		Stimulus:          q.Stimulus,
		SubType:           q.SubType,
		Metadata:          JSONMap(q.Metadata),
		SourceLLM:         q.SourceLLM,
		SourceModel:       q.SourceModel,
		JudgeScore:        q.JudgeScore,
		PromptVersion:     q.PromptVersion,
		IsActive:          q.IsActive,
		QuestionEmbedding: FloatSlice(q.QuestionEmbedding),
		CreatedAt:         q.CreatedAt,
	}
}

// AutoMigrate creates/updates the questions table. Called once at startup
// by the composition root, not by the Writer itself.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&QuestionRow{})
}
