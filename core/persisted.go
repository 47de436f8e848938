package core

import "time"

// DistractorStat is the persistence shape borrowed from the external
// distractor-analysis engine (§1, "only the persistence shape ... is
// borrowed"). Its update logic lives outside this pipeline; we only ever
// write a nil map at insert time and never mutate it afterward.
type DistractorStat struct {
	Count    int     `json:"count"`
	TopQ     float64 `json:"top_q"`
	BottomQ  float64 `json:"bottom_q"`
}

// Question is the persisted row written by the Storage Writer (C11).
type Question struct {
	ID              string
	QuestionText    string
	QuestionType    QuestionType
	DifficultyLevel DifficultyLevel
	CorrectAnswer   string
	AnswerOptions   []string
	Explanation     string
	Stimulus        string
	SubType         string
	Metadata        map[string]interface{}
	SourceLLM       string
	SourceModel     string

	JudgeScore        *float64
	PromptVersion     string
	IsActive          bool
	QuestionEmbedding []float32

	DistractorStats map[string]DistractorStat

	CreatedAt time.Time
}

// FromEvaluated builds the persistence record for a question that passed
// judging and dedup. embedding may be nil (unconfigured provider or failed
// call, per §4.11 step 1).
func FromEvaluated(ev EvaluatedQuestion, promptVersion string, embedding []float32) Question {
	overall := ev.Evaluation.Overall
	meta := map[string]interface{}{}
	for k, v := range ev.Question.Metadata {
		meta[k] = v
	}
	meta["evaluation_scores"] = map[string]interface{}{
		"clarity":    ev.Evaluation.Clarity,
		"difficulty": ev.Evaluation.Difficulty,
		"validity":   ev.Evaluation.Validity,
		"formatting": ev.Evaluation.Formatting,
		"creativity": ev.Evaluation.Creativity,
		"feedback":   ev.Evaluation.Feedback,
	}
	meta["judge_model"] = ev.JudgeModel

	return Question{
		QuestionText:      ev.Question.QuestionText,
		QuestionType:      ev.Question.QuestionType,
		DifficultyLevel:   ev.Question.DifficultyLevel,
		CorrectAnswer:     ev.Question.CorrectAnswer,
		AnswerOptions:     ev.Question.AnswerOptions,
		Explanation:       ev.Question.Explanation,
		Stimulus:          ev.Question.Stimulus,
		SubType:           ev.Question.SubType,
		Metadata:          meta,
		SourceLLM:         ev.Question.SourceLLM,
		SourceModel:       ev.Question.SourceModel,
		JudgeScore:        &overall,
		PromptVersion:     promptVersion,
		IsActive:          true,
		QuestionEmbedding: embedding,
	}
}

// TokenUsage is the uniform token accounting every provider call returns.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	Estimated    bool
}

// Total treats absent fields as zero (§3).
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// CompletionResult is the uniform return shape of every provider-facing
// call (§3, §6.1).
type CompletionResult struct {
	Content     string
	Structured  map[string]interface{}
	TokenUsage  *TokenUsage
}
