package core

import (
	"fmt"
	"strings"
)

// QuestionType is the closed enum of cognitive categories a question can
// target.
type QuestionType string

const (
	TypePattern QuestionType = "pattern"
	TypeLogic   QuestionType = "logic"
	TypeSpatial QuestionType = "spatial"
	TypeMath    QuestionType = "math"
	TypeVerbal  QuestionType = "verbal"
	TypeMemory  QuestionType = "memory"
)

// AllQuestionTypes enumerates the six valid question types, in the order
// judges/config keys are required to provide (§6.3).
var AllQuestionTypes = []QuestionType{TypePattern, TypeLogic, TypeSpatial, TypeMath, TypeVerbal, TypeMemory}

func (t QuestionType) Valid() bool {
	for _, v := range AllQuestionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// CanonicalQuestionType lowercases and trims a free-form string and reports
// whether the result is one of the six known QuestionTypes; the normalized
// value is returned either way. Used by the reporter (§4.14) before
// transmitting type breakdowns.
func CanonicalQuestionType(s string) (QuestionType, bool) {
	t := QuestionType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// DifficultyLevel is the closed enum of difficulty tiers.
type DifficultyLevel string

const (
	DifficultyEasy   DifficultyLevel = "easy"
	DifficultyMedium DifficultyLevel = "medium"
	DifficultyHard   DifficultyLevel = "hard"
)

var AllDifficultyLevels = []DifficultyLevel{DifficultyEasy, DifficultyMedium, DifficultyHard}

func (d DifficultyLevel) Valid() bool {
	for _, v := range AllDifficultyLevels {
		if v == d {
			return true
		}
	}
	return false
}

func CanonicalDifficulty(s string) (DifficultyLevel, bool) {
	d := DifficultyLevel(strings.ToLower(strings.TrimSpace(s)))
	return d, d.Valid()
}

// Downgrade returns the next easier level, or the same level if already at
// the floor.
func (d DifficultyLevel) Downgrade() DifficultyLevel {
	switch d {
	case DifficultyHard:
		return DifficultyMedium
	case DifficultyMedium:
		return DifficultyEasy
	default:
		return d
	}
}

// Upgrade returns the next harder level, or the same level if already at the
// ceiling.
func (d DifficultyLevel) Upgrade() DifficultyLevel {
	switch d {
	case DifficultyEasy:
		return DifficultyMedium
	case DifficultyMedium:
		return DifficultyHard
	default:
		return d
	}
}

// GeneratedQuestion is the ephemeral candidate produced by the Generator
// (C7), before judging, dedup, or persistence.
type GeneratedQuestion struct {
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
}

// Validate enforces the §3/§8 invariants on a generated question. It is the
// "generated question validator" referenced in §4.7 step 3.
func (q *GeneratedQuestion) Validate() error {
	if strings.TrimSpace(q.QuestionText) == "" {
		return fmt.Errorf("question_text must not be empty")
	}
	if !q.QuestionType.Valid() {
		return fmt.Errorf("invalid question_type %q", q.QuestionType)
	}
	if !q.DifficultyLevel.Valid() {
		return fmt.Errorf("invalid difficulty_level %q", q.DifficultyLevel)
	}
	if n := len(q.AnswerOptions); n < 4 || n > 6 {
		return fmt.Errorf("answer_options must have 4-6 entries, got %d", n)
	}
	seen := make(map[string]struct{}, len(q.AnswerOptions))
	for _, opt := range q.AnswerOptions {
		if _, dup := seen[opt]; dup {
			return fmt.Errorf("answer_options must be distinct, duplicate %q", opt)
		}
		seen[opt] = struct{}{}
	}
	matches := 0
	for _, opt := range q.AnswerOptions {
		if opt == q.CorrectAnswer {
			matches++
		}
	}
	if matches != 1 {
		return fmt.Errorf("correct_answer must appear exactly once in answer_options, found %d", matches)
	}
	if q.QuestionType == TypeMemory {
		if strings.TrimSpace(q.Stimulus) == "" {
			return fmt.Errorf("memory questions require a non-empty stimulus")
		}
		if q.Stimulus != "" && strings.Contains(q.QuestionText, q.Stimulus) {
			return fmt.Errorf("memory stimulus must not be embedded in question_text")
		}
	}
	return nil
}
