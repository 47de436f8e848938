package core

import "testing"

func validQuestion() GeneratedQuestion {
	return GeneratedQuestion{
		QuestionText:    "Which shape completes the pattern?",
		QuestionType:    TypePattern,
		DifficultyLevel: DifficultyEasy,
		CorrectAnswer:   "B",
		AnswerOptions:   []string{"A", "B", "C", "D"},
	}
}

func TestValidateAcceptsWellFormedQuestion(t *testing.T) {
	q := validQuestion()
	if err := q.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateRejectsTooFewOptions(t *testing.T) {
	q := validQuestion()
	q.AnswerOptions = []string{"A", "B", "C"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for 3 options")
	}
}

func TestValidateRejectsTooManyOptions(t *testing.T) {
	q := validQuestion()
	q.AnswerOptions = []string{"A", "B", "C", "D", "E", "F", "G"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for 7 options")
	}
}

func TestValidateAcceptsBoundaryOptionCounts(t *testing.T) {
	q := validQuestion()
	q.AnswerOptions = []string{"A", "B", "C", "D"}
	q.CorrectAnswer = "A"
	if err := q.Validate(); err != nil {
		t.Fatalf("4 options should be accepted: %v", err)
	}

	q.AnswerOptions = []string{"A", "B", "C", "D", "E", "F"}
	if err := q.Validate(); err != nil {
		t.Fatalf("6 options should be accepted: %v", err)
	}
}

func TestValidateRejectsDuplicateOptions(t *testing.T) {
	q := validQuestion()
	q.AnswerOptions = []string{"A", "A", "C", "D"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error for duplicate options")
	}
}

func TestValidateRejectsMissingCorrectAnswer(t *testing.T) {
	q := validQuestion()
	q.CorrectAnswer = "Z"
	if err := q.Validate(); err == nil {
		t.Fatal("expected error when correct_answer is absent from options")
	}
}

func TestValidateRejectsDuplicateCorrectAnswer(t *testing.T) {
	q := validQuestion()
	q.AnswerOptions = []string{"B", "B", "C", "D"}
	if err := q.Validate(); err == nil {
		t.Fatal("expected error when correct_answer appears more than once")
	}
}

func TestValidateRequiresStimulusForMemoryType(t *testing.T) {
	q := validQuestion()
	q.QuestionType = TypeMemory
	if err := q.Validate(); err == nil {
		t.Fatal("expected error: memory question without stimulus")
	}
	q.Stimulus = "ABCD1234"
	if err := q.Validate(); err != nil {
		t.Fatalf("memory question with stimulus should validate: %v", err)
	}
}

func TestValidateRejectsStimulusLeakedIntoQuestionText(t *testing.T) {
	q := validQuestion()
	q.QuestionType = TypeMemory
	q.Stimulus = "ABCD1234"
	q.QuestionText = "Recall the sequence ABCD1234 you just saw."
	if err := q.Validate(); err == nil {
		t.Fatal("expected error: stimulus embedded in question_text")
	}
}

func TestDifficultyUpgradeDowngradeSaturate(t *testing.T) {
	if DifficultyHard.Upgrade() != DifficultyHard {
		t.Fatal("hard should not upgrade further")
	}
	if DifficultyEasy.Downgrade() != DifficultyEasy {
		t.Fatal("easy should not downgrade further")
	}
	if DifficultyEasy.Upgrade() != DifficultyMedium {
		t.Fatal("easy should upgrade to medium")
	}
	if DifficultyHard.Downgrade() != DifficultyMedium {
		t.Fatal("hard should downgrade to medium")
	}
}

func TestCanonicalQuestionType(t *testing.T) {
	if _, ok := CanonicalQuestionType("  Pattern "); !ok {
		t.Fatal("expected canonicalization to accept case/whitespace variance")
	}
	if _, ok := CanonicalQuestionType("bogus"); ok {
		t.Fatal("expected unknown type to be rejected")
	}
}
