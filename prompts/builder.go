// Package prompts deterministically assembles the generation, judge, and
// regeneration prompts the pipeline sends to LLM providers (C6). Every
// function here is pure: given the same arguments it returns the same
// string, so prompts can be unit tested without a network call.
package prompts

import (
	"fmt"
	"strings"

	"github.com/cogniforge/qpipeline/core"
)

// Version names this prompt set (§4.6). No other package reads it: the
// binary stamps prompt_version on persisted questions from
// QPIPELINE_PROMPT_VERSION (default "v1").
const Version = "q-prompts-v1"

const systemPreamble = "You are an expert item writer for a cognitive-ability assessment. " +
	"Produce a single multiple-choice question and respond only with the requested JSON object."

var typeBlocks = map[core.QuestionType]string{
	core.TypePattern: "The question presents a visual or numeric sequence and asks the test-taker to identify the element that completes the pattern.",
	core.TypeLogic:   "The question poses a deductive or inductive reasoning problem with a single unambiguous correct answer.",
	core.TypeSpatial: "The question requires mentally rotating, folding, or otherwise manipulating a shape to pick the matching figure.",
	core.TypeMath:    "The question tests numerical reasoning using only arithmetic appropriate for a general audience.",
	core.TypeVerbal:  "The question tests vocabulary, analogy, or verbal reasoning using common English words.",
	core.TypeMemory:  "The question shows a stimulus that the test-taker must memorize, then asks about it after the stimulus is hidden.",
}

var difficultyBlocks = map[core.DifficultyLevel]string{
	core.DifficultyEasy:   "Target difficulty: easy. Most test-takers should answer correctly within 30 seconds.",
	core.DifficultyMedium: "Target difficulty: medium. A well-prepared test-taker should need careful thought.",
	core.DifficultyHard:   "Target difficulty: hard. Only a small fraction of test-takers should answer correctly.",
}

const generationSchema = `{
  "question_text": "string",
  "correct_answer": "string",
  "answer_options": ["string", "string", "string", "string"],
  "explanation": "string",
  "stimulus": "string (required only for memory questions)"
}`

const evaluationSchema = `{
  "clarity_score": 0.0,
  "difficulty_score": 0.0,
  "validity_score": 0.0,
  "formatting_score": 0.0,
  "creativity_score": 0.0,
  "feedback": "string"
}`

const workedExamplesGeneration = `Example response:
{"question_text": "Which number comes next: 2, 4, 6, 8, ?", "correct_answer": "10", "answer_options": ["9", "10", "11", "12"], "explanation": "The sequence increases by 2 each step."}`

const workedExamplesEvaluation = `Example response:
{"clarity_score": 0.9, "difficulty_score": 0.6, "validity_score": 1.0, "formatting_score": 0.95, "creativity_score": 0.7, "feedback": "Clear and well-formed."}`

// BuildGenerationPrompt composes the prompt sent to a provider to produce
// `count` candidate questions of the given type and difficulty.
func BuildGenerationPrompt(qType core.QuestionType, difficulty core.DifficultyLevel, count int) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")
	b.WriteString(typeBlocks[qType])
	b.WriteString("\n")
	b.WriteString(difficultyBlocks[difficulty])
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Generate %d question(s) of type %q at difficulty %q.\n\n", count, qType, difficulty)
	b.WriteString("Respond with a JSON object matching this schema:\n")
	b.WriteString(generationSchema)
	b.WriteString("\n\n")
	b.WriteString(workedExamplesGeneration)
	return b.String()
}

// BuildJudgePrompt composes the prompt sent to the judge provider to score
// one candidate question. For memory questions, stimulus is rendered in its
// own labeled block with shown-then-hidden delivery instructions (§4.6).
func BuildJudgePrompt(questionText string, options []string, correctAnswer string, qType core.QuestionType, difficulty core.DifficultyLevel, stimulus string) string {
	var b strings.Builder
	b.WriteString("You are grading a multiple-choice question against a fixed rubric. ")
	b.WriteString("Respond only with the requested JSON object.\n\n")

	if qType == core.TypeMemory && stimulus != "" {
		b.WriteString("STIMULUS (shown to the test-taker, then hidden before the question is asked; do not penalize delivery-mechanism concerns):\n")
		b.WriteString(stimulus)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Question type: %s\nDifficulty: %s\n\n", qType, difficulty)
	b.WriteString("Question:\n")
	b.WriteString(questionText)
	b.WriteString("\n\nOptions:\n")
	for _, opt := range options {
		b.WriteString("- ")
		b.WriteString(opt)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nCorrect answer: %s\n\n", correctAnswer)
	b.WriteString("Score clarity, difficulty, validity, formatting, and creativity, each in [0,1], and provide brief feedback.\n")
	b.WriteString("Respond with a JSON object matching this schema:\n")
	b.WriteString(evaluationSchema)
	b.WriteString("\n\n")
	b.WriteString(workedExamplesEvaluation)
	return b.String()
}

// BuildRegenerationPrompt composes a prompt asking a provider to revise a
// question that was rejected, incorporating the judge's feedback and
// sub-scores.
func BuildRegenerationPrompt(original string, feedback string, scores core.EvaluationScore, qType core.QuestionType, difficulty core.DifficultyLevel) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")
	b.WriteString(typeBlocks[qType])
	b.WriteString("\n")
	b.WriteString(difficultyBlocks[difficulty])
	b.WriteString("\n\n")
	b.WriteString("The following question was rejected by the judge. Revise it to address the feedback while keeping the same type and difficulty.\n\n")
	b.WriteString("Original question:\n")
	b.WriteString(original)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Judge scores: clarity=%.2f validity=%.2f formatting=%.2f creativity=%.2f\n", scores.Clarity, scores.Validity, scores.Formatting, scores.Creativity)
	if feedback != "" {
		b.WriteString("Judge feedback: ")
		b.WriteString(feedback)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with a JSON object matching this schema:\n")
	b.WriteString(generationSchema)
	return b.String()
}
