package core

// EvaluationWeights are the config-driven weights the Judge (C8) uses to
// compute EvaluationScore.Overall. They apply to clarity, validity,
// formatting, and creativity only — difficulty is placement-only (§3) and
// must never appear here.
type EvaluationWeights struct {
	Clarity    float64
	Validity   float64
	Formatting float64
	Creativity float64
}

// DefaultEvaluationWeights sums to 1.0 over the four acceptance dimensions,
// weighting validity highest (clarity 0.25, validity 0.35, formatting 0.2,
// creativity 0.2).
func DefaultEvaluationWeights() EvaluationWeights {
	return EvaluationWeights{Clarity: 0.25, Validity: 0.35, Formatting: 0.2, Creativity: 0.2}
}

// Sum returns the total of the four weights, used to validate config against
// the "summing to 1 ± 0.01" invariant of §6.3.
func (w EvaluationWeights) Sum() float64 {
	return w.Clarity + w.Validity + w.Formatting + w.Creativity
}

// EvaluationScore is the five-rubric-score output of one judge call (§3).
type EvaluationScore struct {
	Clarity    float64
	Difficulty float64
	Validity   float64
	Formatting float64
	Creativity float64
	Feedback   string
	Overall    float64
}

// ComputeOverall fills Overall as the weighted sum of clarity, validity,
// formatting, and creativity. Difficulty is intentionally excluded — it is
// used only for placement (see package judge).
func (s *EvaluationScore) ComputeOverall(w EvaluationWeights) {
	s.Overall = w.Clarity*s.Clarity + w.Validity*s.Validity + w.Formatting*s.Formatting + w.Creativity*s.Creativity
}

// EvaluatedQuestion pairs a generated question with its judge verdict.
type EvaluatedQuestion struct {
	Question   GeneratedQuestion
	Evaluation EvaluationScore
	JudgeModel string
	Approved   bool
}
