package models

// CriterionResult is the score and feedback for one rubric criterion.
type CriterionResult struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// EssayResult maps criterion name to its result.
type EssayResult map[string]CriterionResult

// Total sums the scores of all criteria.
func (r EssayResult) Total() float64 {
	var sum float64
	for _, c := range r {
		sum += c.Score
	}
	return sum
}
