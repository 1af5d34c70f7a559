package attempt

import (
	"math"
	"time"

	"github.com/trezcool/jitu/core/period"
)

// Grade classifies every question of the QuestionSet against the recorded answers.
// score = correct / total * 100, rounded to 2 decimals. The policy only changes the breakdown:
// with CountAsWrong unanswered questions are also counted as incorrect.
func Grade(attemptID string, questions []period.Question, answers []Answer, policy period.UnansweredPolicy, at time.Time) Result {
	selected := make(map[string]string, len(answers))
	for _, ans := range answers {
		if ans.ChoiceKey != nil {
			selected[ans.QuestionID] = *ans.ChoiceKey
		}
	}

	res := Result{
		AttemptID: attemptID,
		Total:     len(questions),
		Policy:    policy,
		CreatedAt: at,
	}
	for _, q := range questions {
		switch outcomeOf(q, selected) {
		case OutcomeCorrect:
			res.Correct++
		case OutcomeIncorrect:
			res.Incorrect++
		default:
			res.Unanswered++
		}
	}
	if policy == period.CountAsWrong {
		res.Incorrect += res.Unanswered
	}
	if res.Total > 0 {
		res.Score = math.Round(float64(res.Correct)*100/float64(res.Total)*100) / 100
	}
	return res
}

func outcomeOf(q period.Question, selected map[string]string) Outcome {
	key, ok := selected[q.ID]
	switch {
	case !ok:
		return OutcomeUnanswered
	case key == q.CorrectKey:
		return OutcomeCorrect
	default:
		return OutcomeIncorrect
	}
}
