package attempt

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/jitu/core/period"
)

func newQuestionSet(n int) []period.Question {
	qs := make([]period.Question, 0, n)
	for i := 0; i < n; i++ {
		qs = append(qs, period.Question{
			ID:         "q" + strconv.Itoa(i),
			Position:   i + 1,
			Choices:    []period.Choice{{Key: "A"}, {Key: "B"}, {Key: "C"}},
			CorrectKey: "A",
		})
	}
	return qs
}

// answersFor answers the first `correct` questions right, the next `incorrect` wrong and leaves the rest.
func answersFor(qs []period.Question, correct, incorrect int) []Answer {
	answers := make([]Answer, 0, correct+incorrect)
	for i := 0; i < correct+incorrect; i++ {
		key := "A"
		if i >= correct {
			key = "B"
		}
		answers = append(answers, Answer{QuestionID: qs[i].ID, ChoiceKey: &key})
	}
	return answers
}

func TestGrade(t *testing.T) {
	at := time.Now().UTC()
	qs := newQuestionSet(10)

	tests := []struct {
		name      string
		questions []period.Question
		answers   []Answer
		policy    period.UnansweredPolicy
		want      Result
	}{
		{
			name: "7/2/1", questions: qs, answers: answersFor(qs, 7, 2), policy: period.CountSeparately,
			want: Result{Total: 10, Correct: 7, Incorrect: 2, Unanswered: 1, Score: 70},
		},
		{
			name: "9/0/1", questions: qs, answers: answersFor(qs, 9, 0), policy: period.CountSeparately,
			want: Result{Total: 10, Correct: 9, Incorrect: 0, Unanswered: 1, Score: 90},
		},
		{
			name: "7/2/1 counted as wrong", questions: qs, answers: answersFor(qs, 7, 2), policy: period.CountAsWrong,
			want: Result{Total: 10, Correct: 7, Incorrect: 3, Unanswered: 1, Score: 70},
		},
		{
			name: "nothing answered", questions: qs, policy: period.CountSeparately,
			want: Result{Total: 10, Unanswered: 10},
		},
		{
			name: "rounded to 2 decimals", questions: newQuestionSet(3), answers: answersFor(newQuestionSet(3), 1, 0), policy: period.CountSeparately,
			want: Result{Total: 3, Correct: 1, Unanswered: 2, Score: 33.33},
		},
		{
			name: "cleared answer is unanswered", questions: qs[:1], answers: []Answer{{QuestionID: qs[0].ID}}, policy: period.CountSeparately,
			want: Result{Total: 1, Unanswered: 1},
		},
		{
			name: "answers outside the set are ignored", questions: qs[:2], answers: answersFor(qs, 5, 0), policy: period.CountSeparately,
			want: Result{Total: 2, Correct: 2, Score: 100},
		},
		{name: "empty set", policy: period.CountSeparately, want: Result{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Grade("att", tt.questions, tt.answers, tt.policy, at)

			tt.want.AttemptID = "att"
			tt.want.Policy = tt.policy
			tt.want.CreatedAt = at
			assert.Equal(t, tt.want, got)
			if tt.policy == period.CountSeparately {
				assert.Equal(t, got.Total, got.Correct+got.Incorrect+got.Unanswered)
			}
		})
	}
}
