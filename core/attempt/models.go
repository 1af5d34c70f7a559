package attempt

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/period"
)

type State string

const (
	StateOpen      State = "open"
	StateSubmitted State = "submitted"
)

// OrderedQuestion is one slot of the learner-visible order, fixed when the attempt is created.
type OrderedQuestion struct {
	QuestionID string   `json:"question_id"`
	ChoiceKeys []string `json:"choice_keys"`
}

// Attempt is one learner's single graded pass through a period's questions.
type Attempt struct {
	ID           string            `json:"id"`
	LearnerID    string            `json:"learner_id"`
	PeriodID     string            `json:"period_id"`
	State        State             `json:"state"`
	Order        []OrderedQuestion `json:"order"`
	CurrentIndex int               `json:"current_index"`
	StartedAt    time.Time         `json:"started_at"`   // UTC
	SubmittedAt  *time.Time        `json:"submitted_at"` // UTC
}

func (a *Attempt) IsSubmitted() bool {
	return a.State == StateSubmitted
}

func (a *Attempt) hasQuestion(id string) bool {
	for _, oq := range a.Order {
		if oq.QuestionID == id {
			return true
		}
	}
	return false
}

// Answer is the learner's selected choice for one question. ChoiceKey is nil while unanswered.
type Answer struct {
	AttemptID  string    `json:"attempt_id"`
	QuestionID string    `json:"question_id"`
	ChoiceKey  *string   `json:"choice_key"`
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// Result is written once, in the same transaction that submits the attempt.
type Result struct {
	AttemptID  string                  `json:"attempt_id"`
	Total      int                     `json:"total"`
	Correct    int                     `json:"correct"`
	Incorrect  int                     `json:"incorrect"`
	Unanswered int                     `json:"unanswered"`
	Score      float64                 `json:"score"`
	Policy     period.UnansweredPolicy `json:"unanswered_policy"`
	CreatedAt  time.Time               `json:"created_at"` // UTC
}

// Learner-facing views: they carry no answer key by construction.

type ChoiceView struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type QuestionView struct {
	ID      string       `json:"id"`
	Number  int          `json:"number"`
	Text    string       `json:"text"`
	Choices []ChoiceView `json:"choices"`
}

// AttemptView is returned by StartAttempt: the ordered questions and the answers recorded so far.
type AttemptView struct {
	Attempt   Attempt            `json:"attempt"`
	Period    period.Period      `json:"period"`
	Questions []QuestionView     `json:"questions"`
	Answers   map[string]*string `json:"answers"` // {questionID: choiceKey}
	Resumed   bool               `json:"resumed"`
}

type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeUnanswered Outcome = "unanswered"
)

// ReviewItem discloses the answer key of one question. Only built once review is open.
type ReviewItem struct {
	QuestionView
	Selected   *string `json:"selected"`
	CorrectKey string  `json:"correct_key"`
	Rationale  string  `json:"rationale"`
	Outcome    Outcome `json:"outcome"`
}

type Review struct {
	Attempt Attempt       `json:"attempt"`
	Period  period.Period `json:"period"`
	Result  *Result       `json:"result"` // nil if the attempt was never submitted
	Items   []ReviewItem  `json:"items"`
}

type HistoryItem struct {
	Attempt Attempt `json:"attempt"`
	Result  Result  `json:"result"`
}

type QueryFilter struct {
	LearnerID string
	PeriodID  string
	State     State
}

// NewAnswer is one (question, choice) pair sent by the learner. An empty ChoiceKey clears the answer.
type NewAnswer struct {
	QuestionID string `json:"question_id" validate:"required"`
	ChoiceKey  string `json:"choice_key" validate:"omitempty,choicekey"`
}

func (na *NewAnswer) Validate(validate *validator.Validate) error {
	na.QuestionID = core.CleanString(na.QuestionID)
	na.ChoiceKey = core.CleanString(na.ChoiceKey)
	return validate.Struct(na)
}

// NewAnswers is the batch variant, applied as a single transaction.
type NewAnswers struct {
	Answers []NewAnswer `json:"answers" validate:"required,min=1,batchsize,dive"`
}

func (na *NewAnswers) Validate(validate *validator.Validate) error {
	for i := range na.Answers {
		na.Answers[i].QuestionID = core.CleanString(na.Answers[i].QuestionID)
		na.Answers[i].ChoiceKey = core.CleanString(na.Answers[i].ChoiceKey)
	}
	return validate.Struct(na)
}

type ProgressUpdate struct {
	CurrentIndex *int `json:"current_index" validate:"required,min=0"`
}

func (pu *ProgressUpdate) Validate(validate *validator.Validate) error {
	return validate.Struct(pu)
}
