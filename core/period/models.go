package period

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusReview    Status = "review"
	StatusFinished  Status = "finished"
)

var (
	AllStatuses = []Status{StatusDraft, StatusScheduled, StatusActive, StatusReview, StatusFinished}

	// LiveStatuses are the statuses DeriveStatus may still move a period out of.
	LiveStatuses = []Status{StatusScheduled, StatusActive, StatusReview}

	statusRanks = map[Status]int{
		StatusDraft:     0,
		StatusScheduled: 1,
		StatusActive:    2,
		StatusReview:    3,
		StatusFinished:  4,
	}
)

// Rank orders statuses along the lifecycle: draft < scheduled < active < review < finished.
func (s Status) Rank() int {
	return statusRanks[s]
}

func (s Status) IsValid() bool {
	_, ok := statusRanks[s]
	return ok
}

// IsFrozen is true for the statuses that are never derived from the clock.
func (s Status) IsFrozen() bool {
	return s == StatusDraft || s == StatusFinished
}

// UnansweredPolicy decides how a question the learner never answered is scored.
type UnansweredPolicy string

const (
	// CountSeparately reports unanswered questions in their own bucket (assessment periods).
	CountSeparately UnansweredPolicy = "count_separately"
	// CountAsWrong folds unanswered questions into the incorrect count (legacy module quizzes).
	CountAsWrong UnansweredPolicy = "count_as_wrong"
)

func (p UnansweredPolicy) IsValid() bool {
	return p == CountSeparately || p == CountAsWrong
}

// Period is a scheduled assessment window of one cohort for one cycle.
type Period struct {
	ID               string           `json:"id"`
	CohortID         string           `json:"cohort_id"`
	Cycle            string           `json:"cycle"`
	Name             string           `json:"name"`
	StartsAt         *time.Time       `json:"starts_at"`      // UTC
	EndsAt           *time.Time       `json:"ends_at"`        // UTC
	ReviewEndsAt     *time.Time       `json:"review_ends_at"` // UTC; review stays open forever when nil
	Status           Status           `json:"status"`
	UnansweredPolicy UnansweredPolicy `json:"unanswered_policy"`
	CreatedAt        time.Time        `json:"created_at"` // UTC
	UpdatedAt        time.Time        `json:"updated_at"` // UTC
}

// HasSchedule reports whether the boundaries needed to leave draft are set.
func (p *Period) HasSchedule() bool {
	return p.StartsAt != nil && p.EndsAt != nil
}

type Choice struct {
	Key  string `json:"key" validate:"required,choicekey"`
	Text string `json:"text" validate:"required"`
}

// Question is one entry of a period's QuestionSet, answer key included.
// It must never be serialized to a learner: see attempt.QuestionView.
type Question struct {
	ID         string    `json:"id"`
	PeriodID   string    `json:"period_id"`
	Position   int       `json:"position"`
	Text       string    `json:"text"`
	Choices    []Choice  `json:"choices"`
	CorrectKey string    `json:"correct_key"`
	Rationale  string    `json:"rationale"`
	CreatedAt  time.Time `json:"created_at"` // UTC
}

func (q *Question) HasChoice(key string) bool {
	for _, c := range q.Choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

// CopySource is a period whose QuestionSet may be copied into another one.
type CopySource struct {
	ID            string `json:"id"`
	CohortID      string `json:"cohort_id"`
	Cycle         string `json:"cycle"`
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
}

// NewPeriod contains information needed to create a new draft Period.
type NewPeriod struct {
	CohortID         string     `json:"cohort_id" validate:"required,max=64,ident"`
	Cycle            string     `json:"cycle" validate:"required,max=64,ident"`
	Name             string     `json:"name" validate:"required,max=255"`
	StartsAt         *time.Time `json:"starts_at" validate:"settime"`
	EndsAt           *time.Time `json:"ends_at" validate:"settime"`
	ReviewEndsAt     *time.Time `json:"review_ends_at" validate:"settime"`
	UnansweredPolicy string     `json:"unanswered_policy" validate:"omitempty,policy"`
}

func (np *NewPeriod) Validate(validate *validator.Validate) error {
	np.CohortID = core.CleanString(np.CohortID)
	np.Cycle = core.CleanString(np.Cycle)
	np.Name = core.CleanString(np.Name)
	np.UnansweredPolicy = core.CleanString(np.UnansweredPolicy, true /* lower */)
	return validate.Struct(np)
}

// UpdateSchedule defines what may be changed on a draft or scheduled Period. Nil fields are kept.
type UpdateSchedule struct {
	Name         string     `json:"name" validate:"omitempty,max=255"`
	StartsAt     *time.Time `json:"starts_at" validate:"settime"`
	EndsAt       *time.Time `json:"ends_at" validate:"settime"`
	ReviewEndsAt *time.Time `json:"review_ends_at" validate:"settime"`
}

// Validate merges the update onto `orig` before checking the boundaries order.
func (us *UpdateSchedule) Validate(orig Period, validate *validator.Validate) error {
	if name := core.CleanString(us.Name); name != "" {
		us.Name = name
	} else {
		us.Name = orig.Name
	}
	if us.StartsAt == nil {
		us.StartsAt = orig.StartsAt
	}
	if us.EndsAt == nil {
		us.EndsAt = orig.EndsAt
	}
	if us.ReviewEndsAt == nil {
		us.ReviewEndsAt = orig.ReviewEndsAt
	}
	return validate.Struct(us)
}

// NewQuestion contains information needed to add a question to a draft Period.
type NewQuestion struct {
	Text       string   `json:"text" validate:"required"`
	Choices    []Choice `json:"choices" validate:"required,min=2,max=10,dive"`
	CorrectKey string   `json:"correct_key" validate:"required"`
	Rationale  string   `json:"rationale"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) error {
	nq.Text = core.CleanString(nq.Text)
	nq.Rationale = core.CleanString(nq.Rationale)
	nq.CorrectKey = core.CleanString(nq.CorrectKey)
	for i := range nq.Choices {
		nq.Choices[i].Key = core.CleanString(nq.Choices[i].Key)
		nq.Choices[i].Text = core.CleanString(nq.Choices[i].Text)
	}
	return validate.Struct(nq)
}

type QueryFilter struct {
	CohortID string   `query:"cohort"`
	Cycle    string   `query:"cycle"`
	Statuses []Status `query:"status"`
}

func (qf *QueryFilter) Clean() {
	qf.CohortID = core.CleanString(qf.CohortID)
	qf.Cycle = core.CleanString(qf.Cycle)
}
