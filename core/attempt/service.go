package attempt

import (
	"context"
	"net/mail"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/learner"
	"github.com/trezcool/jitu/core/period"
)

var nowFunc = time.Now // mockable

// GradeFunc scores the answers read inside the submit transaction.
type GradeFunc func(answers []Answer) (Result, error)

type (
	Repository interface {
		// FindOrCreateAttempt inserts `a` unless the (LearnerID, PeriodID) pair already has an attempt,
		// in which case the stored one is returned with created = false.
		FindOrCreateAttempt(ctx context.Context, a Attempt, exec ...core.DBExecutor) (stored Attempt, created bool, err error)
		GetAttempt(ctx context.Context, id string, exec ...core.DBExecutor) (Attempt, error)
		// QueryAttempts returns matching attempts, most recently started first.
		QueryAttempts(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Attempt, error)
		// UpdateProgress sets the current question index of an open attempt; false if it is submitted.
		UpdateProgress(ctx context.Context, id string, index int, exec ...core.DBExecutor) (bool, error)
		QueryAnswers(ctx context.Context, attemptID string, exec ...core.DBExecutor) ([]Answer, error)
		// UpsertAnswers writes every answer in one transaction; ErrAttemptClosed if the attempt is submitted.
		UpsertAnswers(ctx context.Context, attemptID string, answers []Answer, exec ...core.DBExecutor) error
		// SubmitAttempt locks the attempt, grades the answers present and stores the Result, all in one
		// transaction. already is true, with the stored Result, when the attempt was submitted before.
		SubmitAttempt(ctx context.Context, id string, at time.Time, grade GradeFunc, exec ...core.DBExecutor) (res Result, already bool, err error)
		GetResult(ctx context.Context, attemptID string, exec ...core.DBExecutor) (Result, error)
		QueryResults(ctx context.Context, attemptIDs []string, exec ...core.DBExecutor) ([]Result, error)
	}

	// SessionLocker persists the single active assessment session of each learner.
	SessionLocker interface {
		// AcquireLearnerSession claims the learner's session for `key` until `expiresAt`.
		// false when another key holds a session that has not expired.
		AcquireLearnerSession(ctx context.Context, learnerID, key string, at, expiresAt time.Time, exec ...core.DBExecutor) (bool, error)
		// ReleaseLearnerSession frees the session held with `key`; an empty key frees any session of the learner.
		ReleaseLearnerSession(ctx context.Context, learnerID, key string, exec ...core.DBExecutor) error
	}

	// PrerequisiteChecker tells whether a learner completed the materials gating the assessment.
	PrerequisiteChecker interface {
		MaterialsCompleted(ctx context.Context, learnerID, cohortID string) (bool, error)
	}

	// Service is the SessionEngine.
	Service interface {
		// StartAttempt finds or creates the learner's attempt for the period and returns it in the
		// learner-visible order, without the answer key. sessionKey identifies the learner's device session.
		StartAttempt(ctx context.Context, lrn learner.Learner, periodID, sessionKey string) (AttemptView, error)
		RecordAnswer(ctx context.Context, lrn learner.Learner, attemptID string, na NewAnswer) (Answer, error)
		// RecordAnswers is the batch variant of RecordAnswer: all or nothing.
		RecordAnswers(ctx context.Context, lrn learner.Learner, attemptID string, nas []NewAnswer) ([]Answer, error)
		UpdateProgress(ctx context.Context, lrn learner.Learner, attemptID string, index int) error
		// SubmitAttempt is idempotent: a repeated call returns the stored Result.
		SubmitAttempt(ctx context.Context, lrn learner.Learner, attemptID string) (Result, error)
		ReviewAttempt(ctx context.Context, lrn learner.Learner, attemptID string) (Review, error)
		GetResult(ctx context.Context, lrn learner.Learner, attemptID string) (Result, error)
		History(ctx context.Context, lrn learner.Learner) ([]HistoryItem, error)
		// Release frees the learner's single active session (logout).
		Release(ctx context.Context, lrn learner.Learner, sessionKey string) error
	}

	service struct {
		repo             Repository
		ledger           *Ledger
		sessions         SessionLocker
		periodSvc        period.Service
		prereq           PrerequisiteChecker
		mailSvc          core.EmailService
		requireMaterials bool
		sessionTTL       time.Duration
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	sessions SessionLocker,
	periodSvc period.Service,
	prereq PrerequisiteChecker,
	mailSvc core.EmailService,
	conf *core.Config,
) Service {
	ttl := conf.Assessment.SessionLockTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &service{
		repo:             repo,
		ledger:           NewLedger(repo),
		sessions:         sessions,
		periodSvc:        periodSvc,
		prereq:           prereq,
		mailSvc:          mailSvc,
		requireMaterials: conf.Assessment.RequireMaterials,
		sessionTTL:       ttl,
	}
}

// getOwnAttempt hides attempts of other learners behind ErrNotFound.
func (svc *service) getOwnAttempt(ctx context.Context, lrn learner.Learner, id string) (Attempt, error) {
	a, err := svc.repo.GetAttempt(ctx, id)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "finding attempt")
	}
	if a.LearnerID != lrn.ID {
		return Attempt{}, ErrNotFound
	}
	return a, nil
}

func (svc *service) questionSet(ctx context.Context, periodID string) ([]period.Question, map[string]period.Question, error) {
	qs, err := svc.periodSvc.Questions(ctx, periodID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting question set")
	}
	byID := make(map[string]period.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	return qs, byID, nil
}

func (svc *service) StartAttempt(ctx context.Context, lrn learner.Learner, periodID, sessionKey string) (AttemptView, error) {
	p, err := svc.periodSvc.Get(ctx, periodID)
	if err != nil {
		return AttemptView{}, errors.Wrap(err, "getting period")
	}
	if !lrn.InCohort(p.CohortID) {
		return AttemptView{}, period.ErrNotFound
	}
	if !period.CanAttempt(p) {
		return AttemptView{}, ErrPeriodNotOpen
	}

	if svc.requireMaterials {
		done, err := svc.prereq.MaterialsCompleted(ctx, lrn.ID, p.CohortID)
		if err != nil {
			return AttemptView{}, errors.Wrap(err, "checking materials prerequisite")
		}
		if !done {
			return AttemptView{}, ErrPrerequisiteNotMet
		}
	}

	now := nowFunc().UTC()
	if sessionKey != "" {
		ok, err := svc.sessions.AcquireLearnerSession(ctx, lrn.ID, sessionKey, now, now.Add(svc.sessionTTL))
		if err != nil {
			return AttemptView{}, errors.Wrap(err, "acquiring learner session")
		}
		if !ok {
			return AttemptView{}, ErrSessionActiveElsewhere
		}
	}

	qs, byID, err := svc.questionSet(ctx, p.ID)
	if err != nil {
		return AttemptView{}, err
	}

	// the order is generated up front and only persisted if this call creates the attempt
	a, created, err := svc.repo.FindOrCreateAttempt(ctx, Attempt{
		ID:        uuid.New().String(),
		LearnerID: lrn.ID,
		PeriodID:  p.ID,
		State:     StateOpen,
		Order:     shuffleOrder(newRandFunc(), qs),
		StartedAt: now,
	})
	if err != nil {
		return AttemptView{}, errors.Wrap(err, "finding or creating attempt")
	}

	if a.IsSubmitted() {
		if sessionKey != "" {
			_ = svc.sessions.ReleaseLearnerSession(ctx, lrn.ID, sessionKey) // expires on its own anyway
		}
		res, err := svc.repo.GetResult(ctx, a.ID)
		if err != nil {
			return AttemptView{}, errors.Wrap(err, "getting result")
		}
		return AttemptView{}, &AlreadySubmittedError{Result: res}
	}

	answers := make(map[string]*string)
	if !created {
		if answers, err = svc.ledger.Read(ctx, a.ID); err != nil {
			return AttemptView{}, err
		}
	}

	return AttemptView{
		Attempt:   a,
		Period:    p,
		Questions: questionViews(a.Order, byID),
		Answers:   answers,
		Resumed:   !created,
	}, nil
}

// checkWritable returns the attempt once answers may still change: open attempt in an active period.
func (svc *service) checkWritable(ctx context.Context, lrn learner.Learner, attemptID string) (Attempt, error) {
	a, err := svc.getOwnAttempt(ctx, lrn, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.IsSubmitted() {
		return Attempt{}, ErrAttemptClosed
	}
	p, err := svc.periodSvc.Get(ctx, a.PeriodID)
	if err != nil {
		return Attempt{}, errors.Wrap(err, "getting period")
	}
	if !period.CanAttempt(p) {
		return Attempt{}, ErrPeriodNotOpen
	}
	return a, nil
}

func (svc *service) RecordAnswer(ctx context.Context, lrn learner.Learner, attemptID string, na NewAnswer) (Answer, error) {
	answers, err := svc.RecordAnswers(ctx, lrn, attemptID, []NewAnswer{na})
	if err != nil {
		return Answer{}, err
	}
	return answers[0], nil
}

func (svc *service) RecordAnswers(ctx context.Context, lrn learner.Learner, attemptID string, nas []NewAnswer) ([]Answer, error) {
	a, err := svc.checkWritable(ctx, lrn, attemptID)
	if err != nil {
		return nil, err
	}
	_, byID, err := svc.questionSet(ctx, a.PeriodID)
	if err != nil {
		return nil, err
	}

	// later entries for the same question win
	entries := make(map[string]*string, len(nas))
	for _, na := range nas {
		q, ok := byID[na.QuestionID]
		if !ok || !a.hasQuestion(na.QuestionID) {
			return nil, ErrUnknownQuestion
		}
		if na.ChoiceKey == "" {
			entries[q.ID] = nil
			continue
		}
		if !q.HasChoice(na.ChoiceKey) {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "choice_key", Error: "unknown choice " + na.ChoiceKey})
		}
		key := na.ChoiceKey
		entries[q.ID] = &key
	}

	answers, err := svc.ledger.Write(ctx, a.ID, entries, nowFunc().UTC())
	if err != nil {
		return nil, err
	}
	return answers, nil
}

func (svc *service) UpdateProgress(ctx context.Context, lrn learner.Learner, attemptID string, index int) error {
	a, err := svc.checkWritable(ctx, lrn, attemptID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(a.Order) {
		return core.NewValidationError(nil, core.FieldError{Field: "current_index", Error: "out of range"})
	}
	ok, err := svc.repo.UpdateProgress(ctx, a.ID, index)
	if err != nil {
		return errors.Wrap(err, "updating progress")
	}
	if !ok {
		return ErrAttemptClosed
	}
	return nil
}

func (svc *service) SubmitAttempt(ctx context.Context, lrn learner.Learner, attemptID string) (Result, error) {
	a, err := svc.getOwnAttempt(ctx, lrn, attemptID)
	if err != nil {
		return Result{}, err
	}
	if a.IsSubmitted() {
		return svc.result(ctx, a.ID)
	}

	p, err := svc.periodSvc.Get(ctx, a.PeriodID)
	if err != nil {
		return Result{}, errors.Wrap(err, "getting period")
	}
	// late submissions are accepted: the attempt stays resumable until submitted
	if !(period.CanAttempt(p) || period.CanReview(p)) {
		return Result{}, ErrPeriodNotOpen
	}

	qs, _, err := svc.questionSet(ctx, p.ID)
	if err != nil {
		return Result{}, err
	}

	now := nowFunc().UTC()
	res, already, err := svc.repo.SubmitAttempt(ctx, a.ID, now, func(answers []Answer) (Result, error) {
		return Grade(a.ID, qs, answers, p.UnansweredPolicy, now), nil
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "submitting attempt")
	}
	if already {
		return res, nil
	}

	_ = svc.sessions.ReleaseLearnerSession(ctx, lrn.ID, "") // expires on its own anyway
	svc.sendResultMail(lrn, p, res)
	return res, nil
}

func (svc *service) result(ctx context.Context, attemptID string) (Result, error) {
	res, err := svc.repo.GetResult(ctx, attemptID)
	if err != nil {
		return Result{}, errors.Wrap(err, "getting result")
	}
	return res, nil
}

func (svc *service) ReviewAttempt(ctx context.Context, lrn learner.Learner, attemptID string) (Review, error) {
	a, err := svc.getOwnAttempt(ctx, lrn, attemptID)
	if err != nil {
		return Review{}, err
	}
	p, err := svc.periodSvc.Get(ctx, a.PeriodID)
	if err != nil {
		return Review{}, errors.Wrap(err, "getting period")
	}
	if !period.CanReview(p) {
		return Review{}, ErrReviewNotOpen
	}

	_, byID, err := svc.questionSet(ctx, p.ID)
	if err != nil {
		return Review{}, err
	}
	answers, err := svc.ledger.Read(ctx, a.ID)
	if err != nil {
		return Review{}, err
	}

	rv := Review{
		Attempt: a,
		Period:  p,
		Items:   make([]ReviewItem, 0, len(a.Order)),
	}
	if a.IsSubmitted() {
		res, err := svc.result(ctx, a.ID)
		if err != nil {
			return Review{}, err
		}
		rv.Result = &res
	}

	selected := make(map[string]string, len(answers))
	for qID, key := range answers {
		if key != nil {
			selected[qID] = *key
		}
	}
	for i, oq := range a.Order {
		q, ok := byID[oq.QuestionID]
		if !ok {
			continue
		}
		rv.Items = append(rv.Items, ReviewItem{
			QuestionView: questionView(i+1, oq, q),
			Selected:     answers[q.ID],
			CorrectKey:   q.CorrectKey,
			Rationale:    q.Rationale,
			Outcome:      outcomeOf(q, selected),
		})
	}
	return rv, nil
}

func (svc *service) GetResult(ctx context.Context, lrn learner.Learner, attemptID string) (Result, error) {
	a, err := svc.getOwnAttempt(ctx, lrn, attemptID)
	if err != nil {
		return Result{}, err
	}
	if !a.IsSubmitted() {
		return Result{}, ErrNotSubmitted
	}
	return svc.result(ctx, a.ID)
}

func (svc *service) History(ctx context.Context, lrn learner.Learner) ([]HistoryItem, error) {
	attempts, err := svc.repo.QueryAttempts(ctx, &QueryFilter{LearnerID: lrn.ID, State: StateSubmitted})
	if err != nil {
		return nil, errors.Wrap(err, "querying attempts")
	}

	ids := make([]string, 0, len(attempts))
	for _, a := range attempts {
		ids = append(ids, a.ID)
	}
	results, err := svc.repo.QueryResults(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	byAttempt := make(map[string]Result, len(results))
	for _, res := range results {
		byAttempt[res.AttemptID] = res
	}

	items := make([]HistoryItem, 0, len(attempts))
	for _, a := range attempts {
		if res, ok := byAttempt[a.ID]; ok {
			items = append(items, HistoryItem{Attempt: a, Result: res})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Attempt.SubmittedAt.After(*items[j].Attempt.SubmittedAt)
	})
	return items, nil
}

func (svc *service) Release(ctx context.Context, lrn learner.Learner, sessionKey string) error {
	if err := svc.sessions.ReleaseLearnerSession(ctx, lrn.ID, sessionKey); err != nil {
		return errors.Wrap(err, "releasing learner session")
	}
	return nil
}

type resultMailData struct {
	Name   string
	Period string
	Result Result
}

func (svc *service) sendResultMail(lrn learner.Learner, p period.Period, res Result) {
	if lrn.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: lrn.Name, Address: lrn.Email}},
		Subject:      "Your result for " + p.Name,
		TemplateName: "result",
		TemplateData: resultMailData{
			Name:   lrn.Name,
			Period: p.Name,
			Result: res,
		},
	})
}

func questionViews(order []OrderedQuestion, byID map[string]period.Question) []QuestionView {
	views := make([]QuestionView, 0, len(order))
	for i, oq := range order {
		if q, ok := byID[oq.QuestionID]; ok {
			views = append(views, questionView(i+1, oq, q))
		}
	}
	return views
}

func questionView(number int, oq OrderedQuestion, q period.Question) QuestionView {
	texts := make(map[string]string, len(q.Choices))
	for _, c := range q.Choices {
		texts[c.Key] = c.Text
	}
	choices := make([]ChoiceView, 0, len(oq.ChoiceKeys))
	for _, key := range oq.ChoiceKeys {
		choices = append(choices, ChoiceView{Key: key, Text: texts[key]})
	}
	return QuestionView{
		ID:      q.ID,
		Number:  number,
		Text:    q.Text,
		Choices: choices,
	}
}
