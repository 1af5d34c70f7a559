package period

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
)

var (
	// errors
	ErrNotFound           = errors.New("period not found")
	ErrPeriodExists       = errors.New("a period already exists for this cohort and cycle")
	ErrInvalidPeriodState = errors.New("operation not allowed in the period's current state")
	ErrIncompleteSchedule = errors.New("period schedule is incomplete")
	ErrNoSourceQuestions  = errors.New("source period has no questions")
	ErrPeriodInUse        = errors.New("period already has attempts")
	ErrQuestionNotFound   = errors.New("question not found")

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CreatePeriod returns ErrPeriodExists when (CohortID, Cycle) is taken.
		CreatePeriod(ctx context.Context, p Period, exec ...core.DBExecutor) (Period, error)
		GetPeriod(ctx context.Context, id string, exec ...core.DBExecutor) (Period, error)
		// QueryPeriods applies AND operation on available QueryFilter fields.
		QueryPeriods(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Period, error)
		// UpdateSchedule saves name & boundaries of a draft or scheduled period; ErrInvalidPeriodState otherwise.
		UpdateSchedule(ctx context.Context, p Period, exec ...core.DBExecutor) (Period, error)
		// SetStatus moves a period from `from` to `to`; false when the stored status is no longer `from`.
		SetStatus(ctx context.Context, id string, from, to Status, at time.Time, exec ...core.DBExecutor) (bool, error)
		// PublishPeriod moves a draft period that has at least one question to `to`.
		// false when the period is not draft anymore or has no questions.
		PublishPeriod(ctx context.Context, id string, to Status, at time.Time, exec ...core.DBExecutor) (bool, error)
		// AddQuestions appends questions to a draft period's QuestionSet; ErrInvalidPeriodState otherwise.
		AddQuestions(ctx context.Context, periodID string, questions []Question, exec ...core.DBExecutor) ([]Question, error)
		// DeleteQuestions removes questions from a draft period's QuestionSet; ErrInvalidPeriodState otherwise.
		DeleteQuestions(ctx context.Context, periodID string, ids []string, exec ...core.DBExecutor) (int, error)
		// UpdateQuestion replaces text, choices, key & rationale of a draft period's question.
		// ErrQuestionNotFound when q.ID is not in q.PeriodID's QuestionSet.
		UpdateQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
		// QueryQuestions returns the QuestionSet ordered by position.
		QueryQuestions(ctx context.Context, periodID string, exec ...core.DBExecutor) ([]Question, error)
		// CountQuestions returns the QuestionSet sizes of periodIDs; periods without questions are omitted.
		CountQuestions(ctx context.Context, periodIDs []string, exec ...core.DBExecutor) (map[string]int, error)
		// DeletePeriod removes a period and its QuestionSet; ErrPeriodInUse once an attempt references it.
		DeletePeriod(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// Service is the PeriodRegistry: it owns the lifecycle of periods and answers the open/review queries.
	Service interface {
		Create(ctx context.Context, np NewPeriod) (Period, error)
		// Get returns the period with its status re-derived from the clock.
		Get(ctx context.Context, id string) (Period, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Period, error)
		UpdateSchedule(ctx context.Context, id string, us UpdateSchedule) (Period, error)
		AddQuestions(ctx context.Context, id string, nqs []NewQuestion) ([]Question, error)
		// CopyQuestions appends the QuestionSet of sourceID to the draft period id.
		CopyQuestions(ctx context.Context, id, sourceID string) ([]Question, error)
		RemoveQuestions(ctx context.Context, id string, questionIDs []string) (int, error)
		UpdateQuestion(ctx context.Context, id, questionID string, nq NewQuestion) (Question, error)
		Questions(ctx context.Context, id string) ([]Question, error)
		// CopySources lists the other periods with questions, same cohort first, newest first.
		CopySources(ctx context.Context, id string) ([]CopySource, error)
		// Delete removes a period nobody has attempted yet.
		Delete(ctx context.Context, id string) error
		Publish(ctx context.Context, id string) (Period, error)
		Finish(ctx context.Context, id string) (Period, error)
		// RefreshStatuses re-derives every live period and returns how many changed.
		RefreshStatuses(ctx context.Context) (int, error)
		// CurrentPeriod returns the cohort's active period, else the most recent in review,
		// else the nearest scheduled one. found is false when the cohort has none of those.
		CurrentPeriod(ctx context.Context, cohortID string, now time.Time) (p Period, found bool, err error)
	}

	service struct {
		repo          Repository
		defaultPolicy UnansweredPolicy
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, conf *core.Config) Service {
	policy := UnansweredPolicy(conf.Assessment.UnansweredPolicy)
	if !policy.IsValid() {
		policy = CountSeparately
	}
	return &service{
		repo:          repo,
		defaultPolicy: policy,
	}
}

func (svc *service) Create(ctx context.Context, np NewPeriod) (Period, error) {
	now := nowFunc().UTC()
	policy := UnansweredPolicy(np.UnansweredPolicy)
	if policy == "" {
		policy = svc.defaultPolicy
	}
	p := Period{
		ID:               uuid.New().String(),
		CohortID:         np.CohortID,
		Cycle:            np.Cycle,
		Name:             np.Name,
		StartsAt:         utcPtr(np.StartsAt),
		EndsAt:           utcPtr(np.EndsAt),
		ReviewEndsAt:     utcPtr(np.ReviewEndsAt),
		Status:           StatusDraft,
		UnansweredPolicy: policy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p, err := svc.repo.CreatePeriod(ctx, p)
	if err != nil {
		if errors.Cause(err) == ErrPeriodExists {
			return Period{}, core.NewValidationError(ErrPeriodExists, core.FieldError{Field: "cycle", Error: ErrPeriodExists.Error()})
		}
		return Period{}, errors.Wrap(err, "creating period")
	}
	return p, nil
}

// refresh persists the derived status when it differs from the stored one.
func (svc *service) refresh(ctx context.Context, p Period, now time.Time) (Period, error) {
	derived := DeriveStatus(now, p)
	if derived == p.Status {
		return p, nil
	}
	ok, err := svc.repo.SetStatus(ctx, p.ID, p.Status, derived, now)
	if err != nil {
		return Period{}, errors.Wrap(err, "setting period status")
	}
	if !ok {
		// moved concurrently (refresh, finish): re-read and derive again
		if p, err = svc.repo.GetPeriod(ctx, p.ID); err != nil {
			return Period{}, errors.Wrap(err, "finding period")
		}
		p.Status = DeriveStatus(now, p)
		return p, nil
	}
	p.Status = derived
	p.UpdatedAt = now
	return p, nil
}

func (svc *service) Get(ctx context.Context, id string) (Period, error) {
	p, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, errors.Wrap(err, "finding period")
	}
	return svc.refresh(ctx, p, nowFunc().UTC())
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Period, error) {
	periods, err := svc.repo.QueryPeriods(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying periods")
	}
	now := nowFunc().UTC()
	for i := range periods {
		if periods[i], err = svc.refresh(ctx, periods[i], now); err != nil {
			return nil, err
		}
	}
	return periods, nil
}

func (svc *service) UpdateSchedule(ctx context.Context, id string, us UpdateSchedule) (Period, error) {
	p, err := svc.Get(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if !(p.Status == StatusDraft || p.Status == StatusScheduled) {
		return Period{}, ErrInvalidPeriodState
	}

	now := nowFunc().UTC()
	p.Name = us.Name
	p.StartsAt = utcPtr(us.StartsAt)
	p.EndsAt = utcPtr(us.EndsAt)
	p.ReviewEndsAt = utcPtr(us.ReviewEndsAt)
	p.UpdatedAt = now
	if p, err = svc.repo.UpdateSchedule(ctx, p); err != nil {
		return Period{}, errors.Wrap(err, "updating period schedule")
	}
	// a scheduled period may have been moved into its active window
	return svc.refresh(ctx, p, now)
}

func (svc *service) AddQuestions(ctx context.Context, id string, nqs []NewQuestion) ([]Question, error) {
	p, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "finding period")
	}
	if p.Status != StatusDraft {
		return nil, ErrInvalidPeriodState
	}

	now := nowFunc().UTC()
	qs := make([]Question, 0, len(nqs))
	for _, nq := range nqs {
		choices := make([]Choice, len(nq.Choices))
		copy(choices, nq.Choices)
		qs = append(qs, Question{
			ID:         uuid.New().String(),
			PeriodID:   p.ID,
			Text:       nq.Text,
			Choices:    choices,
			CorrectKey: nq.CorrectKey,
			Rationale:  nq.Rationale,
			CreatedAt:  now,
		})
	}
	if qs, err = svc.repo.AddQuestions(ctx, p.ID, qs); err != nil {
		return nil, errors.Wrap(err, "adding questions")
	}
	return qs, nil
}

func (svc *service) CopyQuestions(ctx context.Context, id, sourceID string) ([]Question, error) {
	if _, err := svc.repo.GetPeriod(ctx, sourceID); err != nil {
		return nil, errors.Wrap(err, "finding source period")
	}
	src, err := svc.repo.QueryQuestions(ctx, sourceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying source questions")
	}
	if len(src) == 0 {
		return nil, ErrNoSourceQuestions
	}

	nqs := make([]NewQuestion, 0, len(src))
	for _, q := range src {
		nqs = append(nqs, NewQuestion{
			Text:       q.Text,
			Choices:    q.Choices,
			CorrectKey: q.CorrectKey,
			Rationale:  q.Rationale,
		})
	}
	return svc.AddQuestions(ctx, id, nqs)
}

func (svc *service) RemoveQuestions(ctx context.Context, id string, questionIDs []string) (int, error) {
	p, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return 0, errors.Wrap(err, "finding period")
	}
	if p.Status != StatusDraft {
		return 0, ErrInvalidPeriodState
	}
	cnt, err := svc.repo.DeleteQuestions(ctx, p.ID, questionIDs)
	if err != nil {
		return 0, errors.Wrap(err, "deleting questions")
	}
	return cnt, nil
}

func (svc *service) UpdateQuestion(ctx context.Context, id, questionID string, nq NewQuestion) (Question, error) {
	p, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return Question{}, errors.Wrap(err, "finding period")
	}
	if p.Status != StatusDraft {
		return Question{}, ErrInvalidPeriodState
	}

	choices := make([]Choice, len(nq.Choices))
	copy(choices, nq.Choices)
	q, err := svc.repo.UpdateQuestion(ctx, Question{
		ID:         questionID,
		PeriodID:   p.ID,
		Text:       nq.Text,
		Choices:    choices,
		CorrectKey: nq.CorrectKey,
		Rationale:  nq.Rationale,
	})
	if err != nil {
		return Question{}, errors.Wrap(err, "updating question")
	}
	return q, nil
}

func (svc *service) CopySources(ctx context.Context, id string) ([]CopySource, error) {
	target, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "finding period")
	}
	periods, err := svc.repo.QueryPeriods(ctx, nil, []core.DBOrdering{{Field: "created_at"}})
	if err != nil {
		return nil, errors.Wrap(err, "querying periods")
	}

	ids := make([]string, 0, len(periods))
	for _, p := range periods {
		if p.ID != target.ID {
			ids = append(ids, p.ID)
		}
	}
	counts, err := svc.repo.CountQuestions(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "counting questions")
	}

	sources := make([]CopySource, 0, len(counts))
	for _, p := range periods {
		if n := counts[p.ID]; n > 0 && p.ID != target.ID {
			sources = append(sources, CopySource{
				ID:            p.ID,
				CohortID:      p.CohortID,
				Cycle:         p.Cycle,
				Name:          p.Name,
				QuestionCount: n,
			})
		}
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].CohortID == target.CohortID && sources[j].CohortID != target.CohortID
	})
	return sources, nil
}

func (svc *service) Delete(ctx context.Context, id string) error {
	if err := svc.repo.DeletePeriod(ctx, id); err != nil {
		return errors.Wrap(err, "deleting period")
	}
	return nil
}

func (svc *service) Questions(ctx context.Context, id string) ([]Question, error) {
	qs, err := svc.repo.QueryQuestions(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	return qs, nil
}

func (svc *service) Publish(ctx context.Context, id string) (Period, error) {
	p, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, errors.Wrap(err, "finding period")
	}
	if p.Status != StatusDraft {
		return Period{}, errors.Wrap(ErrInvalidPeriodState, "period is not a draft")
	}
	if !p.HasSchedule() {
		return Period{}, ErrIncompleteSchedule
	}

	qs, err := svc.repo.QueryQuestions(ctx, p.ID)
	if err != nil {
		return Period{}, errors.Wrap(err, "querying questions")
	}
	if len(qs) == 0 {
		return Period{}, errors.Wrap(ErrInvalidPeriodState, "period has no questions")
	}

	now := nowFunc().UTC()
	to := statusAt(now, *p.StartsAt, *p.EndsAt, p.ReviewEndsAt)
	ok, err := svc.repo.PublishPeriod(ctx, p.ID, to, now)
	if err != nil {
		return Period{}, errors.Wrap(err, "publishing period")
	}
	if !ok {
		// published, or emptied, concurrently
		return Period{}, errors.Wrap(ErrInvalidPeriodState, "period is not a draft")
	}
	p.Status = to
	p.UpdatedAt = now
	return p, nil
}

func (svc *service) Finish(ctx context.Context, id string) (Period, error) {
	p, err := svc.repo.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, errors.Wrap(err, "finding period")
	}
	switch p.Status {
	case StatusFinished:
		return p, nil
	case StatusDraft:
		return Period{}, errors.Wrap(ErrInvalidPeriodState, "draft periods cannot be finished")
	}

	now := nowFunc().UTC()
	ok, err := svc.repo.SetStatus(ctx, p.ID, p.Status, StatusFinished, now)
	if err != nil {
		return Period{}, errors.Wrap(err, "finishing period")
	}
	if !ok {
		// status moved in between; retry against the fresh row
		return svc.Finish(ctx, id)
	}
	p.Status = StatusFinished
	p.UpdatedAt = now
	return p, nil
}

func (svc *service) RefreshStatuses(ctx context.Context) (int, error) {
	periods, err := svc.repo.QueryPeriods(ctx, &QueryFilter{Statuses: LiveStatuses}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying live periods")
	}

	var changed int
	now := nowFunc().UTC()
	for _, p := range periods {
		orig := p.Status
		if p, err = svc.refresh(ctx, p, now); err != nil {
			return changed, err
		}
		if p.Status != orig {
			changed++
		}
	}
	return changed, nil
}

func (svc *service) CurrentPeriod(ctx context.Context, cohortID string, now time.Time) (Period, bool, error) {
	periods, err := svc.repo.QueryPeriods(ctx, &QueryFilter{CohortID: cohortID, Statuses: LiveStatuses}, nil)
	if err != nil {
		return Period{}, false, errors.Wrap(err, "querying cohort periods")
	}

	now = now.UTC()
	for i := range periods {
		if periods[i], err = svc.refresh(ctx, periods[i], now); err != nil {
			return Period{}, false, err
		}
	}
	p, found := pickCurrent(periods)
	return p, found, nil
}

// pickCurrent applies the current period priority: active, then most recent review, then nearest scheduled.
func pickCurrent(periods []Period) (Period, bool) {
	var active, review, scheduled []Period
	for _, p := range periods {
		switch p.Status {
		case StatusActive:
			active = append(active, p)
		case StatusReview:
			review = append(review, p)
		case StatusScheduled:
			scheduled = append(scheduled, p)
		}
	}

	if len(active) > 0 {
		// overlapping windows: the one closing first
		sort.SliceStable(active, func(i, j int) bool { return active[i].EndsAt.Before(*active[j].EndsAt) })
		return active[0], true
	}
	if len(review) > 0 {
		sort.SliceStable(review, func(i, j int) bool { return review[i].EndsAt.After(*review[j].EndsAt) })
		return review[0], true
	}
	if len(scheduled) > 0 {
		sort.SliceStable(scheduled, func(i, j int) bool { return scheduled[i].StartsAt.Before(*scheduled[j].StartsAt) })
		return scheduled[0], true
	}
	return Period{}, false
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
