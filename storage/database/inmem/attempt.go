package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
)

type attemptRepository struct {
	db *DB
}

var _ attempt.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *DB) *attemptRepository {
	return &attemptRepository{db: db}
}

func copyAttempt(a *attempt.Attempt) attempt.Attempt {
	out := *a
	out.Order = make([]attempt.OrderedQuestion, len(a.Order))
	for i, oq := range a.Order {
		out.Order[i] = attempt.OrderedQuestion{
			QuestionID: oq.QuestionID,
			ChoiceKeys: append([]string(nil), oq.ChoiceKeys...),
		}
	}
	return out
}

func (repo *attemptRepository) FindOrCreateAttempt(_ context.Context, a attempt.Attempt, _ ...core.DBExecutor) (attempt.Attempt, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, stored := range repo.db.attempts {
		if stored.LearnerID == a.LearnerID && stored.PeriodID == a.PeriodID {
			return copyAttempt(stored), false, nil
		}
	}
	a.State = attempt.StateOpen
	stored := copyAttempt(&a)
	repo.db.attempts[a.ID] = &stored
	return copyAttempt(&stored), true, nil
}

func (repo *attemptRepository) GetAttempt(_ context.Context, id string, _ ...core.DBExecutor) (attempt.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if a, ok := repo.db.attempts[id]; ok {
		return copyAttempt(a), nil
	}
	return attempt.Attempt{}, attempt.ErrNotFound
}

func (repo *attemptRepository) QueryAttempts(_ context.Context, filter *attempt.QueryFilter, _ ...core.DBExecutor) ([]attempt.Attempt, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	attempts := make([]attempt.Attempt, 0)
	for _, a := range repo.db.attempts {
		if filter != nil {
			if (filter.LearnerID != "" && a.LearnerID != filter.LearnerID) ||
				(filter.PeriodID != "" && a.PeriodID != filter.PeriodID) ||
				(filter.State != "" && a.State != filter.State) {
				continue
			}
		}
		attempts = append(attempts, copyAttempt(a))
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].StartedAt.After(attempts[j].StartedAt)
	})
	return attempts, nil
}

func (repo *attemptRepository) UpdateProgress(_ context.Context, id string, index int, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[id]
	if !ok || a.IsSubmitted() {
		return false, nil
	}
	a.CurrentIndex = index
	return true, nil
}

// queryAnswers must be called with the lock held.
func (repo *attemptRepository) queryAnswers(attemptID string) []attempt.Answer {
	stored := repo.db.answers[attemptID]
	answers := make([]attempt.Answer, 0, len(stored))
	for _, ans := range stored {
		answers = append(answers, ans)
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].QuestionID < answers[j].QuestionID })
	return answers
}

func (repo *attemptRepository) QueryAnswers(_ context.Context, attemptID string, _ ...core.DBExecutor) ([]attempt.Answer, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.queryAnswers(attemptID), nil
}

func (repo *attemptRepository) UpsertAnswers(_ context.Context, attemptID string, answers []attempt.Answer, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[attemptID]
	if !ok {
		return attempt.ErrNotFound
	}
	if a.IsSubmitted() {
		return attempt.ErrAttemptClosed
	}

	stored, ok := repo.db.answers[attemptID]
	if !ok {
		stored = make(map[string]attempt.Answer, len(answers))
		repo.db.answers[attemptID] = stored
	}
	for _, ans := range answers {
		if ans.ChoiceKey != nil {
			key := *ans.ChoiceKey
			ans.ChoiceKey = &key
		}
		stored[ans.QuestionID] = ans
	}
	return nil
}

func (repo *attemptRepository) SubmitAttempt(
	_ context.Context,
	id string,
	at time.Time,
	grade attempt.GradeFunc,
	_ ...core.DBExecutor,
) (attempt.Result, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	a, ok := repo.db.attempts[id]
	if !ok {
		return attempt.Result{}, false, attempt.ErrNotFound
	}
	if a.IsSubmitted() {
		res, ok := repo.db.results[id]
		if !ok {
			return attempt.Result{}, false, attempt.ErrNotSubmitted
		}
		return res, true, nil
	}

	res, err := grade(repo.queryAnswers(id))
	if err != nil {
		return attempt.Result{}, false, errors.Wrap(err, "grading attempt")
	}
	res.AttemptID = id
	res.CreatedAt = at
	repo.db.results[id] = res

	submittedAt := at
	a.State = attempt.StateSubmitted
	a.SubmittedAt = &submittedAt
	return res, false, nil
}

func (repo *attemptRepository) GetResult(_ context.Context, attemptID string, _ ...core.DBExecutor) (attempt.Result, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if _, ok := repo.db.attempts[attemptID]; !ok {
		return attempt.Result{}, attempt.ErrNotFound
	}
	if res, ok := repo.db.results[attemptID]; ok {
		return res, nil
	}
	return attempt.Result{}, attempt.ErrNotSubmitted
}

func (repo *attemptRepository) QueryResults(_ context.Context, attemptIDs []string, _ ...core.DBExecutor) ([]attempt.Result, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	results := make([]attempt.Result, 0, len(attemptIDs))
	for _, id := range attemptIDs {
		if res, ok := repo.db.results[id]; ok {
			results = append(results, res)
		}
	}
	return results, nil
}
