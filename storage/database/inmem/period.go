package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/period"
)

type periodRepository struct {
	db *DB
}

var _ period.Repository = (*periodRepository)(nil) // interface compliance check

func NewPeriodRepository(db *DB) *periodRepository {
	return &periodRepository{db: db}
}

func copyQuestion(q period.Question) period.Question {
	q.Choices = append([]period.Choice(nil), q.Choices...)
	return q
}

func (repo *periodRepository) CreatePeriod(_ context.Context, p period.Period, _ ...core.DBExecutor) (period.Period, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.periods {
		if other.CohortID == p.CohortID && other.Cycle == p.Cycle {
			return period.Period{}, period.ErrPeriodExists
		}
	}
	repo.db.periods[p.ID] = &p
	return p, nil
}

func (repo *periodRepository) GetPeriod(_ context.Context, id string, _ ...core.DBExecutor) (period.Period, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p, ok := repo.db.periods[id]; ok {
		return *p, nil
	}
	return period.Period{}, period.ErrNotFound
}

func matchPeriod(p *period.Period, filter *period.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.CohortID != "" && p.CohortID != filter.CohortID {
		return false
	}
	if filter.Cycle != "" && p.Cycle != filter.Cycle {
		return false
	}
	if len(filter.Statuses) > 0 {
		for _, s := range filter.Statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

func comparePeriods(a, b period.Period, field string) int {
	timeCmp := func(x, y *time.Time) int {
		switch {
		case x == nil && y == nil:
			return 0
		case x == nil:
			return 1 // NULLS LAST
		case y == nil:
			return -1
		case x.Before(*y):
			return -1
		case x.After(*y):
			return 1
		}
		return 0
	}
	switch field {
	case "cycle":
		return strings.Compare(a.Cycle, b.Cycle)
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "starts_at":
		return timeCmp(a.StartsAt, b.StartsAt)
	case "ends_at":
		return timeCmp(a.EndsAt, b.EndsAt)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "created_at":
		return timeCmp(&a.CreatedAt, &b.CreatedAt)
	}
	return 0
}

func (repo *periodRepository) QueryPeriods(
	_ context.Context,
	filter *period.QueryFilter,
	ordering []core.DBOrdering,
	_ ...core.DBExecutor,
) ([]period.Period, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	periods := make([]period.Period, 0, len(repo.db.periods))
	for _, p := range repo.db.periods {
		if matchPeriod(p, filter) {
			periods = append(periods, *p)
		}
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(periods, func(i, j int) bool {
		for _, ord := range ordering {
			c := comparePeriods(periods[i], periods[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return periods[i].ID < periods[j].ID
	})
	return periods, nil
}

func (repo *periodRepository) UpdateSchedule(_ context.Context, p period.Period, _ ...core.DBExecutor) (period.Period, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.periods[p.ID]
	if !ok {
		return period.Period{}, period.ErrNotFound
	}
	if orig.Status != period.StatusDraft && orig.Status != period.StatusScheduled {
		return period.Period{}, period.ErrInvalidPeriodState
	}
	orig.Name = p.Name
	orig.StartsAt = p.StartsAt
	orig.EndsAt = p.EndsAt
	orig.ReviewEndsAt = p.ReviewEndsAt
	orig.UpdatedAt = p.UpdatedAt
	return *orig, nil
}

func (repo *periodRepository) SetStatus(
	_ context.Context,
	id string,
	from, to period.Status,
	at time.Time,
	_ ...core.DBExecutor,
) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	p, ok := repo.db.periods[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	return true, nil
}

func (repo *periodRepository) PublishPeriod(_ context.Context, id string, to period.Status, at time.Time, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	p, ok := repo.db.periods[id]
	if !ok || p.Status != period.StatusDraft || !p.HasSchedule() || len(repo.db.questions[id]) == 0 {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	return true, nil
}

// checkDraft must be called with the write lock held.
func (repo *periodRepository) checkDraft(periodID string) error {
	p, ok := repo.db.periods[periodID]
	if !ok {
		return period.ErrNotFound
	}
	if p.Status != period.StatusDraft {
		return period.ErrInvalidPeriodState
	}
	return nil
}

func (repo *periodRepository) AddQuestions(
	_ context.Context,
	periodID string,
	questions []period.Question,
	_ ...core.DBExecutor,
) ([]period.Question, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.checkDraft(periodID); err != nil {
		return nil, err
	}

	stored := repo.db.questions[periodID]
	last := 0
	if n := len(stored); n > 0 {
		last = stored[n-1].Position
	}
	added := make([]period.Question, 0, len(questions))
	for i, q := range questions {
		q = copyQuestion(q)
		q.PeriodID = periodID
		q.Position = last + i + 1
		stored = append(stored, q)
		added = append(added, copyQuestion(q))
	}
	repo.db.questions[periodID] = stored
	return added, nil
}

func (repo *periodRepository) DeleteQuestions(_ context.Context, periodID string, ids []string, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.checkDraft(periodID); err != nil {
		return 0, err
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	stored := repo.db.questions[periodID]
	kept := make([]period.Question, 0, len(stored))
	for _, q := range stored {
		if !drop[q.ID] {
			kept = append(kept, q)
		}
	}
	repo.db.questions[periodID] = kept
	return len(stored) - len(kept), nil
}

func (repo *periodRepository) QueryQuestions(_ context.Context, periodID string, _ ...core.DBExecutor) ([]period.Question, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	stored := repo.db.questions[periodID]
	qs := make([]period.Question, 0, len(stored))
	for _, q := range stored {
		qs = append(qs, copyQuestion(q))
	}
	return qs, nil
}

func (repo *periodRepository) UpdateQuestion(_ context.Context, q period.Question, _ ...core.DBExecutor) (period.Question, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if err := repo.checkDraft(q.PeriodID); err != nil {
		return period.Question{}, err
	}
	stored := repo.db.questions[q.PeriodID]
	for i := range stored {
		if stored[i].ID != q.ID {
			continue
		}
		stored[i].Text = q.Text
		stored[i].Choices = append([]period.Choice(nil), q.Choices...)
		stored[i].CorrectKey = q.CorrectKey
		stored[i].Rationale = q.Rationale
		return copyQuestion(stored[i]), nil
	}
	return period.Question{}, period.ErrQuestionNotFound
}

func (repo *periodRepository) CountQuestions(_ context.Context, periodIDs []string, _ ...core.DBExecutor) (map[string]int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	counts := make(map[string]int, len(periodIDs))
	for _, id := range periodIDs {
		if n := len(repo.db.questions[id]); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (repo *periodRepository) DeletePeriod(_ context.Context, id string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.periods[id]; !ok {
		return period.ErrNotFound
	}
	for _, a := range repo.db.attempts {
		if a.PeriodID == id {
			return period.ErrPeriodInUse
		}
	}
	delete(repo.db.questions, id)
	delete(repo.db.periods, id)
	return nil
}
