package inmemdb

import (
	"context"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/progress"
)

type progressRepository struct {
	db *DB
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db *DB) *progressRepository {
	return &progressRepository{db: db}
}

func (repo *progressRepository) SaveCompletion(_ context.Context, c progress.Completion, _ ...core.DBExecutor) (progress.Completion, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	k := completionKey{learnerID: c.LearnerID, cohortID: c.CohortID}
	if stored, ok := repo.db.completions[k]; ok {
		return stored, nil
	}
	repo.db.completions[k] = c
	return c, nil
}

func (repo *progressRepository) GetCompletion(_ context.Context, learnerID, cohortID string, _ ...core.DBExecutor) (progress.Completion, bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	c, ok := repo.db.completions[completionKey{learnerID: learnerID, cohortID: cohortID}]
	return c, ok, nil
}
