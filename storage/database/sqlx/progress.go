package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/progress"
)

type completionRow struct {
	LearnerID   string    `db:"learner_id"`
	CohortID    string    `db:"cohort_id"`
	CompletedAt time.Time `db:"completed_at"`
}

func (row completionRow) unpack() progress.Completion {
	return progress.Completion{
		LearnerID:   row.LearnerID,
		CohortID:    row.CohortID,
		CompletedAt: row.CompletedAt.UTC(),
	}
}

type progressRepository struct {
	db *sqlx.DB
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db *sql.DB) *progressRepository {
	return &progressRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo progressRepository) SaveCompletion(ctx context.Context, c progress.Completion, exec ...core.DBExecutor) (progress.Completion, error) {
	exe := getExec(repo.db, exec)
	_, err := exe.ExecContext(ctx,
		"INSERT INTO material_progress (learner_id, cohort_id, completed_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (learner_id, cohort_id) DO NOTHING",
		c.LearnerID, c.CohortID, c.CompletedAt,
	)
	if err != nil {
		return progress.Completion{}, core.NewStorageError(err, "saving completion")
	}

	stored, _, err := repo.GetCompletion(ctx, c.LearnerID, c.CohortID, exec...)
	return stored, err
}

func (repo progressRepository) GetCompletion(ctx context.Context, learnerID, cohortID string, exec ...core.DBExecutor) (progress.Completion, bool, error) {
	var row completionRow
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &row,
		"SELECT learner_id, cohort_id, completed_at FROM material_progress WHERE learner_id = $1 AND cohort_id = $2",
		learnerID, cohortID,
	)
	if err == sql.ErrNoRows {
		return progress.Completion{}, false, nil
	}
	if err != nil {
		return progress.Completion{}, false, core.NewStorageError(err, "getting completion")
	}
	return row.unpack(), true, nil
}
