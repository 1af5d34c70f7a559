package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
)

type sessionRepository struct {
	db *sqlx.DB
}

var _ attempt.SessionLocker = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sql.DB) *sessionRepository {
	return &sessionRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo sessionRepository) AcquireLearnerSession(
	ctx context.Context,
	learnerID, key string,
	at, expiresAt time.Time,
	exec ...core.DBExecutor,
) (bool, error) {
	// the conflicting row is only replaced when it has the same key or has expired
	var holder string
	err := sqlx.GetContext(ctx, getExec(repo.db, exec), &holder, `
		INSERT INTO learner_sessions (learner_id, session_key, acquired_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (learner_id) DO UPDATE
			SET session_key = EXCLUDED.session_key, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
			WHERE learner_sessions.session_key = EXCLUDED.session_key OR learner_sessions.expires_at <= EXCLUDED.acquired_at
		RETURNING learner_id`,
		learnerID, key, at, expiresAt,
	)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, core.NewStorageError(err, "acquiring learner session")
	}
	return true, nil
}

func (repo sessionRepository) ReleaseLearnerSession(ctx context.Context, learnerID, key string, exec ...core.DBExecutor) error {
	_, err := getExec(repo.db, exec).ExecContext(ctx,
		"DELETE FROM learner_sessions WHERE learner_id = $1 AND ($2 = '' OR session_key = $2)",
		learnerID, key,
	)
	return core.NewStorageError(err, "releasing learner session")
}
