package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
)

type sessionRepository struct {
	db *DB
}

var _ attempt.SessionLocker = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) AcquireLearnerSession(
	_ context.Context,
	learnerID, key string,
	at, expiresAt time.Time,
	_ ...core.DBExecutor,
) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if held, ok := repo.db.sessions[learnerID]; ok && held.key != key && held.expiresAt > at.UnixNano() {
		return false, nil
	}
	repo.db.sessions[learnerID] = learnerSession{key: key, expiresAt: expiresAt.UnixNano()}
	return true, nil
}

func (repo *sessionRepository) ReleaseLearnerSession(_ context.Context, learnerID, key string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if held, ok := repo.db.sessions[learnerID]; ok && (key == "" || held.key == key) {
		delete(repo.db.sessions, learnerID)
	}
	return nil
}
