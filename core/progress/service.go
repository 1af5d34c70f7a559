package progress

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
)

var nowFunc = time.Now // mockable

// Completion records that a learner finished the materials of a cohort.
type Completion struct {
	LearnerID   string    `json:"learner_id"`
	CohortID    string    `json:"cohort_id"`
	CompletedAt time.Time `json:"completed_at"` // UTC
}

type (
	Repository interface {
		// SaveCompletion is a no-op when the learner already completed the cohort's materials.
		SaveCompletion(ctx context.Context, c Completion, exec ...core.DBExecutor) (Completion, error)
		// GetCompletion returns found = false when the learner has not completed the materials.
		GetCompletion(ctx context.Context, learnerID, cohortID string, exec ...core.DBExecutor) (c Completion, found bool, err error)
	}

	// Service tracks the materials prerequisite of the assessment.
	Service interface {
		Complete(ctx context.Context, learnerID, cohortID string) (Completion, error)
		MaterialsCompleted(ctx context.Context, learnerID, cohortID string) (bool, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Complete(ctx context.Context, learnerID, cohortID string) (Completion, error) {
	c, err := svc.repo.SaveCompletion(ctx, Completion{
		LearnerID:   learnerID,
		CohortID:    cohortID,
		CompletedAt: nowFunc().UTC(),
	})
	if err != nil {
		return Completion{}, errors.Wrap(err, "saving completion")
	}
	return c, nil
}

func (svc *service) MaterialsCompleted(ctx context.Context, learnerID, cohortID string) (bool, error) {
	_, found, err := svc.repo.GetCompletion(ctx, learnerID, cohortID)
	if err != nil {
		return false, errors.Wrap(err, "getting completion")
	}
	return found, nil
}
