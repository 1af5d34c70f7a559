package attempt

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Ledger is the AnswerLedger: a durable (attempt, question) -> choice map with last-write-wins upserts.
// Every transport writes answers through it.
type Ledger struct {
	repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Write upserts `entries` ({questionID: choiceKey}, nil clears) in a single transaction.
func (l *Ledger) Write(ctx context.Context, attemptID string, entries map[string]*string, at time.Time) ([]Answer, error) {
	answers := make([]Answer, 0, len(entries))
	for qID, key := range entries {
		answers = append(answers, Answer{
			AttemptID:  attemptID,
			QuestionID: qID,
			ChoiceKey:  key,
			UpdatedAt:  at,
		})
	}
	// stable lock order for concurrent batches
	sort.Slice(answers, func(i, j int) bool { return answers[i].QuestionID < answers[j].QuestionID })

	if err := l.repo.UpsertAnswers(ctx, attemptID, answers); err != nil {
		return nil, errors.Wrap(err, "upserting answers")
	}
	return answers, nil
}

// Read returns the recorded answers as {questionID: choiceKey}.
func (l *Ledger) Read(ctx context.Context, attemptID string) (map[string]*string, error) {
	answers, err := l.repo.QueryAnswers(ctx, attemptID)
	if err != nil {
		return nil, errors.Wrap(err, "querying answers")
	}
	out := make(map[string]*string, len(answers))
	for _, ans := range answers {
		out[ans.QuestionID] = ans.ChoiceKey
	}
	return out, nil
}
