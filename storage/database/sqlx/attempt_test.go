package sqlxrepos_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/tests"
)

const workers = 8

func TestAttemptRepository_concurrentWrites(t *testing.T) {
	svcs, _ := testutil.NewPostgresServices(t, testutil.NewConfig())
	repo := svcs.AttemptRepo
	ctx := context.Background()

	p, qs := testutil.CreateActivePeriod(t, svcs.Periods, "ops", "2026_Q3", 2)
	order := []attempt.OrderedQuestion{
		{QuestionID: qs[1].ID, ChoiceKeys: []string{"B", "A", "D", "C"}},
		{QuestionID: qs[0].ID, ChoiceKeys: []string{"A", "B", "C", "D"}},
	}

	var stored attempt.Attempt
	t.Run("find or create", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			ids     = make(map[string]bool)
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, ok, err := repo.FindOrCreateAttempt(ctx, attempt.Attempt{
					ID:        uuid.NewString(),
					LearnerID: "lrn1",
					PeriodID:  p.ID,
					Order:     order,
					StartedAt: time.Now().UTC(),
				})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				ids[a.ID] = true
				if ok {
					created++
					stored = a
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)
		assert.Equal(t, order, stored.Order)
		assert.Equal(t, attempt.StateOpen, stored.State)
	})
	require.NotEmpty(t, stored.ID)

	key := "A"
	err := repo.UpsertAnswers(ctx, stored.ID, []attempt.Answer{
		{AttemptID: stored.ID, QuestionID: qs[0].ID, ChoiceKey: &key, UpdatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)

	t.Run("submit", func(t *testing.T) {
		grade := func(answers []attempt.Answer) (attempt.Result, error) {
			return attempt.Grade(stored.ID, qs, answers, p.UnansweredPolicy, time.Now().UTC()), nil
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			submitted int
			results   []attempt.Result
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, already, err := repo.SubmitAttempt(ctx, stored.ID, time.Now().UTC(), grade)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if !already {
					submitted++
				}
				results = append(results, res)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, submitted)
		require.Len(t, results, workers)
		for _, res := range results {
			assert.Equal(t, 2, res.Total)
			assert.Equal(t, 1, res.Correct)
			assert.Equal(t, 1, res.Unanswered)
		}
	})

	t.Run("answers are closed once submitted", func(t *testing.T) {
		key := "B"
		err := repo.UpsertAnswers(ctx, stored.ID, []attempt.Answer{
			{AttemptID: stored.ID, QuestionID: qs[1].ID, ChoiceKey: &key, UpdatedAt: time.Now().UTC()},
		})
		assert.True(t, errors.Is(err, attempt.ErrAttemptClosed), "error = %v, want %v", err, attempt.ErrAttemptClosed)

		answers, err := repo.QueryAnswers(ctx, stored.ID)
		require.NoError(t, err)
		require.Len(t, answers, 1)
		assert.Equal(t, qs[0].ID, answers[0].QuestionID)

		a, err := repo.GetAttempt(ctx, stored.ID)
		require.NoError(t, err)
		assert.True(t, a.IsSubmitted())
	})

	t.Run("unknown attempt", func(t *testing.T) {
		_, err := repo.GetAttempt(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, attempt.ErrNotFound), "error = %v, want %v", err, attempt.ErrNotFound)
		_, err = repo.GetAttempt(ctx, "lol")
		assert.True(t, errors.Is(err, attempt.ErrNotFound), "error = %v, want %v", err, attempt.ErrNotFound)
	})
}

func TestSessionRepository_AcquireLearnerSession(t *testing.T) {
	svcs, _ := testutil.NewPostgresServices(t, testutil.NewConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := svcs.Sessions.AcquireLearnerSession(ctx, "lrn1", "tab1", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svcs.Sessions.AcquireLearnerSession(ctx, "lrn1", "tab2", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "a live session of another tab must block")

	ok, err = svcs.Sessions.AcquireLearnerSession(ctx, "lrn1", "tab2", now.Add(2*time.Hour), now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok, "an expired session is taken over")

	require.NoError(t, svcs.Sessions.ReleaseLearnerSession(ctx, "lrn1", "tab2"))
	ok, err = svcs.Sessions.AcquireLearnerSession(ctx, "lrn1", "tab1", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}
