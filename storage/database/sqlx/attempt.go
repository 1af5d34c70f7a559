package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/period"
)

const (
	attemptColumns = "id, learner_id, period_id, state, question_order, current_index, started_at, submitted_at"
	answerColumns  = "attempt_id, question_id, choice_key, updated_at"
	resultColumns  = "attempt_id, total, correct, incorrect, unanswered, score, unanswered_policy, created_at"
)

type (
	attemptRow struct {
		ID           string       `db:"id"`
		LearnerID    string       `db:"learner_id"`
		PeriodID     string       `db:"period_id"`
		State        string       `db:"state"`
		Order        []byte       `db:"question_order"`
		CurrentIndex int          `db:"current_index"`
		StartedAt    time.Time    `db:"started_at"`
		SubmittedAt  sql.NullTime `db:"submitted_at"`
	}

	answerRow struct {
		AttemptID  string         `db:"attempt_id"`
		QuestionID string         `db:"question_id"`
		ChoiceKey  sql.NullString `db:"choice_key"`
		UpdatedAt  time.Time      `db:"updated_at"`
	}

	resultRow struct {
		AttemptID  string    `db:"attempt_id"`
		Total      int       `db:"total"`
		Correct    int       `db:"correct"`
		Incorrect  int       `db:"incorrect"`
		Unanswered int       `db:"unanswered"`
		Score      float64   `db:"score"`
		Policy     string    `db:"unanswered_policy"`
		CreatedAt  time.Time `db:"created_at"`
	}
)

func (row attemptRow) unpack() (attempt.Attempt, error) {
	var order []attempt.OrderedQuestion
	if err := json.Unmarshal(row.Order, &order); err != nil {
		return attempt.Attempt{}, errors.Wrap(err, "decoding question order")
	}
	a := attempt.Attempt{
		ID:           row.ID,
		LearnerID:    row.LearnerID,
		PeriodID:     row.PeriodID,
		State:        attempt.State(row.State),
		Order:        order,
		CurrentIndex: row.CurrentIndex,
		StartedAt:    row.StartedAt.UTC(),
	}
	if row.SubmittedAt.Valid {
		t := row.SubmittedAt.Time.UTC()
		a.SubmittedAt = &t
	}
	return a, nil
}

func (row answerRow) unpack() attempt.Answer {
	ans := attempt.Answer{
		AttemptID:  row.AttemptID,
		QuestionID: row.QuestionID,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.ChoiceKey.Valid {
		key := row.ChoiceKey.String
		ans.ChoiceKey = &key
	}
	return ans
}

func packAnswer(ans attempt.Answer) answerRow {
	row := answerRow{
		AttemptID:  ans.AttemptID,
		QuestionID: ans.QuestionID,
		UpdatedAt:  ans.UpdatedAt,
	}
	if ans.ChoiceKey != nil {
		row.ChoiceKey = sql.NullString{String: *ans.ChoiceKey, Valid: true}
	}
	return row
}

func (row resultRow) unpack() attempt.Result {
	return attempt.Result{
		AttemptID:  row.AttemptID,
		Total:      row.Total,
		Correct:    row.Correct,
		Incorrect:  row.Incorrect,
		Unanswered: row.Unanswered,
		Score:      row.Score,
		Policy:     period.UnansweredPolicy(row.Policy),
		CreatedAt:  row.CreatedAt.UTC(),
	}
}

type attemptRepository struct {
	db *sqlx.DB
}

var _ attempt.Repository = (*attemptRepository)(nil) // interface compliance check

func NewAttemptRepository(db *sql.DB) *attemptRepository {
	return &attemptRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo attemptRepository) getExec(svcExec []core.DBExecutor) sqlx.ExtContext {
	return getExec(repo.db, svcExec)
}

// getExec accepts sqlx executors as-is and wraps plain *sql.Tx; only positional queries run on the result.
func getExec(db *sqlx.DB, svcExec []core.DBExecutor) sqlx.ExtContext {
	if len(svcExec) > 0 {
		switch exe := svcExec[0].(type) {
		case sqlx.ExtContext:
			return exe
		case *sql.Tx:
			return &sqlx.Tx{Tx: exe, Mapper: db.Mapper}
		}
	}
	return db
}

// inTx runs fn in a new sqlx transaction.
func inTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return core.NewStorageError(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return core.NewStorageError(err, "committing transaction")
	}
	return nil
}

func trapNoRowsErr(err error, notFound error, op string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return core.NewStorageError(err, op)
}

func (repo attemptRepository) FindOrCreateAttempt(ctx context.Context, a attempt.Attempt, exec ...core.DBExecutor) (attempt.Attempt, bool, error) {
	order, err := json.Marshal(a.Order)
	if err != nil {
		return attempt.Attempt{}, false, errors.Wrap(err, "encoding question order")
	}
	exe := repo.getExec(exec)

	// the (learner_id, period_id) unique constraint serializes concurrent starts:
	// the loser waits for the winner to commit, inserts nothing, then reads the winner's row.
	var row attemptRow
	err = sqlx.GetContext(ctx, exe, &row,
		"INSERT INTO attempts ("+attemptColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, NULL) "+
			"ON CONFLICT (learner_id, period_id) DO NOTHING RETURNING "+attemptColumns,
		a.ID, a.LearnerID, a.PeriodID, string(attempt.StateOpen), order, a.CurrentIndex, a.StartedAt,
	)
	created := true
	if err == sql.ErrNoRows {
		created = false
		err = sqlx.GetContext(ctx, exe, &row,
			"SELECT "+attemptColumns+" FROM attempts WHERE learner_id = $1 AND period_id = $2",
			a.LearnerID, a.PeriodID,
		)
	}
	if err != nil {
		return attempt.Attempt{}, false, core.NewStorageError(err, "finding or creating attempt")
	}

	stored, err := row.unpack()
	if err != nil {
		return attempt.Attempt{}, false, err
	}
	return stored, created, nil
}

func (repo attemptRepository) GetAttempt(ctx context.Context, id string, exec ...core.DBExecutor) (attempt.Attempt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return attempt.Attempt{}, attempt.ErrNotFound
	}
	var row attemptRow
	err := sqlx.GetContext(ctx, repo.getExec(exec), &row, "SELECT "+attemptColumns+" FROM attempts WHERE id = $1", id)
	if err != nil {
		return attempt.Attempt{}, trapNoRowsErr(err, attempt.ErrNotFound, "finding attempt")
	}
	return row.unpack()
}

func (repo attemptRepository) QueryAttempts(ctx context.Context, filter *attempt.QueryFilter, exec ...core.DBExecutor) ([]attempt.Attempt, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter != nil {
		if filter.LearnerID != "" {
			where = append(where, "learner_id = "+arg(filter.LearnerID))
		}
		if filter.PeriodID != "" {
			if _, err := uuid.Parse(filter.PeriodID); err != nil {
				return []attempt.Attempt{}, nil
			}
			where = append(where, "period_id = "+arg(filter.PeriodID))
		}
		if filter.State != "" {
			where = append(where, "state = "+arg(string(filter.State)))
		}
	}

	q := "SELECT " + attemptColumns + " FROM attempts"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC"

	var rows []attemptRow
	if err := sqlx.SelectContext(ctx, repo.getExec(exec), &rows, q, args...); err != nil {
		return nil, core.NewStorageError(err, "querying attempts")
	}
	attempts := make([]attempt.Attempt, 0, len(rows))
	for _, row := range rows {
		a, err := row.unpack()
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func (repo attemptRepository) UpdateProgress(ctx context.Context, id string, index int, exec ...core.DBExecutor) (bool, error) {
	res, err := repo.getExec(exec).ExecContext(ctx,
		"UPDATE attempts SET current_index = $2 WHERE id = $1 AND state = 'open'", id, index)
	if err != nil {
		return false, core.NewStorageError(err, "updating progress")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.NewStorageError(err, "updating progress")
	}
	return n > 0, nil
}

func queryAnswers(ctx context.Context, exe sqlx.QueryerContext, attemptID string) ([]attempt.Answer, error) {
	var rows []answerRow
	err := sqlx.SelectContext(ctx, exe, &rows,
		"SELECT "+answerColumns+" FROM answers WHERE attempt_id = $1 ORDER BY question_id", attemptID)
	if err != nil {
		return nil, core.NewStorageError(err, "querying answers")
	}
	answers := make([]attempt.Answer, 0, len(rows))
	for _, row := range rows {
		answers = append(answers, row.unpack())
	}
	return answers, nil
}

func (repo attemptRepository) QueryAnswers(ctx context.Context, attemptID string, exec ...core.DBExecutor) ([]attempt.Answer, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return []attempt.Answer{}, nil
	}
	return queryAnswers(ctx, repo.getExec(exec), attemptID)
}

// lockAttemptState reads the attempt state, holding `lock` (FOR SHARE / FOR UPDATE) until tx ends.
func lockAttemptState(ctx context.Context, tx *sqlx.Tx, id, lock string) (attempt.State, error) {
	var state string
	err := tx.GetContext(ctx, &state, "SELECT state FROM attempts WHERE id = $1 "+lock, id)
	if err != nil {
		return "", trapNoRowsErr(err, attempt.ErrNotFound, "locking attempt")
	}
	return attempt.State(state), nil
}

func (repo attemptRepository) UpsertAnswers(ctx context.Context, attemptID string, answers []attempt.Answer, _ ...core.DBExecutor) error {
	if _, err := uuid.Parse(attemptID); err != nil {
		return attempt.ErrNotFound
	}
	// FOR SHARE: concurrent upserts proceed together but wait for (and then observe) a pending submit
	return inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		state, err := lockAttemptState(ctx, tx, attemptID, "FOR SHARE")
		if err != nil {
			return err
		}
		if state == attempt.StateSubmitted {
			return attempt.ErrAttemptClosed
		}

		for _, ans := range answers {
			_, err := tx.NamedExecContext(ctx,
				"INSERT INTO answers ("+answerColumns+") VALUES (:attempt_id, :question_id, :choice_key, :updated_at) "+
					"ON CONFLICT (attempt_id, question_id) DO UPDATE SET choice_key = EXCLUDED.choice_key, updated_at = EXCLUDED.updated_at",
				packAnswer(ans),
			)
			if err != nil {
				return core.NewStorageError(err, "upserting answer")
			}
		}
		return nil
	})
}

func getResult(ctx context.Context, exe sqlx.QueryerContext, attemptID string) (attempt.Result, error) {
	var row resultRow
	err := sqlx.GetContext(ctx, exe, &row, "SELECT "+resultColumns+" FROM results WHERE attempt_id = $1", attemptID)
	if err != nil {
		return attempt.Result{}, trapNoRowsErr(err, attempt.ErrNotSubmitted, "finding result")
	}
	return row.unpack(), nil
}

func (repo attemptRepository) SubmitAttempt(
	ctx context.Context,
	id string,
	at time.Time,
	grade attempt.GradeFunc,
	_ ...core.DBExecutor,
) (attempt.Result, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return attempt.Result{}, false, attempt.ErrNotFound
	}

	var (
		res     attempt.Result
		already bool
	)
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		state, err := lockAttemptState(ctx, tx, id, "FOR UPDATE")
		if err != nil {
			return err
		}
		if state == attempt.StateSubmitted {
			already = true
			res, err = getResult(ctx, tx, id)
			return err
		}

		answers, err := queryAnswers(ctx, tx, id)
		if err != nil {
			return err
		}
		if res, err = grade(answers); err != nil {
			return errors.Wrap(err, "grading attempt")
		}

		_, err = tx.NamedExecContext(ctx,
			"INSERT INTO results ("+resultColumns+") VALUES "+
				"(:attempt_id, :total, :correct, :incorrect, :unanswered, :score, :unanswered_policy, :created_at)",
			resultRow{
				AttemptID:  id,
				Total:      res.Total,
				Correct:    res.Correct,
				Incorrect:  res.Incorrect,
				Unanswered: res.Unanswered,
				Score:      res.Score,
				Policy:     string(res.Policy),
				CreatedAt:  at,
			},
		)
		if err != nil {
			return core.NewStorageError(err, "inserting result")
		}
		_, err = tx.ExecContext(ctx, "UPDATE attempts SET state = 'submitted', submitted_at = $2 WHERE id = $1", id, at)
		if err != nil {
			return core.NewStorageError(err, "submitting attempt")
		}
		return nil
	})
	if err != nil {
		return attempt.Result{}, false, err
	}
	return res, already, nil
}

func (repo attemptRepository) GetResult(ctx context.Context, attemptID string, exec ...core.DBExecutor) (attempt.Result, error) {
	if _, err := uuid.Parse(attemptID); err != nil {
		return attempt.Result{}, attempt.ErrNotFound
	}
	return getResult(ctx, repo.getExec(exec), attemptID)
}

func (repo attemptRepository) QueryResults(ctx context.Context, attemptIDs []string, exec ...core.DBExecutor) ([]attempt.Result, error) {
	ids := make([]string, 0, len(attemptIDs))
	for _, id := range attemptIDs {
		if _, err := uuid.Parse(id); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []attempt.Result{}, nil
	}

	q, args, err := sqlx.In("SELECT "+resultColumns+" FROM results WHERE attempt_id IN (?)", ids)
	if err != nil {
		return nil, errors.Wrap(err, "expanding attempt ids")
	}
	var rows []resultRow
	if err = sqlx.SelectContext(ctx, repo.getExec(exec), &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, core.NewStorageError(err, "querying results")
	}
	results := make([]attempt.Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.unpack())
	}
	return results, nil
}
