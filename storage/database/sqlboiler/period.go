package boiledrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/types"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/period"
	"github.com/trezcool/jitu/storage/database"
)

const (
	periodColumns   = "id, cohort_id, cycle, name, starts_at, ends_at, review_ends_at, status, unanswered_policy, created_at, updated_at"
	questionColumns = "id, period_id, position, text, choices, correct_key, rationale, created_at"
)

var periodOrderings = map[string]string{
	"cycle":      "cycle",
	"name":       "name",
	"starts_at":  "starts_at",
	"ends_at":    "ends_at",
	"status":     "status",
	"created_at": "created_at",
}

type (
	periodRow struct {
		ID               string    `boil:"id"`
		CohortID         string    `boil:"cohort_id"`
		Cycle            string    `boil:"cycle"`
		Name             string    `boil:"name"`
		StartsAt         null.Time `boil:"starts_at"`
		EndsAt           null.Time `boil:"ends_at"`
		ReviewEndsAt     null.Time `boil:"review_ends_at"`
		Status           string    `boil:"status"`
		UnansweredPolicy string    `boil:"unanswered_policy"`
		CreatedAt        time.Time `boil:"created_at"`
		UpdatedAt        time.Time `boil:"updated_at"`
	}

	questionRow struct {
		ID         string     `boil:"id"`
		PeriodID   string     `boil:"period_id"`
		Position   int        `boil:"position"`
		Text       string     `boil:"text"`
		Choices    types.JSON `boil:"choices"`
		CorrectKey string     `boil:"correct_key"`
		Rationale  string     `boil:"rationale"`
		CreatedAt  time.Time  `boil:"created_at"`
	}
)

type periodRepository struct {
	db core.DB
}

var _ period.Repository = (*periodRepository)(nil) // interface compliance check

func NewPeriodRepository(db core.DB) *periodRepository {
	return &periodRepository{db: db}
}

func (repo periodRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.db
}

func nullTime(t *time.Time) null.Time {
	return null.TimeFromPtr(t)
}

func (repo periodRepository) unboil(row periodRow) period.Period {
	return period.Period{
		ID:               row.ID,
		CohortID:         row.CohortID,
		Cycle:            row.Cycle,
		Name:             row.Name,
		StartsAt:         utcPtr(row.StartsAt),
		EndsAt:           utcPtr(row.EndsAt),
		ReviewEndsAt:     utcPtr(row.ReviewEndsAt),
		Status:           period.Status(row.Status),
		UnansweredPolicy: period.UnansweredPolicy(row.UnansweredPolicy),
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

func (repo periodRepository) unboilQuestion(row questionRow) (period.Question, error) {
	var choices []period.Choice
	if err := row.Choices.Unmarshal(&choices); err != nil {
		return period.Question{}, errors.Wrap(err, "decoding choices")
	}
	return period.Question{
		ID:         row.ID,
		PeriodID:   row.PeriodID,
		Position:   row.Position,
		Text:       row.Text,
		Choices:    choices,
		CorrectKey: row.CorrectKey,
		Rationale:  row.Rationale,
		CreatedAt:  row.CreatedAt.UTC(),
	}, nil
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// trapNoRowsErr maps psql "no rows" err to period.ErrNotFound
func trapNoRowsErr(err error, op string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return period.ErrNotFound
	}
	return core.NewStorageError(err, op)
}

func (repo periodRepository) CreatePeriod(ctx context.Context, p period.Period, exec ...core.DBExecutor) (period.Period, error) {
	var row periodRow
	err := queries.Raw(
		"INSERT INTO periods ("+periodColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING "+periodColumns,
		p.ID, p.CohortID, p.Cycle, p.Name,
		nullTime(p.StartsAt), nullTime(p.EndsAt), nullTime(p.ReviewEndsAt),
		string(p.Status), string(p.UnansweredPolicy), p.CreatedAt, p.UpdatedAt,
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return period.Period{}, period.ErrPeriodExists
		}
		return period.Period{}, core.NewStorageError(err, "inserting period")
	}
	return repo.unboil(row), nil
}

func (repo periodRepository) GetPeriod(ctx context.Context, id string, exec ...core.DBExecutor) (period.Period, error) {
	if _, err := uuid.Parse(id); err != nil {
		return period.Period{}, period.ErrNotFound
	}
	var row periodRow
	err := queries.Raw("SELECT "+periodColumns+" FROM periods WHERE id = $1", id).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return period.Period{}, trapNoRowsErr(err, "finding period")
	}
	return repo.unboil(row), nil
}

func (repo periodRepository) QueryPeriods(
	ctx context.Context,
	filter *period.QueryFilter,
	ordering []core.DBOrdering,
	exec ...core.DBExecutor,
) ([]period.Period, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.CohortID != "" {
			where = append(where, "cohort_id = "+arg(filter.CohortID))
		}
		if filter.Cycle != "" {
			where = append(where, "cycle = "+arg(filter.Cycle))
		}
		if len(filter.Statuses) > 0 {
			in := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				in = append(in, arg(string(s)))
			}
			where = append(where, "status IN ("+strings.Join(in, ", ")+")")
		}
	}

	q := "SELECT " + periodColumns + " FROM periods"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering, periodOrderings, "created_at DESC")

	var rows []periodRow
	if err := queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, core.NewStorageError(err, "querying periods")
	}
	periods := make([]period.Period, 0, len(rows))
	for _, row := range rows {
		periods = append(periods, repo.unboil(row))
	}
	return periods, nil
}

func orderBy(ordering []core.DBOrdering, allowed map[string]string, fallback string) string {
	ordering = core.AllowedOrderings(ordering, allowed)
	if len(ordering) == 0 {
		return fallback
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return strings.Join(orderList, ", ")
}

func (repo periodRepository) UpdateSchedule(ctx context.Context, p period.Period, exec ...core.DBExecutor) (period.Period, error) {
	var row periodRow
	err := queries.Raw(
		"UPDATE periods SET name = $2, starts_at = $3, ends_at = $4, review_ends_at = $5, updated_at = $6 "+
			"WHERE id = $1 AND status IN ('draft', 'scheduled') RETURNING "+periodColumns,
		p.ID, p.Name, nullTime(p.StartsAt), nullTime(p.EndsAt), nullTime(p.ReviewEndsAt), p.UpdatedAt,
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		if errors.Cause(err) != sql.ErrNoRows {
			return period.Period{}, core.NewStorageError(err, "updating period schedule")
		}
		if _, err = repo.GetPeriod(ctx, p.ID, exec...); err != nil {
			return period.Period{}, err
		}
		return period.Period{}, period.ErrInvalidPeriodState
	}
	return repo.unboil(row), nil
}

func rowsAffected(res sql.Result, err error, op string) (bool, error) {
	if err != nil {
		return false, core.NewStorageError(err, op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, core.NewStorageError(err, op)
	}
	return n > 0, nil
}

func (repo periodRepository) SetStatus(
	ctx context.Context,
	id string,
	from, to period.Status,
	at time.Time,
	exec ...core.DBExecutor,
) (bool, error) {
	res, err := queries.Raw(
		"UPDATE periods SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2",
		id, string(from), string(to), at,
	).ExecContext(ctx, repo.getExec(exec))
	return rowsAffected(res, err, "setting period status")
}

func (repo periodRepository) PublishPeriod(ctx context.Context, id string, to period.Status, at time.Time, exec ...core.DBExecutor) (bool, error) {
	res, err := queries.Raw(
		"UPDATE periods SET status = $2, updated_at = $3 "+
			"WHERE id = $1 AND status = 'draft' AND starts_at IS NOT NULL AND ends_at IS NOT NULL "+
			"AND EXISTS (SELECT 1 FROM questions WHERE period_id = $1)",
		id, string(to), at,
	).ExecContext(ctx, repo.getExec(exec))
	return rowsAffected(res, err, "publishing period")
}

// lockDraft locks the period row for the rest of tx and checks it is still a draft.
func lockDraft(ctx context.Context, tx core.DBExecutor, periodID string) error {
	if _, err := uuid.Parse(periodID); err != nil {
		return period.ErrNotFound
	}
	var row struct {
		Status string `boil:"status"`
	}
	err := queries.Raw("SELECT status FROM periods WHERE id = $1 FOR UPDATE", periodID).Bind(ctx, tx, &row)
	if err != nil {
		return trapNoRowsErr(err, "locking period")
	}
	if period.Status(row.Status) != period.StatusDraft {
		return period.ErrInvalidPeriodState
	}
	return nil
}

func (repo periodRepository) AddQuestions(
	ctx context.Context,
	periodID string,
	questions []period.Question,
	exec ...core.DBExecutor,
) ([]period.Question, error) {
	added := make([]period.Question, 0, len(questions))
	err := core.WithTx(ctx, repo.db, exec, func(tx core.DBExecutor) error {
		if err := lockDraft(ctx, tx, periodID); err != nil {
			return err
		}

		var last struct {
			Position int `boil:"position"`
		}
		err := queries.Raw("SELECT COALESCE(MAX(position), 0) AS position FROM questions WHERE period_id = $1", periodID).
			Bind(ctx, tx, &last)
		if err != nil {
			return core.NewStorageError(err, "reading last position")
		}

		for i, q := range questions {
			choices, err := json.Marshal(q.Choices)
			if err != nil {
				return errors.Wrap(err, "encoding choices")
			}
			q.PeriodID = periodID
			q.Position = last.Position + i + 1
			_, err = queries.Raw(
				"INSERT INTO questions ("+questionColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
				q.ID, q.PeriodID, q.Position, q.Text, types.JSON(choices), q.CorrectKey, q.Rationale, q.CreatedAt,
			).ExecContext(ctx, tx)
			if err != nil {
				return core.NewStorageError(err, "inserting question")
			}
			added = append(added, q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (repo periodRepository) DeleteQuestions(ctx context.Context, periodID string, ids []string, exec ...core.DBExecutor) (int, error) {
	args := []interface{}{periodID}
	in := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		args = append(args, id)
		in = append(in, fmt.Sprintf("$%d", len(args)))
	}

	var cnt int
	err := core.WithTx(ctx, repo.db, exec, func(tx core.DBExecutor) error {
		if err := lockDraft(ctx, tx, periodID); err != nil {
			return err
		}
		if len(in) == 0 {
			return nil
		}
		res, err := queries.Raw(
			"DELETE FROM questions WHERE period_id = $1 AND id IN ("+strings.Join(in, ", ")+")", args...,
		).ExecContext(ctx, tx)
		if err != nil {
			return core.NewStorageError(err, "deleting questions")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return core.NewStorageError(err, "deleting questions")
		}
		cnt = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cnt, nil
}

func (repo periodRepository) QueryQuestions(ctx context.Context, periodID string, exec ...core.DBExecutor) ([]period.Question, error) {
	if _, err := uuid.Parse(periodID); err != nil {
		return []period.Question{}, nil
	}
	var rows []questionRow
	err := queries.Raw("SELECT "+questionColumns+" FROM questions WHERE period_id = $1 ORDER BY position", periodID).
		Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, core.NewStorageError(err, "querying questions")
	}

	qs := make([]period.Question, 0, len(rows))
	for _, row := range rows {
		q, err := repo.unboilQuestion(row)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

func (repo periodRepository) UpdateQuestion(ctx context.Context, q period.Question, exec ...core.DBExecutor) (period.Question, error) {
	var updated period.Question
	err := core.WithTx(ctx, repo.db, exec, func(tx core.DBExecutor) error {
		if err := lockDraft(ctx, tx, q.PeriodID); err != nil {
			return err
		}
		if _, err := uuid.Parse(q.ID); err != nil {
			return period.ErrQuestionNotFound
		}

		choices, err := json.Marshal(q.Choices)
		if err != nil {
			return errors.Wrap(err, "encoding choices")
		}
		var row questionRow
		err = queries.Raw(
			"UPDATE questions SET text = $3, choices = $4, correct_key = $5, rationale = $6 "+
				"WHERE id = $1 AND period_id = $2 RETURNING "+questionColumns,
			q.ID, q.PeriodID, q.Text, types.JSON(choices), q.CorrectKey, q.Rationale,
		).Bind(ctx, tx, &row)
		if err != nil {
			if errors.Cause(err) == sql.ErrNoRows {
				return period.ErrQuestionNotFound
			}
			return core.NewStorageError(err, "updating question")
		}
		updated, err = repo.unboilQuestion(row)
		return err
	})
	if err != nil {
		return period.Question{}, err
	}
	return updated, nil
}

type questionCountRow struct {
	PeriodID string `boil:"period_id"`
	Count    int    `boil:"count"`
}

func (repo periodRepository) CountQuestions(ctx context.Context, periodIDs []string, exec ...core.DBExecutor) (map[string]int, error) {
	ids := make(types.StringArray, 0, len(periodIDs))
	for _, id := range periodIDs {
		if _, err := uuid.Parse(id); err == nil {
			ids = append(ids, id)
		}
	}
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	var rows []questionCountRow
	err := queries.Raw(
		"SELECT period_id, COUNT(*) AS count FROM questions WHERE period_id = ANY($1::uuid[]) GROUP BY period_id", ids,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, core.NewStorageError(err, "counting questions")
	}
	for _, row := range rows {
		counts[row.PeriodID] = row.Count
	}
	return counts, nil
}

// DeletePeriod locks the period row, which blocks attempt inserts referencing it until the tx ends.
func (repo periodRepository) DeletePeriod(ctx context.Context, id string, exec ...core.DBExecutor) error {
	if _, err := uuid.Parse(id); err != nil {
		return period.ErrNotFound
	}
	return core.WithTx(ctx, repo.db, exec, func(tx core.DBExecutor) error {
		var locked struct {
			ID string `boil:"id"`
		}
		if err := queries.Raw("SELECT id FROM periods WHERE id = $1 FOR UPDATE", id).Bind(ctx, tx, &locked); err != nil {
			return trapNoRowsErr(err, "locking period")
		}

		var usage struct {
			InUse bool `boil:"in_use"`
		}
		err := queries.Raw("SELECT EXISTS (SELECT 1 FROM attempts WHERE period_id = $1) AS in_use", id).Bind(ctx, tx, &usage)
		if err != nil {
			return core.NewStorageError(err, "checking period attempts")
		}
		if usage.InUse {
			return period.ErrPeriodInUse
		}

		// questions go with the period: ON DELETE CASCADE
		if _, err = queries.Raw("DELETE FROM periods WHERE id = $1", id).ExecContext(ctx, tx); err != nil {
			return core.NewStorageError(err, "deleting period")
		}
		return nil
	})
}
