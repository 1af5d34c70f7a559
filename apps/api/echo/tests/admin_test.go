package tests

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/jitu/apps/api/echo"
	"github.com/trezcool/jitu/core/period"
	"github.com/trezcool/jitu/tests"
)

func newUploadRequest(t *testing.T, path, token, filename string, content []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req, httptest.NewRecorder()
}

func createDraft(t *testing.T, app *Server, token string, np period.NewPeriod) period.Period {
	req, rec := newAuthRequest(http.MethodPost, "/v1/admin/periods", token, marchallObj(t, np))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p period.Period
	unmarchallObj(t, rec.Body.Bytes(), &p)
	return p
}

func TestAdminAPI_permissions(t *testing.T) {
	app, svcs := setup(t)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})
	lrnToken := getToken(t, svcs, testutil.NewLearner("lrn1", "ops"))

	run(t, app, []httpTest{
		{
			name:     "missing token",
			path:     "/v1/admin/periods",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "learner: list",
			path:     "/v1/admin/periods",
			token:    lrnToken,
			wantCode: http.StatusForbidden,
			wantData: forbidden,
		},
		{
			name:     "learner: create",
			method:   http.MethodPost,
			path:     "/v1/admin/periods",
			body:     marchallObj(t, period.NewPeriod{CohortID: "ops", Cycle: "2026_Q4", Name: "Q4"}),
			token:    lrnToken,
			wantCode: http.StatusForbidden,
			wantData: forbidden,
		},
		{
			name:     "admin: empty list",
			path:     "/v1/admin/periods",
			token:    getToken(t, svcs, testutil.NewAdmin("adm1")),
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		},
	})
}

func TestAdminAPI_lifecycle(t *testing.T) {
	app, svcs := setup(t)
	token := getToken(t, svcs, testutil.NewAdmin("adm1"))

	p := createDraft(t, app, token, period.NewPeriod{CohortID: "ops", Cycle: "2026_Q4", Name: "Q4"})
	assert.Equal(t, period.StatusDraft, p.Status)
	assert.Equal(t, period.CountSeparately, p.UnansweredPolicy)
	pPath := "/v1/admin/periods/" + p.ID

	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	end := start.Add(2 * time.Hour)
	invalidState := marchallObj(t, ErrorResponse{Error: period.ErrInvalidPeriodState.Error(), Code: "invalid_period_state"})

	run(t, app, []httpTest{
		{
			name:     "create: duplicate cycle",
			method:   http.MethodPost,
			path:     "/v1/admin/periods",
			body:     marchallObj(t, period.NewPeriod{CohortID: "ops", Cycle: "2026_Q4", Name: "Again"}),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"cycle": period.ErrPeriodExists.Error()}),
		},
		{
			name:     "create: invalid",
			method:   http.MethodPost,
			path:     "/v1/admin/periods",
			body:     []byte(`{"cohort_id":"ops"}`),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "publish: incomplete schedule",
			method:   http.MethodPost,
			path:     pPath + "/publish",
			token:    token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, ErrorResponse{Error: period.ErrIncompleteSchedule.Error(), Code: "incomplete_schedule"}),
		},
		{
			name:     "add questions: empty",
			method:   http.MethodPost,
			path:     pPath + "/questions",
			body:     []byte(`{"questions":[]}`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"questions": "questions is a required field"}),
		},
		{
			name:     "add questions",
			method:   http.MethodPost,
			path:     pPath + "/questions",
			body:     marchallObj(t, AddQuestionsRequest{Questions: testutil.NewQuestions(3)}),
			token:    token,
			wantCode: http.StatusCreated,
		},
		{
			name:     "schedule",
			method:   http.MethodPut,
			path:     pPath + "/schedule",
			body:     marchallObj(t, period.UpdateSchedule{Name: "Q4 assessment", StartsAt: &start, EndsAt: &end}),
			token:    token,
			wantCode: http.StatusOK,
		},
		{
			name:     "schedule: ends before start",
			method:   http.MethodPut,
			path:     pPath + "/schedule",
			body:     marchallObj(t, period.UpdateSchedule{Name: "Q4 assessment", StartsAt: &end, EndsAt: &start}),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "finish: draft",
			method:   http.MethodPost,
			path:     pPath + "/finish",
			token:    token,
			wantCode: http.StatusConflict,
			wantData: invalidState,
		},
	})

	t.Run("questions", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, pPath+"/questions", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var qs []period.Question
		unmarchallObj(t, rec.Body.Bytes(), &qs)
		require.Len(t, qs, 3)
		assert.Equal(t, "A", qs[0].CorrectKey)

		req, rec = newAuthRequest(http.MethodDelete, pPath+"/questions?id="+qs[2].ID, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		remaining, err := svcs.Periods.Questions(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("publish", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, pPath+"/publish", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var published period.Period
		unmarchallObj(t, rec.Body.Bytes(), &published)
		assert.Equal(t, period.StatusScheduled, published.Status)
		assert.Equal(t, "Q4 assessment", published.Name)

		run(t, app, []httpTest{
			{
				name:     "publish again",
				method:   http.MethodPost,
				path:     pPath + "/publish",
				token:    token,
				wantCode: http.StatusConflict,
				wantData: invalidState,
			},
			{
				name:     "questions are frozen",
				method:   http.MethodPost,
				path:     pPath + "/questions",
				body:     marchallObj(t, AddQuestionsRequest{Questions: testutil.NewQuestions(1)}),
				token:    token,
				wantCode: http.StatusConflict,
				wantData: invalidState,
			},
			{
				name:     "refresh statuses",
				method:   http.MethodPost,
				path:     "/v1/admin/periods/refresh",
				token:    token,
				wantCode: http.StatusOK,
				wantData: marchallObj(t, CountResponse{Count: 0}),
			},
			{
				name:     "unknown period",
				path:     "/v1/admin/periods/unknown",
				token:    token,
				wantCode: http.StatusNotFound,
				wantData: marchallObj(t, ErrorResponse{Error: period.ErrNotFound.Error(), Code: "period_not_found"}),
			},
		})
	})

	t.Run("finish", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, pPath+"/finish", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var finished period.Period
		unmarchallObj(t, rec.Body.Bytes(), &finished)
		assert.Equal(t, period.StatusFinished, finished.Status)
	})

	t.Run("query", func(t *testing.T) {
		createDraft(t, app, token, period.NewPeriod{CohortID: "sales", Cycle: "2026_Q4", Name: "Sales Q4"})

		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/periods?cohort=sales", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var periods []period.Period
		unmarchallObj(t, rec.Body.Bytes(), &periods)
		require.Len(t, periods, 1)
		assert.Equal(t, "sales", periods[0].CohortID)
	})
}

func TestAdminAPI_importQuestions(t *testing.T) {
	app, svcs := setup(t)
	token := getToken(t, svcs, testutil.NewAdmin("adm1"))

	src, _ := testutil.CreatePeriod(t, svcs.Periods, "ops", "2026_Q3", nil, nil, nil, 2)
	p := createDraft(t, app, token, period.NewPeriod{CohortID: "ops", Cycle: "2026_Q4", Name: "Q4"})
	pPath := "/v1/admin/periods/" + p.ID

	t.Run("template", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/periods/template/csv", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "questions_template.csv")
		assert.True(t, strings.HasPrefix(rec.Body.String(), strings.Join(period.CSVHeader, ",")))
	})

	t.Run("csv", func(t *testing.T) {
		content := strings.Join([]string{
			strings.Join(period.CSVHeader, ","),
			"Question 1,Right,Wrong,Other,Last,A,A is right",
			",missing,question,text,here,A,",
			"Which port does HTTPS use?,80,443,22,21,B,",
			"which port does HTTPS use?,443,80,22,21,A,",
		}, "\n")

		req, rec := newUploadRequest(t, pPath+"/questions/csv", token, "questions.csv", []byte(content))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp ImportResponse
		unmarchallObj(t, rec.Body.Bytes(), &resp)
		assert.Equal(t, 3, resp.Imported)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, 3, resp.Errors[0].Line)
		require.Len(t, resp.Duplicates, 1)
		assert.Equal(t, 5, resp.Duplicates[0].Line)
		assert.Equal(t, "Which port does HTTPS use?", resp.Duplicates[0].Other)

		qs, err := svcs.Periods.Questions(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Len(t, qs, 3)
	})

	t.Run("csv: invalid uploads", func(t *testing.T) {
		req, rec := newUploadRequest(t, pPath+"/questions/csv", token, "", nil)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"file": "file is a required field"}),
		}, rec)

		req, rec = newUploadRequest(t, pPath+"/questions/csv", token, "empty.csv", []byte(strings.Join(period.CSVHeader, ",")))
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusBadRequest}, rec)

		bad := strings.Join(period.CSVHeader, ",") + "\nWhich one?,One,Two,,,Z,\n"
		req, rec = newUploadRequest(t, pPath+"/questions/csv", token, "bad.csv", []byte(bad))
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusBadRequest}, rec)
	})

	t.Run("copy from", func(t *testing.T) {
		empty := createDraft(t, app, token, period.NewPeriod{CohortID: "hr", Cycle: "2026_Q4", Name: "HR Q4"})

		run(t, app, []httpTest{
			{
				name:     "copy",
				method:   http.MethodPost,
				path:     pPath + "/questions/copy-from/" + src.ID,
				token:    token,
				wantCode: http.StatusCreated,
				wantData: marchallObj(t, CountResponse{Count: 2}),
			},
			{
				name:     "empty source",
				method:   http.MethodPost,
				path:     pPath + "/questions/copy-from/" + empty.ID,
				token:    token,
				wantCode: http.StatusConflict,
				wantData: marchallObj(t, ErrorResponse{Error: period.ErrNoSourceQuestions.Error(), Code: "no_source_questions"}),
			},
			{
				name:     "unknown source",
				method:   http.MethodPost,
				path:     pPath + "/questions/copy-from/unknown",
				token:    token,
				wantCode: http.StatusNotFound,
			},
		})

		qs, err := svcs.Periods.Questions(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Len(t, qs, 5)
	})
}

func TestAdminAPI_editAndDelete(t *testing.T) {
	app, svcs := setup(t)
	token := getToken(t, svcs, testutil.NewAdmin("adm1"))
	ctx := context.Background()

	draft, qs := testutil.CreatePeriod(t, svcs.Periods, "ops", "draft", nil, nil, nil, 2)
	active, aqs := testutil.CreateActivePeriod(t, svcs.Periods, "ops", "active", 3)
	_, err := svcs.Attempts.StartAttempt(ctx, testutil.NewLearner("lrn1", "ops"), active.ID, "")
	require.NoError(t, err)

	edit := period.NewQuestion{
		Text:       "Which port does HTTPS use?",
		Choices:    []period.Choice{{Key: "A", Text: "80"}, {Key: "B", Text: "443"}},
		CorrectKey: "B",
	}
	edited := qs[0]
	edited.Text = edit.Text
	edited.Choices = edit.Choices
	edited.CorrectKey = "B"
	edited.Rationale = ""

	run(t, app, []httpTest{
		{
			name:     "copy sources",
			path:     "/v1/admin/periods/" + draft.ID + "/copy-sources",
			token:    token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, []period.CopySource{
				{ID: active.ID, CohortID: "ops", Cycle: "active", Name: active.Name, QuestionCount: 3},
			}),
		},
		{
			name:     "copy sources: unknown period",
			path:     "/v1/admin/periods/lol/copy-sources",
			token:    token,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "edit question: invalid",
			method:   http.MethodPut,
			path:     "/v1/admin/periods/" + draft.ID + "/questions/" + qs[0].ID,
			body:     []byte(`{"text":"no choices"}`),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "edit question: unknown",
			method:   http.MethodPut,
			path:     "/v1/admin/periods/" + draft.ID + "/questions/lol",
			body:     marchallObj(t, edit),
			token:    token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, ErrorResponse{Error: period.ErrQuestionNotFound.Error(), Code: "question_not_found"}),
		},
		{
			name:     "edit question: published period",
			method:   http.MethodPut,
			path:     "/v1/admin/periods/" + active.ID + "/questions/" + aqs[0].ID,
			body:     marchallObj(t, edit),
			token:    token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, ErrorResponse{Error: period.ErrInvalidPeriodState.Error(), Code: "invalid_period_state"}),
		},
		{
			name:     "edit question",
			method:   http.MethodPut,
			path:     "/v1/admin/periods/" + draft.ID + "/questions/" + qs[0].ID,
			body:     marchallObj(t, edit),
			token:    token,
			wantCode: http.StatusOK,
			wantData: marchallObj(t, edited),
		},
		{
			name:     "delete: attempted period",
			method:   http.MethodDelete,
			path:     "/v1/admin/periods/" + active.ID,
			token:    token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, ErrorResponse{Error: period.ErrPeriodInUse.Error(), Code: "period_in_use"}),
		},
		{
			name:     "delete",
			method:   http.MethodDelete,
			path:     "/v1/admin/periods/" + draft.ID,
			token:    token,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "delete: gone",
			method:   http.MethodDelete,
			path:     "/v1/admin/periods/" + draft.ID,
			token:    token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, ErrorResponse{Error: period.ErrNotFound.Error(), Code: "period_not_found"}),
		},
	})
}
