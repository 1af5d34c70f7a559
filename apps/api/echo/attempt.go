package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
)

type attemptApi struct {
	svc      attempt.Service
	validate *validator.Validate
}

func registerAttemptAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc attempt.Service, validate *validator.Validate) {
	api := attemptApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/attempts", jwt, learnerMiddleware)
	ag.POST("", api.start)
	ag.GET("", api.history)

	// detail endpoints
	ag.PUT("/:id/answers", api.recordAnswer)
	ag.PUT("/:id/answers/bulk", api.recordAnswers)
	ag.PUT("/:id/progress", api.updateProgress)
	ag.POST("/:id/submit", api.submit)
	ag.GET("/:id/result", api.result)
	ag.GET("/:id/review", api.review)

	g.POST("/sessions/release", api.release, jwt, learnerMiddleware)
}

type (
	StartAttemptRequest struct {
		PeriodID string `json:"period_id" validate:"required"`
	}

	BulkSaveResponse struct {
		Count   int              `json:"count"`
		Answers []attempt.Answer `json:"answers"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (sr *StartAttemptRequest) Validate(validate *validator.Validate) error {
	sr.PeriodID = core.CleanString(sr.PeriodID)
	return validate.Struct(sr)
}

// retryOnce calls fn a second time when the first call failed on storage.
// Only used for idempotent engine operations.
func retryOnce(fn func() error) error {
	err := fn()
	if errors.Is(err, core.ErrStorageUnavailable) {
		err = fn()
	}
	return err
}

// Handlers

func (api *attemptApi) start(ctx echo.Context) error {
	var data StartAttemptRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartAttemptRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	view, err := api.svc.StartAttempt(ctx.Request().Context(), claims.Learner(), data.PeriodID, claims.Id)
	if err != nil {
		return errors.Wrap(err, "starting attempt")
	}
	if view.Resumed {
		return ctx.JSON(http.StatusOK, view)
	}
	return ctx.JSON(http.StatusCreated, view)
}

func (api *attemptApi) history(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	items, err := api.svc.History(ctx.Request().Context(), lrn)
	if err != nil {
		return errors.Wrap(err, "getting history")
	}
	return ctx.JSON(http.StatusOK, items)
}

func (api *attemptApi) recordAnswer(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	var data attempt.NewAnswer
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnswer")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	var ans attempt.Answer
	err = retryOnce(func() (err error) {
		ans, err = api.svc.RecordAnswer(ctx.Request().Context(), lrn, ctx.Param("id"), data)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "recording answer")
	}
	return ctx.JSON(http.StatusOK, ans)
}

func (api *attemptApi) recordAnswers(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	var data attempt.NewAnswers
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAnswers")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	var answers []attempt.Answer
	err = retryOnce(func() (err error) {
		answers, err = api.svc.RecordAnswers(ctx.Request().Context(), lrn, ctx.Param("id"), data.Answers)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "recording answers")
	}
	return ctx.JSON(http.StatusOK, BulkSaveResponse{Count: len(answers), Answers: answers})
}

func (api *attemptApi) updateProgress(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	var data attempt.ProgressUpdate
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ProgressUpdate")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	if err = api.svc.UpdateProgress(ctx.Request().Context(), lrn, ctx.Param("id"), *data.CurrentIndex); err != nil {
		return errors.Wrap(err, "updating progress")
	}
	return ctx.JSON(http.StatusOK, data)
}

func (api *attemptApi) submit(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	var res attempt.Result
	err = retryOnce(func() (err error) {
		res, err = api.svc.SubmitAttempt(ctx.Request().Context(), lrn, ctx.Param("id"))
		return err
	})
	if err != nil {
		return errors.Wrap(err, "submitting attempt")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *attemptApi) result(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	res, err := api.svc.GetResult(ctx.Request().Context(), lrn, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting result")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *attemptApi) review(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	rv, err := api.svc.ReviewAttempt(ctx.Request().Context(), lrn, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "reviewing attempt")
	}
	return ctx.JSON(http.StatusOK, rv)
}

func (api *attemptApi) release(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err = api.svc.Release(ctx.Request().Context(), claims.Learner(), claims.Id); err != nil {
		return errors.Wrap(err, "releasing session")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Session released."})
}
