package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core/period"
)

type periodApi struct {
	svc      period.Service
	validate *validator.Validate
}

func registerPeriodAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc period.Service, validate *validator.Validate) {
	api := periodApi{
		svc:      svc,
		validate: validate,
	}

	pg := g.Group("/periods", jwt, learnerMiddleware)
	pg.GET("/current", api.current)
	pg.GET("/:id", api.retrieve)
}

// PeriodResponse tells a UI what it may render for the period.
type PeriodResponse struct {
	period.Period
	CanAttempt bool `json:"can_attempt"`
	CanReview  bool `json:"can_review"`
}

// CurrentPeriodResponse carries the assigned period, if any. Having none is not an error.
type CurrentPeriodResponse struct {
	Found  bool            `json:"found"`
	Period *PeriodResponse `json:"period,omitempty"`
}

func newPeriodResponse(p period.Period) PeriodResponse {
	return PeriodResponse{
		Period:     p,
		CanAttempt: period.CanAttempt(p),
		CanReview:  period.CanReview(p),
	}
}

// Handlers

func (api *periodApi) current(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	p, found, err := api.svc.CurrentPeriod(ctx.Request().Context(), lrn.CohortID, nowFunc())
	if err != nil {
		return errors.Wrap(err, "getting current period")
	}
	if !found {
		return ctx.JSON(http.StatusOK, CurrentPeriodResponse{})
	}
	resp := newPeriodResponse(p)
	return ctx.JSON(http.StatusOK, CurrentPeriodResponse{Found: true, Period: &resp})
}

func (api *periodApi) retrieve(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	p, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting period")
	}
	if !lrn.InCohort(p.CohortID) {
		return period.ErrNotFound
	}
	return ctx.JSON(http.StatusOK, newPeriodResponse(p))
}
