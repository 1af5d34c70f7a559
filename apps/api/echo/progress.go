package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core/progress"
)

type progressApi struct {
	svc progress.Service
}

func registerProgressAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc progress.Service) {
	api := progressApi{svc: svc}

	pg := g.Group("/progress", jwt, learnerMiddleware)
	pg.GET("/materials", api.materials)
	pg.POST("/materials", api.completeMaterials)
}

type MaterialsResponse struct {
	Completed bool `json:"completed"`
}

func (api *progressApi) materials(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	done, err := api.svc.MaterialsCompleted(ctx.Request().Context(), lrn.ID, lrn.CohortID)
	if err != nil {
		return errors.Wrap(err, "checking materials completion")
	}
	return ctx.JSON(http.StatusOK, MaterialsResponse{Completed: done})
}

func (api *progressApi) completeMaterials(ctx echo.Context) error {
	lrn, err := getContextLearner(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context learner")
	}

	c, err := api.svc.Complete(ctx.Request().Context(), lrn.ID, lrn.CohortID)
	if err != nil {
		return errors.Wrap(err, "completing materials")
	}
	return ctx.JSON(http.StatusOK, c)
}
