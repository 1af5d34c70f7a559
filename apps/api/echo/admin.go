package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/learner"
	"github.com/trezcool/jitu/core/period"
)

type adminApi struct {
	svc      period.Service
	validate *validator.Validate
}

func registerAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc period.Service, validate *validator.Validate) {
	api := adminApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/admin/periods", jwt, adminMiddleware(learner.RoleAdmin))
	ag.POST("", api.create)
	ag.GET("", api.query)
	ag.POST("/refresh", api.refreshStatuses)
	ag.GET("/template/csv", api.csvTemplate)

	// detail endpoints
	ag.GET("/:id", api.retrieve)
	ag.DELETE("/:id", api.delete)
	ag.PUT("/:id/schedule", api.updateSchedule)
	ag.GET("/:id/questions", api.questions)
	ag.POST("/:id/questions", api.addQuestions)
	ag.DELETE("/:id/questions", api.removeQuestions)
	ag.PUT("/:id/questions/:questionId", api.updateQuestion)
	ag.POST("/:id/questions/csv", api.importQuestions)
	ag.GET("/:id/copy-sources", api.copySources)
	ag.POST("/:id/questions/copy-from/:sourceId", api.copyQuestions)
	ag.POST("/:id/publish", api.publish)
	ag.POST("/:id/finish", api.finish)
}

type (
	AddQuestionsRequest struct {
		Questions []period.NewQuestion `json:"questions"`
	}

	RemoveQuestionsRequest struct {
		IDs []string `query:"id"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}

	ImportResponse struct {
		Imported int `json:"imported"`
		period.CSVImport
	}
)

func (aqr *AddQuestionsRequest) Validate(validate *validator.Validate) error {
	if len(aqr.Questions) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "questions", Error: "questions is a required field"})
	}
	for i := range aqr.Questions {
		if err := aqr.Questions[i].Validate(validate); err != nil {
			if vErr, ok := err.(*core.ValidationError); ok && len(vErr.Fields) > 0 {
				vErr.Fields[0].Field = "questions[" + strconv.Itoa(i) + "]." + vErr.Fields[0].Field
			}
			return err
		}
	}
	return nil
}

// Handlers

func (api *adminApi) create(ctx echo.Context) error {
	var data period.NewPeriod
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPeriod")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	p, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating period")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *adminApi) query(ctx echo.Context) error {
	filter := new(period.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []period.Period{})
	}
	filter.Clean()
	ordering := bindOrdering(ctx, core.DBOrdering{Field: "starts_at", Ascending: true})

	periods, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying periods")
	}
	if periods == nil {
		periods = []period.Period{}
	}
	return ctx.JSON(http.StatusOK, periods)
}

func (api *adminApi) retrieve(ctx echo.Context) error {
	p, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *adminApi) delete(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting period")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *adminApi) updateSchedule(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	orig, err := api.svc.Get(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting period")
	}

	var data period.UpdateSchedule
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSchedule")
	}
	if err = data.Validate(orig, api.validate); err != nil {
		return err
	}

	p, err := api.svc.UpdateSchedule(reqCtx, orig.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating period schedule")
	}
	return ctx.JSON(http.StatusOK, p)
}

// questions returns the QuestionSet with its answer key: admin only.
func (api *adminApi) questions(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	if _, err := api.svc.Get(reqCtx, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "getting period")
	}
	qs, err := api.svc.Questions(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting questions")
	}
	return ctx.JSON(http.StatusOK, qs)
}

func (api *adminApi) addQuestions(ctx echo.Context) error {
	var data AddQuestionsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AddQuestionsRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	qs, err := api.svc.AddQuestions(ctx.Request().Context(), ctx.Param("id"), data.Questions)
	if err != nil {
		return errors.Wrap(err, "adding questions")
	}
	return ctx.JSON(http.StatusCreated, qs)
}

func (api *adminApi) updateQuestion(ctx echo.Context) error {
	var data period.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	q, err := api.svc.UpdateQuestion(ctx.Request().Context(), ctx.Param("id"), ctx.Param("questionId"), data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *adminApi) importQuestions(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "file", Error: "file is a required field"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	imp, err := period.ParseQuestionsCSV(f)
	if err != nil {
		return err
	}
	for i := range imp.Questions {
		if err = imp.Questions[i].Validate(api.validate); err != nil {
			return core.NewValidationError(err, core.FieldError{
				Field: "file",
				Error: "line " + strconv.Itoa(imp.Lines[i]) + ": " + err.Error(),
			})
		}
	}

	reqCtx := ctx.Request().Context()
	existing, err := api.svc.Questions(reqCtx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting questions")
	}
	imp.Duplicates = period.FindNearDuplicates(existing, imp.Questions, imp.Lines...)

	qs, err := api.svc.AddQuestions(reqCtx, ctx.Param("id"), imp.Questions)
	if err != nil {
		return errors.Wrap(err, "importing questions")
	}
	return ctx.JSON(http.StatusCreated, ImportResponse{Imported: len(qs), CSVImport: imp})
}

func (api *adminApi) copyQuestions(ctx echo.Context) error {
	qs, err := api.svc.CopyQuestions(ctx.Request().Context(), ctx.Param("id"), ctx.Param("sourceId"))
	if err != nil {
		return errors.Wrap(err, "copying questions")
	}
	return ctx.JSON(http.StatusCreated, CountResponse{Count: len(qs)})
}

func (api *adminApi) copySources(ctx echo.Context) error {
	sources, err := api.svc.CopySources(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing copy sources")
	}
	return ctx.JSON(http.StatusOK, sources)
}

func (api *adminApi) csvTemplate(ctx echo.Context) error {
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="questions_template.csv"`)
	return ctx.Blob(http.StatusOK, "text/csv", period.QuestionsCSVTemplate())
}

func (api *adminApi) removeQuestions(ctx echo.Context) error {
	var query RemoveQuestionsRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to RemoveQuestionsRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	if _, err := api.svc.RemoveQuestions(ctx.Request().Context(), ctx.Param("id"), query.IDs); err != nil {
		return errors.Wrap(err, "removing questions")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *adminApi) publish(ctx echo.Context) error {
	p, err := api.svc.Publish(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "publishing period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *adminApi) finish(ctx echo.Context) error {
	p, err := api.svc.Finish(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finishing period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *adminApi) refreshStatuses(ctx echo.Context) error {
	n, err := api.svc.RefreshStatuses(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "refreshing period statuses")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}
