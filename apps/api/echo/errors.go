package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/learner"
	"github.com/trezcool/jitu/core/period"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "learner not authenticated")
	errRefreshExpired = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden  = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound   = echo.NewHTTPError(http.StatusNotFound, "not found")

	msgStorageUnavailable = "service temporarily unavailable, please retry"
)

type (
	// ErrorResponse is the body of every error that is not a validation error.
	ErrorResponse struct {
		Error  string          `json:"error"`
		Code   string          `json:"code,omitempty"`
		Result *attempt.Result `json:"result,omitempty"` // set with code already_submitted
	}

	domainError struct {
		err    error
		status int
		code   string
	}
)

// domainErrors are expected outcomes: sent verbatim and never logged.
var domainErrors = []domainError{
	{period.ErrNotFound, http.StatusNotFound, "period_not_found"},
	{attempt.ErrNotFound, http.StatusNotFound, "attempt_not_found"},
	{period.ErrIncompleteSchedule, http.StatusConflict, "incomplete_schedule"},
	{period.ErrInvalidPeriodState, http.StatusConflict, "invalid_period_state"},
	{period.ErrNoSourceQuestions, http.StatusConflict, "no_source_questions"},
	{period.ErrPeriodInUse, http.StatusConflict, "period_in_use"},
	{period.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{attempt.ErrPeriodNotOpen, http.StatusForbidden, "period_not_open"},
	{attempt.ErrPrerequisiteNotMet, http.StatusForbidden, "prerequisite_not_met"},
	{attempt.ErrAlreadySubmitted, http.StatusConflict, "already_submitted"},
	{attempt.ErrAttemptClosed, http.StatusConflict, "attempt_closed"},
	{attempt.ErrUnknownQuestion, http.StatusBadRequest, "unknown_question"},
	{attempt.ErrReviewNotOpen, http.StatusForbidden, "review_not_open"},
	{attempt.ErrNotSubmitted, http.StatusConflict, "not_submitted"},
	{attempt.ErrSessionActiveElsewhere, http.StatusConflict, "session_active_elsewhere"},
}

// describeError returns the status & body of a domain or storage error; ok is false for any other error.
func describeError(err error) (status int, body ErrorResponse, ok bool) {
	if errors.Is(err, core.ErrStorageUnavailable) {
		return http.StatusServiceUnavailable, ErrorResponse{Error: msgStorageUnavailable, Code: "storage_unavailable"}, true
	}
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			body = ErrorResponse{Error: de.err.Error(), Code: de.code}
			var subErr *attempt.AlreadySubmittedError
			if errors.As(err, &subErr) {
				res := subErr.Result
				body.Result = &res
			}
			return de.status, body, true
		}
	}
	return 0, ErrorResponse{}, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			status, body, ok := describeError(err)
			if ok {
				code = status
				message = body
				if status == http.StatusServiceUnavailable {
					logger.Error(msgStorageUnavailable, errors.Wrap(err, msgStorageUnavailable), contextLearner(ctx))
				}
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), contextLearner(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = ErrorResponse{Error: m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// contextLearner returns the authenticated learner, if any, for error reports.
func contextLearner(ctx echo.Context) learner.Learner {
	lrn, _ := getContextLearner(ctx)
	return lrn
}
