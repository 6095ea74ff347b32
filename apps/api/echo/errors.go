package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

var (
	notFoundErrs = []error{
		curriculum.ErrNotFound,
		user.ErrNotFound,
		saas.ErrNotFound,
		saas.ErrGrantNotFound,
		saas.ErrGroupNotFound,
		saas.ErrPermissionNotFound,
	}
	conflictErrs = []error{
		curriculum.ErrNodeExists,
		saas.ErrPermissionExists,
		license.ErrQuotaExceeded,
		license.ErrGrantInactive,
		license.ErrNotLicensed,
		license.ErrNoPaperAllowance,
	}
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err)

		if code == http.StatusInternalServerError {
			logger.Error(http.StatusText(code),
				"error", err,
				"method", ctx.Request().Method,
				"uri", ctx.Request().RequestURI,
				"request_id", ctx.Response().Header().Get(echo.HeaderXRequestID))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
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

// errorResponse maps err to a status code and a body: a string or {field: message}.
func errorResponse(err error) (int, interface{}) {
	var bindErr *echo.BindingError
	if errors.As(err, &bindErr) {
		return bindErr.Code, echo.Map{"error": bindErr.Message, "field": bindErr.Field}
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		return httpErr.Code, httpErr.Message
	}

	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		return http.StatusBadRequest, core.TranslateErrors(vErrs)
	}
	var vErr *core.ValidationError
	if errors.As(err, &vErr) {
		if vErr.Fields != nil {
			fldErrs := make(map[string]string, len(vErr.Fields))
			for _, fErr := range vErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return http.StatusBadRequest, fldErrs
		}
		return http.StatusBadRequest, vErr.Error()
	}

	var moveErr *curriculum.InvalidMoveError
	var kindErr *curriculum.KindError
	if errors.As(err, &moveErr) {
		return http.StatusBadRequest, moveErr.Error()
	}
	if errors.As(err, &kindErr) {
		return http.StatusBadRequest, kindErr.Error()
	}

	for _, target := range notFoundErrs {
		if errors.Is(err, target) {
			return http.StatusNotFound, target.Error()
		}
	}
	for _, target := range conflictErrs {
		if errors.Is(err, target) {
			return http.StatusConflict, target.Error()
		}
	}
	var missing *license.MissingUsageConfigurationError
	if errors.As(err, &missing) {
		return http.StatusConflict, missing.Error()
	}
	var limitErr *license.PaperLimitError
	if errors.As(err, &limitErr) {
		return http.StatusConflict, limitErr.Error()
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}
