package api

import (
	"errors"
	"net/http"
	"strconv"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/labstack/echo/v4"
)

const codeInternal = "FORMFLOW_INTERNAL"

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// MapError picks the HTTP status and body for err. Transition failures are
// split by rejection kind; everything else follows the error code.
func MapError(err error) (int, ErrorBody) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg := http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		}
		return httpErr.Code, ErrorBody{Code: "HTTP_" + strconv.Itoa(httpErr.Code), Message: msg}
	}

	code := formflow.ErrorCode(err)
	body := ErrorBody{Code: code, Message: err.Error()}
	switch code {
	case formflow.ErrCodeValidationFailed:
		body.Details = field.ErrorsOf(err)
		return http.StatusUnprocessableEntity, body
	case formflow.ErrCodeTransitionFailed:
		te, ok := workflow.AsTransitionError(err)
		if !ok {
			return http.StatusConflict, body
		}
		body.Details = te
		switch te.Kind {
		case workflow.UnknownTransition:
			return http.StatusNotFound, body
		case workflow.IllegalOrigin:
			return http.StatusConflict, body
		case workflow.Unauthorized:
			return http.StatusForbidden, body
		case workflow.MissingRequiredData:
			return http.StatusUnprocessableEntity, body
		}
		return http.StatusConflict, body
	case formflow.ErrCodeConflict:
		return http.StatusConflict, body
	case formflow.ErrCodeNotFound:
		return http.StatusNotFound, body
	case formflow.ErrCodeSchema:
		if issues := formflow.SchemaIssuesOf(err); len(issues) > 0 {
			body.Details = issues
		}
		return http.StatusBadRequest, body
	case formflow.ErrCodePreconditionFailed:
		return http.StatusPreconditionFailed, body
	case formflow.ErrCodeStorage:
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, ErrorBody{Code: codeInternal, Message: "internal error"}
}
