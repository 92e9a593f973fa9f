package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/davidroman0O/stageflow/errors"
)

type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// statusOf maps an engine error code to an HTTP status.
func statusOf(err error) int {
	switch code := errors.GetCode(err); {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case code == errors.ErrInvalidState, code == errors.ErrCancelled:
		return http.StatusConflict
	case code == errors.ErrValidation, code == errors.ErrInvalidModification:
		return http.StatusUnprocessableEntity
	case errors.IsClientError(err):
		return http.StatusBadRequest
	case errors.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.IsExternal(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// errorHandler renders engine errors as JSON and defers to echo for its own.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if he, ok := err.(*echo.HTTPError); ok {
		c.Echo().DefaultHTTPErrorHandler(he, c)
		return
	}

	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("%s %s: %v", c.Request().Method, c.Path(), err)
	}
	body := errorBody{
		Error:   err.Error(),
		Code:    errors.GetCode(err).String(),
		Context: errors.GetContext(err),
	}
	if werr := c.JSON(status, body); werr != nil {
		s.Logger.Warn("Writing error response failed: %v", werr)
	}
}
