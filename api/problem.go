package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dshills/devspace/workflow/store"
	"github.com/dshills/devspace/workspace"
)

// ProblemDetails is an RFC 7807 error body.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// errorHandler renders every handler error as application/problem+json.
// Domain errors are mapped to their HTTP status first.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := s.classify(err)
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, problem)
}

func (s *Server) classify(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil && he.Code >= http.StatusInternalServerError {
			return he.Code, http.StatusText(he.Code)
		}
		return he.Code, fmt.Sprint(he.Message)
	}

	var accessErr *workspace.AccessError
	switch {
	case errors.As(err, &accessErr):
		return http.StatusForbidden, accessErr.Error()
	case errors.Is(err, workspace.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, workspace.ErrForbidden):
		return http.StatusForbidden, "You do not have access to this resource."
	case errors.Is(err, workspace.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "The requested resource does not exist."
	}
	return http.StatusInternalServerError, "An unexpected error occurred."
}
