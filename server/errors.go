package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/JohnPlummer/sentimatrix/email"
	"github.com/JohnPlummer/sentimatrix/scorer"
)

type errorResponse struct {
	Error string `json:"error"`
	Title string `json:"title,omitempty"`
}

// statusFor maps a domain error to the response code callers see
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case email.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, email.ErrNotFound):
		return http.StatusNotFound
	case scorer.IsClassificationError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		resp.Error = fmt.Sprintf("%v", he.Message)
	case code == http.StatusBadRequest:
		resp.Title = "validation error"
	case code == http.StatusNotFound:
		resp.Title = "not found"
	case code == http.StatusBadGateway:
		resp.Title = "sentiment service unavailable"
	default:
		slog.Error("Unhandled error", "path", c.Path(), "error", err)
		resp = errorResponse{Error: "internal server error"}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, resp)
}
