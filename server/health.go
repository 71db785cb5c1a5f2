package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	sentimatrix "github.com/JohnPlummer/sentimatrix"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Scorer  scorerHealth      `json:"scorer"`
	Checks  map[string]string `json:"checks"`
}

type scorerHealth struct {
	Healthy bool                   `json:"healthy"`
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// health reports 200 when the scorer and every dependency respond, 503 otherwise
func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	h := s.scorer.GetHealth(ctx)
	resp := healthResponse{
		Status:  "ok",
		Version: sentimatrix.GetVersion().Version,
		Scorer:  scorerHealth{Healthy: h.Healthy, Status: h.Status, Details: h.Details},
		Checks:  make(map[string]string, len(s.checks)+1),
	}
	healthy := h.Healthy

	checks := append([]HealthCheck{{Name: "store", Check: s.service.Ping}}, s.checks...)
	for _, hc := range checks {
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = err.Error()
			healthy = false
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
