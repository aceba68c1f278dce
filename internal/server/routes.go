package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const mimeCBOR = "application/cbor"

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/diagnostics", s.DiagnosticsHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

// DiagnosticsHandler serves the client diagnostics as JSON, or CBOR when the
// request accepts it.
func (s *Server) DiagnosticsHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetDiagnosticsRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	diag, ok := res.(domain.GetDiagnosticsResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected diagnostics response")
	}
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeCBOR) {
		payload, err := speedwire.EncodeCBOR(diag)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, mimeCBOR, payload)
	}
	return c.JSON(http.StatusOK, diag)
}
