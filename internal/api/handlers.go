package api

import (
	"net/http"
	"time"

	"approval-gate/backend/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	serviceName    = "approval-gate"
	serviceVersion = "1.0.0"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   serviceVersion,
	})
}

// NewRouter builds the Echo instance serving the workflow API, health and
// docs endpoints. Extra middleware runs before request logging.
func NewRouter(workflows services.Workflows, logger services.Logger, extra ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	for _, m := range extra {
		e.Use(m)
	}
	e.Use(middleware.Recover())
	e.Use(RequestLogger(logger))

	e.GET("/healthz", HandleHealth)
	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler()))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler()))

	RegisterHandlers(e, NewServer(workflows, logger))
	return e
}

// RequestLogger logs one line per request through logger.
func RequestLogger(logger services.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				logger.Error("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			logger.Debug("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	})
}
