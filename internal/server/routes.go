package server

import (
	"github.com/labstack/echo/v4"

	"example.com/cashflow-forecast/internal/handlers"
)

func registerRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	forecastHandler *handlers.ForecastHandler,
	notificationHandler *handlers.NotificationHandler,
	authMiddleware echo.MiddlewareFunc,
	streamAuthMiddleware echo.MiddlewareFunc,
	forecastRateLimiter echo.MiddlewareFunc,
) {
	e.GET("/health", healthHandler.Health)

	api := e.Group("/api/v1")

	forecasts := api.Group("/entities/:entityId/forecast", authMiddleware, forecastRateLimiter)
	forecasts.GET("/projection", forecastHandler.Projection)
	forecasts.GET("/projection/export/csv", forecastHandler.ExportCSV)
	forecasts.GET("/income", forecastHandler.Income)
	forecasts.GET("/expenses", forecastHandler.Expenses)
	forecasts.GET("/liquidity", forecastHandler.Liquidity)
	forecasts.GET("/runway", forecastHandler.Runway)
	forecasts.DELETE("/cache", forecastHandler.InvalidateCache)

	notifications := api.Group("/notifications", streamAuthMiddleware)
	notifications.GET("/stream", notificationHandler.Stream)
}
