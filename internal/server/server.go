package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"example.com/cashflow-forecast/internal/auth"
	"example.com/cashflow-forecast/internal/cache"
	"example.com/cashflow-forecast/internal/config"
	"example.com/cashflow-forecast/internal/forecast"
	"example.com/cashflow-forecast/internal/handlers"
	"example.com/cashflow-forecast/internal/inflight"
	"example.com/cashflow-forecast/internal/notifications"
	"example.com/cashflow-forecast/internal/repository"
)

// New собирает HTTP-сервер Echo с роутами и зависимостями.
// rdb может быть nil: тогда кэш прогнозов отключен и health его не проверяет.
func New(cfg config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, projections *cache.ProjectionCache) *echo.Echo {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	forecastRepo := repository.NewForecastRepository(db)
	notificationHub := notifications.NewHub()
	engine := NewEngine(cfg.Forecast, logger)

	forecastHandler := handlers.NewForecastHandler(
		forecastRepo,
		projections,
		engine,
		inflight.NewTracker(),
		notificationHub,
		logger,
		handlers.ForecastSettings{
			DefaultMonthsBack: cfg.Forecast.DefaultMonthsBack,
			MaxMonthsBack:     cfg.Forecast.MaxMonthsBack,
		},
	)
	notificationHandler := handlers.NewNotificationHandler(notificationHub)
	healthHandler := handlers.NewHealthHandler(healthChecks(db, rdb))

	registerRoutes(
		e,
		healthHandler,
		forecastHandler,
		notificationHandler,
		auth.JWTMiddleware(verifier),
		auth.StreamMiddleware(verifier),
		forecastRateLimiter(cfg.Forecast),
	)

	return e
}

// NewEngine создает движок прогноза с политикой из конфигурации.
func NewEngine(cfg config.ForecastConfig, logger *slog.Logger) *forecast.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	health := forecast.HealthPolicy{TightBufferMonths: decimal.NewFromFloat(cfg.TightBufferMonths)}

	return forecast.NewEngine(logger.With(slog.String("component", "forecast")), forecast.Options{
		ExcludedTypeCodes: cfg.ExcludedTypeCodes,
		Health:            &health,
		MaxMonthsAhead:    cfg.MaxMonthsAhead,
	})
}

// NewHTTPServer создает net/http сервер с заданными таймаутами.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func healthChecks(db *pgxpool.Pool, rdb *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if db != nil {
		checks["postgres"] = db.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return checks
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
				slog.Duration("latency", v.Latency),
			}

			if userID, ok := auth.UserIDFromContext(c); ok {
				attrs = append(attrs, slog.String("user_id", userID.String()))
			}

			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}

			msg := "request completed"
			if v.Status >= http.StatusInternalServerError {
				logger.LogAttrs(c.Request().Context(), slog.LevelError, msg, attrs...)
				return nil
			}

			logger.LogAttrs(c.Request().Context(), slog.LevelInfo, msg, attrs...)
			return nil
		},
	})
}

// forecastRateLimiter ограничивает частоту расчетов на пользователя.
// Подключается после JWT-проверки, поэтому user_id уже в контексте.
func forecastRateLimiter(cfg config.ForecastConfig) echo.MiddlewareFunc {
	limit := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      limit,
		Burst:     cfg.RateLimitBurst,
		ExpiresIn: time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if userID, ok := auth.UserIDFromContext(c); ok {
				return userID.String(), nil
			}
			return c.RealIP(), nil
		},
	})
}
