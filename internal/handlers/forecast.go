package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/auth"
	"example.com/cashflow-forecast/internal/cache"
	"example.com/cashflow-forecast/internal/forecast"
	"example.com/cashflow-forecast/internal/inflight"
	"example.com/cashflow-forecast/internal/models"
	"example.com/cashflow-forecast/internal/notifications"
	"example.com/cashflow-forecast/internal/repository"
)

const (
	defaultMonthsAhead = 6
	maxExclusions      = 50
)

// horizons — допустимые горизонты прогноза в месяцах.
var horizons = []int{3, 6, 12}

type SnapshotStore interface {
	Entity(ctx context.Context, userID, entityID uuid.UUID) (models.Entity, error)
	LoadSnapshot(ctx context.Context, entityID uuid.UUID, rng repository.SnapshotRange) (forecast.Snapshot, error)
}

type ProjectionCache interface {
	Get(ctx context.Context, key cache.Key) (forecast.Result, bool, error)
	Set(ctx context.Context, key cache.Key, result forecast.Result) error
	InvalidateEntity(ctx context.Context, entityID uuid.UUID) (int64, error)
}

type ForecastSettings struct {
	DefaultMonthsBack int
	MaxMonthsBack     int
}

type ForecastHandler struct {
	Store    SnapshotStore
	Cache    ProjectionCache
	Engine   *forecast.Engine
	Tracker  *inflight.Tracker
	Notifier *notifications.Hub
	Logger   *slog.Logger
	Settings ForecastSettings

	now func() time.Time
}

// NewForecastHandler создает обработчик прогнозов денежного потока.
func NewForecastHandler(store SnapshotStore, projections ProjectionCache, engine *forecast.Engine, tracker *inflight.Tracker, notifier *notifications.Hub, logger *slog.Logger, settings ForecastSettings) *ForecastHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.DefaultMonthsBack <= 0 {
		settings.DefaultMonthsBack = forecast.DefaultMonthsBack
	}
	if settings.MaxMonthsBack < settings.DefaultMonthsBack {
		settings.MaxMonthsBack = settings.DefaultMonthsBack
	}

	return &ForecastHandler{
		Store:    store,
		Cache:    projections,
		Engine:   engine,
		Tracker:  tracker,
		Notifier: notifier,
		Logger:   logger,
		Settings: settings,
		now:      time.Now,
	}
}

type ProjectionQuery struct {
	MonthsAhead    int    `query:"months_ahead" validate:"omitempty,oneof=3 6 12"`
	MonthsBack     int    `query:"months_back" validate:"omitempty,min=1"`
	CurrentBalance string `query:"current_balance" validate:"omitempty,numeric"`
	Exclude        string `query:"exclude" validate:"omitempty,max=2000"`
}

type ExpensesQuery struct {
	Month          string `query:"month" validate:"required,len=7"`
	MonthsBack     int    `query:"months_back" validate:"omitempty,min=1"`
	CurrentBalance string `query:"current_balance" validate:"omitempty,numeric"`
	Exclude        string `query:"exclude" validate:"omitempty,max=2000"`
}

type ProjectionSummary struct {
	TotalIncome        decimal.Decimal       `json:"total_income"`
	TotalObligations   decimal.Decimal       `json:"total_obligations"`
	EndingBalance      decimal.Decimal       `json:"ending_balance"`
	LowestBalance      decimal.Decimal       `json:"lowest_balance"`
	LowestBalanceMonth *forecast.MonthKey    `json:"lowest_balance_month,omitempty"`
	DeficitMonths      int                   `json:"deficit_months"`
	TightMonths        int                   `json:"tight_months"`
	FirstDeficitMonth  *forecast.MonthKey    `json:"first_deficit_month,omitempty"`
	Health             forecast.HealthStatus `json:"health"`
}

type ProjectionResponse struct {
	EntityID           uuid.UUID                    `json:"entity_id"`
	EntityName         string                       `json:"entity_name"`
	GeneratedAt        time.Time                    `json:"generated_at"`
	MonthsBack         int                          `json:"months_back"`
	MonthsAhead        int                          `json:"months_ahead"`
	Cached             bool                         `json:"cached"`
	ExcludedCategories []string                     `json:"excluded_categories"`
	Projections        []forecast.MonthlyProjection `json:"projections"`
	Summary            ProjectionSummary            `json:"summary"`
	Runway             forecast.RunwayAnalysis      `json:"runway"`
}

type IncomeResponse struct {
	EntityID    uuid.UUID                   `json:"entity_id"`
	MonthsBack  int                         `json:"months_back"`
	Predictions []forecast.IncomePrediction `json:"predictions"`
	Total       decimal.Decimal             `json:"total"`
}

type ExpensesResponse struct {
	EntityID          uuid.UUID                         `json:"entity_id"`
	Month             forecast.MonthKey                 `json:"month"`
	PredictedExpenses []forecast.PredictedExpense       `json:"predicted_expenses"`
	ScheduledPayments []models.ScheduledPaymentInstance `json:"scheduled_payments"`
	TotalPredicted    decimal.Decimal                   `json:"total_predicted"`
	TotalScheduled    decimal.Decimal                   `json:"total_scheduled"`
}

type LiquidityResponse struct {
	EntityID  uuid.UUID                  `json:"entity_id"`
	Liquidity forecast.LiquidityPosition `json:"liquidity"`
}

type RunwayResponse struct {
	EntityID    uuid.UUID               `json:"entity_id"`
	MonthsAhead int                     `json:"months_ahead"`
	Runway      forecast.RunwayAnalysis `json:"runway"`
}

type projectionRequest struct {
	userID         uuid.UUID
	entityID       uuid.UUID
	monthsBack     int
	monthsAhead    int
	currentBalance *decimal.Decimal
	exclude        []string
}

type projection struct {
	entity  models.Entity
	result  forecast.Result
	cached  bool
	exclude []string
}

// apiError — ошибка запроса, уже содержащая HTTP-статус.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return e.message
}

// Projection возвращает помесячный прогноз остатков.
func (h *ForecastHandler) Projection(c echo.Context) error {
	var q ProjectionQuery
	if err := h.bindQuery(c, &q); err != nil {
		return h.respondError(c, err)
	}

	p, err := h.load(c, q)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, ProjectionResponse{
		EntityID:           p.entity.ID,
		EntityName:         p.entity.Name,
		GeneratedAt:        p.result.GeneratedAt,
		MonthsBack:         p.result.MonthsBack,
		MonthsAhead:        p.result.MonthsAhead,
		Cached:             p.cached,
		ExcludedCategories: p.exclude,
		Projections:        p.result.Projections,
		Summary:            summarize(p.result.Projections),
		Runway:             p.result.Runway,
	})
}

// Income возвращает прогноз доходов по категориям.
func (h *ForecastHandler) Income(c echo.Context) error {
	var q ProjectionQuery
	if err := h.bindQuery(c, &q); err != nil {
		return h.respondError(c, err)
	}

	p, err := h.load(c, q)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, IncomeResponse{
		EntityID:    p.entity.ID,
		MonthsBack:  p.result.MonthsBack,
		Predictions: p.result.Income,
		Total:       p.result.TotalPredictedIncome,
	})
}

// Expenses возвращает прогноз расходов на конкретный месяц с учетом запланированных платежей.
func (h *ForecastHandler) Expenses(c echo.Context) error {
	var q ExpensesQuery
	if err := h.bindQuery(c, &q); err != nil {
		return h.respondError(c, err)
	}

	month, err := forecast.ParseMonthKey(q.Month)
	if err != nil {
		return badRequest(c, "invalid month")
	}

	monthsAhead, ok := horizonFor(forecast.MonthOf(h.now().UTC()), month)
	if !ok {
		return badRequest(c, "month is outside the projection horizon")
	}

	p, err := h.load(c, ProjectionQuery{
		MonthsAhead:    monthsAhead,
		MonthsBack:     q.MonthsBack,
		CurrentBalance: q.CurrentBalance,
		Exclude:        q.Exclude,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	for _, monthly := range p.result.Projections {
		if monthly.Month != month {
			continue
		}
		return c.JSON(http.StatusOK, ExpensesResponse{
			EntityID:          p.entity.ID,
			Month:             monthly.Month,
			PredictedExpenses: monthly.PredictedExpenses,
			ScheduledPayments: monthly.ScheduledPayments,
			TotalPredicted:    monthly.TotalPredicted,
			TotalScheduled:    monthly.TotalScheduled,
		})
	}

	return badRequest(c, "month is outside the projection horizon")
}

// Liquidity возвращает ликвидные активы и дебиторку сущности.
func (h *ForecastHandler) Liquidity(c echo.Context) error {
	var q ProjectionQuery
	if err := h.bindQuery(c, &q); err != nil {
		return h.respondError(c, err)
	}

	p, err := h.load(c, q)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, LiquidityResponse{EntityID: p.entity.ID, Liquidity: p.result.Liquidity})
}

// Runway возвращает запас хода по деньгам и ликвидным активам.
func (h *ForecastHandler) Runway(c echo.Context) error {
	var q ProjectionQuery
	if err := h.bindQuery(c, &q); err != nil {
		return h.respondError(c, err)
	}

	p, err := h.load(c, q)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, RunwayResponse{
		EntityID:    p.entity.ID,
		MonthsAhead: p.result.MonthsAhead,
		Runway:      p.result.Runway,
	})
}

// InvalidateCache удаляет сохраненные прогнозы сущности, например после импорта транзакций.
func (h *ForecastHandler) InvalidateCache(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return unauthorized(c)
	}

	entityID, err := uuid.Parse(c.Param("entityId"))
	if err != nil {
		return badRequest(c, "invalid entity id")
	}

	ctx := c.Request().Context()
	if _, err := h.Store.Entity(ctx, userID, entityID); err != nil {
		return h.respondError(c, err)
	}

	deleted, err := h.Cache.InvalidateEntity(ctx, entityID)
	if err != nil {
		h.Logger.Error("forecast cache invalidation failed",
			slog.String("entity_id", entityID.String()),
			slog.Any("error", err),
		)
		return serverError(c)
	}

	if h.Notifier != nil {
		h.Notifier.Publish(userID, notifications.Event{
			Type:     notifications.EventCacheInvalidated,
			EntityID: entityID,
			Data:     map[string]int64{"deleted": deleted},
		})
	}

	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *ForecastHandler) bindQuery(c echo.Context, q interface{}) error {
	if err := c.Bind(q); err != nil {
		return &apiError{status: http.StatusBadRequest, message: "invalid query parameters"}
	}
	if err := c.Validate(q); err != nil {
		return &apiError{status: http.StatusBadRequest, message: err.Error()}
	}
	return nil
}

// load разбирает параметры и возвращает прогноз из кэша или свежий расчет
// с примененными исключениями категорий.
func (h *ForecastHandler) load(c echo.Context, q ProjectionQuery) (projection, error) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return projection{}, &apiError{status: http.StatusUnauthorized, message: "invalid credentials"}
	}

	entityID, err := uuid.Parse(c.Param("entityId"))
	if err != nil {
		return projection{}, &apiError{status: http.StatusBadRequest, message: "invalid entity id"}
	}

	req, err := h.newRequest(userID, entityID, q)
	if err != nil {
		return projection{}, err
	}

	p, err := h.compute(c.Request().Context(), req)
	if err != nil {
		return projection{}, err
	}

	p.result = h.Engine.WithExclusions(p.result, req.exclude)
	p.exclude = req.exclude
	return p, nil
}

func (h *ForecastHandler) newRequest(userID, entityID uuid.UUID, q ProjectionQuery) (projectionRequest, error) {
	req := projectionRequest{
		userID:      userID,
		entityID:    entityID,
		monthsBack:  q.MonthsBack,
		monthsAhead: q.MonthsAhead,
		exclude:     parseExclusions(q.Exclude),
	}

	if req.monthsBack == 0 {
		req.monthsBack = h.Settings.DefaultMonthsBack
	}
	if req.monthsBack > h.Settings.MaxMonthsBack {
		return req, &apiError{status: http.StatusBadRequest, message: fmt.Sprintf("months_back must not exceed %d", h.Settings.MaxMonthsBack)}
	}

	if req.monthsAhead == 0 {
		req.monthsAhead = defaultMonthsAhead
	}

	if len(req.exclude) > maxExclusions {
		return req, &apiError{status: http.StatusBadRequest, message: "too many excluded categories"}
	}

	if q.CurrentBalance != "" {
		balance, err := decimal.NewFromString(q.CurrentBalance)
		if err != nil {
			return req, &apiError{status: http.StatusBadRequest, message: "invalid current_balance"}
		}
		req.currentBalance = &balance
	}

	return req, nil
}

// compute выполняет расчет по правилу "последний запрос побеждает": если
// для той же пары пользователь-сущность пришел новый запрос, текущий
// завершается ErrSuperseded и не пишет результат в кэш.
func (h *ForecastHandler) compute(ctx context.Context, req projectionRequest) (projection, error) {
	entity, err := h.Store.Entity(ctx, req.userID, req.entityID)
	if err != nil {
		return projection{}, err
	}

	ctx, done := h.Tracker.Begin(ctx, req.userID.String()+":"+req.entityID.String())
	defer done()

	now := h.now().UTC()
	key := cache.Key{
		EntityID:       req.entityID,
		Day:            now,
		MonthsBack:     req.monthsBack,
		MonthsAhead:    req.monthsAhead,
		CurrentBalance: req.currentBalance,
	}

	cached, hit, err := h.Cache.Get(ctx, key)
	if err != nil {
		h.Logger.Warn("forecast cache read failed", slog.String("key", key.String()), slog.Any("error", err))
	}
	if hit {
		return projection{entity: entity, result: cached, cached: true}, nil
	}

	rng, err := repository.NewSnapshotRange(now, req.monthsBack, req.monthsAhead)
	if err != nil {
		return projection{}, err
	}

	snapshot, err := h.Store.LoadSnapshot(ctx, req.entityID, rng)
	if err != nil {
		if inflight.Superseded(ctx) {
			return projection{}, inflight.ErrSuperseded
		}
		return projection{}, fmt.Errorf("load snapshot: %w", err)
	}

	result, err := h.Engine.Project(snapshot, forecast.Params{
		MonthsBack:     req.monthsBack,
		MonthsAhead:    req.monthsAhead,
		Now:            now,
		CurrentBalance: req.currentBalance,
	})
	if err != nil {
		return projection{}, err
	}

	if inflight.Superseded(ctx) {
		return projection{}, inflight.ErrSuperseded
	}

	if err := h.Cache.Set(ctx, key, result); err != nil {
		h.Logger.Warn("forecast cache write failed", slog.String("key", key.String()), slog.Any("error", err))
	}

	h.publishReady(req.userID, result)
	return projection{entity: entity, result: result}, nil
}

func (h *ForecastHandler) publishReady(userID uuid.UUID, result forecast.Result) {
	if h.Notifier == nil {
		return
	}

	summary := summarize(result.Projections)
	data := notifications.ProjectionReady{
		MonthsAhead:    result.MonthsAhead,
		ClosingBalance: summary.EndingBalance.StringFixed(2),
	}
	if summary.FirstDeficitMonth != nil {
		month := summary.FirstDeficitMonth.String()
		data.FirstDeficitMonth = &month
	}

	h.Notifier.Publish(userID, notifications.Event{
		Type:     notifications.EventProjectionReady,
		EntityID: result.EntityID,
		Data:     data,
	})
}

func (h *ForecastHandler) respondError(c echo.Context, err error) error {
	var apiErr *apiError
	var invalid *forecast.InvalidParameterError
	var missing *forecast.MissingDataError

	switch {
	case errors.As(err, &apiErr):
		return c.JSON(apiErr.status, map[string]string{"error": apiErr.message})
	case errors.Is(err, repository.ErrNotFound):
		return notFound(c, "entity not found")
	case errors.Is(err, repository.ErrInvalid):
		return badRequest(c, "invalid projection range")
	case errors.Is(err, inflight.ErrSuperseded):
		return conflict(c, "superseded by a newer request")
	case errors.As(err, &invalid):
		return badRequest(c, invalid.Error())
	case errors.As(err, &missing):
		return unprocessable(c, missing.Error())
	case errors.Is(err, context.Canceled):
		h.Logger.Debug("forecast request canceled", slog.String("path", c.Path()))
		return nil
	default:
		h.Logger.Error("forecast request failed", slog.String("path", c.Path()), slog.Any("error", err))
		return serverError(c)
	}
}

// summarize сводит прогноз к итогам для ответа API.
func summarize(projections []forecast.MonthlyProjection) ProjectionSummary {
	summary := ProjectionSummary{Health: forecast.HealthSurplus}
	if len(projections) == 0 {
		return summary
	}

	summary.LowestBalance = projections[0].ClosingBalance
	for i := range projections {
		p := projections[i]
		summary.TotalIncome = summary.TotalIncome.Add(p.ProjectedIncome)
		summary.TotalObligations = summary.TotalObligations.Add(p.TotalObligations)

		if summary.LowestBalanceMonth == nil || p.ClosingBalance.LessThan(summary.LowestBalance) {
			month := p.Month
			summary.LowestBalance = p.ClosingBalance
			summary.LowestBalanceMonth = &month
		}

		switch p.Health {
		case forecast.HealthDeficit:
			summary.DeficitMonths++
			if summary.FirstDeficitMonth == nil {
				month := p.Month
				summary.FirstDeficitMonth = &month
			}
		case forecast.HealthTight:
			summary.TightMonths++
		}
	}

	summary.EndingBalance = projections[len(projections)-1].ClosingBalance
	switch {
	case summary.DeficitMonths > 0:
		summary.Health = forecast.HealthDeficit
	case summary.TightMonths > 0:
		summary.Health = forecast.HealthTight
	}

	return summary
}

// horizonFor подбирает наименьший допустимый горизонт, покрывающий месяц target.
func horizonFor(current, target forecast.MonthKey) (int, bool) {
	if target.Before(current) {
		return 0, false
	}

	offset := (target.Year-current.Year)*12 + int(target.Month-current.Month)
	for _, horizon := range horizons {
		if offset < horizon {
			return horizon, true
		}
	}
	return 0, false
}

func parseExclusions(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
