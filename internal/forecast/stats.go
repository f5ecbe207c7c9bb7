package forecast

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

// DefaultMonthsBack — глубина истории по умолчанию.
const DefaultMonthsBack = 6

// moneyPlaces — точность денежных сумм (минорная единица валюты).
const moneyPlaces = 2

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DefaultExcludedTypeCodes — переводы и долговые операции, которые не участвуют в прогнозах.
var DefaultExcludedTypeCodes = []string{
	models.TypeCodeTransferIn,
	models.TypeCodeTransferOut,
	models.TypeCodeDebtDrawdown,
	models.TypeCodeDebtPayback,
	models.TypeCodeLoanDisburse,
	models.TypeCodeLoanCollect,
}

// Window — окно истории, заканчивающееся текущей датой.
// Начало окна выровнено по месяцу так, чтобы окно задевало не больше MonthsBack месяцев.
type Window struct {
	Start      time.Time
	End        time.Time
	MonthsBack int
}

// NewWindow строит окно истории глубиной monthsBack месяцев.
func NewWindow(now time.Time, monthsBack int) (Window, error) {
	if monthsBack <= 0 {
		return Window{}, &InvalidParameterError{Param: "months_back", Reason: "must be greater than 0"}
	}

	now = now.UTC()
	return Window{
		Start:      MonthOf(now).AddMonths(-(monthsBack - 1)).Start(),
		End:        now,
		MonthsBack: monthsBack,
	}, nil
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// CategoryStats — сырые суммы и затронутые месяцы одной категории.
type CategoryStats struct {
	CategoryID   uuid.UUID
	CategoryName string
	Amounts      []decimal.Decimal
	Months       map[MonthKey]struct{}
}

func (s CategoryStats) MonthsOfData() int {
	return len(s.Months)
}

// HistoricalPrediction — прогноз среднемесячной суммы по категории.
type HistoricalPrediction struct {
	CategoryID         uuid.UUID       `json:"category_id"`
	CategoryName       string          `json:"category_name"`
	MonthlyAverage     decimal.Decimal `json:"monthly_average"`
	MonthsOfData       int             `json:"months_of_data"`
	Confidence         Confidence      `json:"confidence"`
	VariancePercentage float64         `json:"variance_percentage"`
}

// TypeCodeSet нормализует коды типов транзакций в множество.
func TypeCodeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		normalized := normalizeTypeCode(code)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}
	return set
}

// Aggregate группирует транзакции одного направления по категориям.
// В выборку попадают только транзакции, влияющие на денежный поток, внутри окна
// и с типом не из excludedTypes.
func Aggregate(txs []models.Transaction, direction models.Direction, window Window, excludedTypes map[string]struct{}) []CategoryStats {
	index := make(map[uuid.UUID]int)
	stats := make([]CategoryStats, 0)

	for _, tx := range txs {
		if !tx.AffectsCashflow || tx.Direction != direction {
			continue
		}
		if _, excluded := excludedTypes[normalizeTypeCode(tx.TypeCode)]; excluded {
			continue
		}
		if tx.CategoryID == uuid.Nil || !window.Contains(tx.Date) {
			continue
		}

		pos, ok := index[tx.CategoryID]
		if !ok {
			pos = len(stats)
			index[tx.CategoryID] = pos
			stats = append(stats, CategoryStats{
				CategoryID: tx.CategoryID,
				Months:     make(map[MonthKey]struct{}),
			})
		}

		entry := &stats[pos]
		if entry.CategoryName == "" {
			entry.CategoryName = tx.CategoryName
		}
		entry.Amounts = append(entry.Amounts, tx.Amount)
		entry.Months[MonthOf(tx.Date.UTC())] = struct{}{}
	}

	return stats
}

// Predict превращает статистику категорий в прогнозы.
// Категории с неположительным средним отбрасываются, ошибки по отдельной
// категории логируются и не прерывают расчет остальных.
func Predict(stats []CategoryStats, logger *slog.Logger) []HistoricalPrediction {
	if logger == nil {
		logger = slog.Default()
	}

	predictions := make([]HistoricalPrediction, 0, len(stats))
	for _, s := range stats {
		prediction, ok, err := predictCategory(s)
		if err != nil {
			logger.Warn("category skipped",
				slog.String("category_id", s.CategoryID.String()),
				slog.String("category_name", s.CategoryName),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}
		predictions = append(predictions, prediction)
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		cmp := predictions[i].MonthlyAverage.Cmp(predictions[j].MonthlyAverage)
		if cmp != 0 {
			return cmp > 0
		}
		return predictions[i].CategoryName < predictions[j].CategoryName
	})

	return predictions
}

func predictCategory(s CategoryStats) (HistoricalPrediction, bool, error) {
	if len(s.Amounts) == 0 {
		return HistoricalPrediction{}, false, fmt.Errorf("%w: no amounts", ErrDegenerateCategory)
	}

	months := s.MonthsOfData()
	sum := decimal.Sum(decimal.Zero, s.Amounts...)
	average := sum.Div(decimal.NewFromInt(int64(max(months, 1)))).Round(moneyPlaces)
	if !average.IsPositive() {
		return HistoricalPrediction{}, false, nil
	}

	variancePct := variancePercentage(s.Amounts, average)
	if math.IsNaN(variancePct) || math.IsInf(variancePct, 0) {
		return HistoricalPrediction{}, false, fmt.Errorf("%w: variance is not finite", ErrDegenerateCategory)
	}

	return HistoricalPrediction{
		CategoryID:         s.CategoryID,
		CategoryName:       s.CategoryName,
		MonthlyAverage:     average,
		MonthsOfData:       months,
		Confidence:         ConfidenceFor(months, variancePct),
		VariancePercentage: variancePct,
	}, true, nil
}

// variancePercentage считает коэффициент вариации сырых сумм вокруг среднемесячного значения.
func variancePercentage(amounts []decimal.Decimal, average decimal.Decimal) float64 {
	if !average.IsPositive() || len(amounts) == 0 {
		return 100
	}

	mean := average.InexactFloat64()
	var squares float64
	for _, amount := range amounts {
		diff := amount.InexactFloat64() - mean
		squares += diff * diff
	}
	variance := squares / float64(len(amounts))

	return 100 * math.Sqrt(variance) / mean
}

// ConfidenceFor выбирает уровень уверенности: первая подходящая строка таблицы побеждает.
func ConfidenceFor(monthsOfData int, variancePct float64) Confidence {
	switch {
	case monthsOfData >= 4 && variancePct < 10:
		return ConfidenceHigh
	case monthsOfData >= 3 && variancePct < 30:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func normalizeTypeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
