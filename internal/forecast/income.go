package forecast

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

type IncomeSource string

const (
	IncomeSourceRecurring IncomeSource = "recurring"
	IncomeSourceAverage   IncomeSource = "average"
	IncomeSourceEstimate  IncomeSource = "estimate"
)

const (
	recurringVarianceLimit  = 15.0
	recurringAppearanceRate = 0.5
	averageMinMonths        = 3
)

type IncomePrediction struct {
	HistoricalPrediction
	AppearanceRate float64      `json:"appearance_rate"`
	IsRecurring    bool         `json:"is_recurring"`
	Source         IncomeSource `json:"source"`
}

// PredictIncome строит прогноз доходов по кредитовым транзакциям окна.
func PredictIncome(txs []models.Transaction, window Window, excludedTypes map[string]struct{}, logger *slog.Logger) []IncomePrediction {
	stats := Aggregate(txs, models.DirectionCredit, window, excludedTypes)
	historical := Predict(stats, logger)

	predictions := make([]IncomePrediction, 0, len(historical))
	for _, h := range historical {
		rate := float64(h.MonthsOfData) / float64(window.MonthsBack)
		recurring := h.VariancePercentage < recurringVarianceLimit && rate >= recurringAppearanceRate

		source := IncomeSourceEstimate
		switch {
		case recurring:
			source = IncomeSourceRecurring
		case h.MonthsOfData >= averageMinMonths:
			source = IncomeSourceAverage
		}

		predictions = append(predictions, IncomePrediction{
			HistoricalPrediction: h,
			AppearanceRate:       rate,
			IsRecurring:          recurring,
			Source:               source,
		})
	}

	return predictions
}

// TotalIncome суммирует среднемесячные доходы по всем категориям.
func TotalIncome(predictions []IncomePrediction) decimal.Decimal {
	total := decimal.Zero
	for _, p := range predictions {
		total = total.Add(p.MonthlyAverage)
	}
	return total
}
