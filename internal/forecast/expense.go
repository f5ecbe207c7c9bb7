package forecast

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

type PredictedExpense struct {
	CategoryID        uuid.UUID        `json:"category_id"`
	CategoryName      string           `json:"category_name"`
	Amount            decimal.Decimal  `json:"amount"`
	HistoricalAverage decimal.Decimal  `json:"historical_average"`
	MonthsOfData      int              `json:"months_of_data"`
	Confidence        Confidence       `json:"confidence"`
	HasGap            bool             `json:"has_gap"`
	ScheduledAmount   *decimal.Decimal `json:"scheduled_amount,omitempty"`
}

// PredictExpenseHistory строит исторические прогнозы расходов по дебетовым транзакциям окна.
func PredictExpenseHistory(txs []models.Transaction, window Window, excludedTypes map[string]struct{}, logger *slog.Logger) []HistoricalPrediction {
	stats := Aggregate(txs, models.DirectionDebit, window, excludedTypes)
	return Predict(stats, logger)
}

// PredictExpenses вычитает из исторических средних суммы, уже учтенные
// запланированными платежами месяца. Полностью покрытые категории не попадают в результат.
func PredictExpenses(history []HistoricalPrediction, scheduled map[uuid.UUID]decimal.Decimal) []PredictedExpense {
	expenses := make([]PredictedExpense, 0, len(history))
	for _, h := range history {
		expense := PredictedExpense{
			CategoryID:        h.CategoryID,
			CategoryName:      h.CategoryName,
			Amount:            h.MonthlyAverage,
			HistoricalAverage: h.MonthlyAverage,
			MonthsOfData:      h.MonthsOfData,
			Confidence:        h.Confidence,
		}

		scheduledAmount := scheduled[h.CategoryID]
		if scheduledAmount.IsPositive() {
			if scheduledAmount.GreaterThanOrEqual(h.MonthlyAverage) {
				continue
			}
			expense.Amount = h.MonthlyAverage.Sub(scheduledAmount)
			expense.HasGap = true
			expense.ScheduledAmount = &scheduledAmount
		}

		expenses = append(expenses, expense)
	}

	return expenses
}
