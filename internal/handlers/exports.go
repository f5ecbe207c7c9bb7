package handlers

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/forecast"
)

// ExportCSV выгружает помесячный прогноз в CSV-файл.
func (h *ForecastHandler) ExportCSV(c echo.Context) error {
	var q ProjectionQuery
	if err := h.bindQuery(c, &q); err != nil {
		return h.respondError(c, err)
	}

	p, err := h.load(c, q)
	if err != nil {
		return h.respondError(c, err)
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writeProjectionCSV(writer, p.result.Projections); err != nil {
		return serverError(c)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return serverError(c)
	}

	filename := "forecast-" + p.entity.ID.String() + "-" + strconv.Itoa(p.result.MonthsAhead) + "m.csv"
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=\""+filename+"\"")
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func writeProjectionCSV(writer *csv.Writer, projections []forecast.MonthlyProjection) error {
	header := []string{
		"month",
		"opening_balance",
		"projected_income",
		"debt_payments",
		"scheduled_payments",
		"predicted_expenses",
		"budgets",
		"total_obligations",
		"closing_balance",
		"health",
		"gap_categories",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range projections {
		record := []string{
			p.Month.String(),
			formatMoney(p.OpeningBalance),
			formatMoney(p.ProjectedIncome),
			formatMoney(p.TotalDebt),
			formatMoney(p.TotalScheduled),
			formatMoney(p.TotalPredicted),
			formatMoney(p.TotalBudgets),
			formatMoney(p.TotalObligations),
			formatMoney(p.ClosingBalance),
			string(p.Health),
			strconv.Itoa(countGaps(p.PredictedExpenses)),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return nil
}

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func countGaps(expenses []forecast.PredictedExpense) int {
	gaps := 0
	for _, expense := range expenses {
		if expense.HasGap {
			gaps++
		}
	}
	return gaps
}
