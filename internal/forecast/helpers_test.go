package forecast

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

var testNow = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 10, 0, 0, 0, time.UTC)
}

type txBuilder struct {
	categoryID   uuid.UUID
	categoryName string
	direction    models.Direction
}

func debitCategory(name string) txBuilder {
	return txBuilder{categoryID: uuid.New(), categoryName: name, direction: models.DirectionDebit}
}

func creditCategory(name string) txBuilder {
	return txBuilder{categoryID: uuid.New(), categoryName: name, direction: models.DirectionCredit}
}

func (b txBuilder) tx(date time.Time, amount string) models.Transaction {
	return models.Transaction{
		ID:              uuid.New(),
		Date:            date,
		Amount:          dec(amount),
		Direction:       b.direction,
		CategoryID:      b.categoryID,
		CategoryName:    b.categoryName,
		TypeCode:        "EXP",
		AffectsCashflow: true,
	}
}

func scheduledInstance(categoryID uuid.UUID, name string, due time.Time, amount string, status models.InstanceStatus) models.ScheduledPaymentInstance {
	return models.ScheduledPaymentInstance{
		ID:                 uuid.New(),
		ScheduledPaymentID: uuid.New(),
		CategoryID:         categoryID,
		CategoryName:       name,
		DueDate:            due,
		Amount:             dec(amount),
		Status:             status,
	}
}

func cashAccount(balance string) models.Account {
	return models.Account{
		ID:             uuid.New(),
		Name:           "Main",
		Type:           models.AccountTypeBank,
		CurrentBalance: dec(balance),
		IsActive:       true,
	}
}

func testWindow(monthsBack int) Window {
	w, err := NewWindow(testNow, monthsBack)
	if err != nil {
		panic(err)
	}
	return w
}
