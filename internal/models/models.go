package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

type AccountType string

type InstanceStatus string

type LoanStatus string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"

	AccountTypeBank       AccountType = "bank"
	AccountTypeCash       AccountType = "cash"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeCreditCard AccountType = "credit_card"
	AccountTypeLoan       AccountType = "loan"

	InstanceStatusPending InstanceStatus = "pending"
	InstanceStatusOverdue InstanceStatus = "overdue"
	InstanceStatusPaid    InstanceStatus = "paid"
	InstanceStatusSkipped InstanceStatus = "skipped"

	LoanStatusActive     LoanStatus = "active"
	LoanStatusSettled    LoanStatus = "settled"
	LoanStatusWrittenOff LoanStatus = "written_off"
)

// Коды типов транзакций, которые отражают внутреннее перемещение денег
// или финансирование, а не операционные доходы и расходы.
const (
	TypeCodeTransferIn   = "TRF_IN"
	TypeCodeTransferOut  = "TRF_OUT"
	TypeCodeDebtDrawdown = "DEBT_DRAWDOWN"
	TypeCodeDebtPayback  = "DEBT_PAYBACK"
	TypeCodeLoanDisburse = "LOAN_DISBURSE"
	TypeCodeLoanCollect  = "LOAN_COLLECT"
)

type Entity struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	EntityID        uuid.UUID       `json:"entity_id"`
	Date            time.Time       `json:"date"`
	Amount          decimal.Decimal `json:"amount"`
	Direction       Direction       `json:"direction"`
	CategoryID      uuid.UUID       `json:"category_id"`
	CategoryName    string          `json:"category_name"`
	TypeCode        string          `json:"type_code"`
	AffectsCashflow bool            `json:"affects_cashflow"`
}

type ScheduledPaymentInstance struct {
	ID                 uuid.UUID       `json:"id"`
	ScheduledPaymentID uuid.UUID       `json:"scheduled_payment_id"`
	EntityID           uuid.UUID       `json:"entity_id"`
	CategoryID         uuid.UUID       `json:"category_id"`
	CategoryName       string          `json:"category_name"`
	Description        string          `json:"description"`
	DueDate            time.Time       `json:"due_date"`
	Amount             decimal.Decimal `json:"amount"`
	Status             InstanceStatus  `json:"status"`
}

type DebtPayment struct {
	LoanID   uuid.UUID       `json:"loan_id"`
	LoanName string          `json:"loan_name"`
	Type     string          `json:"type"`
	DueDate  time.Time       `json:"due_date"`
	Amount   decimal.Decimal `json:"amount"`
}

type Budget struct {
	ID             uuid.UUID       `json:"id"`
	CategoryID     uuid.UUID       `json:"category_id"`
	CategoryName   string          `json:"category_name"`
	BudgetAmount   decimal.Decimal `json:"budget_amount"`
	EstimatedSpend decimal.Decimal `json:"estimated_spend"`
}

type Account struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsActive       bool            `json:"is_active"`
}

type LoanReceivable struct {
	ID               uuid.UUID       `json:"id"`
	BorrowerName     string          `json:"borrower_name"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	Status           LoanStatus      `json:"status"`
}
