package forecast

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

type LiquidityPosition struct {
	CashBalance        decimal.Decimal `json:"cash_balance"`
	InvestmentBalance  decimal.Decimal `json:"investment_balance"`
	ReceivablesBalance decimal.Decimal `json:"receivables_balance"`
	OverdueReceivables decimal.Decimal `json:"overdue_receivables"`
	OverdueCount       int             `json:"overdue_count"`
	TotalLiquidAssets  decimal.Decimal `json:"total_liquid_assets"`
	CashAccounts       []AccountLine   `json:"cash_accounts"`
	InvestmentAccounts []AccountLine   `json:"investment_accounts"`
	ReceivableLoans    []Receivable    `json:"receivable_loans"`
}

type AccountLine struct {
	AccountID uuid.UUID          `json:"account_id"`
	Name      string             `json:"name"`
	Type      models.AccountType `json:"type"`
	Balance   decimal.Decimal    `json:"balance"`
}

type Receivable struct {
	LoanID           uuid.UUID       `json:"loan_id"`
	BorrowerName     string          `json:"borrower_name"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	IsOverdue        bool            `json:"is_overdue"`
	DaysOverdue      int             `json:"days_overdue"`
}

// RunwayAnalysis — сколько месяцев хватит денег при текущем чистом оттоке.
// При Unbounded поля с месяцами не заполняются: сущность генерирует положительный поток.
type RunwayAnalysis struct {
	MonthlyBurnRate       decimal.Decimal `json:"monthly_burn_rate"`
	MonthlyIncome         decimal.Decimal `json:"monthly_income"`
	NetBurn               decimal.Decimal `json:"net_burn"`
	Unbounded             bool            `json:"unbounded"`
	CashRunwayMonths      *float64        `json:"cash_runway_months,omitempty"`
	LiquidityRunwayMonths *float64        `json:"liquidity_runway_months,omitempty"`
	QuickRatio            *float64        `json:"quick_ratio,omitempty"`
	LiquidityBuffer       *float64        `json:"liquidity_buffer,omitempty"`
	WillRunOutOfCash      bool            `json:"will_run_out_of_cash"`
	CashDepletionMonth    *MonthKey       `json:"cash_depletion_month,omitempty"`
}

// AnalyzeLiquidity раскладывает активные счета и выданные займы по корзинам ликвидности.
func AnalyzeLiquidity(accounts []models.Account, loans []models.LoanReceivable, today time.Time) LiquidityPosition {
	position := LiquidityPosition{
		CashBalance:        decimal.Zero,
		InvestmentBalance:  decimal.Zero,
		ReceivablesBalance: decimal.Zero,
		OverdueReceivables: decimal.Zero,
		CashAccounts:       make([]AccountLine, 0),
		InvestmentAccounts: make([]AccountLine, 0),
		ReceivableLoans:    make([]Receivable, 0),
	}

	for _, account := range accounts {
		if !account.IsActive {
			continue
		}

		line := AccountLine{
			AccountID: account.ID,
			Name:      account.Name,
			Type:      account.Type,
			Balance:   account.CurrentBalance,
		}

		switch account.Type {
		case models.AccountTypeBank, models.AccountTypeCash:
			position.CashBalance = position.CashBalance.Add(account.CurrentBalance)
			position.CashAccounts = append(position.CashAccounts, line)
		case models.AccountTypeInvestment:
			position.InvestmentBalance = position.InvestmentBalance.Add(account.CurrentBalance)
			position.InvestmentAccounts = append(position.InvestmentAccounts, line)
		}
	}

	day := truncateDay(today)
	for _, loan := range loans {
		if loan.Status != models.LoanStatusActive {
			continue
		}

		receivable := Receivable{
			LoanID:           loan.ID,
			BorrowerName:     loan.BorrowerName,
			RemainingBalance: loan.RemainingBalance,
			DueDate:          loan.DueDate,
		}

		if loan.DueDate != nil {
			due := truncateDay(*loan.DueDate)
			if due.Before(day) {
				receivable.IsOverdue = true
				receivable.DaysOverdue = int(day.Sub(due).Hours() / 24)
				position.OverdueReceivables = position.OverdueReceivables.Add(loan.RemainingBalance)
				position.OverdueCount++
			}
		}

		position.ReceivablesBalance = position.ReceivablesBalance.Add(loan.RemainingBalance)
		position.ReceivableLoans = append(position.ReceivableLoans, receivable)
	}

	position.TotalLiquidAssets = position.CashBalance.Add(position.InvestmentBalance).Add(position.ReceivablesBalance)
	return position
}

// AnalyzeRunway считает запас хода по деньгам и по всем ликвидным активам.
func AnalyzeRunway(position LiquidityPosition, burnRate, income decimal.Decimal, horizonMonths int, today time.Time) RunwayAnalysis {
	netBurn := burnRate.Sub(income)
	analysis := RunwayAnalysis{
		MonthlyBurnRate: burnRate,
		MonthlyIncome:   income,
		NetBurn:         netBurn,
	}

	if !netBurn.IsPositive() {
		analysis.Unbounded = true
		return analysis
	}

	cashRunway := position.CashBalance.Div(netBurn).InexactFloat64()
	liquidityRunway := position.TotalLiquidAssets.Div(netBurn).InexactFloat64()
	buffer := liquidityRunway - cashRunway

	analysis.CashRunwayMonths = &cashRunway
	analysis.LiquidityRunwayMonths = &liquidityRunway
	analysis.LiquidityBuffer = &buffer

	if burnRate.IsPositive() {
		quick := position.TotalLiquidAssets.Div(burnRate).InexactFloat64()
		analysis.QuickRatio = &quick
	}

	if cashRunway < float64(horizonMonths) {
		analysis.WillRunOutOfCash = true
		depletion := MonthOf(today.UTC()).AddMonths(int(math.Floor(math.Max(cashRunway, 0))))
		analysis.CashDepletionMonth = &depletion
	}

	return analysis
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
