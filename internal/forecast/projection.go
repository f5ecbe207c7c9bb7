package forecast

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

// DefaultMaxMonthsAhead ограничивает горизонт прогноза.
const DefaultMaxMonthsAhead = 60

type HealthStatus string

const (
	HealthSurplus HealthStatus = "surplus"
	HealthTight   HealthStatus = "tight"
	HealthDeficit HealthStatus = "deficit"
)

// HealthPolicy задает порог "tight": закрывающий остаток меньше
// TightBufferMonths месячных обязательств этого же месяца.
type HealthPolicy struct {
	TightBufferMonths decimal.Decimal
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{TightBufferMonths: decimal.NewFromInt(1)}
}

// Classify определяет состояние месяца по закрывающему остатку.
func (p HealthPolicy) Classify(closing, obligations decimal.Decimal) HealthStatus {
	if closing.IsNegative() {
		return HealthDeficit
	}
	if closing.LessThan(obligations.Mul(p.TightBufferMonths)) {
		return HealthTight
	}
	return HealthSurplus
}

type BudgetLine struct {
	BudgetID       uuid.UUID       `json:"budget_id"`
	CategoryID     uuid.UUID       `json:"category_id"`
	CategoryName   string          `json:"category_name"`
	BudgetAmount   decimal.Decimal `json:"budget_amount"`
	EstimatedSpend decimal.Decimal `json:"estimated_spend"`
	Amount         decimal.Decimal `json:"amount"`
}

type MonthlyProjection struct {
	Month             MonthKey                          `json:"month"`
	OpeningBalance    decimal.Decimal                   `json:"opening_balance"`
	ProjectedIncome   decimal.Decimal                   `json:"projected_income"`
	DebtPayments      []models.DebtPayment              `json:"debt_payments"`
	ScheduledPayments []models.ScheduledPaymentInstance `json:"scheduled_payments"`
	PredictedExpenses []PredictedExpense                `json:"predicted_expenses"`
	Budgets           []BudgetLine                      `json:"budgets"`
	TotalDebt         decimal.Decimal                   `json:"total_debt"`
	TotalScheduled    decimal.Decimal                   `json:"total_scheduled"`
	TotalPredicted    decimal.Decimal                   `json:"total_predicted"`
	TotalBudgets      decimal.Decimal                   `json:"total_budgets"`
	TotalObligations  decimal.Decimal                   `json:"total_obligations"`
	ClosingBalance    decimal.Decimal                   `json:"closing_balance"`
	Health            HealthStatus                      `json:"health"`
}

// Snapshot — все входные данные одной сущности, прочитанные один раз в начале расчета.
// Nil-коллекция означает, что данные не были получены; пустой срез допустим.
type Snapshot struct {
	EntityID           uuid.UUID
	Transactions       []models.Transaction
	ScheduledInstances []models.ScheduledPaymentInstance
	DebtPayments       []models.DebtPayment
	Budgets            []models.Budget
	Accounts           []models.Account
	Loans              []models.LoanReceivable
}

type Params struct {
	MonthsBack         int
	MonthsAhead        int
	Now                time.Time
	StartMonth         MonthKey
	CurrentBalance     *decimal.Decimal
	ExcludedCategories []string
}

type Options struct {
	// ExcludedTypeCodes добавляются к DefaultExcludedTypeCodes.
	ExcludedTypeCodes []string
	Health            *HealthPolicy
	MaxMonthsAhead    int
}

type Result struct {
	EntityID             uuid.UUID              `json:"entity_id"`
	GeneratedAt          time.Time              `json:"generated_at"`
	MonthsBack           int                    `json:"months_back"`
	MonthsAhead          int                    `json:"months_ahead"`
	Income               []IncomePrediction     `json:"income"`
	TotalPredictedIncome decimal.Decimal        `json:"total_predicted_income"`
	ExpenseHistory       []HistoricalPrediction `json:"expense_history"`
	Projections          []MonthlyProjection    `json:"projections"`
	Liquidity            LiquidityPosition      `json:"liquidity"`
	Runway               RunwayAnalysis         `json:"runway"`
}

// Engine считает прогноз денежного потока. Состояния между вызовами нет,
// поэтому один Engine можно использовать из нескольких горутин.
type Engine struct {
	logger         *slog.Logger
	excludedTypes  map[string]struct{}
	health         HealthPolicy
	maxMonthsAhead int
}

// NewEngine создает движок прогноза с заданной политикой.
func NewEngine(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	// Переводы и долговые операции исключены всегда, настройка только добавляет коды.
	codes := make([]string, 0, len(DefaultExcludedTypeCodes)+len(opts.ExcludedTypeCodes))
	codes = append(codes, DefaultExcludedTypeCodes...)
	codes = append(codes, opts.ExcludedTypeCodes...)

	health := DefaultHealthPolicy()
	if opts.Health != nil && !opts.Health.TightBufferMonths.IsNegative() {
		health = *opts.Health
	}

	maxAhead := opts.MaxMonthsAhead
	if maxAhead <= 0 {
		maxAhead = DefaultMaxMonthsAhead
	}

	return &Engine{
		logger:         logger,
		excludedTypes:  TypeCodeSet(codes),
		health:         health,
		maxMonthsAhead: maxAhead,
	}
}

func (e *Engine) HealthPolicy() HealthPolicy {
	return e.health
}

// Validate проверяет параметры до начала расчета.
func (e *Engine) Validate(params Params) error {
	if params.MonthsBack <= 0 {
		return &InvalidParameterError{Param: "months_back", Reason: "must be greater than 0"}
	}
	if params.MonthsAhead <= 0 {
		return &InvalidParameterError{Param: "months_ahead", Reason: "must be greater than 0"}
	}
	if params.MonthsAhead > e.maxMonthsAhead {
		return &InvalidParameterError{Param: "months_ahead", Reason: "exceeds maximum horizon"}
	}
	if !params.StartMonth.IsZero() && (params.StartMonth.Month < time.January || params.StartMonth.Month > time.December) {
		return &InvalidParameterError{Param: "start_month", Reason: "malformed month key"}
	}
	return nil
}

// Project прогоняет весь конвейер: прогнозы доходов и расходов, сверку с
// запланированными платежами, ликвидность и помесячную раскатку остатка.
func (e *Engine) Project(snapshot Snapshot, params Params) (Result, error) {
	if err := e.Validate(params); err != nil {
		return Result{}, err
	}
	if snapshot.Transactions == nil {
		return Result{}, &MissingDataError{Collection: "transactions"}
	}
	if snapshot.Accounts == nil {
		return Result{}, &MissingDataError{Collection: "accounts"}
	}

	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	window, err := NewWindow(now, params.MonthsBack)
	if err != nil {
		return Result{}, err
	}

	income := PredictIncome(snapshot.Transactions, window, e.excludedTypes, e.logger)
	totalIncome := TotalIncome(income)
	history := PredictExpenseHistory(snapshot.Transactions, window, e.excludedTypes, e.logger)
	liquidity := AnalyzeLiquidity(snapshot.Accounts, snapshot.Loans, now)

	opening := liquidity.CashBalance
	if params.CurrentBalance != nil {
		opening = *params.CurrentBalance
	}

	start := params.StartMonth
	if start.IsZero() {
		start = MonthOf(now)
	}

	resolver := NewObligationResolver(snapshot.EntityID, snapshot.ScheduledInstances).CarryOverdueInto(start)

	months := make([]MonthlyProjection, 0, params.MonthsAhead)
	for i := 0; i < params.MonthsAhead; i++ {
		month := start.AddMonths(i)
		predicted := PredictExpenses(history, resolver.ScheduledAmounts(month))
		scheduled := resolver.Instances(month)

		months = append(months, MonthlyProjection{
			Month:             month,
			ProjectedIncome:   totalIncome,
			DebtPayments:      debtPaymentsDue(snapshot.DebtPayments, month, start),
			ScheduledPayments: scheduled,
			PredictedExpenses: predicted,
			Budgets:           budgetLines(snapshot.Budgets, predicted, scheduled),
		})
	}

	projections := walkBalances(months, opening, e.health)
	runway := AnalyzeRunway(liquidity, averageObligations(projections), totalIncome, params.MonthsAhead, now)

	e.logger.Debug("projection computed",
		slog.String("entity_id", snapshot.EntityID.String()),
		slog.Int("months_ahead", params.MonthsAhead),
		slog.Int("income_categories", len(income)),
		slog.Int("expense_categories", len(history)),
	)

	result := Result{
		EntityID:             snapshot.EntityID,
		GeneratedAt:          now,
		MonthsBack:           params.MonthsBack,
		MonthsAhead:          params.MonthsAhead,
		Income:               income,
		TotalPredictedIncome: totalIncome,
		ExpenseHistory:       history,
		Projections:          projections,
		Liquidity:            liquidity,
		Runway:               runway,
	}

	return e.WithExclusions(result, params.ExcludedCategories), nil
}

// WithExclusions возвращает копию результата без указанных категорий
// прогнозируемых расходов: остатки, состояние месяцев и запас хода пересчитаны.
func (e *Engine) WithExclusions(result Result, excluded []string) Result {
	if len(excluded) == 0 {
		return result
	}

	result.Projections = ApplyExclusions(result.Projections, excluded, e.health)
	result.Runway = AnalyzeRunway(result.Liquidity, averageObligations(result.Projections),
		result.TotalPredictedIncome, result.MonthsAhead, result.GeneratedAt)
	return result
}

// ApplyExclusions убирает категории из прогнозируемых расходов и заново
// раскатывает остатки от первого месяца. Входной срез не изменяется.
func ApplyExclusions(projections []MonthlyProjection, excluded []string, policy HealthPolicy) []MonthlyProjection {
	out := make([]MonthlyProjection, len(projections))
	if len(projections) == 0 {
		return out
	}

	names := make(map[string]struct{}, len(excluded))
	for _, name := range excluded {
		if key := normalizeName(name); key != "" {
			names[key] = struct{}{}
		}
	}

	for i, p := range projections {
		p.DebtPayments = slices.Clone(p.DebtPayments)
		p.ScheduledPayments = slices.Clone(p.ScheduledPayments)
		p.Budgets = slices.Clone(p.Budgets)

		kept := make([]PredictedExpense, 0, len(p.PredictedExpenses))
		for _, expense := range p.PredictedExpenses {
			if _, skip := names[normalizeName(expense.CategoryName)]; skip {
				continue
			}
			kept = append(kept, expense)
		}
		p.PredictedExpenses = kept
		out[i] = p
	}

	return walkBalances(out, projections[0].OpeningBalance, policy)
}

// walkBalances пересчитывает итоги каждого месяца и последовательно
// переносит закрывающий остаток в следующий месяц.
func walkBalances(months []MonthlyProjection, opening decimal.Decimal, policy HealthPolicy) []MonthlyProjection {
	running := opening
	for i := range months {
		p := &months[i]

		p.TotalDebt = decimal.Zero
		for _, debt := range p.DebtPayments {
			p.TotalDebt = p.TotalDebt.Add(debt.Amount)
		}

		p.TotalScheduled = decimal.Zero
		for _, instance := range p.ScheduledPayments {
			p.TotalScheduled = p.TotalScheduled.Add(instance.Amount)
		}

		p.TotalPredicted = decimal.Zero
		for _, expense := range p.PredictedExpenses {
			p.TotalPredicted = p.TotalPredicted.Add(expense.Amount)
		}

		p.TotalBudgets = decimal.Zero
		for _, budget := range p.Budgets {
			p.TotalBudgets = p.TotalBudgets.Add(budget.Amount)
		}

		p.TotalObligations = p.TotalDebt.Add(p.TotalScheduled).Add(p.TotalPredicted).Add(p.TotalBudgets)
		p.OpeningBalance = running
		p.ClosingBalance = p.OpeningBalance.Add(p.ProjectedIncome).Sub(p.TotalObligations)
		p.Health = policy.Classify(p.ClosingBalance, p.TotalObligations)

		running = p.ClosingBalance
	}

	return months
}

// debtPaymentsDue возвращает платежи по долгам месяца. Неоплаченные платежи
// со сроком до первого месяца прогноза переносятся в него, как и просроченные
// запланированные платежи.
func debtPaymentsDue(payments []models.DebtPayment, month, first MonthKey) []models.DebtPayment {
	out := make([]models.DebtPayment, 0)
	for _, payment := range payments {
		due := payment.DueDate.UTC()
		if month.Contains(due) || (month == first && due.Before(first.Start())) {
			out = append(out, payment)
		}
	}
	return out
}

// budgetLines возвращает остатки бюджетов по категориям, которые не покрыты
// ни прогнозом, ни запланированными платежами месяца.
func budgetLines(budgets []models.Budget, predicted []PredictedExpense, scheduled []models.ScheduledPaymentInstance) []BudgetLine {
	coveredIDs := make(map[uuid.UUID]struct{})
	coveredNames := make(map[string]struct{})
	for _, expense := range predicted {
		coveredIDs[expense.CategoryID] = struct{}{}
		coveredNames[normalizeName(expense.CategoryName)] = struct{}{}
	}
	for _, instance := range scheduled {
		coveredIDs[instance.CategoryID] = struct{}{}
		if instance.CategoryName != "" {
			coveredNames[normalizeName(instance.CategoryName)] = struct{}{}
		}
	}

	lines := make([]BudgetLine, 0)
	for _, budget := range budgets {
		if budget.CategoryID != uuid.Nil {
			if _, ok := coveredIDs[budget.CategoryID]; ok {
				continue
			}
		}
		if _, ok := coveredNames[normalizeName(budget.CategoryName)]; ok {
			continue
		}

		remaining := budget.BudgetAmount.Sub(budget.EstimatedSpend)
		if !remaining.IsPositive() {
			continue
		}

		lines = append(lines, BudgetLine{
			BudgetID:       budget.ID,
			CategoryID:     budget.CategoryID,
			CategoryName:   budget.CategoryName,
			BudgetAmount:   budget.BudgetAmount,
			EstimatedSpend: budget.EstimatedSpend,
			Amount:         remaining,
		})
	}

	return lines
}

func averageObligations(projections []MonthlyProjection) decimal.Decimal {
	if len(projections) == 0 {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, p := range projections {
		total = total.Add(p.TotalObligations)
	}
	return total.Div(decimal.NewFromInt(int64(len(projections)))).Round(moneyPlaces)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
