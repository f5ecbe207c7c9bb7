package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cashflow-forecast/internal/models"
)

type fixture struct {
	entityID uuid.UUID
	salary   txBuilder
	rent     txBuilder
	office   txBuilder
	food     txBuilder
	snapshot Snapshot
}

// newFixture строит сущность с зарплатой 200000, арендой 250000 и канцелярией около 100 в месяц.
func newFixture() fixture {
	f := fixture{
		entityID: uuid.New(),
		salary:   creditCategory("Salary"),
		rent:     debitCategory("Rent"),
		office:   debitCategory("Office Supplies"),
		food:     debitCategory("Food"),
	}

	var txs []models.Transaction
	for _, m := range []time.Month{time.May, time.June, time.July, time.August, time.September, time.October} {
		txs = append(txs, f.salary.tx(day(2026, m, 1), "200000"))
		txs = append(txs, f.rent.tx(day(2026, m, 2), "250000"))
	}
	txs = append(txs,
		f.office.tx(day(2026, time.June, 10), "95"),
		f.office.tx(day(2026, time.July, 10), "105"),
		f.office.tx(day(2026, time.August, 10), "95"),
		f.office.tx(day(2026, time.September, 10), "105"),
	)

	f.snapshot = Snapshot{
		EntityID:           f.entityID,
		Transactions:       txs,
		ScheduledInstances: []models.ScheduledPaymentInstance{},
		DebtPayments:       []models.DebtPayment{},
		Budgets:            []models.Budget{},
		Accounts:           []models.Account{cashAccount("1000000")},
		Loans:              []models.LoanReceivable{},
	}
	return f
}

func testEngine() *Engine {
	return NewEngine(nil, Options{})
}

func baseParams(monthsAhead int) Params {
	return Params{MonthsBack: 6, MonthsAhead: monthsAhead, Now: testNow}
}

// TestProjectWithOpeningBalance проверяет прогноз от остатка 1000000.
func TestProjectWithOpeningBalance(t *testing.T) {
	f := newFixture()
	f.snapshot.Transactions = f.snapshot.Transactions[:12]

	result, err := testEngine().Project(f.snapshot, baseParams(2))
	require.NoError(t, err)
	require.Len(t, result.Projections, 2)

	first := result.Projections[0]
	assert.Equal(t, "2026-10", first.Month.String())
	assert.True(t, first.OpeningBalance.Equal(dec("1000000")))
	assert.True(t, first.ProjectedIncome.Equal(dec("200000")))
	assert.True(t, first.TotalObligations.Equal(dec("250000")))
	assert.True(t, first.ClosingBalance.Equal(dec("950000")), "closing %s", first.ClosingBalance)
	assert.Equal(t, HealthSurplus, first.Health)

	second := result.Projections[1]
	assert.True(t, second.OpeningBalance.Equal(dec("950000")))
	assert.True(t, second.ClosingBalance.Equal(dec("900000")))
}

// TestProjectInvariants проверяет цепочку остатков и формулы итогов.
func TestProjectInvariants(t *testing.T) {
	f := newFixture()
	f.snapshot.DebtPayments = []models.DebtPayment{
		{LoanID: uuid.New(), LoanName: "Car loan", Type: "installment", DueDate: day(2026, time.November, 5), Amount: dec("15000")},
	}
	f.snapshot.ScheduledInstances = []models.ScheduledPaymentInstance{
		scheduledInstance(f.rent.categoryID, "Rent", day(2026, time.December, 1), "250000", models.InstanceStatusPending),
	}
	current := dec("1234.56")
	params := baseParams(12)
	params.CurrentBalance = &current

	result, err := testEngine().Project(f.snapshot, params)
	require.NoError(t, err)
	require.Len(t, result.Projections, 12)
	assert.True(t, result.Projections[0].OpeningBalance.Equal(current))

	for i, p := range result.Projections {
		obligations := p.TotalDebt.Add(p.TotalScheduled).Add(p.TotalPredicted).Add(p.TotalBudgets)
		assert.True(t, p.TotalObligations.Equal(obligations), "month %d", i)
		assert.True(t, p.ClosingBalance.Equal(p.OpeningBalance.Add(p.ProjectedIncome).Sub(p.TotalObligations)), "month %d", i)
		if i+1 < len(result.Projections) {
			assert.True(t, result.Projections[i+1].OpeningBalance.Equal(p.ClosingBalance), "month %d", i)
		}
	}

	november := result.Projections[1]
	assert.True(t, november.TotalDebt.Equal(dec("15000")))

	december := result.Projections[2]
	assert.True(t, december.TotalScheduled.Equal(dec("250000")))
	for _, e := range december.PredictedExpenses {
		assert.NotEqual(t, "Rent", e.CategoryName)
	}
}

// TestProjectScheduledGap проверяет пример с канцелярией в пятом месяце.
func TestProjectScheduledGap(t *testing.T) {
	for _, tc := range []struct {
		scheduled string
		wantGap   bool
	}{
		{scheduled: "60", wantGap: true},
		{scheduled: "120", wantGap: false},
	} {
		f := newFixture()
		fifth := MonthOf(testNow).AddMonths(4)
		f.snapshot.ScheduledInstances = []models.ScheduledPaymentInstance{
			scheduledInstance(f.office.categoryID, "Office Supplies", fifth.Start().AddDate(0, 0, 14), tc.scheduled, models.InstanceStatusPending),
		}

		result, err := testEngine().Project(f.snapshot, baseParams(6))
		require.NoError(t, err)

		month := result.Projections[4]
		require.Equal(t, fifth, month.Month)

		office := findExpense(month.PredictedExpenses, "Office Supplies")
		if !tc.wantGap {
			assert.Nil(t, office)
			assert.True(t, month.TotalScheduled.Equal(dec("120")))
			assert.True(t, month.TotalPredicted.Equal(dec("250000")))
			continue
		}

		require.NotNil(t, office)
		assert.Equal(t, 4, office.MonthsOfData)
		assert.Equal(t, ConfidenceHigh, office.Confidence)
		assert.True(t, office.HasGap)
		assert.True(t, office.Amount.Equal(dec("40")))
		assert.True(t, office.HistoricalAverage.Equal(dec("100")))
		require.NotNil(t, office.ScheduledAmount)
		assert.True(t, office.ScheduledAmount.Equal(dec("60")))

		// Категория учтена ровно на среднее: 60 в запланированных и 40 в прогнозе.
		assert.True(t, month.TotalScheduled.Add(month.TotalPredicted).Equal(dec("250100")))

		other := result.Projections[3]
		otherOffice := findExpense(other.PredictedExpenses, "Office Supplies")
		require.NotNil(t, otherOffice)
		assert.False(t, otherOffice.HasGap)
		assert.True(t, otherOffice.Amount.Equal(dec("100")))
	}
}

// TestProjectBudgetsFillGaps проверяет, что бюджеты учитываются только для непокрытых категорий.
func TestProjectBudgetsFillGaps(t *testing.T) {
	f := newFixture()
	f.snapshot.Budgets = []models.Budget{
		{ID: uuid.New(), CategoryID: f.rent.categoryID, CategoryName: "Rent", BudgetAmount: dec("300000"), EstimatedSpend: dec("0")},
		{ID: uuid.New(), CategoryName: "office supplies", BudgetAmount: dec("500"), EstimatedSpend: dec("0")},
		{ID: uuid.New(), CategoryID: uuid.New(), CategoryName: "Travel", BudgetAmount: dec("1000"), EstimatedSpend: dec("400")},
		{ID: uuid.New(), CategoryID: uuid.New(), CategoryName: "Training", BudgetAmount: dec("100"), EstimatedSpend: dec("150")},
	}

	result, err := testEngine().Project(f.snapshot, baseParams(3))
	require.NoError(t, err)

	for _, p := range result.Projections {
		require.Len(t, p.Budgets, 1)
		assert.Equal(t, "Travel", p.Budgets[0].CategoryName)
		assert.True(t, p.TotalBudgets.Equal(dec("600")))
	}
}

// TestProjectHealth проверяет классификацию состояния месяцев.
func TestProjectHealth(t *testing.T) {
	f := newFixture()
	f.snapshot.Transactions = f.snapshot.Transactions[:12]
	current := dec("100000")
	params := baseParams(4)
	params.CurrentBalance = &current

	result, err := testEngine().Project(f.snapshot, params)
	require.NoError(t, err)

	// 100000 -> 50000 -> 0 -> -50000 -> -100000 при обязательствах 250000.
	assert.Equal(t, HealthTight, result.Projections[0].Health)
	assert.Equal(t, HealthTight, result.Projections[1].Health)
	assert.Equal(t, HealthDeficit, result.Projections[2].Health)
	assert.Equal(t, HealthDeficit, result.Projections[3].Health)

	zero := HealthPolicy{TightBufferMonths: decimal.Zero}
	loose := NewEngine(nil, Options{Health: &zero})
	result, err = loose.Project(f.snapshot, params)
	require.NoError(t, err)
	assert.Equal(t, HealthSurplus, result.Projections[0].Health)
	assert.Equal(t, HealthSurplus, result.Projections[1].Health)
}

// TestProjectIdempotent проверяет, что повторный расчет дает тот же результат.
func TestProjectIdempotent(t *testing.T) {
	f := newFixture()
	engine := testEngine()

	first, err := engine.Project(f.snapshot, baseParams(6))
	require.NoError(t, err)
	second, err := engine.Project(f.snapshot, baseParams(6))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// TestProjectValidation проверяет отказ при некорректных параметрах и отсутствии данных.
func TestProjectValidation(t *testing.T) {
	f := newFixture()
	engine := testEngine()

	for _, params := range []Params{
		{MonthsBack: 0, MonthsAhead: 6, Now: testNow},
		{MonthsBack: 6, MonthsAhead: 0, Now: testNow},
		{MonthsBack: 6, MonthsAhead: -1, Now: testNow},
		{MonthsBack: 6, MonthsAhead: DefaultMaxMonthsAhead + 1, Now: testNow},
		{MonthsBack: 6, MonthsAhead: 3, Now: testNow, StartMonth: MonthKey{Year: 2026, Month: 13}},
	} {
		_, err := engine.Project(f.snapshot, params)
		var invalid *InvalidParameterError
		assert.True(t, errors.As(err, &invalid), "params %+v", params)
	}

	missing := f.snapshot
	missing.Accounts = nil
	_, err := engine.Project(missing, baseParams(3))
	var missingErr *MissingDataError
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, "accounts", missingErr.Collection)

	missing = f.snapshot
	missing.Transactions = nil
	_, err = engine.Project(missing, baseParams(3))
	require.True(t, errors.As(err, &missingErr))
	assert.Equal(t, "transactions", missingErr.Collection)
}

// TestProjectRunway проверяет расчет запаса хода по итогам прогноза.
func TestProjectRunway(t *testing.T) {
	f := newFixture()
	f.snapshot.Transactions = f.snapshot.Transactions[:12]

	result, err := testEngine().Project(f.snapshot, baseParams(6))
	require.NoError(t, err)

	runway := result.Runway
	assert.True(t, runway.MonthlyBurnRate.Equal(dec("250000")))
	assert.True(t, runway.NetBurn.Equal(dec("50000")))
	require.NotNil(t, runway.CashRunwayMonths)
	assert.InDelta(t, 20.0, *runway.CashRunwayMonths, 1e-9)
	assert.False(t, runway.WillRunOutOfCash)
}

func findExpense(expenses []PredictedExpense, name string) *PredictedExpense {
	for i := range expenses {
		if expenses[i].CategoryName == name {
			return &expenses[i]
		}
	}
	return nil
}

// TestNewEngineKeepsTransferExclusions проверяет, что настроенные коды
// дополняют исключения переводов, а не заменяют их.
func TestNewEngineKeepsTransferExclusions(t *testing.T) {
	transfers := creditCategory("Transfers")
	fees := creditCategory("Fee Refunds")

	var txs []models.Transaction
	for _, m := range []time.Month{time.July, time.August, time.September, time.October} {
		transfer := transfers.tx(day(2026, m, 5), "5000")
		transfer.TypeCode = models.TypeCodeTransferIn
		fee := fees.tx(day(2026, m, 6), "300")
		fee.TypeCode = "FEE"
		txs = append(txs, transfer, fee)
	}

	snapshot := Snapshot{
		EntityID:     uuid.New(),
		Transactions: txs,
		Accounts:     []models.Account{cashAccount("0")},
	}

	cases := []struct {
		name      string
		codes     []string
		wantTotal string
	}{
		{name: "nil", codes: nil, wantTotal: "300"},
		{name: "empty", codes: []string{}, wantTotal: "300"},
		{name: "extra code", codes: []string{"fee"}, wantTotal: "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(nil, Options{ExcludedTypeCodes: tc.codes})

			result, err := engine.Project(snapshot, baseParams(3))
			require.NoError(t, err)

			for _, income := range result.Income {
				assert.NotEqual(t, "Transfers", income.CategoryName)
			}
			assert.True(t, result.TotalPredictedIncome.Equal(dec(tc.wantTotal)), "total %s", result.TotalPredictedIncome)
		})
	}
}

// TestProjectCarriesOverdueDebt проверяет перенос неоплаченного долга в первый месяц.
func TestProjectCarriesOverdueDebt(t *testing.T) {
	f := newFixture()
	loanID := uuid.New()
	f.snapshot.DebtPayments = []models.DebtPayment{
		{LoanID: loanID, LoanName: "Bank loan", DueDate: day(2026, time.September, 20), Amount: dec("5000")},
		{LoanID: loanID, LoanName: "Bank loan", DueDate: day(2026, time.November, 20), Amount: dec("7000")},
	}

	result, err := testEngine().Project(f.snapshot, baseParams(3))
	require.NoError(t, err)

	require.Len(t, result.Projections[0].DebtPayments, 1)
	assert.True(t, result.Projections[0].TotalDebt.Equal(dec("5000")))
	require.Len(t, result.Projections[1].DebtPayments, 1)
	assert.True(t, result.Projections[1].TotalDebt.Equal(dec("7000")))
	assert.Empty(t, result.Projections[2].DebtPayments)
}

// TestProjectUncategorizedObligations проверяет платежи и бюджеты без категории.
func TestProjectUncategorizedObligations(t *testing.T) {
	f := newFixture()
	f.snapshot.ScheduledInstances = []models.ScheduledPaymentInstance{
		scheduledInstance(uuid.Nil, "", day(2026, time.October, 25), "1200", models.InstanceStatusPending),
	}
	f.snapshot.Budgets = []models.Budget{
		{ID: uuid.New(), CategoryID: uuid.Nil, BudgetAmount: dec("500"), EstimatedSpend: dec("100")},
	}

	result, err := testEngine().Project(f.snapshot, baseParams(2))
	require.NoError(t, err)

	first := result.Projections[0]
	assert.True(t, first.TotalScheduled.Equal(dec("1200")))
	require.Len(t, first.Budgets, 1)
	assert.True(t, first.Budgets[0].Amount.Equal(dec("400")))
	assert.True(t, result.Projections[1].TotalScheduled.IsZero())
}
