package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/cashflow-forecast/internal/models"
)

// TestApplyExclusionsRecompute проверяет перерасчет итогов и остатков после исключения категории.
func TestApplyExclusionsRecompute(t *testing.T) {
	f := newFixture()
	third := MonthOf(testNow).AddMonths(2)
	f.snapshot.ScheduledInstances = []models.ScheduledPaymentInstance{
		scheduledInstance(f.office.categoryID, "Office Supplies", third.Start(), "100", models.InstanceStatusPending),
	}

	result, err := testEngine().Project(f.snapshot, baseParams(6))
	require.NoError(t, err)
	base := result.Projections

	excluded := ApplyExclusions(base, []string{"  office SUPPLIES "}, DefaultHealthPolicy())
	require.Len(t, excluded, len(base))

	shift := dec("0")
	for i := range base {
		if office := findExpense(base[i].PredictedExpenses, "Office Supplies"); office != nil {
			shift = shift.Add(office.Amount)
			assert.True(t, excluded[i].TotalPredicted.Equal(base[i].TotalPredicted.Sub(office.Amount)), "month %d", i)
		} else {
			assert.True(t, excluded[i].TotalPredicted.Equal(base[i].TotalPredicted), "month %d", i)
		}

		assert.Nil(t, findExpense(excluded[i].PredictedExpenses, "Office Supplies"))
		assert.True(t, excluded[i].ClosingBalance.Equal(base[i].ClosingBalance.Add(shift)), "month %d", i)
		if i+1 < len(excluded) {
			assert.True(t, excluded[i+1].OpeningBalance.Equal(excluded[i].ClosingBalance))
		}
	}

	// В третьем месяце категория полностью покрыта платежом, сдвиг не растет.
	assert.Nil(t, findExpense(base[2].PredictedExpenses, "Office Supplies"))
	assert.True(t, excluded[2].ClosingBalance.Sub(base[2].ClosingBalance).Equal(dec("200")))
}

// TestApplyExclusionsPure проверяет, что функция не меняет вход и идемпотентна.
func TestApplyExclusionsPure(t *testing.T) {
	f := newFixture()
	result, err := testEngine().Project(f.snapshot, baseParams(3))
	require.NoError(t, err)
	base := result.Projections
	before := len(base[0].PredictedExpenses)

	once := ApplyExclusions(base, []string{"Rent"}, DefaultHealthPolicy())
	twice := ApplyExclusions(once, []string{"Rent"}, DefaultHealthPolicy())
	again := ApplyExclusions(base, []string{"Rent"}, DefaultHealthPolicy())

	assert.Equal(t, once, twice)
	assert.Equal(t, once, again)
	assert.Len(t, base[0].PredictedExpenses, before)
	assert.NotNil(t, findExpense(base[0].PredictedExpenses, "Rent"))

	none := ApplyExclusions(base, nil, DefaultHealthPolicy())
	assert.Equal(t, base, none)

	assert.Empty(t, ApplyExclusions(nil, []string{"Rent"}, DefaultHealthPolicy()))
}

// TestProjectWithExclusionParam проверяет применение исключений внутри Project.
func TestProjectWithExclusionParam(t *testing.T) {
	f := newFixture()
	params := baseParams(2)
	params.ExcludedCategories = []string{"Rent"}

	result, err := testEngine().Project(f.snapshot, params)
	require.NoError(t, err)

	for _, p := range result.Projections {
		assert.Nil(t, findExpense(p.PredictedExpenses, "Rent"))
		assert.Equal(t, HealthSurplus, p.Health)
	}
}

// TestWithExclusionsRunway проверяет пересчет запаса хода после исключения.
func TestWithExclusionsRunway(t *testing.T) {
	f := newFixture()
	f.snapshot.Transactions = f.snapshot.Transactions[:12]
	engine := testEngine()

	base, err := engine.Project(f.snapshot, baseParams(6))
	require.NoError(t, err)
	assert.True(t, base.Runway.MonthlyBurnRate.Equal(dec("250000")))

	excluded := engine.WithExclusions(base, []string{"rent"})
	assert.True(t, excluded.Runway.MonthlyBurnRate.IsZero())
	assert.True(t, excluded.Runway.Unbounded)
	assert.True(t, excluded.Projections[5].ClosingBalance.Equal(dec("2200000")))

	// Исходный результат не изменился.
	assert.True(t, base.Runway.MonthlyBurnRate.Equal(dec("250000")))
	assert.NotNil(t, findExpense(base.Projections[0].PredictedExpenses, "Rent"))
	assert.Equal(t, base, engine.WithExclusions(base, nil))
}
