package forecast

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/cashflow-forecast/internal/models"
)

// ObligationResolver отвечает, какая часть будущих расходов категории уже
// представлена экземплярами запланированных платежей.
type ObligationResolver struct {
	entityID  uuid.UUID
	instances []models.ScheduledPaymentInstance
	carryTo   MonthKey
}

// NewObligationResolver создает резолвер по экземплярам одной сущности.
func NewObligationResolver(entityID uuid.UUID, instances []models.ScheduledPaymentInstance) *ObligationResolver {
	return &ObligationResolver{entityID: entityID, instances: instances}
}

// CarryOverdueInto переносит просроченные экземпляры с датой до month в этот месяц.
func (r *ObligationResolver) CarryOverdueInto(month MonthKey) *ObligationResolver {
	r.carryTo = month
	return r
}

// Instances возвращает ожидающие и просроченные экземпляры, приходящиеся на месяц.
func (r *ObligationResolver) Instances(month MonthKey) []models.ScheduledPaymentInstance {
	out := make([]models.ScheduledPaymentInstance, 0)
	for _, instance := range r.instances {
		if !r.counts(instance, month) {
			continue
		}
		out = append(out, instance)
	}
	return out
}

// ScheduledAmounts возвращает сумму запланированных платежей по категориям за месяц.
func (r *ObligationResolver) ScheduledAmounts(month MonthKey) map[uuid.UUID]decimal.Decimal {
	amounts := make(map[uuid.UUID]decimal.Decimal)
	for _, instance := range r.Instances(month) {
		amounts[instance.CategoryID] = amounts[instance.CategoryID].Add(instance.Amount)
	}
	return amounts
}

// ScheduledCategories возвращает категории, у которых есть запланированная сумма в месяце.
func (r *ObligationResolver) ScheduledCategories(month MonthKey) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{})
	for categoryID, amount := range r.ScheduledAmounts(month) {
		if amount.IsPositive() {
			set[categoryID] = struct{}{}
		}
	}
	return set
}

func (r *ObligationResolver) counts(instance models.ScheduledPaymentInstance, month MonthKey) bool {
	if r.entityID != uuid.Nil && instance.EntityID != uuid.Nil && instance.EntityID != r.entityID {
		return false
	}

	switch instance.Status {
	case models.InstanceStatusPending, models.InstanceStatusOverdue:
	default:
		return false
	}

	due := instance.DueDate.UTC()
	if month.Contains(due) {
		return true
	}

	return !r.carryTo.IsZero() &&
		month == r.carryTo &&
		instance.Status == models.InstanceStatusOverdue &&
		MonthOf(due).Before(r.carryTo)
}
