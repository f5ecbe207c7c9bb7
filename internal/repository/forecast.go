package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"example.com/cashflow-forecast/internal/forecast"
	"example.com/cashflow-forecast/internal/models"
)

type ForecastRepository struct {
	db *pgxpool.Pool
}

// SnapshotRange ограничивает объем данных, читаемых для одного прогноза.
type SnapshotRange struct {
	HistoryFrom time.Time
	HorizonTo   time.Time
}

// NewForecastRepository создает репозиторий входных данных прогноза.
func NewForecastRepository(db *pgxpool.Pool) *ForecastRepository {
	return &ForecastRepository{db: db}
}

// NewSnapshotRange возвращает диапазон от начала окна истории до конца
// последнего прогнозируемого месяца.
func NewSnapshotRange(now time.Time, monthsBack, monthsAhead int) (SnapshotRange, error) {
	if monthsAhead <= 0 {
		return SnapshotRange{}, ErrInvalid
	}

	window, err := forecast.NewWindow(now, monthsBack)
	if err != nil {
		return SnapshotRange{}, ErrInvalid
	}

	last := forecast.MonthOf(now.UTC()).AddMonths(monthsAhead - 1)
	return SnapshotRange{HistoryFrom: window.Start, HorizonTo: last.End()}, nil
}

// Entity возвращает сущность, доступную пользователю.
func (r *ForecastRepository) Entity(ctx context.Context, userID, entityID uuid.UUID) (models.Entity, error) {
	var entity models.Entity

	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at
		 FROM entities
		 WHERE id = $1 AND user_id = $2`,
		entityID, userID,
	).Scan(&entity.ID, &entity.Name, &entity.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return entity, ErrNotFound
		}
		return entity, err
	}

	return entity, nil
}

// LoadSnapshot читает все коллекции сущности параллельно, один раз на расчет.
func (r *ForecastRepository) LoadSnapshot(ctx context.Context, entityID uuid.UUID, rng SnapshotRange) (forecast.Snapshot, error) {
	snapshot := forecast.Snapshot{EntityID: entityID}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		txs, err := r.transactions(gctx, entityID, rng.HistoryFrom)
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		snapshot.Transactions = txs
		return nil
	})

	g.Go(func() error {
		instances, err := r.scheduledInstances(gctx, entityID, rng.HorizonTo)
		if err != nil {
			return fmt.Errorf("load scheduled instances: %w", err)
		}
		snapshot.ScheduledInstances = instances
		return nil
	})

	g.Go(func() error {
		payments, err := r.debtPayments(gctx, entityID, rng.HistoryFrom, rng.HorizonTo)
		if err != nil {
			return fmt.Errorf("load debt payments: %w", err)
		}
		snapshot.DebtPayments = payments
		return nil
	})

	g.Go(func() error {
		budgets, err := r.budgets(gctx, entityID)
		if err != nil {
			return fmt.Errorf("load budgets: %w", err)
		}
		snapshot.Budgets = budgets
		return nil
	})

	g.Go(func() error {
		accounts, err := r.accounts(gctx, entityID)
		if err != nil {
			return fmt.Errorf("load accounts: %w", err)
		}
		snapshot.Accounts = accounts
		return nil
	})

	g.Go(func() error {
		loans, err := r.receivables(gctx, entityID)
		if err != nil {
			return fmt.Errorf("load receivables: %w", err)
		}
		snapshot.Loans = loans
		return nil
	})

	if err := g.Wait(); err != nil {
		return forecast.Snapshot{}, err
	}

	return snapshot, nil
}

func (r *ForecastRepository) transactions(ctx context.Context, entityID uuid.UUID, from time.Time) ([]models.Transaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.id, t.entity_id, t.transaction_date, t.amount, t.direction,
		        c.id, COALESCE(c.name, ''), COALESCE(tt.code, ''), COALESCE(tt.affects_cashflow, true)
		 FROM transactions t
		 LEFT JOIN categories c ON c.id = t.category_id
		 LEFT JOIN transaction_types tt ON tt.id = t.type_id
		 WHERE t.entity_id = $1 AND t.transaction_date >= $2
		 ORDER BY t.transaction_date, t.id`,
		entityID, from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		var tx models.Transaction
		var categoryID *uuid.UUID
		err := rows.Scan(&tx.ID, &tx.EntityID, &tx.Date, &tx.Amount, &tx.Direction,
			&categoryID, &tx.CategoryName, &tx.TypeCode, &tx.AffectsCashflow)
		if err != nil {
			return nil, err
		}
		tx.CategoryID = categoryOrNil(categoryID)
		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txs, nil
}

func (r *ForecastRepository) scheduledInstances(ctx context.Context, entityID uuid.UUID, to time.Time) ([]models.ScheduledPaymentInstance, error) {
	rows, err := r.db.Query(ctx,
		`SELECT i.id, sp.id, sp.entity_id, sp.category_id, COALESCE(c.name, ''),
		        COALESCE(sp.description, ''), i.due_date, i.amount, i.status
		 FROM scheduled_payment_instances i
		 JOIN scheduled_payments sp ON sp.id = i.scheduled_payment_id
		 LEFT JOIN categories c ON c.id = sp.category_id
		 WHERE sp.entity_id = $1
		   AND i.status IN ('pending', 'overdue')
		   AND i.due_date <= $2
		 ORDER BY i.due_date, i.id`,
		entityID, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]models.ScheduledPaymentInstance, 0)
	for rows.Next() {
		var instance models.ScheduledPaymentInstance
		var categoryID *uuid.UUID
		err := rows.Scan(&instance.ID, &instance.ScheduledPaymentID, &instance.EntityID, &categoryID,
			&instance.CategoryName, &instance.Description, &instance.DueDate, &instance.Amount, &instance.Status)
		if err != nil {
			return nil, err
		}
		instance.CategoryID = categoryOrNil(categoryID)
		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

func (r *ForecastRepository) debtPayments(ctx context.Context, entityID uuid.UUID, from, to time.Time) ([]models.DebtPayment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT d.id, d.name, d.debt_type, s.due_date, s.amount
		 FROM debt_payment_schedule s
		 JOIN debts d ON d.id = s.debt_id
		 WHERE d.entity_id = $1
		   AND s.is_paid = false
		   AND s.due_date BETWEEN $2 AND $3
		 ORDER BY s.due_date, d.name`,
		entityID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]models.DebtPayment, 0)
	for rows.Next() {
		var payment models.DebtPayment
		err := rows.Scan(&payment.LoanID, &payment.LoanName, &payment.Type, &payment.DueDate, &payment.Amount)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

// budgets возвращает активные бюджеты с фактическими тратами за их период.
func (r *ForecastRepository) budgets(ctx context.Context, entityID uuid.UUID) ([]models.Budget, error) {
	rows, err := r.db.Query(ctx,
		`SELECT b.id, b.category_id, COALESCE(c.name, ''), b.amount,
		        COALESCE((
		            SELECT SUM(t.amount)
		            FROM transactions t
		            WHERE t.entity_id = b.entity_id
		              AND t.category_id = b.category_id
		              AND t.direction = 'debit'
		              AND t.transaction_date BETWEEN b.period_start AND b.period_end
		        ), 0)
		 FROM budgets b
		 LEFT JOIN categories c ON c.id = b.category_id
		 WHERE b.entity_id = $1
		   AND b.period_end >= CURRENT_DATE
		 ORDER BY c.name`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	budgets := make([]models.Budget, 0)
	for rows.Next() {
		var budget models.Budget
		var categoryID *uuid.UUID
		err := rows.Scan(&budget.ID, &categoryID, &budget.CategoryName, &budget.BudgetAmount, &budget.EstimatedSpend)
		if err != nil {
			return nil, err
		}
		budget.CategoryID = categoryOrNil(categoryID)
		budgets = append(budgets, budget)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return budgets, nil
}

func (r *ForecastRepository) accounts(ctx context.Context, entityID uuid.UUID) ([]models.Account, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, account_type, current_balance, is_active
		 FROM accounts
		 WHERE entity_id = $1
		 ORDER BY name`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]models.Account, 0)
	for rows.Next() {
		var account models.Account
		err := rows.Scan(&account.ID, &account.Name, &account.Type, &account.CurrentBalance, &account.IsActive)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (r *ForecastRepository) receivables(ctx context.Context, entityID uuid.UUID) ([]models.LoanReceivable, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, borrower_name, remaining_balance, due_date, status
		 FROM loans_receivable
		 WHERE entity_id = $1
		 ORDER BY due_date NULLS LAST, borrower_name`,
		entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := make([]models.LoanReceivable, 0)
	for rows.Next() {
		var loan models.LoanReceivable
		err := rows.Scan(&loan.ID, &loan.BorrowerName, &loan.RemainingBalance, &loan.DueDate, &loan.Status)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return loans, nil
}

// categoryOrNil превращает NULL в category_id в uuid.Nil: записи без категории
// остаются в выборке, а не ломают сканирование.
func categoryOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
