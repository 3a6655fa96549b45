package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/loan"
)

const fundColumns = `id, code, name, type, academic_year, is_active, current_balance, total_income,
	total_expenses, capacity, alert_level1, alert_level2, alert_level3, created_at, updated_at`

var (
	fundOrderings   = map[string]bool{}
	fundNumericCols = map[string]bool{"current_balance": true}
)

func init() {
	for _, field := range fund.OrderingFields {
		fundOrderings[field] = true
	}
}

type fundRow struct {
	ID             string          `db:"id"`
	Code           string          `db:"code"`
	Name           string          `db:"name"`
	Type           string          `db:"type"`
	AcademicYear   int             `db:"academic_year"`
	IsActive       bool            `db:"is_active"`
	CurrentBalance decimal.Decimal `db:"current_balance"`
	TotalIncome    decimal.Decimal `db:"total_income"`
	TotalExpenses  decimal.Decimal `db:"total_expenses"`
	Capacity       decimal.Decimal `db:"capacity"`
	AlertLevel1    int             `db:"alert_level1"`
	AlertLevel2    int             `db:"alert_level2"`
	AlertLevel3    int             `db:"alert_level3"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func (r fundRow) unrow() fund.Fund {
	return fund.Fund{
		ID:             r.ID,
		Code:           r.Code,
		Name:           r.Name,
		Type:           r.Type,
		AcademicYear:   r.AcademicYear,
		IsActive:       r.IsActive,
		CurrentBalance: r.CurrentBalance,
		TotalIncome:    r.TotalIncome,
		TotalExpenses:  r.TotalExpenses,
		Capacity:       r.Capacity,
		AlertLevel1:    r.AlertLevel1,
		AlertLevel2:    r.AlertLevel2,
		AlertLevel3:    r.AlertLevel3,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type fundRepository struct {
	baseRepository
}

var _ fund.Repository = (*fundRepository)(nil) // interface compliance check

func NewFundRepository(exec core.DBExecutor) *fundRepository {
	return &fundRepository{baseRepository{exec: exec}}
}

func (repo fundRepository) CreateFund(ctx context.Context, fnd fund.Fund, exec ...core.DBExecutor) (fund.Fund, error) {
	ex := repo.getExec(exec)
	fnd.ID = uuid.New().String()
	q := `INSERT INTO funds (` + fundColumns + `) VALUES (` + placeholders(15) + `)`
	_, err := ex.ExecContext(ctx, ex.Rebind(q),
		fnd.ID, fnd.Code, fnd.Name, fnd.Type, fnd.AcademicYear, fnd.IsActive,
		fnd.CurrentBalance, fnd.TotalIncome, fnd.TotalExpenses, fnd.Capacity,
		fnd.AlertLevel1, fnd.AlertLevel2, fnd.AlertLevel3, fnd.CreatedAt.UTC(), fnd.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fund.Fund{}, fund.ErrCodeExists
		}
		return fund.Fund{}, errors.Wrap(err, "inserting fund")
	}
	return fnd, nil
}

func (repo fundRepository) GetFund(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (fund.Fund, error) {
	ex := repo.getExec(exec)
	var row fundRow
	q := `SELECT ` + fundColumns + ` FROM funds WHERE id = ?` + lockClause(ex, forUpdate)
	if err := ex.GetContext(ctx, &row, ex.Rebind(q), id); err != nil {
		return fund.Fund{}, trapNoRowsErr(err, fund.ErrNotFound, "getting fund")
	}
	return row.unrow(), nil
}

func (repo fundRepository) GetFundByCode(ctx context.Context, code string, exec ...core.DBExecutor) (fund.Fund, error) {
	ex := repo.getExec(exec)
	var row fundRow
	q := `SELECT ` + fundColumns + ` FROM funds WHERE code = ?`
	if err := ex.GetContext(ctx, &row, ex.Rebind(q), code); err != nil {
		return fund.Fund{}, trapNoRowsErr(err, fund.ErrNotFound, "getting fund by code")
	}
	return row.unrow(), nil
}

func (repo fundRepository) QueryFunds(ctx context.Context, filter *fund.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]fund.Fund, error) {
	ex := repo.getExec(exec)
	var w where
	if filter != nil {
		// funds with Code or Name matching the search keyword
		if filter.Search != "" {
			val := "%" + strings.ToLower(filter.Search) + "%"
			w.add("(LOWER(code) LIKE ? OR LOWER(name) LIKE ?)", val, val)
		}
		if len(filter.Types) > 0 {
			args := make([]interface{}, 0, len(filter.Types))
			for _, typ := range filter.Types {
				args = append(args, typ)
			}
			w.add("type IN ("+placeholders(len(args))+")", args...)
		}
		if filter.AcademicYear != 0 {
			w.add("academic_year = ?", filter.AcademicYear)
		}
		if filter.IsActive != nil {
			w.add("is_active = ?", *filter.IsActive)
		}
	}

	q := `SELECT ` + fundColumns + ` FROM funds` + w.String() +
		orderBy(ex, ordering, fundOrderings, fundNumericCols, "code ASC")
	var rows []fundRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying funds")
	}
	funds := make([]fund.Fund, 0, len(rows))
	for _, row := range rows {
		funds = append(funds, row.unrow())
	}
	return funds, nil
}

func (repo fundRepository) UpdateFund(ctx context.Context, fnd fund.Fund, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q := `UPDATE funds SET name = ?, is_active = ?, capacity = ?, alert_level1 = ?, alert_level2 = ?,
		alert_level3 = ?, updated_at = ? WHERE id = ?`
	res, err := ex.ExecContext(ctx, ex.Rebind(q),
		fnd.Name, fnd.IsActive, fnd.Capacity, fnd.AlertLevel1, fnd.AlertLevel2, fnd.AlertLevel3,
		fnd.UpdatedAt.UTC(), fnd.ID)
	if err != nil {
		return errors.Wrap(err, "updating fund")
	}
	return checkAffected(res, fund.ErrNotFound)
}

func (repo fundRepository) UpdateFundBalances(ctx context.Context, fnd fund.Fund, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q := `UPDATE funds SET current_balance = ?, total_income = ?, total_expenses = ?, updated_at = ? WHERE id = ?`
	res, err := ex.ExecContext(ctx, ex.Rebind(q),
		fnd.CurrentBalance, fnd.TotalIncome, fnd.TotalExpenses, fnd.UpdatedAt.UTC(), fnd.ID)
	if err != nil {
		return errors.Wrap(err, "updating fund balances")
	}
	return checkAffected(res, fund.ErrNotFound)
}

func (repo fundRepository) CountOpenLoans(ctx context.Context, fundID string, exec ...core.DBExecutor) (int, error) {
	ex := repo.getExec(exec)
	args := []interface{}{fundID, fundID}
	for _, st := range loan.OpenStatuses {
		args = append(args, string(st))
	}
	q := `SELECT COUNT(*) FROM loans WHERE (lender_fund_id = ? OR borrower_fund_id = ?) AND status IN (` +
		placeholders(len(loan.OpenStatuses)) + `)`
	var count int
	if err := ex.GetContext(ctx, &count, ex.Rebind(q), args...); err != nil {
		return 0, errors.Wrap(err, "counting open loans")
	}
	return count, nil
}
