package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
)

const transactionColumns = `id, fund_id, amount, category, description, actor, reference, loan_id, external_ref, created_at`

type transactionRow struct {
	ID          string          `db:"id"`
	FundID      string          `db:"fund_id"`
	Amount      decimal.Decimal `db:"amount"`
	Category    string          `db:"category"`
	Description string          `db:"description"`
	Actor       string          `db:"actor"`
	Reference   string          `db:"reference"`
	LoanID      null.String     `db:"loan_id"`
	ExternalRef null.String     `db:"external_ref"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r transactionRow) unrow() fund.Transaction {
	return fund.Transaction{
		ID:          r.ID,
		FundID:      r.FundID,
		Amount:      r.Amount,
		Category:    fund.Category(r.Category),
		Description: r.Description,
		Actor:       r.Actor,
		Reference:   r.Reference,
		LoanID:      r.LoanID.String,
		ExternalRef: r.ExternalRef.String,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func unrowTransactions(rows []transactionRow) []fund.Transaction {
	txns := make([]fund.Transaction, 0, len(rows))
	for _, row := range rows {
		txns = append(txns, row.unrow())
	}
	return txns
}

func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "getting affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// Transactions are only ever inserted: the tables reject UPDATE and DELETE.

func (repo fundRepository) CreateTransaction(ctx context.Context, txn fund.Transaction, exec ...core.DBExecutor) (fund.Transaction, error) {
	ex := repo.getExec(exec)
	txn.ID = uuid.New().String()
	q := `INSERT INTO transactions (` + transactionColumns + `) VALUES (` + placeholders(10) + `)`
	_, err := ex.ExecContext(ctx, ex.Rebind(q),
		txn.ID, txn.FundID, txn.Amount, string(txn.Category), txn.Description, txn.Actor, txn.Reference,
		null.NewString(txn.LoanID, txn.LoanID != ""), null.NewString(txn.ExternalRef, txn.ExternalRef != ""),
		txn.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fund.Transaction{}, fund.ErrExternalRefExists
		}
		return fund.Transaction{}, errors.Wrap(err, "inserting transaction")
	}
	return txn, nil
}

func (repo fundRepository) GetTransactionByExternalRef(ctx context.Context, ref string, exec ...core.DBExecutor) (fund.Transaction, error) {
	ex := repo.getExec(exec)
	var row transactionRow
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_ref = ?`
	if err := ex.GetContext(ctx, &row, ex.Rebind(q), ref); err != nil {
		return fund.Transaction{}, trapNoRowsErr(err, fund.ErrTransactionNotFound, "getting transaction by external ref")
	}
	return row.unrow(), nil
}

func (repo fundRepository) QueryTransactions(ctx context.Context, filter fund.TransactionFilter, exec ...core.DBExecutor) ([]fund.Transaction, int, error) {
	ex := repo.getExec(exec)
	var w where
	if filter.FundID != "" {
		w.add("fund_id = ?", filter.FundID)
	}
	if len(filter.Categories) > 0 {
		args := make([]interface{}, 0, len(filter.Categories))
		for _, cat := range filter.Categories {
			args = append(args, cat)
		}
		w.add("category IN ("+placeholders(len(args))+")", args...)
	}
	if filter.Reference != "" {
		w.add("reference = ?", filter.Reference)
	}
	if filter.LoanID != "" {
		w.add("loan_id = ?", filter.LoanID)
	}
	if !filter.CreatedFrom.IsZero() {
		w.add("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		w.add("created_at <= ?", filter.CreatedTo.UTC())
	}

	var count int
	if err := ex.GetContext(ctx, &count, ex.Rebind(`SELECT COUNT(*) FROM transactions`+w.String()), w.args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting transactions")
	}

	q := `SELECT ` + transactionColumns + ` FROM transactions` + w.String() +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args := append(w.args, filter.Limit, filter.Offset)
	var rows []transactionRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(q), args...); err != nil {
		return nil, 0, errors.Wrap(err, "querying transactions")
	}
	return unrowTransactions(rows), count, nil
}

// LedgerTotals sums the ledger in Go: SQLite has no exact decimal arithmetic.
func (repo fundRepository) LedgerTotals(ctx context.Context, fundID string, exec ...core.DBExecutor) (fund.LedgerTotals, error) {
	ex := repo.getExec(exec)
	var amounts []decimal.Decimal
	q := `SELECT amount FROM transactions WHERE fund_id = ?`
	if err := ex.SelectContext(ctx, &amounts, ex.Rebind(q), fundID); err != nil {
		return fund.LedgerTotals{}, errors.Wrap(err, "summing ledger")
	}

	totals := fund.LedgerTotals{Income: decimal.Zero, Expenses: decimal.Zero, Entries: len(amounts)}
	for _, amount := range amounts {
		if amount.IsPositive() {
			totals.Income = totals.Income.Add(amount)
		} else {
			totals.Expenses = totals.Expenses.Add(amount.Abs())
		}
	}
	return totals, nil
}

func (repo fundRepository) OrphanedTransferLegs(ctx context.Context, exec ...core.DBExecutor) ([]fund.Transaction, error) {
	ex := repo.getExec(exec)
	legCats := make([]interface{}, 0, len(fund.TransferCategories))
	for _, cat := range fund.TransferCategories {
		legCats = append(legCats, string(cat))
	}
	in := `(` + placeholders(len(legCats)) + `)`

	q := `SELECT ` + transactionColumns + ` FROM transactions t
		WHERE t.category IN ` + in + ` AND t.reference <> ''
		AND (SELECT COUNT(*) FROM transactions o WHERE o.reference = t.reference AND o.category IN ` + in + `) = 1
		AND NOT EXISTS (SELECT 1 FROM transactions a WHERE a.reference = t.reference AND a.category = ?)
		ORDER BY t.created_at, t.id`
	args := make([]interface{}, 0, 2*len(legCats)+1)
	args = append(args, legCats...)
	args = append(args, legCats...)
	args = append(args, string(fund.CategoryAdjustment))

	var rows []transactionRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying orphaned transfer legs")
	}
	return unrowTransactions(rows), nil
}
