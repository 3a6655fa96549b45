package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/loan"
)

const loanColumns = `id, lender_fund_id, borrower_fund_id, principal, pending_amount, reason, status,
	requested_by, decided_by, requested_at, due_date, approved_at, rejected_at, closed_at, version, updated_at`

type loanRow struct {
	ID             string          `db:"id"`
	LenderFundID   string          `db:"lender_fund_id"`
	BorrowerFundID string          `db:"borrower_fund_id"`
	Principal      decimal.Decimal `db:"principal"`
	PendingAmount  decimal.Decimal `db:"pending_amount"`
	Reason         string          `db:"reason"`
	Status         string          `db:"status"`
	RequestedBy    string          `db:"requested_by"`
	DecidedBy      null.String     `db:"decided_by"`
	RequestedAt    time.Time       `db:"requested_at"`
	DueDate        time.Time       `db:"due_date"`
	ApprovedAt     null.Time       `db:"approved_at"`
	RejectedAt     null.Time       `db:"rejected_at"`
	ClosedAt       null.Time       `db:"closed_at"`
	Version        int             `db:"version"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func (r loanRow) unrow() loan.Loan {
	return loan.Loan{
		ID:             r.ID,
		LenderFundID:   r.LenderFundID,
		BorrowerFundID: r.BorrowerFundID,
		Principal:      r.Principal,
		PendingAmount:  r.PendingAmount,
		Reason:         r.Reason,
		Status:         loan.Status(r.Status),
		RequestedBy:    r.RequestedBy,
		DecidedBy:      r.DecidedBy.String,
		RequestedAt:    r.RequestedAt.UTC(),
		DueDate:        r.DueDate.UTC(),
		ApprovedAt:     utcPtr(r.ApprovedAt),
		RejectedAt:     utcPtr(r.RejectedAt),
		ClosedAt:       utcPtr(r.ClosedAt),
		Version:        r.Version,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type loanRepository struct {
	baseRepository
}

var _ loan.Repository = (*loanRepository)(nil) // interface compliance check

func NewLoanRepository(exec core.DBExecutor) *loanRepository {
	return &loanRepository{baseRepository{exec: exec}}
}

func (repo loanRepository) CreateLoan(ctx context.Context, ln loan.Loan, exec ...core.DBExecutor) (loan.Loan, error) {
	ex := repo.getExec(exec)
	ln.ID = uuid.New().String()
	q := `INSERT INTO loans (` + loanColumns + `) VALUES (` + placeholders(16) + `)`
	_, err := ex.ExecContext(ctx, ex.Rebind(q),
		ln.ID, ln.LenderFundID, ln.BorrowerFundID, ln.Principal, ln.PendingAmount, ln.Reason, string(ln.Status),
		ln.RequestedBy, null.NewString(ln.DecidedBy, ln.DecidedBy != ""), ln.RequestedAt.UTC(), ln.DueDate.UTC(),
		nullTime(ln.ApprovedAt), nullTime(ln.RejectedAt), nullTime(ln.ClosedAt), ln.Version, ln.UpdatedAt.UTC())
	if err != nil {
		return loan.Loan{}, errors.Wrap(err, "inserting loan")
	}
	return ln, nil
}

func (repo loanRepository) GetLoan(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (loan.Loan, error) {
	ex := repo.getExec(exec)
	var row loanRow
	q := `SELECT ` + loanColumns + ` FROM loans WHERE id = ?` + lockClause(ex, forUpdate)
	if err := ex.GetContext(ctx, &row, ex.Rebind(q), id); err != nil {
		return loan.Loan{}, trapNoRowsErr(err, loan.ErrNotFound, "getting loan")
	}
	return row.unrow(), nil
}

func (repo loanRepository) QueryLoans(ctx context.Context, filter *loan.QueryFilter, now time.Time, exec ...core.DBExecutor) ([]loan.Loan, error) {
	ex := repo.getExec(exec)
	var w where
	if filter != nil {
		if len(filter.Statuses) > 0 {
			var (
				stored  []interface{}
				overdue bool
			)
			for _, st := range filter.Statuses {
				if loan.Status(st) == loan.StatusOverdue {
					overdue = true
				} else {
					stored = append(stored, st)
				}
			}
			var (
				conds []string
				args  []interface{}
			)
			if len(stored) > 0 {
				conds = append(conds, "status IN ("+placeholders(len(stored))+")")
				args = append(args, stored...)
			}
			if overdue {
				conds = append(conds, "(status IN ("+placeholders(len(loan.DisbursedStatuses))+") AND due_date < ?)")
				for _, st := range loan.DisbursedStatuses {
					args = append(args, string(st))
				}
				args = append(args, now.UTC())
			}
			w.add("("+strings.Join(conds, " OR ")+")", args...)
		}
		if filter.FundID != "" {
			w.add("(lender_fund_id = ? OR borrower_fund_id = ?)", filter.FundID, filter.FundID)
		}
		if filter.LenderFundID != "" {
			w.add("lender_fund_id = ?", filter.LenderFundID)
		}
		if filter.BorrowerFundID != "" {
			w.add("borrower_fund_id = ?", filter.BorrowerFundID)
		}
	}

	q := `SELECT ` + loanColumns + ` FROM loans` + w.String() + ` ORDER BY requested_at DESC, id DESC`
	var rows []loanRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying loans")
	}
	loans := make([]loan.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, row.unrow())
	}
	return loans, nil
}

func (repo loanRepository) UpdateLoan(ctx context.Context, ln loan.Loan, exec ...core.DBExecutor) (loan.Loan, error) {
	ex := repo.getExec(exec)
	q := `UPDATE loans SET pending_amount = ?, status = ?, decided_by = ?, approved_at = ?, rejected_at = ?,
		closed_at = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	res, err := ex.ExecContext(ctx, ex.Rebind(q),
		ln.PendingAmount, string(ln.Status), null.NewString(ln.DecidedBy, ln.DecidedBy != ""),
		nullTime(ln.ApprovedAt), nullTime(ln.RejectedAt), nullTime(ln.ClosedAt), ln.UpdatedAt.UTC(),
		ln.ID, ln.Version)
	if err != nil {
		return loan.Loan{}, errors.Wrap(err, "updating loan")
	}
	if err = checkAffected(res, loan.ErrConcurrentUpdate); err != nil {
		return loan.Loan{}, err
	}
	ln.Version++
	return ln, nil
}
