package loan

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/transfer"
)

var (
	// errors
	ErrNotFound         = core.NewNotFoundError("loan not found")
	ErrConcurrentUpdate = core.NewConflictError("the loan was modified concurrently, retry")
)

type (
	Repository interface {
		CreateLoan(ctx context.Context, ln Loan, exec ...core.DBExecutor) (Loan, error)
		// GetLoan locks the row when forUpdate is set and the store supports row locks.
		GetLoan(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (Loan, error)
		// QueryLoans applies AND operation on available QueryFilter fields.
		// The OVERDUE status matches disbursed loans due before now.
		QueryLoans(ctx context.Context, filter *QueryFilter, now time.Time, exec ...core.DBExecutor) ([]Loan, error)
		// UpdateLoan saves ln when the stored version is still ln.Version, and bumps it.
		// It returns ErrConcurrentUpdate otherwise.
		UpdateLoan(ctx context.Context, ln Loan, exec ...core.DBExecutor) (Loan, error)
	}

	// Funds is the part of the fund service the loan manager reads from.
	Funds interface {
		LockFunds(ctx context.Context, exec core.DBExecutor, ids ...string) (map[string]fund.Fund, error)
		ListTransactions(ctx context.Context, filter fund.TransactionFilter) (fund.TransactionPage, error)
	}

	// Transferer moves the loan money between its funds.
	Transferer interface {
		Transfer(ctx context.Context, req transfer.Request, exec ...core.DBExecutor) (transfer.Result, error)
	}

	Service struct {
		db        core.DB
		repo      Repository
		funds     Funds
		transfers Transferer
		validator *core.Validator
		observer  core.BalanceObserver
		log       core.Logger
		now       func() time.Time
	}
)

var (
	_ Funds      = (*fund.Service)(nil)
	_ Transferer = (*transfer.Coordinator)(nil)
)

func NewService(db core.DB, repo Repository, funds Funds, transfers Transferer, v *core.Validator, observer core.BalanceObserver, logger core.Logger) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		funds:     funds,
		transfers: transfers,
		validator: v,
		observer:  observer,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetObserver sets the observer notified after committed disbursements and repayments.
func (svc *Service) SetObserver(observer core.BalanceObserver) {
	svc.observer = observer
}

func (svc *Service) withEffectiveStatus(ln Loan) Loan {
	ln.EffectiveStatus = ln.StatusAt(svc.now())
	return ln
}

// Request records a PENDING loan. No money moves until it is approved. Both
// funds stay locked until the loan is stored, so neither can be deactivated
// in between.
func (svc *Service) Request(ctx context.Context, nl NewLoan, requester core.Actor) (Loan, error) {
	now := svc.now()
	if err := nl.Validate(svc.validator, now); err != nil {
		return Loan{}, err
	}

	fields := map[string]string{
		nl.LenderFundID:   "lender_fund_id",
		nl.BorrowerFundID: "borrower_fund_id",
	}
	ids := []string{nl.LenderFundID, nl.BorrowerFundID}
	sort.Strings(ids)

	var ln Loan
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		// one at a time, in ascending order, to tell which fund is unknown
		for _, id := range ids {
			funds, err := svc.funds.LockFunds(ctx, exec, id)
			if err != nil {
				if core.IsNotFound(err) {
					return core.NewFieldError(fields[id], err.Error())
				}
				return err
			}
			if fnd := funds[id]; !fnd.IsActive {
				return core.NewInvalidStateError("fund %s is inactive", fnd.Code)
			}
		}

		var err error
		ln, err = svc.repo.CreateLoan(ctx, Loan{
			LenderFundID:   nl.LenderFundID,
			BorrowerFundID: nl.BorrowerFundID,
			Principal:      nl.Amount,
			PendingAmount:  nl.Amount,
			Reason:         nl.Reason,
			Status:         StatusPending,
			RequestedBy:    requester.Name(),
			RequestedAt:    now,
			DueDate:        nl.DueDate.UTC(),
			Version:        1,
			UpdatedAt:      now,
		}, exec)
		return err
	})
	if err != nil {
		return Loan{}, err
	}

	svc.log.Info(fmt.Sprintf("loan %s requested: %s from %s to %s", ln.ID, ln.Principal, ln.LenderFundID, ln.BorrowerFundID), requester)
	return svc.withEffectiveStatus(ln), nil
}

// Approve disburses the principal from the lender to the borrower and marks the
// loan APPROVED, in one database transaction. The lender may be overdrawn by at
// most the principal.
func (svc *Service) Approve(ctx context.Context, id string, approver core.Actor) (Loan, error) {
	var ln Loan
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if ln, err = svc.repo.GetLoan(ctx, id, true, exec); err != nil {
			return err
		}
		if ln.Status != StatusPending {
			return core.NewInvalidStateError("cannot approve a %s loan", ln.Status)
		}

		_, err = svc.transfers.Transfer(ctx, transfer.Request{
			SourceFundID:   ln.LenderFundID,
			DestFundID:     ln.BorrowerFundID,
			Amount:         ln.Principal,
			Reason:         "loan disbursement: " + ln.Reason,
			Actor:          approver.Name(),
			DebitCategory:  fund.CategoryLoanDisbursement,
			CreditCategory: fund.CategoryLoanDisbursement,
			LoanID:         ln.ID,
			OverdraftLimit: ln.Principal,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "disbursing loan")
		}

		now := svc.now()
		ln.Status = StatusApproved
		ln.DecidedBy = approver.Name()
		ln.ApprovedAt = &now
		ln.UpdatedAt = now
		ln, err = svc.repo.UpdateLoan(ctx, ln, exec)
		return err
	})
	if err != nil {
		return Loan{}, err
	}

	svc.log.Info(fmt.Sprintf("loan %s approved and disbursed", ln.ID), approver)
	core.NotifyBalancesChanged(ctx, svc.observer, ln.LenderFundID, ln.BorrowerFundID)
	return svc.withEffectiveStatus(ln), nil
}

// Reject marks a PENDING loan REJECTED.
func (svc *Service) Reject(ctx context.Context, id string, approver core.Actor) (Loan, error) {
	var ln Loan
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if ln, err = svc.repo.GetLoan(ctx, id, true, exec); err != nil {
			return err
		}
		if ln.Status != StatusPending {
			return core.NewInvalidStateError("cannot reject a %s loan", ln.Status)
		}
		now := svc.now()
		ln.Status = StatusRejected
		ln.DecidedBy = approver.Name()
		ln.RejectedAt = &now
		ln.UpdatedAt = now
		ln, err = svc.repo.UpdateLoan(ctx, ln, exec)
		return err
	})
	if err != nil {
		return Loan{}, err
	}

	svc.log.Info(fmt.Sprintf("loan %s rejected", ln.ID), approver)
	return svc.withEffectiveStatus(ln), nil
}

// Repay moves amount from the borrower back to the lender and decrements the
// pending amount; the loan is CLOSED once nothing is pending.
func (svc *Service) Repay(ctx context.Context, id string, amount decimal.Decimal, actor core.Actor) (Loan, error) {
	if !amount.IsPositive() {
		return Loan{}, core.NewFieldError("amount", "amount must be greater than 0")
	}
	if err := core.CheckAmountScale("amount", amount); err != nil {
		return Loan{}, err
	}

	var ln Loan
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if ln, err = svc.repo.GetLoan(ctx, id, true, exec); err != nil {
			return err
		}
		if !ln.Status.in(DisbursedStatuses) {
			return core.NewInvalidStateError("cannot repay a %s loan", ln.Status)
		}
		if amount.GreaterThan(ln.PendingAmount) {
			return core.NewFieldError("amount", fmt.Sprintf("amount exceeds the pending amount (%s)", ln.PendingAmount))
		}

		_, err = svc.transfers.Transfer(ctx, transfer.Request{
			SourceFundID:   ln.BorrowerFundID,
			DestFundID:     ln.LenderFundID,
			Amount:         amount,
			Reason:         "loan repayment: " + ln.Reason,
			Actor:          actor.Name(),
			DebitCategory:  fund.CategoryLoanRepayment,
			CreditCategory: fund.CategoryLoanRepayment,
			LoanID:         ln.ID,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "repaying loan")
		}

		now := svc.now()
		ln.PendingAmount = ln.PendingAmount.Sub(amount)
		if ln.PendingAmount.IsZero() {
			ln.Status = StatusClosed
			ln.ClosedAt = &now
		} else {
			ln.Status = StatusPartiallyRepaid
		}
		ln.UpdatedAt = now
		ln, err = svc.repo.UpdateLoan(ctx, ln, exec)
		return err
	})
	if err != nil {
		return Loan{}, err
	}

	svc.log.Info(fmt.Sprintf("loan %s repaid %s, pending %s", ln.ID, amount, ln.PendingAmount), actor)
	core.NotifyBalancesChanged(ctx, svc.observer, ln.LenderFundID, ln.BorrowerFundID)
	return svc.withEffectiveStatus(ln), nil
}

func (svc *Service) Get(ctx context.Context, id string) (Loan, error) {
	ln, err := svc.repo.GetLoan(ctx, id, false)
	if err != nil {
		return Loan{}, err
	}
	return svc.withEffectiveStatus(ln), nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter) ([]Loan, error) {
	if filter != nil {
		if err := filter.Clean(); err != nil {
			return nil, err
		}
	}
	loans, err := svc.repo.QueryLoans(ctx, filter, svc.now())
	if err != nil {
		return nil, err
	}
	for i := range loans {
		loans[i] = svc.withEffectiveStatus(loans[i])
	}
	return loans, nil
}

// Movements returns the disbursement and repayment legs of the loan, newest first.
func (svc *Service) Movements(ctx context.Context, id string) ([]fund.Transaction, error) {
	ln, err := svc.repo.GetLoan(ctx, id, false)
	if err != nil {
		return nil, err
	}
	page, err := svc.funds.ListTransactions(ctx, fund.TransactionFilter{LoanID: ln.ID, Limit: fund.MaxPageSize})
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}
