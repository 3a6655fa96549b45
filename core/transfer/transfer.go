// Package transfer moves money between two funds as a single atomic operation
// made of two ledger entries.
package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
)

// Ledger is the part of the fund service the coordinator posts through.
type Ledger interface {
	Post(ctx context.Context, nt fund.NewTransaction, exec ...core.DBExecutor) (fund.Transaction, error)
	LockFunds(ctx context.Context, exec core.DBExecutor, ids ...string) (map[string]fund.Fund, error)
	OrphanedTransferLegs(ctx context.Context, exec ...core.DBExecutor) ([]fund.Transaction, error)
}

var _ Ledger = (*fund.Service)(nil)

// Request describes a movement of Amount from SourceFundID to DestFundID.
type Request struct {
	SourceFundID string          `json:"source_fund_id" validate:"required"`
	DestFundID   string          `json:"dest_fund_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"gt=0"`
	Reason       string          `json:"reason" validate:"required,max=500"`
	Actor        string          `json:"-"`

	// set by the loan manager only
	DebitCategory  fund.Category   `json:"-"`
	CreditCategory fund.Category   `json:"-"`
	LoanID         string          `json:"-"`
	OverdraftLimit decimal.Decimal `json:"-"`
}

func (r *Request) Validate(v *core.Validator) error {
	r.SourceFundID = core.CleanString(r.SourceFundID)
	r.DestFundID = core.CleanString(r.DestFundID)
	r.Reason = core.CleanString(r.Reason)
	r.Actor = core.CleanString(r.Actor)

	if err := v.Struct(r); err != nil {
		return err
	}
	if err := core.CheckAmountScale("amount", r.Amount); err != nil {
		return err
	}
	if r.SourceFundID == r.DestFundID {
		return core.NewFieldError("dest_fund_id", "source and destination funds must differ")
	}
	if r.Actor == "" {
		return core.NewFieldError("actor", "actor is required")
	}
	return nil
}

func (r *Request) categories() (fund.Category, fund.Category) {
	debit, credit := r.DebitCategory, r.CreditCategory
	if debit == "" {
		debit = fund.CategoryTransferOut
	}
	if credit == "" {
		credit = fund.CategoryTransferIn
	}
	return debit, credit
}

// Result holds both legs of a completed transfer.
type Result struct {
	Reference string           `json:"reference"`
	Debit     fund.Transaction `json:"debit"`
	Credit    fund.Transaction `json:"credit"`
}

type Coordinator struct {
	db        core.DB
	ledger    Ledger
	validator *core.Validator
	observer  core.BalanceObserver
	log       core.Logger
}

func NewCoordinator(db core.DB, ledger Ledger, v *core.Validator, observer core.BalanceObserver, logger core.Logger) *Coordinator {
	return &Coordinator{db: db, ledger: ledger, validator: v, observer: observer, log: logger}
}

// SetObserver sets the observer notified after committed transfers.
func (c *Coordinator) SetObserver(observer core.BalanceObserver) {
	c.observer = observer
}

// Transfer debits the source fund and credits the destination fund in one
// database transaction: both legs are committed or neither is.
// When exec is given, the caller owns the transaction and must notify observers itself.
func (c *Coordinator) Transfer(ctx context.Context, req Request, exec ...core.DBExecutor) (Result, error) {
	if err := req.Validate(c.validator); err != nil {
		return Result{}, err
	}

	debitCat, creditCat := req.categories()
	res := Result{Reference: uuid.New().String()}
	err := core.RunInTx(ctx, c.db, exec, func(ex core.DBExecutor) error {
		if _, err := c.ledger.LockFunds(ctx, ex, req.SourceFundID, req.DestFundID); err != nil {
			return err
		}

		var err error
		res.Debit, err = c.ledger.Post(ctx, fund.NewTransaction{
			FundID:         req.SourceFundID,
			Amount:         req.Amount.Neg(),
			Category:       debitCat,
			Description:    req.Reason,
			Actor:          req.Actor,
			Reference:      res.Reference,
			LoanID:         req.LoanID,
			OverdraftLimit: req.OverdraftLimit,
		}, ex)
		if err != nil {
			return errors.Wrap(err, "posting debit leg")
		}

		res.Credit, err = c.ledger.Post(ctx, fund.NewTransaction{
			FundID:      req.DestFundID,
			Amount:      req.Amount,
			Category:    creditCat,
			Description: req.Reason,
			Actor:       req.Actor,
			Reference:   res.Reference,
			LoanID:      req.LoanID,
		}, ex)
		if err != nil {
			return errors.Wrap(err, "posting credit leg")
		}
		return nil
	})
	if err != nil {
		var rbErr *core.RollbackError
		if errors.As(err, &rbErr) {
			c.log.Error(fmt.Sprintf("transfer %s: %v; run reconciliation", res.Reference, err), err)
		}
		return Result{}, err
	}

	c.log.Info(fmt.Sprintf("transfer %s: %s from %s to %s", res.Reference, req.Amount, req.SourceFundID, req.DestFundID))
	if core.OwnsTx(exec) {
		core.NotifyBalancesChanged(ctx, c.observer, req.SourceFundID, req.DestFundID)
	}
	return res, nil
}

// RepairOrphans posts an offsetting administrative adjustment, with the same
// reference, for every transfer leg whose counterpart is missing.
// It returns the compensating entries.
func (c *Coordinator) RepairOrphans(ctx context.Context, actor core.Actor) ([]fund.Transaction, error) {
	var (
		compensations []fund.Transaction
		fundIDs       []string
	)
	err := core.WithTx(ctx, c.db, func(exec core.DBExecutor) error {
		orphans, err := c.ledger.OrphanedTransferLegs(ctx, exec)
		if err != nil {
			return err
		}
		for _, leg := range orphans {
			txn, err := c.ledger.Post(ctx, fund.NewTransaction{
				FundID:      leg.FundID,
				Amount:      leg.Amount.Neg(),
				Category:    fund.CategoryAdjustment,
				Description: fmt.Sprintf("compensation of orphaned %s leg %s", leg.Category, leg.ID),
				Actor:       actor.Name(),
				Reference:   leg.Reference,
				LoanID:      leg.LoanID,
			}, exec)
			if err != nil {
				return errors.Wrapf(err, "compensating leg %s", leg.ID)
			}
			compensations = append(compensations, txn)
			fundIDs = append(fundIDs, txn.FundID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, txn := range compensations {
		c.log.Warn(fmt.Sprintf("orphaned transfer leg compensated: reference %s, fund %s, amount %s",
			txn.Reference, txn.FundID, txn.Amount), actor)
	}
	core.NotifyBalancesChanged(ctx, c.observer, fundIDs...)
	return compensations, nil
}
