// Package capture turns captured invoice payments and paid supplier invoices
// into ledger entries.
package capture

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
)

// Ledger is the part of the fund service captures are posted through.
type Ledger interface {
	Post(ctx context.Context, nt fund.NewTransaction, exec ...core.DBExecutor) (fund.Transaction, error)
	GetTransactionByExternalRef(ctx context.Context, ref string, exec ...core.DBExecutor) (fund.Transaction, error)
}

var _ Ledger = (*fund.Service)(nil)

// Capture is money captured outside the ledger, always a positive amount.
// ExternalRef, when set, identifies the capture in the source system: capturing
// it again returns the entry it already produced.
type Capture struct {
	FundID      string          `json:"fund_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Description string          `json:"description" validate:"max=500"`
	ExternalRef string          `json:"external_ref" validate:"max=255"`
}

func (c *Capture) Validate(v *core.Validator) error {
	c.FundID = core.CleanString(c.FundID)
	c.Description = core.CleanString(c.Description)
	c.ExternalRef = core.CleanString(c.ExternalRef)
	if err := v.Struct(c); err != nil {
		return err
	}
	return core.CheckAmountScale("amount", c.Amount)
}

type Service struct {
	ledger    Ledger
	validator *core.Validator
	log       core.Logger
}

func NewService(ledger Ledger, v *core.Validator, logger core.Logger) *Service {
	return &Service{ledger: ledger, validator: v, log: logger}
}

// OnIncomeCaptured posts exactly one income entry for a captured payment.
func (svc *Service) OnIncomeCaptured(ctx context.Context, c Capture, actor core.Actor) (fund.Transaction, error) {
	return svc.capture(ctx, c, fund.CategoryIncome, actor)
}

// OnExpenseCaptured posts exactly one expense entry for a paid supplier invoice.
func (svc *Service) OnExpenseCaptured(ctx context.Context, c Capture, actor core.Actor) (fund.Transaction, error) {
	return svc.capture(ctx, c, fund.CategoryExpense, actor)
}

func (svc *Service) capture(ctx context.Context, c Capture, cat fund.Category, actor core.Actor) (fund.Transaction, error) {
	if err := c.Validate(svc.validator); err != nil {
		return fund.Transaction{}, err
	}
	if c.ExternalRef != "" {
		if txn, found, err := svc.captured(ctx, c, cat); err != nil || found {
			return txn, err
		}
	}

	amount := c.Amount
	if cat == fund.CategoryExpense {
		amount = amount.Neg()
	}
	txn, err := svc.ledger.Post(ctx, fund.NewTransaction{
		FundID:      c.FundID,
		Amount:      amount,
		Category:    cat,
		Description: c.Description,
		Actor:       actor.Name(),
		ExternalRef: c.ExternalRef,
	})
	if err != nil {
		// lost a race against the same capture
		if c.ExternalRef != "" && core.IsConflict(err) {
			if txn, found, err2 := svc.captured(ctx, c, cat); err2 == nil && found {
				return txn, nil
			}
		}
		return fund.Transaction{}, err
	}
	return txn, nil
}

// captured returns the entry already posted for c.ExternalRef, if any. It is a
// ConflictError for the key to have been used for another fund, category or amount.
func (svc *Service) captured(ctx context.Context, c Capture, cat fund.Category) (fund.Transaction, bool, error) {
	txn, err := svc.ledger.GetTransactionByExternalRef(ctx, c.ExternalRef)
	if err != nil {
		if core.IsNotFound(err) {
			return fund.Transaction{}, false, nil
		}
		return fund.Transaction{}, false, err
	}
	if txn.FundID != c.FundID || txn.Category != cat || !txn.Amount.Abs().Equal(c.Amount) {
		return fund.Transaction{}, false, core.NewConflictError(fmt.Sprintf(
			"external reference %s was already captured as %s %s on fund %s", c.ExternalRef, txn.Category, txn.Amount, txn.FundID))
	}
	svc.log.Info(fmt.Sprintf("capture %s already posted as transaction %s", c.ExternalRef, txn.ID))
	return txn, true, nil
}
