package loan

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
)

type Status string

// Loan statuses. StatusOverdue is never stored, see Loan.StatusAt.
const (
	StatusPending         Status = "PENDING"
	StatusApproved        Status = "APPROVED"
	StatusPartiallyRepaid Status = "PARTIALLY_REPAID"
	StatusClosed          Status = "CLOSED"
	StatusRejected        Status = "REJECTED"
	StatusOverdue         Status = "OVERDUE"
)

var (
	Statuses = []Status{StatusPending, StatusApproved, StatusPartiallyRepaid, StatusClosed, StatusRejected, StatusOverdue}

	// OpenStatuses are the stored statuses of loans that still tie up their funds.
	OpenStatuses = []Status{StatusPending, StatusApproved, StatusPartiallyRepaid}

	// DisbursedStatuses are the stored statuses of loans that may be repaid.
	DisbursedStatuses = []Status{StatusApproved, StatusPartiallyRepaid}
)

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) in(statuses []Status) bool {
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

type Loan struct {
	ID              string          `json:"id"`
	LenderFundID    string          `json:"lender_fund_id"`
	BorrowerFundID  string          `json:"borrower_fund_id"`
	Principal       decimal.Decimal `json:"principal"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	Reason          string          `json:"reason"`
	Status          Status          `json:"status"`
	EffectiveStatus Status          `json:"effective_status"` // not stored
	RequestedBy     string          `json:"requested_by"`
	DecidedBy       string          `json:"decided_by,omitempty"`
	RequestedAt     time.Time       `json:"requested_at"` // UTC
	DueDate         time.Time       `json:"due_date"`     // UTC
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	Version         int             `json:"version"`
	UpdatedAt       time.Time       `json:"updated_at"` // UTC
}

// IsOverdue reports whether a disbursed loan is past its due date at now.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Status.in(DisbursedStatuses) && l.DueDate.Before(now)
}

// StatusAt returns the status as seen at now: OVERDUE replaces the stored status of an overdue loan.
func (l Loan) StatusAt(now time.Time) Status {
	if l.IsOverdue(now) {
		return StatusOverdue
	}
	return l.Status
}

func (l Loan) IsOpen() bool { return l.Status.in(OpenStatuses) }

func (l Loan) RepaidAmount() decimal.Decimal { return l.Principal.Sub(l.PendingAmount) }

// NewLoan contains information needed to request a loan.
type NewLoan struct {
	LenderFundID   string          `json:"lender_fund_id" validate:"required"`
	BorrowerFundID string          `json:"borrower_fund_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	Reason         string          `json:"reason" validate:"required,max=255"`
	DueDate        time.Time       `json:"due_date" validate:"required"`
}

func (nl *NewLoan) Validate(v *core.Validator, now time.Time) error {
	nl.LenderFundID = core.CleanString(nl.LenderFundID)
	nl.BorrowerFundID = core.CleanString(nl.BorrowerFundID)
	nl.Reason = core.CleanString(nl.Reason)

	if err := v.Struct(nl); err != nil {
		return err
	}
	if err := core.CheckAmountScale("amount", nl.Amount); err != nil {
		return err
	}
	if nl.LenderFundID == nl.BorrowerFundID {
		return core.NewFieldError("borrower_fund_id", "lender and borrower funds must differ")
	}
	if !nl.DueDate.After(now) {
		return core.NewFieldError("due_date", "due date must be in the future")
	}
	return nil
}

// Repayment is a payment of Amount back to the lender.
type Repayment struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

type QueryFilter struct {
	Statuses       []string `query:"status"`
	FundID         string   `query:"fund_id"` // lender or borrower
	LenderFundID   string   `query:"lender_fund_id"`
	BorrowerFundID string   `query:"borrower_fund_id"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return len(qf.Statuses) == 0 && qf.FundID == "" && qf.LenderFundID == "" && qf.BorrowerFundID == ""
}

func (qf *QueryFilter) Clean() error {
	qf.FundID = core.CleanString(qf.FundID)
	qf.LenderFundID = core.CleanString(qf.LenderFundID)
	qf.BorrowerFundID = core.CleanString(qf.BorrowerFundID)
	for i, st := range qf.Statuses {
		qf.Statuses[i] = core.CleanCode(st)
		if !Status(qf.Statuses[i]).IsValid() {
			return core.NewFieldError("status", "invalid loan status")
		}
	}
	return nil
}
