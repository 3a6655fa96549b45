package fund

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
)

// Fund types
const (
	TypeTuition     = "tuition"
	TypeMonthlyFees = "monthly-fees"
	TypeEvents      = "events"
	TypeOperational = "operational"
	TypeEmergency   = "emergency"
	TypeExternal    = "external"
	TypeOther       = "other"
)

// Types are the known fund types. Others are accepted.
var Types = []string{TypeTuition, TypeMonthlyFees, TypeEvents, TypeOperational, TypeEmergency, TypeExternal, TypeOther}

// Category tags a ledger entry.
type Category string

const (
	CategoryIncome           Category = "income"
	CategoryExpense          Category = "expense"
	CategoryAdjustment       Category = "administrative-adjustment"
	CategoryTransferIn       Category = "transfer-in"
	CategoryTransferOut      Category = "transfer-out"
	CategoryLoanDisbursement Category = "loan-disbursement"
	CategoryLoanRepayment    Category = "loan-repayment"
)

var Categories = []Category{
	CategoryIncome, CategoryExpense, CategoryAdjustment,
	CategoryTransferIn, CategoryTransferOut,
	CategoryLoanDisbursement, CategoryLoanRepayment,
}

// TransferCategories are the categories carried by the legs of a transfer.
var TransferCategories = []Category{CategoryTransferIn, CategoryTransferOut, CategoryLoanDisbursement, CategoryLoanRepayment}

func (c Category) IsValid() bool {
	for _, cat := range Categories {
		if c == cat {
			return true
		}
	}
	return false
}

func (c Category) IsTransferLeg() bool {
	for _, cat := range TransferCategories {
		if c == cat {
			return true
		}
	}
	return false
}

// sign returns the sign an amount must have for this category, 0 when either is allowed.
func (c Category) sign() int {
	switch c {
	case CategoryIncome, CategoryTransferIn:
		return 1
	case CategoryExpense, CategoryTransferOut:
		return -1
	default:
		return 0
	}
}

type Fund struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	AcademicYear   int             `json:"academic_year"`
	IsActive       bool            `json:"is_active"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TotalIncome    decimal.Decimal `json:"total_income"`
	TotalExpenses  decimal.Decimal `json:"total_expenses"`
	Capacity       decimal.Decimal `json:"capacity"`
	AlertLevel1    int             `json:"alert_level1"`
	AlertLevel2    int             `json:"alert_level2"`
	AlertLevel3    int             `json:"alert_level3"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
}

// AlertLevels returns the three ascending thresholds, as percentages of Capacity.
func (f Fund) AlertLevels() [3]int {
	return [3]int{f.AlertLevel1, f.AlertLevel2, f.AlertLevel3}
}

// IsConsistent reports whether the cached balance matches the accumulators.
func (f Fund) IsConsistent() bool {
	return f.CurrentBalance.Equal(f.TotalIncome.Sub(f.TotalExpenses))
}

// apply adds amount to the cached balance and to the matching accumulator.
func (f *Fund) apply(amount decimal.Decimal) {
	f.CurrentBalance = f.CurrentBalance.Add(amount)
	if amount.IsPositive() {
		f.TotalIncome = f.TotalIncome.Add(amount)
	} else {
		f.TotalExpenses = f.TotalExpenses.Add(amount.Abs())
	}
}

// Transaction is an immutable ledger entry. A positive amount is money in.
type Transaction struct {
	ID          string          `json:"id"`
	FundID      string          `json:"fund_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    Category        `json:"category"`
	Description string          `json:"description"`
	Actor       string          `json:"actor"`
	Reference   string          `json:"reference,omitempty"`
	LoanID      string          `json:"loan_id,omitempty"`
	ExternalRef string          `json:"external_ref,omitempty"`
	CreatedAt   time.Time       `json:"created_at"` // UTC
}

// NewFund contains information needed to create a new Fund.
type NewFund struct {
	Code           string          `json:"code" validate:"required,max=32,code"`
	Name           string          `json:"name" validate:"required,max=255"`
	Type           string          `json:"type" validate:"required,fundtype"`
	AcademicYear   int             `json:"academic_year" validate:"required,gte=2000,lte=2100"`
	Capacity       decimal.Decimal `json:"capacity" validate:"gte=0"`
	AlertLevel1    int             `json:"alert_level1" validate:"gt=0,ltfield=AlertLevel2"`
	AlertLevel2    int             `json:"alert_level2" validate:"ltfield=AlertLevel3"`
	AlertLevel3    int             `json:"alert_level3" validate:"lte=100"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// Validate cleans nf, fills the unset alert levels with defaults and validates it.
func (nf *NewFund) Validate(v *core.Validator, defaultLevels [3]int) error {
	nf.Code = core.CleanCode(nf.Code)
	nf.Name = core.CleanString(nf.Name)
	nf.Type = core.CleanString(nf.Type, true /* lower */)
	if nf.AlertLevel1 == 0 && nf.AlertLevel2 == 0 && nf.AlertLevel3 == 0 {
		nf.AlertLevel1, nf.AlertLevel2, nf.AlertLevel3 = defaultLevels[0], defaultLevels[1], defaultLevels[2]
	}
	if err := v.Struct(nf); err != nil {
		return err
	}
	if err := core.CheckAmountScale("capacity", nf.Capacity); err != nil {
		return err
	}
	return core.CheckAmountScale("opening_balance", nf.OpeningBalance)
}

// UpdateFund defines what may be changed on an existing Fund. Balances never are.
type UpdateFund struct {
	Name        string           `json:"name" validate:"omitempty,max=255"`
	Capacity    *decimal.Decimal `json:"capacity" validate:"omitempty,gte=0"`
	AlertLevel1 int              `json:"alert_level1" validate:"gt=0,ltfield=AlertLevel2"`
	AlertLevel2 int              `json:"alert_level2" validate:"ltfield=AlertLevel3"`
	AlertLevel3 int              `json:"alert_level3" validate:"lte=100"`
}

func (uf *UpdateFund) Validate(v *core.Validator, orig Fund) error {
	if name := core.CleanString(uf.Name); name != "" {
		uf.Name = name
	} else {
		uf.Name = orig.Name
	}
	if uf.Capacity == nil {
		uf.Capacity = &orig.Capacity
	}
	if uf.AlertLevel1 == 0 && uf.AlertLevel2 == 0 && uf.AlertLevel3 == 0 {
		uf.AlertLevel1, uf.AlertLevel2, uf.AlertLevel3 = orig.AlertLevel1, orig.AlertLevel2, orig.AlertLevel3
	}
	if err := v.Struct(uf); err != nil {
		return err
	}
	return core.CheckAmountScale("capacity", *uf.Capacity)
}

// NewTransaction contains information needed to post a ledger entry.
type NewTransaction struct {
	FundID      string          `json:"fund_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Category    Category        `json:"category" validate:"required,category"`
	Description string          `json:"description" validate:"max=500"`
	Actor       string          `json:"actor" validate:"required"`
	Reference   string          `json:"reference" validate:"max=36"`
	LoanID      string          `json:"loan_id" validate:"max=36"`
	ExternalRef string          `json:"external_ref" validate:"max=255"`

	// OverdraftLimit is how far below zero a debit may take the balance.
	// Only the loan manager sets it, to the principal of the loan being disbursed.
	OverdraftLimit decimal.Decimal `json:"-"`
}

func (nt *NewTransaction) Validate(v *core.Validator) error {
	nt.Description = core.CleanString(nt.Description)
	nt.Actor = core.CleanString(nt.Actor)
	nt.ExternalRef = core.CleanString(nt.ExternalRef)

	if err := v.Struct(nt); err != nil {
		return err
	}
	if nt.Amount.IsZero() {
		return core.NewFieldError("amount", "amount must not be zero")
	}
	if err := core.CheckAmountScale("amount", nt.Amount); err != nil {
		return err
	}
	switch nt.Category.sign() {
	case 1:
		if nt.Amount.IsNegative() {
			return core.NewFieldError("amount", "amount must be positive for "+string(nt.Category))
		}
	case -1:
		if nt.Amount.IsPositive() {
			return core.NewFieldError("amount", "amount must be negative for "+string(nt.Category))
		}
	}
	if nt.OverdraftLimit.IsNegative() {
		return core.NewFieldError("overdraft_limit", "overdraft limit must not be negative")
	}
	return nil
}

type QueryFilter struct {
	Search       string   `query:"search"`
	Types        []string `query:"type"`
	AcademicYear int      `query:"academic_year"`
	IsActive     *bool    `query:"is_active"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && len(qf.Types) == 0 && qf.AcademicYear == 0 && qf.IsActive == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	for i, typ := range qf.Types {
		qf.Types[i] = core.CleanString(typ, true /* lower */)
	}
}

// OrderingFields lists the columns funds may be ordered by.
var OrderingFields = []string{"code", "name", "type", "academic_year", "current_balance", "created_at"}

type TransactionFilter struct {
	FundID      string    `query:"-"`
	Categories  []string  `query:"category"`
	Reference   string    `query:"reference"`
	LoanID      string    `query:"loan_id"`
	CreatedFrom time.Time `query:"-"`
	CreatedTo   time.Time `query:"-"`
	Limit       int       `query:"limit"`
	Offset      int       `query:"offset"`
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

func (tf *TransactionFilter) Clean() {
	tf.FundID = core.CleanString(tf.FundID)
	tf.Reference = core.CleanString(tf.Reference)
	tf.LoanID = core.CleanString(tf.LoanID)
	for i, cat := range tf.Categories {
		tf.Categories[i] = core.CleanString(cat, true /* lower */)
	}
	if tf.Limit <= 0 {
		tf.Limit = DefaultPageSize
	}
	if tf.Limit > MaxPageSize {
		tf.Limit = MaxPageSize
	}
	if tf.Offset < 0 {
		tf.Offset = 0
	}
}

// TransactionPage is one page of ledger entries, newest first.
type TransactionPage struct {
	Count   int           `json:"count"`
	Results []Transaction `json:"results"`
}

// LedgerTotals is the ledger sum of a fund.
type LedgerTotals struct {
	Income   decimal.Decimal
	Expenses decimal.Decimal
	Entries  int
}

func (lt LedgerTotals) Balance() decimal.Decimal { return lt.Income.Sub(lt.Expenses) }

// Reconciliation compares the cached balance fields of a fund to its ledger.
type Reconciliation struct {
	FundID         string          `json:"fund_id"`
	FundCode       string          `json:"fund_code"`
	CachedBalance  decimal.Decimal `json:"cached_balance"`
	CachedIncome   decimal.Decimal `json:"cached_income"`
	CachedExpenses decimal.Decimal `json:"cached_expenses"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
	LedgerIncome   decimal.Decimal `json:"ledger_income"`
	LedgerExpenses decimal.Decimal `json:"ledger_expenses"`
	Entries        int             `json:"entries"`
	Repaired       bool            `json:"repaired"`
}

func (r Reconciliation) Balanced() bool {
	return r.CachedBalance.Equal(r.LedgerBalance) &&
		r.CachedIncome.Equal(r.LedgerIncome) &&
		r.CachedExpenses.Equal(r.LedgerExpenses)
}
