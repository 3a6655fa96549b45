package fund

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
)

var (
	// errors
	ErrNotFound            = core.NewNotFoundError("fund not found")
	ErrTransactionNotFound = core.NewNotFoundError("transaction not found")
	ErrCodeExists          = core.NewConflictError("a fund with this code already exists")
	ErrExternalRefExists   = core.NewConflictError("a transaction with this external reference already exists")
	ErrInconsistent        = errors.New("fund balance does not match its totals")
)

type (
	Repository interface {
		CreateFund(ctx context.Context, fnd Fund, exec ...core.DBExecutor) (Fund, error)
		// GetFund locks the row when forUpdate is set and the store supports row locks.
		GetFund(ctx context.Context, id string, forUpdate bool, exec ...core.DBExecutor) (Fund, error)
		GetFundByCode(ctx context.Context, code string, exec ...core.DBExecutor) (Fund, error)
		// QueryFunds applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Fund.Code or Fund.Name.
		QueryFunds(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Fund, error)
		UpdateFund(ctx context.Context, fnd Fund, exec ...core.DBExecutor) error
		UpdateFundBalances(ctx context.Context, fnd Fund, exec ...core.DBExecutor) error
		// CountOpenLoans counts the loans not yet closed or rejected that reference the fund.
		CountOpenLoans(ctx context.Context, fundID string, exec ...core.DBExecutor) (int, error)

		CreateTransaction(ctx context.Context, txn Transaction, exec ...core.DBExecutor) (Transaction, error)
		GetTransactionByExternalRef(ctx context.Context, ref string, exec ...core.DBExecutor) (Transaction, error)
		QueryTransactions(ctx context.Context, filter TransactionFilter, exec ...core.DBExecutor) ([]Transaction, int, error)
		LedgerTotals(ctx context.Context, fundID string, exec ...core.DBExecutor) (LedgerTotals, error)
		// OrphanedTransferLegs returns the transfer legs whose reference has no other
		// transfer leg and no administrative adjustment.
		OrphanedTransferLegs(ctx context.Context, exec ...core.DBExecutor) ([]Transaction, error)
	}

	Service struct {
		db            core.DB
		repo          Repository
		validator     *core.Validator
		observer      core.BalanceObserver
		log           core.Logger
		defaultLevels [3]int
	}
)

func NewService(db core.DB, repo Repository, v *core.Validator, observer core.BalanceObserver, logger core.Logger, conf *core.Config) *Service {
	InitValidators(v)
	return &Service{
		db:            db,
		repo:          repo,
		validator:     v,
		observer:      observer,
		log:           logger,
		defaultLevels: conf.Alerts.DefaultLevels,
	}
}

// SetObserver sets the observer notified after committed balance changes.
func (svc *Service) SetObserver(observer core.BalanceObserver) {
	svc.observer = observer
}

// Create creates a fund. A non-zero opening balance is posted as an administrative adjustment.
func (svc *Service) Create(ctx context.Context, nf NewFund, actor core.Actor) (Fund, error) {
	if err := nf.Validate(svc.validator, svc.defaultLevels); err != nil {
		return Fund{}, err
	}

	now := time.Now().UTC()
	fnd := Fund{
		Code:         nf.Code,
		Name:         nf.Name,
		Type:         nf.Type,
		AcademicYear: nf.AcademicYear,
		IsActive:     true,
		Capacity:     nf.Capacity,
		AlertLevel1:  nf.AlertLevel1,
		AlertLevel2:  nf.AlertLevel2,
		AlertLevel3:  nf.AlertLevel3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if _, err := svc.repo.GetFundByCode(ctx, fnd.Code, exec); err == nil {
			return ErrCodeExists
		} else if !core.IsNotFound(err) {
			return err
		}

		var err error
		if fnd, err = svc.repo.CreateFund(ctx, fnd, exec); err != nil {
			return err
		}
		if nf.OpeningBalance.IsZero() {
			return nil
		}
		_, err = svc.post(ctx, exec, NewTransaction{
			FundID:      fnd.ID,
			Amount:      nf.OpeningBalance,
			Category:    CategoryAdjustment,
			Description: "opening balance",
			Actor:       actor.Name(),
		})
		if err != nil {
			return err
		}
		fnd, err = svc.repo.GetFund(ctx, fnd.ID, false, exec)
		return err
	})
	if err != nil {
		return Fund{}, err
	}

	svc.log.Info(fmt.Sprintf("fund %s created", fnd.Code), actor)
	if !nf.OpeningBalance.IsZero() {
		core.NotifyBalancesChanged(ctx, svc.observer, fnd.ID)
	}
	return fnd, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Fund, error) {
	return svc.repo.GetFund(ctx, id, false)
}

func (svc *Service) GetByCode(ctx context.Context, code string) (Fund, error) {
	return svc.repo.GetFundByCode(ctx, core.CleanCode(code))
}

func (svc *Service) List(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Fund, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryFunds(ctx, filter, ordering)
}

// Update changes the settings of a fund. Its balances are never touched.
func (svc *Service) Update(ctx context.Context, id string, uf UpdateFund, actor core.Actor) (Fund, error) {
	var fnd Fund
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if fnd, err = svc.repo.GetFund(ctx, id, true, exec); err != nil {
			return err
		}
		if err = uf.Validate(svc.validator, fnd); err != nil {
			return err
		}
		fnd.Name = uf.Name
		fnd.Capacity = *uf.Capacity
		fnd.AlertLevel1, fnd.AlertLevel2, fnd.AlertLevel3 = uf.AlertLevel1, uf.AlertLevel2, uf.AlertLevel3
		fnd.UpdatedAt = time.Now().UTC()
		return svc.repo.UpdateFund(ctx, fnd, exec)
	})
	if err != nil {
		return Fund{}, err
	}

	svc.log.Info(fmt.Sprintf("fund %s updated", fnd.Code), actor)
	core.NotifyBalancesChanged(ctx, svc.observer, fnd.ID) // capacity or levels may have moved
	return fnd, nil
}

// Deactivate retires a settled fund: zero balance and no open loans.
func (svc *Service) Deactivate(ctx context.Context, id string, actor core.Actor) (Fund, error) {
	var fnd Fund
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if fnd, err = svc.repo.GetFund(ctx, id, true, exec); err != nil {
			return err
		}
		if !fnd.IsActive {
			return core.NewInvalidStateError("fund %s is already inactive", fnd.Code)
		}
		if !fnd.CurrentBalance.IsZero() {
			return core.NewPreconditionFailedError("fund %s has a non-zero balance (%s)", fnd.Code, fnd.CurrentBalance)
		}
		openLoans, err := svc.repo.CountOpenLoans(ctx, fnd.ID, exec)
		if err != nil {
			return err
		}
		if openLoans > 0 {
			return core.NewPreconditionFailedError("fund %s has %d open loan(s)", fnd.Code, openLoans)
		}
		fnd.IsActive = false
		fnd.UpdatedAt = time.Now().UTC()
		return svc.repo.UpdateFund(ctx, fnd, exec)
	})
	if err != nil {
		return Fund{}, err
	}

	svc.log.Info(fmt.Sprintf("fund %s deactivated", fnd.Code), actor)
	core.NotifyBalancesChanged(ctx, svc.observer, fnd.ID) // resolves its open alerts
	return fnd, nil
}

// Balance returns the cached balance, never a ledger sum.
func (svc *Service) Balance(ctx context.Context, id string) (decimal.Decimal, error) {
	fnd, err := svc.repo.GetFund(ctx, id, false)
	if err != nil {
		return decimal.Zero, err
	}
	return fnd.CurrentBalance, nil
}

// Post appends one ledger entry and applies it to the fund balance atomically.
// When exec is given, the caller owns the transaction and must notify observers itself.
func (svc *Service) Post(ctx context.Context, nt NewTransaction, exec ...core.DBExecutor) (Transaction, error) {
	if err := nt.Validate(svc.validator); err != nil {
		return Transaction{}, err
	}

	var txn Transaction
	err := core.RunInTx(ctx, svc.db, exec, func(ex core.DBExecutor) error {
		var err error
		txn, err = svc.post(ctx, ex, nt)
		return err
	})
	if err != nil {
		svc.logPostFailure(err, nt)
		return Transaction{}, err
	}

	if core.OwnsTx(exec) {
		core.NotifyBalancesChanged(ctx, svc.observer, txn.FundID)
	}
	return txn, nil
}

// post does the posting on exec. nt must be valid.
func (svc *Service) post(ctx context.Context, exec core.DBExecutor, nt NewTransaction) (Transaction, error) {
	fnd, err := svc.repo.GetFund(ctx, nt.FundID, true, exec)
	if err != nil {
		return Transaction{}, err
	}
	if !fnd.IsActive {
		return Transaction{}, core.NewInvalidStateError("fund %s is inactive", fnd.Code)
	}
	if !fnd.IsConsistent() {
		return Transaction{}, errors.Wrapf(ErrInconsistent, "fund %s", fnd.Code)
	}

	balance := fnd.CurrentBalance.Add(nt.Amount)
	if nt.Amount.IsNegative() && balance.IsNegative() && nt.Category != CategoryAdjustment {
		if balance.LessThan(nt.OverdraftLimit.Neg()) {
			return Transaction{}, &core.InsufficientFundsError{FundID: fnd.ID, Balance: fnd.CurrentBalance, Amount: nt.Amount}
		}
	}

	txn, err := svc.repo.CreateTransaction(ctx, Transaction{
		FundID:      fnd.ID,
		Amount:      nt.Amount,
		Category:    nt.Category,
		Description: nt.Description,
		Actor:       nt.Actor,
		Reference:   nt.Reference,
		LoanID:      nt.LoanID,
		ExternalRef: nt.ExternalRef,
		CreatedAt:   time.Now().UTC(),
	}, exec)
	if err != nil {
		return Transaction{}, err
	}

	fnd.apply(nt.Amount)
	fnd.UpdatedAt = txn.CreatedAt
	if !fnd.IsConsistent() {
		return Transaction{}, errors.Wrapf(ErrInconsistent, "fund %s after posting", fnd.Code)
	}
	if err = svc.repo.UpdateFundBalances(ctx, fnd, exec); err != nil {
		return Transaction{}, err
	}
	return txn, nil
}

// logPostFailure logs the failures that are not plain rejections of the input.
func (svc *Service) logPostFailure(err error, nt NewTransaction) {
	var rbErr *core.RollbackError
	switch {
	case errors.As(err, &rbErr):
		svc.log.Error(fmt.Sprintf("posting %s %s on fund %s: %v", nt.Category, nt.Amount, nt.FundID, err), err)
	case errors.Is(err, ErrInconsistent):
		svc.log.Error(fmt.Sprintf("posting %s %s on fund %s: %v", nt.Category, nt.Amount, nt.FundID, err), err)
	case core.IsValidation(err), core.IsNotFound(err), core.IsConflict(err),
		core.IsInvalidState(err), core.IsInsufficientFunds(err):
		return
	default:
		svc.log.Warn(fmt.Sprintf("posting %s %s on fund %s: %v", nt.Category, nt.Amount, nt.FundID, err), err)
	}
}

// LockFunds locks the funds in ascending id order, so that concurrent transfers
// between the same funds cannot deadlock.
func (svc *Service) LockFunds(ctx context.Context, exec core.DBExecutor, ids ...string) (map[string]Fund, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	funds := make(map[string]Fund, len(sorted))
	for _, id := range sorted {
		if _, ok := funds[id]; ok {
			continue
		}
		fnd, err := svc.repo.GetFund(ctx, id, true, exec)
		if err != nil {
			return nil, err
		}
		funds[id] = fnd
	}
	return funds, nil
}

// ListTransactions returns a page of ledger entries, newest first. The filter must
// name a fund, a loan or a transfer reference.
func (svc *Service) ListTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	filter.Clean()
	if filter.FundID != "" {
		if _, err := svc.repo.GetFund(ctx, filter.FundID, false); err != nil {
			return TransactionPage{}, err
		}
	} else if filter.LoanID == "" && filter.Reference == "" {
		return TransactionPage{}, core.NewFieldError("fund_id", "one of fund, loan or reference is required")
	}
	for _, cat := range filter.Categories {
		if !Category(cat).IsValid() {
			return TransactionPage{}, core.NewFieldError("category", categoryText)
		}
	}

	txns, count, err := svc.repo.QueryTransactions(ctx, filter)
	if err != nil {
		return TransactionPage{}, err
	}
	if txns == nil {
		txns = []Transaction{}
	}
	return TransactionPage{Count: count, Results: txns}, nil
}

// GetTransactionByExternalRef returns the entry posted with this de-duplication key.
func (svc *Service) GetTransactionByExternalRef(ctx context.Context, ref string, exec ...core.DBExecutor) (Transaction, error) {
	return svc.repo.GetTransactionByExternalRef(ctx, core.CleanString(ref), exec...)
}

// OrphanedTransferLegs returns the transfer legs missing their counterpart.
func (svc *Service) OrphanedTransferLegs(ctx context.Context, exec ...core.DBExecutor) ([]Transaction, error) {
	return svc.repo.OrphanedTransferLegs(ctx, exec...)
}

// Reconcile compares the cached balance fields of a fund to the ledger sum.
func (svc *Service) Reconcile(ctx context.Context, id string) (Reconciliation, error) {
	fnd, err := svc.repo.GetFund(ctx, id, false)
	if err != nil {
		return Reconciliation{}, err
	}
	return svc.reconcile(ctx, fnd, svc.db)
}

// ReconcileAll reconciles every fund, ordered by code.
func (svc *Service) ReconcileAll(ctx context.Context) ([]Reconciliation, error) {
	funds, err := svc.repo.QueryFunds(ctx, nil, []core.DBOrdering{{Field: "code", Ascending: true}})
	if err != nil {
		return nil, err
	}
	recs := make([]Reconciliation, 0, len(funds))
	for _, fnd := range funds {
		rec, err := svc.reconcile(ctx, fnd, svc.db)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Repair rewrites the cached balance fields of a fund from its ledger, which is ground truth.
func (svc *Service) Repair(ctx context.Context, id string, actor core.Actor) (Reconciliation, error) {
	var rec Reconciliation
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		fnd, err := svc.repo.GetFund(ctx, id, true, exec)
		if err != nil {
			return err
		}
		if rec, err = svc.reconcile(ctx, fnd, exec); err != nil {
			return err
		}
		if rec.Balanced() {
			return nil
		}
		fnd.CurrentBalance = rec.LedgerBalance
		fnd.TotalIncome = rec.LedgerIncome
		fnd.TotalExpenses = rec.LedgerExpenses
		fnd.UpdatedAt = time.Now().UTC()
		if err = svc.repo.UpdateFundBalances(ctx, fnd, exec); err != nil {
			return err
		}
		rec.Repaired = true
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if rec.Repaired {
		svc.log.Warn(fmt.Sprintf(
			"fund %s cache repaired: balance %s -> %s, income %s -> %s, expenses %s -> %s",
			rec.FundCode, rec.CachedBalance, rec.LedgerBalance, rec.CachedIncome, rec.LedgerIncome,
			rec.CachedExpenses, rec.LedgerExpenses), actor)
		core.NotifyBalancesChanged(ctx, svc.observer, rec.FundID)
	}
	return rec, nil
}

func (svc *Service) reconcile(ctx context.Context, fnd Fund, exec core.DBExecutor) (Reconciliation, error) {
	totals, err := svc.repo.LedgerTotals(ctx, fnd.ID, exec)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{
		FundID:         fnd.ID,
		FundCode:       fnd.Code,
		CachedBalance:  fnd.CurrentBalance,
		CachedIncome:   fnd.TotalIncome,
		CachedExpenses: fnd.TotalExpenses,
		LedgerBalance:  totals.Balance(),
		LedgerIncome:   totals.Income,
		LedgerExpenses: totals.Expenses,
		Entries:        totals.Entries,
	}, nil
}
