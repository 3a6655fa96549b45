package transfer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/transfer"
	"github.com/lcardenasp7/conta/testutil"
)

var ctx = context.Background()

func newRequest(t *testing.T, src, dest, amount string) transfer.Request {
	return transfer.Request{
		SourceFundID: src,
		DestFundID:   dest,
		Amount:       testutil.Dec(t, amount),
		Reason:       "school trip",
		Actor:        testutil.Admin.Name(),
	}
}

func TestCoordinator_Transfer(t *testing.T) {
	app := testutil.NewApp(t)
	a := app.CreateFund(t, "A", "0", "50000")
	b := app.CreateFund(t, "B", "0", "0")

	res, err := app.Transfer.Transfer(ctx, newRequest(t, a.ID, b.ID, "20000"))
	require.NoError(t, err)

	app.RequireBalance(t, a.ID, "30000")
	app.RequireBalance(t, b.ID, "20000")

	assert.NotEmpty(t, res.Reference)
	assert.Equal(t, res.Reference, res.Debit.Reference)
	assert.Equal(t, res.Reference, res.Credit.Reference)
	assert.Equal(t, fund.CategoryTransferOut, res.Debit.Category)
	assert.Equal(t, fund.CategoryTransferIn, res.Credit.Category)
	assert.True(t, res.Debit.Amount.Add(res.Credit.Amount).IsZero())
	assert.Equal(t, "school trip", res.Debit.Description)

	page, err := app.Funds.ListTransactions(ctx, fund.TransactionFilter{Reference: res.Reference})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
}

func TestCoordinator_TransferRejected(t *testing.T) {
	app := testutil.NewApp(t)
	a := app.CreateFund(t, "A", "0", "100")
	b := app.CreateFund(t, "B", "0", "0")
	closed := app.CreateFund(t, "Z", "0", "0")
	_, err := app.Funds.Deactivate(ctx, closed.ID, testutil.Admin)
	require.NoError(t, err)

	tests := []struct {
		name  string
		req   transfer.Request
		check func(error) bool
	}{
		{"same fund", newRequest(t, a.ID, a.ID, "10"), core.IsValidation},
		{"zero amount", newRequest(t, a.ID, b.ID, "0"), core.IsValidation},
		{"negative amount", newRequest(t, a.ID, b.ID, "-10"), core.IsValidation},
		{"too many decimals", newRequest(t, a.ID, b.ID, "0.00001"), core.IsValidation},
		{"missing reason", func() transfer.Request { r := newRequest(t, a.ID, b.ID, "10"); r.Reason = " "; return r }(), core.IsValidation},
		{"missing actor", func() transfer.Request { r := newRequest(t, a.ID, b.ID, "10"); r.Actor = ""; return r }(), core.IsValidation},
		{"unknown source", newRequest(t, "nope", b.ID, "10"), core.IsNotFound},
		{"unknown destination", newRequest(t, a.ID, "nope", "10"), core.IsNotFound},
		{"insufficient funds", newRequest(t, a.ID, b.ID, "150"), core.IsInsufficientFunds},
		// the debit leg succeeds before the credit leg fails
		{"inactive destination", newRequest(t, a.ID, closed.ID, "10"), core.IsInvalidState},
		{"inactive source", newRequest(t, closed.ID, b.ID, "10"), core.IsInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := app.Transfer.Transfer(ctx, tt.req)
			assert.True(t, tt.check(err), "got %v", err)

			app.RequireBalance(t, a.ID, "100")
			app.RequireBalance(t, b.ID, "0")
			page, err := app.Funds.ListTransactions(ctx, fund.TransactionFilter{
				FundID:     a.ID,
				Categories: []string{string(fund.CategoryTransferOut)},
			})
			require.NoError(t, err)
			assert.Zero(t, page.Count)
		})
	}
}

func TestCoordinator_TransferConcurrent(t *testing.T) {
	app := testutil.NewApp(t)
	a := app.CreateFund(t, "A", "0", "1000")
	b := app.CreateFund(t, "B", "0", "1000")

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := app.Transfer.Transfer(ctx, newRequest(t, a.ID, b.ID, "15"))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := app.Transfer.Transfer(ctx, newRequest(t, b.ID, a.ID, "5"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	app.RequireBalance(t, a.ID, "800")
	app.RequireBalance(t, b.ID, "1200")
}

func TestCoordinator_RepairOrphans(t *testing.T) {
	app := testutil.NewApp(t)
	a := app.CreateFund(t, "A", "0", "100")
	b := app.CreateFund(t, "B", "0", "0")

	_, err := app.Transfer.Transfer(ctx, newRequest(t, a.ID, b.ID, "10"))
	require.NoError(t, err)

	// a debit leg committed without its credit leg
	ref := uuid.New().String()
	err = core.WithTx(ctx, app.DB, func(exec core.DBExecutor) error {
		_, err := app.Funds.Post(ctx, fund.NewTransaction{
			FundID:      a.ID,
			Amount:      testutil.Dec(t, "-30"),
			Category:    fund.CategoryTransferOut,
			Description: "interrupted",
			Actor:       "legacy-import",
			Reference:   ref,
		}, exec)
		return err
	})
	require.NoError(t, err)
	app.RequireBalance(t, a.ID, "60")

	orphans, err := app.Funds.OrphanedTransferLegs(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, ref, orphans[0].Reference)

	compensations, err := app.Transfer.RepairOrphans(ctx, testutil.Admin)
	require.NoError(t, err)
	require.Len(t, compensations, 1)
	assert.Equal(t, fund.CategoryAdjustment, compensations[0].Category)
	assert.Equal(t, ref, compensations[0].Reference)
	assert.Equal(t, "30", compensations[0].Amount.String())
	assert.NotEmpty(t, app.Log.Levelled("WARN"))

	app.RequireBalance(t, a.ID, "90")
	rec, err := app.Funds.Reconcile(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, rec.Balanced())

	compensations, err = app.Transfer.RepairOrphans(ctx, testutil.Admin)
	require.NoError(t, err)
	assert.Empty(t, compensations)
}
