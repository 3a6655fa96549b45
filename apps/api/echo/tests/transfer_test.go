package tests

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/transfer"
	"github.com/lcardenasp7/conta/testutil"
)

func TestTransferApi_create(t *testing.T) {
	ts := setup(t)
	a := ts.CreateFund(t, "A", "0", "1000")
	b := ts.CreateFund(t, "B", "0", "0")

	body := func(src, dst, amount string) []byte {
		return []byte(fmt.Sprintf(`{"source_fund_id": %q, "dest_fund_id": %q, "amount": %q, "reason": "library books"}`, src, dst, amount))
	}

	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     "/v1/transfers",
			body:     body(a.ID, b.ID, "300"),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "unknown source",
			method:   http.MethodPost,
			path:     "/v1/transfers",
			body:     body("unknown", b.ID, "300"),
			token:    ts.userToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, errFundNotFound),
		},
		{
			name:     "insufficient funds",
			method:   http.MethodPost,
			path:     "/v1/transfers",
			body:     body(a.ID, b.ID, "1500"),
			token:    ts.userToken,
			wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{Error: "insufficient funds: balance 1000, debit 1500"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, ts.do(tt))
		})
	}

	fieldTests := []struct {
		name   string
		body   []byte
		fields []string
	}{
		{"same fund", body(a.ID, a.ID, "300"), []string{"dest_fund_id"}},
		{"zero amount", body(a.ID, b.ID, "0"), []string{"amount"}},
		{"negative amount", body(a.ID, b.ID, "-5"), []string{"amount"}},
		{"missing reason", []byte(fmt.Sprintf(`{"source_fund_id": %q, "dest_fund_id": %q, "amount": "5"}`, a.ID, b.ID)), []string{"reason"}},
	}
	for _, tt := range fieldTests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httpTest{method: http.MethodPost, path: "/v1/transfers", body: tt.body, token: ts.userToken})
			checkFieldErrors(t, rec, tt.fields...)
		})
	}

	// none of the rejected transfers moved money
	ts.RequireBalance(t, a.ID, "1000")
	ts.RequireBalance(t, b.ID, "0")

	t.Run("transferred", func(t *testing.T) {
		rec := ts.do(httpTest{method: http.MethodPost, path: "/v1/transfers", body: body(a.ID, b.ID, "300"), token: ts.userToken})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var res transfer.Result
		decodeBody(t, rec, &res)
		assert.NotEmpty(t, res.Reference)
		assert.Equal(t, fund.CategoryTransferOut, res.Debit.Category)
		assert.Equal(t, fund.CategoryTransferIn, res.Credit.Category)
		assert.Equal(t, clerk.Name(), res.Debit.Actor)
		ts.RequireBalance(t, a.ID, "700")
		ts.RequireBalance(t, b.ID, "300")

		rec = ts.do(httpTest{method: http.MethodGet, path: "/v1/transfers/" + res.Reference, token: ts.userToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var legs []fund.Transaction
		decodeBody(t, rec, &legs)
		require.Len(t, legs, 2)
		for _, leg := range legs {
			assert.Equal(t, res.Reference, leg.Reference)
		}
	})

	t.Run("unknown reference", func(t *testing.T) {
		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/transfers/unknown",
			token:    ts.userToken,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, errObjNotFound),
		}
		checkCodeAndData(t, tt, ts.do(tt))
	})
}

func TestTransferApi_orphans(t *testing.T) {
	ts := setup(t)
	a := ts.CreateFund(t, "A", "0", "100")

	tests := []httpTest{
		{
			name:     "list not admin",
			method:   http.MethodGet,
			path:     "/v1/transfers/orphans",
			token:    ts.userToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name:     "list none",
			method:   http.MethodGet,
			path:     "/v1/transfers/orphans",
			token:    ts.adminToken,
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		},
		{
			name:     "repair not admin",
			method:   http.MethodPost,
			path:     "/v1/transfers/orphans/repair",
			token:    ts.userToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, ts.do(tt))
		})
	}

	t.Run("repair", func(t *testing.T) {
		// a debit leg without its credit
		err := core.WithTx(context.Background(), ts.DB, func(exec core.DBExecutor) error {
			_, err := ts.Funds.Post(context.Background(), fund.NewTransaction{
				FundID:      a.ID,
				Amount:      testutil.Dec(t, "-30"),
				Category:    fund.CategoryTransferOut,
				Description: "half a transfer",
				Actor:       "admin",
				Reference:   "7d0c5b0e-9a38-4c7e-93d5-0d1b2ad6f2e1",
			}, exec)
			return err
		})
		require.NoError(t, err)

		rec := ts.do(httpTest{method: http.MethodGet, path: "/v1/transfers/orphans", token: ts.adminToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var orphans []fund.Transaction
		decodeBody(t, rec, &orphans)
		require.Len(t, orphans, 1)

		rec = ts.do(httpTest{method: http.MethodPost, path: "/v1/transfers/orphans/repair", token: ts.adminToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var compensations []fund.Transaction
		decodeBody(t, rec, &compensations)
		require.Len(t, compensations, 1)
		assert.Equal(t, fund.CategoryAdjustment, compensations[0].Category)
		ts.RequireBalance(t, a.ID, "100")

		tt := httpTest{
			method:   http.MethodPost,
			path:     "/v1/transfers/orphans/repair",
			token:    ts.adminToken,
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		}
		checkCodeAndData(t, tt, ts.do(tt))
	})
}
