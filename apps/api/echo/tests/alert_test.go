package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/fund"
)

func TestAlertApi(t *testing.T) {
	ts := setup(t)
	c := ts.CreateFund(t, "C", "1000", "0")
	d := ts.CreateFund(t, "D", "1000", "0")
	ts.Post(t, c.ID, "960", fund.CategoryIncome)

	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodGet,
			path:     "/v1/alerts",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "evaluate not admin",
			method:   http.MethodPost,
			path:     "/v1/alerts/evaluate",
			token:    ts.userToken,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, errForbidden),
		},
		{
			name:     "none for fund D",
			method:   http.MethodGet,
			path:     "/v1/alerts?fund_id=" + d.ID,
			token:    ts.userToken,
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, ts.do(tt))
		})
	}

	t.Run("raised on posting", func(t *testing.T) {
		rec := ts.do(httpTest{method: http.MethodGet, path: "/v1/alerts?resolved=false", token: ts.userToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var alerts []alert.Alert
		decodeBody(t, rec, &alerts)
		require.Len(t, alerts, 3)
		for _, a := range alerts {
			assert.Equal(t, c.ID, a.FundID)
			assert.False(t, a.IsResolved())
		}
	})

	t.Run("evaluate all", func(t *testing.T) {
		// the cache now says 50%: only re-evaluation resolves the alerts
		_, err := ts.DB.Exec(`UPDATE funds SET current_balance = 500, total_income = 500 WHERE id = ?`, c.ID)
		require.NoError(t, err)

		rec := ts.do(httpTest{method: http.MethodPost, path: "/v1/alerts/evaluate", token: ts.adminToken})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var results []alert.Result
		decodeBody(t, rec, &results)
		require.Len(t, results, 1)
		assert.Equal(t, c.ID, results[0].FundID)
		assert.Len(t, results[0].Resolved, 3)

		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/alerts?resolved=false",
			token:    ts.userToken,
			wantCode: http.StatusOK,
			wantData: []byte(`[]`),
		}
		checkCodeAndData(t, tt, ts.do(tt))
	})
}
