package alert_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/testutil"
)

var ctx = context.Background()

func unresolved(t *testing.T, app *testutil.App, fundID string) []int {
	t.Helper()
	open := false
	alerts, err := app.Alerts.List(ctx, &alert.QueryFilter{FundID: fundID, Resolved: &open})
	require.NoError(t, err)
	levels := []int{}
	for _, a := range alerts {
		levels = append(levels, a.Level)
	}
	return levels
}

func TestEvaluator_Thresholds(t *testing.T) {
	app := testutil.NewApp(t)
	c := app.CreateFund(t, "C", "100000", "0")
	assert.Empty(t, unresolved(t, app, c.ID))

	// postings evaluate the fund once committed
	app.Post(t, c.ID, "72000", fund.CategoryIncome)
	assert.Equal(t, []int{1}, unresolved(t, app, c.ID))

	res, err := app.Alerts.Evaluate(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, []int{1}, unresolved(t, app, c.ID))

	app.Post(t, c.ID, "-12000", fund.CategoryExpense)
	assert.Empty(t, unresolved(t, app, c.ID))

	resolved := true
	alerts, err := app.Alerts.List(ctx, &alert.QueryFilter{FundID: c.ID, Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].Level)
	assert.True(t, alerts[0].IsResolved())

	// crossing every level at once
	app.Post(t, c.ID, "36000", fund.CategoryIncome)
	assert.ElementsMatch(t, []int{1, 2, 3}, unresolved(t, app, c.ID))

	// back between levels 2 and 3
	app.Post(t, c.ID, "-6000", fund.CategoryExpense)
	assert.ElementsMatch(t, []int{1, 2}, unresolved(t, app, c.ID))

	res, err = app.Alerts.Evaluate(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed())
}

func TestEvaluator_Notify(t *testing.T) {
	app := testutil.NewApp(t)
	c := app.CreateFund(t, "C", "1000", "0")

	app.Post(t, c.ID, "900", fund.CategoryIncome)
	sent := app.Mailer.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "Fund C reached alert level 2", msg.Subject)
	assert.Equal(t, []string{"fund-alert", "alert-level-2"}, msg.Categories)
	require.Len(t, msg.To, 1)
	assert.Equal(t, "bursar@school.test", msg.To[0].Address)
	assert.Contains(t, msg.TextContent, "Fund C (Fund C) reached 90.0% of its capacity.")
	assert.Contains(t, msg.TextContent, "Level 1")
	assert.Contains(t, msg.TextContent, "Level 2")
	assert.NotContains(t, msg.TextContent, "Level 3")
	assert.Contains(t, msg.HTMLContent, "900.00")

	// resolving and re-evaluating sends nothing
	app.Post(t, c.ID, "-500", fund.CategoryExpense)
	_, err := app.Alerts.Evaluate(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, app.Mailer.Sent(), 1)
}

func TestEvaluator_NoMeasure(t *testing.T) {
	app := testutil.NewApp(t)

	t.Run("no capacity", func(t *testing.T) {
		z := app.CreateFund(t, "Z", "0", "5000")
		assert.Empty(t, unresolved(t, app, z.ID))
	})

	t.Run("inactive fund", func(t *testing.T) {
		c := app.CreateFund(t, "C", "100", "99")
		assert.Len(t, unresolved(t, app, c.ID), 3)

		_, err := app.DB.Exec(`UPDATE funds SET is_active = ? WHERE id = ?`, false, c.ID)
		require.NoError(t, err)
		res, err := app.Alerts.Evaluate(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, res.Resolved, 3)
		assert.Empty(t, unresolved(t, app, c.ID))
	})

	t.Run("unknown fund", func(t *testing.T) {
		_, err := app.Alerts.Evaluate(ctx, "nope")
		assert.Error(t, err)
	})
}

func TestEvaluator_EvaluateAll(t *testing.T) {
	app := testutil.NewApp(t)
	a := app.CreateFund(t, "A", "100", "0")
	b := app.CreateFund(t, "B", "100", "0")

	// balances moved without going through the ledger service
	_, err := app.DB.Exec(`UPDATE funds SET current_balance = '80', total_income = '80' WHERE id IN (?, ?)`, a.ID, b.ID)
	require.NoError(t, err)

	results, err := app.Alerts.EvaluateAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a.ID, results[0].FundID)
	for _, res := range results {
		assert.Len(t, res.Raised, 1)
	}

	results, err = app.Alerts.EvaluateAll(ctx)
	require.NoError(t, err)
	for _, res := range results {
		assert.False(t, res.Changed())
	}
}

func TestActiveLevels(t *testing.T) {
	fnd := fund.Fund{
		IsActive:    true,
		Capacity:    testutil.Dec(t, "200"),
		AlertLevel1: 50, AlertLevel2: 75, AlertLevel3: 100,
	}
	tests := []struct {
		balance string
		want    [3]bool
	}{
		{"0", [3]bool{}},
		{"99.99", [3]bool{}},
		{"100", [3]bool{true}},
		{"150", [3]bool{true, true}},
		{"250", [3]bool{true, true, true}},
		{"-10", [3]bool{}},
	}
	for _, tt := range tests {
		t.Run(tt.balance, func(t *testing.T) {
			fnd.CurrentBalance = testutil.Dec(t, tt.balance)
			assert.Equal(t, tt.want, alert.ActiveLevels(fnd))
		})
	}
}
