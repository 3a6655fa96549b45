package alert

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
)

// Levels are the alert severities, matching the three fund thresholds.
var Levels = [3]int{1, 2, 3}

type Alert struct {
	ID          string     `json:"id"`
	FundID      string     `json:"fund_id"`
	Level       int        `json:"level"`
	Message     string     `json:"message"`
	TriggeredAt time.Time  `json:"triggered_at"` // UTC
	ResolvedAt  *time.Time `json:"resolved_at"`  // UTC
}

func (a Alert) IsResolved() bool { return a.ResolvedAt != nil }

type QueryFilter struct {
	FundID   string `query:"fund_id"`
	Resolved *bool  `query:"resolved"`
}

func (qf *QueryFilter) IsEmpty() bool { return qf.FundID == "" && qf.Resolved == nil }

func (qf *QueryFilter) Clean() { qf.FundID = core.CleanString(qf.FundID) }

// Result lists the alerts an evaluation raised and resolved.
type Result struct {
	FundID   string  `json:"fund_id"`
	Raised   []Alert `json:"raised"`
	Resolved []Alert `json:"resolved"`
}

func (r Result) Changed() bool { return len(r.Raised) > 0 || len(r.Resolved) > 0 }

var hundred = decimal.NewFromInt(100)

// Utilization returns the balance as a percentage of the fund capacity, and
// false when the fund has no capacity to measure against.
func Utilization(fnd fund.Fund) (decimal.Decimal, bool) {
	if !fnd.Capacity.IsPositive() {
		return decimal.Zero, false
	}
	return fnd.CurrentBalance.Mul(hundred).Div(fnd.Capacity), true
}

// ActiveLevels reports, per level, whether the fund has reached its threshold.
// An inactive fund, or one without capacity, has no active level.
func ActiveLevels(fnd fund.Fund) [3]bool {
	var active [3]bool
	util, ok := Utilization(fnd)
	if !ok || !fnd.IsActive {
		return active
	}
	for i, threshold := range fnd.AlertLevels() {
		active[i] = util.GreaterThanOrEqual(decimal.NewFromInt(int64(threshold)))
	}
	return active
}
