package core

import "context"

// BalanceObserver is notified once balance changes have been committed.
// It must never be called from inside the write transaction.
type BalanceObserver interface {
	BalancesChanged(ctx context.Context, fundIDs ...string)
}

// NotifyBalancesChanged calls obs when it is set, dropping duplicate ids.
func NotifyBalancesChanged(ctx context.Context, obs BalanceObserver, fundIDs ...string) {
	if obs == nil || len(fundIDs) == 0 {
		return
	}
	seen := make(map[string]bool, len(fundIDs))
	ids := make([]string, 0, len(fundIDs))
	for _, id := range fundIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	obs.BalancesChanged(ctx, ids...)
}
