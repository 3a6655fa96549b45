package sqlxrepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
)

const alertColumns = `id, fund_id, level, message, triggered_at, resolved_at`

var errAlertExists = core.NewConflictError("the fund already has an unresolved alert at this level")

type alertRow struct {
	ID          string    `db:"id"`
	FundID      string    `db:"fund_id"`
	Level       int       `db:"level"`
	Message     string    `db:"message"`
	TriggeredAt time.Time `db:"triggered_at"`
	ResolvedAt  null.Time `db:"resolved_at"`
}

func (r alertRow) unrow() alert.Alert {
	return alert.Alert{
		ID:          r.ID,
		FundID:      r.FundID,
		Level:       r.Level,
		Message:     r.Message,
		TriggeredAt: r.TriggeredAt.UTC(),
		ResolvedAt:  utcPtr(r.ResolvedAt),
	}
}

func unrowAlerts(rows []alertRow) []alert.Alert {
	alerts := make([]alert.Alert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, row.unrow())
	}
	return alerts
}

type alertRepository struct {
	baseRepository
}

var _ alert.Repository = (*alertRepository)(nil) // interface compliance check

func NewAlertRepository(exec core.DBExecutor) *alertRepository {
	return &alertRepository{baseRepository{exec: exec}}
}

func (repo alertRepository) CreateAlert(ctx context.Context, a alert.Alert, exec ...core.DBExecutor) (alert.Alert, error) {
	ex := repo.getExec(exec)
	a.ID = uuid.New().String()
	q := `INSERT INTO alerts (` + alertColumns + `) VALUES (` + placeholders(6) + `)`
	_, err := ex.ExecContext(ctx, ex.Rebind(q),
		a.ID, a.FundID, a.Level, a.Message, a.TriggeredAt.UTC(), nullTime(a.ResolvedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return alert.Alert{}, errAlertExists
		}
		return alert.Alert{}, errors.Wrap(err, "inserting alert")
	}
	return a, nil
}

func (repo alertRepository) UnresolvedAlerts(ctx context.Context, fundID string, exec ...core.DBExecutor) ([]alert.Alert, error) {
	ex := repo.getExec(exec)
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE fund_id = ? AND resolved_at IS NULL ORDER BY level`
	var rows []alertRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(q), fundID); err != nil {
		return nil, errors.Wrap(err, "querying unresolved alerts")
	}
	return unrowAlerts(rows), nil
}

func (repo alertRepository) ResolveAlert(ctx context.Context, a alert.Alert, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	q := `UPDATE alerts SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`
	res, err := ex.ExecContext(ctx, ex.Rebind(q), nullTime(a.ResolvedAt), a.ID)
	if err != nil {
		return errors.Wrap(err, "resolving alert")
	}
	return checkAffected(res, core.NewNotFoundError("unresolved alert not found"))
}

func (repo alertRepository) QueryAlerts(ctx context.Context, filter *alert.QueryFilter, exec ...core.DBExecutor) ([]alert.Alert, error) {
	ex := repo.getExec(exec)
	var w where
	if filter != nil {
		if filter.FundID != "" {
			w.add("fund_id = ?", filter.FundID)
		}
		if filter.Resolved != nil {
			if *filter.Resolved {
				w.add("resolved_at IS NOT NULL")
			} else {
				w.add("resolved_at IS NULL")
			}
		}
	}

	q := `SELECT ` + alertColumns + ` FROM alerts` + w.String() + ` ORDER BY triggered_at DESC, level DESC`
	var rows []alertRow
	if err := ex.SelectContext(ctx, &rows, ex.Rebind(q), w.args...); err != nil {
		return nil, errors.Wrap(err, "querying alerts")
	}
	return unrowAlerts(rows), nil
}
