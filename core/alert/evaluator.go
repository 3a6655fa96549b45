package alert

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
)

const emailTemplate = "fund_alert"

type (
	Repository interface {
		// CreateAlert returns a ConflictError when the level already has an unresolved alert.
		CreateAlert(ctx context.Context, a Alert, exec ...core.DBExecutor) (Alert, error)
		UnresolvedAlerts(ctx context.Context, fundID string, exec ...core.DBExecutor) ([]Alert, error)
		ResolveAlert(ctx context.Context, a Alert, exec ...core.DBExecutor) error
		// QueryAlerts returns the alerts matching filter, newest first.
		QueryAlerts(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]Alert, error)
	}

	// Funds is the part of the fund service the evaluator reads from.
	Funds interface {
		LockFunds(ctx context.Context, exec core.DBExecutor, ids ...string) (map[string]fund.Fund, error)
		List(ctx context.Context, filter *fund.QueryFilter, ordering ...core.DBOrdering) ([]fund.Fund, error)
	}

	Evaluator struct {
		db         core.DB
		repo       Repository
		funds      Funds
		mailer     core.EmailService
		recipients []mail.Address
		appName    string
		log        core.Logger
	}
)

var (
	_ Funds                = (*fund.Service)(nil)
	_ core.BalanceObserver = (*Evaluator)(nil)
)

func NewEvaluator(db core.DB, repo Repository, funds Funds, mailer core.EmailService, conf *core.Config, logger core.Logger) *Evaluator {
	return &Evaluator{
		db:         db,
		repo:       repo,
		funds:      funds,
		mailer:     mailer,
		recipients: conf.Alerts.AlertRecipients(),
		appName:    conf.AppName,
		log:        logger,
	}
}

// Evaluate raises an alert for every level the fund newly reached and resolves
// the unresolved alerts of the levels it fell back below. It only depends on the
// current fund state and the stored alerts, so running it twice changes nothing.
func (ev *Evaluator) Evaluate(ctx context.Context, fundID string) (Result, error) {
	res := Result{FundID: fundID, Raised: []Alert{}, Resolved: []Alert{}}
	var fnd fund.Fund
	err := core.WithTx(ctx, ev.db, func(exec core.DBExecutor) error {
		funds, err := ev.funds.LockFunds(ctx, exec, fundID)
		if err != nil {
			return err
		}
		fnd = funds[fundID]

		open, err := ev.repo.UnresolvedAlerts(ctx, fundID, exec)
		if err != nil {
			return err
		}
		byLevel := make(map[int]Alert, len(open))
		for _, a := range open {
			byLevel[a.Level] = a
		}

		now := time.Now().UTC()
		util, _ := Utilization(fnd)
		active := ActiveLevels(fnd)
		thresholds := fnd.AlertLevels()
		for i, level := range Levels {
			a, isOpen := byLevel[level]
			switch {
			case active[i] && !isOpen:
				a, err = ev.repo.CreateAlert(ctx, Alert{
					FundID:      fundID,
					Level:       level,
					Message:     message(fnd, util, level, thresholds[i]),
					TriggeredAt: now,
				}, exec)
				if err != nil {
					return err
				}
				res.Raised = append(res.Raised, a)
			case !active[i] && isOpen:
				a.ResolvedAt = &now
				if err = ev.repo.ResolveAlert(ctx, a, exec); err != nil {
					return err
				}
				res.Resolved = append(res.Resolved, a)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, a := range res.Raised {
		ev.log.Warn(a.Message)
	}
	for _, a := range res.Resolved {
		ev.log.Info(fmt.Sprintf("fund %s alert level %d resolved", fnd.Code, a.Level))
	}
	if len(res.Raised) > 0 {
		ev.notify(fnd, res.Raised)
	}
	return res, nil
}

// EvaluateAll evaluates every fund, ordered by code.
func (ev *Evaluator) EvaluateAll(ctx context.Context) ([]Result, error) {
	funds, err := ev.funds.List(ctx, nil, core.DBOrdering{Field: "code", Ascending: true})
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(funds))
	for _, fnd := range funds {
		res, err := ev.Evaluate(ctx, fnd.ID)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// BalancesChanged evaluates the funds after a committed posting. Failures are
// logged: the posting itself already succeeded.
func (ev *Evaluator) BalancesChanged(ctx context.Context, fundIDs ...string) {
	for _, id := range fundIDs {
		if _, err := ev.Evaluate(ctx, id); err != nil {
			ev.log.Error(fmt.Sprintf("evaluating alerts of fund %s: %v", id, err), err)
		}
	}
}

func (ev *Evaluator) List(ctx context.Context, filter *QueryFilter) ([]Alert, error) {
	if filter != nil {
		filter.Clean()
	}
	alerts, err := ev.repo.QueryAlerts(ctx, filter)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

func message(fnd fund.Fund, util decimal.Decimal, level, threshold int) string {
	return fmt.Sprintf("fund %s reached %s%% of its capacity (level %d threshold: %d%%)",
		fnd.Code, util.StringFixed(1), level, threshold)
}

// notify e-mails the raised alerts to the configured recipients.
func (ev *Evaluator) notify(fnd fund.Fund, raised []Alert) {
	if ev.mailer == nil || len(ev.recipients) == 0 {
		return
	}

	util, _ := Utilization(fnd)
	maxLevel := raised[len(raised)-1].Level
	ev.mailer.SendMessages(&core.EmailMessage{
		To:           ev.recipients,
		Subject:      fmt.Sprintf("Fund %s reached alert level %d", fnd.Code, maxLevel),
		Categories:   []string{"fund-alert", fmt.Sprintf("alert-level-%d", maxLevel)},
		TemplateName: emailTemplate,
		TemplateData: map[string]interface{}{
			"AppName":     ev.appName,
			"FundCode":    fnd.Code,
			"FundName":    fnd.Name,
			"Utilization": util.StringFixed(1),
			"Balance":     fnd.CurrentBalance.StringFixed(2),
			"Capacity":    fnd.Capacity.StringFixed(2),
			"Alerts":      raised,
		},
	})
}
