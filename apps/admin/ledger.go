package main

import (
	"context"
	"fmt"

	echoapi "github.com/lcardenasp7/conta/apps/api/echo"
	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/fund"
)

var errUnbalanced = fmt.Errorf("some funds do not match their ledger: run with -repair")

// reconcile prints the funds whose cached balances do not match their ledger,
// repairing them when asked.
func (cli *commandLine) reconcile(code string, repair, orphans bool) error {
	ctx := context.Background()

	var recs []fund.Reconciliation
	if code != "" {
		fnd, err := cli.funds.GetByCode(ctx, core.CleanCode(code))
		if err != nil {
			return err
		}
		rec, err := cli.funds.Reconcile(ctx, fnd.ID)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	} else {
		var err error
		if recs, err = cli.funds.ReconcileAll(ctx); err != nil {
			return err
		}
	}

	unbalanced := 0
	for _, rec := range recs {
		if rec.Balanced() {
			continue
		}
		fmt.Fprintf(cli.out, "fund %s: cached balance %s, ledger balance %s (%d entries)\n",
			rec.FundCode, rec.CachedBalance, rec.LedgerBalance, rec.Entries)
		if !repair {
			unbalanced++
			continue
		}
		if _, err := cli.funds.Repair(ctx, rec.FundID, cliActor); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "fund %s repaired\n", rec.FundCode)
	}

	if orphans {
		compensations, err := cli.transfers.RepairOrphans(ctx, cliActor)
		if err != nil {
			return err
		}
		for _, txn := range compensations {
			fmt.Fprintf(cli.out, "orphaned leg of transfer %s compensated on fund %s: %s\n", txn.Reference, txn.FundID, txn.Amount)
		}
	}

	if unbalanced > 0 {
		return errUnbalanced
	}
	fmt.Fprintf(cli.out, "%d fund(s) reconciled\n", len(recs))
	return nil
}

func (cli *commandLine) evaluate(code string) error {
	ctx := context.Background()

	var results []alert.Result
	if code != "" {
		fnd, err := cli.funds.GetByCode(ctx, core.CleanCode(code))
		if err != nil {
			return err
		}
		res, err := cli.alerts.Evaluate(ctx, fnd.ID)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		var err error
		if results, err = cli.alerts.EvaluateAll(ctx); err != nil {
			return err
		}
	}

	for _, res := range results {
		for _, a := range res.Raised {
			fmt.Fprintf(cli.out, "raised: %s\n", a.Message)
		}
		for _, a := range res.Resolved {
			fmt.Fprintf(cli.out, "resolved: level %d on fund %s\n", a.Level, res.FundID)
		}
	}
	fmt.Fprintf(cli.out, "%d fund(s) evaluated\n", len(results))
	return nil
}

func (cli *commandLine) token(username string, isAdmin bool) error {
	actor := core.Actor{ID: core.CleanString(username, true /* lower */), Username: core.CleanString(username, true /* lower */)}
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, actor, isAdmin))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
