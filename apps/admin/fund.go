package main

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
)

// seedFile is the TOML layout read by the seed command:
//
//	[[fund]]
//	code = "TUITION-2025"
//	name = "Tuition 2025"
//	type = "tuition"
//	academic_year = 2025
//	capacity = "120000"
//	opening_balance = "0"
type seedFile struct {
	Funds []seedFund `toml:"fund"`
}

type seedFund struct {
	Code           string `toml:"code"`
	Name           string `toml:"name"`
	Type           string `toml:"type"`
	AcademicYear   int    `toml:"academic_year"`
	Capacity       string `toml:"capacity"`
	OpeningBalance string `toml:"opening_balance"`
	AlertLevels    []int  `toml:"alert_levels"`
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, core.NewFieldError(field, fmt.Sprintf("%s must be a decimal number (got %q)", field, s))
	}
	return d, nil
}

func (sf seedFund) newFund() (fund.NewFund, error) {
	capacity, err := parseAmount("capacity", sf.Capacity)
	if err != nil {
		return fund.NewFund{}, err
	}
	opening, err := parseAmount("opening_balance", sf.OpeningBalance)
	if err != nil {
		return fund.NewFund{}, err
	}
	nf := fund.NewFund{
		Code:           sf.Code,
		Name:           sf.Name,
		Type:           sf.Type,
		AcademicYear:   sf.AcademicYear,
		Capacity:       capacity,
		OpeningBalance: opening,
	}
	switch len(sf.AlertLevels) {
	case 0:
	case 3:
		nf.AlertLevel1, nf.AlertLevel2, nf.AlertLevel3 = sf.AlertLevels[0], sf.AlertLevels[1], sf.AlertLevels[2]
	default:
		return fund.NewFund{}, core.NewFieldError("alert_levels", "alert_levels must list 3 thresholds")
	}
	return nf, nil
}

func (cli *commandLine) createFund(code, name, typ string, year int, capacity, opening string) error {
	nf, err := seedFund{
		Code:           code,
		Name:           name,
		Type:           typ,
		AcademicYear:   year,
		Capacity:       capacity,
		OpeningBalance: opening,
	}.newFund()
	if err != nil {
		return err
	}
	fnd, err := cli.funds.Create(context.Background(), nf, cliActor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "fund %s created: id %s, balance %s\n", fnd.Code, fnd.ID, fnd.CurrentBalance)
	return nil
}

func (cli *commandLine) deactivate(code string, yes bool) error {
	ctx := context.Background()
	fnd, err := cli.funds.GetByCode(ctx, core.CleanCode(code))
	if err != nil {
		return err
	}
	if !yes {
		if err = cli.confirm(fmt.Sprintf("Deactivate fund %s (%s)?", fnd.Code, fnd.Name)); err != nil {
			return err
		}
	}
	if _, err = cli.funds.Deactivate(ctx, fnd.ID, cliActor); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "fund %s deactivated\n", fnd.Code)
	return nil
}

// seed creates the funds of a TOML file. Funds whose code already exists are skipped.
func (cli *commandLine) seed(path string) error {
	var data seedFile
	if _, err := toml.DecodeFile(path, &data); err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	var created, skipped int
	for i, sf := range data.Funds {
		nf, err := sf.newFund()
		if err != nil {
			return errors.Wrapf(err, "fund #%d", i+1)
		}
		fnd, err := cli.funds.Create(context.Background(), nf, cliActor)
		switch {
		case core.IsConflict(err):
			fmt.Fprintf(cli.out, "fund %s exists, skipped\n", core.CleanCode(sf.Code))
			skipped++
		case err != nil:
			return errors.Wrapf(err, "fund #%d (%s)", i+1, sf.Code)
		default:
			fmt.Fprintf(cli.out, "fund %s created: id %s\n", fnd.Code, fnd.ID)
			created++
		}
	}
	fmt.Fprintf(cli.out, "%d fund(s) created, %d skipped\n", created, skipped)
	return nil
}
