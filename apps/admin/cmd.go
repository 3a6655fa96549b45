package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/transfer"
	"github.com/lcardenasp7/conta/storage/database"
)

var (
	migrateFunc    = database.RunMigrations // mockable
	isTerminalFunc = term.IsTerminal        // mockable
	readLineFunc   = readLine               // mockable

	errHelp      = errors.New("help provided")
	errAborted   = errors.New("aborted")
	errNoConfirm = errors.New("stdin is not a terminal: pass -yes to confirm")

	cliActor = core.Actor{ID: "admin-cli", Username: "admin-cli"}
)

type commandLine struct {
	conf      *core.Config
	db        *sqlx.DB
	funds     *fund.Service
	transfers *transfer.Coordinator
	alerts    *alert.Evaluator
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS...] - run goose migration COMMAND (up, down, status, version...)")
	fmt.Println("  createfund -code CODE -name NAME -type TYPE -year YEAR [-capacity N] [-opening N] - create a fund")
	fmt.Println("  deactivate -code CODE [-yes] - deactivate an empty fund without open loans")
	fmt.Println("  seed -file FILE - create the funds listed in a TOML file, skipping existing codes")
	fmt.Println("  reconcile [-code CODE] [-repair] [-orphans] - compare cached balances to the ledger")
	fmt.Println("  evaluate [-code CODE] - re-evaluate fund alerts")
	fmt.Println("  token -actor USERNAME [-admin] - issue an API token")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createFundCmd := flag.NewFlagSet("createfund", flag.ExitOnError)
	createFundCode := createFundCmd.String("code", "", "The fund code, unique.")
	createFundName := createFundCmd.String("name", "", "The fund name.")
	createFundType := createFundCmd.String("type", "", "The fund type, e.g. "+strings.Join(fund.Types, ", ")+".")
	createFundYear := createFundCmd.Int("year", 0, "The academic year.")
	createFundCapacity := createFundCmd.String("capacity", "0", "The capacity alert levels are computed against.")
	createFundOpening := createFundCmd.String("opening", "0", "The opening balance.")

	deactivateCmd := flag.NewFlagSet("deactivate", flag.ExitOnError)
	deactivateCode := deactivateCmd.String("code", "", "The fund code.")
	deactivateYes := deactivateCmd.Bool("yes", false, "Do not ask for confirmation.")

	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	seedFile := seedCmd.String("file", "", "The TOML file listing the funds.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ExitOnError)
	reconcileCode := reconcileCmd.String("code", "", "Only reconcile this fund.")
	reconcileRepair := reconcileCmd.Bool("repair", false, "Rebuild the cached balances that do not match the ledger.")
	reconcileOrphans := reconcileCmd.Bool("orphans", false, "Also compensate orphaned transfer legs.")

	evaluateCmd := flag.NewFlagSet("evaluate", flag.ExitOnError)
	evaluateCode := evaluateCmd.String("code", "", "Only evaluate this fund.")

	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)
	tokenActor := tokenCmd.String("actor", "", "The username the token is issued to.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Grant bursar permissions.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "createfund":
		if err := createFundCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *createFundCode == "" || *createFundName == "" || *createFundType == "" || *createFundYear == 0 {
			createFundCmd.Usage()
			return errHelp
		}
		return cli.createFund(*createFundCode, *createFundName, *createFundType, *createFundYear, *createFundCapacity, *createFundOpening)
	case "deactivate":
		if err := deactivateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *deactivateCode == "" {
			deactivateCmd.Usage()
			return errHelp
		}
		return cli.deactivate(*deactivateCode, *deactivateYes)
	case "seed":
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedFile == "" {
			seedCmd.Usage()
			return errHelp
		}
		return cli.seed(*seedFile)
	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.reconcile(*reconcileCode, *reconcileRepair, *reconcileOrphans)
	case "evaluate":
		if err := evaluateCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.evaluate(*evaluateCode)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenActor == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenActor, *tokenAdmin)
	default:
		cli.printUsage()
		return errHelp
	}
}

// confirm asks a yes/no question on the terminal.
func (cli *commandLine) confirm(question string) error {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return errNoConfirm
	}
	fmt.Fprintf(cli.out, "%s [y/N]: ", question)
	answer, err := readLineFunc()
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}
