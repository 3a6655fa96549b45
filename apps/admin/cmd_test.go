package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/lcardenasp7/conta/apps/api/echo"
	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/testutil"
)

func setup(t *testing.T) (*commandLine, *testutil.App, *bytes.Buffer) {
	app := testutil.NewApp(t)
	out := new(bytes.Buffer)

	// start CLI
	return &commandLine{
		conf:      app.Conf,
		db:        app.DB,
		funds:     app.Funds,
		transfers: app.Transfer,
		alerts:    app.Alerts,
		out:       out,
	}, app, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest, before ...func(tt cliTest)) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			for _, fn := range before {
				fn(tt)
			}
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if errors.Cause(err) != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if !strings.Contains(err.Error(), tt.wantErrStr) {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			} else if tt.wantErr != nil || tt.wantErrStr != "" {
				t.Errorf("cli.run() error = nil, wantErr %v%s", tt.wantErr, tt.wantErrStr)
			}
		})
	}
}

func Test_commandLine_help(t *testing.T) {
	cli, _, _ := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "createfund: no args", args: []string{"createfund"}, wantErr: errHelp},
		{name: "createfund: no year", args: []string{"createfund", "-code", "A", "-name", "A", "-type", "other"}, wantErr: errHelp},
		{name: "deactivate: no code", args: []string{"deactivate"}, wantErr: errHelp},
		{name: "seed: no file", args: []string{"seed"}, wantErr: errHelp},
		{name: "token: no actor", args: []string{"token"}, wantErr: errHelp},
	})
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	migrateFunc = func(db *sqlx.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "budget", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}

func Test_commandLine_createFund(t *testing.T) {
	cli, app, _ := setup(t)
	app.CreateFund(t, "USED", "0", "0")

	fundArgs := func(code string, extra ...string) []string {
		return append([]string{"createfund", "-code", code, "-name", "Library", "-type", "operational", "-year", "2025"}, extra...)
	}
	runCLITests(t, cli, []cliTest{
		{name: "bad capacity", args: fundArgs("LIB", "-capacity", "lots"), wantErrStr: "capacity must be a decimal number"},
		{name: "bad type", args: []string{"createfund", "-code", "X", "-name", "X", "-type", "lol fund", "-year", "2025"}, wantErrStr: "invalid input"},
		{name: "code exists", args: fundArgs("used"), wantErrStr: "a fund with this code already exists"},
		{name: "created", args: fundArgs("lib", "-capacity", "5000", "-opening", "120.50")},
	})

	fnd, err := app.Funds.GetByCode(context.Background(), "LIB")
	require.NoError(t, err)
	assert.Equal(t, "Library", fnd.Name)
	assert.True(t, testutil.Dec(t, "5000").Equal(fnd.Capacity))
	app.RequireBalance(t, fnd.ID, "120.50")
}

func Test_commandLine_deactivate(t *testing.T) {
	cli, app, _ := setup(t)
	funded := app.CreateFund(t, "FUNDED", "0", "10")
	app.CreateFund(t, "A", "0", "0")
	app.CreateFund(t, "B", "0", "0")

	type extra struct {
		terminal bool
		answer   string
	}
	runCLITests(t, cli, []cliTest{
		{name: "not found", args: []string{"deactivate", "-code", "lol", "-yes"}, wantErr: fund.ErrNotFound},
		{name: "non-zero balance", args: []string{"deactivate", "-code", "funded", "-yes"}, wantErrStr: "non-zero balance"},
		{name: "not a terminal", args: []string{"deactivate", "-code", "a"}, wantErr: errNoConfirm},
		{name: "declined", args: []string{"deactivate", "-code", "a"}, extra: extra{terminal: true, answer: "n\n"}, wantErr: errAborted},
		{name: "confirmed", args: []string{"deactivate", "-code", "a"}, extra: extra{terminal: true, answer: "Y\n"}},
		{name: "already inactive", args: []string{"deactivate", "-code", "a", "-yes"}, wantErrStr: "already inactive"},
		{name: "yes", args: []string{"deactivate", "-code", "b", "-yes"}},
	}, func(tt cliTest) {
		ex, _ := tt.extra.(extra)
		isTerminalFunc = func(fd int) bool { return ex.terminal }
		readLineFunc = func() (string, error) { return ex.answer, nil }
	})

	for _, code := range []string{"A", "B"} {
		fnd, err := app.Funds.GetByCode(context.Background(), code)
		require.NoError(t, err)
		assert.False(t, fnd.IsActive, code)
	}
	assert.True(t, app.Fund(t, funded.ID).IsActive)
}

func Test_commandLine_seed(t *testing.T) {
	cli, app, out := setup(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "funds.toml")
	require.NoError(t, os.WriteFile(good, []byte(`
[[fund]]
code = "tuition-2025"
name = "Tuition 2025"
type = "tuition"
academic_year = 2025
capacity = "120000"

[[fund]]
code = "TRIPS"
name = "School trips"
type = "events"
academic_year = 2025
capacity = "8000"
opening_balance = "500"
alert_levels = [50, 75, 90]
`), 0o600))

	badLevels := filepath.Join(dir, "levels.toml")
	require.NoError(t, os.WriteFile(badLevels, []byte(`
[[fund]]
code = "X"
name = "X"
type = "other"
academic_year = 2025
alert_levels = [50]
`), 0o600))

	runCLITests(t, cli, []cliTest{
		{name: "missing file", args: []string{"seed", "-file", filepath.Join(dir, "nope.toml")}, wantErrStr: "reading"},
		{name: "bad levels", args: []string{"seed", "-file", badLevels}, wantErrStr: "alert_levels must list 3 thresholds"},
		{name: "seeded", args: []string{"seed", "-file", good}},
	})
	assert.Contains(t, out.String(), "2 fund(s) created, 0 skipped")

	out.Reset()
	require.NoError(t, cli.run([]string{"admin", "seed", "-file", good}))
	assert.Contains(t, out.String(), "0 fund(s) created, 2 skipped")

	trips, err := app.Funds.GetByCode(context.Background(), "TRIPS")
	require.NoError(t, err)
	assert.Equal(t, [3]int{50, 75, 90}, trips.AlertLevels())
	app.RequireBalance(t, trips.ID, "500")

	tuition, err := app.Funds.GetByCode(context.Background(), "TUITION-2025")
	require.NoError(t, err)
	assert.Equal(t, app.Conf.Alerts.DefaultLevels, tuition.AlertLevels())
}

func Test_commandLine_reconcile(t *testing.T) {
	cli, app, out := setup(t)
	a := app.CreateFund(t, "A", "0", "100")
	app.CreateFund(t, "B", "0", "50")

	// consistent but wrong: only the ledger can tell
	_, err := app.DB.Exec(`UPDATE funds SET current_balance = 60, total_income = 60 WHERE id = ?`, a.ID)
	require.NoError(t, err)

	runCLITests(t, cli, []cliTest{
		{name: "unknown fund", args: []string{"reconcile", "-code", "lol"}, wantErr: fund.ErrNotFound},
		{name: "balanced fund", args: []string{"reconcile", "-code", "b"}},
		{name: "unbalanced", args: []string{"reconcile"}, wantErr: errUnbalanced},
		{name: "repair", args: []string{"reconcile", "-repair"}},
		{name: "balanced", args: []string{"reconcile"}},
	})
	assert.Contains(t, out.String(), "fund A: cached balance 60, ledger balance 100")
	assert.Contains(t, out.String(), "fund A repaired")
	app.RequireBalance(t, a.ID, "100")

	t.Run("orphans", func(t *testing.T) {
		err := core.WithTx(context.Background(), app.DB, func(exec core.DBExecutor) error {
			_, err := app.Funds.Post(context.Background(), fund.NewTransaction{
				FundID:      a.ID,
				Amount:      testutil.Dec(t, "-25"),
				Category:    fund.CategoryTransferOut,
				Description: "half a transfer",
				Actor:       "admin",
				Reference:   "5b8e0c7e-6f0e-4f3a-9a53-2a0c7d4f9b11",
			}, exec)
			return err
		})
		require.NoError(t, err)
		app.RequireBalance(t, a.ID, "75")

		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "reconcile", "-orphans"}))
		assert.Contains(t, out.String(), "orphaned leg of transfer 5b8e0c7e-6f0e-4f3a-9a53-2a0c7d4f9b11 compensated")
		app.RequireBalance(t, a.ID, "100")
	})
}

func Test_commandLine_evaluate(t *testing.T) {
	cli, app, out := setup(t)
	c := app.CreateFund(t, "C", "1000", "0")
	app.Post(t, c.ID, "900", fund.CategoryIncome)

	// 50%: the stored alerts are stale until evaluated
	_, err := app.DB.Exec(`UPDATE funds SET current_balance = 500, total_income = 500 WHERE id = ?`, c.ID)
	require.NoError(t, err)

	runCLITests(t, cli, []cliTest{
		{name: "unknown fund", args: []string{"evaluate", "-code", "lol"}, wantErr: fund.ErrNotFound},
		{name: "one fund", args: []string{"evaluate", "-code", "c"}},
		{name: "all funds", args: []string{"evaluate"}},
	})
	assert.Contains(t, out.String(), "resolved: level 1 on fund "+c.ID)
	assert.Contains(t, out.String(), "resolved: level 2 on fund "+c.ID)
	assert.Contains(t, out.String(), "1 fund(s) evaluated")
}

func Test_commandLine_token(t *testing.T) {
	cli, app, out := setup(t)

	require.NoError(t, cli.run([]string{"admin", "token", "-actor", " Bursar ", "-admin"}))

	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(strings.TrimSpace(out.String()), claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(app.Conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "bursar", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, core.Actor{ID: "bursar", Username: "bursar"}, claims.Actor())
}
