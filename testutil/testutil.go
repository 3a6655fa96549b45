// Package testutil wires the application services on a temporary, migrated
// SQLite database for tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/capture"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/loan"
	"github.com/lcardenasp7/conta/core/transfer"
	appfs "github.com/lcardenasp7/conta/fs"
	emailsvc "github.com/lcardenasp7/conta/services/email"
	"github.com/lcardenasp7/conta/storage/database"
	sqlxrepos "github.com/lcardenasp7/conta/storage/database/sqlx"
)

var Admin = core.Actor{ID: "1", Username: "admin", Email: "admin@school.test"}

// NewConfig returns the test configuration, on an SQLite database in dir.
func NewConfig(dir string) *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Debug = false
	conf.AppName = "Conta"
	conf.Database.Engine = database.EngineSQLite
	conf.Database.Path = filepath.Join(dir, "conta_test.db")
	conf.Alerts.Recipients = []string{"Bursar <bursar@school.test>"}
	conf.Alerts.DefaultLevels = [3]int{70, 85, 95}
	return conf
}

// PrepareDB opens and migrates a fresh database, closed at the end of the test.
func PrepareDB(t *testing.T) (*sqlx.DB, *core.Config) {
	t.Helper()
	conf := NewConfig(t.TempDir())
	db, err := database.Open(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db))
	return db, conf
}

// Entry is one logged message.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records the messages logged.
type Logger struct {
	mu      sync.Mutex
	Entries []Entry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, Entry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

// Levelled returns the messages logged at level.
func (l *Logger) Levelled(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, e := range l.Entries {
		if e.Level == level {
			msgs = append(msgs, e.Msg)
		}
	}
	return msgs
}

// App holds the services wired as in the binaries.
type App struct {
	DB        *sqlx.DB
	Conf      *core.Config
	Validator *core.Validator
	Log       *Logger
	Mailer    *emailsvc.ConsoleServiceMock

	FundRepo fund.Repository
	Funds    *fund.Service
	Transfer *transfer.Coordinator
	Loans    *loan.Service
	Alerts   *alert.Evaluator
	Captures *capture.Service
}

func NewApp(t *testing.T) *App {
	t.Helper()
	db, conf := PrepareDB(t)
	logger := new(Logger)
	v := core.NewValidator(validator.New(), core.NewTranslator())
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)
	mailer := emailsvc.NewConsoleServiceMock(conf, logger)

	app := &App{DB: db, Conf: conf, Validator: v, Log: logger, Mailer: mailer}
	app.FundRepo = sqlxrepos.NewFundRepository(db)
	app.Funds = fund.NewService(db, app.FundRepo, v, nil, logger, conf)
	app.Alerts = alert.NewEvaluator(db, sqlxrepos.NewAlertRepository(db), app.Funds, mailer, conf, logger)
	app.Transfer = transfer.NewCoordinator(db, app.Funds, v, app.Alerts, logger)
	app.Loans = loan.NewService(db, sqlxrepos.NewLoanRepository(db), app.Funds, app.Transfer, v, app.Alerts, logger)
	app.Captures = capture.NewService(app.Funds, v, logger)
	app.Funds.SetObserver(app.Alerts)
	return app
}

// Dec parses a decimal, failing the test on error.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// CreateFund creates an active fund with a capacity and the default alert levels.
func (app *App) CreateFund(t *testing.T, code, capacity, opening string) fund.Fund {
	t.Helper()
	fnd, err := app.Funds.Create(context.Background(), fund.NewFund{
		Code:           code,
		Name:           "Fund " + code,
		Type:           fund.TypeOperational,
		AcademicYear:   2025,
		Capacity:       Dec(t, capacity),
		OpeningBalance: Dec(t, opening),
	}, Admin)
	require.NoError(t, err)
	return fnd
}

// Post posts an entry, failing the test on error.
func (app *App) Post(t *testing.T, fundID, amount string, cat fund.Category) fund.Transaction {
	t.Helper()
	txn, err := app.Funds.Post(context.Background(), fund.NewTransaction{
		FundID:      fundID,
		Amount:      Dec(t, amount),
		Category:    cat,
		Description: fmt.Sprintf("%s %s", cat, amount),
		Actor:       Admin.Name(),
	})
	require.NoError(t, err)
	return txn
}

// Fund reloads a fund.
func (app *App) Fund(t *testing.T, id string) fund.Fund {
	t.Helper()
	fnd, err := app.Funds.Get(context.Background(), id)
	require.NoError(t, err)
	return fnd
}

// RequireBalance checks the cached balance and the conservation of the fund.
func (app *App) RequireBalance(t *testing.T, id, balance string) fund.Fund {
	t.Helper()
	fnd := app.Fund(t, id)
	require.True(t, Dec(t, balance).Equal(fnd.CurrentBalance), "balance: want %s, got %s", balance, fnd.CurrentBalance)
	require.True(t, fnd.IsConsistent(), "balance %s != income %s - expenses %s", fnd.CurrentBalance, fnd.TotalIncome, fnd.TotalExpenses)
	return fnd
}

// DueIn returns a due date d from now.
func DueIn(d time.Duration) time.Time {
	return time.Now().UTC().Add(d)
}
