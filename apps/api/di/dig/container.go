package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/lcardenasp7/conta/apps/api/echo"
	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/capture"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/loan"
	"github.com/lcardenasp7/conta/core/transfer"
	emailsvc "github.com/lcardenasp7/conta/services/email"
	logsvc "github.com/lcardenasp7/conta/services/logger"
	"github.com/lcardenasp7/conta/storage/database"
	sqlxrepos "github.com/lcardenasp7/conta/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type (
	repositories struct {
		dig.Out
		Funds  fund.Repository
		Loans  loan.Repository
		Alerts alert.Repository
	}

	servicesParams struct {
		dig.In
		DB        core.DB
		Conf      *core.Config
		Logger    core.Logger
		Validator *core.Validator
		Mailer    core.EmailService
		FundRepo  fund.Repository
		LoanRepo  loan.Repository
		AlertRepo alert.Repository
	}
)

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator() *core.Validator {
	return core.NewValidator(validator.New(), core.NewTranslator())
}

func newRepositories(db *sqlx.DB) repositories {
	return repositories{
		Funds:  sqlxrepos.NewFundRepository(db),
		Loans:  sqlxrepos.NewLoanRepository(db),
		Alerts: sqlxrepos.NewAlertRepository(db),
	}
}

// newServices wires the services. The alert evaluator reads through the fund
// service and observes every service that moves money, so it is set as their
// observer once built.
func newServices(p servicesParams) *echoapi.Deps {
	funds := fund.NewService(p.DB, p.FundRepo, p.Validator, nil, p.Logger, p.Conf)
	alerts := alert.NewEvaluator(p.DB, p.AlertRepo, funds, p.Mailer, p.Conf, p.Logger)
	funds.SetObserver(alerts)
	transfers := transfer.NewCoordinator(p.DB, funds, p.Validator, alerts, p.Logger)

	return &echoapi.Deps{
		FundSvc:     funds,
		TransferSvc: transfers,
		LoanSvc:     loan.NewService(p.DB, p.LoanRepo, funds, transfers, p.Validator, alerts, p.Logger),
		AlertSvc:    alerts,
		CaptureSvc:  capture.NewService(funds, p.Validator, p.Logger),
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(newValidator))
	must(c.Provide(newRepositories))
	must(c.Provide(newServices))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
