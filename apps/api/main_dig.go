package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register /debug/pprof

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	dig_container "github.com/lcardenasp7/conta/apps/api/di/dig"
	echoapi "github.com/lcardenasp7/conta/apps/api/echo"
	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/fund"
	appfs "github.com/lcardenasp7/conta/fs"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sqlx.DB,
		server *echoapi.Server,
		deps *echoapi.Deps,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, apiLogger)

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")
		if closer, ok := apiLogger.(interface{ Close() }); ok {
			defer closer.Close()
		}

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		publishLedgerVars(deps, apiLogger)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

// publishLedgerVars exposes the active funds, their total balance and the
// unresolved alerts, computed when /debug/vars is read.
func publishLedgerVars(deps *echoapi.Deps, logger core.Logger) {
	active, unresolved := true, false
	expvar.Publish("funds", expvar.Func(func() interface{} {
		funds, err := deps.FundSvc.List(context.Background(), &fund.QueryFilter{IsActive: &active})
		if err != nil {
			logger.Error(fmt.Sprintf("debug vars: listing funds: %v", err), err)
			return nil
		}
		total := decimal.Zero
		for _, fnd := range funds {
			total = total.Add(fnd.CurrentBalance)
		}
		return map[string]interface{}{"active": len(funds), "total_balance": total.String()}
	}))
	expvar.Publish("alerts_unresolved", expvar.Func(func() interface{} {
		alerts, err := deps.AlertSvc.List(context.Background(), &alert.QueryFilter{Resolved: &unresolved})
		if err != nil {
			logger.Error(fmt.Sprintf("debug vars: listing alerts: %v", err), err)
			return nil
		}
		return len(alerts)
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
