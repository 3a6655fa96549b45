package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	dig_container "github.com/lcardenasp7/conta/apps/api/di/dig"
	echoapi "github.com/lcardenasp7/conta/apps/api/echo"
	"github.com/lcardenasp7/conta/core"
	appfs "github.com/lcardenasp7/conta/fs"
	logsvc "github.com/lcardenasp7/conta/services/logger"
)

func main() {
	code := 0
	c := dig_container.New()

	err := c.Invoke(func(conf *core.Config, logger core.Logger, db *sqlx.DB, deps *echoapi.Deps) {
		defer db.Close()
		if rl, ok := logger.(*logsvc.RollbarLogger); ok {
			rl.Enable(false) // errors go to the operator only
			defer rl.Close()
		}
		core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, logger)

		// start CLI
		cli := commandLine{
			conf:      conf,
			db:        db,
			funds:     deps.FundSvc,
			transfers: deps.TransferSvc,
			alerts:    deps.AlertSvc,
			out:       os.Stdout,
		}
		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Error("admin: "+err.Error(), err, cliActor)
			}
			code = 1
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(code)
}
