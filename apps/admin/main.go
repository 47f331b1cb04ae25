package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/services/cache"
	"github.com/trezcool/bursar/services/email"
	"github.com/trezcool/bursar/services/events"
	"github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage/database"
	"github.com/trezcool/bursar/storage/database/sqlx"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	logger.Enable(!conf.Debug)

	cli := commandLine{conf: conf, out: os.Stdout}

	if conf.Database.Driver != "memory" {
		db, err := database.Open(conf)
		if err != nil {
			logger.Error(fmt.Sprintf("opening database: %v", err), err)
			return 1
		}
		defer db.Close()

		var cache core.Cache = cachesvc.NopCache{}
		if conf.Redis.URL != "" {
			rc, err := cachesvc.NewRedisCache(conf)
			if err != nil {
				logger.Error(fmt.Sprintf("connecting to redis: %v", err), err)
				return 1
			}
			defer rc.Close()
			cache = rc
		}

		var publisher core.EventPublisher = eventsvc.NewRecorder()
		if conf.AMQP.URL != "" {
			ap, err := eventsvc.NewAMQPPublisher(conf, logger)
			if err != nil {
				logger.Error(fmt.Sprintf("connecting to message broker: %v", err), err)
				return 1
			}
			defer ap.Close()
			publisher = ap
		}

		feeRepo := sqlxrepos.NewFeeRepository(db)
		roster := sqlxrepos.NewRosterRepository(db)
		cli.db = db.DB
		cli.roster = roster
		cli.billingSvc = billing.NewService(
			sqlxrepos.NewBillingStore(db),
			feeRepo,
			roster,
			publisher,
			cache,
			emailsvc.NewConsoleService(conf, logger),
			logger,
			billing.OptionsFromConfig(conf),
		)
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		return 1
	}
	return 0
}
