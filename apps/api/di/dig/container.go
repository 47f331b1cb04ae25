package dig_container

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/bursar/apps/api/echo"
	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/core/report"
	cachesvc "github.com/trezcool/bursar/services/cache"
	emailsvc "github.com/trezcool/bursar/services/email"
	eventsvc "github.com/trezcool/bursar/services/events"
	logsvc "github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage/database"
	inmemdb "github.com/trezcool/bursar/storage/database/inmem"
	sqlxrepos "github.com/trezcool/bursar/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Resources collects what must be closed on shutdown (db pool, broker & cache connections).
type Resources struct {
	closers []namedCloser
}

type namedCloser struct {
	name string
	io.Closer
}

func newResources() *Resources {
	return &Resources{}
}

func (r *Resources) add(name string, c io.Closer) {
	r.closers = append(r.closers, namedCloser{name, c})
}

// Close closes the resources in reverse order of creation.
func (r *Resources) Close(logger core.Logger) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing %s: %v", c.name, err), err)
		}
	}
}

// Stores holds the storage implementations selected by `database.driver`.
type Stores struct {
	dig.Out
	Fees    fee.Repository
	Catalog billing.Catalog
	Ledger  billing.Store
	Roster  billing.Roster
	Reports report.Repository
	Health  echoapi.HealthCheck
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStores(conf *core.Config, res *Resources, loggerParam DBLoggerParam) Stores {
	if conf.Database.Driver == "memory" {
		loggerParam.Logger.Warn("using the in-memory store: data is lost on exit")
		db := inmemdb.Open()
		feeRepo := inmemdb.NewFeeRepository(db)
		return Stores{
			Fees:    feeRepo,
			Catalog: feeRepo,
			Ledger:  inmemdb.NewBillingStore(db),
			Roster:  inmemdb.NewRosterRepository(db),
			Reports: inmemdb.NewReportRepository(db),
			Health:  func(context.Context) error { return nil },
		}
	}

	setUp := func() (core.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	res.add("database", db)

	feeRepo := sqlxrepos.NewFeeRepository(db)
	return Stores{
		Fees:    feeRepo,
		Catalog: feeRepo,
		Ledger:  sqlxrepos.NewBillingStore(db),
		Roster:  sqlxrepos.NewRosterRepository(db),
		Reports: sqlxrepos.NewReportRepository(db),
		Health: func(ctx context.Context) error {
			return database.StatusCheck(ctx, db)
		},
	}
}

// newCache returns the shared redis cache when configured.
// An in-process cache is only used with the memory driver, where this process sees every ledger write.
func newCache(conf *core.Config, res *Resources, logger core.Logger) core.Cache {
	if conf.Redis.URL == "" {
		if conf.Database.Driver == "memory" {
			return cachesvc.NewMemoryCache()
		}
		logger.Warn("no redis configured: report caching disabled")
		return cachesvc.NopCache{}
	}
	cache, err := cachesvc.NewRedisCache(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
	}
	res.add("redis", cache)
	return cache
}

func newEventPublisher(conf *core.Config, res *Resources, logger core.Logger) core.EventPublisher {
	if conf.AMQP.URL == "" {
		logger.Warn("no message broker configured: events are only recorded in memory")
		return eventsvc.NewRecorder()
	}
	publisher, err := eventsvc.NewAMQPPublisher(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to message broker: %v", err), err)
	}
	res.add("message broker", publisher)
	return publisher
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	fee.InitValidators(validate, translator)
	billing.InitValidators(validate, translator)
	return validate
}

func newReportService(repo report.Repository, cache core.Cache, conf *core.Config, logger core.Logger) *report.Service {
	return report.NewService(repo, cache, conf.Redis.ReportTTL, logger)
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	FeeSvc     *fee.Service
	BillingSvc *billing.Service
	ReportSvc  *report.Service
	Validate   *validator.Validate
	Translator ut.Translator
	Health     echoapi.HealthCheck
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		FeeSvc:     p.FeeSvc,
		BillingSvc: p.BillingSvc,
		ReportSvc:  p.ReportSvc,
		Validate:   p.Validate,
		Translator: p.Translator,
		Health:     p.Health,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newResources))
	must(c.Provide(newStores))
	must(c.Provide(newCache))
	must(c.Provide(newEventPublisher))
	must(c.Provide(newEmailService))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(billing.OptionsFromConfig))
	must(c.Provide(fee.NewService))
	must(c.Provide(billing.NewService))
	must(c.Provide(newReportService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
