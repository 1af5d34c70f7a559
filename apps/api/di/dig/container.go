package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/jitu/apps/api/echo"
	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/period"
	"github.com/trezcool/jitu/core/progress"
	emailsvc "github.com/trezcool/jitu/services/email"
	logsvc "github.com/trezcool/jitu/services/logger"
	"github.com/trezcool/jitu/storage/database"
	inmemdb "github.com/trezcool/jitu/storage/database/inmem"
	boiledrepos "github.com/trezcool/jitu/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/jitu/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type repositories struct {
	dig.Out
	Periods  period.Repository
	Attempts attempt.Repository
	Sessions attempt.SessionLocker
	Progress progress.Repository
}

type serverParams struct {
	dig.In
	Conf        *core.Config
	Logger      core.Logger
	PeriodSvc   period.Service
	AttemptSvc  attempt.Service
	ProgressSvc progress.Service
	Validate    *validator.Validate
	Translator  ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
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

// newDB returns a nil *sql.DB with the memory engine.
func newDB(conf *core.Config, loggerParam DBLoggerParam) *sql.DB {
	if conf.Database.Engine == database.EngineMemory {
		return nil
	}

	setUp := func() (*sql.DB, error) {
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
	return db
}

func newRepositories(conf *core.Config, db *sql.DB) (repositories, error) {
	if conf.Database.Engine == database.EngineMemory {
		mem, err := inmemdb.Open()
		if err != nil {
			return repositories{}, errors.Wrap(err, "opening in-memory database")
		}
		return repositories{
			Periods:  inmemdb.NewPeriodRepository(mem),
			Attempts: inmemdb.NewAttemptRepository(mem),
			Sessions: inmemdb.NewSessionRepository(mem),
			Progress: inmemdb.NewProgressRepository(mem),
		}, nil
	}
	return repositories{
		Periods:  boiledrepos.NewPeriodRepository(db),
		Attempts: sqlxrepos.NewAttemptRepository(db),
		Sessions: sqlxrepos.NewSessionRepository(db),
		Progress: sqlxrepos.NewProgressRepository(db),
	}, nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:        p.Conf,
		Logger:      p.Logger,
		PeriodSvc:   p.PeriodSvc,
		AttemptSvc:  p.AttemptSvc,
		ProgressSvc: p.ProgressSvc,
		Validate:    p.Validate,
		Translator:  p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newRepositories))
	must(c.Provide(newEmailService))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(period.NewService))
	must(c.Provide(progress.NewService))
	must(c.Provide(newPrerequisiteChecker))
	must(c.Provide(attempt.NewService))
	must(c.Provide(newServer))

	return c
}

// newPrerequisiteChecker gates attempts on the materials tracked by the progress service.
func newPrerequisiteChecker(svc progress.Service) attempt.PrerequisiteChecker {
	return svc
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
