package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/period"
	logsvc "github.com/trezcool/jitu/services/logger"
	"github.com/trezcool/jitu/storage/database"
	boiledrepos "github.com/trezcool/jitu/storage/database/sqlboiler"
)

var logger core.Logger

func main() {
	defer os.Exit(0)

	conf := core.NewConfig()
	rollbar := logsvc.NewRollbarLogger(log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	rollbar.Enable(!conf.Debug)
	logger = rollbar

	if conf.Database.Engine == database.EngineMemory {
		logger.Fatal("the admin CLI needs a database engine, got " + conf.Database.Engine)
	}

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())

	// set up validators
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	period.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		db:        db,
		conf:      conf,
		periodSvc: period.NewService(boiledrepos.NewPeriodRepository(db), conf),
		validate:  validate,
		out:       os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
