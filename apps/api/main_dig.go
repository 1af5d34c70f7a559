package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/trezcool/jitu/apps/api/di/dig"
	echoapi "github.com/trezcool/jitu/apps/api/echo"
	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/period"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sql.DB,
		validate *validator.Validate,
		translator ut.Translator,
		periodSvc period.Service,
		server *echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.InitValidators(validate, translator)
		period.InitValidators(validate, translator)
		attempt.InitValidators(validate, translator)

		core.ParseEmailTemplates(apiLogger, conf)

		dbLogger := dbLoggerParam.Logger
		if db != nil {
			defer func() {
				if err := db.Close(); err != nil {
					dbLogger.Fatal("Failed to close", err)
				}
			}()
		}
		defer apiLogger.Info("Application stopped")

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		expvar.NewString("dbEngine").Set(conf.Database.Engine)
		expvar.Publish("assessment", expvar.Func(func() interface{} {
			return map[string]interface{}{
				"unansweredPolicy": conf.Assessment.UnansweredPolicy,
				"sessionLockTTL":   conf.Assessment.SessionLockTTL.String(),
				"requireMaterials": conf.Assessment.RequireMaterials,
			}
		}))
		expvar.Publish("periods", expvar.Func(func() interface{} {
			return countPeriods(periodSvc, apiLogger)
		}))

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

// countPeriods returns the number of periods per status, derived at call time.
func countPeriods(svc period.Service, logger core.Logger) map[period.Status]int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	periods, err := svc.Query(ctx, &period.QueryFilter{}, nil)
	if err != nil {
		logger.Warn(fmt.Sprintf("counting periods: %v", err), err)
		return nil
	}
	counts := make(map[period.Status]int)
	for _, p := range periods {
		counts[p.Status]++
	}
	return counts
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
