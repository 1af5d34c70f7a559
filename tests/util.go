package testutil

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/mail"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/attempt"
	"github.com/trezcool/jitu/core/learner"
	"github.com/trezcool/jitu/core/period"
	"github.com/trezcool/jitu/core/progress"
	emailsvc "github.com/trezcool/jitu/services/email"
	logsvc "github.com/trezcool/jitu/services/logger"
	"github.com/trezcool/jitu/storage/database"
	inmemdb "github.com/trezcool/jitu/storage/database/inmem"
	boiledrepos "github.com/trezcool/jitu/storage/database/sqlboiler"
	sqlxrepos "github.com/trezcool/jitu/storage/database/sqlx"
)

// NewConfig returns the configuration used by tests: in-memory storage & no materials prerequisite.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:          "Jitu",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		SecretKey:        "secret",
		FrontendBaseURL:  "http://localhost:5173",
		DefaultFromEmail: mail.Address{Name: "Jitu", Address: "noreply@localhost"},
		Server: core.ServerConfig{
			Host:                      "localhost",
			DisableReqLogs:            true,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			WSHeartbeat:               30 * time.Second,
			WSWriteTimeout:            5 * time.Second,
		},
		Database: core.DatabaseConfig{Engine: database.EngineMemory},
		Assessment: core.AssessmentConfig{
			UnansweredPolicy: string(period.CountSeparately),
			SessionLockTTL:   time.Hour,
		},
	}
}

// NewLogger returns a logger writing nowhere, rollbar disabled.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "TEST : ", log.LstdFlags), conf)
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator with every custom validation & translation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	period.InitValidators(validate, translator)
	attempt.InitValidators(validate, translator)
	return validate, translator
}

type Services struct {
	Conf     *core.Config
	Logger   core.Logger
	Periods  period.Service
	Attempts attempt.Service
	Progress progress.Service
	Mail     core.EmailService

	PeriodRepo  period.Repository
	AttemptRepo attempt.Repository
	Sessions    attempt.SessionLocker
}

// NewServices wires the services on a fresh in-memory database. Sent emails land in emailsvc.SentMessages.
func NewServices(t *testing.T, conf *core.Config) Services {
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("inmemdb.Open() failed: %v", err)
	}

	logger := NewLogger(conf)
	core.ParseEmailTemplates(logger, conf)
	emailsvc.ResetSentMessages()

	s := Services{
		Conf:        conf,
		Logger:      logger,
		Mail:        emailsvc.NewConsoleServiceMock(conf, logger),
		PeriodRepo:  inmemdb.NewPeriodRepository(db),
		AttemptRepo: inmemdb.NewAttemptRepository(db),
		Sessions:    inmemdb.NewSessionRepository(db),
	}
	s.Periods = period.NewService(s.PeriodRepo, conf)
	s.Progress = progress.NewService(inmemdb.NewProgressRepository(db))
	s.Attempts = attempt.NewService(s.AttemptRepo, s.Sessions, s.Periods, s.Progress, s.Mail, conf)
	return s
}

// PostgresURLEnv names the DSN of a disposable postgres database; postgres tests are skipped when it is unset.
const PostgresURLEnv = "JITU_TEST_DATABASE_URL"

// NewPostgresServices wires the services on the sqlx & sqlboiler repositories of a freshly migrated
// and emptied postgres database, opened with the pgx driver.
func NewPostgresServices(t *testing.T, conf *core.Config) (Services, *sql.DB) {
	dsn := os.Getenv(PostgresURLEnv)
	if dsn == "" {
		t.Skipf("%s is not set", PostgresURLEnv)
	}

	db, err := sql.Open(database.EnginePgx, dsn)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("database.Migrate() failed: %v", err)
	}
	if _, err = db.Exec("TRUNCATE periods, learner_sessions, material_progress CASCADE"); err != nil {
		t.Fatalf("truncating tables failed: %v", err)
	}

	logger := NewLogger(conf)
	core.ParseEmailTemplates(logger, conf)
	emailsvc.ResetSentMessages()

	s := Services{
		Conf:        conf,
		Logger:      logger,
		Mail:        emailsvc.NewConsoleServiceMock(conf, logger),
		PeriodRepo:  boiledrepos.NewPeriodRepository(db),
		AttemptRepo: sqlxrepos.NewAttemptRepository(db),
		Sessions:    sqlxrepos.NewSessionRepository(db),
	}
	s.Periods = period.NewService(s.PeriodRepo, conf)
	s.Progress = progress.NewService(sqlxrepos.NewProgressRepository(db))
	s.Attempts = attempt.NewService(s.AttemptRepo, s.Sessions, s.Periods, s.Progress, s.Mail, conf)
	return s, db
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

// NewQuestions returns n questions with choices A to D, A being correct.
func NewQuestions(n int) []period.NewQuestion {
	nqs := make([]period.NewQuestion, 0, n)
	for i := 1; i <= n; i++ {
		num := strconv.Itoa(i)
		nqs = append(nqs, period.NewQuestion{
			Text: "Question " + num,
			Choices: []period.Choice{
				{Key: "A", Text: "Right " + num},
				{Key: "B", Text: "Wrong " + num + "b"},
				{Key: "C", Text: "Wrong " + num + "c"},
				{Key: "D", Text: "Wrong " + num + "d"},
			},
			CorrectKey: "A",
			Rationale:  "A is right for question " + num,
		})
	}
	return nqs
}

// CreatePeriod creates a period with n questions. It is published when start & end are set.
func CreatePeriod(
	t *testing.T,
	svc period.Service,
	cohortID, cycle string,
	start, end, reviewEnd *time.Time,
	n int,
	policy ...period.UnansweredPolicy,
) (period.Period, []period.Question) {
	ctx := context.Background()
	np := period.NewPeriod{
		CohortID:     cohortID,
		Cycle:        cycle,
		Name:         "Assessment " + cycle,
		StartsAt:     start,
		EndsAt:       end,
		ReviewEndsAt: reviewEnd,
	}
	if len(policy) > 0 {
		np.UnansweredPolicy = string(policy[0])
	}
	p, err := svc.Create(ctx, np)
	if err != nil {
		t.Fatalf("CreatePeriod() failed: %v", err)
	}

	var qs []period.Question
	if n > 0 {
		if qs, err = svc.AddQuestions(ctx, p.ID, NewQuestions(n)); err != nil {
			t.Fatalf("CreatePeriod() failed: %v", err)
		}
	}
	if start != nil && end != nil && n > 0 {
		if p, err = svc.Publish(ctx, p.ID); err != nil {
			t.Fatalf("CreatePeriod() failed: %v", err)
		}
	}
	return p, qs
}

// CreateActivePeriod creates a period of n questions whose active window is [now-1h, now+1h).
func CreateActivePeriod(t *testing.T, svc period.Service, cohortID, cycle string, n int, policy ...period.UnansweredPolicy) (period.Period, []period.Question) {
	now := time.Now().UTC()
	return CreatePeriod(t, svc, cohortID, cycle, TimePtr(now.Add(-time.Hour)), TimePtr(now.Add(time.Hour)), nil, n, policy...)
}

func NewLearner(id, cohortID string, roles ...string) learner.Learner {
	if len(roles) == 0 {
		roles = []string{learner.RoleLearner}
	}
	return learner.Learner{
		ID:       id,
		Name:     "Learner " + id,
		Email:    id + "@test.cd",
		CohortID: cohortID,
		Roles:    roles,
	}
}

func NewAdmin(id string) learner.Learner {
	return NewLearner(id, "", learner.RoleAdmin)
}
