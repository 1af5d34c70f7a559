package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jitu/core/period"
	inmemdb "github.com/trezcool/jitu/storage/database/inmem"
	"github.com/trezcool/jitu/tests"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	db, err := inmemdb.Open()
	require.NoError(t, err)

	conf := testutil.NewConfig()
	validate, _ := testutil.NewValidator()
	out := new(bytes.Buffer)

	return &commandLine{
		conf:      conf,
		periodSvc: period.NewService(inmemdb.NewPeriodRepository(db), conf),
		validate:  validate,
		out:       out,
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest) {
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || err.Error() != tt.wantErrStr {
					t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
				}
			case err != nil:
				t.Errorf("cli.run() unexpected error = %v", err)
			}
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	restore := gooseRunFunc
	defer func() { gooseRunFunc = restore }()
	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		if _, err := fs.Stat(fsys, dir); err != nil {
			return err
		}
		return nil
	}

	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "period_tags", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	})
}

func Test_commandLine_periods(t *testing.T) {
	cli, out := setup(t)
	ctx := context.Background()

	runCLITests(t, cli, []cliTest{
		{name: "create: no args", args: []string{"createperiod"}, wantErr: errHelp},
		{name: "create: unknown flag", args: []string{"createperiod", "-lol"}, wantErr: errHelp},
		{name: "create: missing name", args: []string{"createperiod", "-cohort", "ops", "-cycle", "2026_Q4"}, wantErr: errHelp},
		{
			name:       "create: bad time",
			args:       []string{"createperiod", "-cohort", "ops", "-cycle", "2026_Q4", "-name", "Q4", "-starts", "tomorrow"},
			wantErrStr: "-starts must be an RFC3339 time (got 'tomorrow')",
		},
		{
			name: "create",
			args: []string{
				"createperiod", "-cohort", "ops", "-cycle", "2026_Q4", "-name", "Q4",
				"-starts", "2099-10-01T08:00:00Z", "-ends", "2099-10-01T10:00:00Z", "-policy", "count_as_wrong",
			},
		},
		{name: "create: duplicate", args: []string{"createperiod", "-cohort", "ops", "-cycle", "2026_Q4", "-name", "Q4"}, wantErr: period.ErrPeriodExists},
		{name: "publish: no args", args: []string{"publish"}, wantErr: errHelp},
		{name: "publish: not found", args: []string{"publish", "-period", "lol"}, wantErr: period.ErrNotFound},
		{name: "finish: no args", args: []string{"finish"}, wantErr: errHelp},
		{name: "delete: no args", args: []string{"deleteperiod"}, wantErr: errHelp},
		{name: "delete: not found", args: []string{"deleteperiod", "-period", "lol"}, wantErr: period.ErrNotFound},
		{name: "copy: no args", args: []string{"copyquestions", "-from", "lol"}, wantErr: errHelp},
		{name: "import: no args", args: []string{"importquestions", "-period", "lol"}, wantErr: errHelp},
		{name: "refresh", args: []string{"refreshstatuses"}},
	})

	periods, err := cli.periodSvc.Query(ctx, &period.QueryFilter{CohortID: "ops"}, nil)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	p := periods[0]
	assert.Equal(t, period.StatusDraft, p.Status)
	assert.Equal(t, period.CountAsWrong, p.UnansweredPolicy)
	assert.Contains(t, out.String(), p.ID)

	t.Run("import questions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "questions.csv")
		content := strings.Join(period.CSVHeader, ",") + "\n" +
			"Which port does HTTPS use?,80,443,22,21,B,\n" +
			"broken row\n" +
			"which port does HTTPS use?,443,80,22,21,A,\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "importquestions", "-period", p.ID, "-file", path}))
		assert.Contains(t, out.String(), "2 question(s) imported")
		assert.Contains(t, out.String(), "skipped line 3: incomplete columns")
		assert.Contains(t, out.String(), `line 4 looks like "Which port does HTTPS use?"`)

		err := cli.run([]string{"admin", "importquestions", "-period", p.ID, "-file", filepath.Join(t.TempDir(), "missing.csv")})
		assert.Error(t, err)
	})

	t.Run("copy questions", func(t *testing.T) {
		require.NoError(t, cli.run([]string{"admin", "createperiod", "-cohort", "sales", "-cycle", "2026_Q4", "-name", "Sales Q4"}))
		target, err := cli.periodSvc.Query(ctx, &period.QueryFilter{CohortID: "sales"}, nil)
		require.NoError(t, err)
		require.Len(t, target, 1)

		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "copyquestions", "-from", p.ID, "-to", target[0].ID}))
		assert.Equal(t, "2 question(s) copied\n", out.String())

		err = cli.run([]string{"admin", "copyquestions", "-from", target[0].ID, "-to", p.ID})
		assert.NoError(t, err, "copying into a draft with questions appends")

		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "deleteperiod", "-period", target[0].ID}))
		assert.Equal(t, "period "+target[0].ID+" deleted\n", out.String())
		_, err = cli.periodSvc.Get(ctx, target[0].ID)
		assert.True(t, errors.Is(err, period.ErrNotFound))
	})

	t.Run("publish and finish", func(t *testing.T) {
		require.NoError(t, cli.run([]string{"admin", "publish", "-period", p.ID}))
		published, err := cli.periodSvc.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, period.StatusScheduled, published.Status)

		assert.True(t, errors.Is(cli.run([]string{"admin", "publish", "-period", p.ID}), period.ErrInvalidPeriodState))

		require.NoError(t, cli.run([]string{"admin", "finish", "-period", p.ID}))
		finished, err := cli.periodSvc.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, period.StatusFinished, finished.Status)
	})
}

func Test_commandLine_token(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"token"}, wantErr: errHelp},
		{name: "missing cohort", args: []string{"token", "-learner", "lrn1"}, wantErr: errHelp},
	})

	out.Reset() // drop the usage output
	runCLITests(t, cli, []cliTest{
		{name: "learner", args: []string{"token", "-learner", "lrn1", "-cohort", "ops"}},
		{name: "admin", args: []string{"token", "-learner", "adm1", "-cohort", "ops", "-admin"}},
	})

	tokens := strings.Fields(out.String())
	require.Len(t, tokens, 2)
	for _, tkn := range tokens {
		assert.Len(t, strings.Split(tkn, "."), 3)
	}
	assert.NotEqual(t, tokens[0], tokens[1])
}
