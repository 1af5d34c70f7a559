package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/period"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	db        *sql.DB
	conf      *core.Config
	periodSvc period.Service
	validate  *validator.Validate
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run goose COMMAND (up, down, status, ...) on the database")
	fmt.Fprintln(cli.out, "  createperiod -cohort COHORT -cycle CYCLE -name NAME [-starts TIME -ends TIME -review TIME -policy POLICY] - create a draft period")
	fmt.Fprintln(cli.out, "  importquestions -period ID -file PATH - add the questions of a CSV file to a draft period")
	fmt.Fprintln(cli.out, "  copyquestions -from ID -to ID - copy the questions of a period to a draft period")
	fmt.Fprintln(cli.out, "  publish -period ID - publish a draft period")
	fmt.Fprintln(cli.out, "  finish -period ID - finish a period now")
	fmt.Fprintln(cli.out, "  deleteperiod -period ID - delete a period nobody has attempted")
	fmt.Fprintln(cli.out, "  refreshstatuses - re-derive the status of every live period")
	fmt.Fprintln(cli.out, "  token -learner ID -cohort COHORT [-name NAME -email EMAIL -admin] - issue a JWT (local testing)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createCmd := flag.NewFlagSet("createperiod", flag.ContinueOnError)
	createCohort := createCmd.String("cohort", "", "The cohort the period belongs to.")
	createCycle := createCmd.String("cycle", "", "The assessment cycle, unique per cohort.")
	createName := createCmd.String("name", "", "The period's display name.")
	createStarts := createCmd.String("starts", "", "Start of the active window (RFC3339).")
	createEnds := createCmd.String("ends", "", "End of the active window (RFC3339).")
	createReview := createCmd.String("review", "", "End of the review window (RFC3339).")
	createPolicy := createCmd.String("policy", "", "Unanswered policy: count_separately or count_as_wrong.")

	importCmd := flag.NewFlagSet("importquestions", flag.ContinueOnError)
	importPeriod := importCmd.String("period", "", "The draft period's ID.")
	importFile := importCmd.String("file", "", "Path of the CSV file.")

	copyCmd := flag.NewFlagSet("copyquestions", flag.ContinueOnError)
	copyFrom := copyCmd.String("from", "", "The source period's ID.")
	copyTo := copyCmd.String("to", "", "The draft period's ID.")

	publishCmd := flag.NewFlagSet("publish", flag.ContinueOnError)
	publishPeriod := publishCmd.String("period", "", "The draft period's ID.")

	finishCmd := flag.NewFlagSet("finish", flag.ContinueOnError)
	finishPeriod := finishCmd.String("period", "", "The period's ID.")

	deleteCmd := flag.NewFlagSet("deleteperiod", flag.ContinueOnError)
	deletePeriod := deleteCmd.String("period", "", "The period's ID.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenLearner := tokenCmd.String("learner", "", "The learner's ID.")
	tokenName := tokenCmd.String("name", "", "The learner's name.")
	tokenEmail := tokenCmd.String("email", "", "The learner's email.")
	tokenCohort := tokenCmd.String("cohort", "", "The learner's cohort.")
	tokenAdmin := tokenCmd.Bool("admin", false, "Grant the admin role.")

	for _, fs := range []*flag.FlagSet{createCmd, importCmd, copyCmd, publishCmd, finishCmd, deleteCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "createperiod":
		if err := createCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *createCohort == "" || *createCycle == "" || *createName == "" {
			createCmd.Usage()
			return errHelp
		}
		np := period.NewPeriod{
			CohortID:         *createCohort,
			Cycle:            *createCycle,
			Name:             *createName,
			UnansweredPolicy: *createPolicy,
		}
		var err error
		if np.StartsAt, err = parseTime("starts", *createStarts); err != nil {
			return err
		}
		if np.EndsAt, err = parseTime("ends", *createEnds); err != nil {
			return err
		}
		if np.ReviewEndsAt, err = parseTime("review", *createReview); err != nil {
			return err
		}
		return cli.createPeriod(np)

	case "importquestions":
		if err := importCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *importPeriod == "" || *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		return cli.importQuestions(*importPeriod, *importFile)

	case "copyquestions":
		if err := copyCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *copyFrom == "" || *copyTo == "" {
			copyCmd.Usage()
			return errHelp
		}
		return cli.copyQuestions(*copyFrom, *copyTo)

	case "publish":
		if err := publishCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *publishPeriod == "" {
			publishCmd.Usage()
			return errHelp
		}
		return cli.publish(*publishPeriod)

	case "finish":
		if err := finishCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *finishPeriod == "" {
			finishCmd.Usage()
			return errHelp
		}
		return cli.finish(*finishPeriod)

	case "deleteperiod":
		if err := deleteCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *deletePeriod == "" {
			deleteCmd.Usage()
			return errHelp
		}
		return cli.deletePeriod(*deletePeriod)

	case "refreshstatuses":
		return cli.refreshStatuses()

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tokenLearner == "" || *tokenCohort == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenLearner, *tokenName, *tokenEmail, *tokenCohort, *tokenAdmin)

	default:
		cli.printUsage()
		return errHelp
	}
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("-%s must be an RFC3339 time (got '%s')", name, value)
	}
	return &t, nil
}

func (cli *commandLine) print(v interface{}) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cli *commandLine) createPeriod(np period.NewPeriod) error {
	if err := np.Validate(cli.validate); err != nil {
		return err
	}
	p, err := cli.periodSvc.Create(context.Background(), np)
	if err != nil {
		return err
	}
	return cli.print(p)
}

func (cli *commandLine) importQuestions(periodID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	imp, err := period.ParseQuestionsCSV(f)
	if err != nil {
		return err
	}
	for i := range imp.Questions {
		if err = imp.Questions[i].Validate(cli.validate); err != nil {
			return fmt.Errorf("line %d: %w", imp.Lines[i], err)
		}
	}

	ctx := context.Background()
	existing, err := cli.periodSvc.Questions(ctx, periodID)
	if err != nil {
		return err
	}
	imp.Duplicates = period.FindNearDuplicates(existing, imp.Questions, imp.Lines...)

	qs, err := cli.periodSvc.AddQuestions(ctx, periodID, imp.Questions)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d question(s) imported\n", len(qs))
	for _, le := range imp.Errors {
		fmt.Fprintf(cli.out, "  skipped line %d: %s\n", le.Line, le.Error)
	}
	for _, d := range imp.Duplicates {
		fmt.Fprintf(cli.out, "  line %d looks like %q (%.0f%%)\n", d.Line, d.Other, d.Ratio*100)
	}
	return nil
}

func (cli *commandLine) copyQuestions(fromID, toID string) error {
	qs, err := cli.periodSvc.CopyQuestions(context.Background(), toID, fromID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d question(s) copied\n", len(qs))
	return nil
}

func (cli *commandLine) publish(id string) error {
	p, err := cli.periodSvc.Publish(context.Background(), id)
	if err != nil {
		return err
	}
	return cli.print(p)
}

func (cli *commandLine) finish(id string) error {
	p, err := cli.periodSvc.Finish(context.Background(), id)
	if err != nil {
		return err
	}
	return cli.print(p)
}

func (cli *commandLine) deletePeriod(id string) error {
	if err := cli.periodSvc.Delete(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "period %s deleted\n", id)
	return nil
}

func (cli *commandLine) refreshStatuses() error {
	n, err := cli.periodSvc.RefreshStatuses(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d period(s) updated\n", n)
	return nil
}
