package main

import (
	"fmt"

	"github.com/trezcool/goose"

	appfs "github.com/trezcool/jitu/fs"
)

const migrationsDir = "migrations"

var gooseRunFunc = goose.RunFS // mockable

// migrate runs a goose command against the migrations embedded in the binary.
func (cli *commandLine) migrate(args []string) error {
	command, arguments := args[0], args[1:]
	if err := gooseRunFunc(command, cli.db, appfs.FS, migrationsDir, arguments...); err != nil {
		return err
	}
	switch command {
	case "status", "version": // goose already printed them
	default:
		fmt.Fprintf(cli.out, "migrate %s: done\n", command)
	}
	return nil
}
