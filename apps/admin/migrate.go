package main

import (
	"database/sql"

	"github.com/trezcool/goose"

	"github.com/trezcool/bursar/fs"
)

var runMigrations = func(command string, db *sql.DB, args ...string) error { // mockable
	return goose.RunFS(command, db, appfs.FS, "migrations", args...)
}

func (cli *commandLine) migrate(args []string) error {
	if len(args) == 0 {
		return errHelp
	}
	if cli.db == nil {
		return errNoDatabase
	}
	return runMigrations(args[0], cli.db, args[1:]...)
}
