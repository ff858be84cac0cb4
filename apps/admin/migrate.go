package main

import (
	"errors"

	"github.com/dcycp/gestion/storage/database"
)

var migrateRunFunc = database.Migrate // mockable

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errors.New("no database configured")
	}
	return migrateRunFunc(cli.db, args[0], args[1:]...)
}
