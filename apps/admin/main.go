package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/identity"
	"github.com/dcycp/gestion/storage/database"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	appRoot, err := filepath.Abs("")
	errAndDie(err)
	core.Conf, err = core.NewConfig(appRoot)
	errAndDie(err)

	dir, err := identity.OpenDirectory(core.Conf.UsersFile)
	errAndDie(err)

	cli := commandLine{
		dir: dir,
		svc: identity.NewService(dir),
	}

	// the DB is only needed for migrations; the directory commands must
	// keep working on sheet-only deployments
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		errAndDie(database.CreateIfNotExist(core.Conf))
		db, err := database.Open(core.Conf)
		errAndDie(err)
		defer func() { _ = db.Close() }()
		cli.db = db
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
