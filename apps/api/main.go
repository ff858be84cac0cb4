package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"

	echoapi "github.com/dcycp/gestion/apps/api/echo"
	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/course"
	"github.com/dcycp/gestion/core/identity"
	emailsvc "github.com/dcycp/gestion/services/email"
	logsvc "github.com/dcycp/gestion/services/logger"
	"github.com/dcycp/gestion/storage/database"
	sqlxstore "github.com/dcycp/gestion/storage/database/sqlx"
	sheetstore "github.com/dcycp/gestion/storage/sheet"
)

func main() {
	stdLog := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lshortfile)
	if err := run(stdLog); err != nil {
		stdLog.Fatalf("main: error: %+v", err)
	}
}

func run(stdLog *log.Logger) error {
	appRoot, err := filepath.Abs("")
	if err != nil {
		return errors.Wrap(err, "resolving app root")
	}
	core.Conf, err = core.NewConfig(appRoot)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}

	// logging
	var logger core.Logger
	if core.Conf.RollbarToken != "" && !core.Conf.Debug {
		rollbarLogger := logsvc.NewRollbarLogger(stdLog, core.Conf)
		defer rollbarLogger.Wait()
		logger = rollbarLogger
	} else {
		logger = logsvc.NewStdLogger(stdLog)
	}
	logger.Enable(true)

	// email
	var mailSvc core.EmailService
	if core.Conf.Debug || core.Conf.SendgridAPIKey == "" {
		mailSvc = emailsvc.NewConsoleService(core.Conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(core.Conf, logger)
	}

	// record store: the spreadsheet is the primary source of truth; a
	// Postgres mirror serves deployments that sync the sheet into a DB.
	var repo course.Repository
	if core.Conf.Sheet.SpreadsheetID != "" {
		store, err := sheetstore.Open(context.Background(), core.Conf, logger)
		if err != nil {
			return errors.Wrap(err, "opening sheet store")
		}
		repo = store
	} else {
		db, err := database.Open(core.Conf)
		if err != nil {
			return errors.Wrap(err, "opening database")
		}
		defer func() { _ = db.Close() }()
		repo = sqlxstore.NewRepository(db)
	}

	// user directory
	dir, err := identity.OpenDirectory(core.Conf.UsersFile)
	if err != nil {
		return errors.Wrap(err, "opening user directory")
	}
	identitySvc := identity.NewService(dir)

	coord := course.NewCoordinator(repo, core.Conf, logger)
	courseSvc := course.NewService(repo, coord, mailSvc, core.Conf, logger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Address:     core.Conf.Server.Addr,
		CourseSvc:   courseSvc,
		IdentitySvc: identitySvc,
		Logger:      logger,
		SignalShutdown: func() {
			shutdown <- syscall.SIGTERM
		},
	})

	go server.Start()
	logger.Info("server started", "addr", core.Conf.Server.Addr, "env", core.Conf.Env)

	sig := <-shutdown
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return errors.Wrap(err, "stopping server")
	}
	return nil
}
