package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/preston-56/lms-backend/core"
	"github.com/preston-56/lms-backend/core/monitor"
	"github.com/preston-56/lms-backend/core/user"
	emailsvc "github.com/preston-56/lms-backend/services/email"
	logsvc "github.com/preston-56/lms-backend/services/logger"
	"github.com/preston-56/lms-backend/storage/database"
	sqlxrepos "github.com/preston-56/lms-backend/storage/database/sqlx"
)

// The daemon is the external trigger for scan cycles: one cycle per
// invocation (cron/systemd timer), or a self-ticking loop via `watch`.
func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DAEMON : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() { _ = db.Close() }()

	sqlxDB := sqlx.NewDb(db, conf.Database.Engine)
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(sqlxDB))
	auditLog := sqlxrepos.NewAuditRepository(sqlxDB)

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	runner := monitor.NewRunner(conf, logger, usrSvc, mailSvc, auditLog)

	// let in-flight dispatches drain on shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := commandLine{
		conf:   conf,
		logger: logger,
		runner: runner,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("cycle failed: %v", err), err)
		}
		os.Exit(1)
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
