package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
	emailsvc "github.com/nithadya/classsync/services/email"
	logsvc "github.com/nithadya/classsync/services/logger"
	"github.com/nithadya/classsync/storage/database"
	sqlxrepos "github.com/nithadya/classsync/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("connecting to database: %v", err), err)
	}

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	user.LoadCommonPasswords(conf, logger)

	// set up services; changes made here reach live clients on the next reconnect
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db))
	modSvc := moderation.NewService(nil, sqlxrepos.NewModerationRepository(db), logger)
	pointsSvc := points.NewService(sqlxrepos.NewPointsStore(db), usrSvc, nil, modSvc, logger, conf)

	var mailer core.EmailService
	if conf.Debug {
		mailer = emailsvc.NewConsoleService(conf)
	} else {
		mailer = emailsvc.NewSendgridService(conf, logger)
	}

	// start CLI
	cli := commandLine{
		db:        db.DB,
		usrSvc:    usrSvc,
		pointsSvc: pointsSvc,
		mailer:    mailer,
		validate:  validate,
		out:       os.Stdout,
	}
	err = cli.run(os.Args)
	if w, ok := mailer.(interface{ Wait() }); ok {
		w.Wait()
	}
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		os.Exit(1)
	}
}
