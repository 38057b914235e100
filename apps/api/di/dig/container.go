package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/nithadya/classsync/apps/api/echo"
	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
	"github.com/nithadya/classsync/services/classifier"
	emailsvc "github.com/nithadya/classsync/services/email"
	logsvc "github.com/nithadya/classsync/services/logger"
	"github.com/nithadya/classsync/services/pubsub"
	"github.com/nithadya/classsync/services/scheduler"
	"github.com/nithadya/classsync/storage/database"
	sqlxrepos "github.com/nithadya/classsync/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type serverParams struct {
	dig.In
	Conf          *core.Config
	Logger        core.Logger
	UserSvc       *user.Service
	PointsSvc     *points.Service
	ModerationSvc *moderation.Service
	Hub           *points.Hub
	Validate      *validator.Validate
	Translator    ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db.DB); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// newRedisBus returns a nil bus when no Redis address is configured: instances then only notify their own clients.
func newRedisBus(conf *core.Config, logger core.Logger) (*pubsub.RedisBus, error) {
	if conf.Redis.Addr == "" {
		return nil, nil
	}
	return pubsub.NewRedisBus(conf, uuid.NewString(), logger)
}

func newNotifier(conf *core.Config, hub *points.Hub, bus *pubsub.RedisBus, usrSvc *user.Service, mailer core.EmailService, logger core.Logger) points.Notifier {
	notifiers := points.Notifiers{hub}
	if bus != nil {
		notifiers = append(notifiers, bus)
	}
	if conf.Points.LevelUpMails {
		notifiers = append(notifiers, points.NewLevelUpMailer(usrSvc, mailer, logger))
	}
	return notifiers
}

func newClassifier(conf *core.Config) moderation.Classifier {
	if !conf.Classifier.Enabled {
		return nil
	}
	return classifier.NewChatClassifier(conf)
}

func newPointsService(
	conf *core.Config,
	store points.Store,
	usrSvc *user.Service,
	notifier points.Notifier,
	modSvc *moderation.Service,
	logger core.Logger,
) *points.Service {
	return points.NewService(store, usrSvc, notifier, modSvc, logger, conf)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          p.Conf,
		Logger:        p.Logger,
		UserSvc:       p.UserSvc,
		PointsSvc:     p.PointsSvc,
		ModerationSvc: p.ModerationSvc,
		Hub:           p.Hub,
		Validate:      p.Validate,
		Translator:    p.Translator,
	})
}

func newScheduler(svc *points.Service, logger core.Logger, conf *core.Config) *scheduler.Scheduler {
	return scheduler.New(svc, logger, conf)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(newTranslator))
	must(c.Provide(validator.New))

	// storage
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewPointsStore))
	must(c.Provide(sqlxrepos.NewModerationRepository))

	// services
	must(c.Provide(user.NewService))
	must(c.Provide(newClassifier))
	must(c.Provide(moderation.NewService))
	must(c.Provide(func(conf *core.Config, logger core.Logger) *points.Hub {
		return points.NewHub(conf.Points.NotifyBuffer, logger)
	}))
	must(c.Provide(newRedisBus))
	must(c.Provide(newNotifier))
	must(c.Provide(newPointsService))
	must(c.Provide(newScheduler))

	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
