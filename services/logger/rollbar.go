package logsvc

import (
	"log"
	"sync"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/user"
)

// RollbarLogger prints to a std logger and reports to rollbar when enabled.
type RollbarLogger struct {
	std *log.Logger
	mu  sync.Mutex // rollbar's person is global
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User or user.Principal
func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one person
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				usrSet = true
			}
		case user.Principal:
			if !usrSet {
				rollbar.SetPerson(a.UserID, "", "")
				usrSet = true
			}
		default:
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l *RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		switch arg.(type) {
		case user.User, user.Principal:
		default:
			l.std.Printf("%+v\n", arg)
		}
	}
}

func (l *RollbarLogger) report(send func(...interface{}), msg string, args []interface{}) {
	l.mu.Lock()
	send(l.prepare(msg, args)...)
	l.mu.Unlock()
	l.print(msg, args)
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.report(rollbar.Debug, msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.Info, msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.Warning, msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.Error, msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.Critical, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
