package logsvc

import (
	"fmt"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/user"
)

// RollbarLogger reports to Rollbar and forwards every message to a local logger.
type RollbarLogger struct {
	local core.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(local core.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{local: local}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// rollbarArgs turns alternating key/values into the msg, error and extras rollbar expects.
// A user.User value sets the reported person.
func rollbarArgs(msg string, args []interface{}) ([]interface{}, *user.User) {
	var (
		usr    *user.User
		err    error
		extras = make(map[string]interface{})
	)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 == len(args) {
			extras["!BADKEY"] = args[i]
			break
		}
		switch val := args[i+1].(type) {
		case user.User:
			if usr == nil {
				u := val
				usr = &u
			}
		case error:
			if err == nil {
				err = val
			}
			extras[key] = val.Error()
		default:
			extras[key] = val
		}
	}

	out := []interface{}{msg}
	if err != nil {
		out = append(out, err)
	}
	if len(extras) > 0 {
		out = append(out, extras)
	}
	return out, usr
}

func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	out, usr := rollbarArgs(msg, args)
	if usr != nil {
		rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
	} else {
		rollbar.ClearPerson()
	}
	return out
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.local.Debug(msg, args...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.local.Info(msg, args...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.local.Warn(msg, args...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.local.Error(msg, args...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.local.Fatal(msg, args...)
}
