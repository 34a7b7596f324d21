package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type cronLogger struct {
	logger logrus.FieldLogger
}

// NewCronLogger adapts a logrus logger to cron.Logger. Cron's chatty
// info messages are demoted to debug.
func NewCronLogger(logger logrus.FieldLogger) cron.Logger {
	return &cronLogger{logger: logger.WithField("component", "cron")}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
