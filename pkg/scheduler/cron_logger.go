package scheduler

import (
	"github.com/platinummonkey/pulse/pkg/observability"
)

// cronLogger adapts observability.Logger to cron.Logger. Cron's routine
// info messages are logged at debug.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithKeyValues(keysAndValues...).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithKeyValues(keysAndValues...).WithError(err).Error(msg)
}
