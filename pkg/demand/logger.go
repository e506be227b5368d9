package demand

import (
	"github.com/apex/log"
)

// Logger used by a demand, log.Interface of the github.com/apex/log package implements it.
type Logger interface {
	Debugf(msg string, args ...any)
	Infof(msg string, args ...any)
	Warnf(msg string, args ...any)
}

func defaultLogger() Logger {
	return log.Log
}
