package storage

import (
	"strings"

	"go.uber.org/zap"
)

// badgerLogger routes BadgerDB's printf-style logging into zap. Badger is
// chatty at info level, so its info lines are demoted to debug.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(l *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: l.Named("badger").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(trim(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(trim(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(trim(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(trim(format), args...)
}

// Badger terminates most messages with a newline.
func trim(format string) string {
	return strings.TrimRight(format, "\n")
}
