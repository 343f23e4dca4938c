package sched

import "github.com/sirupsen/logrus"

// Package logger. Quiet by default so context switches stay cheap; flip to
// Debug/Trace to watch dispatch and rehash activity.
var log = func() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}()

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		panic("BUG: nil logger")
	}
	log = l
}
