package ecs

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// defaultLogger is the package-wide fallback used by components that are
// constructed without an explicit logger: a component takes a concrete
// collaborator in its options struct and falls back to a package
// default when none is given.
var (
	defaultLoggerOnce sync.Once
	defaultLoggerInst *logrus.Logger
)

func defaultLogger() *logrus.Entry {
	defaultLoggerOnce.Do(func() {
		defaultLoggerInst = logrus.New()
		defaultLoggerInst.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return defaultLoggerInst.WithField("component", "ecs")
}

// SetLogLevel adjusts the verbosity of the package default logger. It has
// no effect on a Registry constructed WithLogger and an entry of another
// logger.
func SetLogLevel(level logrus.Level) {
	defaultLogger().Logger.SetLevel(level)
}
