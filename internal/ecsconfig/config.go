// Package ecsconfig loads ecsctl's runtime configuration from flags and
// environment variables, via viper.
package ecsconfig

import (
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is ecsctl's resolved configuration.
type Config struct {
	LogLevel   string
	ConfigFile string
}

// Load builds a Config from v, applying the ECSCTL_ environment prefix
// and defaults used when no flag or environment variable overrides them.
// It does not read a config file itself; ConfigFile reports the file v
// has already read, if any.
func Load(v *viper.Viper) Config {
	v.SetEnvPrefix("ecsctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("log-level", "info")

	return Config{
		LogLevel:   v.GetString("log-level"),
		ConfigFile: v.ConfigFileUsed(),
	}
}

// ParseLogLevel resolves cfg.LogLevel to a logrus.Level, defaulting to
// Info on an unrecognized value.
func ParseLogLevel(cfg Config) logrus.Level {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
