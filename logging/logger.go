// Package logging provides structured logging with logrus.
package logging

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Logger is the process-wide logger created by NewLogger.
var Logger *logrus.Logger

// NewLogger creates and configures a new logrus Logger.
func NewLogger() *logrus.Logger {
	Logger = logrus.New()
	if viper.GetBool("log_textlogging") {
		Logger.Formatter = &logrus.TextFormatter{
			FullTimestamp: true,
		}
	} else {
		Logger.Formatter = &logrus.JSONFormatter{}
	}

	level := viper.GetString("log_level")
	if level == "" {
		level = "info"
	}
	l, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).Error("cannot parse log level, using info level")
		l = logrus.InfoLevel
	}
	Logger.SetLevel(l)
	return Logger
}
