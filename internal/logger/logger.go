// Package logger configures the process-wide logrus logger.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"kings-storefront/internal/config"
)

var appLogger = logrus.New()

// Init applies cfg to the shared logger and returns it.
func Init(cfg config.LogConfig, appEnv string) *logrus.Logger {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	appLogger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") || appEnv == "production" {
		appLogger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		appLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	appLogger.SetOutput(out)
	return appLogger
}

// Get returns the shared logger.
func Get() *logrus.Logger {
	return appLogger
}

// WithModule returns an entry tagged with a module name such as "apiclient" or "push".
func WithModule(module string) *logrus.Entry {
	return appLogger.WithField("module", module)
}

// WithContext returns an entry carrying the chi request id from ctx, if any.
func WithContext(ctx context.Context) *logrus.Entry {
	entry := appLogger.WithContext(ctx)
	if rid := middleware.GetReqID(ctx); rid != "" {
		entry = entry.WithField("request_id", rid)
	}
	return entry
}

// Discard returns an entry that writes nowhere, for tests and optional loggers.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
