package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"processing-api/internal/config"
)

// Init configures the global logger from configuration.
func Init(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z",
		})
	default:
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	switch cfg.Output {
	case "file":
		if cfg.Filename != "" {
			logrus.SetOutput(getFileWriter(cfg))
		} else {
			logrus.SetOutput(os.Stdout)
		}
	case "both":
		if cfg.Filename != "" {
			logrus.SetOutput(io.MultiWriter(os.Stdout, getFileWriter(cfg)))
		} else {
			logrus.SetOutput(os.Stdout)
		}
	default:
		logrus.SetOutput(os.Stdout)
	}
}

func getFileWriter(cfg config.LoggingConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
}

// AuditLogger creates the dedicated logger used for the compliance audit
// trail. Always JSON, always info level, rotated on its own schedule.
func AuditLogger(cfg config.LoggingConfig) *logrus.Logger {
	auditLogger := logrus.New()

	auditLogger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	if cfg.AuditFile != "" {
		auditLogger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.AuditFile,
			MaxSize:    cfg.MaxSize,
			MaxAge:     cfg.MaxAge * 2, // audit entries kept longer than app logs
			MaxBackups: cfg.MaxBackups * 2,
			Compress:   cfg.Compress,
		})
	} else {
		auditLogger.SetOutput(os.Stdout)
	}

	auditLogger.SetLevel(logrus.InfoLevel)

	return auditLogger
}
