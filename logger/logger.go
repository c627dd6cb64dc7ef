package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the standard logrus logger to write to stdout and a
// rotating file in logDir. The returned closer flushes the file.
func Setup(logDir, level, format string) (io.Closer, error) {
	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "app.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	configure(logrus.StandardLogger(), io.MultiWriter(os.Stdout, logFile), lvl, format)

	if err != nil {
		logrus.WithField("level", level).Warn("Unknown log level, using info")
	}

	return logFile, nil
}

func configure(l *logrus.Logger, out io.Writer, lvl logrus.Level, format string) {
	l.SetOutput(out)
	l.SetLevel(lvl)
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		return
	}
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}
