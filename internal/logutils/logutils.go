package logutils

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is usable before InitLogger is called; it then logs at info level to stderr.
var Log = newLogger(logrus.InfoLevel, os.Stderr)

type Logger struct {
	entry *logrus.Entry
}

func newLogger(level logrus.Level, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &Logger{entry: logrus.NewEntry(base)}
}

func InitLogger(level string) {
	parsedLevel, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}
	Log = newLogger(parsedLevel, os.Stderr)
	if err != nil {
		Log.WithField("requested", level).Warn("Invalid log level, defaulting to 'info'")
	}
	Log.Infof("Log level set to %s", parsedLevel)
}

// SetOutput redirects the global logger, e.g. to io.Discard in tests.
func SetOutput(out io.Writer) {
	Log.entry.Logger.SetOutput(out)
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Debug(message string)              { l.entry.Debug(message) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Info(message string)               { l.entry.Info(message) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Warn(message string)               { l.entry.Warn(message) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
func (l *Logger) Error(message string)              { l.entry.Error(message) }

func (l *Logger) Fatal(message string) {
	l.entry.Fatal(message)
}
