package log

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L returns the logger carried by ctx, or the root logger.
	L = fromContext

	initialized atomic.Bool
)

type ctxLogKey struct{}

// FileConfig controls rotation when logs are written to a file.
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the logging section of the application config.
type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"` // "text" or "json"
	Output string     `mapstructure:"output"` // "stdout", "stderr" or "file"
	File   FileConfig `mapstructure:"file"`
}

// InitConfig applies level, format and output settings to the root logger.
func InitConfig(conf Config) {
	initialized.Store(true)
	SetLevel(conf.Level)

	switch conf.Output {
	case "file":
		filename := conf.File.Filename
		if filename == "" {
			filename = "ethcontract.log"
		}
		rootLogger.Infof("Logs diverted to %s", filename)
		logrus.SetOutput(newRotatingFile(conf.File, filename))
	case "stderr":
		logrus.SetOutput(os.Stderr)
	default:
		logrus.SetOutput(os.Stdout)
	}

	switch conf.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func newRotatingFile(conf FileConfig, filename string) io.Writer {
	maxSize := conf.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAgeDays,
		Compress:   conf.Compress,
	}
}

// EnsureInit installs defaults when nothing called InitConfig, e.g. in unit tests.
func EnsureInit() {
	if !initialized.Load() {
		InitConfig(Config{})
	}
}

// SetLevel sets the global level. Unknown names fall back to info.
func SetLevel(level string) {
	var l logrus.Level
	switch strings.ToLower(level) {
	case "error":
		l = logrus.ErrorLevel
	case "warn", "warning":
		l = logrus.WarnLevel
	case "debug":
		l = logrus.DebugLevel
	case "trace":
		l = logrus.TraceLevel
	default:
		l = logrus.InfoLevel
	}
	logrus.SetLevel(l)
}

func IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

// WithLogger stores logger in the returned context.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	EnsureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField adds a field to the context logger. Long values are truncated.
func WithLogField(ctx context.Context, key, value string) context.Context {
	if len(value) > 66 {
		value = value[0:66] + "..."
	}
	return WithLogger(ctx, fromContext(ctx).WithField(key, value))
}

func fromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return rootLogger
	}
	logger, ok := ctx.Value(ctxLogKey{}).(*logrus.Entry)
	if !ok {
		return rootLogger
	}
	return logger
}
