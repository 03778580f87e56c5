package log

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Options configures the global logger.
type Options struct {
	Level  Level
	Format string // "json" (default) or "console"
	// File, if set, sends output to a size-rotated file instead of stderr.
	File string
}

var (
	mu     sync.RWMutex
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	once   sync.Once
)

// initLogger installs the default stderr JSON logger on first use.
func initLogger() {
	once.Do(func() {
		if logger == nil {
			install(build(Options{}))
		}
	})
}

// Configure replaces the global logger.
func Configure(opts Options) {
	once.Do(func() {})
	if opts.Level != "" {
		SetLevel(opts.Level)
	}
	install(build(opts))
}

func build(opts Options) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(opts.Format, "console") {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var out zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err == nil {
			out = zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    50, // megabytes
				MaxAge:     14, // days
				MaxBackups: 5,
				Compress:   true,
				LocalTime:  true,
			})
		}
	}

	return zap.New(zapcore.NewCore(enc, out, level))
}

func install(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// L returns the underlying zap logger, for packages that take one injected.
func L() *zap.Logger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func SetLevel(l Level) {
	switch Level(strings.ToUpper(string(l))) {
	case LevelDebug:
		level.SetLevel(zapcore.DebugLevel)
	case LevelError:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func Debug(msg string, kv ...any) {
	s().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	s().Infow(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	s().Errorw(msg, extended...)
}

// Sync flushes buffered output; call before exit.
func Sync() {
	_ = L().Sync()
}

func s() *zap.SugaredLogger {
	initLogger()
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}
