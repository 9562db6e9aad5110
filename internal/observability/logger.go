// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xkilldash9x/computer-worker/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// globalLogger stores the process logger safely across goroutines.
	globalLogger atomic.Pointer[zap.Logger]
	// level is shared by the console and file cores.
	level = zap.NewAtomicLevel()
	once  sync.Once
)

const colorReset = "\x1b[0m"

// levelColors translates friendly color names to ANSI codes.
var levelColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize builds the process logger from cfg, writing human output to
// consoleWriter and, when cfg.LogFile is set, JSON to a rotated file.
// Only the first call has any effect until ResetForTest.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) {
	once.Do(func() {
		logger := build(cfg, consoleWriter)
		globalLogger.Store(logger)

		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes the process logger on a locked stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

func build(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer) *zap.Logger {
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoderFor(cfg), consoleWriter, level)}
	if cfg.LogFile != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		// Files are always JSON.
		cores = append(cores, zapcore.NewCore(encoderFor(config.LoggerConfig{Format: "json"}), rotated, level))
	}

	options := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		options = append(options, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), options...)
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// ResetForTest clears the process logger so Initialize can run again.
// Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

func colorizedLevel(colors config.ColorConfig) zapcore.LevelEncoder {
	byLevel := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := strings.ToUpper(l.String())
		if code, ok := levelColors[byLevel[l]]; ok {
			enc.AppendString(code + name + colorReset)
			return
		}
		enc.AppendString(name)
	}
}

// encoderFor returns the console encoder for Format "console" and a JSON
// encoder otherwise.
func encoderFor(cfg config.LoggerConfig) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if cfg.Format == "console" {
		encCfg.EncodeLevel = colorizedLevel(cfg.Colors)
		// "computer-worker.worker." keeps the component visually apart from the message.
		encCfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(name + ".")
		}
		return zapcore.NewConsoleEncoder(encCfg)
	}

	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encCfg)
}

// GetLogger returns the process logger, or a development logger named
// "fallback" when Initialize has not run yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call it before exiting.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !isHarmlessSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// isHarmlessSyncError filters the errors fsync returns for terminals and pipes.
func isHarmlessSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stdout") ||
		strings.Contains(msg, "sync /dev/stderr") ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl") ||
		strings.Contains(msg, "operation not supported")
}
