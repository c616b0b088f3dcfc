package utils

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides different logging levels on top of a zap core
type Logger struct {
	debug   bool
	verbose bool
	sugar   *zap.SugaredLogger
}

// NewLogger creates a new logger with the specified levels
func NewLogger(debug, verbose bool) *Logger {
	return newLogger(debug, verbose, zapcore.Lock(os.Stdout))
}

// NewLoggerWithFile creates a new logger that writes to stdout and a file
func NewLoggerWithFile(debug, verbose bool, logFilePath string) (*Logger, error) {
	if err := EnsureDirForFile(logFilePath); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", logFilePath, err)
	}

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	sink := zapcore.NewMultiWriteSyncer(zapcore.Lock(os.Stdout), zapcore.AddSync(logFile))
	return newLogger(debug, verbose, sink), nil
}

// NewNopLogger discards everything; handy for tests
func NewNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func newLogger(debug, verbose bool, sink zapcore.WriteSyncer) *Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = ""

	level := zapcore.InfoLevel
	if debug || verbose {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, level)
	return &Logger{
		debug:   debug,
		verbose: verbose,
		sugar:   zap.New(core).Sugar(),
	}
}

// Named returns a child logger tagged with a component name
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		debug:   l.debug,
		verbose: l.verbose,
		sugar:   l.sugar.Named(name),
	}
}

// Info logs informational messages (always shown)
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Debug logs debug messages (only if debug enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.debug {
		l.sugar.Debugf(format, args...)
	}
}

// Verbose logs verbose messages (only if verbose enabled)
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.verbose {
		l.sugar.Debugw(fmt.Sprintf(format, args...), "verbose", true)
	}
}

// Error logs error messages (always shown)
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
