package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	closer func() error
)

// Init initializes the logger to write JSON lines to the specified file.
func Init(filename string) error {
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level)

	base = zap.New(core)
	sugar = base.Sugar()
	closer = f.Close
	return nil
}

// Use installs an existing zap logger. Tests use zaptest or zap.NewNop here.
func Use(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugar = l.Sugar()
	closer = nil
}

// SetVerbose toggles debug output.
func SetVerbose(v bool) {
	if v {
		level.SetLevel(zapcore.DebugLevel)
		return
	}
	level.SetLevel(zapcore.InfoLevel)
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
	if closer != nil {
		_ = closer()
		closer = nil
	}
	base = nil
	sugar = nil
}

// With returns a child logger carrying the given key/value pairs, e.g. a request id.
// It returns a no-op logger when Init has not been called.
func With(kv ...interface{}) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		return zap.NewNop().Sugar()
	}
	return sugar.With(kv...)
}

// Info logs an informational message.
func Info(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		sugar.Infof(format, v...)
	}
}

// Warn logs a warning.
func Warn(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		sugar.Warnf(format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		sugar.Errorf(format, v...)
	} else {
		// Fallback to stderr if logger not init
		fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", v...)
	}
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		sugar.Debugf(format, v...)
	}
}
