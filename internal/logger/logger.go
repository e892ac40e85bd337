// Package logger provides the process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dirtybirdnj/gellyroller/internal/config"
)

// traceIDKey is the context key under which a trace/job id is stored.
type traceIDKey struct{}

// WithTraceID returns a context carrying the given trace id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Logger wraps logrus with context-scoped fields.
type Logger struct {
	*logrus.Logger
	logFile *os.File
	logPath string
}

var (
	stdLogger *Logger
	once      sync.Once
)

// StdLogger returns the single process-wide logger instance.
func StdLogger() *Logger {
	once.Do(func() {
		stdLogger = &Logger{Logger: logrus.New()}
		stdLogger.SetFormatter(&logrus.JSONFormatter{})
	})
	return stdLogger
}

// New initializes the process-wide logger from configuration and returns a
// cleanup function that closes any open log file.
func New(c config.Logger) (func(), error) {
	return StdLogger().init(c)
}

func (l *Logger) init(c config.Logger) (func(), error) {
	l.SetLevel(logrus.Level(c.Level))

	switch c.Format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	switch c.Output {
	case "stderr":
		l.SetOutput(os.Stderr)
	case "file":
		l.logPath = c.OutputFile
		if l.logPath != "" {
			if err := l.setupLogFile(); err != nil {
				return nil, err
			}
			go l.periodicLogRotation()
		}
	default:
		l.SetOutput(os.Stdout)
	}

	return func() {
		if l.logFile != nil {
			_ = l.logFile.Close()
		}
	}, nil
}

func (l *Logger) setupLogFile() error {
	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return l.rotateLog()
}

func (l *Logger) rotateLog() error {
	if l.logFile != nil {
		if err := l.logFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	logFilePath := fmt.Sprintf("%s.%s.log", strings.TrimSuffix(l.logPath, ".log"), time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open new log file: %w", err)
	}

	l.logFile = f
	l.SetOutput(l.logFile)
	return nil
}

func (l *Logger) periodicLogRotation() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		if err := l.rotateLog(); err != nil {
			l.Logger.Errorf("error rotating log: %v", err)
		}
	}
}

func (l *Logger) entryFromContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{}
	if id := getTraceID(ctx); id != "" {
		fields["trace_id"] = id
	}
	return l.WithFields(fields)
}

// Debug logs at debug level with key/value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(pairs(kv)).Debug(msg)
}

// Info logs at info level with key/value pairs.
func (l *Logger) Info(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(pairs(kv)).Info(msg)
}

// Warn logs at warn level with key/value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(pairs(kv)).Warn(msg)
}

// Error logs at error level with key/value pairs.
func (l *Logger) Error(ctx context.Context, msg string, kv ...any) {
	l.entryFromContext(ctx).WithFields(pairs(kv)).Error(msg)
}

// pairs turns an alternating key/value slice into logrus.Fields, dropping a
// trailing odd key rather than panicking on malformed call sites.
func pairs(kv []any) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
