// Package logx provides component loggers with context-aware, domain-filtered debug logging.
//
// Output goes through zap: a console core on stderr and, when a log file is configured,
// a JSON core rotated by lumberjack.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options controls where log output goes.
type Options struct {
	Output     io.Writer // Console destination (nil = stderr)
	File       string    // Optional JSON log file, rotated by lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // Which domains to enable debug for (nil = all)
}

// LogEntry is a captured log line kept for the CLI log view.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Domain    string    `json:"domain,omitempty"`
}

// Logger writes printf-style messages tagged with a component name.
type Logger struct {
	component string
}

type ctxKey struct{}

//nolint:gochecknoglobals // Process-wide logging state
var (
	baseMu  sync.RWMutex
	base    *zap.Logger
	closers []io.Closer

	debugMu     sync.RWMutex
	debugConfig = DebugConfig{}

	buffer = newRing(500)
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	base = newZap(Options{})
	initDebugFromEnv()
}

// initDebugFromEnv reads DEBUG=1 and DEBUG_DOMAINS=explorer,enricher.
func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debugConfig.Enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(d)] = true
		}
	}
}

func newZap(opts Options) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.NameKey = "component"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}
	encCfg.ConsoleSeparator = " "

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), zap.DebugLevel),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		closers = append(closers, rotator)
		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(rotator), zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Configure replaces the process-wide log sinks.
func Configure(opts Options) {
	baseMu.Lock()
	defer baseMu.Unlock()
	_ = base.Sync()
	for _, c := range closers {
		_ = c.Close()
	}
	closers = nil
	base = newZap(opts)
}

// SetOutput redirects console output, mainly for tests.
func SetOutput(w io.Writer) {
	Configure(Options{Output: w})
}

// Sync flushes buffered log output.
func Sync() {
	baseMu.RLock()
	defer baseMu.RUnlock()
	_ = base.Sync()
}

// SetDebugConfig enables or disables debug output.
func SetDebugConfig(enabled bool, domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugConfig.Enabled = enabled
	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool, len(domains))
	for _, d := range domains {
		debugConfig.Domains[strings.TrimSpace(d)] = true
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) emit(level Level, domain, format string, args ...any) {
	message := fmt.Sprintf(format, args...)

	baseMu.RLock()
	zl := base.Named(l.component)
	baseMu.RUnlock()

	switch level {
	case LevelDebug:
		zl.Debug(message)
	case LevelInfo:
		zl.Info(message)
	case LevelWarn:
		zl.Warn(message)
	case LevelError:
		zl.Error(message)
	}

	buffer.add(LogEntry{
		Timestamp: time.Now().UTC(),
		Component: l.component,
		Level:     level,
		Message:   message,
		Domain:    domain,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.emit(LevelDebug, "", format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.emit(LevelInfo, "", format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.emit(LevelWarn, "", format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.emit(LevelError, "", format, args...)
}

func (l *Logger) Component() string {
	return l.component
}

func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// WithSession tags ctx so that Debug calls made under it name the session.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, sessionID)
}

// SessionFrom returns the session tagged by WithSession, if any.
func SessionFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// Debug logs a debug message with context and domain filtering.
//
//	logx.Debug(ctx, "explorer", "query %q returned %d results", q, n)
//
// Enabled with DEBUG=1; DEBUG_DOMAINS=explorer,enricher narrows the output.
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := SessionFrom(ctx)
	if component == "" {
		component = "unknown"
	}
	NewLogger(component).emit(LevelDebug, domain, "["+domain+"] "+format, args...)
}

// DebugState logs state transition information with context and domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

// DebugFlow logs workflow step information with context and domain.
func DebugFlow(ctx context.Context, domain, step, status string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "Flow %s: %s%s", step, status, extraInfo)
}

// Recent returns up to n of the most recent log entries, oldest first.
func Recent(n int) []LogEntry {
	return buffer.last(n)
}

var defaultLogger = NewLogger("system")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrappedErr := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrappedErr.Error())
	return wrappedErr
}

type ring struct {
	entries []LogEntry
	mu      sync.RWMutex
	max     int
}

func newRing(size int) *ring {
	return &ring{max: size}
}

func (r *ring) add(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

func (r *ring) last(n int) []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]LogEntry, n)
	copy(out, r.entries[len(r.entries)-n:])
	return out
}
