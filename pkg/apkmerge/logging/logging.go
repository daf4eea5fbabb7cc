// Package logging provides component loggers with file rotation for
// apkmerge. There is no package-level state: callers build a *Logging,
// hand component loggers to the code that needs them, and close it when
// the process is done.
//
//	logs, err := logging.New(logging.Config{
//	    Level: "info",
//	    Path:  logging.DefaultLogPath(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer logs.Close()
//
//	logger := logs.Get("merge")
//	logger.Info("merge started", "output", out)
//
// A nil *Logger is valid and discards everything.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level is a charmbracelet/log level.
type Level = log.Level

const (
	LevelDebug = log.DebugLevel
	LevelInfo  = log.InfoLevel
	LevelWarn  = log.WarnLevel
	LevelError = log.ErrorLevel
)

// ErrInvalidLevel is returned for a level name ParseLevel does not know.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses debug, info, warn (or warning) and error, ignoring case.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(s)
	if name == "warning" {
		name = "warn"
	}
	switch name {
	case "debug", "info", "warn", "error":
		return log.ParseLevel(name)
	}
	return LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Config configures a Logging instance.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	// Rotation configures log file rotation.
	Rotation RotationConfig

	// Components maps component names to their log levels.
	Components map[string]string

	// ConsoleLevel mirrors logs at this level and above to Console.
	// Empty disables console output.
	ConsoleLevel string

	// Console receives console output. Nil means os.Stderr.
	Console io.Writer
}

// Logger wraps charmbracelet/log with component identification.
// It writes to the log file and optionally mirrors to the console.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	component string
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }

func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }

func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }

func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Component returns the component name the logger was created for.
func (l *Logger) Component() string {
	if l == nil {
		return ""
	}
	return l.component
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if l == nil {
		return
	}
	l.file.Log(level, msg, args...)
	if l.console != nil {
		l.console.Log(level, msg, args...)
	}
}

// With returns a new logger with additional key/value context.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	newLogger := &Logger{
		file:      l.file.With(args...),
		component: l.component,
	}
	if l.console != nil {
		newLogger.console = l.console.With(args...)
	}
	return newLogger
}

// Logging owns the log writer and the component loggers built on it.
type Logging struct {
	mu         sync.Mutex
	writer     io.Writer
	closer     io.Closer
	level      Level
	components map[string]Level
	loggers    map[string]*Logger

	consoleEnabled bool
	consoleLevel   Level
	console        io.Writer
}

// New opens the log file described by cfg and returns a Logging ready to
// hand out component loggers.
func New(cfg Config) (*Logging, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	l, err := newLogging(level, cfg.ConsoleLevel, cfg.Console)
	if err != nil {
		return nil, err
	}

	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		l.components[comp] = parsed
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return nil, fmt.Errorf("creating log writer: %w", err)
	}
	l.writer, l.closer = writer, writer
	return l, nil
}

// Discard returns a Logging without a log file. Console mirroring still
// applies when consoleLevel is non-empty.
func Discard(consoleLevel string, console io.Writer) (*Logging, error) {
	return newLogging(LevelDebug, consoleLevel, console)
}

func newLogging(level Level, consoleLevel string, console io.Writer) (*Logging, error) {
	if console == nil {
		console = os.Stderr
	}
	l := &Logging{
		writer:     io.Discard,
		level:      level,
		components: map[string]Level{},
		loggers:    map[string]*Logger{},
		console:    console,
	}
	if consoleLevel != "" {
		lvl, err := ParseLevel(consoleLevel)
		if err != nil {
			return nil, fmt.Errorf("parsing console level: %w", err)
		}
		l.consoleLevel, l.consoleEnabled = lvl, true
	}
	return l, nil
}

// Get returns the logger for a component, creating it on first use.
// Component level overrides from the config apply to the file output.
func (l *Logging) Get(component string) *Logger {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if logger, ok := l.loggers[component]; ok {
		return logger
	}

	level := l.level
	if compLevel, ok := l.components[component]; ok {
		level = compLevel
	}

	logger := &Logger{
		file: log.NewWithOptions(l.writer, log.Options{
			Level:           level,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
	}

	if l.consoleEnabled {
		logger.console = log.NewWithOptions(l.console, log.Options{
			Level:           l.consoleLevel,
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}

	l.loggers[component] = logger
	return logger
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	l.writer = io.Discard
	clear(l.loggers)
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/apkmerge/apkmerge.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "apkmerge", "apkmerge.log")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
