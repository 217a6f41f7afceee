// Package logging provides component loggers for deadsector.
//
// Loggers are obtained per component and stay silent until Init is called,
// so library packages can log unconditionally:
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("rawscan").Warn("read failed", "device", dev, "offset", off)
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

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel enables stderr output at the given level. Empty
	// disables it.
	ConsoleLevel string

	// Interactive suppresses console output while a full-screen progress
	// view owns the terminal. Warnings and errors are kept in a ring
	// buffer instead, readable with Recent.
	Interactive bool
}

// Logger is a component logger writing to the log file and, optionally,
// to stderr.
type Logger struct {
	file      *log.Logger
	console   *log.Logger
	buffer    *Buffer
	component string
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) { l.emit(LevelDebug, msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) { l.emit(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) { l.emit(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) { l.emit(LevelError, msg, args...) }

// Component returns the name the logger was obtained with.
func (l *Logger) Component() string { return l.component }

// With returns a logger that adds the given key/value pairs to every entry.
func (l *Logger) With(args ...any) *Logger {
	child := &Logger{file: l.file.With(args...), buffer: l.buffer, component: l.component}
	if l.console != nil {
		child.console = l.console.With(args...)
	}
	return child
}

func (l *Logger) emit(level Level, msg string, args ...any) {
	write(l.file, level, msg, args...)
	if l.console != nil {
		write(l.console, level, msg, args...)
	}
	if l.buffer != nil && level >= LevelWarn {
		l.buffer.Add(Entry{Time: time.Now(), Level: level, Component: l.component, Message: formatMessage(msg, args...)})
	}
}

func write(dst *log.Logger, level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		dst.Debug(msg, args...)
	case LevelInfo:
		dst.Info(msg, args...)
	case LevelWarn:
		dst.Warn(msg, args...)
	case LevelError:
		dst.Error(msg, args...)
	}
}

type registry struct {
	mu          sync.RWMutex
	ready       bool
	out         *RotatingWriter
	level       Level
	overrides   map[string]Level
	loggers     map[string]*Logger
	console     bool
	consoleLvl  Level
	interactive bool
	buffer      *Buffer
}

var global = &registry{
	overrides: make(map[string]Level),
	loggers:   make(map[string]*Logger),
}

// Init configures file and console output. Loggers handed out earlier
// are rebuilt in place, so package-level loggers pick up the new sinks.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	overrides := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		overrides[comp] = parsed
	}

	console := false
	var consoleLvl Level
	if cfg.ConsoleLevel != "" && !cfg.Interactive {
		consoleLvl, err = ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		console = true
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}
	out, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	if global.out != nil {
		_ = global.out.Close()
	}

	global.out = out
	global.level = level
	global.overrides = overrides
	global.console = console
	global.consoleLvl = consoleLvl
	global.interactive = cfg.Interactive
	global.buffer = nil
	if cfg.Interactive {
		global.buffer = NewBuffer(DefaultBufferSize)
	}
	global.ready = true

	for name, l := range global.loggers {
		*l = *global.build(name)
	}
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	global.mu.RLock()
	l, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return l
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if l, ok := global.loggers[component]; ok {
		return l
	}
	l = global.build(component)
	global.loggers[component] = l
	return l
}

// build must be called with mu held.
func (r *registry) build(component string) *Logger {
	level := r.level
	if lvl, ok := r.overrides[component]; ok {
		level = lvl
	}

	if !r.ready {
		return &Logger{
			file:      log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component}),
			component: component,
		}
	}

	l := &Logger{
		file: log.NewWithOptions(r.out, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
		component: component,
		buffer:    r.buffer,
	}
	if r.console && !r.interactive {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.consoleLvl.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Prefix:          component,
		})
	}
	return l
}

// Close flushes and closes the log file. Loggers go silent again.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.ready {
		return nil
	}
	global.ready = false
	global.buffer = nil

	var err error
	if global.out != nil {
		err = global.out.Close()
		global.out = nil
	}
	for name, l := range global.loggers {
		*l = *global.build(name)
	}
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest warnings and errors captured in
// interactive mode, oldest first. It returns nil otherwise.
func Recent(n int) []Entry {
	global.mu.RLock()
	b := global.buffer
	global.mu.RUnlock()
	if b == nil {
		return nil
	}
	return b.Last(n)
}

// DefaultLogPath returns $XDG_STATE_HOME/deadsector/deadsector.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "deadsector", "deadsector.log")
}

// DefaultConfig returns the configuration used when none is loaded.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
