// Package logger provides structured logging functionality based on zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Config holds logger configuration.
type Config struct {
	Level   string `json:"level" mapstructure:"level"`     // error, warn, info, debug, trace
	Path    string `json:"path" mapstructure:"path"`       // log file path, empty means no file
	Console bool   `json:"console" mapstructure:"console"` // mirror output to stderr
}

var (
	globalLogger zerolog.Logger
	logFile      *os.File
	mu           sync.RWMutex
	initialized  bool
)

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger with the given configuration.
func Init(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	zerolog.SetGlobalLevel(parseLevel(config.Level))

	var writers []io.Writer

	if config.Console {
		// Pretty output when stderr is a terminal, JSON otherwise
		if term.IsTerminal(int(os.Stderr.Fd())) {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stderr,
				TimeFormat: "2006-01-02T15:04:05-07:00",
			})
		} else {
			writers = append(writers, os.Stderr)
		}
	}

	if config.Path != "" {
		f, err := os.OpenFile(config.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", config.Path, err)
		}
		logFile = f
		writers = append(writers, f)
	}

	var output io.Writer
	switch len(writers) {
	case 0:
		output = os.Stderr
	case 1:
		output = writers[0]
	default:
		output = io.MultiWriter(writers...)
	}

	globalLogger = zerolog.New(output).With().Timestamp().Logger()
	initialized = true
	return nil
}

// Get returns the global logger instance.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !initialized {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		return &l
	}
	return &globalLogger
}

// Named returns a logger tagged with a component name.
func Named(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

// Close closes the log file if opened.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// Trace returns a trace level event.
func Trace() *zerolog.Event {
	return Get().Trace()
}

// Debug returns a debug level event.
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info returns an info level event.
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn returns a warn level event.
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error returns an error level event.
func Error() *zerolog.Event {
	return Get().Error()
}
