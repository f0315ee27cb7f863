package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is a component logger for Pandorabox.
// Entries are written as JSON lines to ~/.pandorabox/logs/<run-id>-pandorabox.log and,
// when console output is enabled, mirrored to stderr in human-readable form.
type Logger struct {
	runID     string
	component string
	file      *os.File
	zl        zerolog.Logger
	logPath   string
	closeOnce sync.Once
}

var (
	runID     string
	runIDOnce sync.Once

	logDir   string
	initOnce sync.Once
	initErr  error

	console atomic.Bool
)

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir != "" {
			initErr = os.MkdirAll(logDir, 0750)
			return
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".pandorabox", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// SetDirectory overrides the log directory. It must be called before the first NewLogger.
func SetDirectory(dir string) {
	logDir = dir
}

// SetLevel sets the global minimum level (debug, info, warn, error).
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// EnableConsole mirrors subsequently created loggers to stderr.
func EnableConsole(enabled bool) {
	console.Store(enabled)
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true, TimeFormat: "15:04:05.000"}
}

// NewLogger creates a new logger for a specific component.
//
// If the log directory cannot be created or the log file cannot be opened,
// it returns a fallback logger that writes to stderr along with the error.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	id := getRunID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-pandorabox.log", id))

	// Append mode: every component shares the run's file.
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	var out io.Writer = file
	if console.Load() {
		out = zerolog.MultiLevelWriter(file, consoleWriter())
	}

	return &Logger{
		runID:     id,
		component: component,
		file:      file,
		zl:        newZerolog(out, component, id),
		logPath:   logPath,
	}, nil
}

// MustLogger is NewLogger for bootstrap code that accepts the stderr fallback silently.
func MustLogger(component string) *Logger {
	l, _ := NewLogger(component)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{component: "nop", zl: zerolog.Nop()}
}

func newZerolog(w io.Writer, component, id string) zerolog.Logger {
	return zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Str("run_id", id).
		Logger()
}

func newFallbackLogger(component string, err error) *Logger {
	zl := newZerolog(consoleWriter(), component, getRunID())
	zl.Warn().Err(err).Msg("file logging unavailable, falling back to stderr")

	return &Logger{
		runID:     getRunID(),
		component: component,
		zl:        zl,
	}
}

// Printf logs a formatted message at info level.
func (l *Logger) Printf(format string, v ...any) {
	l.zl.Info().Msgf(format, v...)
}

// Debugf logs a debug-level message.
func (l *Logger) Debugf(format string, v ...any) {
	l.zl.Debug().Msgf(format, v...)
}

// Infof logs an info-level message.
func (l *Logger) Infof(format string, v ...any) {
	l.zl.Info().Msgf(format, v...)
}

// Warnf logs a warning-level message.
func (l *Logger) Warnf(format string, v ...any) {
	l.zl.Warn().Msgf(format, v...)
}

// Errorf logs an error-level message.
func (l *Logger) Errorf(format string, v ...any) {
	l.zl.Error().Msgf(format, v...)
}

// With returns a child logger carrying an extra string field. The child shares the
// parent's file and must not be closed independently.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: l.component,
		zl:        l.zl.With().Str(key, value).Logger(),
		logPath:   l.logPath,
	}
}

// Writer returns an io.Writer that writes to this logger's destination.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// SessionID returns the run id shared by every logger of this process.
func (l *Logger) SessionID() string {
	return l.runID
}

// LogPath returns the path to the log file, or "" in fallback mode.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the current global run id.
func GetSessionID() string {
	return getRunID()
}

// GetLogDirectory returns the directory where logs are stored.
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
