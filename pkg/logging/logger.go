// Package logging implements netchunk's leveled, size-rotating file
// logger. Per spec.md §9's design note, the logger is constructed once
// (in cmd/netchunk) and threaded through every component's constructor
// rather than kept as package-level mutable state.
//
// The rotation/fsync/STARTUP-SHUTDOWN-marker contract is grounded on
// NebulousLabs/Sia's persist.Logger, inferred from persist/log_test.go
// (see DESIGN.md): a logger writes a STARTUP line on open, fsyncs after
// each record, and writes a SHUTDOWN line on Close.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Logger bound to a rotating file sink.
type Logger struct {
	*logrus.Logger

	mu          sync.Mutex
	file        *os.File
	path        string
	maxSizeByte int64
}

// defaultMaxSize is the rotation threshold: once the active log file
// exceeds this size, it is rotated to path+".1" before the next write.
const defaultMaxSize = 10 << 20 // 10 MiB

// New opens (creating if necessary) the log file at path, at the given
// logrus level name ("debug", "info", "warn", "error"), and writes a
// STARTUP marker.
func New(path string, level string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	l := &Logger{
		Logger:      logrus.New(),
		file:        f,
		path:        path,
		maxSizeByte: defaultMaxSize,
	}

	l.Logger.SetOutput(&syncWriter{f: f})
	l.Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if lvl, perr := logrus.ParseLevel(level); perr == nil {
		l.Logger.SetLevel(lvl)
	} else {
		l.Logger.SetLevel(logrus.InfoLevel)
	}

	l.Logger.AddHook(&rotationHook{logger: l})
	l.Logger.Info("STARTUP: netchunk logger initialized")
	return l, nil
}

// rotationHook checks for rotation before each log record is emitted,
// so size-based rotation (spec.md §6 general.log_file) happens
// transparently to callers.
type rotationHook struct {
	logger *Logger
}

func (h *rotationHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *rotationHook) Fire(*logrus.Entry) error {
	h.logger.mu.Lock()
	defer h.logger.mu.Unlock()
	return h.logger.rotateIfNeeded()
}

// rotateIfNeeded checks the current file size and rotates to
// path+".1" (overwriting any previous rotation) if it exceeds
// maxSizeByte. Called before each write under mu.
func (l *Logger) rotateIfNeeded() error {
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxSizeByte {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return err
	}

	rotated := l.path + ".1"
	if err := os.Rename(l.path, rotated); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.Logger.SetOutput(&syncWriter{f: f})
	return nil
}

// MaybeRotate is exported so long-running operations can trigger a
// rotation check between records without waiting on the next log
// call.
func (l *Logger) MaybeRotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateIfNeeded()
}

// Close writes a SHUTDOWN marker and closes the underlying file.
func (l *Logger) Close() error {
	l.Logger.Info("SHUTDOWN: netchunk logger closing")
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// syncWriter fsyncs the file after every write, matching the teacher's
// (inferred) "fsync after each record" contract so a crash never loses
// an already-logged line.
type syncWriter struct {
	f *os.File
}

func (w *syncWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, err
	}
	if serr := w.f.Sync(); serr != nil {
		return n, serr
	}
	return n, nil
}

// Discard returns a Logger that writes nowhere, for tests and
// dry-run contexts that need a valid *Logger without file I/O.
func Discard() *Logger {
	l := &Logger{Logger: logrus.New()}
	l.Logger.SetOutput(io.Discard)
	return l
}
