// Package logger sets up the process logger: structured slog records kept as lines
// in memory for the on-screen console and appended to a log file on disk.
package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogFilePath is the default log file, relative to the working directory.
const LogFilePath = "logs/arview.txt"

// DefaultMaxLines bounds the lines kept in memory.
const DefaultMaxLines = 500

// Logger is a slog.Logger whose output is also kept as lines in memory. It is an
// io.Writer so other writers (console echo) can share the same sink.
type Logger struct {
	*slog.Logger

	path     string
	maxLines int
	extra    []io.Writer

	mu      sync.Mutex
	lines   []string
	partial []byte
	file    *os.File
}

// New returns a logger writing to path (LogFilePath when empty) and to every extra
// writer. The level comes from LOG_LEVEL (debug, info, warn, error) and the format
// from LOG_FORMAT (text or json).
func New(path string, extra ...io.Writer) *Logger {
	if path == "" {
		path = LogFilePath
	}
	_ = os.MkdirAll(filepath.Dir(path), 0755)
	l := &Logger{path: path, maxLines: DefaultMaxLines, extra: extra}
	opts := &slog.HandlerOptions{Level: Level()}
	var h slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		h = slog.NewJSONHandler(l, opts)
	} else {
		h = slog.NewTextHandler(l, opts)
	}
	l.Logger = slog.New(h)
	return l
}

// Level parses LOG_LEVEL, defaulting to info.
func Level() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Write records every complete line of p.
func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.appendLocked(string(l.partial[:i]))
		l.partial = l.partial[i+1:]
	}
	if len(l.partial) == 0 {
		l.partial = nil
	}
	return len(p), nil
}

func (l *Logger) appendLocked(line string) {
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.maxLines; over > 0 {
		l.lines = append(l.lines[:0:0], l.lines[over:]...)
	}
	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			l.file = f
		}
	}
	if l.file != nil {
		_, _ = l.file.WriteString(line + "\n")
	}
	for _, w := range l.extra {
		_, _ = io.WriteString(w, line+"\n")
	}
}

// Log records a plain line (console input echo), prefixed with [timestamp].
func (l *Logger) Log(line string) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	_, _ = l.Write([]byte("[" + ts + "] " + line + "\n"))
}

// Lines returns a copy of the lines kept in memory, oldest first.
func (l *Logger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

// Close closes the log file. Later writes reopen it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
