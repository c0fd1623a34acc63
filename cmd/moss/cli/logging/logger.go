// Package logging writes moss's structured JSON log.
//
// Each worktree has its own log at .moss/logs/moss.log. Commands call Init
// once with the worktree root and Close on exit; everything else logs
// through the level functions, which pick up the worktree, operation id
// and component stored in the context:
//
//	ctx = logging.WithComponent(ctx, "engine")
//	logging.Info(ctx, "undo applied", slog.String("head", head))
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
)

// LogLevelEnvVar overrides the log_level setting.
const LogLevelEnvVar = "MOSS_LOG_LEVEL"

// LogFileName is the log file inside paths.LogsDir.
const LogFileName = "moss.log"

// maxLogSize is the size past which Init moves the log aside to
// LogFileName+".1", replacing any older rotation.
const maxLogSize = 5 << 20

var levels = map[string]slog.Level{
	"DEBUG":   slog.LevelDebug,
	"INFO":    slog.LevelInfo,
	"WARN":    slog.LevelWarn,
	"WARNING": slog.LevelWarn,
	"ERROR":   slog.LevelError,
}

var (
	mu       sync.RWMutex
	logger   *slog.Logger
	logFile  *os.File
	buffered *bufio.Writer

	// levelFromSettings is consulted when LogLevelEnvVar is unset.
	levelFromSettings func() string
)

// SetLogLevelGetter installs the settings lookup used by Init. Settings
// imports paths, so the level is passed in rather than loaded here.
func SetLogLevelGetter(getter func() string) {
	mu.Lock()
	defer mu.Unlock()
	levelFromSettings = getter
}

// Init opens the worktree's log file. When the logs directory or file
// cannot be opened it logs to stderr instead; Init itself never fails the
// command.
func Init(worktreeRoot string) error {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()

	name := os.Getenv(LogLevelEnvVar)
	if name == "" && levelFromSettings != nil {
		name = levelFromSettings()
	}
	level, ok := parseLevel(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "[moss] Warning: invalid log level %q, defaulting to INFO\n", name)
	}

	if worktreeRoot == "" {
		worktreeRoot = "."
	}
	dir := filepath.Join(worktreeRoot, paths.LogsDir)
	f, err := openLogFile(dir)
	if err != nil {
		logger = newLogger(os.Stderr, level)
		return nil
	}
	logFile = f
	buffered = bufio.NewWriterSize(f, 8192)
	logger = newLogger(buffered, level)
	return nil
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LogFileName)
	if info, err := os.Stat(path); err == nil && info.Size() > maxLogSize {
		_ = os.Rename(path, path+".1")
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is built from constants
}

// Close flushes and closes the log file. It is safe to call more than once.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if buffered != nil {
		_ = buffered.Flush()
		buffered = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// resetLogger drops the logger so tests start from slog.Default.
func resetLogger() {
	mu.Lock()
	defer mu.Unlock()
	logger = nil
	closeLocked()
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseLevel maps a level name to slog.Level. Empty means INFO; unknown
// names also give INFO but report false.
func parseLevel(s string) (slog.Level, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return slog.LevelInfo, true
	}
	level, ok := levels[s]
	if !ok {
		return slog.LevelInfo, false
	}
	return level, true
}

// Debug, Info, Warn and Error log at their level with the context attributes.
func Debug(ctx context.Context, msg string, attrs ...any) {
	write(ctx, slog.LevelDebug, msg, attrs)
}

func Info(ctx context.Context, msg string, attrs ...any) {
	write(ctx, slog.LevelInfo, msg, attrs)
}

func Warn(ctx context.Context, msg string, attrs ...any) {
	write(ctx, slog.LevelWarn, msg, attrs)
}

func Error(ctx context.Context, msg string, attrs ...any) {
	write(ctx, slog.LevelError, msg, attrs)
}

// LogDuration logs msg with duration_ms measured from start. Use with defer:
//
//	defer logging.LogDuration(ctx, slog.LevelDebug, "commit written", time.Now())
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	write(ctx, level, msg, append([]any{slog.Int64("duration_ms", time.Since(start).Milliseconds())}, attrs...))
}

func write(ctx context.Context, level slog.Level, msg string, attrs []any) {
	l := current()
	if !l.Enabled(context.Background(), level) {
		return
	}
	all := make([]any, 0, len(attrs)+3)
	if ctx != nil {
		for _, kv := range [...]struct{ key, val string }{
			{"worktree", WorktreeFromContext(ctx)},
			{"operation_id", OperationIDFromContext(ctx)},
			{"component", ComponentFromContext(ctx)},
		} {
			if kv.val != "" {
				all = append(all, slog.String(kv.key, kv.val))
			}
		}
	}
	all = append(all, attrs...)
	l.Log(context.Background(), level, msg, all...)
}
