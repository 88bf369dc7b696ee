// Package debug provides the verbose diagnostic log used throughout
// the scan/query pipeline, plus a thin structured-logging front end
// (backed by zap) for the long-running service process. Verbose
// Printf-style logging is off by default and gated by the same
// "UI mode" suppression the teacher uses for its MCP stdio mode: a
// service driven over stdin/stdout by a parent UI process must never
// interleave debug text with its protocol output.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EnableDebug can be overridden at build time:
// go build -ldflags "-X github.com/standardbeagle/mftindex/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// QuietMode suppresses all Printf-style debug output, used while the
// service process's stdout is being consumed by the UI process.
var QuietMode = false

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex

	serviceLogger *zap.SugaredLogger
)

// SetQuietMode toggles stdio suppression.
func SetQuietMode(enabled bool) { QuietMode = enabled }

// SetDebugOutput sets a custom writer for debug output. Pass nil to
// disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a file under the OS
// temp directory and returns its path.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "mftindex-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	debugFile = file
	debugOutput = file
	return logPath, nil
}

// CloseDebugLog closes the debug log file if one is open.
func CloseDebugLog() error {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	if debugFile != nil {
		err := debugFile.Close()
		debugFile = nil
		debugOutput = nil
		return err
	}
	return nil
}

// IsDebugEnabled reports whether Printf-style debug logging should
// produce output right now.
func IsDebugEnabled() bool {
	if QuietMode {
		return false
	}
	if EnableDebug == "true" {
		return true
	}
	if v := os.Getenv("MFTINDEX_DEBUG"); v == "1" || v == "true" {
		return true
	}
	return false
}

func getDebugWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Log provides structured debug logging with component names, e.g.
// debug.Log("VOLUME", "opened %s, journal id %d", drive, id).
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{component}, args...)...)
}

func LogVolume(format string, args ...interface{})   { Log("VOLUME", format, args...) }
func LogScan(format string, args ...interface{})      { Log("SCAN", format, args...) }
func LogIndex(format string, args ...interface{})     { Log("INDEX", format, args...) }
func LogQuery(format string, args ...interface{})     { Log("QUERY", format, args...) }
func LogMonitor(format string, args ...interface{})   { Log("MONITOR", format, args...) }
func LogOrchestrator(format string, args ...interface{}) { Log("ORCH", format, args...) }

// InitServiceLogger builds the zap-backed structured logger used by
// the service subprocess once it has detached from the UI's console.
// Fields carry drive/usn/component context the way the spec's error
// taxonomy (§7) expects callers to attach.
func InitServiceLogger(logPath string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logPath}
	cfg.ErrorOutputPaths = []string{logPath}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build service logger: %w", err)
	}
	serviceLogger = logger.Sugar()
	return serviceLogger, nil
}

// Service returns the process-wide structured logger, falling back to
// a no-op logger if InitServiceLogger was never called (e.g. in tests
// or the one-shot CLI path).
func Service() *zap.SugaredLogger {
	if serviceLogger == nil {
		return zap.NewNop().Sugar()
	}
	return serviceLogger
}

// Fatal formats a catastrophic-error message, logs it if logging is
// active, and returns it as an error for the caller to propagate.
func Fatal(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if !QuietMode {
		if w := getDebugWriter(); w != nil {
			fmt.Fprintf(w, "[FATAL] %s\n", msg)
		}
	}
	return fmt.Errorf("fatal error: %s", msg)
}
