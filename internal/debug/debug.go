package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/srcmodel/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// QuietMode suppresses all debug output, e.g. when the host owns stdio
var QuietMode = false

// debugOutput is the writer for debug output (defaults to nil, meaning no output)
var debugOutput io.Writer

// debugFile holds the open file handle if debug output goes to a file
var debugFile *os.File

// debugMutex protects access to debug output
var debugMutex sync.Mutex

// SetQuietMode enables quiet mode which suppresses all debug output
func SetQuietMode(enabled bool) {
	QuietMode = enabled
}

// SetDebugOutput sets a custom writer for debug output.
// Pass nil to disable debug output entirely.
func SetDebugOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitDebugLogFile initializes debug logging to a file.
// Returns the path to the log file, or an error if initialization fails.
// Call CloseDebugLog when done to ensure the file is properly closed.
func InitDebugLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "srcmodel-debug-logs")
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

// IsDebugEnabled returns true if debug mode is enabled and we're not in quiet mode
func IsDebugEnabled() bool {
	if QuietMode {
		return false
	}

	// Check build flag first
	if EnableDebug == "true" {
		return true
	}

	// Allow runtime override via environment variable
	if os.Getenv("DEBUG") == "1" || os.Getenv("DEBUG") == "true" {
		return true
	}

	return false
}

// getDebugWriter returns the writer for debug output, or nil if none is configured
func getDebugWriter() io.Writer {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	return debugOutput
}

// Printf prints debug information only when debug mode is enabled and output is configured
func Printf(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG] "+format, args...)
}

// Log provides structured debug logging with component names
func Log(component, format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format, append([]interface{}{component}, args...)...)
}

// LogCache logs element cache activity (open, close, eviction)
func LogCache(format string, args ...interface{}) {
	Log("CACHE", format, args...)
}

// LogDelta logs delta processing cycles
func LogDelta(format string, args ...interface{}) {
	Log("DELTA", format, args...)
}

// LogLookup logs name lookups
func LogLookup(format string, args ...interface{}) {
	Log("LOOKUP", format, args...)
}

// LogRoots logs root registry rebuilds and classification
func LogRoots(format string, args ...interface{}) {
	Log("ROOTS", format, args...)
}

// LogWatch logs raw change source activity
func LogWatch(format string, args ...interface{}) {
	Log("WATCH", format, args...)
}

// Warn reports a non-fatal problem. Unlike Log it is written whenever an
// output is configured, even with debug mode off, but never in quiet mode.
func Warn(format string, args ...interface{}) {
	if QuietMode {
		return
	}
	w := getDebugWriter()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[WARN] "+format, args...)
}
