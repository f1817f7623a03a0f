package debug

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// saveAndRestoreState saves the debug package state and returns a cleanup function
func saveAndRestoreState() func() {
	originalDebug := EnableDebug
	originalQuiet := QuietMode
	originalOutput := debugOutput
	originalFile := debugFile
	return func() {
		EnableDebug = originalDebug
		QuietMode = originalQuiet
		debugOutput = originalOutput
		debugFile = originalFile
	}
}

func TestIsDebugEnabled(t *testing.T) {
	defer saveAndRestoreState()()
	t.Setenv("DEBUG", "")

	EnableDebug = "false"
	QuietMode = false
	assert.False(t, IsDebugEnabled())

	EnableDebug = "true"
	assert.True(t, IsDebugEnabled())

	// Quiet mode wins over the build flag
	QuietMode = true
	assert.False(t, IsDebugEnabled())

	QuietMode = false
	EnableDebug = "invalid"
	assert.False(t, IsDebugEnabled())

	t.Setenv("DEBUG", "1")
	assert.True(t, IsDebugEnabled())
}

func TestLog(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "true"
	QuietMode = false

	LogCache("opened %s\n", "core/p/A.java")
	LogDelta("cycle %d\n", 3)

	out := buf.String()
	assert.Contains(t, out, "[DEBUG:CACHE] opened core/p/A.java")
	assert.Contains(t, out, "[DEBUG:DELTA] cycle 3")
}

func TestLog_NoWriter(t *testing.T) {
	defer saveAndRestoreState()()

	SetDebugOutput(nil)
	EnableDebug = "true"
	// Must not panic without a writer
	LogLookup("nothing to see\n")
	Printf("nothing either\n")
}

func TestWarn(t *testing.T) {
	defer saveAndRestoreState()()

	var buf bytes.Buffer
	SetDebugOutput(&buf)
	EnableDebug = "false"
	QuietMode = false

	Warn("listener %d panicked\n", 2)
	assert.True(t, strings.HasPrefix(buf.String(), "[WARN] listener 2 panicked"))

	buf.Reset()
	QuietMode = true
	Warn("suppressed\n")
	assert.Empty(t, buf.String())
}

func TestInitDebugLogFile(t *testing.T) {
	defer saveAndRestoreState()()

	path, err := InitDebugLogFile()
	require.NoError(t, err)
	defer os.Remove(path)

	EnableDebug = "true"
	QuietMode = false
	LogRoots("rebuilt %d roots\n", 4)
	require.NoError(t, CloseDebugLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG:ROOTS] rebuilt 4 roots")
}
