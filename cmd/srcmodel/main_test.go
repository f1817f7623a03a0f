package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreAnyFunction("os/signal.loop"),
	)
}

// syncBuffer is written by the watch goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".srcmodel.kdl"), `
project "app" {
    root "src"
}
watch { debounce_ms 20 }
`)
	writeFile(t, filepath.Join(dir, "src/com/acme/Widget.java"), `package com.acme;

public class Widget {
    int size;

    int size() { return size; }
}
`)
	writeFile(t, filepath.Join(dir, "src/com/acme/Gizmo.java"), "package com.acme;\n\nclass Gizmo {}\n")
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr syncBuffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"srcmodel"}, args...))
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}

func TestTree(t *testing.T) {
	dir := newProject(t)

	out, errOut, err := run(t, "-r", dir, "tree", "--lines", "--stats")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Cache: ")
	assert.Contains(t, out, "Element tree for 'app'")
	assert.Contains(t, out, "com.acme <package>")
	assert.Contains(t, out, "Widget.java <unit> java")
	assert.Contains(t, out, "Widget <type> class [line 3]")
	assert.Contains(t, out, "size <function>")
}

func TestTree_FromQualifiedName(t *testing.T) {
	dir := newProject(t)

	out, _, err := run(t, "-r", dir, "tree", "--format", "compact", "com.acme.Widget")
	require.NoError(t, err)
	assert.Contains(t, out, "Widget → size")
	assert.NotContains(t, out, "Gizmo")
}

func TestTree_JSON(t *testing.T) {
	dir := newProject(t)

	out, _, err := run(t, "-r", dir, "tree", "-f", "json", "-d", "1")
	require.NoError(t, err)
	var tree struct {
		MaxDepth int `json:"max_depth"`
		Tree     struct {
			Kind string `json:"kind"`
		} `json:"tree"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Equal(t, 1, tree.MaxDepth)
	assert.Equal(t, "project", tree.Tree.Kind)
}

func TestTree_Errors(t *testing.T) {
	dir := newProject(t)

	_, _, err := run(t, "-r", dir, "tree", "--format", "xml")
	assert.Equal(t, 2, exitCode(err))

	_, _, err = run(t, "-r", dir, "tree", "com.acme.Nope")
	assert.Equal(t, 1, exitCode(err))

	_, _, err = run(t, "-r", dir, "-p", "other", "tree")
	assert.Equal(t, 2, exitCode(err))
}

func TestFind(t *testing.T) {
	dir := newProject(t)
	src := filepath.ToSlash(filepath.Join(dir, "src"))

	out, _, err := run(t, "-r", dir, "find", "--package", "com.acme", "Widget")
	require.NoError(t, err)
	assert.Equal(t, "com.acme.Widget <type> "+src+"/com/acme/Widget.java:3\n", out)

	out, _, err = run(t, "-r", dir, "find", "com.acme.Gizmo")
	require.NoError(t, err)
	assert.Contains(t, out, "com.acme.Gizmo <type>")
}

func TestFind_JSON(t *testing.T) {
	dir := newProject(t)

	out, _, err := run(t, "-r", dir, "find", "-j", "com.acme.Widget.size")
	require.NoError(t, err)
	var results []findResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.NotEqual(t, "type", results[0].Kind)
	assert.Contains(t, results[0].Path, "Widget.java")
}

func TestFind_SuggestsNearMisses(t *testing.T) {
	dir := newProject(t)

	out, _, err := run(t, "-r", dir, "find", "com.acme.Widgt")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "Widgt not found; did you mean:")
	assert.Contains(t, out, "com.acme.Widget <type>")

	_, _, err = run(t, "-r", dir, "find")
	assert.Equal(t, 2, exitCode(err))
}

func TestWatch(t *testing.T) {
	dir := newProject(t)

	var stdout, stderr syncBuffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- app.RunContext(ctx, []string{"srcmodel", "-r", dir, "watch"})
	}()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(stderr.String()), []byte("Watching project app"))
	}, 5*time.Second, 10*time.Millisecond)

	writeFile(t, filepath.Join(dir, "src/com/acme/Gadget.java"), "package com.acme;\n\nclass Gadget {}\n")
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(stdout.String()), []byte("Gadget.java[+]"))
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
