package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/srcmodel/internal/delta"
)

func TestCoalesce(t *testing.T) {
	tests := []struct {
		name     string
		ops      []eventOp
		wantOp   eventOp
		wantKeep bool
	}{
		{"create then write", []eventOp{opCreate, opWrite}, opCreate, true},
		{"create then remove", []eventOp{opCreate, opRemove}, 0, false},
		{"remove then create", []eventOp{opRemove, opCreate}, opWrite, true},
		{"rename then create", []eventOp{opRename, opCreate}, opWrite, true},
		{"write then remove", []eventOp{opWrite, opRemove}, opRemove, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cur pendingEvent
			seen := false
			for _, op := range tt.ops {
				cur, seen = coalesce(cur, seen, pendingEvent{op: op})
			}
			assert.Equal(t, tt.wantKeep, seen)
			if tt.wantKeep {
				assert.Equal(t, tt.wantOp, cur.op)
			}
		})
	}
}

func TestBuildBatch_PairsRenames(t *testing.T) {
	events := map[string]pendingEvent{
		"/ws/src/p/A.java":      {op: opRename},
		"/ws/src/p/B.java":      {op: opCreate},
		"/ws/src/q/Moved.java":  {op: opCreate},
		"/ws/src/p/Moved.java":  {op: opRename},
		"/ws/src/p/Gone.java":   {op: opRename},
		"/ws/src/r":             {op: opCreate, isDir: true},
		"/ws/src/r/R.java":      {op: opCreate},
		"/ws/src/p/Widget.java": {op: opWrite},
	}
	b := buildBatch(events, nil)
	assert.False(t, b.ConfigChanged)

	byPath := make(map[string]delta.RawChange)
	var order []string
	for _, ch := range b.Changes {
		byPath[ch.Path] = ch
		order = append(order, ch.Path)
	}
	assert.IsIncreasing(t, order)

	assert.Equal(t, delta.RawChange{Path: "/ws/src/p/Moved.java", Kind: delta.ChangeRemoved, MovedTo: "/ws/src/q/Moved.java"}, byPath["/ws/src/p/Moved.java"])
	assert.Equal(t, delta.RawChange{Path: "/ws/src/q/Moved.java", Kind: delta.ChangeAdded, MovedFrom: "/ws/src/p/Moved.java"}, byPath["/ws/src/q/Moved.java"])
	// The rename in place pairs by directory once base names are exhausted.
	assert.Equal(t, "/ws/src/p/B.java", byPath["/ws/src/p/A.java"].MovedTo)
	assert.Equal(t, "/ws/src/p/A.java", byPath["/ws/src/p/B.java"].MovedFrom)
	assert.Equal(t, delta.RawChange{Path: "/ws/src/p/Gone.java", Kind: delta.ChangeRemoved}, byPath["/ws/src/p/Gone.java"])
	assert.Equal(t, delta.ChangeChanged, byPath["/ws/src/p/Widget.java"].Kind)
	assert.True(t, byPath["/ws/src/r"].IsDir)
}

func TestBuildBatch_AmbiguousRenameDegrades(t *testing.T) {
	events := map[string]pendingEvent{
		"/ws/p/A.java": {op: opRename},
		"/ws/p/B.java": {op: opCreate},
		"/ws/p/C.java": {op: opCreate},
	}
	for _, ch := range buildBatch(events, nil).Changes {
		assert.Empty(t, ch.MovedFrom)
		assert.Empty(t, ch.MovedTo)
	}
}

func TestBuildBatch_ConfigChange(t *testing.T) {
	events := map[string]pendingEvent{"/ws/.srcmodel.kdl": {op: opWrite}}
	w := &Watcher{opts: Options{ConfigNames: []string{".srcmodel.kdl"}}}
	assert.True(t, buildBatch(events, w.isConfig).ConfigChanged)
}

func TestWatcher_DeliversBatches(t *testing.T) {
	dir := filepath.ToSlash(t.TempDir())
	require.NoError(t, os.MkdirAll(dir+"/src/p", 0o755))
	require.NoError(t, os.MkdirAll(dir+"/src/.git", 0o755))

	var mu sync.Mutex
	changes := make(map[string]delta.RawChange)
	w, err := New(Options{Debounce: 20 * time.Millisecond, ConfigNames: []string{"srcmodel.toml"}}, func(b delta.Batch) {
		mu.Lock()
		defer mu.Unlock()
		for _, ch := range b.Changes {
			if _, ok := changes[ch.Path]; !ok {
				changes[ch.Path] = ch
			}
		}
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(dir))
	defer func() { require.NoError(t, w.Stop()) }()

	require.NoError(t, os.WriteFile(dir+"/src/p/A.java", []byte("class A {}"), 0o644))
	require.NoError(t, os.MkdirAll(dir+"/src/q", 0o755))
	require.NoError(t, os.WriteFile(dir+"/src/q/Q.java", []byte("class Q {}"), 0o644))
	require.NoError(t, os.WriteFile(dir+"/src/.git/HEAD", []byte("ref"), 0o644))

	has := func(p string) bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := changes[p]
		return ok
	}
	require.Eventually(t, func() bool {
		return has(dir+"/src/p/A.java") && has(dir+"/src/q") && has(dir+"/src/q/Q.java")
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, delta.ChangeAdded, changes[dir+"/src/p/A.java"].Kind)
	assert.True(t, changes[dir+"/src/q"].IsDir)
	_, sawGit := changes[dir+"/src/.git/HEAD"]
	mu.Unlock()
	assert.False(t, sawGit)

	stats := w.Stats()
	assert.True(t, stats.IsActive)
	assert.Positive(t, stats.Batches)
}
