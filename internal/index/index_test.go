package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

// TestMain checks that parallel rebuilds leave no goroutines behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newIndex(t *testing.T) (*Index, *workspace.Mem) {
	t.Helper()
	ws := workspace.NewMem()
	require.NoError(t, ws.WriteFile("/ws/src/p/Widget.java", []byte("package p; public class Widget {} class Helper { int size; }")))
	require.NoError(t, ws.WriteFile("/ws/src/q/Other.java", []byte("package q; class Other { class Helper {} }")))
	require.NoError(t, ws.WriteFile("/ws/lib/r/Lib$Inner.class", []byte{0xca, 0xfe}))
	require.NoError(t, ws.WriteFile("/ws/src/p/readme.md", []byte("# p")))

	reg := roots.New(roots.DefaultConventions())
	reg.Rebuild([]roots.ProjectConfig{{
		Name:     "app",
		Location: "/ws",
		Roots: []roots.RootConfig{
			{Path: "/ws/src", Entry: element.EntrySource},
			{Path: "/ws/lib", Entry: element.EntryLibrary},
		},
	}})
	b := builder.NewDefault()
	t.Cleanup(b.Close)
	return New(reg, ws, b), ws
}

func qualified(locs []Location) []string {
	out := make([]string, len(locs))
	for i, l := range locs {
		out[i] = l.Qualified
	}
	return out
}

func TestRebuild_IndexesEveryDeclaration(t *testing.T) {
	ix, _ := newIndex(t)
	require.NoError(t, ix.Rebuild(context.Background()))

	helpers := ix.LookupByName("Helper")
	assert.ElementsMatch(t, []string{"p.Helper", "q.Other.Helper"}, qualified(helpers))
	for _, l := range helpers {
		if l.Qualified == "p.Helper" {
			assert.True(t, l.TopLevel)
			assert.Equal(t, "/ws/src/p/Widget.java", l.Path)
			assert.Equal(t, "app", l.Project())
			assert.Equal(t, "p", l.Package().Name())
		} else {
			assert.False(t, l.TopLevel)
		}
	}

	assert.Equal(t, []string{"r.Inner"}, qualified(ix.LookupByName("Inner")))
	assert.Equal(t, []string{"p.Helper.size"}, qualified(ix.LookupByName("size")))
	assert.Equal(t, 3, ix.Stats().Files)
	assert.Equal(t, []string{"Helper"}, ix.Names("hel"))
}

func TestIndexChange_SkipsUnchangedContent(t *testing.T) {
	ix, ws := newIndex(t)
	ctx := context.Background()
	ix.IndexAdd(ctx, "/ws/src/p/Widget.java")
	assert.Equal(t, int64(1), ix.Stats().Indexed)

	ix.IndexChange(ctx, "/ws/src/p/Widget.java")
	assert.Equal(t, int64(1), ix.Stats().Skipped)

	require.NoError(t, ws.WriteFile("/ws/src/p/Widget.java", []byte("package p; public class Widget {}")))
	ix.IndexChange(ctx, "/ws/src/p/Widget.java")
	assert.Equal(t, int64(2), ix.Stats().Indexed)
	assert.Empty(t, ix.LookupByName("Helper"))
	assert.Len(t, ix.LookupByName("Widget"), 1)
}

func TestIndexRemove_Subtree(t *testing.T) {
	ix, _ := newIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Rebuild(ctx))

	ix.IndexRemove(ctx, "/ws/src/q")
	assert.Equal(t, []string{"p.Helper"}, qualified(ix.LookupByName("Helper")))
	assert.Empty(t, ix.LookupByName("Other"))

	// Resources and paths outside every root are ignored
	ix.IndexAdd(ctx, "/ws/src/p/readme.md")
	ix.IndexAdd(ctx, "/elsewhere/X.java")
	assert.Equal(t, 2, ix.Stats().Files)
}

func TestIndexAdd_Folder(t *testing.T) {
	ix, ws := newIndex(t)
	ctx := context.Background()
	require.NoError(t, ws.WriteFile("/ws/src/n/m/Deep.java", []byte("package n.m; class Deep {}")))

	ix.IndexAdd(ctx, "/ws/src/n")
	assert.Equal(t, []string{"n.m.Deep"}, qualified(ix.LookupByName("Deep")))
}

func TestRebuild_Cancelled(t *testing.T) {
	ix, _ := newIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, ix.Rebuild(ctx))
}
