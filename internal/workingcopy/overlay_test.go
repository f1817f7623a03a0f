package workingcopy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

var (
	pkg  = element.ForProject("p").Child(element.KindRoot, "/src").Child(element.KindPackage, "p")
	unit = pkg.Child(element.KindUnit, "A.java")
)

func newOverlay(t *testing.T) (*Overlay, *workspace.Mem) {
	t.Helper()
	ws := workspace.NewMem()
	require.NoError(t, ws.WriteFile("/src/p/A.java", []byte("package p; class A {}")))
	b := builder.NewDefault()
	t.Cleanup(b.Close)
	return New(b, ws), ws
}

func TestBecome_ReadsPersistedContent(t *testing.T) {
	o, _ := newOverlay(t)
	ctx := context.Background()

	wc, err := o.Become(ctx, unit, PrimaryOwner, nil)
	require.NoError(t, err)
	assert.True(t, wc.Primary())
	assert.False(t, wc.Unsaved)
	assert.Equal(t, []element.Handle{unit.Child(element.KindType, "A")}, wc.Children)

	buf, ok := o.Buffer(unit)
	require.True(t, ok)
	assert.Equal(t, "package p; class A {}", string(buf))
	assert.True(t, o.IsPinned(unit))
	assert.Equal(t, []element.Handle{unit}, o.PrimaryUnits(pkg))

	_, err = o.Become(ctx, pkg, PrimaryOwner, nil)
	assert.Error(t, err)
}

func TestUpdate_RebuildsAndMarksUnsaved(t *testing.T) {
	o, _ := newOverlay(t)
	ctx := context.Background()

	_, err := o.Become(ctx, unit, PrimaryOwner, nil)
	require.NoError(t, err)

	prev, next, err := o.Update(ctx, unit, PrimaryOwner, []byte("package p; class B {}"))
	require.NoError(t, err)
	assert.Equal(t, "A", prev.Children[0].Name())
	assert.Equal(t, "B", next.Children[0].Name())
	assert.True(t, next.Unsaved)
	assert.Equal(t, prev.Version+1, next.Version)

	h, wc, ok := o.FindType(pkg, "B", PrimaryOwner)
	require.True(t, ok)
	assert.Equal(t, unit.Child(element.KindType, "B"), h)
	assert.Same(t, next, wc)
	_, _, ok = o.FindType(pkg, "A", PrimaryOwner)
	assert.False(t, ok)

	_, _, err = o.Update(ctx, pkg.Child(element.KindUnit, "Z.java"), PrimaryOwner, nil)
	assert.True(t, errors.IsNotPresent(err))
}

func TestOwnerShadowsPrimary(t *testing.T) {
	o, _ := newOverlay(t)
	ctx := context.Background()

	_, err := o.Become(ctx, unit, PrimaryOwner, []byte("class A {}"))
	require.NoError(t, err)
	_, err = o.Become(ctx, unit, "editor-2", []byte("class Z {}"))
	require.NoError(t, err)

	_, _, ok := o.FindType(pkg, "Z", "editor-2")
	assert.True(t, ok)
	_, _, ok = o.FindType(pkg, "A", "editor-2")
	assert.False(t, ok)
	_, _, ok = o.FindType(pkg, "A", "someone-else")
	assert.True(t, ok)

	// Non-primary buffers never feed the persisted model
	buf, _ := o.Buffer(unit)
	assert.Equal(t, "class A {}", string(buf))
	assert.Len(t, o.Types(pkg, "editor-2"), 1)
}

func TestDiscard_CountsUses(t *testing.T) {
	o, _ := newOverlay(t)
	ctx := context.Background()

	_, err := o.Become(ctx, unit, PrimaryOwner, nil)
	require.NoError(t, err)
	_, err = o.Become(ctx, unit, PrimaryOwner, nil)
	require.NoError(t, err)

	_, removed := o.Discard(unit, PrimaryOwner)
	assert.False(t, removed)
	assert.True(t, o.IsPinned(unit))

	wc, removed := o.Discard(unit, PrimaryOwner)
	assert.True(t, removed)
	assert.Equal(t, unit, wc.Unit)
	assert.False(t, o.IsPinned(unit))
	assert.Zero(t, o.Len())

	_, removed = o.Discard(unit, PrimaryOwner)
	assert.False(t, removed)
}

func TestCommit_WritesBuffer(t *testing.T) {
	o, ws := newOverlay(t)
	ctx := context.Background()

	_, err := o.Become(ctx, unit, PrimaryOwner, nil)
	require.NoError(t, err)
	_, _, err = o.Update(ctx, unit, PrimaryOwner, []byte("package p; class A { int x; }"))
	require.NoError(t, err)

	saved, err := o.Commit(ctx, unit, PrimaryOwner)
	require.NoError(t, err)
	assert.False(t, saved.Unsaved)

	data, err := ws.ReadFile("/src/p/A.java")
	require.NoError(t, err)
	assert.Equal(t, "package p; class A { int x; }", string(data))

	_, err = o.Commit(ctx, pkg.Child(element.KindUnit, "Nope.java"), PrimaryOwner)
	assert.True(t, errors.IsNotPresent(err))
}

func TestBecome_MalformedBuffer(t *testing.T) {
	o, _ := newOverlay(t)

	wc, err := o.Become(context.Background(), unit, PrimaryOwner, []byte("class {"))
	require.NoError(t, err)
	assert.False(t, wc.Known)
	assert.Empty(t, wc.Children)
	assert.NotEmpty(t, wc.Problems)
}
