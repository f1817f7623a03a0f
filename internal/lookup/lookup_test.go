package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/srcmodel/internal/builder"
	"github.com/standardbeagle/srcmodel/internal/cache"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
	"github.com/standardbeagle/srcmodel/internal/index"
	"github.com/standardbeagle/srcmodel/internal/roots"
	"github.com/standardbeagle/srcmodel/internal/structure"
	"github.com/standardbeagle/srcmodel/internal/workingcopy"
	"github.com/standardbeagle/srcmodel/internal/workspace"
)

const magic = "\xca\xfe\xba\xbe"

type fixture struct {
	ws      *workspace.Mem
	reg     *roots.Registry
	cache   *cache.ElementCache
	overlay *workingcopy.Overlay
	index   *index.Index
	engine  *Engine
	src     element.Handle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws := workspace.NewMem()
	files := map[string]string{
		"/ws/src/p/Widget.java":     "package p; public class Widget { int size; void grow(int by) {} static class Part { int n; } }",
		"/ws/src/p/Helpers.java":    "package p; class Helpers {} class Hidden {}",
		"/ws/src/p/Base.java":       "package p; class Base { int baseField; }",
		"/ws/src/p/Derived.java":    "package p; class Derived extends Base {}",
		"/ws/src/p/Cycle.java":      "package p; class Cycle extends Cycle {}",
		"/ws/src/p/util.java":       "package p; class util {}",
		"/ws/src/p/util/U.java":     "package p.util; class U {}",
		"/ws/src/g/shapes.go":       "package g\n\ntype Shape interface{ Area() float64 }\n\nfunc New() Shape { return nil }\n",
		"/ws/lib1/q/T.class":        magic,
		"/ws/lib1/q/D.class":        magic,
		"/ws/lib1/q/F.class":        magic,
		"/ws/lib2/q/T.class":        magic,
		"/ws/lib2/q/D.class":        magic,
		"/ws/lib3/q/T.class":        magic,
		"/ws/lib3/q/Outer.class":    magic,
		"/ws/lib3/q/Outer$1.class":  magic,
		"/ws/lib3/q/Outer$In.class": magic,
	}
	for p, content := range files {
		require.NoError(t, ws.WriteFile(p, []byte(content)))
	}

	reg := roots.New(roots.DefaultConventions())
	reg.Rebuild([]roots.ProjectConfig{{
		Name:     "app",
		Location: "/ws",
		Roots: []roots.RootConfig{
			{Path: "/ws/src", Entry: element.EntrySource},
			{Path: "/ws/lib1", Entry: element.EntryLibrary, Access: []roots.AccessRule{{Pattern: "q/**", Kind: roots.AccessForbidden}}},
			{Path: "/ws/lib2", Entry: element.EntryLibrary, Access: []roots.AccessRule{{Pattern: "q/**", Kind: roots.AccessDiscouraged}}},
			{Path: "/ws/lib3", Entry: element.EntryLibrary},
		},
	}})

	b := builder.NewDefault()
	t.Cleanup(b.Close)
	overlay := workingcopy.New(b, ws)
	c := cache.New(structure.New(reg, ws, b, overlay), cache.DefaultConfig())
	ix := index.New(reg, ws, b)
	require.NoError(t, ix.Rebuild(context.Background()))

	return &fixture{
		ws:      ws,
		reg:     reg,
		cache:   c,
		overlay: overlay,
		index:   ix,
		engine:  NewEngine(reg, c, overlay, ix),
		src:     element.ForProject("app").Child(element.KindRoot, "/ws/src"),
	}
}

func (f *fixture) lookup(t *testing.T, opts ...Option) *Lookup {
	t.Helper()
	l, err := f.engine.For("app", opts...)
	require.NoError(t, err)
	return l
}

func TestEngine_UnknownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.For("nope")
	assert.True(t, errors.IsOutOfScope(err))
}

func TestFindType_SourceAndMembers(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	a, ok := l.FindType(ctx, "Widget", "p", AcceptAll, true)
	require.True(t, ok)
	unit := f.src.Child(element.KindPackage, "p").Child(element.KindUnit, "Widget.java")
	assert.Equal(t, unit.Child(element.KindType, "Widget"), a.Element)
	assert.Equal(t, "p.Widget", a.Qualified)
	assert.Nil(t, a.Restriction)
	assert.False(t, a.FromWorkingCopy)

	a, ok = l.FindType(ctx, "Widget.Part", "p", AcceptAll, true)
	require.True(t, ok)
	assert.Equal(t, "Part", a.Element.Name())
	assert.Equal(t, "p.Widget.Part", a.Qualified)

	_, ok = l.FindType(ctx, "Widget", "p", AcceptInterfaces, true)
	assert.False(t, ok)
	_, ok = l.FindType(ctx, "Missing", "p", AcceptAll, true)
	assert.False(t, ok)
	_, ok = l.FindType(ctx, "Widget", "nowhere", AcceptAll, true)
	assert.False(t, ok)
}

func TestFindType_GoUnits(t *testing.T) {
	f := newFixture(t)
	a, ok := f.lookup(t).FindType(context.Background(), "Shape", "g", AcceptInterfaces, false)
	require.True(t, ok)
	u, _ := element.Unit(a.Element)
	assert.Equal(t, "shapes.go", u.Name())
}

func TestFindType_LowerCaseNameShadowedByPackage(t *testing.T) {
	f := newFixture(t)
	_, ok := f.lookup(t).FindType(context.Background(), "util", "p", AcceptAll, false)
	assert.False(t, ok)
}

func TestFindType_SecondaryIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, ok := f.lookup(t).FindType(ctx, "Hidden", "p", AcceptAll, false)
	require.True(t, ok)
	u, _ := element.Unit(a.Element)
	assert.Equal(t, "Helpers.java", u.Name())

	_, ok = f.lookup(t, WithoutSecondary()).FindType(ctx, "Hidden", "p", AcceptAll, false)
	assert.False(t, ok)
}

func TestFindType_RestrictionOrdering(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		check    bool
		wantRoot string
		wantKind roots.AccessKind
		wantNil  bool
	}{
		{"T", false, "/ws/lib1", 0, true},
		{"T", true, "/ws/lib3", 0, true},
		{"D", true, "/ws/lib2", roots.AccessDiscouraged, false},
		{"F", true, "/ws/lib1", roots.AccessForbidden, false},
	}
	for _, tt := range tests {
		a, ok := l.FindType(ctx, tt.name, "q", AcceptAll, tt.check)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.wantRoot, a.Root.Path, tt.name)
		if tt.wantNil {
			assert.Nil(t, a.Restriction, tt.name)
		} else {
			require.NotNil(t, a.Restriction, tt.name)
			assert.Equal(t, tt.wantKind, a.Restriction.Rule.Kind, tt.name)
		}
	}
}

func TestFindType_NestedArtifacts(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	a, ok := l.FindType(ctx, "Outer.In", "q", AcceptAll, false)
	require.True(t, ok)
	u, _ := element.Unit(a.Element)
	assert.Equal(t, "Outer$In.class", u.Name())
	assert.Equal(t, "q.Outer.In", a.Qualified)

	_, ok = l.FindType(ctx, "Outer.1", "q", AcceptAll, false)
	assert.False(t, ok, "synthetic types are hidden")

	a, ok = l.FindBinding(ctx, "q.Outer.1")
	require.True(t, ok)
	assert.Equal(t, "1", a.Element.Name())
}

func TestFindType_WorkingCopyWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unit := f.src.Child(element.KindPackage, "p").Child(element.KindUnit, "Widget.java")
	_, err := f.overlay.Become(ctx, unit, workingcopy.PrimaryOwner, []byte("package p; public class Widget { long size2; }"))
	require.NoError(t, err)

	l := f.lookup(t)
	a, ok := l.FindType(ctx, "Widget", "p", AcceptAll, true)
	require.True(t, ok)
	assert.True(t, a.FromWorkingCopy)

	field, ok := l.FindField(ctx, "Widget", "p", "size2")
	require.True(t, ok)
	assert.True(t, field.FromWorkingCopy)
	_, ok = l.FindField(ctx, "Widget", "p", "size")
	assert.False(t, ok)
	_, ok = l.FindType(ctx, "Widget.Part", "p", AcceptAll, true)
	assert.False(t, ok)
}

func TestFindType_OwnerWorkingCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	unit := f.src.Child(element.KindPackage, "p").Child(element.KindUnit, "Fresh.java")
	_, err := f.overlay.Become(ctx, unit, "alice", []byte("package p; class Fresh {}"))
	require.NoError(t, err)

	_, ok := f.lookup(t).FindType(ctx, "Fresh", "p", AcceptAll, false)
	assert.False(t, ok)
	a, ok := f.lookup(t, WithOwner("alice")).FindType(ctx, "Fresh", "p", AcceptAll, false)
	require.True(t, ok)
	assert.True(t, a.FromWorkingCopy)
}

func TestFindType_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := f.lookup(t).FindType(ctx, "Widget", "p", AcceptAll, false)
	assert.False(t, ok)
}

func TestFindTypes_Prefix(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	qualified := func(as []Answer) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.Qualified)
		}
		return out
	}
	assert.Equal(t, []string{"p.Widget"}, qualified(l.FindTypes(ctx, "wi", "p", AcceptAll)))
	assert.Equal(t, []string{"p.Widget.Part"}, qualified(l.FindTypes(ctx, "widget.pa", "p", AcceptAll)))
	assert.Equal(t, []string{"q.Outer"}, qualified(l.FindTypes(ctx, "o", "q", AcceptAll)))
	assert.Equal(t, []string{"q.Outer.In"}, qualified(l.FindTypes(ctx, "outer.", "q", AcceptAll)))
	assert.Equal(t, []string{"q.T"}, qualified(l.FindTypes(ctx, "t", "q", AcceptAll)))
}

func TestFindField_Inherited(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	a, ok := l.FindField(ctx, "Derived", "p", "baseField")
	require.True(t, ok)
	parent, _ := a.Element.Parent()
	assert.Equal(t, "Base", parent.Name())

	_, ok = l.FindField(ctx, "Cycle", "p", "nothing")
	assert.False(t, ok)
}

func TestFindFunction(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	a, ok := l.FindFunction(ctx, "Widget", "p", "grow", 1)
	require.True(t, ok)
	assert.Equal(t, element.KindFunction, a.Element.Kind())
	_, ok = l.FindFunction(ctx, "Widget", "p", "grow", 2)
	assert.False(t, ok)
	_, ok = l.FindFunction(ctx, "Widget", "p", "grow", -1)
	assert.True(t, ok)

	a, ok = l.FindFunction(ctx, "", "g", "New", 0)
	require.True(t, ok)
	assert.Equal(t, "g.New", a.Qualified)
}

func TestFindPackageAndBinding(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	a, ok := l.FindPackage(ctx, "q")
	require.True(t, ok)
	assert.Equal(t, "/ws/lib1", a.Root.Path)
	_, ok = l.FindPackage(ctx, "no.such")
	assert.False(t, ok)

	a, ok = l.FindBinding(ctx, "p.util")
	require.True(t, ok)
	assert.Equal(t, element.KindPackage, a.Element.Kind())

	a, ok = l.FindBinding(ctx, "p.Widget.Part")
	require.True(t, ok)
	assert.Equal(t, "Part", a.Element.Name())

	a, ok = l.FindBinding(ctx, "p.Widget.size")
	require.True(t, ok)
	assert.Equal(t, element.KindField, a.Element.Kind())

	_, ok = l.FindBinding(ctx, "p.Widget.nothing")
	assert.False(t, ok)
}

func TestSuggest(t *testing.T) {
	f := newFixture(t)
	got := f.lookup(t).Suggest(context.Background(), "Widgt", "p", 3)
	require.NotEmpty(t, got)
	assert.Equal(t, "Widget", got[0].Element.Name())
	assert.Empty(t, f.lookup(t).Suggest(context.Background(), "Zzzzzz", "p", 3))
}

func TestClasspathFollowsRegistry(t *testing.T) {
	f := newFixture(t)
	l := f.lookup(t)
	ctx := context.Background()

	_, ok := l.FindType(ctx, "Outer", "q", AcceptAll, false)
	require.True(t, ok)

	f.reg.Rebuild([]roots.ProjectConfig{{
		Name:     "app",
		Location: "/ws",
		Roots:    []roots.RootConfig{{Path: "/ws/src", Entry: element.EntrySource}},
	}})
	_, ok = l.FindType(ctx, "Outer", "q", AcceptAll, false)
	assert.False(t, ok)
}
