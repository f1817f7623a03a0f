package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
)

type fakeLoader struct {
	mu       sync.Mutex
	children map[element.Handle][]element.Handle
	decls    map[element.Handle][]element.Decl
	loads    map[element.Handle]int
	released []element.Handle
	delay    time.Duration
	hook     func(ctx context.Context, h element.Handle)
}

func (f *fakeLoader) Load(ctx context.Context, h element.Handle) (map[element.Handle]*element.Info, error) {
	f.mu.Lock()
	f.loads[h]++
	kids, known := f.children[h]
	decls, isUnit := f.decls[h]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, h)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("load", err)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if !known && !isUnit {
		return nil, errors.NewNotPresent("load", h.String(), nil)
	}
	out := make(map[element.Handle]*element.Info)
	info := &element.Info{Handle: h, Children: kids, StructureKnown: true}
	if isUnit {
		info.Children = element.Materialize(h, decls, time.Time{}, out)
	}
	out[h] = info
	return out, nil
}

func (f *fakeLoader) Release(h element.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, h)
}

func (f *fakeLoader) loadCount(h element.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[h]
}

var (
	project = element.ForProject("p")
	root    = project.Child(element.KindRoot, "/src")
	pkgA    = root.Child(element.KindPackage, "a")
	pkgB    = root.Child(element.KindPackage, "b")
	unitA   = pkgA.Child(element.KindUnit, "A.java")
	unitB   = pkgA.Child(element.KindUnit, "B.java")
	unitC   = pkgB.Child(element.KindUnit, "C.java")
	typeA   = unitA.Child(element.KindType, "A")
)

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		children: map[element.Handle][]element.Handle{
			element.Model: {project},
			project:       {root},
			root:          {pkgA, pkgB},
			pkgA:          {unitA, unitB},
			pkgB:          {unitC},
		},
		decls: map[element.Handle][]element.Decl{
			unitA: {{Kind: element.KindType, Name: "A", Children: []element.Decl{
				{Kind: element.KindField, Name: "x"},
				{Kind: element.KindFunction, Name: "run"},
				{Kind: element.KindFunction, Name: "run"},
			}}},
			unitB: {{Kind: element.KindType, Name: "B"}},
			unitC: {{Kind: element.KindType, Name: "C"}},
		},
		loads: make(map[element.Handle]int),
	}
}

func TestOpen_BuildsParentChain(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, DefaultConfig())
	ctx := context.Background()

	info, err := c.Open(ctx, unitA)
	require.NoError(t, err)
	assert.Equal(t, unitA, info.Handle)

	for _, h := range []element.Handle{element.Model, project, root, pkgA, unitA, typeA} {
		assert.True(t, c.IsOpen(h), "%s should be open", h)
	}
	assert.False(t, c.IsOpen(pkgB))

	// Every child of an open element has that element as its parent
	for h, info := range c.Snapshot() {
		for _, kid := range info.Children {
			parent, ok := kid.Parent()
			require.True(t, ok)
			assert.Equal(t, h, parent)
		}
	}

	_, err = c.Open(ctx, unitA)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loadCount(unitA))
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestOpen_Declarations(t *testing.T) {
	c := New(newFakeLoader(), DefaultConfig())
	ctx := context.Background()

	run2 := typeA.ChildN(element.KindFunction, "run", 2)
	info, err := c.Open(ctx, run2)
	require.NoError(t, err)
	assert.Equal(t, run2, info.Handle)
	assert.True(t, c.IsOpen(unitA))

	_, err = c.Open(ctx, typeA.ChildN(element.KindFunction, "run", 3))
	assert.True(t, errors.IsNotPresent(err))
}

func TestOpen_NotPresent(t *testing.T) {
	c := New(newFakeLoader(), DefaultConfig())

	_, err := c.Open(context.Background(), pkgA.Child(element.KindUnit, "Gone.java"))
	require.Error(t, err)
	assert.True(t, errors.IsNotPresent(err))

	_, err = c.Open(context.Background(), element.Handle{})
	assert.True(t, errors.IsNotPresent(err))
}

func TestOpen_Cancelled(t *testing.T) {
	c := New(newFakeLoader(), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Open(ctx, unitA)
	assert.True(t, errors.IsCancelled(err))
	assert.Equal(t, 0, c.Len())
}

func TestOpen_ReentrantBuild(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, DefaultConfig())

	var reentrantErr error
	var stateDuringBuild State
	loader.hook = func(ctx context.Context, h element.Handle) {
		if h != unitB {
			return
		}
		stateDuringBuild = c.State(unitB)
		// A sibling can be opened from inside the build.
		_, err := c.Open(ctx, unitA)
		assert.NoError(t, err)
		_, reentrantErr = c.Open(ctx, unitB.Child(element.KindType, "B"))
	}

	_, err := c.Open(context.Background(), unitB)
	require.NoError(t, err)
	assert.Equal(t, StateBuilding, stateDuringBuild)
	assert.ErrorIs(t, reentrantErr, errors.ErrReentrant)
	assert.Equal(t, StateIdle, c.State(unitB))
	assert.Equal(t, 1, loader.loadCount(unitB))
}

func TestClose_ClosesDescendants(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, DefaultConfig())
	ctx := context.Background()

	_, err := c.Open(ctx, unitA)
	require.NoError(t, err)
	_, err = c.Open(ctx, unitC)
	require.NoError(t, err)

	c.Close(pkgA)
	for h := range c.Snapshot() {
		assert.False(t, pkgA == h || pkgA.IsAncestorOf(h), "%s still open", h)
	}
	assert.True(t, c.IsOpen(unitC))
	assert.ElementsMatch(t, []element.Handle{pkgA, unitA}, loader.released)

	// Closing again is a no-op
	c.Close(pkgA)

	c.Invalidate(unitC)
	assert.False(t, c.IsOpen(unitC))
	_, err = c.Open(ctx, unitC)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loadCount(unitC))
}

func TestRefresh(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, DefaultConfig())
	ctx := context.Background()

	_, err := c.Open(ctx, unitA)
	require.NoError(t, err)
	_, err = c.Open(ctx, unitB)
	require.NoError(t, err)

	loader.mu.Lock()
	loader.children[pkgA] = []element.Handle{unitA}
	loader.decls[unitA] = []element.Decl{{Kind: element.KindType, Name: "A2"}}
	loader.mu.Unlock()

	old, updated, err := c.Refresh(ctx, pkgA)
	require.NoError(t, err)
	assert.Len(t, old.Children, 2)
	assert.Len(t, updated.Children, 1)
	assert.True(t, c.IsOpen(unitA))
	assert.False(t, c.IsOpen(unitB))

	_, updated, err = c.Refresh(ctx, unitA)
	require.NoError(t, err)
	assert.Equal(t, []element.Handle{unitA.Child(element.KindType, "A2")}, updated.Children)
	assert.False(t, c.IsOpen(typeA))
	assert.True(t, c.IsOpen(unitA.Child(element.KindType, "A2")))

	old, updated, err = c.Refresh(ctx, unitC)
	require.NoError(t, err)
	assert.Nil(t, old)
	assert.Nil(t, updated)
}

func TestEviction_RespectsPins(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, Config{Capacity: 5})
	ctx := context.Background()

	_, err := c.Open(ctx, unitA)
	require.NoError(t, err)
	c.Pin(unitA)
	assert.True(t, c.IsPinned(unitA))

	_, err = c.Open(ctx, unitC)
	require.NoError(t, err)
	_, err = c.Open(ctx, unitB)
	require.NoError(t, err)

	// The pinned unit and its whole ancestry survive
	for _, h := range []element.Handle{element.Model, project, root, pkgA, unitA} {
		assert.True(t, c.IsOpen(h), "%s should be open", h)
	}
	assert.Positive(t, c.Stats().Evictions)

	c.Unpin(unitA)
	assert.False(t, c.IsPinned(unitA))
	// Unpin of an unpinned handle is a no-op
	c.Unpin(unitA)
}

func TestOpen_ConcurrentSingleBuild(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 10 * time.Millisecond
	c := New(loader, DefaultConfig())

	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Open(context.Background(), unitC); err != nil {
				atomic.AddInt32(&failures, 1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&failures))
	assert.Equal(t, 1, loader.loadCount(unitC))
	assert.Equal(t, 1, loader.loadCount(element.Model))
}

func TestOpen_JoinedBuildCancelledByOtherCaller(t *testing.T) {
	loader := newFakeLoader()
	c := New(loader, DefaultConfig())
	_, err := c.Open(context.Background(), pkgB)
	require.NoError(t, err)

	started := make(chan struct{})
	var calls int32
	loader.hook = func(ctx context.Context, h element.Handle) {
		if h != unitC || atomic.AddInt32(&calls, 1) > 1 {
			return
		}
		close(started)
		<-ctx.Done()
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.Open(ctxA, unitC)
		errA <- err
	}()
	<-started

	type result struct {
		info *element.Info
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		info, err := c.Open(context.Background(), unitC)
		resB <- result{info, err}
	}()
	// Give the second caller time to join the running build.
	time.Sleep(20 * time.Millisecond)
	cancelA()

	assert.True(t, errors.IsCancelled(<-errA))
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, unitC, b.info.Handle)
	assert.True(t, c.IsOpen(unitC))
}

func TestClear(t *testing.T) {
	c := New(newFakeLoader(), DefaultConfig())
	_, err := c.Open(context.Background(), unitA)
	require.NoError(t, err)
	require.Positive(t, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Equal(t, "poor", c.Stats().Status)
}
