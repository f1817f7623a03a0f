// Package cache holds the shared, bounded Handle -> Info map. Infos are built
// lazily by a Loader when first opened and dropped on close, invalidation or
// eviction.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/srcmodel/internal/debug"
	"github.com/standardbeagle/srcmodel/internal/element"
	"github.com/standardbeagle/srcmodel/internal/errors"
)

// DefaultCapacity is the soft limit on open openable elements.
const DefaultCapacity = 5000

// Loader builds the structure of one openable element. The returned map must
// contain h; loaders of units and artifacts also return their declarations.
// A loader reports a vanished source with a NotPresent error and malformed
// content with StructureKnown=false, never with an error.
type Loader interface {
	Load(ctx context.Context, h element.Handle) (map[element.Handle]*element.Info, error)
}

// Releaser is implemented by loaders holding per-element buffers.
type Releaser interface {
	Release(h element.Handle)
}

// State tells whether an element's structure is being built right now.
type State uint8

const (
	StateIdle State = iota
	StateBuilding
)

func (s State) String() string {
	if s == StateBuilding {
		return "building"
	}
	return "idle"
}

// Config defines cache options.
type Config struct {
	Capacity int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

type entry struct {
	info *element.Info
	lru  *list.Element // nil for declarations
}

// ElementCache maps handles to their Infos. All mutation happens under one
// lock; readers see either the old or the new Info of a handle, never a
// partially built one. Loader calls run outside the lock.
type ElementCache struct {
	mu      sync.RWMutex
	entries map[element.Handle]*entry
	// kids indexes the open children of every open element.
	kids map[element.Handle]map[element.Handle]struct{}
	lru  *list.List

	pins     map[element.Handle]int
	pinBelow map[element.Handle]int // ancestors of pinned elements
	inflight map[element.Handle]int // elements mid-open, ancestors included
	building map[element.Handle]int

	// stale marks builds invalidated while still running.
	stale map[element.Handle]bool

	loader   Loader
	group    singleflight.Group
	capacity int

	hits      int64
	misses    int64
	builds    int64
	evictions int64
	createdAt time.Time
}

// New creates a cache backed by loader.
func New(loader Loader, config Config) *ElementCache {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	return &ElementCache{
		entries:   make(map[element.Handle]*entry),
		kids:      make(map[element.Handle]map[element.Handle]struct{}),
		lru:       list.New(),
		pins:      make(map[element.Handle]int),
		pinBelow:  make(map[element.Handle]int),
		inflight:  make(map[element.Handle]int),
		building:  make(map[element.Handle]int),
		stale:     make(map[element.Handle]bool),
		loader:    loader,
		capacity:  config.Capacity,
		createdAt: time.Now(),
	}
}

type buildChain struct {
	h    element.Handle
	next *buildChain
}

type chainKey struct{}

func withBuild(ctx context.Context, h element.Handle) context.Context {
	prev, _ := ctx.Value(chainKey{}).(*buildChain)
	return context.WithValue(ctx, chainKey{}, &buildChain{h: h, next: prev})
}

func inBuild(ctx context.Context, h element.Handle) bool {
	for c, _ := ctx.Value(chainKey{}).(*buildChain); c != nil; c = c.next {
		if c.h == h {
			return true
		}
	}
	return false
}

// Open returns the Info of h, building it and every closed ancestor first.
// Declarations are materialized by opening their enclosing unit or artifact.
// Loaders that open other elements while building must pass on the context
// they were given; asking for an element whose build is already on that
// context's chain fails with a Reentrant error instead of recursing. A caller
// that joined a build cancelled by another caller's context builds again.
func (c *ElementCache) Open(ctx context.Context, h element.Handle) (*element.Info, error) {
	if h.IsZero() {
		return nil, errors.NewNotPresent("open", h.String(), nil)
	}
	if info, ok := c.lookup(h); ok {
		atomic.AddInt64(&c.hits, 1)
		return info, nil
	}
	atomic.AddInt64(&c.misses, 1)
	if err := errors.CheckContext(ctx, "open"); err != nil {
		return nil, err
	}

	if !h.Kind().IsOpenable() {
		unit, ok := element.Unit(h)
		if !ok {
			return nil, errors.NewNotPresent("open", h.String(), nil)
		}
		if _, err := c.Open(ctx, unit); err != nil {
			return nil, err
		}
		if info, ok := c.lookup(h); ok {
			return info, nil
		}
		return nil, errors.NewNotPresent("open", h.String(), nil)
	}

	if inBuild(ctx, h) {
		return nil, errors.NewReentrant("open", h.String())
	}

	// Keep h and its ancestors out of eviction until the caller has it.
	c.mu.Lock()
	c.markInflightLocked(h, 1)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.markInflightLocked(h, -1)
		c.mu.Unlock()
	}()

	if parent, ok := h.Parent(); ok {
		pinfo, err := c.Open(ctx, parent)
		if err != nil {
			return nil, err
		}
		if !pinfo.HasChild(h) {
			return nil, errors.NewNotPresent("open", h.String(), nil)
		}
	}

	for {
		led := false
		v, err, _ := c.group.Do(h.Key(), func() (interface{}, error) {
			led = true
			return c.build(ctx, h)
		})
		if err != nil && !led && errors.IsCancelled(err) && ctx.Err() == nil {
			// The build we joined was cancelled by its own caller, not ours.
			debug.LogCache("retrying cancelled shared build of %s\n", h)
			continue
		}
		if err != nil {
			return nil, err
		}
		return v.(*element.Info), nil
	}
}

func (c *ElementCache) build(ctx context.Context, h element.Handle) (*element.Info, error) {
	c.mu.Lock()
	if e, ok := c.entries[h]; ok {
		c.mu.Unlock()
		return e.info, nil
	}
	c.building[h]++
	c.mu.Unlock()

	atomic.AddInt64(&c.builds, 1)
	loaded, err := c.loader.Load(withBuild(ctx, h), h)

	c.mu.Lock()
	stale := c.finishBuildLocked(h)

	if err != nil {
		c.mu.Unlock()
		debug.LogCache("build %s failed: %v\n", h, err)
		return nil, err
	}
	info, ok := loaded[h]
	if !ok || info == nil {
		c.mu.Unlock()
		return nil, errors.NewInvalidStructure("open", h.String(), fmt.Errorf("loader returned no info"))
	}

	if stale || !c.parentOpenLocked(h) {
		// Invalidated or orphaned while building; hand the result out uncached.
		c.mu.Unlock()
		debug.LogCache("discarding stale build of %s\n", h)
		return info, nil
	}
	c.insertLocked(h, loaded)
	released := c.evictLocked()
	c.mu.Unlock()
	c.release(released)
	return info, nil
}

func (c *ElementCache) finishBuildLocked(h element.Handle) (stale bool) {
	c.building[h]--
	if c.building[h] > 0 {
		return c.stale[h]
	}
	delete(c.building, h)
	stale = c.stale[h]
	delete(c.stale, h)
	return stale
}

func (c *ElementCache) lookup(h element.Handle) (*element.Info, bool) {
	c.mu.RLock()
	e, ok := c.entries[h]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.lru != nil {
		c.mu.Lock()
		if cur, still := c.entries[h]; still && cur == e {
			c.lru.MoveToFront(e.lru)
		}
		c.mu.Unlock()
	}
	return e.info, true
}

func (c *ElementCache) parentOpenLocked(h element.Handle) bool {
	parent, ok := h.Parent()
	if !ok {
		return true
	}
	_, open := c.entries[parent]
	return open
}

func (c *ElementCache) markInflightLocked(h element.Handle, delta int) {
	for cur, ok := h, true; ok; cur, ok = cur.Parent() {
		c.inflight[cur] += delta
		if c.inflight[cur] <= 0 {
			delete(c.inflight, cur)
		}
	}
}

// insertLocked stores the loaded Infos of h, replacing any previous ones.
func (c *ElementCache) insertLocked(h element.Handle, loaded map[element.Handle]*element.Info) {
	for hh, info := range loaded {
		if old, ok := c.entries[hh]; ok {
			// Entries are immutable once published.
			c.entries[hh] = &entry{info: info, lru: old.lru}
			continue
		}
		e := &entry{info: info}
		if hh.Kind().IsOpenable() {
			e.lru = c.lru.PushFront(hh)
		}
		c.entries[hh] = e
		if parent, ok := hh.Parent(); ok {
			set := c.kids[parent]
			if set == nil {
				set = make(map[element.Handle]struct{})
				c.kids[parent] = set
			}
			set[hh] = struct{}{}
		}
	}
	debug.LogCache("opened %s (%d infos)\n", h, len(loaded))
}

// Close removes the Info of h and of every open descendant. Loaders holding
// buffers are told to release them. Closing an element that is not open is
// a no-op.
func (c *ElementCache) Close(h element.Handle) {
	c.mu.Lock()
	if c.building[h] > 0 {
		c.stale[h] = true
	}
	released := c.closeLocked(h, nil)
	c.mu.Unlock()
	c.release(released)
}

// Invalidate drops the Info of h so that the next Open rebuilds it from the
// current source.
func (c *ElementCache) Invalidate(h element.Handle) {
	c.Close(h)
}

func (c *ElementCache) closeLocked(h element.Handle, released []element.Handle) []element.Handle {
	e, ok := c.entries[h]
	if !ok {
		return released
	}
	for kid := range c.kids[h] {
		released = c.closeLocked(kid, released)
	}
	delete(c.kids, h)
	if parent, ok := h.Parent(); ok {
		if set := c.kids[parent]; set != nil {
			delete(set, h)
			if len(set) == 0 {
				delete(c.kids, parent)
			}
		}
	}
	if e.lru != nil {
		c.lru.Remove(e.lru)
		released = append(released, h)
	}
	delete(c.entries, h)
	return released
}

func (c *ElementCache) release(handles []element.Handle) {
	r, ok := c.loader.(Releaser)
	if !ok {
		return
	}
	for _, h := range handles {
		r.Release(h)
	}
}

// Refresh rebuilds an open element in place. Open children still listed by
// the new Info stay open; vanished ones are closed. Declarations below the
// element are always replaced wholesale. It returns the Info before and after
// the rebuild; when h is not open nothing happens and both are nil.
func (c *ElementCache) Refresh(ctx context.Context, h element.Handle) (old, updated *element.Info, err error) {
	c.mu.RLock()
	e, ok := c.entries[h]
	if ok {
		old = e.info
	}
	c.mu.RUnlock()
	if !ok {
		return nil, nil, nil
	}
	if !h.Kind().IsOpenable() {
		return old, nil, errors.NewInvalidStructure("refresh", h.String(), fmt.Errorf("%s is not openable", h.Kind()))
	}
	if inBuild(ctx, h) {
		return nil, nil, errors.NewReentrant("refresh", h.String())
	}

	c.mu.Lock()
	c.markInflightLocked(h, 1)
	c.building[h]++
	c.mu.Unlock()

	atomic.AddInt64(&c.builds, 1)
	loaded, err := c.loader.Load(withBuild(ctx, h), h)

	c.mu.Lock()
	stale := c.finishBuildLocked(h)
	c.markInflightLocked(h, -1)
	if err != nil {
		released := c.closeLocked(h, nil)
		c.mu.Unlock()
		c.release(released)
		return old, nil, err
	}
	updated, ok = loaded[h]
	if !ok || updated == nil {
		c.mu.Unlock()
		return old, nil, errors.NewInvalidStructure("refresh", h.String(), fmt.Errorf("loader returned no info"))
	}
	if _, still := c.entries[h]; !still || stale {
		// Closed while rebuilding.
		c.mu.Unlock()
		return old, updated, nil
	}

	var released []element.Handle
	for kid := range c.kids[h] {
		if kid.Kind().IsDeclaration() || !updated.HasChild(kid) {
			released = c.closeLocked(kid, released)
		}
	}
	c.insertLocked(h, loaded)
	c.mu.Unlock()
	c.release(released)
	return old, updated, nil
}

// Peek returns the Info of h if it is open, without building anything.
func (c *ElementCache) Peek(h element.Handle) (*element.Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[h]
	if !ok {
		return nil, false
	}
	return e.info, true
}

// IsOpen reports whether h currently has an Info.
func (c *ElementCache) IsOpen(h element.Handle) bool {
	_, ok := c.Peek(h)
	return ok
}

// OpenChildren returns the open children of h.
func (c *ElementCache) OpenChildren(h element.Handle) []element.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.kids[h]
	out := make([]element.Handle, 0, len(set))
	for kid := range set {
		out = append(out, kid)
	}
	return out
}

// State reports whether h is being built.
func (c *ElementCache) State(h element.Handle) State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.building[h] > 0 {
		return StateBuilding
	}
	return StateIdle
}

// Pin protects h, and implicitly its ancestors, from eviction. Pins nest.
func (c *ElementCache) Pin(h element.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[h]++
	for _, a := range h.Ancestors() {
		c.pinBelow[a]++
	}
}

// Unpin releases one Pin of h.
func (c *ElementCache) Unpin(h element.Handle) {
	c.mu.Lock()
	if c.pins[h] == 0 {
		c.mu.Unlock()
		return
	}
	c.pins[h]--
	if c.pins[h] == 0 {
		delete(c.pins, h)
	}
	for _, a := range h.Ancestors() {
		c.pinBelow[a]--
		if c.pinBelow[a] <= 0 {
			delete(c.pinBelow, a)
		}
	}
	released := c.evictLocked()
	c.mu.Unlock()
	c.release(released)
}

// IsPinned reports whether h carries a pin of its own.
func (c *ElementCache) IsPinned(h element.Handle) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pins[h] > 0
}

// evictLocked closes least recently used openables until the cache is within
// capacity or nothing else may go. The evicted openables are returned for
// release once the lock is dropped.
func (c *ElementCache) evictLocked() []element.Handle {
	var released []element.Handle
	for c.lru.Len() > c.capacity {
		victim, ok := c.victimLocked()
		if !ok {
			break
		}
		released = c.closeLocked(victim, released)
		atomic.AddInt64(&c.evictions, 1)
		debug.LogCache("evicted %s\n", victim)
	}
	return released
}

func (c *ElementCache) victimLocked() (element.Handle, bool) {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		h := el.Value.(element.Handle)
		switch h.Kind() {
		case element.KindModel, element.KindProject:
			continue
		}
		if c.pins[h] > 0 || c.pinBelow[h] > 0 || c.inflight[h] > 0 {
			continue
		}
		return h, true
	}
	return element.Handle{}, false
}

// Snapshot returns every open Info keyed by handle.
func (c *ElementCache) Snapshot() map[element.Handle]*element.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[element.Handle]*element.Info, len(c.entries))
	for h, e := range c.entries {
		out[h] = e.info
	}
	return out
}

// Len returns the number of open Infos, declarations included.
func (c *ElementCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear closes everything.
func (c *ElementCache) Clear() {
	c.mu.Lock()
	var released []element.Handle
	for h := range c.entries {
		released = c.closeLocked(h, released)
	}
	c.mu.Unlock()
	c.release(released)
}

// Stats holds cache statistics
type Stats struct {
	Hits          int64
	Misses        int64
	Builds        int64
	Evictions     int64
	TotalRequests int64
	HitRate       float64
	Entries       int
	Openables     int
	Pinned        int
	Capacity      int
	Uptime        time.Duration
	Status        string
}

// Stats returns cache statistics
func (c *ElementCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	c.mu.RLock()
	entries, openables, pinned := len(c.entries), c.lru.Len(), len(c.pins)
	c.mu.RUnlock()

	return Stats{
		Hits:          hits,
		Misses:        misses,
		Builds:        atomic.LoadInt64(&c.builds),
		Evictions:     atomic.LoadInt64(&c.evictions),
		TotalRequests: total,
		HitRate:       hitRate,
		Entries:       entries,
		Openables:     openables,
		Pinned:        pinned,
		Capacity:      c.capacity,
		Uptime:        time.Since(c.createdAt),
		Status:        getHealthStatus(hitRate),
	}
}

func getHealthStatus(hitRate float64) string {
	switch {
	case hitRate >= 0.95:
		return "excellent"
	case hitRate >= 0.85:
		return "good"
	case hitRate >= 0.70:
		return "fair"
	default:
		return "poor"
	}
}
