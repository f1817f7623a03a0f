package watch

import (
	"path"
	"sort"

	"github.com/standardbeagle/srcmodel/internal/delta"
)

type eventOp uint8

const (
	opCreate eventOp = iota
	opWrite
	opRemove
	// opRename is the old name of a renamed path; fsnotify reports the new
	// name as a separate create.
	opRename
)

type pendingEvent struct {
	op    eventOp
	isDir bool
}

// coalesce folds a new event for a path into the pending one.
func coalesce(prev pendingEvent, seen bool, next pendingEvent) (pendingEvent, bool) {
	if !seen {
		return next, true
	}
	switch {
	case prev.op == opCreate && next.op == opWrite:
		return prev, true
	case prev.op == opCreate && (next.op == opRemove || next.op == opRename):
		// Created and gone within one window.
		return pendingEvent{}, false
	case (prev.op == opRemove || prev.op == opRename) && next.op == opCreate:
		return pendingEvent{op: opWrite, isDir: next.isDir}, true
	}
	return next, true
}

// buildBatch turns debounced events into a batch in tree pre-order. Renamed
// paths are paired with created paths of the same kind that share either
// the base name (a move) or the directory (a rename in place); unpaired
// renames become removals.
func buildBatch(events map[string]pendingEvent, isConfig func(string) bool) delta.Batch {
	var renames, creates []string
	for p, ev := range events {
		switch ev.op {
		case opRename:
			renames = append(renames, p)
		case opCreate:
			creates = append(creates, p)
		}
	}
	sort.Strings(renames)
	sort.Strings(creates)

	movedTo := make(map[string]string)
	movedFrom := make(map[string]string)
	pair := func(match func(from, to string) bool) {
		for _, from := range renames {
			if _, done := movedTo[from]; done {
				continue
			}
			var candidates []string
			for _, to := range creates {
				if _, taken := movedFrom[to]; taken || events[to].isDir != events[from].isDir {
					continue
				}
				if match(from, to) {
					candidates = append(candidates, to)
				}
			}
			if len(candidates) == 1 {
				movedTo[from] = candidates[0]
				movedFrom[candidates[0]] = from
			}
		}
	}
	pair(func(from, to string) bool { return path.Base(from) == path.Base(to) })
	pair(func(from, to string) bool { return path.Dir(from) == path.Dir(to) })

	var b delta.Batch
	for p, ev := range events {
		if isConfig != nil && isConfig(p) {
			b.ConfigChanged = true
		}
		ch := delta.RawChange{Path: p, IsDir: ev.isDir}
		switch ev.op {
		case opCreate:
			ch.Kind = delta.ChangeAdded
			ch.MovedFrom = movedFrom[p]
		case opRemove, opRename:
			ch.Kind = delta.ChangeRemoved
			ch.MovedTo = movedTo[p]
		default:
			ch.Kind = delta.ChangeChanged
		}
		b.Changes = append(b.Changes, ch)
	}
	// Parents sort before their children.
	sort.Slice(b.Changes, func(i, j int) bool { return b.Changes[i].Path < b.Changes[j].Path })
	return b
}
