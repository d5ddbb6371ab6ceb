// Package skl implements the lock-free concurrent skiplist memtable: an
// ordered multi-level map over an arena, supporting put, get, nearest-match
// search, and a forward/backward cursor, with reference-counted lifecycle.
//
// The search and insertion algorithms are the ones badger's memtable skiplist
// uses (itself adapted from RocksDB's inline skiplist): find_near walks top
// to bottom comparing against the next node at each level; find_splice_for_level
// locates the (before, after) pair a new node must be linked between.
package skl

import (
	"bytes"
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/oldsepia/ldb/internal/arena"
	"github.com/oldsepia/ldb/internal/rng"
)

// ErrClosed is returned by Put when it is called after the skiplist's
// reference count has reached zero.
var ErrClosed = errors.New("skl: skiplist closed")

// CompareFunc orders two keys the same way bytes.Compare does.
type CompareFunc func(a, b []byte) int

// SkipList is an ordered multi-level lock-free map over an arena. Keys are
// opaque byte sequences ordered lexicographically. All coordination between
// concurrent Put/Get/cursor operations is via CAS; there are no locks and no
// node reclamation during the skiplist's lifetime.
type SkipList struct {
	arena   *arena.Arena
	compare CompareFunc
	rng     *rng.State

	head   *node
	height atomic.Int32
	refs   atomic.Int64
}

// New creates an empty skiplist backed by a fresh arena of the given
// capacity. seed initializes the height-selection generator; callers that
// want reproducible height sequences (tests, benchmarks) should pass a fixed
// seed.
func New(arenaCapacity int64, compare CompareFunc, seed uint64) (*SkipList, error) {
	if compare == nil {
		compare = bytes.Compare
	}
	a := arena.New(arenaCapacity)
	head, _, err := newNode(a, nil, MaxHeight)
	if err != nil {
		return nil, err
	}
	s := &SkipList{
		arena:   a,
		compare: compare,
		rng:     rng.NewState(seed),
		head:    head,
	}
	s.height.Store(1)
	s.refs.Store(1)
	return s, nil
}

// newNode allocates a node of the given height in a, storing key (which may
// be nil for the head sentinel). The caller is responsible for setting the
// value slot afterward.
func newNode(a *arena.Arena, key []byte, height int) (*node, uint32, error) {
	offset, err := a.Allocate(nodeSize(height))
	if err != nil {
		return nil, arena.NullOffset, err
	}
	nd := nodeAt(a.Index(offset))
	nd.height = uint16(height)
	if len(key) > 0 {
		koff, ksz, err := a.PutBytes(key)
		if err != nil {
			return nil, arena.NullOffset, err
		}
		nd.keyOffset = koff
		nd.keySize = uint16(ksz)
	}
	return nd, offset, nil
}

// getHeight loads the skiplist's current height with sequentially consistent
// ordering, matching the spec's simplicity choice for this one field.
func (s *SkipList) getHeight() int32 {
	return s.height.Load()
}

func (s *SkipList) getNode(offset uint32) *node {
	if offset == arena.NullOffset {
		return nil
	}
	return nodeAt(s.arena.Index(offset))
}

func (s *SkipList) getNext(n *node, level int) *node {
	return s.getNode(n.getNextOffset(level))
}

func (s *SkipList) offsetOf(n *node) uint32 {
	if n == nil {
		return arena.NullOffset
	}
	return s.arena.OffsetOf(unsafe.Pointer(n))
}

// randomHeight draws a geometrically distributed height in [1, MaxHeight]
// with p=1/3: start at 1, keep incrementing while a fresh uniform 32-bit
// draw is <= MAX_U32/3.
func (s *SkipList) randomHeight() int {
	h := 1
	for h < MaxHeight && uint32(s.rng.Next()) <= heightIncrease {
		h++
	}
	return h
}

// findNear walks from the top of the head sentinel down to level 0. If less
// is true it looks for the rightmost node with key < target (or <= target
// when allowEqual), otherwise the leftmost node with key > target (or >=
// target when allowEqual). It never returns the head sentinel. The bool
// result reports whether an exact key match was found.
func (s *SkipList) findNear(key []byte, less, allowEqual bool) (*node, bool) {
	x := s.head
	level := int(s.getHeight()) - 1
	var afterNode *node
	for {
		next := s.getNext(x, level)
		if next == nil {
			if level > 0 {
				level--
				continue
			}
			if !less {
				return nil, false
			}
			if x == s.head {
				return nil, false
			}
			return x, false
		}
		var cmp int
		if next == afterNode {
			cmp = -1
		} else {
			cmp = s.compare(key, next.key(s.arena))
		}
		if cmp > 0 {
			x = next
			continue
		}
		if cmp == 0 {
			if allowEqual {
				return next, true
			}
			if !less {
				return s.getNext(next, 0), false
			}
			if level > 0 {
				level--
				continue
			}
			if x == s.head {
				return nil, false
			}
			return x, false
		}
		if level > 0 {
			afterNode = next
			level--
			continue
		}
		if !less {
			return next, false
		}
		if x == s.head {
			return nil, false
		}
		return x, false
	}
}

// findSpliceForLevel starts at before and advances right at level until
// next.key >= key or the end of the list. It returns (before, after, match):
// before.key < key, after is the first node with key >= key (nil at the end
// of the list), and match reports whether after.key == key.
func (s *SkipList) findSpliceForLevel(key []byte, before *node, level int) (*node, *node, bool) {
	for {
		next := s.getNext(before, level)
		if next == nil {
			return before, next, false
		}
		cmp := s.compare(key, next.key(s.arena))
		if cmp <= 0 {
			return before, next, cmp == 0
		}
		before = next
	}
}

// findLast walks down and right from the top level to the final node, or
// returns nil if the list is empty.
func (s *SkipList) findLast() *node {
	n := s.head
	level := int(s.getHeight()) - 1
	for {
		next := s.getNext(n, level)
		if next != nil {
			n = next
			continue
		}
		if level == 0 {
			if n == s.head {
				return nil
			}
			return n
		}
		level--
	}
}

// Put inserts key with value v, overwriting any existing value for key.
// Concurrent Put/Get/cursor operations are safe; no operation blocks.
func (s *SkipList) Put(key []byte, v Value) error {
	if s.refs.Load() <= 0 {
		return ErrClosed
	}
	listHeight := s.getHeight()
	var prev, next [MaxHeight + 1]*node
	prev[listHeight] = s.head
	next[listHeight] = nil

	for i := listHeight - 1; i >= 0; i-- {
		var match bool
		prev[i], next[i], match = s.findSpliceForLevel(key, prev[i+1], int(i))
		if match {
			return next[i].setValue(s.arena, v)
		}
	}

	height := s.randomHeight()
	for height > int(listHeight) {
		if s.height.CompareAndSwap(listHeight, int32(height)) {
			listHeight = int32(height)
			break
		}
		listHeight = s.getHeight()
	}

	x, xOffset, err := newNode(s.arena, key, height)
	if err != nil {
		return err
	}
	if err := x.setValue(s.arena, v); err != nil {
		return err
	}

	for i := 0; i < height; i++ {
		for {
			if prev[i] == nil {
				// Level above what this Put originally saw: search from the
				// head before linking.
				prev[i], next[i], _ = s.findSpliceForLevel(key, s.head, i)
			}
			nextOffset := s.offsetOf(next[i])
			x.tower[i] = nextOffset
			if prev[i].casNextOffset(i, nextOffset, xOffset) {
				break
			}
			// CAS failed: another insert changed the splice. Recompute and
			// retry. If a competing insert landed exactly on this key at
			// level 0, overwrite its value instead (only legal at level 0).
			var match bool
			prev[i], next[i], match = s.findSpliceForLevel(key, prev[i], i)
			if match && i == 0 {
				return next[i].setValue(s.arena, v)
			}
		}
	}
	return nil
}

// Get returns the value stored for key and true, or the zero Value and false
// if key is absent.
func (s *SkipList) Get(key []byte) (Value, bool) {
	n, found := s.findNear(key, false, true)
	if !found || n == nil {
		return Value{}, false
	}
	return n.getValue(s.arena), true
}

// Empty reports whether the skiplist holds no entries.
func (s *SkipList) Empty() bool {
	return s.findLast() == nil
}

// MemSize reports the number of bytes currently used within the skiplist's
// arena.
func (s *SkipList) MemSize() int64 {
	return s.arena.Size()
}

// IncRef increments the skiplist's reference count. Callers must pair every
// IncRef with a DecRef.
func (s *SkipList) IncRef() {
	s.refs.Add(1)
}

// DecRef decrements the reference count. When it reaches zero the backing
// arena is reset and the skiplist must not be used again.
func (s *SkipList) DecRef() {
	if s.refs.Add(-1) == 0 {
		s.arena.Reset()
	}
}

// RefCount reports the current reference count.
func (s *SkipList) RefCount() int64 {
	return s.refs.Load()
}

// NewCursor returns a cursor over the skiplist and increments its reference
// count; the cursor's Close decrements it again.
func (s *SkipList) NewCursor() *Cursor {
	s.IncRef()
	return &Cursor{list: s}
}
