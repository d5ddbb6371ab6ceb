// Package ldb wires the memtable (internal/skl) and MANIFEST
// (internal/manifest) subsystems behind the narrow interfaces an SST layer,
// compaction scheduler, or transaction layer would consume them through —
// the external interfaces section names these as the skiplist API and the
// manifest API, each an out-of-scope collaborator's view of the core.
package ldb

import "github.com/oldsepia/ldb/internal/manifest"

// MemTable is the skiplist API consumed by the memtable layer: put, get,
// cursor, size accounting, and reference-counted lifecycle.
type MemTable interface {
	Put(key []byte, value Value) error
	Get(key []byte) (Value, bool)
	NewCursor() Cursor
	MemSize() int64
	Empty() bool
	IncRef()
	DecRef()
	RefCount() int64
}

// Cursor is a forward/backward iterator over a MemTable's keys in
// lexicographic order, adapted from the teacher's own Iterator surface to
// carry a full Value (metadata byte, user metadata byte, expiry, data)
// rather than a bare []byte.
type Cursor interface {
	First() bool
	Last() bool
	Seek(key []byte) bool
	SeekForPrev(key []byte) bool
	Valid() bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() Value
	Close() error
}

// ManifestStore is the manifest API consumed by the compaction and open
// layers: open-or-create, atomic batch apply, close, and read access to the
// in-memory state for discovering live tables per level.
type ManifestStore interface {
	AddChanges(changes []manifest.Change) error
	Close() error
	State() *manifest.State
}
