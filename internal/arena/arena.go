// Package arena implements the bump-pointer byte allocator backing the
// skiplist memtable: a single contiguous buffer handing out 32-bit offsets
// via lock-free fetch-and-add, never shrinking, reset only once its owning
// skiplist's reference count reaches zero.
package arena

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrArenaFull is returned when an allocation would overflow the arena's capacity.
	ErrArenaFull = errors.New("arena: capacity exhausted")
)

const (
	// MaxAllocSize bounds any single allocation; a request above this is always rejected.
	MaxAllocSize = 1<<31 - 1

	// NullOffset is the sentinel meaning "no node" / "no allocation". Offset 0
	// is never handed out by Allocate.
	NullOffset uint32 = 0

	// headerReserve is the number of bytes reserved at the front of the
	// buffer so offset 0 is always invalid and every real allocation starts
	// 8-byte aligned.
	headerReserve = 8
)

// Arena is a single contiguous byte buffer with a monotonic write cursor.
// All allocation is via atomic fetch-and-add; there is no free.
type Arena struct {
	buffer []byte
	size   int64
	cursor atomic.Int64
}

// New creates an Arena with the given capacity in bytes.
func New(size int64) *Arena {
	a := &Arena{
		buffer: make([]byte, size),
		size:   size,
	}
	a.cursor.Store(headerReserve)
	return a
}

// align rounds n up to an 8-byte boundary so atomically-accessed fields
// embedded in arena-backed records never straddle a word boundary.
func align(n int64) int64 {
	return (n + 7) &^ 7
}

// Allocate reserves size bytes and returns their starting offset. It is
// wait-free: a single fetch-and-add on the cursor, no locks, no retries.
func (a *Arena) Allocate(size uint32) (uint32, error) {
	if uint64(size) > MaxAllocSize {
		return NullOffset, ErrArenaFull
	}

	sizeAligned := align(int64(size))
	end := a.cursor.Add(sizeAligned)
	start := end - sizeAligned
	if end > a.size {
		return NullOffset, ErrArenaFull
	}

	return uint32(start), nil
}

// PutBytes copies b into a fresh allocation and returns its offset and size.
func (a *Arena) PutBytes(b []byte) (offset uint32, size uint32, err error) {
	offset, err = a.Allocate(uint32(len(b)))
	if err != nil {
		return NullOffset, 0, err
	}
	copy(a.buffer[offset:], b)
	return offset, uint32(len(b)), nil
}

// Bytes returns a mutable view of size bytes starting at offset. It returns
// nil for NullOffset. The returned slice aliases the arena's backing array;
// callers must not retain it past a Reset.
func (a *Arena) Bytes(offset, size uint32) []byte {
	if offset == NullOffset {
		return nil
	}
	return a.buffer[offset : offset+size]
}

// Index returns a pointer to the byte at the given offset, for overlaying
// fixed-layout structs directly onto the arena's backing array.
func (a *Arena) Index(offset uint32) *byte {
	return &a.buffer[offset]
}

// OffsetOf is the inverse of Index: given a pointer into this arena's
// backing array, it returns the corresponding offset. It returns NullOffset
// for a nil pointer.
func (a *Arena) OffsetOf(ptr unsafe.Pointer) uint32 {
	if ptr == nil {
		return NullOffset
	}
	return uint32(uintptr(ptr) - uintptr(unsafe.Pointer(&a.buffer[0])))
}

// Size reports the current high-water mark: bytes consumed so far, including
// the reserved header.
func (a *Arena) Size() int64 {
	return a.cursor.Load()
}

// Remaining reports how many bytes may still be allocated.
func (a *Arena) Remaining() int64 {
	return a.size - a.cursor.Load()
}

// Reset rewinds the cursor to the start, making the whole buffer available
// again. Callers must guarantee no other goroutine holds a reference into
// this arena; the skiplist only calls this once its refcount reaches zero.
func (a *Arena) Reset() {
	a.cursor.Store(headerReserve)
	for i := range a.buffer {
		a.buffer[i] = 0
	}
}
