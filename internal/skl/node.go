package skl

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/oldsepia/ldb/internal/arena"
)

// MaxHeight bounds the tower height of any node; the skiplist's observed
// height never exceeds it and never decreases.
const MaxHeight = 20

// heightIncrease is the threshold against which a fresh uniform 32-bit
// random draw is compared when growing a tower one more level. Using
// math.MaxUint32/3 yields a geometric height distribution with p=1/3.
const heightIncrease = math.MaxUint32 / 3

// node is the cache-dense on-arena record described by the skiplist's
// layout: immutable key offset/size and height, a packed 64-bit value slot
// that is atomically rewritten on overwrite, and a tower of next-offset
// atomics truncated to the node's own height. Only the first `height`
// entries of tower are ever valid memory for this particular allocation;
// the struct is laid out at MaxHeight so a single Go type can describe every
// possible allocation size, but nodes shorter than MaxHeight are allocated
// (and must only be accessed) within their truncated footprint.
type node struct {
	keyOffset uint32 // immutable
	keySize   uint16 // immutable
	height    uint16 // immutable

	value uint64 // packed offset (low 32 bits) | size (high 32 bits), atomically stored; the top 16 bits stay zero only for encoded values under 64 KiB

	tower [MaxHeight]uint32 // next-offset atomics, CAS-updated on link
}

// fullNodeSize is the footprint of a node allocated at MaxHeight.
const fullNodeSize = uint32(unsafe.Sizeof(node{}))

// nodeSize returns the number of bytes a node of the given height occupies:
// the full layout minus the unused tail of the tower.
func nodeSize(height int) uint32 {
	return fullNodeSize - uint32(MaxHeight-height)*4
}

// nodeAt overlays a *node onto an arena-backed address. The address must
// have come from an allocation of at least nodeSize(height) bytes (and is
// therefore 8-byte aligned), satisfying the atomic alignment requirements of
// the value and tower fields. Reads/writes past the node's own height are
// never performed by the skiplist, even though the Go type describes the
// full MaxHeight layout.
func nodeAt(ptr *byte) *node {
	return (*node)(unsafe.Pointer(ptr))
}

func encodeValueSlot(offset, size uint32) uint64 {
	return uint64(offset) | uint64(size)<<32
}

func decodeValueSlot(slot uint64) (offset, size uint32) {
	return uint32(slot), uint32(slot >> 32)
}

func (n *node) loadValueSlot() (offset, size uint32) {
	return decodeValueSlot(atomic.LoadUint64(&n.value))
}

func (n *node) storeValueSlot(offset, size uint32) {
	atomic.StoreUint64(&n.value, encodeValueSlot(offset, size))
}

func (n *node) key(a *arena.Arena) []byte {
	return a.Bytes(n.keyOffset, uint32(n.keySize))
}

func (n *node) getValue(a *arena.Arena) Value {
	offset, size := n.loadValueSlot()
	return decodeValue(a.Bytes(offset, size))
}

func (n *node) setValue(a *arena.Arena, v Value) error {
	size := v.EncodedSize()
	offset, err := a.Allocate(size)
	if err != nil {
		return err
	}
	v.encode(a.Bytes(offset, size))
	n.storeValueSlot(offset, size)
	return nil
}

func (n *node) getNextOffset(level int) uint32 {
	return atomic.LoadUint32(&n.tower[level])
}

func (n *node) casNextOffset(level int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&n.tower[level], old, new)
}
