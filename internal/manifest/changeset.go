package manifest

import (
	"encoding/binary"
	"fmt"
)

// Op discriminates a Change's kind.
type Op uint8

const (
	OpCreate Op = 0
	OpDelete Op = 1
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Change is one CREATE or DELETE record: a table id and the level it
// applies at.
type Change struct {
	ID    uint64
	Level uint32
	Op    Op
}

// NewCreateChange builds a CREATE change, mirroring the original
// implementation's builder-style construction rather than exposing bare
// struct literals at every call site.
func NewCreateChange(id uint64, level uint32) Change {
	return Change{ID: id, Level: level, Op: OpCreate}
}

// NewDeleteChange builds a DELETE change.
func NewDeleteChange(id uint64, level uint32) Change {
	return Change{ID: id, Level: level, Op: OpDelete}
}

// ChangeSet is an ordered, atomically-applied batch of Changes.
type ChangeSet struct {
	Changes []Change
}

// changeEncodedSize is the fixed on-wire size of one Change: an 8-byte id,
// a 4-byte level, and a 1-byte op.
const changeEncodedSize = 8 + 4 + 1

// EncodeChangeSet serializes a ChangeSet as a schema-based binary form: a
// big-endian u32 change count followed by that many fixed-width records.
// This is the "stable, length-prefixed schema codec" the wire format wraps
// one of per manifest record; see DESIGN.md for why this hand-rolled codec
// stands in for a generated protobuf schema.
func EncodeChangeSet(cs ChangeSet) []byte {
	buf := make([]byte, 4+len(cs.Changes)*changeEncodedSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(cs.Changes)))
	off := 4
	for _, c := range cs.Changes {
		binary.BigEndian.PutUint64(buf[off:off+8], c.ID)
		binary.BigEndian.PutUint32(buf[off+8:off+12], c.Level)
		buf[off+12] = byte(c.Op)
		off += changeEncodedSize
	}
	return buf
}

// DecodeChangeSet is the inverse of EncodeChangeSet. Any malformed input
// (truncated count, truncated record, unknown op byte) yields ErrDecodeError.
func DecodeChangeSet(buf []byte) (ChangeSet, error) {
	if len(buf) < 4 {
		return ChangeSet{}, fmt.Errorf("%w: truncated change count", ErrDecodeError)
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	want := 4 + int(count)*changeEncodedSize
	if len(buf) != want {
		return ChangeSet{}, fmt.Errorf("%w: expected %d bytes for %d changes, got %d", ErrDecodeError, want, count, len(buf))
	}

	changes := make([]Change, count)
	off := 4
	for i := range changes {
		op := Op(buf[off+12])
		if op != OpCreate && op != OpDelete {
			return ChangeSet{}, fmt.Errorf("%w: unknown op byte %d", ErrDecodeError, buf[off+12])
		}
		changes[i] = Change{
			ID:    binary.BigEndian.Uint64(buf[off : off+8]),
			Level: binary.BigEndian.Uint32(buf[off+8 : off+12]),
			Op:    op,
		}
		off += changeEncodedSize
	}
	return ChangeSet{Changes: changes}, nil
}
