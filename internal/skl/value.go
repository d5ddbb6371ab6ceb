package skl

import "encoding/binary"

// valueHeaderSize is the fixed portion of an encoded Value: one meta byte,
// one user-meta byte, and an 8-byte expiration/version field, ahead of the
// raw value bytes.
const valueHeaderSize = 1 + 1 + 8

// Value is the fixed-layout record stored inline in the arena for every
// skiplist entry: the raw payload plus three metadata fields. Tombstones are
// modeled as a Value with a caller-defined Meta discriminator bit, not as
// node removal.
type Value struct {
	Meta      byte
	UserMeta  byte
	ExpiresAt uint64
	Data      []byte
}

// EncodedSize returns the number of bytes Value occupies once encoded.
func (v Value) EncodedSize() uint32 {
	return uint32(valueHeaderSize + len(v.Data))
}

// encode writes the fixed-layout record into dst, which must be exactly
// EncodedSize() bytes.
func (v Value) encode(dst []byte) {
	dst[0] = v.Meta
	dst[1] = v.UserMeta
	binary.LittleEndian.PutUint64(dst[2:10], v.ExpiresAt)
	copy(dst[valueHeaderSize:], v.Data)
}

// decodeValue reads a fixed-layout Value record out of src.
func decodeValue(src []byte) Value {
	return Value{
		Meta:      src[0],
		UserMeta:  src[1],
		ExpiresAt: binary.LittleEndian.Uint64(src[2:10]),
		Data:      src[valueHeaderSize:],
	}
}
