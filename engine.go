package ldb

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oldsepia/ldb/internal/arena"
	"github.com/oldsepia/ldb/internal/manifest"
	"github.com/oldsepia/ldb/internal/skl"
)

// Value is the record a MemTable stores per key: a metadata byte, a
// user-controlled metadata byte, an expiry timestamp, and the payload.
type Value = skl.Value

// NewMemTable returns a fresh, empty MemTable backed by an arena of the
// given capacity (DefaultMemTableSize if zero). Each call seeds its own
// height-selection generator, so height sequences differ across memtables
// the way distinct skiplists in a running process should.
func NewMemTable(capacity int64) (MemTable, error) {
	if capacity == 0 {
		capacity = DefaultMemTableSize
	}
	s, err := skl.New(capacity, nil, randomSeed())
	if err != nil {
		return nil, translateErr(err)
	}
	return memTable{s}, nil
}

// memTable adapts *skl.SkipList to the MemTable interface: NewCursor's
// return type needs narrowing to the interface-typed Cursor, and Put needs
// its error translated to the public ldb sentinels.
type memTable struct {
	*skl.SkipList
}

func (m memTable) NewCursor() Cursor {
	return m.SkipList.NewCursor()
}

func (m memTable) Put(key []byte, value Value) error {
	return translateErr(m.SkipList.Put(key, value))
}

// manifestStore adapts *manifest.File to the ManifestStore interface,
// translating AddChanges' error to the public ldb sentinels.
type manifestStore struct {
	*manifest.File
}

func (m manifestStore) AddChanges(changes []manifest.Change) error {
	return translateErr(m.File.AddChanges(changes))
}

// translateErr maps internal/arena's and internal/manifest's own sentinel
// errors onto the public ldb sentinels, so callers can use errors.Is against
// the exported ldb.Err* values without importing either internal package.
// Errors with no corresponding public sentinel (e.g. plain I/O failures) are
// returned unchanged, per section 7's "IOError: propagate to caller" policy.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, arena.ErrArenaFull):
		return fmt.Errorf("%w: %v", ErrCapacityExhausted, err)
	case errors.Is(err, manifest.ErrBadMagic):
		return fmt.Errorf("%w: %v", ErrBadMagic, err)
	case errors.Is(err, manifest.ErrBadVersion):
		return fmt.Errorf("%w: %v", ErrBadVersion, err)
	case errors.Is(err, manifest.ErrInvariantViolation):
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	default:
		return err
	}
}

func randomSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing indicates a broken system entropy source;
		// falling back to a fixed seed still yields a correct, if less
		// diverse, skiplist rather than failing memtable construction.
		return 0x9e3779b97f4a7c15
	}
	return binary.BigEndian.Uint64(b[:])
}

// OpenManifest opens or creates dir's MANIFEST, per opts.
func OpenManifest(dir string, opts Options) (ManifestStore, error) {
	opts = opts.withDefaults()
	f, err := manifest.OpenOrCreate(dir, manifest.Options{
		RewriteThreshold: opts.ManifestRewriteThreshold,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return manifestStore{f}, nil
}
