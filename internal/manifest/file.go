// Package manifest implements the crash-consistent, append-only MANIFEST
// log: the source of truth for which SST files exist and at what LSM level,
// recovered at startup and kept in lock-step with an in-memory State as
// changes are appended.
package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

const (
	// ManifestFilename is the live log's name within the DB directory.
	ManifestFilename = "MANIFEST"
	// ManifestRewriteFilename is the transient file a rewrite stages into
	// before it is renamed over ManifestFilename.
	ManifestRewriteFilename = "MANIFEST-REWRITE"

	// DefaultRewriteThreshold is the default deletions count above which a
	// rewrite is considered, per the rewrite heuristic.
	DefaultRewriteThreshold = 10_000

	// deletionsRatio is the other half of the rewrite heuristic: deletions
	// must also exceed this multiple of (creations-deletions).
	deletionsRatio = 10
)

var magicText = [4]byte{'b', 'd', 'g', 'r'}

const magicVersion = 2

// Options configures a File's rewrite heuristic and logging.
type Options struct {
	// RewriteThreshold is the deletions count above which a rewrite is
	// considered; 0 means DefaultRewriteThreshold. Exposed as a tunable
	// because the rewrite heuristic must be cheaply triggerable in tests.
	RewriteThreshold uint32
	// Logger receives structured events for replay stops, truncation, and
	// rewrites. A nil Logger is treated as zap.NewNop().
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.RewriteThreshold == 0 {
		o.RewriteThreshold = DefaultRewriteThreshold
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// File is the append-only MANIFEST log plus the in-memory State it keeps in
// lock-step. AddChanges and rewrites are mutually exclusive with themselves
// and each other via mu; the in-memory State may be read concurrently by
// callers that apply their own reader/writer discipline.
type File struct {
	mu    sync.Mutex
	dir   string
	path  string
	fp    *os.File
	state *State
	opts  Options
}

// OpenOrCreate opens dir's MANIFEST file, creating and initializing one if
// absent, or replaying and truncating a partial tail if present.
func OpenOrCreate(dir string, opts Options) (*File, error) {
	opts = opts.withDefaults()
	path := filepath.Join(dir, ManifestFilename)

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return createFresh(dir, path, opts)
	case err != nil:
		return nil, err
	default:
		return openExisting(dir, path, opts)
	}
}

// createFresh initializes a brand-new MANIFEST by going through the same
// rewrite-via-MANIFEST-REWRITE procedure a steady-state rewrite uses, per
// the open contract: "write header + one empty snapshot via rewrite".
func createFresh(dir, path string, opts Options) (*File, error) {
	state := NewState()
	if err := installSnapshot(dir, path, state); err != nil {
		return nil, err
	}
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &File{dir: dir, path: path, fp: fp, state: state, opts: opts}, nil
}

func openExisting(dir, path string, opts Options) (*File, error) {
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	state, truncateOffset, err := replay(fp)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Truncate(truncateOffset); err != nil {
		fp.Close()
		return nil, err
	}
	opts.Logger.Info("manifest replayed",
		zap.String("path", path),
		zap.Int64("truncate_offset", truncateOffset),
		zap.Int("live_tables", state.LiveCount()))
	return &File{dir: dir, path: path, fp: fp, state: state, opts: opts}, nil
}

// Close closes the underlying file. The in-memory State is unaffected.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fp.Close()
}

// State returns the current in-memory manifest state. Callers must apply
// their own reader/writer discipline if they read it concurrently with
// AddChanges.
func (f *File) State() *State {
	return f.state
}

// AddChanges applies a batch of changes atomically: if any change violates
// an invariant, nothing is written and the in-memory state is untouched.
// Otherwise the batch is durably appended (or the log is rewritten, if the
// heuristic triggers) before AddChanges returns.
func (f *File) AddChanges(changes []Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := f.state.Clone()
	if err := clone.ApplyAll(changes); err != nil {
		return err
	}

	if shouldRewrite(clone, f.opts.RewriteThreshold) {
		if err := f.rewriteLocked(clone); err != nil {
			return err
		}
		f.state = clone
		return nil
	}

	payload := EncodeChangeSet(ChangeSet{Changes: changes})
	if err := writeRecord(f.fp, payload); err != nil {
		return err
	}
	if err := f.fp.Sync(); err != nil {
		return err
	}
	f.state = clone
	return nil
}

func shouldRewrite(s *State, threshold uint32) bool {
	d := s.Deletions()
	c := s.Creations()
	if d <= uint64(threshold) {
		return false
	}
	return d > deletionsRatio*(c-d)
}

// rewriteLocked performs the atomic rewrite procedure: stage the snapshot
// into MANIFEST-REWRITE, rename it over MANIFEST, fsync the parent
// directory, then reopen MANIFEST for append. Called with mu held.
func (f *File) rewriteLocked(state *State) error {
	if err := f.fp.Close(); err != nil {
		return err
	}
	if err := installSnapshot(f.dir, f.path, state); err != nil {
		return err
	}
	newFp, err := os.OpenFile(f.path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	f.fp = newFp
	state.resetCountersAfterRewrite()
	f.opts.Logger.Info("manifest rewritten",
		zap.String("path", f.path),
		zap.Int("live_tables", state.LiveCount()))
	return nil
}

// installSnapshot writes state's snapshot into MANIFEST-REWRITE (via
// natefinch/atomic's own durable write-then-rename, the same idiom used
// elsewhere in the corpus for atomic file writes), then renames that file
// over target and fsyncs the parent directory so the rename itself is
// durable. target need not already exist.
func installSnapshot(dir, target string, state *State) error {
	var buf bytes.Buffer
	if err := writeHeader(&buf); err != nil {
		return err
	}
	payload := EncodeChangeSet(ChangeSet{Changes: state.SnapshotAsChanges()})
	if err := writeRecord(&buf, payload); err != nil {
		return err
	}

	rewritePath := filepath.Join(dir, ManifestRewriteFilename)
	if err := atomic.WriteFile(rewritePath, &buf); err != nil {
		return err
	}
	if err := os.Rename(rewritePath, target); err != nil {
		return err
	}
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func writeHeader(w io.Writer) error {
	var buf [8]byte
	copy(buf[0:4], magicText[:])
	binary.BigEndian.PutUint32(buf[4:8], magicVersion)
	_, err := w.Write(buf[:])
	return err
}

// writeRecord writes one length|crc|payload record.
func writeRecord(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readRecord reads one length|crc|payload record, returning the payload and
// the total number of bytes consumed (including the 8-byte header). A clean
// end of file (no bytes read at all) is reported as io.EOF; any other
// failure — a short read mid-header, a short read mid-payload, or a CRC
// mismatch — is reported as ErrPartialRecord or ErrCRCMismatch so the caller
// can stop replay at the last good offset.
func readRecord(r io.Reader) ([]byte, int64, error) {
	var hdr [8]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, int64(n), fmt.Errorf("%w: %v", ErrPartialRecord, err)
	}

	length := binary.BigEndian.Uint32(hdr[0:4])
	wantCRC := binary.BigEndian.Uint32(hdr[4:8])

	payload := make([]byte, length)
	m, err := io.ReadFull(r, payload)
	total := int64(8 + m)
	if err != nil {
		return nil, total, fmt.Errorf("%w: %v", ErrPartialRecord, err)
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, total, ErrCRCMismatch
	}
	return payload, total, nil
}

// replay reads the header and every record of an open MANIFEST file,
// applying decoded change-sets to a fresh State. It returns the state built
// so far and the offset immediately after the last fully valid record: the
// caller must truncate the file to this offset before any append, so a torn
// tail from a crash mid-append is discarded without losing the rest of the
// log. An invariant violation during apply is fatal and aborts replay
// entirely, since the manifest is then logically corrupt even though its
// bytes decoded cleanly.
func replay(r io.Reader) (*State, int64, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadMagic, err)
	}
	if magic != magicText {
		return nil, 0, ErrBadMagic
	}

	var verBuf [4]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrBadVersion, err)
	}
	if binary.BigEndian.Uint32(verBuf[:]) != magicVersion {
		return nil, 0, ErrBadVersion
	}

	offset := int64(8)
	state := NewState()
	for {
		payload, n, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// PartialRecord / CRCMismatch: stop replay at the last good
			// offset, do not propagate as an open failure.
			break
		}
		cs, err := DecodeChangeSet(payload)
		if err != nil {
			// DecodeError: same policy as a partial/CRC failure.
			break
		}
		if err := state.ApplyAll(cs.Changes); err != nil {
			return nil, 0, err
		}
		offset += n
	}
	return state, offset, nil
}
