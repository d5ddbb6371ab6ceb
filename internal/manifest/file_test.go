package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenario1CreateThenReopen covers spec scenario 1: open an empty dir,
// add a single CREATE, close, reopen, and expect the replayed state to
// match.
func TestScenario1CreateThenReopen(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(1, 0)}))
	require.NoError(t, f.Close())

	f2, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	defer f2.Close()

	lvl, ok := f2.State().Level(1)
	require.True(t, ok)
	require.EqualValues(t, 0, lvl)
	require.EqualValues(t, 1, f2.State().Creations())
	require.EqualValues(t, 0, f2.State().Deletions())
}

// TestScenario2DeleteAndCreateThenReopen covers spec scenario 2.
func TestScenario2DeleteAndCreateThenReopen(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewDeleteChange(1, 0), NewCreateChange(2, 1)}))
	require.NoError(t, f.Close())

	f2, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	defer f2.Close()

	_, stillThere := f2.State().Level(1)
	require.False(t, stillThere)
	lvl, ok := f2.State().Level(2)
	require.True(t, ok)
	require.EqualValues(t, 1, lvl)
	require.EqualValues(t, 2, f2.State().Creations())
	require.EqualValues(t, 1, f2.State().Deletions())
}

// TestScenario3RewriteTriggersAndResetsCounters covers spec scenario 3: with
// a low rewrite threshold, the batch deleting table 2 pushes deletions past
// the heuristic and triggers an automatic rewrite that resets the counters;
// the later CREATE(3,0) is appended after the rewritten snapshot, leaving
// creations=1, deletions=0 both in memory and after reopening.
func TestScenario3RewriteTriggersAndResetsCounters(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenOrCreate(dir, Options{RewriteThreshold: 1})
	require.NoError(t, err)

	require.NoError(t, f.AddChanges([]Change{NewCreateChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(2, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewDeleteChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewDeleteChange(2, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(3, 0)}))

	require.EqualValues(t, 1, f.State().Creations())
	require.EqualValues(t, 0, f.State().Deletions())
	lvl, ok := f.State().Level(3)
	require.True(t, ok)
	require.EqualValues(t, 0, lvl)

	_, err = os.Stat(filepath.Join(dir, ManifestRewriteFilename))
	require.True(t, os.IsNotExist(err), "MANIFEST-REWRITE must not survive a completed rewrite")

	require.NoError(t, f.Close())

	f2, err := OpenOrCreate(dir, Options{RewriteThreshold: 1})
	require.NoError(t, err)
	defer f2.Close()
	require.EqualValues(t, 1, f2.State().Creations())
	require.EqualValues(t, 0, f2.State().Deletions())
	_, ok = f2.State().Level(3)
	require.True(t, ok)
}

// TestScenario4TruncatedTailRecovers covers spec scenario 4: a torn final
// record (crash mid-append) is discarded on reopen, and the manifest
// remains fully usable afterward.
func TestScenario4TruncatedTailRecovers(t *testing.T) {
	dir := t.TempDir()

	f, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewDeleteChange(1, 0), NewCreateChange(2, 1)}))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, ManifestFilename)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	f2, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	defer f2.Close()

	lvl, ok := f2.State().Level(1)
	require.True(t, ok)
	require.EqualValues(t, 0, lvl)
	_, stillMissing := f2.State().Level(2)
	require.False(t, stillMissing)

	require.NoError(t, f2.AddChanges([]Change{NewCreateChange(2, 1)}))
	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, after.Size(), info.Size()-3)
}

// TestRoundTripLaw verifies that reopening a manifest written by a valid
// sequence of AddChanges calls replays the same state (counters and live
// tables) that was held in memory before closing.
func TestRoundTripLaw(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)

	batches := [][]Change{
		{NewCreateChange(10, 0)},
		{NewCreateChange(11, 0), NewCreateChange(12, 1)},
		{NewDeleteChange(10, 0)},
	}
	for _, b := range batches {
		require.NoError(t, f.AddChanges(b))
	}
	want := f.State()
	require.NoError(t, f.Close())

	f2, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	defer f2.Close()

	require.Equal(t, want.Creations(), f2.State().Creations())
	require.Equal(t, want.Deletions(), f2.State().Deletions())
	require.Equal(t, want.SnapshotAsChanges(), f2.State().SnapshotAsChanges())
}

// TestCRCMismatchHidesRecordAndFollowing verifies the CRC-protection law:
// flipping a byte in a record's payload makes that record and everything
// after it invisible to replay.
func TestCRCMismatchHidesRecordAndFollowing(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(2, 1)}))
	require.NoError(t, f.Close())

	path := filepath.Join(dir, ManifestFilename)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The first record (the initial empty snapshot) starts right after the
	// 8-byte header; flip a byte inside the second record (the first
	// AddChanges call) to corrupt it and everything appended after it.
	firstRecordLen := int(data[8])<<24 | int(data[9])<<16 | int(data[10])<<8 | int(data[11])
	secondRecordPayloadStart := 8 + 8 + firstRecordLen + 8
	require.Less(t, secondRecordPayloadStart, len(data))
	data[secondRecordPayloadStart] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	f2, err := OpenOrCreate(dir, Options{})
	require.NoError(t, err)
	defer f2.Close()

	require.Equal(t, 0, f2.State().LiveCount())
	_, ok := f2.State().Level(1)
	require.False(t, ok)
	_, ok = f2.State().Level(2)
	require.False(t, ok)
}

// TestRewriteIdempotence verifies that rewriting twice in succession (given
// deterministic ordering in SnapshotAsChanges) yields the same file bytes.
func TestRewriteIdempotence(t *testing.T) {
	dir := t.TempDir()
	f, err := OpenOrCreate(dir, Options{RewriteThreshold: 1})
	require.NoError(t, err)
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(2, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewDeleteChange(1, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewDeleteChange(2, 0)}))
	require.NoError(t, f.AddChanges([]Change{NewCreateChange(3, 0)}))

	state := f.State()
	f.mu.Lock()
	err = f.rewriteLocked(state.Clone())
	f.mu.Unlock()
	require.NoError(t, err)
	first, readErr := os.ReadFile(filepath.Join(dir, ManifestFilename))
	require.NoError(t, readErr)

	f.mu.Lock()
	err = f.rewriteLocked(state.Clone())
	f.mu.Unlock()
	require.NoError(t, err)
	second, readErr := os.ReadFile(filepath.Join(dir, ManifestFilename))
	require.NoError(t, readErr)

	require.Equal(t, first, second)
	require.NoError(t, f.Close())
}

// TestOpenRejectsBadMagic verifies BadMagic is a fatal open failure.
func TestOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFilename), []byte("notmagic!"), 0644))

	_, err := OpenOrCreate(dir, Options{})
	require.Error(t, err)
}
