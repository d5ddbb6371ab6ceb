package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStateApplyTracksLevelsAndCounters verifies 3.4's invariants: every
// live id appears in exactly one LevelSet at its recorded level, and
// creations/deletions increment once per successfully applied change.
func TestStateApplyTracksLevelsAndCounters(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Apply(NewCreateChange(1, 0)))
	require.NoError(t, s.Apply(NewCreateChange(2, 1)))
	require.NoError(t, s.Apply(NewDeleteChange(1, 0)))

	require.EqualValues(t, 2, s.Creations())
	require.EqualValues(t, 1, s.Deletions())
	require.Equal(t, 1, s.LiveCount())

	lvl, ok := s.Level(2)
	require.True(t, ok)
	require.EqualValues(t, 1, lvl)
	require.Equal(t, []uint64{2}, s.LevelTables(1))
	require.Empty(t, s.LevelTables(0))
}

// TestStateApplyRejectsDuplicateCreate verifies 3.4: CREATE for an id
// already present is an invariant violation.
func TestStateApplyRejectsDuplicateCreate(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Apply(NewCreateChange(1, 0)))
	err := s.Apply(NewCreateChange(1, 0))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvariantViolation))
}

// TestStateApplyRejectsDeleteOfAbsentOrWrongLevel verifies 3.4: DELETE for
// an absent id, or an id present at a different level, is an invariant
// violation.
func TestStateApplyRejectsDeleteOfAbsentOrWrongLevel(t *testing.T) {
	t.Run("absent id", func(t *testing.T) {
		s := NewState()
		err := s.Apply(NewDeleteChange(1, 0))
		require.True(t, errors.Is(err, ErrInvariantViolation))
	})

	t.Run("wrong level", func(t *testing.T) {
		s := NewState()
		require.NoError(t, s.Apply(NewCreateChange(1, 0)))
		err := s.Apply(NewDeleteChange(1, 1))
		require.True(t, errors.Is(err, ErrInvariantViolation))
	})
}

// TestStateCloneIsIndependent verifies that mutating a Clone never affects
// the original, which AddChanges relies on to validate a batch before
// committing it.
func TestStateCloneIsIndependent(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Apply(NewCreateChange(1, 0)))

	clone := s.Clone()
	require.NoError(t, clone.Apply(NewCreateChange(2, 0)))

	require.Equal(t, 1, s.LiveCount())
	require.Equal(t, 2, clone.LiveCount())
}

// TestSnapshotAsChangesIsSortedByID verifies the deterministic ordering this
// spec recommends for testability.
func TestSnapshotAsChangesIsSortedByID(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Apply(NewCreateChange(5, 0)))
	require.NoError(t, s.Apply(NewCreateChange(1, 0)))
	require.NoError(t, s.Apply(NewCreateChange(3, 1)))

	changes := s.SnapshotAsChanges()
	require.Len(t, changes, 3)
	require.Equal(t, []uint64{1, 3, 5}, []uint64{changes[0].ID, changes[1].ID, changes[2].ID})
	for _, c := range changes {
		require.Equal(t, OpCreate, c.Op)
	}
}
