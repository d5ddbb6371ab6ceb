package manifest

import (
	"fmt"
	"sort"
)

// LevelSet is the set of table ids currently live at one LSM level.
type LevelSet map[uint64]struct{}

// State is the in-memory model of which tables exist and at what level: an
// id→level mapping, a per-level id set, and the two counters the manifest
// file's rewrite heuristic consults.
type State struct {
	tableLevel map[uint64]uint32
	levels     []LevelSet
	creations  uint64
	deletions  uint64
}

// NewState returns an empty manifest state.
func NewState() *State {
	return &State{tableLevel: make(map[uint64]uint32)}
}

// Clone returns a deep copy, used so a batch of changes can be validated
// against a scratch copy before anything is written to disk.
func (s *State) Clone() *State {
	c := &State{
		tableLevel: make(map[uint64]uint32, len(s.tableLevel)),
		levels:     make([]LevelSet, len(s.levels)),
		creations:  s.creations,
		deletions:  s.deletions,
	}
	for id, lvl := range s.tableLevel {
		c.tableLevel[id] = lvl
	}
	for i, ls := range s.levels {
		cls := make(LevelSet, len(ls))
		for id := range ls {
			cls[id] = struct{}{}
		}
		c.levels[i] = cls
	}
	return c
}

func (s *State) ensureLevel(level uint32) LevelSet {
	for uint32(len(s.levels)) <= level {
		s.levels = append(s.levels, make(LevelSet))
	}
	return s.levels[level]
}

// Apply validates and applies one Change. CREATE for an id already present,
// or DELETE for an id absent or present at a different level, is an
// invariant violation and leaves the state unchanged.
func (s *State) Apply(c Change) error {
	switch c.Op {
	case OpCreate:
		if _, exists := s.tableLevel[c.ID]; exists {
			return fmt.Errorf("%w: table %d already exists", ErrInvariantViolation, c.ID)
		}
		s.tableLevel[c.ID] = c.Level
		s.ensureLevel(c.Level)[c.ID] = struct{}{}
		s.creations++
		return nil
	case OpDelete:
		lvl, exists := s.tableLevel[c.ID]
		if !exists {
			return fmt.Errorf("%w: removes non-existing table %d", ErrInvariantViolation, c.ID)
		}
		if lvl != c.Level {
			return fmt.Errorf("%w: table %d removed at level %d but lives at level %d", ErrInvariantViolation, c.ID, c.Level, lvl)
		}
		delete(s.tableLevel, c.ID)
		delete(s.levels[lvl], c.ID)
		s.deletions++
		return nil
	default:
		return fmt.Errorf("%w: unknown op %d", ErrInvariantViolation, c.Op)
	}
}

// ApplyAll applies every change in order. It returns the first error
// encountered and stops; callers that need all-or-nothing semantics should
// operate on a Clone and only adopt it once every change has succeeded.
func (s *State) ApplyAll(changes []Change) error {
	for _, c := range changes {
		if err := s.Apply(c); err != nil {
			return err
		}
	}
	return nil
}

// SnapshotAsChanges emits one CREATE per currently-live table, in ascending
// id order for deterministic tests and deterministic rewrite output.
func (s *State) SnapshotAsChanges() []Change {
	ids := make([]uint64, 0, len(s.tableLevel))
	for id := range s.tableLevel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		changes = append(changes, NewCreateChange(id, s.tableLevel[id]))
	}
	return changes
}

// Creations reports the running count of successfully applied CREATE changes.
func (s *State) Creations() uint64 { return s.creations }

// Deletions reports the running count of successfully applied DELETE changes.
func (s *State) Deletions() uint64 { return s.deletions }

// LiveCount reports the number of currently-live tables (creations-deletions).
func (s *State) LiveCount() int { return len(s.tableLevel) }

// Level returns the level a live table id is at, and whether it exists.
func (s *State) Level(id uint64) (uint32, bool) {
	lvl, ok := s.tableLevel[id]
	return lvl, ok
}

// LevelTables returns a copy of the live table ids at the given level.
func (s *State) LevelTables(level uint32) []uint64 {
	if int(level) >= len(s.levels) {
		return nil
	}
	ids := make([]uint64, 0, len(s.levels[level]))
	for id := range s.levels[level] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// resetCountersAfterRewrite sets creations to the live table count and
// deletions to zero, the invariant a successful rewrite establishes.
func (s *State) resetCountersAfterRewrite() {
	s.creations = uint64(s.LiveCount())
	s.deletions = 0
}
