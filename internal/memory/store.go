// Package memory holds the append-only transcript of an agent run: the
// typed step variants, the ordered store they live in, snapshot-time
// retention, and sqlite persistence for finished runs.
package memory

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFinalized is returned when appending to a store that already holds
	// its FinalStep.
	ErrFinalized = errors.New("memory: store is finalized")

	// ErrNoPlanToAmend is returned by AmendPlan when the newest entry is not
	// a PlanningStep.
	ErrNoPlanToAmend = errors.New("memory: newest entry is not a planning step")
)

// Entry is one indexed transcript row. Indices are contiguous from 0 in
// append order.
type Entry struct {
	Index int       `json:"index"`
	At    time.Time `json:"at"`
	Step  Step      `json:"step"`
}

// Store is the append-only ordered log for a single run. It is exclusively
// owned by that run: the loop appends, hooks read, nothing else touches it.
// Entries already written are never mutated, with the single sanctioned
// exception of AmendPlan.
type Store struct {
	entries   []Entry
	finalized bool
	now       func() time.Time
}

// NewStore creates an empty transcript store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Append adds a step and returns its index. Appending anything after a
// FinalStep fails with ErrFinalized; the FinalStep itself finalizes the
// store.
func (s *Store) Append(step Step) (int, error) {
	if step == nil {
		return 0, errors.New("memory: nil step")
	}
	if s.finalized {
		return 0, ErrFinalized
	}
	idx := len(s.entries)
	s.entries = append(s.entries, Entry{Index: idx, At: s.now(), Step: step})
	if step.Kind() == KindFinal {
		s.finalized = true
	}
	return idx, nil
}

// AmendPlan rewrites the plan text of the newest entry. It is only legal
// while that entry is a PlanningStep and nothing has been appended after it;
// this is the human-in-the-loop edit window before the loop resumes.
func (s *Store) AmendPlan(newPlan string) error {
	if len(s.entries) == 0 {
		return ErrNoPlanToAmend
	}
	last := &s.entries[len(s.entries)-1]
	ps, ok := last.Step.(PlanningStep)
	if !ok {
		return ErrNoPlanToAmend
	}
	ps.Plan = newPlan
	ps.Edited = true
	last.Step = ps
	return nil
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Finalized reports whether a FinalStep has been appended.
func (s *Store) Finalized() bool { return s.finalized }

// Entries returns a copy of the transcript rows.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Last returns the newest entry, or false when the store is empty.
func (s *Store) Last() (Entry, bool) {
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Final returns the terminal step if the run finished.
func (s *Store) Final() (FinalStep, bool) {
	if !s.finalized {
		return FinalStep{}, false
	}
	fs, ok := s.entries[len(s.entries)-1].Step.(FinalStep)
	return fs, ok
}

// LastObservation returns the most recent non-empty action observation, or
// the captured error text when the step failed. Used to synthesize a
// best-effort answer on step-budget exhaustion.
func (s *Store) LastObservation() string {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if as, ok := s.entries[i].Step.(ActionStep); ok {
			if as.Observation != "" {
				return as.Observation
			}
			if as.Error != "" {
				return as.Error
			}
		}
	}
	return ""
}

// Reset discards all entries, returning the store to its initial state.
// Used when a run starts with resetHistory=true.
func (s *Store) Reset() {
	s.entries = nil
	s.finalized = false
}

// BeginTurn reopens a finalized store for a follow-up task. The previous
// turn's entries, its final answer included, stay as leading context; only
// the finalization latch is cleared. Within each turn the FinalStep is
// still the last entry.
func (s *Store) BeginTurn() {
	s.finalized = false
}

// Validate checks the store invariants: contiguous indices from 0 and each
// FinalStep either last or immediately followed by the next turn's
// TaskStep.
func (s *Store) Validate() error {
	for i, e := range s.entries {
		if e.Index != i {
			return fmt.Errorf("memory: entry %d carries index %d", i, e.Index)
		}
		if e.Step.Kind() != KindFinal || i == len(s.entries)-1 {
			continue
		}
		if s.entries[i+1].Step.Kind() != KindTask {
			return fmt.Errorf("memory: final step at index %d is followed by %s", i, s.entries[i+1].Step.Kind())
		}
	}
	return nil
}

// Replay rebuilds a store from a recorded step sequence. A transcript is a
// deterministic function of its steps, so replaying the steps of one store
// into a fresh one yields an identical sequence of kinds and payloads.
func Replay(steps []Step) (*Store, error) {
	s := NewStore()
	for _, step := range steps {
		if s.finalized && step.Kind() == KindTask {
			s.BeginTurn()
		}
		if _, err := s.Append(step); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Steps returns the bare step sequence, suitable for Replay.
func (s *Store) Steps() []Step {
	out := make([]Step, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Step
	}
	return out
}
