package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsContiguousIndices(t *testing.T) {
	s := NewStore()

	steps := []Step{
		SystemStep{Instructions: "be useful"},
		TaskStep{Task: "count to three"},
		ActionStep{Number: 1, Observation: "1"},
		ActionStep{Number: 2, Observation: "2"},
	}
	for i, step := range steps {
		idx, err := s.Append(step)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	require.NoError(t, s.Validate())
	assert.Equal(t, len(steps), s.Len())
}

func TestFinalStepFinalizesStore(t *testing.T) {
	s := NewStore()
	_, err := s.Append(TaskStep{Task: "t"})
	require.NoError(t, err)
	_, err = s.Append(FinalStep{Answer: "done", Reason: ExitFinalAnswer})
	require.NoError(t, err)

	assert.True(t, s.Finalized())
	_, err = s.Append(ActionStep{Number: 1})
	assert.ErrorIs(t, err, ErrFinalized)

	final, ok := s.Final()
	require.True(t, ok)
	assert.Equal(t, "done", final.Answer)
	assert.Equal(t, ExitFinalAnswer, final.Reason)
}

func TestAmendPlanOnlyWhileNewest(t *testing.T) {
	s := NewStore()

	assert.ErrorIs(t, s.AmendPlan("x"), ErrNoPlanToAmend)

	_, err := s.Append(PlanningStep{Plan: "original"})
	require.NoError(t, err)
	require.NoError(t, s.AmendPlan("revised"))

	last, ok := s.Last()
	require.True(t, ok)
	ps := last.Step.(PlanningStep)
	assert.Equal(t, "revised", ps.Plan)
	assert.True(t, ps.Edited)

	// Once anything follows the plan, the edit window is closed.
	_, err = s.Append(ActionStep{Number: 1, Observation: "ok"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.AmendPlan("too late"), ErrNoPlanToAmend)
}

func TestLastObservationFallsBackToError(t *testing.T) {
	s := NewStore()
	_, err := s.Append(ActionStep{Number: 1, Observation: "first"})
	require.NoError(t, err)
	_, err = s.Append(ActionStep{Number: 2, Error: "boom", ErrorKind: "execution"})
	require.NoError(t, err)

	assert.Equal(t, "boom", s.LastObservation())
}

func TestReplayReproducesTranscript(t *testing.T) {
	s := NewStore()
	for _, step := range []Step{
		SystemStep{Instructions: "sys"},
		TaskStep{Task: "task"},
		PlanningStep{Plan: "plan"},
		ActionStep{Number: 1, Code: "print(1)", Observation: "1"},
		FinalStep{Answer: "1", Reason: ExitFinalAnswer},
	} {
		_, err := s.Append(step)
		require.NoError(t, err)
	}

	replayed, err := Replay(s.Steps())
	require.NoError(t, err)
	require.NoError(t, replayed.Validate())
	assert.Equal(t, s.Steps(), replayed.Steps())
	assert.True(t, replayed.Finalized())
}

func TestResetClearsFinalization(t *testing.T) {
	s := NewStore()
	_, err := s.Append(FinalStep{Answer: "x", Reason: ExitFatalError})
	require.NoError(t, err)

	s.Reset()
	assert.Zero(t, s.Len())
	assert.False(t, s.Finalized())
	_, err = s.Append(TaskStep{Task: "again"})
	assert.NoError(t, err)
}

func TestBeginTurnReopensFinalizedStore(t *testing.T) {
	s := NewStore()
	_, err := s.Append(TaskStep{Task: "one"})
	require.NoError(t, err)
	_, err = s.Append(FinalStep{Answer: "a", Reason: ExitFinalAnswer})
	require.NoError(t, err)

	s.BeginTurn()
	assert.False(t, s.Finalized())
	_, err = s.Append(TaskStep{Task: "two"})
	require.NoError(t, err)
	_, err = s.Append(FinalStep{Answer: "b", Reason: ExitFinalAnswer})
	require.NoError(t, err)

	require.NoError(t, s.Validate())
	assert.Equal(t, 4, s.Len())

	// Replay crosses the turn boundary the same way.
	replayed, err := Replay(s.Steps())
	require.NoError(t, err)
	assert.Equal(t, s.Steps(), replayed.Steps())
}

func TestSnapshotTruncatesOldObservationsOnly(t *testing.T) {
	s := NewStore()
	long := strings.Repeat("x", 50)
	for i := 1; i <= 4; i++ {
		_, err := s.Append(ActionStep{Number: i, Observation: long})
		require.NoError(t, err)
	}

	policy := RetentionPolicy{Enabled: true, KeepRecentActions: 2, MaxObservationChars: 10}
	snap := s.Snapshot(policy)

	first := snap[0].Step.(ActionStep)
	assert.True(t, strings.HasPrefix(first.Observation, strings.Repeat("x", 10)))
	assert.Contains(t, first.Observation, ElidedMarker)

	last := snap[3].Step.(ActionStep)
	assert.Equal(t, long, last.Observation)

	// The underlying log is untouched.
	stored := s.Entries()[0].Step.(ActionStep)
	assert.Equal(t, long, stored.Observation)
}

func TestSnapshotElidesEntirelyAtZeroChars(t *testing.T) {
	s := NewStore()
	_, err := s.Append(ActionStep{Number: 1, Observation: "payload"})
	require.NoError(t, err)
	_, err = s.Append(ActionStep{Number: 2, Observation: "recent"})
	require.NoError(t, err)

	snap := s.Snapshot(RetentionPolicy{Enabled: true, KeepRecentActions: 1, MaxObservationChars: 0})
	assert.Equal(t, ElidedMarker, snap[0].Step.(ActionStep).Observation)
	assert.Equal(t, "recent", snap[1].Step.(ActionStep).Observation)
}
