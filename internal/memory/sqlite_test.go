package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *TranscriptStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcripts.db")
	store, err := OpenTranscriptStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTranscriptRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	s := NewStore()
	for _, step := range []Step{
		SystemStep{Instructions: "sys"},
		TaskStep{Task: "do a thing"},
		PlanningStep{Plan: "1. think\n2. act", Usage: Usage{Prompt: 10, Completion: 5, Total: 15}},
		ActionStep{Number: 1, ToolName: "read_file", ToolArgs: map[string]any{"path": "a.txt"}, Observation: "hello", Duration: 30 * time.Millisecond},
		ActionStep{Number: 2, Error: "boom", ErrorKind: "execution"},
		FinalStep{Answer: "done", Reason: ExitFinalAnswer},
	} {
		_, err := s.Append(step)
		require.NoError(t, err)
	}

	require.NoError(t, store.SaveRun(ctx, "run-1", "tester", s.Entries()))

	loaded, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loaded, s.Len())

	for i, e := range loaded {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, s.Entries()[i].Step.Kind(), e.Step.Kind())
	}

	action := loaded[3].Step.(ActionStep)
	assert.Equal(t, "read_file", action.ToolName)
	assert.Equal(t, "hello", action.Observation)

	final := loaded[5].Step.(FinalStep)
	assert.Equal(t, ExitFinalAnswer, final.Reason)
}

func TestSaveRunReplacesPreviousRows(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	s := NewStore()
	_, err := s.Append(TaskStep{Task: "first"})
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, "run-1", "tester", s.Entries()))

	_, err = s.Append(FinalStep{Answer: "x", Reason: ExitFinalAnswer})
	require.NoError(t, err)
	require.NoError(t, store.SaveRun(ctx, "run-1", "tester", s.Entries()))

	loaded, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Steps)
}

func TestLoadUnknownRunIsEmpty(t *testing.T) {
	store := openTestStore(t)
	loaded, err := store.LoadRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
