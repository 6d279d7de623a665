package recall

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/reagent/internal/engine"
	"github.com/ChamsBouzaiene/reagent/internal/memory"
)

func openMemIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestSearchRanksMatchingText(t *testing.T) {
	idx := openMemIndex(t)

	docs := []Document{
		{ID: "r1/action/1", RunID: "r1", Agent: "tester", Step: 1, Kind: "observation", Text: "fetched the weather report for Paris"},
		{ID: "r1/action/2", RunID: "r1", Agent: "tester", Step: 2, Kind: "observation", Text: "computed the fibonacci sequence"},
		{ID: "r2/action/1", RunID: "r2", Agent: "tester", Step: 1, Kind: "observation", Text: "weather in Berlin is cloudy"},
	}
	for _, d := range docs {
		require.NoError(t, idx.Add(d))
	}

	results, err := idx.Search("weather", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Contains(t, r.Text, "weather")
		assert.Equal(t, "observation", r.Kind)
		assert.Greater(t, r.Score, 0.0)
	}

	results, err = idx.Search("fibonacci", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1/action/2", results[0].ID)
}

func TestSearchFiltersByRun(t *testing.T) {
	idx := openMemIndex(t)

	require.NoError(t, idx.Add(Document{ID: "r1/action/1", RunID: "r1", Kind: "observation", Text: "weather in Paris"}))
	require.NoError(t, idx.Add(Document{ID: "r2/action/1", RunID: "r2", Kind: "observation", Text: "weather in Berlin"}))

	results, err := idx.Search("weather", "r2", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].RunID)
}

func TestSearchHonorsLimit(t *testing.T) {
	idx := openMemIndex(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Add(Document{
			ID:    fmt.Sprintf("r1/action/%d", i+1),
			RunID: "r1", Kind: "observation",
			Text: fmt.Sprintf("observation about databases number %d", i+1),
		}))
	}

	results, err := idx.Search("databases", "", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestOpenCreatesAndReopensOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.bleve")

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.Add(Document{ID: "r1/action/1", RunID: "r1", Kind: "observation", Text: "persisted fragment"}))
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	defer idx.Close()

	results, err := idx.Search("persisted", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1/action/1", results[0].ID)
}

func TestHookIndexesObservationsAndErrors(t *testing.T) {
	idx := openMemIndex(t)
	h := NewHook(idx, nil)
	info := engine.RunInfo{RunID: "r1", Agent: "tester", Step: 1}

	h.OnActionStep(context.Background(), info, memory.ActionStep{
		Number: 1, Observation: "downloaded the dataset",
	})
	h.OnActionStep(context.Background(), info, memory.ActionStep{
		Number: 2, Error: "connection refused by upstream", ErrorKind: "execution",
	})
	h.OnPlanningStep(context.Background(), info, memory.PlanningStep{Plan: "1. Download. 2. Summarize."})
	// Blank observations are skipped.
	h.OnActionStep(context.Background(), info, memory.ActionStep{Number: 3})

	results, err := idx.Search("dataset", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "observation", results[0].Kind)

	results, err = idx.Search("refused", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Kind)

	results, err = idx.Search("summarize", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "plan", results[0].Kind)
}

func TestCapabilityReturnsJSONResults(t *testing.T) {
	idx := openMemIndex(t)
	require.NoError(t, idx.Add(Document{ID: "r1/action/1", RunID: "r1", Kind: "observation", Text: "the answer was 42"}))

	recallCap := AsCapability(idx)
	require.Equal(t, "recall_memory", recallCap.Name)

	out, err := recallCap.Fn(context.Background(), map[string]any{"query": "answer"})
	require.NoError(t, err)

	var payload struct {
		Results []Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Len(t, payload.Results, 1)
	assert.Equal(t, "r1/action/1", payload.Results[0].ID)

	out, err = recallCap.Fn(context.Background(), map[string]any{"query": "nothing indexed matches this"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"results": []}`, out)
}
