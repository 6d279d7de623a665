// Package recall indexes run observations for keyword search, so content
// pruned from the reasoning window stays reachable through a capability.
package recall

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Document is one indexed transcript fragment.
type Document struct {
	ID     string `json:"id"`
	RunID  string `json:"run_id"`
	Agent  string `json:"agent"`
	Step   int    `json:"step"`
	Kind   string `json:"kind"` // observation, plan, error
	Text   string `json:"text"`
}

// Result is one search hit.
type Result struct {
	ID    string
	RunID string
	Kind  string
	Score float64
	Text  string
}

// Index is a full-text index over transcript fragments.
type Index struct {
	index bleve.Index
}

// Open opens or creates the index at path. An empty path gives an
// in-memory index. A corrupted on-disk index is recreated.
func Open(path string) (*Index, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory recall index: %w", err)
		}
		return &Index{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create recall index: %w", err)
		}
		return &Index{index: idx}, nil
	}
	if err != nil {
		// Corrupted index: drop and recreate rather than fail startup.
		if idx != nil {
			idx.Close()
		}
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("remove corrupted recall index: %w", rmErr)
		}
		idx, err = bleve.New(path, buildMapping())
		if err != nil {
			return nil, fmt.Errorf("recreate recall index: %w", err)
		}
	}
	return &Index{index: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	keywordField := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		f.Index = true
		return f
	}
	docMapping.AddFieldMappingsAt("run_id", keywordField())
	docMapping.AddFieldMappingsAt("agent", keywordField())
	docMapping.AddFieldMappingsAt("kind", keywordField())

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	textField.Index = true
	docMapping.AddFieldMappingsAt("text", textField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Add indexes one document.
func (ix *Index) Add(doc Document) error {
	return ix.index.Index(doc.ID, map[string]any{
		"run_id": doc.RunID,
		"agent":  doc.Agent,
		"step":   doc.Step,
		"kind":   doc.Kind,
		"text":   doc.Text,
	})
}

// Search returns the top k fragments matching query. An empty runID
// searches across all runs.
func (ix *Index) Search(query, runID string, k int) ([]Result, error) {
	match := bleve.NewMatchQuery(query)

	var req *bleve.SearchRequest
	if runID != "" {
		runQuery := bleve.NewTermQuery(runID)
		runQuery.SetField("run_id")
		req = bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, runQuery))
	} else {
		req = bleve.NewSearchRequest(match)
	}
	req.Size = k
	req.Fields = []string{"run_id", "kind", "text"}

	res, err := ix.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("recall search: %w", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["run_id"].(string); ok {
			r.RunID = v
		}
		if v, ok := hit.Fields["kind"].(string); ok {
			r.Kind = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			r.Text = v
		}
		out = append(out, r)
	}
	return out, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	return ix.index.Close()
}
