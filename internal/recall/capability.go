package recall

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ChamsBouzaiene/reagent/internal/capability"
)

const searchSchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "Keywords to search earlier observations for."
		},
		"limit": {
			"type": "integer",
			"description": "Maximum number of results, default 5.",
			"minimum": 1,
			"maximum": 20
		}
	},
	"required": ["query"],
	"additionalProperties": false
}`

// AsCapability exposes the index as recall_memory, giving the reasoning
// engine a way back to observations pruned from its window.
func AsCapability(index *Index) capability.Capability {
	return capability.Capability{
		Name:        "recall_memory",
		Description: "Search earlier observations and plans from this and previous runs by keyword.",
		SchemaJSON:  searchSchema,
		Returns:     capability.ReturnJSON,
		Fn: func(_ context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			limit := 5
			if v, ok := args["limit"].(float64); ok && v >= 1 {
				limit = int(v)
			}

			results, err := index.Search(query, "", limit)
			if err != nil {
				return "", fmt.Errorf("recall failed: %w", err)
			}
			if len(results) == 0 {
				return `{"results": []}`, nil
			}
			out, err := json.Marshal(map[string]any{"results": results})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
