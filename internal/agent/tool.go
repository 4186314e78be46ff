package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"biochat/internal/domain"
)

// Searcher retrieves the chunks most relevant to a query.
type Searcher interface {
	Retrieve(ctx context.Context, query string, topK int) ([]domain.SearchResult, error)
}

// RetrievalTool exposes the knowledge base to the model as a function tool.
type RetrievalTool struct {
	searcher Searcher
	topK     int
}

func NewRetrievalTool(searcher Searcher, topK int) *RetrievalTool {
	if topK <= 0 {
		topK = 3
	}
	return &RetrievalTool{searcher: searcher, topK: topK}
}

func (t *RetrievalTool) Name() string { return toolName }

// Definition describes the tool in the chat completions request.
func (t *RetrievalTool) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolName,
			Description: toolDescription,
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {
						Type:        jsonschema.String,
						Description: "A standalone search query about Paul Allen.",
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

// Call runs the tool with JSON-encoded arguments and returns numbered context passages.
func (t *RetrievalTool) Call(ctx context.Context, arguments string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("decode %s arguments: %w", toolName, err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("%s: query is required", toolName)
	}
	results, err := t.searcher.Retrieve(ctx, args.Query, t.topK)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	n := 0
	for _, r := range results {
		text := strings.TrimSpace(r.Chunk.Text)
		if text == "" {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", n, text)
	}
	if n == 0 {
		return noResults, nil
	}
	return b.String(), nil
}
