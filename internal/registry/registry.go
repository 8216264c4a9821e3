package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/tmc/langchaingo/llms"
)

// minSummaryChars keeps text summaries useful for models with tiny or unknown windows.
const minSummaryChars = 1024

// ToolProvider resolves MCP tool definitions and associates runtime metadata.
type ToolProvider interface {
	Tools(context.Context) ([]mcp.Tool, error)
}

var _ ToolProvider = (*Registry)(nil)

// Registry maintains tool definitions and the text budget for tool summaries.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]mcp.Tool
	summaryChars int
}

// New constructs an empty Registry ready for tool population.
func New() *Registry {
	return &Registry{
		tools:        map[string]mcp.Tool{},
		summaryChars: minSummaryChars,
	}
}

// UseModelBudget sizes text summaries to roughly 1/32 of the model's context window,
// at about four characters per token.
func (r *Registry) UseModelBudget(modelName string) int {
	n := r.ModelContextSize(modelName) / 32 * 4
	if n < minSummaryChars {
		n = minSummaryChars
	}
	r.mu.Lock()
	r.summaryChars = n
	r.mu.Unlock()
	return n
}

// SummaryLimit returns the maximum length of a tool's text summary.
func (r *Registry) SummaryLimit() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summaryChars
}

// Register stores a tool definition for discovery.
func (r *Registry) Register(tool mcp.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[tool.Name] = tool
}

// Get returns a tool by name when present.
func (r *Registry) Get(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns a stable-sorted list of registered tool definitions.
func (r *Registry) Tools(ctx context.Context) ([]mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]mcp.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}

	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})

	return tools, nil
}

// ModelContextSize exposes the given model's context window in tokens.
func (r *Registry) ModelContextSize(modelName string) int {
	return llms.GetModelContextSize(modelName)
}
