package registry

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// writePrefixes mark tools that create or modify files.
var writePrefixes = []string{"write_", "update_", "export_"}

// WriteToolFilter hides file-writing tools unless writes are enabled in config.
type WriteToolFilter struct {
	allowWrites bool
}

// NewWriteToolFilter constructs a filter; allow mirrors security.enable_writes.
func NewWriteToolFilter(allow bool) *WriteToolFilter {
	return &WriteToolFilter{allowWrites: allow}
}

// AllowsWrites reports whether write tools are exposed.
func (f *WriteToolFilter) AllowsWrites() bool {
	return f.allowWrites
}

// FilterTools implements server tool filtering semantics.
func (f *WriteToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.allowWrites {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if isWriteTool(t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isWriteTool(name string) bool {
	n := strings.ToLower(name)
	for _, p := range writePrefixes {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}
