package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestServerHooks_LogToolCalls(t *testing.T) {
	var buf bytes.Buffer
	hooks := NewServerHooks(zerolog.New(&buf))
	require.Len(t, hooks.OnBeforeCallTool, 1)
	require.Len(t, hooks.OnAfterCallTool, 1)

	ctx := context.Background()
	req := &mcp.CallToolRequest{}
	req.Params.Name = "factor_analysis"

	hooks.OnBeforeCallTool[0](ctx, 7, req)
	hooks.OnAfterCallTool[0](ctx, 7, req, mcp.NewToolResultText("ok"))
	out := buf.String()
	require.Contains(t, out, `"tool":"factor_analysis"`)
	require.Contains(t, out, `"duration"`)
	require.Contains(t, out, `"level":"info"`)

	buf.Reset()
	hooks.OnAfterCallTool[0](ctx, 8, req, mcp.NewToolResultError("VALIDATION: bad"))
	out = buf.String()
	require.Contains(t, out, `"level":"warn"`)
	require.Contains(t, out, `"tool_error":true`)
	require.NotContains(t, out, `"duration"`)
}

func TestServerHooks_LogErrors(t *testing.T) {
	var buf bytes.Buffer
	hooks := NewServerHooks(zerolog.New(&buf))
	require.Len(t, hooks.OnError, 1)

	hooks.OnError[0](context.Background(), 1, mcp.MethodToolsCall, nil, errors.New("boom"))
	require.Contains(t, buf.String(), `"method":"tools/call"`)
	require.Contains(t, buf.String(), `"error":"boom"`)
}
