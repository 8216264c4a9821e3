package mcperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Code defines a canonical MCP error code used across tools.
type Code string

const (
	// Validation & Input
	Validation      Code = "VALIDATION"
	InvalidInterval Code = "INVALID_INTERVAL"
	DegenerateAxes  Code = "DEGENERATE_AXES"
	InvalidHandle   Code = "INVALID_HANDLE"
	CursorInvalid   Code = "CURSOR_INVALID"

	// Resource & Limits
	BusyResource Code = "BUSY_RESOURCE"
	Timeout      Code = "TIMEOUT"

	// IO & Analysis
	LoadFailed     Code = "LOAD_FAILED"
	AnalysisFailed Code = "ANALYSIS_FAILED"
	ExportFailed   Code = "EXPORT_FAILED"

	// Integrity
	UnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	PermissionDenied  Code = "PERMISSION_DENIED"
)

// Entry documents a code's standard message, retry semantics, and next steps.
type Entry struct {
	Code      Code
	Message   string
	Retryable bool
	NextSteps []string
}

var catalog = map[Code]Entry{
	Validation:      {Code: Validation, Message: "invalid inputs", Retryable: true, NextSteps: []string{"Correct the inputs per schema and retry", "Call list_dimensions for valid filter labels"}},
	InvalidInterval: {Code: InvalidInterval, Message: "period must have a start and an end, with end not before start", Retryable: true, NextSteps: []string{"Pass both endpoints as YYYY-MM-DD", "Omit the period to use the default window"}},
	DegenerateAxes:  {Code: DegenerateAxes, Message: "x and y axes must differ", Retryable: true, NextSteps: []string{"Pick two different axes from Branch, Channel, Brand, Group, Mark, Manager"}},
	InvalidHandle:   {Code: InvalidHandle, Message: "dataset handle not found or expired", Retryable: true, NextSteps: []string{"Reload the dataset via load_dataset or pass path"}},
	CursorInvalid:   {Code: CursorInvalid, Message: "cursor is invalid for current query", Retryable: true, NextSteps: []string{"Restart paging from the first page", "Reissue the query with the same parameters"}},

	BusyResource: {Code: BusyResource, Message: "concurrent request limit reached", Retryable: true, NextSteps: []string{"Retry after a short delay", "Close unused datasets"}},
	Timeout:      {Code: Timeout, Message: "operation exceeded configured time limit", Retryable: true, NextSteps: []string{"Narrow the filter selection or shorten the periods", "Increase the operation timeout"}},

	LoadFailed:     {Code: LoadFailed, Message: "failed to load dataset", Retryable: true, NextSteps: []string{"Verify the workbook has sales, products and clients sheets", "Check required column names"}},
	AnalysisFailed: {Code: AnalysisFailed, Message: "factor analysis failed", Retryable: true, NextSteps: []string{"Retry with a narrower selection"}},
	ExportFailed:   {Code: ExportFailed, Message: "failed to write factor workbook", Retryable: false, NextSteps: []string{"Verify the output directory exists and is writable", "Use an .xlsx output path"}},

	UnsupportedFormat: {Code: UnsupportedFormat, Message: "unsupported workbook format", Retryable: false, NextSteps: []string{"Convert to .xlsx and retry"}},
	PermissionDenied:  {Code: PermissionDenied, Message: "insufficient permissions to access path", Retryable: false, NextSteps: []string{"Choose a path inside an allowed directory"}},
}

// Lookup returns the catalog entry for code.
func Lookup(code Code) (Entry, bool) {
	e, ok := catalog[code]
	return e, ok
}

// normalize builds a standard error string including next steps for MCP clients that
// surface only a message string. Format: "CODE: message" followed by a guidance tail.
func normalize(code Code, msg string) string {
	base := strings.TrimSpace(msg)
	e, ok := catalog[code]
	if !ok {
		if base == "" {
			return string(code)
		}
		return fmt.Sprintf("%s: %s", string(code), base)
	}
	if base == "" {
		base = e.Message
	}
	guidance := ""
	if len(e.NextSteps) > 0 {
		guidance = " | nextSteps: " + strings.Join(e.NextSteps, "; ")
	}
	return fmt.Sprintf("%s: %s%s", e.Code, base, guidance)
}

// FromText parses a "CODE: message" string, enriches it with catalog guidance,
// and returns an MCP tool error result.
func FromText(text string) *mcp.CallToolResult {
	t := strings.TrimSpace(text)
	if t == "" {
		return mcp.NewToolResultError(normalize(Validation, ""))
	}
	parts := strings.SplitN(t, ":", 2)
	code := Code(strings.TrimSpace(parts[0]))
	msg := ""
	if len(parts) > 1 {
		msg = strings.TrimSpace(parts[1])
	}
	return mcp.NewToolResultError(normalize(code, msg))
}

// New returns an MCP error result for a given code and optional message override.
func New(code Code, message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, message))
}

// Wrapf formats details and returns an MCP error result for the code.
func Wrapf(code Code, format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(normalize(code, fmt.Sprintf(format, args...)))
}

// Classifier maps a Go error to a catalog code.
type Classifier struct {
	Err  error
	Code Code
}

// Classify returns the code of the first rule whose sentinel err matches,
// or fallback when none does.
func Classify(err error, fallback Code, rules ...Classifier) Code {
	for _, r := range rules {
		if errors.Is(err, r.Err) {
			return r.Code
		}
	}
	return fallback
}

// FromError renders err under the classified code.
func FromError(err error, fallback Code, rules ...Classifier) *mcp.CallToolResult {
	return New(Classify(err, fallback, rules...), err.Error())
}
