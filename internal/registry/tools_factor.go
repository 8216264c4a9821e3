package registry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/nervozny/factor/internal/dataset"
	"github.com/nervozny/factor/internal/export"
	"github.com/nervozny/factor/internal/factor"
	"github.com/nervozny/factor/internal/runtime"
	"github.com/nervozny/factor/internal/security"
	"github.com/nervozny/factor/pkg/mcperr"
	"github.com/nervozny/factor/pkg/pagination"
	"github.com/nervozny/factor/pkg/validation"
	"github.com/rs/zerolog"
)

// SavePathValidator vets export destinations (implemented by security.Manager).
type SavePathValidator interface {
	ValidateSavePath(path string) (string, error)
}

// FactorTools serves the dataset and factor analysis tools.
type FactorTools struct {
	Limits       runtime.Limits
	Datasets     *dataset.Cache
	Engine       *factor.Engine
	SavePaths    SavePathValidator
	AllowWrites  bool
	XAxis        string
	YAxis        string
	SummaryLimit int
}

var openRules = []mcperr.Classifier{
	{Err: security.ErrNotAllowed, Code: mcperr.PermissionDenied},
	{Err: security.ErrUnsupportedExtension, Code: mcperr.UnsupportedFormat},
	{Err: dataset.ErrUnsupportedFormat, Code: mcperr.UnsupportedFormat},
	{Err: dataset.ErrHandleNotFound, Code: mcperr.InvalidHandle},
	{Err: runtime.ErrDatasetLimit, Code: mcperr.BusyResource},
	{Err: context.DeadlineExceeded, Code: mcperr.Timeout},
}

var queryRules = []mcperr.Classifier{
	{Err: factor.ErrInvalidInterval, Code: mcperr.InvalidInterval},
	{Err: factor.ErrDegenerateAxes, Code: mcperr.DegenerateAxes},
	{Err: factor.ErrUnknownAxis, Code: mcperr.Validation},
	{Err: dataset.ErrUnknownLabel, Code: mcperr.Validation},
	{Err: dataset.ErrHandleNotFound, Code: mcperr.InvalidHandle},
	{Err: context.DeadlineExceeded, Code: mcperr.Timeout},
}

var exportRules = []mcperr.Classifier{
	{Err: security.ErrNotAllowed, Code: mcperr.PermissionDenied},
	{Err: security.ErrNotFound, Code: mcperr.ExportFailed},
	{Err: security.ErrUnsupportedExtension, Code: mcperr.UnsupportedFormat},
	{Err: context.DeadlineExceeded, Code: mcperr.Timeout},
}

// RegisterFactorTools wires load_dataset, close_dataset, list_dimensions,
// factor_analysis and write_factor_workbook.
func RegisterFactorTools(s *server.MCPServer, reg *Registry, ft *FactorTools) {
	load := mcp.NewTool(
		"load_dataset",
		mcp.WithDescription("Load a sales dataset workbook (sheets: sales, products, clients, plus optional dictionary sheets branch, brand, manager, group, channel, mark) and return a dataset_id handle. Reloading the same path reuses the open handle. Handles expire after an idle period. Errors: VALIDATION, PERMISSION_DENIED, UNSUPPORTED_FORMAT, BUSY_RESOURCE (too many open datasets), LOAD_FAILED."),
		mcp.WithInputSchema[LoadDatasetInput](),
		mcp.WithOutputSchema[DatasetInfo](),
	)
	s.AddTool(load, mcp.NewTypedToolHandler(ft.LoadDataset))
	reg.Register(load)

	closeTool := mcp.NewTool(
		"close_dataset",
		mcp.WithDescription("Release a dataset handle and its memory. Errors: VALIDATION, INVALID_HANDLE."),
		mcp.WithInputSchema[CloseDatasetInput](),
		mcp.WithOutputSchema[CloseDatasetOutput](),
	)
	s.AddTool(closeTool, mcp.NewTypedToolHandler(ft.CloseDataset))
	reg.Register(closeTool)

	dims := mcp.NewTool(
		"list_dimensions",
		mcp.WithDescription("List the labels selectable for each filter dimension (branch, channel, brand, manager, group, mark), the pivot axes, and the default comparison periods. Use the labels verbatim in factor_analysis filters."),
		mcp.WithInputSchema[ListDimensionsInput](),
		mcp.WithOutputSchema[ListDimensionsOutput](),
	)
	s.AddTool(dims, mcp.NewTypedToolHandler(ft.ListDimensions))
	reg.Register(dims)

	analysis := mcp.NewTool(
		"factor_analysis",
		mcp.WithDescription("Explain the change in gross profit between a base and a fact period for every product-client pair, split into price, cost and structure (volume/mix) effects. Filters are conjunctive across dimensions and permissive within one; omitted periods use the default window. Returns totals, X categories ranked by fact revenue with cumulative share, and three Y-by-X matrices (price, cost, structure). Set include_records for a page of product-client rows and follow next_cursor with the same query. Errors: VALIDATION, INVALID_INTERVAL, DEGENERATE_AXES, INVALID_HANDLE, CURSOR_INVALID, TIMEOUT, ANALYSIS_FAILED."),
		mcp.WithInputSchema[FactorAnalysisInput](),
		mcp.WithOutputSchema[FactorAnalysisOutput](),
	)
	s.AddTool(analysis, mcp.NewTypedToolHandler(ft.FactorAnalysis))
	reg.Register(analysis)

	write := mcp.NewTool(
		"write_factor_workbook",
		mcp.WithDescription("Run a factor query and write an .xlsx report: a product-client sheet with every enriched record, and price, cost and structure sheets holding the matrices. Only available when writes are enabled. Errors: VALIDATION, INVALID_INTERVAL, DEGENERATE_AXES, PERMISSION_DENIED, EXPORT_FAILED."),
		mcp.WithInputSchema[WriteFactorWorkbookInput](),
		mcp.WithOutputSchema[WriteFactorWorkbookOutput](),
	)
	s.AddTool(write, mcp.NewTypedToolHandler(ft.WriteFactorWorkbook))
	reg.Register(write)
}

// LoadDataset handles load_dataset.
func (ft *FactorTools) LoadDataset(ctx context.Context, req mcp.CallToolRequest, in LoadDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	id, _, err := ft.Datasets.GetOrOpenByPath(ctx, strings.TrimSpace(in.Path))
	if err != nil {
		return mcperr.FromError(err, mcperr.LoadFailed, openRules...), nil
	}
	info, err := ft.describe(id)
	if err != nil {
		return mcperr.FromError(err, mcperr.LoadFailed, openRules...), nil
	}
	summary := fmt.Sprintf("dataset_id=%s facts=%d products=%d clients=%d dates=%s..%s", info.DatasetID, info.Facts, info.Products, info.Clients, info.FirstDate, info.LastDate)
	res := mcp.NewToolResultStructured(info, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(summary)}
	return res, nil
}

// CloseDataset handles close_dataset.
func (ft *FactorTools) CloseDataset(ctx context.Context, req mcp.CallToolRequest, in CloseDatasetInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	if err := ft.Datasets.CloseHandle(ctx, in.DatasetID); err != nil {
		return mcperr.FromError(err, mcperr.InvalidHandle, openRules...), nil
	}
	out := CloseDatasetOutput{DatasetID: in.DatasetID, Closed: true}
	summary := "closed " + in.DatasetID
	res := mcp.NewToolResultStructured(out, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(summary)}
	return res, nil
}

// ListDimensions handles list_dimensions.
func (ft *FactorTools) ListDimensions(ctx context.Context, req mcp.CallToolRequest, in ListDimensionsInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	id, errRes := ft.resolve(ctx, in.DatasetRef)
	if errRes != nil {
		return errRes, nil
	}

	base, fact := ft.Engine.DefaultPeriods()
	out := ListDimensionsOutput{
		DatasetID:     id,
		DefaultXAxis:  ft.XAxis,
		DefaultYAxis:  ft.YAxis,
		DefaultPeriod: periodPair(base, fact),
	}
	for _, a := range factor.Axes {
		out.Axes = append(out.Axes, string(a))
	}
	err := ft.Datasets.WithDataset(id, func(ds *dataset.Dataset) error {
		for _, d := range dataset.Dimensions {
			labels := ds.Dictionary(d).Labels()
			if labels == nil {
				labels = []string{}
			}
			out.Dimensions = append(out.Dimensions, DimensionLabels{Dimension: string(d), Labels: labels})
		}
		return nil
	})
	if err != nil {
		return mcperr.FromError(err, mcperr.InvalidHandle, openRules...), nil
	}

	lines := []string{fmt.Sprintf("dataset_id=%s axes=%s", id, strings.Join(out.Axes, ","))}
	for _, d := range out.Dimensions {
		lines = append(lines, fmt.Sprintf("- %s (%d): %s", d.Dimension, len(d.Labels), previewLabels(d.Labels, 8)))
	}
	text := ft.clip(strings.Join(lines, "\n"))
	res := mcp.NewToolResultStructured(out, lines[0])
	res.Content = []mcp.Content{mcp.NewTextContent(text)}
	return res, nil
}

// FactorAnalysis handles factor_analysis.
func (ft *FactorTools) FactorAnalysis(ctx context.Context, req mcp.CallToolRequest, in FactorAnalysisInput) (*mcp.CallToolResult, error) {
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	id, errRes := ft.resolve(ctx, in.DatasetRef)
	if errRes != nil {
		return errRes, nil
	}

	var (
		result *factor.Result
		qh     string
	)
	err := ft.Datasets.WithDataset(id, func(ds *dataset.Dataset) error {
		q, err := ft.buildQuery(ds, in.FactorQueryInput)
		if err != nil {
			return err
		}
		result, err = ft.Engine.Run(ctx, ds, q)
		if err != nil {
			return err
		}
		qh = queryHash(id, result.Query)
		return nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("dataset_id", id).Msg("factor analysis rejected")
		return mcperr.FromError(err, mcperr.AnalysisFailed, queryRules...), nil
	}

	out := FactorAnalysisOutput{
		DatasetID: id,
		Period:    periodPair(result.Query.Base, result.Query.Fact),
		XAxis:     string(result.Query.X),
		YAxis:     string(result.Query.Y),
		Summary:   result.Summary,
		Ranking:   result.Ranking,
		Pivots:    result.Pivots[:],
	}

	if in.IncludeRecords || in.Cursor != "" {
		off, ps := 0, ft.Limits.ClampPageSize(in.PageSize)
		if in.Cursor != "" {
			cur, err := pagination.DecodeCursor(in.Cursor)
			if err != nil || !cur.Matches(id, qh) {
				return mcperr.New(mcperr.CursorInvalid, ""), nil
			}
			off = cur.Off
			if in.PageSize <= 0 {
				ps = ft.Limits.ClampPageSize(cur.Ps)
			}
		}
		start, end, more := pagination.Page(len(result.Records), off, ps)
		out.Records = result.Records[start:end]
		out.Page = &PageMeta{Offset: start, Returned: end - start, Total: len(result.Records)}
		if more {
			next, err := pagination.EncodeCursor(pagination.Cursor{Did: id, Qh: qh, Off: pagination.NextOffset(start, end-start), Ps: ps})
			if err != nil {
				return mcperr.Wrapf(mcperr.AnalysisFailed, "encode cursor: %v", err), nil
			}
			out.Page.NextCursor = next
		}
	}

	summary := summaryLine(out)
	res := mcp.NewToolResultStructured(out, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(ft.clip(analysisText(out)))}
	return res, nil
}

// WriteFactorWorkbook handles write_factor_workbook.
func (ft *FactorTools) WriteFactorWorkbook(ctx context.Context, req mcp.CallToolRequest, in WriteFactorWorkbookInput) (*mcp.CallToolResult, error) {
	if !ft.AllowWrites {
		return mcperr.New(mcperr.PermissionDenied, "writes are disabled on this server"), nil
	}
	if msg := validation.ValidateStruct(in); msg != "" {
		return mcperr.FromText(msg), nil
	}
	target := in.OutputPath
	if ft.SavePaths != nil {
		p, err := ft.SavePaths.ValidateSavePath(in.OutputPath)
		if err != nil {
			return mcperr.FromError(err, mcperr.ExportFailed, exportRules...), nil
		}
		target = p
	}
	id, errRes := ft.resolve(ctx, in.DatasetRef)
	if errRes != nil {
		return errRes, nil
	}

	var result *factor.Result
	err := ft.Datasets.WithDataset(id, func(ds *dataset.Dataset) error {
		q, err := ft.buildQuery(ds, in.FactorQueryInput)
		if err != nil {
			return err
		}
		result, err = ft.Engine.Run(ctx, ds, q)
		return err
	})
	if err != nil {
		return mcperr.FromError(err, mcperr.AnalysisFailed, queryRules...), nil
	}
	if err := export.Write(ctx, target, result); err != nil {
		return mcperr.FromError(err, mcperr.ExportFailed, exportRules...), nil
	}

	sheets := []string{export.SheetRecords}
	for _, pm := range result.Pivots {
		sheets = append(sheets, string(pm.Measure))
	}
	out := WriteFactorWorkbookOutput{
		DatasetID: id,
		Path:      target,
		Records:   len(result.Records),
		Sheets:    sheets,
		Period:    periodPair(result.Query.Base, result.Query.Fact),
	}
	summary := fmt.Sprintf("wrote %s records=%d sheets=%s", target, out.Records, strings.Join(sheets, ","))
	res := mcp.NewToolResultStructured(out, summary)
	res.Content = []mcp.Content{mcp.NewTextContent(summary)}
	return res, nil
}

// resolve returns a live handle id for ref, opening the path when no id is given.
func (ft *FactorTools) resolve(ctx context.Context, ref DatasetRef) (string, *mcp.CallToolResult) {
	if id := strings.TrimSpace(ref.DatasetID); id != "" {
		if _, ok := ft.Datasets.Get(id); !ok {
			return "", mcperr.New(mcperr.InvalidHandle, "")
		}
		return id, nil
	}
	id, _, err := ft.Datasets.GetOrOpenByPath(ctx, strings.TrimSpace(ref.Path))
	if err != nil {
		return "", mcperr.FromError(err, mcperr.LoadFailed, openRules...)
	}
	return id, nil
}

func (ft *FactorTools) describe(id string) (DatasetInfo, error) {
	h, ok := ft.Datasets.Get(id)
	if !ok {
		return DatasetInfo{}, dataset.ErrHandleNotFound
	}
	info := DatasetInfo{DatasetID: id, Path: h.Path, ExpiresAt: h.Expiry().UTC().Format(time.RFC3339)}
	err := ft.Datasets.WithDataset(id, func(ds *dataset.Dataset) error {
		info.Facts = len(ds.Facts)
		info.Products = len(ds.Products)
		info.Clients = len(ds.Clients)
		var first, last time.Time
		for _, f := range ds.Facts {
			if first.IsZero() || f.Date.Before(first) {
				first = f.Date
			}
			if f.Date.After(last) {
				last = f.Date
			}
		}
		if !first.IsZero() {
			info.FirstDate = first.Format(validation.DateLayout)
			info.LastDate = last.Format(validation.DateLayout)
		}
		return nil
	})
	return info, err
}

// buildQuery translates tool input into a factor.Query, resolving labels through
// the dataset dictionaries.
func (ft *FactorTools) buildQuery(ds *dataset.Dataset, in FactorQueryInput) (factor.Query, error) {
	var q factor.Query
	var err error
	if q.Base, err = parsePeriod(in.BasePeriod); err != nil {
		return q, fmt.Errorf("base_period: %w", err)
	}
	if q.Fact, err = parsePeriod(in.FactPeriod); err != nil {
		return q, fmt.Errorf("fact_period: %w", err)
	}

	x, y := in.XAxis, in.YAxis
	if strings.TrimSpace(x) == "" {
		x = ft.XAxis
	}
	if strings.TrimSpace(y) == "" {
		y = ft.YAxis
	}
	q.X, q.Y = factor.Axis(x), factor.Axis(y)

	labels := map[dataset.Dimension][]string{
		dataset.Branch:  in.Branch,
		dataset.Channel: in.Channel,
		dataset.Brand:   in.Brand,
		dataset.Manager: in.Manager,
		dataset.Group:   in.Group,
		dataset.Mark:    in.Mark,
	}
	q.Selection = factor.Selection{}
	for _, d := range dataset.Dimensions {
		if len(labels[d]) == 0 {
			continue
		}
		ids, err := ds.Dictionary(d).IDs(labels[d])
		if err != nil {
			return q, fmt.Errorf("%s: %w", d, err)
		}
		q.Selection[d] = ids
	}
	return q, nil
}

// parsePeriod accepts nothing (default window) or exactly [start, end].
func parsePeriod(ends []string) (factor.Interval, error) {
	if len(ends) == 0 {
		return factor.Interval{}, nil
	}
	points := make([]time.Time, 0, len(ends))
	for _, s := range ends {
		t, err := time.Parse(validation.DateLayout, strings.TrimSpace(s))
		if err != nil {
			return factor.Interval{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", factor.ErrInvalidInterval, s)
		}
		points = append(points, t)
	}
	return factor.NewInterval(points...)
}

func periodPair(base, fact factor.Interval) PeriodPair {
	f := func(iv factor.Interval) []string {
		return []string{iv.Start.Format(validation.DateLayout), iv.End.Format(validation.DateLayout)}
	}
	return PeriodPair{Base: f(base), Fact: f(fact)}
}

// queryHash binds cursors to a dataset and the fully resolved query.
func queryHash(datasetID string, q factor.Query) string {
	parts := []string{
		datasetID,
		q.Base.Start.Format(validation.DateLayout), q.Base.End.Format(validation.DateLayout),
		q.Fact.Start.Format(validation.DateLayout), q.Fact.End.Format(validation.DateLayout),
		string(q.X), string(q.Y),
	}
	for _, d := range dataset.Dimensions {
		ids := append([]int64(nil), q.Selection[d]...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		strs := make([]string, len(ids))
		for i, id := range ids {
			strs[i] = strconv.FormatInt(id, 10)
		}
		parts = append(parts, string(d)+"="+strings.Join(strs, ","))
	}
	return pagination.QueryHash(parts...)
}

func (ft *FactorTools) clip(text string) string {
	limit := ft.SummaryLimit
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := strings.LastIndexByte(text[:limit], '\n')
	if cut <= 0 {
		cut = limit
	}
	return text[:cut] + "\n… (truncated; see structured content)"
}

func previewLabels(labels []string, n int) string {
	if len(labels) <= n {
		return strings.Join(labels, ", ")
	}
	return strings.Join(labels[:n], ", ") + fmt.Sprintf(", … +%d", len(labels)-n)
}
