package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nervozny/factor/internal/dataset"
	"github.com/nervozny/factor/internal/export"
	"github.com/nervozny/factor/internal/factor"
	"github.com/nervozny/factor/internal/runtime"
)

func salesDataset() *dataset.Dataset {
	ds := &dataset.Dataset{
		Products: map[int64]dataset.ProductReference{
			1: {ProductID: 1, Article: "A-1", BrandID: 10, Brand: "Acme", GroupID: 20, Group: "Tools", MarkID: 30, Mark: "Top", ManagerID: 40, MarketingManager: "Ivanov"},
			2: {ProductID: 2, Article: "B-2", BrandID: 11, Brand: "Bolt", GroupID: 20, Group: "Tools", MarkID: 30, Mark: "Top", ManagerID: 41, MarketingManager: "Petrov"},
		},
		Clients: map[int64]dataset.ClientReference{
			100: {ClientID: 100, BranchID: 1, ChannelID: 50, Channel: "Retail", Name: "Shop"},
			200: {ClientID: 200, BranchID: 2, ChannelID: 51, Channel: "DIY", Name: "Depot"},
		},
		Dictionaries: map[dataset.Dimension]*dataset.Dictionary{
			dataset.Branch:  dataset.NewDictionary(map[int64]string{1: "North", 2: "South"}),
			dataset.Channel: dataset.NewDictionary(map[int64]string{50: "Retail", 51: "DIY"}),
			dataset.Brand:   dataset.NewDictionary(map[int64]string{10: "Acme", 11: "Bolt"}),
		},
	}
	jan := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }
	apr := func(d int) time.Time { return time.Date(2024, 4, d, 12, 0, 0, 0, time.UTC) }
	ds.Facts = []dataset.SalesFact{
		{ProductID: 1, ClientID: 100, Date: jan(5), Qty: 10, Amount: 100, Cost: 60},
		{ProductID: 1, ClientID: 100, Date: apr(3), Qty: 12, Amount: 132, Cost: 72},
		{ProductID: 2, ClientID: 200, Date: apr(10), Qty: 5, Amount: 50, Cost: 20},
		{ProductID: 2, ClientID: 100, Date: jan(9), Qty: 2, Amount: 30, Cost: 10},
		{ProductID: 2, ClientID: 100, Date: apr(9), Qty: 3, Amount: 42, Cost: 15},
	}
	ds.AttachCategories()
	return ds
}

func newTools(t *testing.T) (*FactorTools, string) {
	t.Helper()
	m := dataset.NewCache(time.Minute, time.Minute, nil, nil)
	id, err := m.Adopt(context.Background(), salesDataset())
	require.NoError(t, err)

	eng := factor.NewEngine(6, 3)
	eng.Now = func() time.Time { return time.Date(2024, 7, 10, 9, 0, 0, 0, time.UTC) }
	return &FactorTools{
		Limits:       runtime.NewLimits(4, 2),
		Datasets:     m,
		Engine:       eng,
		AllowWrites:  true,
		XAxis:        string(factor.AxisBrand),
		YAxis:        string(factor.AxisBranch),
		SummaryLimit: 4096,
	}, id
}

func query(id string) FactorQueryInput {
	return FactorQueryInput{
		DatasetRef: DatasetRef{DatasetID: id},
		BasePeriod: []string{"2024-01-01", "2024-01-31"},
		FactPeriod: []string{"2024-04-01", "2024-04-30"},
	}
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func analysisOutput(t *testing.T, res *mcp.CallToolResult) FactorAnalysisOutput {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected error: %v", res.Content)
	out, ok := res.StructuredContent.(FactorAnalysisOutput)
	require.True(t, ok)
	return out
}

func TestFactorAnalysis_Totals(t *testing.T) {
	ft, id := newTools(t)
	res, err := ft.FactorAnalysis(context.Background(), mcp.CallToolRequest{}, FactorAnalysisInput{FactorQueryInput: query(id)})
	require.NoError(t, err)
	out := analysisOutput(t, res)

	require.Equal(t, id, out.DatasetID)
	require.Equal(t, []string{"2024-01-01", "2024-01-31"}, out.Period.Base)
	require.Equal(t, "Brand", out.XAxis)
	require.Equal(t, "Branch", out.YAxis)
	require.Equal(t, 3, out.Summary.Records)
	require.Nil(t, out.Records)
	require.Nil(t, out.Page)
	require.Len(t, out.Pivots, 3)

	s := out.Summary
	require.InDelta(t, s.ProfitChange, s.DeltaPrice+s.DeltaCost+s.DeltaVolume, 1e-9)
	var pivotSum float64
	for _, pm := range out.Pivots {
		pivotSum += pm.Total()
	}
	require.InDelta(t, s.ProfitChange, pivotSum, 1e-9)

	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	require.Contains(t, tc.Text, "Brand by fact revenue")
}

func TestFactorAnalysis_PagesRecordsWithCursor(t *testing.T) {
	ft, id := newTools(t)
	ctx := context.Background()

	in := FactorAnalysisInput{FactorQueryInput: query(id), IncludeRecords: true, PageSize: 2}
	res, err := ft.FactorAnalysis(ctx, mcp.CallToolRequest{}, in)
	require.NoError(t, err)
	first := analysisOutput(t, res)
	require.Len(t, first.Records, 2)
	require.Equal(t, 3, first.Page.Total)
	require.NotEmpty(t, first.Page.NextCursor)

	in.Cursor = first.Page.NextCursor
	res, err = ft.FactorAnalysis(ctx, mcp.CallToolRequest{}, in)
	require.NoError(t, err)
	second := analysisOutput(t, res)
	require.Len(t, second.Records, 1)
	require.Equal(t, 2, second.Page.Offset)
	require.Empty(t, second.Page.NextCursor)
	require.NotEqual(t, first.Records[0].PairID, second.Records[0].PairID)

	// A cursor only continues the query it was issued for.
	in.XAxis = "Channel"
	res, err = ft.FactorAnalysis(ctx, mcp.CallToolRequest{}, in)
	require.NoError(t, err)
	require.Contains(t, errorText(t, res), "CURSOR_INVALID")

	in.Cursor = "not-a-cursor"
	res, err = ft.FactorAnalysis(ctx, mcp.CallToolRequest{}, in)
	require.NoError(t, err)
	require.Contains(t, errorText(t, res), "CURSOR_INVALID")
}

func TestFactorAnalysis_LabelFilters(t *testing.T) {
	ft, id := newTools(t)
	q := query(id)
	q.Branch = []string{"North"}
	res, err := ft.FactorAnalysis(context.Background(), mcp.CallToolRequest{}, FactorAnalysisInput{FactorQueryInput: q, IncludeRecords: true})
	require.NoError(t, err)
	out := analysisOutput(t, res)
	require.Equal(t, 2, out.Summary.Records)
	for _, r := range out.Records {
		require.Equal(t, "North", r.Branch)
	}

	q.Brand = []string{"Nope"}
	res, err = ft.FactorAnalysis(context.Background(), mcp.CallToolRequest{}, FactorAnalysisInput{FactorQueryInput: q})
	require.NoError(t, err)
	require.Contains(t, errorText(t, res), "VALIDATION")
}

func TestFactorAnalysis_Errors(t *testing.T) {
	ft, id := newTools(t)
	ctx := context.Background()

	cases := []struct {
		name string
		edit func(*FactorQueryInput)
		code string
	}{
		{"reversed base", func(q *FactorQueryInput) { q.BasePeriod = []string{"2024-02-01", "2024-01-01"} }, "INVALID_INTERVAL"},
		{"single date", func(q *FactorQueryInput) { q.FactPeriod = []string{"2024-04-01"} }, "INVALID_INTERVAL"},
		{"bad date", func(q *FactorQueryInput) { q.FactPeriod = []string{"2024-04-01", "30.04.2024"} }, "VALIDATION"},
		{"same axes", func(q *FactorQueryInput) { q.XAxis, q.YAxis = "Brand", "brand" }, "DEGENERATE_AXES"},
		{"unknown axis", func(q *FactorQueryInput) { q.XAxis = "Region" }, "VALIDATION"},
		{"unknown handle", func(q *FactorQueryInput) { q.DatasetID = "missing" }, "INVALID_HANDLE"},
		{"no dataset", func(q *FactorQueryInput) { q.DatasetID = "" }, "VALIDATION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := query(id)
			tc.edit(&q)
			res, err := ft.FactorAnalysis(ctx, mcp.CallToolRequest{}, FactorAnalysisInput{FactorQueryInput: q})
			require.NoError(t, err)
			require.Contains(t, errorText(t, res), tc.code)
		})
	}
}

func TestFactorAnalysis_DefaultPeriods(t *testing.T) {
	ft, id := newTools(t)
	res, err := ft.FactorAnalysis(context.Background(), mcp.CallToolRequest{}, FactorAnalysisInput{
		FactorQueryInput: FactorQueryInput{DatasetRef: DatasetRef{DatasetID: id}},
	})
	require.NoError(t, err)
	out := analysisOutput(t, res)
	require.Equal(t, []string{"2024-01-01", "2024-03-31"}, out.Period.Base)
	require.Equal(t, []string{"2024-04-01", "2024-06-30"}, out.Period.Fact)
	require.Equal(t, 3, out.Summary.Records)
}

func TestListDimensions(t *testing.T) {
	ft, id := newTools(t)
	res, err := ft.ListDimensions(context.Background(), mcp.CallToolRequest{}, ListDimensionsInput{DatasetRef{DatasetID: id}})
	require.NoError(t, err)
	require.False(t, res.IsError)
	out, ok := res.StructuredContent.(ListDimensionsOutput)
	require.True(t, ok)

	require.Len(t, out.Dimensions, len(dataset.Dimensions))
	require.Equal(t, "branch", out.Dimensions[0].Dimension)
	require.Equal(t, []string{"North", "South"}, out.Dimensions[0].Labels)
	require.NotNil(t, out.Dimensions[len(out.Dimensions)-1].Labels)
	require.Len(t, out.Axes, len(factor.Axes))
	require.Equal(t, "Brand", out.DefaultXAxis)
	require.Equal(t, []string{"2024-04-01", "2024-06-30"}, out.DefaultPeriod.Fact)
}

func TestLoadAndCloseDataset(t *testing.T) {
	ft, _ := newTools(t)
	loads := 0
	ft.Datasets.SetLoader(func(ctx context.Context, path string) (*dataset.Dataset, error) {
		loads++
		ds := salesDataset()
		ds.Source = path
		return ds, nil
	})
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sales.xlsx")

	res, err := ft.LoadDataset(ctx, mcp.CallToolRequest{}, LoadDatasetInput{Path: path})
	require.NoError(t, err)
	require.False(t, res.IsError)
	info, ok := res.StructuredContent.(DatasetInfo)
	require.True(t, ok)
	require.Equal(t, 5, info.Facts)
	require.Equal(t, "2024-01-05", info.FirstDate)
	require.Equal(t, "2024-04-10", info.LastDate)

	res, err = ft.LoadDataset(ctx, mcp.CallToolRequest{}, LoadDatasetInput{Path: path})
	require.NoError(t, err)
	again := res.StructuredContent.(DatasetInfo)
	require.Equal(t, info.DatasetID, again.DatasetID)
	require.Equal(t, 1, loads)

	res, err = ft.LoadDataset(ctx, mcp.CallToolRequest{}, LoadDatasetInput{Path: "sales.csv"})
	require.NoError(t, err)
	require.Contains(t, errorText(t, res), "VALIDATION")

	res, err = ft.CloseDataset(ctx, mcp.CallToolRequest{}, CloseDatasetInput{DatasetID: info.DatasetID})
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = ft.CloseDataset(ctx, mcp.CallToolRequest{}, CloseDatasetInput{DatasetID: info.DatasetID})
	require.NoError(t, err)
	require.Contains(t, errorText(t, res), "INVALID_HANDLE")
}

func TestWriteFactorWorkbook(t *testing.T) {
	ft, id := newTools(t)
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "report.xlsx")

	res, err := ft.WriteFactorWorkbook(ctx, mcp.CallToolRequest{}, WriteFactorWorkbookInput{FactorQueryInput: query(id), OutputPath: target})
	require.NoError(t, err)
	require.False(t, res.IsError, "unexpected error: %v", res.Content)
	out, ok := res.StructuredContent.(WriteFactorWorkbookOutput)
	require.True(t, ok)
	require.Equal(t, 3, out.Records)
	require.Equal(t, []string{export.SheetRecords, "price", "cost", "structure"}, out.Sheets)

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, out.Sheets, f.GetSheetList())

	ft.AllowWrites = false
	res, err = ft.WriteFactorWorkbook(ctx, mcp.CallToolRequest{}, WriteFactorWorkbookInput{FactorQueryInput: query(id), OutputPath: target})
	require.NoError(t, err)
	require.Contains(t, errorText(t, res), "PERMISSION_DENIED")
}

func TestRegisterFactorTools(t *testing.T) {
	ft, _ := newTools(t)
	s := server.NewMCPServer("test", "0.0.0", server.WithToolCapabilities(true))
	reg := New()
	RegisterFactorTools(s, reg, ft)

	tools, err := reg.Tools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	require.Equal(t, []string{"close_dataset", "factor_analysis", "list_dimensions", "load_dataset", "write_factor_workbook"}, names)

	visible := NewWriteToolFilter(false).FilterTools(context.Background(), tools)
	require.Len(t, visible, 4)
	for _, tool := range visible {
		require.NotEqual(t, "write_factor_workbook", tool.Name)
	}
}

func TestUseModelBudget(t *testing.T) {
	reg := New()
	require.Equal(t, minSummaryChars, reg.SummaryLimit())
	n := reg.UseModelBudget("gpt-4o")
	require.GreaterOrEqual(t, n, minSummaryChars)
	require.Equal(t, n, reg.SummaryLimit())
	require.Equal(t, minSummaryChars, reg.UseModelBudget("unknown-model"))
}
