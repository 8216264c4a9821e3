package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nervozny/factor/internal/factor"
	"github.com/nervozny/factor/pkg/version"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// SheetRecords holds the enriched product-client table.
const SheetRecords = "product-client"

const (
	headerFill   = "A8CED2"
	moneyFormat  = "#,##0.00"
	checkEvery   = 1000
	articleWidth = 15
	moneyWidth   = 12
)

// firstMoneyCol is the 1-based column of "Revenue base" in factor.EnrichedColumns.
var firstMoneyCol = columnOf("Revenue base")

func columnOf(label string) int {
	for i, c := range factor.EnrichedColumns {
		if c == label {
			return i + 1
		}
	}
	return 0
}

type styles struct {
	header int
	money  int
}

func newStyles(f *excelize.File) (styles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1},
		Border:    border,
	})
	if err != nil {
		return styles{}, err
	}
	nf := moneyFormat
	money, err := f.NewStyle(&excelize.Style{CustomNumFmt: &nf})
	if err != nil {
		return styles{}, err
	}
	return styles{header: header, money: money}, nil
}

// Build renders res into a new workbook: the enriched records followed by one
// sheet per pivot measure. The caller owns the returned file.
func Build(ctx context.Context, res *factor.Result) (*excelize.File, error) {
	if res == nil {
		return nil, fmt.Errorf("export: nil result")
	}
	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			_ = f.Close()
		}
	}()

	st, err := newStyles(f)
	if err != nil {
		return nil, fmt.Errorf("export: styles: %w", err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{Creator: version.UserAgent(), Title: "Factor analysis of profit"}); err != nil {
		return nil, err
	}
	if err := f.SetSheetName("Sheet1", SheetRecords); err != nil {
		return nil, err
	}
	if err := writeRecords(ctx, f, st, res.Records); err != nil {
		return nil, err
	}
	for _, pm := range res.Pivots {
		if _, err := f.NewSheet(string(pm.Measure)); err != nil {
			return nil, err
		}
		if err := writePivot(f, st, pm); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	ok = true
	return f, nil
}

// Write builds the workbook and saves it to path.
func Write(ctx context.Context, path string, res *factor.Result) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".xlsx" {
		return fmt.Errorf("export: unsupported extension %q", ext)
	}
	f, err := Build(ctx, res)
	if err != nil {
		return err
	}
	defer f.Close()

	// Saved next to the target, then renamed over it.
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp.xlsx")
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("export: save: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("export: rename: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("path", path).Int("records", len(res.Records)).Msg("factor workbook written")
	return nil
}

func writeRecords(ctx context.Context, f *excelize.File, st styles, records []factor.EnrichedRecord) error {
	sw, err := f.NewStreamWriter(SheetRecords)
	if err != nil {
		return err
	}
	article := columnOf("Article")
	if err := sw.SetColWidth(article, article, articleWidth); err != nil {
		return err
	}
	if err := sw.SetColWidth(firstMoneyCol, len(factor.EnrichedColumns), moneyWidth); err != nil {
		return err
	}
	if err := sw.SetPanes(&excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	header := make([]any, len(factor.EnrichedColumns))
	for i, c := range factor.EnrichedColumns {
		header[i] = excelize.Cell{StyleID: st.header, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	absentCol := columnOf("is_absent")
	for i, r := range records {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		vals := r.Values()
		for j := firstMoneyCol - 1; j < len(vals); j++ {
			if j == absentCol-1 {
				continue
			}
			vals[j] = excelize.Cell{StyleID: st.money, Value: vals[j]}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, vals); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writePivot(f *excelize.File, st styles, pm factor.PivotMatrix) error {
	sw, err := f.NewStreamWriter(string(pm.Measure))
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, 1, articleWidth); err != nil {
		return err
	}
	if len(pm.Columns) > 0 {
		if err := sw.SetColWidth(2, len(pm.Columns)+1, moneyWidth); err != nil {
			return err
		}
	}

	header := make([]any, 0, len(pm.Columns)+1)
	header = append(header, excelize.Cell{StyleID: st.header, Value: fmt.Sprintf("%s \\ %s", pm.Y, pm.X)})
	for _, c := range pm.Columns {
		header = append(header, excelize.Cell{StyleID: st.header, Value: c})
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}

	for i, label := range pm.Rows {
		row := make([]any, 0, len(pm.Columns)+1)
		row = append(row, label)
		for _, v := range pm.Cells[i] {
			if v == nil {
				row = append(row, nil)
				continue
			}
			row = append(row, excelize.Cell{StyleID: st.money, Value: *v})
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}
