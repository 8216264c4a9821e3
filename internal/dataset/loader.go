package dataset

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Sheet names expected in a dataset workbook.
const (
	SheetSales    = "sales"
	SheetProducts = "products"
	SheetClients  = "clients"
)

// ErrMissingSheet indicates a required sheet is absent from the workbook.
var ErrMissingSheet = errors.New("dataset: missing sheet")

// ErrMissingColumn indicates a required header is absent from a sheet.
var ErrMissingColumn = errors.New("dataset: missing column")

var (
	salesColumns    = []string{"id_commodity", "id_client", "documentdate", "salesamount", "salescost", "salesqty"}
	productColumns  = []string{"id_commodity"}
	clientColumns   = []string{"id_client"}
	rawCellsOptions = excelize.Options{RawCellValue: true}
)

// LoadWorkbook opens an .xlsx dataset workbook and builds a Dataset from it.
func LoadWorkbook(ctx context.Context, path string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %q: %w", path, err)
	}
	defer f.Close()

	ds, err := Load(ctx, f)
	if err != nil {
		return nil, err
	}
	ds.Source = path
	return ds, nil
}

// Load reads the sales, products, clients and dictionary sheets of f.
// Dictionary sheets are optional; an absent one yields an empty dictionary.
func Load(ctx context.Context, f *excelize.File) (*Dataset, error) {
	ds := &Dataset{
		Products:     map[int64]ProductReference{},
		Clients:      map[int64]ClientReference{},
		Dictionaries: map[Dimension]*Dictionary{},
		LoadedAt:     time.Now(),
	}

	if err := readSheet(ctx, f, SheetProducts, productColumns, func(r row) error {
		p, err := parseProduct(r)
		if err != nil {
			return err
		}
		ds.Products[p.ProductID] = p
		return nil
	}); err != nil {
		return nil, err
	}

	if err := readSheet(ctx, f, SheetClients, clientColumns, func(r row) error {
		c, err := parseClient(r)
		if err != nil {
			return err
		}
		ds.Clients[c.ClientID] = c
		return nil
	}); err != nil {
		return nil, err
	}

	if err := readSheet(ctx, f, SheetSales, salesColumns, func(r row) error {
		fact, err := parseFact(r)
		if err != nil {
			return err
		}
		ds.Facts = append(ds.Facts, fact)
		return nil
	}); err != nil {
		return nil, err
	}

	for _, d := range Dimensions {
		dict, err := readDictionary(ctx, f, string(d))
		if err != nil {
			return nil, err
		}
		ds.Dictionaries[d] = dict
	}

	ds.AttachCategories()
	return ds, nil
}

// row is one data row addressed by lower-cased header name.
type row struct {
	num    int
	header map[string]int
	vals   []string
}

func (r row) get(col string) string {
	i, ok := r.header[col]
	if !ok || i >= len(r.vals) {
		return ""
	}
	return strings.TrimSpace(r.vals[i])
}

func (r row) id(col string) (int64, error) {
	v, err := parseID(r.get(col))
	if err != nil {
		return 0, fmt.Errorf("row %d: %s: %w", r.num, col, err)
	}
	return v, nil
}

func (r row) number(col string) (float64, error) {
	s := r.get(col)
	if s == "" {
		return 0, nil
	}
	v, ok := parseFloatStrict(s)
	if !ok {
		return 0, fmt.Errorf("row %d: %s: invalid number %q", r.num, col, s)
	}
	return v, nil
}

// readSheet streams a sheet, resolving headers from its first row and calling fn per non-empty row.
func readSheet(ctx context.Context, f *excelize.File, name string, required []string, fn func(row) error) error {
	sheet, ok := findSheet(f, name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingSheet, name)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("dataset: read %s: %w", name, err)
	}
	defer rows.Close()

	var header map[string]int
	num := 0
	for rows.Next() {
		num++
		if num%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		vals, err := rows.Columns(rawCellsOptions)
		if err != nil {
			return fmt.Errorf("dataset: read %s row %d: %w", name, num, err)
		}
		if header == nil {
			header = make(map[string]int, len(vals))
			for i, h := range vals {
				header[strings.ToLower(strings.TrimSpace(h))] = i
			}
			for _, col := range required {
				if _, ok := header[col]; !ok {
					return fmt.Errorf("%w: %s.%s", ErrMissingColumn, name, col)
				}
			}
			continue
		}
		if isBlank(vals) {
			continue
		}
		if err := fn(row{num: num, header: header, vals: vals}); err != nil {
			return fmt.Errorf("dataset: %s: %w", name, err)
		}
	}
	return rows.Error()
}

// readDictionary reads a two-column id,name sheet. A first row whose id is not numeric is a header.
func readDictionary(ctx context.Context, f *excelize.File, name string) (*Dictionary, error) {
	entries := map[int64]string{}
	sheet, ok := findSheet(f, name)
	if !ok {
		return NewDictionary(entries), nil
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("dataset: read %s: %w", name, err)
	}
	defer rows.Close()

	num := 0
	for rows.Next() {
		num++
		vals, err := rows.Columns(rawCellsOptions)
		if err != nil {
			return nil, fmt.Errorf("dataset: read %s row %d: %w", name, num, err)
		}
		if isBlank(vals) || len(vals) < 2 {
			continue
		}
		id, err := parseID(vals[0])
		if err != nil {
			if num == 1 {
				continue
			}
			return nil, fmt.Errorf("dataset: %s row %d: %w", name, num, err)
		}
		entries[id] = strings.TrimSpace(vals[1])
	}
	if err := rows.Error(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewDictionary(entries), nil
}

func parseProduct(r row) (ProductReference, error) {
	var p ProductReference
	var err error
	if p.ProductID, err = r.id("id_commodity"); err != nil {
		return p, err
	}
	if p.BrandID, err = optionalID(r, "id_brand"); err != nil {
		return p, err
	}
	if p.GroupID, err = optionalID(r, "id_group"); err != nil {
		return p, err
	}
	if p.MarkID, err = optionalID(r, "id_mark"); err != nil {
		return p, err
	}
	if p.ManagerID, err = optionalID(r, "id_manager"); err != nil {
		return p, err
	}
	p.Article = r.get("article")
	p.Brand = r.get("brand")
	p.Group = r.get("product_group")
	p.Mark = r.get("mark")
	p.MarketingManager = r.get("manager_marketing")
	p.SupplyManager = r.get("manager_supply")
	p.ABCXYZ = r.get("abc_xyz")
	return p, nil
}

func parseClient(r row) (ClientReference, error) {
	var c ClientReference
	var err error
	if c.ClientID, err = r.id("id_client"); err != nil {
		return c, err
	}
	if c.BranchID, err = optionalID(r, "id_branch"); err != nil {
		return c, err
	}
	if c.ChannelID, err = optionalID(r, "id_channel"); err != nil {
		return c, err
	}
	c.Channel = r.get("channel")
	c.Name = r.get("client_name")
	return c, nil
}

func parseFact(r row) (SalesFact, error) {
	var f SalesFact
	var err error
	if f.ProductID, err = r.id("id_commodity"); err != nil {
		return f, err
	}
	if f.ClientID, err = r.id("id_client"); err != nil {
		return f, err
	}
	raw := r.get("documentdate")
	d, ok := parseDate(raw)
	if !ok {
		return f, fmt.Errorf("row %d: documentdate: invalid date %q", r.num, raw)
	}
	f.Date = d
	if f.Amount, err = r.number("salesamount"); err != nil {
		return f, err
	}
	if f.Cost, err = r.number("salescost"); err != nil {
		return f, err
	}
	if f.Qty, err = r.number("salesqty"); err != nil {
		return f, err
	}
	return f, nil
}

func optionalID(r row, col string) (int64, error) {
	if r.get(col) == "" {
		return 0, nil
	}
	return r.id(col)
}

func findSheet(f *excelize.File, name string) (string, bool) {
	for _, s := range f.GetSheetList() {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return s, true
		}
	}
	return "", false
}

func isBlank(vals []string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseID accepts integers and integral floats ("12", "12.0").
func parseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty id")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return int64(f), nil
}

// thousandsComma matches numbers grouped with commas, such as 1,000 or 12,345.67.
var thousandsComma = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// parseFloatStrict parses a numeric cell. Spaces are ignored and commas are only
// accepted as thousands separators; "1,5" is rejected rather than read as 15.
func parseFloatStrict(s string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0':
			return -1
		default:
			return r
		}
	}, s)
	if clean == "" {
		return 0, false
	}
	if strings.ContainsRune(clean, ',') {
		if !thousandsComma.MatchString(clean) {
			return 0, false
		}
		clean = strings.ReplaceAll(clean, ",", "")
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseDate accepts Excel serial dates as well as common textual layouts.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006/01/02", "02.01.2006", "01/02/2006"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
