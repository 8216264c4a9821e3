package factor

import (
	"fmt"

	"github.com/nervozny/factor/internal/dataset"
)

// EnrichedColumns is the display order of EnrichedRecord.Values.
var EnrichedColumns = []string{
	"branch", "id product-client", "id_commodity", "id_client", "id_department",
	"Article", "Brand", "Product_group", "Mark", "Manager_Marketing", "Manager_Supply", "ABC_XYZ",
	"Client_name", "Channel",
	"Revenue base", "Cost of Sales base", "Sales base, pcs", "Profit base", "Profitability base",
	"Revenue fact", "Cost of Sales fact", "Sales fact, pcs", "Profit fact", "Profitability fact",
	"Price 1 piece base", "Price 1 piece fact", "Cost 1 piece base", "Cost 1 piece fact",
	"is_absent",
	"Change in profit due to price", "Change in profit due to cost", "Change in profit due to structure",
}

// EnrichedRecord is a MergedRecord joined with its product and client descriptions.
type EnrichedRecord struct {
	Branch       string `json:"branch"`
	PairID       string `json:"id_product_client"`
	ProductID    int64  `json:"id_commodity"`
	ClientID     int64  `json:"id_client"`
	DepartmentID int64  `json:"id_department"`

	Article          string `json:"article"`
	Brand            string `json:"brand"`
	Group            string `json:"product_group"`
	Mark             string `json:"mark"`
	MarketingManager string `json:"manager_marketing"`
	SupplyManager    string `json:"manager_supply"`
	ABCXYZ           string `json:"abc_xyz"`
	ClientName       string `json:"client_name"`
	Channel          string `json:"channel"`

	Base PeriodFigures `json:"base"`
	Fact PeriodFigures `json:"fact"`

	Absent      bool    `json:"is_absent"`
	DeltaPrice  float64 `json:"delta_price"`
	DeltaCost   float64 `json:"delta_cost"`
	DeltaVolume float64 `json:"delta_structure"`
}

// Values returns the record's cells in EnrichedColumns order.
func (r EnrichedRecord) Values() []any {
	return []any{
		r.Branch, r.PairID, r.ProductID, r.ClientID, r.DepartmentID,
		r.Article, r.Brand, r.Group, r.Mark, r.MarketingManager, r.SupplyManager, r.ABCXYZ,
		r.ClientName, r.Channel,
		r.Base.Amount, r.Base.Cost, r.Base.Qty, r.Base.Profit, r.Base.Profitability,
		r.Fact.Amount, r.Fact.Cost, r.Fact.Qty, r.Fact.Profit, r.Fact.Profitability,
		r.Base.Price, r.Fact.Price, r.Base.UnitCost, r.Fact.UnitCost,
		r.Absent,
		r.DeltaPrice, r.DeltaCost, r.DeltaVolume,
	}
}

// Delta returns the record's value for measure m.
func (r EnrichedRecord) Delta(m Measure) float64 {
	switch m {
	case MeasurePrice:
		return r.DeltaPrice
	case MeasureCost:
		return r.DeltaCost
	case MeasureStructure:
		return r.DeltaVolume
	}
	return 0
}

// Enrich attaches descriptive product and client fields to each record.
// Records with no reference entry keep empty descriptive fields.
func Enrich(records []MergedRecord, ds *dataset.Dataset) []EnrichedRecord {
	branches := ds.Dictionary(dataset.Branch)
	out := make([]EnrichedRecord, len(records))
	for i, m := range records {
		r := EnrichedRecord{
			PairID:       fmt.Sprintf("%d%d", m.Key.ProductID, m.Key.ClientID),
			ProductID:    m.Key.ProductID,
			ClientID:     m.Key.ClientID,
			DepartmentID: m.DepartmentID,
			Base:         m.Base,
			Fact:         m.Fact,
			Absent:       m.Absent,
			DeltaPrice:   m.DeltaPrice,
			DeltaCost:    m.DeltaCost,
			DeltaVolume:  m.DeltaVolume,
		}
		if p, ok := ds.Products[m.Key.ProductID]; ok {
			r.Article = p.Article
			r.Brand = p.Brand
			r.Group = p.Group
			r.Mark = p.Mark
			r.MarketingManager = p.MarketingManager
			r.SupplyManager = p.SupplyManager
			r.ABCXYZ = p.ABCXYZ
		}
		branchID := m.DepartmentID
		if c, ok := ds.Clients[m.Key.ClientID]; ok {
			r.ClientName = c.Name
			r.Channel = c.Channel
			branchID = c.BranchID
		}
		r.Branch, _ = branches.Label(branchID)
		out[i] = r
	}
	return out
}
