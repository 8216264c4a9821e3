package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Dimension names one of the six categorical dimensions facts can be filtered on.
type Dimension string

const (
	Branch  Dimension = "branch"
	Channel Dimension = "channel"
	Brand   Dimension = "brand"
	Manager Dimension = "manager"
	Group   Dimension = "group"
	Mark    Dimension = "mark"
)

// Dimensions lists every dimension in display order.
var Dimensions = []Dimension{Branch, Channel, Brand, Manager, Group, Mark}

// ErrUnknownLabel indicates a display label with no id in its dictionary.
var ErrUnknownLabel = errors.New("dataset: unknown label")

// SalesFact is one transaction-level row with its category ids already attached.
type SalesFact struct {
	ProductID int64
	ClientID  int64
	BranchID  int64
	ChannelID int64
	BrandID   int64
	GroupID   int64
	ManagerID int64
	MarkID    int64
	Date      time.Time
	Amount    float64
	Cost      float64
	Qty       float64
}

// CategoryID returns the fact's id along dimension d, or 0 for an unknown dimension.
func (f SalesFact) CategoryID(d Dimension) int64 {
	switch d {
	case Branch:
		return f.BranchID
	case Channel:
		return f.ChannelID
	case Brand:
		return f.BrandID
	case Manager:
		return f.ManagerID
	case Group:
		return f.GroupID
	case Mark:
		return f.MarkID
	}
	return 0
}

// ProductReference describes a product.
type ProductReference struct {
	ProductID        int64
	Article          string
	BrandID          int64
	Brand            string
	GroupID          int64
	Group            string
	MarkID           int64
	Mark             string
	ManagerID        int64
	MarketingManager string
	SupplyManager    string
	ABCXYZ           string
}

// ClientReference describes a client.
type ClientReference struct {
	ClientID  int64
	BranchID  int64
	ChannelID int64
	Channel   string
	Name      string
}

// Dictionary is a reversible id<->label mapping for one dimension.
type Dictionary struct {
	labels map[int64]string
	ids    map[string]int64
}

// NewDictionary builds a Dictionary. When two ids share a label, the smaller id wins the reverse lookup.
func NewDictionary(entries map[int64]string) *Dictionary {
	d := &Dictionary{
		labels: make(map[int64]string, len(entries)),
		ids:    make(map[string]int64, len(entries)),
	}
	for id, label := range entries {
		d.labels[id] = label
		if prev, ok := d.ids[label]; !ok || id < prev {
			d.ids[label] = id
		}
	}
	return d
}

// Label returns the display label for id.
func (d *Dictionary) Label(id int64) (string, bool) {
	if d == nil {
		return "", false
	}
	l, ok := d.labels[id]
	return l, ok
}

// ID returns the id for a display label.
func (d *Dictionary) ID(label string) (int64, bool) {
	if d == nil {
		return 0, false
	}
	id, ok := d.ids[strings.TrimSpace(label)]
	return id, ok
}

// IDs translates labels into ids, failing on the first unknown label.
func (d *Dictionary) IDs(labels []string) ([]int64, error) {
	out := make([]int64, 0, len(labels))
	for _, l := range labels {
		id, ok := d.ID(l)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, l)
		}
		out = append(out, id)
	}
	return out, nil
}

// Labels returns all labels sorted alphabetically.
func (d *Dictionary) Labels() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.ids))
	for l := range d.ids {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of ids in the dictionary.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.labels)
}

// Dataset is the immutable snapshot a factor query runs against.
// It is built once by the loader and shared read-only between queries.
type Dataset struct {
	Facts        []SalesFact
	Products     map[int64]ProductReference
	Clients      map[int64]ClientReference
	Dictionaries map[Dimension]*Dictionary
	Source       string
	LoadedAt     time.Time
}

// Dictionary returns the dictionary for d; the result may be nil.
func (ds *Dataset) Dictionary(d Dimension) *Dictionary {
	return ds.Dictionaries[d]
}

// AttachCategories fills the six category ids of every fact from the product and
// client references. Facts whose product or client is unknown keep zero ids.
func (ds *Dataset) AttachCategories() {
	for i := range ds.Facts {
		f := &ds.Facts[i]
		if c, ok := ds.Clients[f.ClientID]; ok {
			f.BranchID = c.BranchID
			f.ChannelID = c.ChannelID
		}
		if p, ok := ds.Products[f.ProductID]; ok {
			f.BrandID = p.BrandID
			f.GroupID = p.GroupID
			f.ManagerID = p.ManagerID
			f.MarkID = p.MarkID
		}
	}
}
