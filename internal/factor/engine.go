package factor

import (
	"context"
	"fmt"
	"time"

	"github.com/nervozny/factor/internal/dataset"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Query parameterizes one factor analysis run.
type Query struct {
	Base      Interval
	Fact      Interval
	Selection Selection
	X         Axis
	Y         Axis
}

// Validate checks periods and axes. It runs before any aggregation.
func (q Query) Validate() error {
	if err := q.Base.Validate(); err != nil {
		return fmt.Errorf("base period: %w", err)
	}
	if err := q.Fact.Validate(); err != nil {
		return fmt.Errorf("fact period: %w", err)
	}
	x, err := ParseAxis(string(q.X))
	if err != nil {
		return fmt.Errorf("x axis: %w", err)
	}
	y, err := ParseAxis(string(q.Y))
	if err != nil {
		return fmt.Errorf("y axis: %w", err)
	}
	if x.Field() == y.Field() {
		return fmt.Errorf("%w: %s", ErrDegenerateAxes, x)
	}
	return nil
}

// Summary holds the query-wide totals.
type Summary struct {
	Records       int     `json:"records"`
	AbsentRecords int     `json:"absent_records"`
	BasePairs     int     `json:"base_pairs"`
	FactPairs     int     `json:"fact_pairs"`
	ProfitBase    float64 `json:"profit_base"`
	ProfitFact    float64 `json:"profit_fact"`
	ProfitChange  float64 `json:"profit_change"`
	RevenueBase   float64 `json:"revenue_base"`
	RevenueFact   float64 `json:"revenue_fact"`
	DeltaPrice    float64 `json:"delta_price"`
	DeltaCost     float64 `json:"delta_cost"`
	DeltaVolume   float64 `json:"delta_structure"`
}

// Summarize totals the enriched records.
func Summarize(records []EnrichedRecord) Summary {
	s := Summary{Records: len(records)}
	for _, r := range records {
		if r.Absent {
			s.AbsentRecords++
		}
		s.ProfitBase += r.Base.Profit
		s.ProfitFact += r.Fact.Profit
		s.RevenueBase += r.Base.Amount
		s.RevenueFact += r.Fact.Amount
		s.DeltaPrice += r.DeltaPrice
		s.DeltaCost += r.DeltaCost
		s.DeltaVolume += r.DeltaVolume
	}
	s.ProfitChange = s.ProfitFact - s.ProfitBase
	return s
}

// Result is everything one run produces.
type Result struct {
	Query   Query
	Records []EnrichedRecord
	Ranking []AxisRank
	Pivots  [3]PivotMatrix
	Summary Summary
}

// Engine runs factor queries against loaded datasets. It holds no per-query state.
type Engine struct {
	MonthsBackward int
	PeriodMonths   int
	Now            func() time.Time
}

// NewEngine returns an Engine whose omitted periods default to the window ending
// with the previous month.
func NewEngine(monthsBackward, periodMonths int) *Engine {
	return &Engine{MonthsBackward: monthsBackward, PeriodMonths: periodMonths, Now: time.Now}
}

// DefaultPeriods returns the base and fact windows used when a query omits them.
func (e *Engine) DefaultPeriods() (base, fact Interval) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return DefaultPeriods(now(), e.MonthsBackward, e.PeriodMonths)
}

// Run executes q against ds.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset, q Query) (*Result, error) {
	if ds == nil {
		return nil, fmt.Errorf("factor: nil dataset")
	}
	defBase, defFact := e.DefaultPeriods()
	if q.Base == (Interval{}) {
		q.Base = defBase
	}
	if q.Fact == (Interval{}) {
		q.Fact = defFact
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q.X, _ = ParseAxis(string(q.X))
	q.Y, _ = ParseAxis(string(q.Y))

	log := zerolog.Ctx(ctx)
	started := time.Now()

	facts := FilterFacts(ds.Facts, q.Selection)

	var base, fact map[PairKey]PeriodAggregate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		base = AggregatePeriod(facts, q.Base)
		return gctx.Err()
	})
	g.Go(func() error {
		fact = AggregatePeriod(facts, q.Fact)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(base, fact)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := Enrich(merged, ds)
	ranking := RankAxis(records, q.X)
	pivots, err := BuildPivots(records, q.X, q.Y, ranking)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := Summarize(records)
	sum.BasePairs = len(base)
	sum.FactPairs = len(fact)

	log.Debug().
		Int("facts", len(facts)).
		Int("records", len(records)).
		Int("categories", len(ranking)).
		Str("base", q.Base.String()).
		Str("fact", q.Fact.String()).
		Dur("took", time.Since(started)).
		Msg("factor analysis complete")

	return &Result{Query: q, Records: records, Ranking: ranking, Pivots: pivots, Summary: sum}, nil
}
