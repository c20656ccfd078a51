package controller

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"brokerdash/src/model"
	"brokerdash/src/utils"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NoDataNotice is reported when neither the primary queries nor the fallback
// chain returned any MT5 rows.
const NoDataNotice = "No MT5 data returned. Check MT5 proxy, groups, or date range."

// DefaultTopSymbols is how many symbols the exposure and activity lists keep.
const DefaultTopSymbols = 6

// GetLots converts gateway volume units to lots. A positive VolumeExt wins.
func GetLots(volume, volumeExt float64) float64 {
	if volumeExt > 0 {
		return volumeExt / 1e8
	}
	return volume / 1e4
}

// NormalizeSymbol strips the broker suffix: "EURUSD.raw" becomes "EURUSD".
func NormalizeSymbol(symbol string) string {
	if i := strings.Index(symbol, "."); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// PeriodSource selects which MT5 data describes a window.
type PeriodSource string

const (
	SourceLive       PeriodSource = "live"
	SourceHistorical PeriodSource = "historical"
)

// Window is an inclusive [From, To] range. DayWindow builds the usual
// whole-day form.
type Window struct {
	From time.Time
	To   time.Time
}

func DayWindow(fromDay, toDay time.Time) Window {
	return Window{
		From: utils.StartOfUTCDay(fromDay),
		To:   utils.StartOfUTCDay(toDay).Add(24*time.Hour - time.Second),
	}
}

// ClassifyWindow returns SourceLive when the window reaches into the current
// UTC day and SourceHistorical otherwise.
func ClassifyWindow(w Window, now time.Time) PeriodSource {
	if !w.To.Before(utils.StartOfUTCDay(now)) {
		return SourceLive
	}
	return SourceHistorical
}

// LatestReportPerLogin keeps the report with the largest Timestamp for each
// login, sorted by login.
func LatestReportPerLogin(reports []model.MT5DailyReport) []model.MT5DailyReport {
	latest := make(map[int64]model.MT5DailyReport, len(reports))
	for _, r := range reports {
		login := r.Login.Int64()
		if prev, ok := latest[login]; ok && prev.Timestamp >= r.Timestamp {
			continue
		}
		latest[login] = r
	}
	out := make([]model.MT5DailyReport, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out
}

type SubSymbolExposure struct {
	Symbol    string  `json:"symbol"`
	NetLots   float64 `json:"netLots"`
	Positions int     `json:"positions"`
}

type SymbolExposure struct {
	Symbol    string              `json:"symbol"`
	NetLots   float64             `json:"netLots"`
	Positions int                 `json:"positions"`
	Notional  float64             `json:"notional"`
	Breakdown []SubSymbolExposure `json:"breakdown"`
}

// NetExposure sums signed lots (sell negative) per normalized symbol and
// returns the limit largest by absolute net lots. Each entry carries the raw
// symbols it was built from.
func NetExposure(positions []model.MT5Position, limit int) []SymbolExposure {
	type acc struct {
		exposure SymbolExposure
		subs     map[string]*SubSymbolExposure
	}
	bySymbol := map[string]*acc{}

	for _, p := range positions {
		raw := strings.TrimSpace(p.Symbol)
		if raw == "" {
			continue
		}
		lots := GetLots(p.Volume.Float64(), p.VolumeExt.Float64())
		if p.Action.Int64() == model.MT5ActionSell {
			lots = -lots
		}
		base := NormalizeSymbol(raw)
		a, ok := bySymbol[base]
		if !ok {
			a = &acc{exposure: SymbolExposure{Symbol: base}, subs: map[string]*SubSymbolExposure{}}
			bySymbol[base] = a
		}
		a.exposure.NetLots += lots
		a.exposure.Positions++
		a.exposure.Notional += math.Abs(lots) * positionPrice(p) * positionContractSize(p)

		sub, ok := a.subs[raw]
		if !ok {
			sub = &SubSymbolExposure{Symbol: raw}
			a.subs[raw] = sub
		}
		sub.NetLots += lots
		sub.Positions++
	}

	out := make([]SymbolExposure, 0, len(bySymbol))
	for _, a := range bySymbol {
		e := a.exposure
		e.Breakdown = make([]SubSymbolExposure, 0, len(a.subs))
		for _, s := range a.subs {
			e.Breakdown = append(e.Breakdown, *s)
		}
		sort.Slice(e.Breakdown, func(i, j int) bool {
			return byAbsThenName(e.Breakdown[i].NetLots, e.Breakdown[j].NetLots, e.Breakdown[i].Symbol, e.Breakdown[j].Symbol)
		})
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return byAbsThenName(out[i].NetLots, out[j].NetLots, out[i].Symbol, out[j].Symbol)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byAbsThenName(a, b float64, an, bn string) bool {
	if math.Abs(a) != math.Abs(b) {
		return math.Abs(a) > math.Abs(b)
	}
	return an < bn
}

type SymbolCount struct {
	Symbol    string `json:"symbol"`
	Positions int    `json:"positions"`
}

// TopSymbols ranks normalized symbols by open position count.
func TopSymbols(positions []model.MT5Position, limit int) []SymbolCount {
	counts := map[string]int{}
	for _, p := range positions {
		if p.Symbol == "" {
			continue
		}
		counts[NormalizeSymbol(p.Symbol)]++
	}
	out := make([]SymbolCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, SymbolCount{Symbol: s, Positions: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Positions != out[j].Positions {
			return out[i].Positions > out[j].Positions
		}
		return out[i].Symbol < out[j].Symbol
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func positionPrice(p model.MT5Position) float64 {
	if p.PriceCurrent > 0 {
		return p.PriceCurrent.Float64()
	}
	return p.PriceOpen.Float64()
}

func positionContractSize(p model.MT5Position) float64 {
	if p.ContractSize > 0 {
		return p.ContractSize.Float64()
	}
	return ContractSize(p.Symbol)
}

// PositionTotals returns open lots and notional across positions.
func PositionTotals(positions []model.MT5Position) (lots, notional float64) {
	for _, p := range positions {
		l := GetLots(p.Volume.Float64(), p.VolumeExt.Float64())
		lots += l
		notional += l * positionPrice(p) * positionContractSize(p)
	}
	return lots, notional
}

// DealTotals returns traded lots and notional for buy and sell deals only.
// Balance, credit and other service deals are skipped.
func DealTotals(deals []model.MT5Deal) (lots, notional float64) {
	for _, d := range deals {
		action := d.Action.Int64()
		if action != model.MT5ActionBuy && action != model.MT5ActionSell {
			continue
		}
		l := GetLots(d.Volume.Float64(), d.VolumeExt.Float64())
		size := d.ContractSize.Float64()
		if size <= 0 {
			size = ContractSize(d.Symbol)
		}
		lots += l
		notional += l * d.Price.Float64() * size
	}
	return lots, notional
}

type BalanceTotals struct {
	Equity            float64 `json:"equity"`
	Credit            float64 `json:"credit"`
	ClientsWithCredit int     `json:"clientsWithCredit"`
}

// AccountTotals derives equity as Balance + Credit + Profit per account.
func AccountTotals(accounts []model.MT5AccountState) BalanceTotals {
	var t BalanceTotals
	for _, a := range accounts {
		t.Equity += a.Balance.Float64() + a.Credit.Float64() + a.Profit.Float64()
		t.Credit += a.Credit.Float64()
		if a.Credit > 0 {
			t.ClientsWithCredit++
		}
	}
	return t
}

// ReportTotals aggregates the latest report per login. ProfitEquity is used
// when positive, Balance + Profit otherwise.
func ReportTotals(reports []model.MT5DailyReport) BalanceTotals {
	var t BalanceTotals
	for _, r := range LatestReportPerLogin(reports) {
		if r.ProfitEquity > 0 {
			t.Equity += r.ProfitEquity.Float64()
		} else {
			t.Equity += r.Balance.Float64() + r.Profit.Float64()
		}
		t.Credit += r.Credit.Float64()
		if r.Credit > 0 {
			t.ClientsWithCredit++
		}
	}
	return t
}

// DealingSource is the MT5 data the dealing desk reads.
type DealingSource interface {
	PositionsBatch(ctx context.Context, logins []int64, groups []string) ([]model.MT5Position, error)
	AccountsBatch(ctx context.Context, logins []int64, groups []string) ([]model.MT5AccountState, error)
	UserLogins(ctx context.Context, groups []string) ([]int64, error)
	DealsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]model.MT5Deal, error)
	DailyReportsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]model.MT5DailyReport, error)
}

type DealingCounts struct {
	Positions int `json:"positions"`
	Deals     int `json:"deals"`
	Accounts  int `json:"accounts"`
	Reports   int `json:"reports"`
}

type DealingMetrics struct {
	Source            PeriodSource     `json:"source"`
	From              int64            `json:"from"`
	To                int64            `json:"to"`
	TotalEquity       float64          `json:"totalEquity"`
	TotalCredit       float64          `json:"totalCredit"`
	ClientsWithCredit int              `json:"clientsWithCredit"`
	TradedLots        float64          `json:"tradedLots"`
	TradedNotional    float64          `json:"tradedNotional"`
	OpenLots          float64          `json:"openLots"`
	OpenNotional      float64          `json:"openNotional"`
	Exposure          []SymbolExposure `json:"exposure"`
	TopSymbols        []SymbolCount    `json:"topSymbols"`
	Counts            DealingCounts    `json:"counts"`
	Fallback          []string         `json:"fallback,omitempty"`
	Notice            string           `json:"notice,omitempty"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

type DealingService struct {
	src    DealingSource
	groups []string
	now    func() time.Time
	log    *logger.Entry
}

func NewDealingService(src DealingSource, groups []string) *DealingService {
	if len(groups) == 0 {
		groups = []string{"*"}
	}
	return &DealingService{
		src:    src,
		groups: groups,
		now:    time.Now,
		log:    logger.WithField("component", "dealing"),
	}
}

// Compute builds the dealing snapshot for w. Positions and in-window deals are
// fetched together; balances come from live account states or from daily
// reports depending on ClassifyWindow.
func (s *DealingService) Compute(ctx context.Context, w Window) (*DealingMetrics, error) {
	now := s.now().UTC()
	from, to := w.From.Unix(), w.To.Unix()
	m := &DealingMetrics{
		Source:    ClassifyWindow(w, now),
		From:      from,
		To:        to,
		UpdatedAt: now,
	}

	var (
		positions []model.MT5Position
		deals     []model.MT5Deal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		positions, err = s.src.PositionsBatch(gctx, nil, s.groups)
		if err != nil {
			return fmt.Errorf("positions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		deals, err = s.src.DealsBatch(gctx, nil, s.groups, from, to)
		if err != nil {
			return fmt.Errorf("deals: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logins := distinctPositionLogins(positions)
	loginsOrGroups := func() ([]int64, []string) {
		if len(logins) > 0 {
			return logins, nil
		}
		return nil, s.groups
	}
	resolve := func(ctx context.Context) ([]int64, error) {
		return s.src.UserLogins(ctx, s.groups)
	}

	var (
		balances BalanceTotals
		trace    []FallbackState
		noData   bool
	)
	switch m.Source {
	case SourceLive:
		chain := FallbackChain[model.MT5AccountState]{
			Primary: func(ctx context.Context) ([]model.MT5AccountState, error) {
				l, grp := loginsOrGroups()
				return s.src.AccountsBatch(ctx, l, grp)
			},
			Resolve: resolve,
			Retry: func(ctx context.Context, resolved []int64) ([]model.MT5AccountState, error) {
				return s.src.AccountsBatch(ctx, resolved, nil)
			},
		}
		out, err := chain.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("accounts: %w", err)
		}
		balances = AccountTotals(out.Rows)
		m.Counts.Accounts = len(out.Rows)
		trace, noData = out.Trace, out.NoData()

	default:
		chain := FallbackChain[model.MT5DailyReport]{
			Primary: func(ctx context.Context) ([]model.MT5DailyReport, error) {
				l, grp := loginsOrGroups()
				return s.src.DailyReportsBatch(ctx, l, grp, from, to)
			},
			Resolve: resolve,
			Retry: func(ctx context.Context, resolved []int64) ([]model.MT5DailyReport, error) {
				return s.src.DailyReportsBatch(ctx, resolved, nil, from, to)
			},
		}
		out, err := chain.Run(ctx)
		if err != nil {
			return nil, fmt.Errorf("daily reports: %w", err)
		}
		balances = ReportTotals(out.Rows)
		m.Counts.Reports = len(out.Rows)
		trace, noData = out.Trace, out.NoData()
	}

	m.TotalEquity = balances.Equity
	m.TotalCredit = balances.Credit
	m.ClientsWithCredit = balances.ClientsWithCredit
	m.OpenLots, m.OpenNotional = PositionTotals(positions)
	m.TradedLots, m.TradedNotional = DealTotals(deals)
	m.Exposure = NetExposure(positions, DefaultTopSymbols)
	m.TopSymbols = TopSymbols(positions, DefaultTopSymbols)
	m.Counts.Positions = len(positions)
	m.Counts.Deals = len(deals)
	if len(trace) > 1 {
		for _, st := range trace {
			m.Fallback = append(m.Fallback, st.String())
		}
	}
	if noData && len(positions) == 0 && len(deals) == 0 {
		m.Notice = NoDataNotice
	}

	s.log.WithFields(logger.Fields{
		"source":    m.Source,
		"positions": m.Counts.Positions,
		"deals":     m.Counts.Deals,
		"accounts":  m.Counts.Accounts,
		"reports":   m.Counts.Reports,
	}).Debug("dealing snapshot computed")
	return m, nil
}

func distinctPositionLogins(positions []model.MT5Position) []int64 {
	seen := make(map[int64]struct{}, len(positions))
	out := make([]int64, 0, len(positions))
	for _, p := range positions {
		login := p.Login.Int64()
		if login <= 0 {
			continue
		}
		if _, ok := seen[login]; ok {
			continue
		}
		seen[login] = struct{}{}
		out = append(out, login)
	}
	return out
}
