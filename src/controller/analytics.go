package controller

import (
	"context"
	"math"
	"sort"
	"strings"

	"brokerdash/src/model"
	"brokerdash/src/utils"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// RevenueTrendDays is how many most recent days the revenue trend keeps.
	RevenueTrendDays = 15
	// TopInstrumentsLimit is the length of the instrument ranking.
	TopInstrumentsLimit = 12
	// IBWithdrawalLabel buckets IB withdrawals in the PSP withdrawal breakdown.
	IBWithdrawalLabel = "IB Withdrawal"
)

type FunnelStage struct {
	Stage      string `json:"stage"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

type RevenueDay struct {
	Date        string  `json:"date"`
	Deposits    float64 `json:"deposits"`
	Withdrawals float64 `json:"withdrawals"`
	NetFlow     float64 `json:"netFlow"`
}

type BreakdownItem struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
	Type  string  `json:"type,omitempty"`
}

type SegmentItem struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Value  int    `json:"value"`
}

type InstrumentVolume struct {
	Symbol string  `json:"symbol"`
	Volume float64 `json:"volume"`
	Trades int     `json:"trades"`
	Type   string  `json:"type"`
}

type EntityCount struct {
	Name     string `json:"name"`
	Clients  int    `json:"clients"`
	Accounts int    `json:"accounts"`
}

type AnalyticsReport struct {
	ClientFunnel         []FunnelStage      `json:"clientFunnel"`
	RevenueTrend         []RevenueDay       `json:"revenueTrend"`
	TransactionBreakdown []BreakdownItem    `json:"transactionBreakdown"`
	Segmentation         []SegmentItem      `json:"segmentation"`
	TopInstruments       []InstrumentVolume `json:"topInstruments"`
	PSPDeposits          []BreakdownItem    `json:"pspDeposits"`
	PSPWithdrawals       []BreakdownItem    `json:"pspWithdrawals"`
	Entities             []EntityCount      `json:"entities"`
}

// Analytics builds the chart series for the filter range. Money series are in
// millions. Trades, accounts and the entity census degrade to empty when the
// CRM rejects them; transactions and users are required.
func (s *DashboardService) Analytics(ctx context.Context, f DashboardFilter, period string) (*AnalyticsReport, error) {
	rng := f.Range()
	allAccountsReq := model.AccountRequest{Segment: &model.Segment{Limit: s.pageLimit}}

	var (
		deposits, withdrawals, ibWithdrawals []model.Transaction
		users, censusUsers                   []model.User
		trades                               []model.Trade
		allAccounts                          []model.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(required("deposits", func() (err error) {
		deposits, err = s.crm.FetchTransactions(gctx, approvedTransactions(model.TransactionDeposit, rng))
		return
	}))
	g.Go(required("withdrawals", func() (err error) {
		withdrawals, err = s.crm.FetchTransactions(gctx, approvedTransactions(model.TransactionWithdrawal, rng))
		return
	}))
	g.Go(required("ib withdrawals", func() (err error) {
		ibWithdrawals, err = s.crm.FetchTransactions(gctx, approvedTransactions(model.TransactionIBWithdrawal, rng))
		return
	}))
	g.Go(required("users", func() (err error) {
		users, err = s.crm.FetchUsers(gctx, model.UserRequest{Created: rng, CustomFields: s.entityFields(f)})
		return
	}))
	g.Go(s.optional("trades", func() (err error) {
		trades, err = s.crm.FetchTrades(gctx, model.TradeRequest{CloseDate: rng})
		return
	}))
	g.Go(s.optional("accounts", func() (err error) {
		allAccounts, err = s.crm.FetchAccounts(gctx, allAccountsReq)
		return
	}))
	g.Go(s.optional("entity census", func() (err error) {
		censusUsers, err = s.crm.FetchUsers(gctx, model.UserRequest{})
		return
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	revenue := RevenueTrend(deposits, withdrawals)
	if !strings.EqualFold(period, PeriodToday) && len(revenue) > RevenueTrendDays {
		revenue = revenue[len(revenue)-RevenueTrendDays:]
	}

	return &AnalyticsReport{
		ClientFunnel:         ClientFunnel(users, allAccounts, deposits),
		RevenueTrend:         revenue,
		TransactionBreakdown: TransactionBreakdown(deposits, withdrawals, ibWithdrawals),
		Segmentation:         ClientSegmentation(users),
		TopInstruments:       TopInstruments(trades, TopInstrumentsLimit),
		PSPDeposits:          PSPDeposits(deposits),
		PSPWithdrawals:       PSPWithdrawals(withdrawals, ibWithdrawals),
		Entities:             EntityCensus(censusUsers, allAccounts, s.entityField),
	}, nil
}

func percentOf(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// ClientFunnel counts registered users, those holding a trading account and
// those who deposited. Later stages only count registered users.
func ClientFunnel(users []model.User, accounts []model.Account, deposits []model.Transaction) []FunnelStage {
	registered := userIDSet(users)
	withAccount := idSet{}
	for _, a := range accounts {
		if registered.has(a.UserID) {
			withAccount[a.UserID] = struct{}{}
		}
	}
	depositors := idSet{}
	for _, tx := range deposits {
		if registered.has(tx.FromUserID) {
			depositors[tx.FromUserID] = struct{}{}
		}
	}
	total := len(registered)
	return []FunnelStage{
		{Stage: "Total Clients", Count: total, Percentage: 100},
		{Stage: "Created MT5", Count: len(withAccount), Percentage: percentOf(len(withAccount), total)},
		{Stage: "Made Deposits", Count: len(depositors), Percentage: percentOf(len(depositors), total)},
	}
}

func crmDay(processedAt string) string {
	t, err := utils.ParseCRMTime(processedAt)
	if err != nil {
		return ""
	}
	return t.In(utils.CRMLocation).Format(utils.DateLayout)
}

// RevenueTrend sums deposits and absolute withdrawals per CRM day, in
// millions, oldest first. Transactions with an unreadable date are skipped.
func RevenueTrend(deposits, withdrawals []model.Transaction) []RevenueDay {
	type sums struct{ dep, wd decimal.Decimal }
	days := map[string]*sums{}
	get := func(day string) *sums {
		d, ok := days[day]
		if !ok {
			d = &sums{dep: decimal.Zero, wd: decimal.Zero}
			days[day] = d
		}
		return d
	}
	for _, tx := range deposits {
		if day := crmDay(tx.ProcessedAt); day != "" {
			d := get(day)
			d.dep = d.dep.Add(tx.ProcessedAmount)
		}
	}
	for _, tx := range withdrawals {
		if day := crmDay(tx.ProcessedAt); day != "" {
			d := get(day)
			d.wd = d.wd.Add(tx.ProcessedAmount.Abs())
		}
	}

	out := make([]RevenueDay, 0, len(days))
	for day, d := range days {
		out = append(out, RevenueDay{
			Date:        day,
			Deposits:    toMillions(d.dep),
			Withdrawals: toMillions(d.wd),
			NetFlow:     toMillions(d.dep.Sub(d.wd)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func absTotal(txs []model.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.ProcessedAmount.Abs())
	}
	return total
}

func TransactionBreakdown(deposits, withdrawals, ibWithdrawals []model.Transaction) []BreakdownItem {
	return []BreakdownItem{
		{Name: "Deposits", Value: toMillions2(SumAmounts(deposits, nil)), Count: len(deposits)},
		{Name: "Withdrawals", Value: toMillions2(absTotal(withdrawals)), Count: len(withdrawals)},
		{Name: "IB Withdrawals", Value: toMillions2(absTotal(ibWithdrawals)), Count: len(ibWithdrawals)},
	}
}

// ClientSegmentation splits users by client type and verification.
func ClientSegmentation(users []model.User) []SegmentItem {
	out := []SegmentItem{
		{Name: "Individual Verified", Type: model.ClientTypeIndividual, Status: "Verified"},
		{Name: "Individual Not Verified", Type: model.ClientTypeIndividual, Status: "Not Verified"},
		{Name: "Corporate Verified", Type: model.ClientTypeCorporate, Status: "Verified"},
		{Name: "Corporate Not Verified", Type: model.ClientTypeCorporate, Status: "Not Verified"},
	}
	for _, u := range users {
		idx := -1
		switch u.ClientType {
		case model.ClientTypeIndividual:
			idx = 0
		case model.ClientTypeCorporate:
			idx = 2
		}
		if idx < 0 {
			continue
		}
		if !u.Verified {
			idx++
		}
		out[idx].Value++
	}
	return out
}

// TopInstruments ranks symbols by summed trade volume, reported in millions.
func TopInstruments(trades []model.Trade, limit int) []InstrumentVolume {
	type acc struct {
		volume decimal.Decimal
		trades int
	}
	bySymbol := map[string]*acc{}
	for _, t := range trades {
		symbol := t.Symbol
		if symbol == "" {
			symbol = "Unknown"
		}
		a, ok := bySymbol[symbol]
		if !ok {
			a = &acc{volume: decimal.Zero}
			bySymbol[symbol] = a
		}
		a.volume = a.volume.Add(decimal.NewFromFloat(t.Volume.Float64()))
		a.trades++
	}

	out := make([]InstrumentVolume, 0, len(bySymbol))
	for symbol, a := range bySymbol {
		out = append(out, InstrumentVolume{
			Symbol: symbol,
			Volume: toMillions2(a.volume),
			Trades: a.trades,
			Type:   InstrumentType(symbol),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		if out[i].Trades != out[j].Trades {
			return out[i].Trades > out[j].Trades
		}
		return out[i].Symbol < out[j].Symbol
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NormalizePSPName maps the CRM payment provider onto its reporting label.
func NormalizePSPName(psp string) string {
	name := strings.TrimSpace(psp)
	switch strings.ToLower(name) {
	case "":
		return "Unknown"
	case "bankwire":
		return "Crypto LD"
	case "promise":
		return "Cash LD"
	}
	return name
}

type pspBucket struct {
	amount decimal.Decimal
	count  int
	kind   string
}

func addToBucket(buckets map[string]*pspBucket, name, kind string, amount decimal.Decimal) {
	b, ok := buckets[name]
	if !ok {
		b = &pspBucket{amount: decimal.Zero, kind: kind}
		buckets[name] = b
	}
	b.amount = b.amount.Add(amount)
	b.count++
}

func sortedBuckets(buckets map[string]*pspBucket) []BreakdownItem {
	out := make([]BreakdownItem, 0, len(buckets))
	for name, b := range buckets {
		out = append(out, BreakdownItem{Name: name, Value: toMillions2(b.amount), Count: b.count, Type: b.kind})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func PSPDeposits(deposits []model.Transaction) []BreakdownItem {
	buckets := map[string]*pspBucket{}
	for _, tx := range deposits {
		addToBucket(buckets, NormalizePSPName(tx.PSP), "", tx.ProcessedAmount)
	}
	return sortedBuckets(buckets)
}

// PSPWithdrawals buckets withdrawals by provider and all IB withdrawals under
// IBWithdrawalLabel. Amounts are absolute.
func PSPWithdrawals(withdrawals, ibWithdrawals []model.Transaction) []BreakdownItem {
	buckets := map[string]*pspBucket{}
	for _, tx := range withdrawals {
		addToBucket(buckets, NormalizePSPName(tx.PSP), "Withdrawal", tx.ProcessedAmount.Abs())
	}
	for _, tx := range ibWithdrawals {
		addToBucket(buckets, IBWithdrawalLabel, IBWithdrawalLabel, tx.ProcessedAmount.Abs())
	}
	return sortedBuckets(buckets)
}

// EntityCensus counts clients and accounts per entity tag. Untagged users
// belong to model.DefaultEntity, which is left out of the result.
func EntityCensus(users []model.User, accounts []model.Account, field string) []EntityCount {
	entityOf := make(map[int64]string, len(users))
	counts := map[string]*EntityCount{}
	get := func(name string) *EntityCount {
		c, ok := counts[name]
		if !ok {
			c = &EntityCount{Name: name}
			counts[name] = c
		}
		return c
	}
	for _, u := range users {
		entity := u.Entity(field)
		entityOf[u.ID] = entity
		get(entity).Clients++
	}
	for _, a := range accounts {
		entity, ok := entityOf[a.UserID]
		if !ok {
			continue
		}
		get(entity).Accounts++
	}

	out := make([]EntityCount, 0, len(counts))
	for name, c := range counts {
		if name == model.DefaultEntity {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Clients != out[j].Clients {
			return out[i].Clients > out[j].Clients
		}
		return out[i].Name < out[j].Name
	})
	return out
}
