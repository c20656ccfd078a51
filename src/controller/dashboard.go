package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brokerdash/src/model"
	"brokerdash/src/utils"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EntityAll disables the entity filter.
const EntityAll = "all"

// QuickStatsAccountsLimit caps the new-account listing used by QuickStats.
const QuickStatsAccountsLimit = 500

var million = decimal.NewFromInt(1_000_000)

// CRMSource is the CRM surface the dashboards read.
type CRMSource interface {
	FetchTransactions(ctx context.Context, req model.TransactionRequest) ([]model.Transaction, error)
	FetchUsers(ctx context.Context, req model.UserRequest) ([]model.User, error)
	FetchAccounts(ctx context.Context, req model.AccountRequest) ([]model.Account, error)
	FetchTrades(ctx context.Context, req model.TradeRequest) ([]model.Trade, error)
}

// DashboardFilter is the common widget filter: an optional entity and a range
// of CRM calendar days.
type DashboardFilter struct {
	Entity string
	From   time.Time
	To     time.Time
}

func (f DashboardFilter) HasEntity() bool {
	e := strings.TrimSpace(f.Entity)
	return e != "" && !strings.EqualFold(e, EntityAll)
}

// Range renders the filter days as a CRM begin/end pair.
func (f DashboardFilter) Range() *model.DateRange {
	begin, end := utils.CRMDayBounds(f.From, f.To)
	return &model.DateRange{Begin: begin, End: end}
}

// Contains reports whether t falls within the filter days.
func (f DashboardFilter) Contains(t time.Time) bool {
	return !t.Before(utils.CRMDayStart(f.From)) && !t.After(utils.CRMDayEnd(f.To))
}

// Timeline presets used when no explicit dates are given.
const (
	PeriodToday = "today"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// ResolvePeriod maps a timeline preset onto CRM days ending today. Unknown
// values fall back to the last 30 days.
func ResolvePeriod(period string, now time.Time) (time.Time, time.Time) {
	end := now.In(utils.CRMLocation)
	switch strings.ToLower(period) {
	case PeriodToday:
		return end, end
	case PeriodWeek:
		return end.AddDate(0, 0, -7), end
	case PeriodYear:
		return end.AddDate(-1, 0, 0), end
	default:
		return end.AddDate(0, 0, -30), end
	}
}

type DashboardService struct {
	crm         CRMSource
	entityField string
	pageLimit   int
	now         func() time.Time
	log         *logger.Entry
}

func NewDashboardService(crm CRMSource) *DashboardService {
	cfg := GetConfig()
	return &DashboardService{
		crm:         crm,
		entityField: cfg.EntityField,
		pageLimit:   cfg.AccountsPageLimit,
		now:         time.Now,
		log:         logger.WithField("component", "dashboard"),
	}
}

// Filter builds a widget filter. Explicit days win; a missing from is 30 days
// before to, a missing to is today. With neither, period picks the range.
func (s *DashboardService) Filter(entity string, from, to *time.Time, period string) DashboardFilter {
	now := s.now()
	if from == nil && to == nil {
		start, end := ResolvePeriod(period, now)
		return DashboardFilter{Entity: entity, From: start, To: end}
	}
	end := now.In(utils.CRMLocation)
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -30)
	if from != nil {
		start = *from
	}
	return DashboardFilter{Entity: entity, From: start, To: end}
}

func (s *DashboardService) entityFields(f DashboardFilter) map[string]string {
	if !f.HasEntity() {
		return nil
	}
	return map[string]string{s.entityField: f.Entity}
}

func approvedTransactions(kind string, processedAt *model.DateRange) model.TransactionRequest {
	return model.TransactionRequest{
		ProcessedAt:      processedAt,
		Statuses:         []string{model.StatusApproved},
		TransactionTypes: []string{kind},
	}
}

// optional runs fn and swallows its error, leaving the zero result in place.
func (s *DashboardService) optional(name string, fn func() error) func() error {
	return func() error {
		if err := fn(); err != nil {
			s.log.WithError(err).WithField("branch", name).Warn("optional dashboard branch failed")
		}
		return nil
	}
}

func required(name string, fn func() error) func() error {
	return func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

// IsNegativeBalanceCorrection marks deposits booked to clear a negative
// balance; they are not client money and are left out of deposit totals.
func IsNegativeBalanceCorrection(tx model.Transaction) bool {
	return strings.Contains(strings.ToLower(tx.PlatformComment), "negative bal")
}

// SumAmounts totals ProcessedAmount of the transactions keep accepts (all when
// keep is nil).
func SumAmounts(txs []model.Transaction, keep func(model.Transaction) bool) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if keep != nil && !keep(tx) {
			continue
		}
		total = total.Add(tx.ProcessedAmount)
	}
	return total
}

func clientDeposits(tx model.Transaction) bool { return !IsNegativeBalanceCorrection(tx) }

func toMillions(d decimal.Decimal) float64 {
	return d.Div(million).InexactFloat64()
}

func toMillions2(d decimal.Decimal) float64 {
	return d.Div(million).Round(2).InexactFloat64()
}

type idSet map[int64]struct{}

func userIDSet(users []model.User) idSet {
	set := make(idSet, len(users))
	for _, u := range users {
		set[u.ID] = struct{}{}
	}
	return set
}

func (s idSet) has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) ids() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

func filterTransactions(txs []model.Transaction, users idSet) []model.Transaction {
	out := make([]model.Transaction, 0, len(txs))
	for _, tx := range txs {
		if users.has(tx.FromUserID) {
			out = append(out, tx)
		}
	}
	return out
}

type QuickStats struct {
	TotalDeposit      float64 `json:"totalDeposit"`
	TotalWithdrawal   float64 `json:"totalWithdrawal"`
	NetDeposit        float64 `json:"netDeposit"`
	TotalIBWithdrawal float64 `json:"totalIbWithdrawal"`
	Deposits          int     `json:"deposits"`
	ExcludedDeposits  int     `json:"excludedDeposits"`
	Withdrawals       int     `json:"withdrawals"`
	IBWithdrawals     int     `json:"ibWithdrawals"`
	Trades            int     `json:"trades"`
	TradedVolume      float64 `json:"tradedVolume"`
	MillionYards      float64 `json:"millionYards"`
	NewAccounts       int     `json:"newAccounts"`
	NewClients        int     `json:"newClients"`
}

// QuickStats is the header strip: money in and out, trading volume and new
// clients/accounts for the filter range. When an entity is selected every
// series is restricted to that entity's users.
func (s *DashboardService) QuickStats(ctx context.Context, f DashboardFilter) (*QuickStats, error) {
	rng := f.Range()

	var entityUsers idSet
	if f.HasEntity() {
		users, err := s.crm.FetchUsers(ctx, model.UserRequest{CustomFields: s.entityFields(f)})
		if err != nil {
			return nil, fmt.Errorf("entity users: %w", err)
		}
		entityUsers = userIDSet(users)
	}

	base := func(kind string) model.TransactionRequest {
		req := approvedTransactions(kind, rng)
		req.CreatedAt = rng
		return req
	}
	accountsReq := model.AccountRequest{
		CreatedAt: rng,
		Orders:    []model.OrderBy{{Field: "createdAt", Direction: "DESC"}},
		Segment:   &model.Segment{Limit: QuickStatsAccountsLimit},
	}
	if entityUsers != nil {
		accountsReq.UserIDs = entityUsers.ids()
	}

	var (
		deposits, withdrawals, ibWithdrawals []model.Transaction
		trades                               []model.Trade
		newUsers                             []model.User
		accounts                             []model.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(required("deposits", func() (err error) {
		deposits, err = s.crm.FetchTransactions(gctx, base(model.TransactionDeposit))
		return
	}))
	g.Go(required("withdrawals", func() (err error) {
		withdrawals, err = s.crm.FetchTransactions(gctx, base(model.TransactionWithdrawal))
		return
	}))
	g.Go(required("ib withdrawals", func() (err error) {
		ibWithdrawals, err = s.crm.FetchTransactions(gctx, base(model.TransactionIBWithdrawal))
		return
	}))
	g.Go(required("trades", func() (err error) {
		trades, err = s.crm.FetchTrades(gctx, model.TradeRequest{OpenDate: rng, CloseDate: rng, TicketType: []string{"buy", "sell"}})
		return
	}))
	g.Go(required("new users", func() (err error) {
		newUsers, err = s.crm.FetchUsers(gctx, model.UserRequest{Created: rng, CustomFields: s.entityFields(f)})
		return
	}))
	if entityUsers == nil || len(entityUsers) > 0 {
		g.Go(required("new accounts", func() (err error) {
			accounts, err = s.crm.FetchAccounts(gctx, accountsReq)
			return
		}))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if entityUsers != nil {
		deposits = filterTransactions(deposits, entityUsers)
		withdrawals = filterTransactions(withdrawals, entityUsers)
		ibWithdrawals = filterTransactions(ibWithdrawals, entityUsers)
		kept := trades[:0]
		for _, t := range trades {
			if entityUsers.has(t.UserID) {
				kept = append(kept, t)
			}
		}
		trades = kept
	}

	totalDeposit := SumAmounts(deposits, clientDeposits)
	totalWithdrawal := SumAmounts(withdrawals, nil).Abs()
	totalIB := SumAmounts(ibWithdrawals, nil).Abs()

	out := &QuickStats{
		TotalDeposit:      totalDeposit.InexactFloat64(),
		TotalWithdrawal:   totalWithdrawal.InexactFloat64(),
		NetDeposit:        totalDeposit.Sub(totalWithdrawal).InexactFloat64(),
		TotalIBWithdrawal: totalIB.InexactFloat64(),
		Withdrawals:       len(withdrawals),
		IBWithdrawals:     len(ibWithdrawals),
		Trades:            len(trades),
		NewAccounts:       len(accounts),
		NewClients:        len(newUsers),
	}
	for _, tx := range deposits {
		if IsNegativeBalanceCorrection(tx) {
			out.ExcludedDeposits++
		} else {
			out.Deposits++
		}
	}

	var notional float64
	for _, t := range trades {
		volume := t.Volume.Float64()
		out.TradedVolume += volume
		notional += volume * t.OpenPrice.Float64() * ContractSize(t.Symbol)
	}
	out.MillionYards = notional / 1e6

	s.log.WithFields(logger.Fields{
		"entity":   f.Entity,
		"deposits": len(deposits),
		"trades":   len(trades),
	}).Debug("quick stats computed")
	return out, nil
}

type BackOfficeMetrics struct {
	TotalDeposits     int `json:"totalDeposits"`
	TotalWithdrawals  int `json:"totalWithdrawals"`
	TotalIBs          int `json:"totalIBs"`
	TotalClients      int `json:"totalClients"`
	TotalMT5Accounts  int `json:"totalMT5Accounts"`
	FirstDeposits     int `json:"firstDeposits"`
	VerifiedClients   int `json:"verifiedClients"`
	IndividualClients int `json:"individualClients"`
	CorporateClients  int `json:"corporateClients"`
}

// BackOffice counts approved transactions, new clients and accounts, and the
// KYC split. The verification and client-type counts are best effort.
func (s *DashboardService) BackOffice(ctx context.Context, f DashboardFilter) (*BackOfficeMetrics, error) {
	rng := f.Range()
	usersReq := func() model.UserRequest {
		return model.UserRequest{Created: rng, CustomFields: s.entityFields(f)}
	}

	var (
		users                                []model.User
		accounts                             []model.Account
		deposits, withdrawals, ibWithdrawals []model.Transaction
		verified, individual, corporate      []model.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(required("users", func() (err error) {
		users, err = s.crm.FetchUsers(gctx, usersReq())
		return
	}))
	g.Go(required("accounts", func() (err error) {
		accounts, err = s.crm.FetchAccounts(gctx, model.AccountRequest{CreatedAt: rng, Segment: &model.Segment{Limit: s.pageLimit}})
		return
	}))
	g.Go(required("ib withdrawals", func() (err error) {
		ibWithdrawals, err = s.crm.FetchTransactions(gctx, approvedTransactions(model.TransactionIBWithdrawal, rng))
		return
	}))
	g.Go(required("deposits", func() (err error) {
		deposits, err = s.crm.FetchTransactions(gctx, approvedTransactions(model.TransactionDeposit, rng))
		return
	}))
	g.Go(required("withdrawals", func() (err error) {
		withdrawals, err = s.crm.FetchTransactions(gctx, approvedTransactions(model.TransactionWithdrawal, rng))
		return
	}))
	g.Go(s.optional("verified", func() (err error) {
		req := usersReq()
		yes := true
		req.Verified = &yes
		verified, err = s.crm.FetchUsers(gctx, req)
		return
	}))
	g.Go(s.optional("individual", func() (err error) {
		req := usersReq()
		req.ClientTypes = []string{model.ClientTypeIndividual}
		individual, err = s.crm.FetchUsers(gctx, req)
		return
	}))
	g.Go(s.optional("corporate", func() (err error) {
		req := usersReq()
		req.ClientTypes = []string{model.ClientTypeCorporate}
		corporate, err = s.crm.FetchUsers(gctx, req)
		return
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if f.HasEntity() {
		members := userIDSet(users)
		kept := accounts[:0]
		for _, a := range accounts {
			if members.has(a.UserID) {
				kept = append(kept, a)
			}
		}
		accounts = kept
	}

	return &BackOfficeMetrics{
		TotalDeposits:     len(deposits),
		TotalWithdrawals:  len(withdrawals),
		TotalIBs:          len(ibWithdrawals),
		TotalClients:      len(users),
		TotalMT5Accounts:  len(accounts),
		FirstDeposits:     countFirstDeposits(users, f),
		VerifiedClients:   len(verified),
		IndividualClients: len(individual),
		CorporateClients:  len(corporate),
	}, nil
}

func countFirstDeposits(users []model.User, f DashboardFilter) int {
	n := 0
	for _, u := range users {
		if u.FirstDepositDate == "" {
			continue
		}
		t, err := utils.ParseCRMTime(u.FirstDepositDate)
		if err != nil {
			continue
		}
		if f.Contains(t) {
			n++
		}
	}
	return n
}

type AccountsDepartmentMetrics struct {
	DepositsToday    float64 `json:"depositsToday"`
	WithdrawalsToday float64 `json:"withdrawalsToday"`
	NetFlow          float64 `json:"netFlow"`
	Deposits         int     `json:"deposits"`
	Withdrawals      int     `json:"withdrawals"`
	FirstTimeDeposit int     `json:"firstTimeDepositors"`
}

// AccountsDepartment reports money flow in millions for the filter days
// (today by default) plus the number of depositors funding for the first time.
func (s *DashboardService) AccountsDepartment(ctx context.Context, f DashboardFilter) (*AccountsDepartmentMetrics, error) {
	rng := f.Range()
	req := func(kind string) model.TransactionRequest {
		r := approvedTransactions(kind, rng)
		r.CustomFields = s.entityFields(f)
		return r
	}

	var deposits, withdrawals []model.Transaction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(required("deposits", func() (err error) {
		deposits, err = s.crm.FetchTransactions(gctx, req(model.TransactionDeposit))
		return
	}))
	g.Go(required("withdrawals", func() (err error) {
		withdrawals, err = s.crm.FetchTransactions(gctx, req(model.TransactionWithdrawal))
		return
	}))
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totalDeposits := SumAmounts(deposits, clientDeposits)
	totalWithdrawals := SumAmounts(withdrawals, nil).Abs()
	out := &AccountsDepartmentMetrics{
		DepositsToday:    toMillions(totalDeposits),
		WithdrawalsToday: toMillions(totalWithdrawals),
		NetFlow:          toMillions(totalDeposits.Sub(totalWithdrawals)),
		Deposits:         len(deposits),
		Withdrawals:      len(withdrawals),
	}

	depositors := idSet{}
	for _, tx := range deposits {
		if clientDeposits(tx) && tx.FromUserID > 0 {
			depositors[tx.FromUserID] = struct{}{}
		}
	}
	if len(depositors) > 0 {
		users, err := s.crm.FetchUsers(ctx, model.UserRequest{IDs: depositors.ids()})
		if err != nil {
			s.log.WithError(err).Warn("first-time depositor lookup failed")
		} else {
			out.FirstTimeDeposit = countFirstDeposits(users, f)
		}
	}
	return out, nil
}
