package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"brokerdash/src/model"
	"brokerdash/src/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCRM struct {
	mu sync.Mutex

	transactions map[string][]model.Transaction
	users        func(req model.UserRequest) ([]model.User, error)
	accounts     []model.Account
	trades       []model.Trade

	tradesErr   error
	accountsErr error
	txErr       map[string]error

	txRequests      []model.TransactionRequest
	userRequests    []model.UserRequest
	accountRequests []model.AccountRequest
}

func (f *fakeCRM) FetchTransactions(_ context.Context, req model.TransactionRequest) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txRequests = append(f.txRequests, req)
	kind := req.TransactionTypes[0]
	if err := f.txErr[kind]; err != nil {
		return nil, err
	}
	return f.transactions[kind], nil
}

func (f *fakeCRM) FetchUsers(_ context.Context, req model.UserRequest) ([]model.User, error) {
	f.mu.Lock()
	f.userRequests = append(f.userRequests, req)
	f.mu.Unlock()
	if f.users == nil {
		return nil, nil
	}
	return f.users(req)
}

func (f *fakeCRM) FetchAccounts(_ context.Context, req model.AccountRequest) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountRequests = append(f.accountRequests, req)
	return f.accounts, f.accountsErr
}

func (f *fakeCRM) FetchTrades(context.Context, model.TradeRequest) ([]model.Trade, error) {
	return f.trades, f.tradesErr
}

func amount(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func testFilter(entity string) DashboardFilter {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, utils.CRMLocation)
	return DashboardFilter{Entity: entity, From: day, To: day.AddDate(0, 0, 6)}
}

func sampleTransactions() map[string][]model.Transaction {
	return map[string][]model.Transaction{
		model.TransactionDeposit: {
			{FromUserID: 1, ProcessedAmount: amount("1000.10"), PSP: "bankwire", ProcessedAt: "2024-03-01 10:00:00"},
			{FromUserID: 2, ProcessedAmount: amount("500"), PSP: "Promise", ProcessedAt: "2024-03-02 09:00:00"},
			{FromUserID: 2, ProcessedAmount: amount("250"), PlatformComment: "Negative Balance fix", ProcessedAt: "2024-03-02 11:00:00"},
		},
		model.TransactionWithdrawal: {
			{FromUserID: 1, ProcessedAmount: amount("-300"), PSP: "", ProcessedAt: "2024-03-02 12:00:00"},
			{FromUserID: 3, ProcessedAmount: amount("-100"), PSP: "Match2Pay", ProcessedAt: "2024-03-03 12:00:00"},
		},
		model.TransactionIBWithdrawal: {
			{FromUserID: 3, ProcessedAmount: amount("-40"), ProcessedAt: "2024-03-03 12:00:00"},
		},
	}
}

func newTestDashboard(crm CRMSource) *DashboardService {
	s := NewDashboardService(crm)
	s.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestQuickStats_AllEntities(t *testing.T) {
	crm := &fakeCRM{
		transactions: sampleTransactions(),
		trades: []model.Trade{
			{UserID: 1, Symbol: "EURUSD", Volume: 2, OpenPrice: 1.1},
			{UserID: 3, Symbol: "XAUUSD.raw", Volume: 1, OpenPrice: 2000},
		},
		accounts: []model.Account{{UserID: 1}, {UserID: 2}},
		users: func(model.UserRequest) ([]model.User, error) {
			return []model.User{{ID: 1}, {ID: 2}, {ID: 3}}, nil
		},
	}

	qs, err := newTestDashboard(crm).QuickStats(context.Background(), testFilter("all"))
	require.NoError(t, err)

	assert.InDelta(t, 1500.10, qs.TotalDeposit, 1e-9)
	assert.InDelta(t, 400.0, qs.TotalWithdrawal, 1e-9)
	assert.InDelta(t, 1100.10, qs.NetDeposit, 1e-9)
	assert.InDelta(t, 40.0, qs.TotalIBWithdrawal, 1e-9)
	assert.Equal(t, 2, qs.Deposits)
	assert.Equal(t, 1, qs.ExcludedDeposits)
	assert.Equal(t, 2, qs.NewAccounts)
	assert.Equal(t, 3, qs.NewClients)
	assert.InDelta(t, 3.0, qs.TradedVolume, 1e-9)
	assert.InDelta(t, (2*1.1*100000+1*2000*100)/1e6, qs.MillionYards, 1e-9)

	require.NotEmpty(t, crm.txRequests)
	req := crm.txRequests[0]
	assert.Equal(t, []string{model.StatusApproved}, req.Statuses)
	assert.Equal(t, "2024-03-01 00:00:00", req.ProcessedAt.Begin)
	assert.Equal(t, "2024-03-07 23:59:59", req.ProcessedAt.End)
	assert.Equal(t, req.ProcessedAt, req.CreatedAt)

	require.Len(t, crm.accountRequests, 1)
	assert.Equal(t, QuickStatsAccountsLimit, crm.accountRequests[0].Segment.Limit)
	assert.Empty(t, crm.accountRequests[0].UserIDs)
	for _, ur := range crm.userRequests {
		assert.Nil(t, ur.CustomFields)
	}
}

func TestQuickStats_EntityFiltersClientSide(t *testing.T) {
	crm := &fakeCRM{
		transactions: sampleTransactions(),
		trades:       []model.Trade{{UserID: 1, Symbol: "EURUSD", Volume: 1, OpenPrice: 1}, {UserID: 3, Symbol: "EURUSD", Volume: 5, OpenPrice: 1}},
		users: func(req model.UserRequest) ([]model.User, error) {
			return []model.User{{ID: 1}}, nil
		},
	}

	qs, err := newTestDashboard(crm).QuickStats(context.Background(), testFilter("Dubai"))
	require.NoError(t, err)

	assert.InDelta(t, 1000.10, qs.TotalDeposit, 1e-9)
	assert.InDelta(t, 300.0, qs.TotalWithdrawal, 1e-9)
	assert.InDelta(t, 0.0, qs.TotalIBWithdrawal, 1e-9)
	assert.Equal(t, 1, qs.Trades)
	require.Len(t, crm.accountRequests, 1)
	assert.Equal(t, []int64{1}, crm.accountRequests[0].UserIDs)
	assert.Equal(t, map[string]string{"custom_change_me_field": "Dubai"}, crm.userRequests[0].CustomFields)
}

func TestQuickStats_RequiredBranchFails(t *testing.T) {
	crm := &fakeCRM{
		transactions: sampleTransactions(),
		txErr:        map[string]error{model.TransactionWithdrawal: errors.New("API error 500: boom")},
	}
	_, err := newTestDashboard(crm).QuickStats(context.Background(), testFilter(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "withdrawals: API error 500: boom")
}

func TestBackOffice_OptionalBranchesDegrade(t *testing.T) {
	crm := &fakeCRM{
		transactions: sampleTransactions(),
		accounts:     []model.Account{{UserID: 1}, {UserID: 9}},
		users: func(req model.UserRequest) ([]model.User, error) {
			switch {
			case req.Verified != nil:
				return nil, errors.New("API error 400: unsupported filter")
			case len(req.ClientTypes) > 0 && req.ClientTypes[0] == model.ClientTypeCorporate:
				return []model.User{{ID: 2}}, nil
			case len(req.ClientTypes) > 0:
				return []model.User{{ID: 1}, {ID: 3}}, nil
			}
			return []model.User{
				{ID: 1, FirstDepositDate: "2024-03-02 10:00:00"},
				{ID: 2, FirstDepositDate: "2024-02-01 10:00:00"},
				{ID: 3},
			}, nil
		},
	}

	m, err := newTestDashboard(crm).BackOffice(context.Background(), testFilter("Dubai"))
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalDeposits)
	assert.Equal(t, 2, m.TotalWithdrawals)
	assert.Equal(t, 1, m.TotalIBs)
	assert.Equal(t, 3, m.TotalClients)
	assert.Equal(t, 1, m.TotalMT5Accounts)
	assert.Equal(t, 1, m.FirstDeposits)
	assert.Equal(t, 0, m.VerifiedClients)
	assert.Equal(t, 2, m.IndividualClients)
	assert.Equal(t, 1, m.CorporateClients)
}

func TestAccountsDepartment(t *testing.T) {
	crm := &fakeCRM{
		transactions: sampleTransactions(),
		users: func(req model.UserRequest) ([]model.User, error) {
			assert.ElementsMatch(t, []int64{1, 2}, req.IDs)
			return []model.User{{ID: 1, FirstDepositDate: "2024-03-01 10:00:00"}, {ID: 2}}, nil
		},
	}

	m, err := newTestDashboard(crm).AccountsDepartment(context.Background(), testFilter("Dubai"))
	require.NoError(t, err)
	assert.InDelta(t, 0.0015001, m.DepositsToday, 1e-12)
	assert.InDelta(t, 0.0004, m.WithdrawalsToday, 1e-12)
	assert.InDelta(t, 0.0011001, m.NetFlow, 1e-12)
	assert.Equal(t, 1, m.FirstTimeDeposit)
	for _, req := range crm.txRequests {
		assert.Equal(t, map[string]string{"custom_change_me_field": "Dubai"}, req.CustomFields)
		assert.Nil(t, req.CreatedAt)
	}
}

func TestDashboardFilter(t *testing.T) {
	s := newTestDashboard(&fakeCRM{})

	f := s.Filter("all", nil, nil, PeriodWeek)
	assert.False(t, f.HasEntity())
	assert.Equal(t, "2024-03-03 00:00:00", f.Range().Begin)
	assert.Equal(t, "2024-03-10 23:59:59", f.Range().End)

	to := time.Date(2024, 2, 29, 0, 0, 0, 0, utils.CRMLocation)
	f = s.Filter("Dubai", nil, &to, "")
	assert.True(t, f.HasEntity())
	assert.Equal(t, "2024-01-30 00:00:00", f.Range().Begin)

	assert.True(t, f.Contains(time.Date(2024, 2, 29, 23, 0, 0, 0, utils.CRMLocation)))
	assert.False(t, f.Contains(time.Date(2024, 3, 1, 0, 0, 0, 0, utils.CRMLocation)))
}
