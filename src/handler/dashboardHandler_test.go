package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"brokerdash/src/controller"
	"brokerdash/src/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type filterCall struct {
	entity   string
	from, to *time.Time
	period   string
}

type fakeDashboard struct {
	calls []filterCall
	err   error
}

func (f *fakeDashboard) Filter(entity string, from, to *time.Time, period string) controller.DashboardFilter {
	f.calls = append(f.calls, filterCall{entity: entity, from: from, to: to, period: period})
	return controller.DashboardFilter{Entity: entity}
}

func (f *fakeDashboard) QuickStats(context.Context, controller.DashboardFilter) (*controller.QuickStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &controller.QuickStats{TotalDeposit: 1500, Deposits: 3}, nil
}

func (f *fakeDashboard) BackOffice(context.Context, controller.DashboardFilter) (*controller.BackOfficeMetrics, error) {
	return &controller.BackOfficeMetrics{TotalClients: 4}, f.err
}

func (f *fakeDashboard) AccountsDepartment(context.Context, controller.DashboardFilter) (*controller.AccountsDepartmentMetrics, error) {
	return &controller.AccountsDepartmentMetrics{FirstTimeDeposit: 2}, f.err
}

func (f *fakeDashboard) Analytics(_ context.Context, _ controller.DashboardFilter, period string) (*controller.AnalyticsReport, error) {
	return &controller.AnalyticsReport{}, f.err
}

type fakeDealing struct {
	window controller.Window
	err    error
}

func (f *fakeDealing) Compute(_ context.Context, w controller.Window) (*controller.DealingMetrics, error) {
	f.window = w
	if f.err != nil {
		return nil, f.err
	}
	return &controller.DealingMetrics{Source: controller.SourceHistorical, TotalEquity: 10}, nil
}

func serveDashboard(t *testing.T, svc *fakeDashboard, dealing *fakeDealing, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	DashboardRoutes(svc, dealing).ServeHTTP(rr, req)
	return rr
}

func TestQuickStatsRoute(t *testing.T) {
	svc := &fakeDashboard{}
	rr := serveDashboard(t, svc, &fakeDealing{}, "/quickstats?entity=Dubai&from=2024-03-01&to=2024-03-07")
	require.Equal(t, http.StatusOK, rr.Code)

	var qs controller.QuickStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &qs))
	assert.Equal(t, 1500.0, qs.TotalDeposit)
	assert.Equal(t, 3, qs.Deposits)

	require.Len(t, svc.calls, 1)
	call := svc.calls[0]
	assert.Equal(t, "Dubai", call.entity)
	require.NotNil(t, call.from)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, utils.CRMLocation), *call.from)
	assert.Equal(t, "", call.period)
}

func TestAccountsRouteDefaultsToToday(t *testing.T) {
	svc := &fakeDashboard{}
	rr := serveDashboard(t, svc, &fakeDealing{}, "/accounts")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, svc.calls, 1)
	assert.Equal(t, controller.PeriodToday, svc.calls[0].period)
	assert.Nil(t, svc.calls[0].from)

	rr = serveDashboard(t, svc, &fakeDealing{}, "/accounts?period=week")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, controller.PeriodWeek, svc.calls[1].period)
}

func TestDashboardRoute_BadDate(t *testing.T) {
	svc := &fakeDashboard{}
	rr := serveDashboard(t, svc, &fakeDealing{}, "/backoffice?from=03/01/2024")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, svc.calls)
}

func TestDashboardRoute_WidgetError(t *testing.T) {
	svc := &fakeDashboard{err: errors.New("withdrawals: API error 500: boom")}
	rr := serveDashboard(t, svc, &fakeDealing{}, "/quickstats")
	require.Equal(t, http.StatusBadGateway, rr.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "withdrawals: API error 500: boom", body.Error)
}

func TestDealingRoute(t *testing.T) {
	dealing := &fakeDealing{}
	rr := serveDashboard(t, &fakeDashboard{}, dealing, "/dealing?from=2024-03-01&to=2024-03-02")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), dealing.window.From)
	assert.Equal(t, time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC), dealing.window.To)

	var m controller.DealingMetrics
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Equal(t, controller.SourceHistorical, m.Source)
}

func TestDealingWindowDefaultsToToday(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	req := httptest.NewRequest(http.MethodGet, "/dealing", nil)
	w, err := dealingWindow(req, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), w.From)
	assert.Equal(t, controller.SourceLive, controller.ClassifyWindow(w, now))
}

func TestDealingRoute_Error(t *testing.T) {
	rr := serveDashboard(t, &fakeDashboard{}, &fakeDealing{err: errors.New("positions: MT5 authentication failed")}, "/dealing")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
