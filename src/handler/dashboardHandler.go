package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"brokerdash/src/connectors"
	"brokerdash/src/controller"
	"brokerdash/src/utils"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

type dashboardReader interface {
	Filter(entity string, from, to *time.Time, period string) controller.DashboardFilter
	QuickStats(ctx context.Context, f controller.DashboardFilter) (*controller.QuickStats, error)
	BackOffice(ctx context.Context, f controller.DashboardFilter) (*controller.BackOfficeMetrics, error)
	AccountsDepartment(ctx context.Context, f controller.DashboardFilter) (*controller.AccountsDepartmentMetrics, error)
	Analytics(ctx context.Context, f controller.DashboardFilter, period string) (*controller.AnalyticsReport, error)
}

type dealingComputer interface {
	Compute(ctx context.Context, w controller.Window) (*controller.DealingMetrics, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// optionalDate parses a YYYY-MM-DD query value in loc; empty yields nil.
func optionalDate(r *http.Request, name string, loc *time.Location) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := utils.ParseDate(raw, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func dashboardFilter(r *http.Request, svc dashboardReader, defaultPeriod string) (controller.DashboardFilter, string, error) {
	from, err := optionalDate(r, "from", utils.CRMLocation)
	if err != nil {
		return controller.DashboardFilter{}, "", err
	}
	to, err := optionalDate(r, "to", utils.CRMLocation)
	if err != nil {
		return controller.DashboardFilter{}, "", err
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = defaultPeriod
	}
	return svc.Filter(r.URL.Query().Get("entity"), from, to, period), period, nil
}

type widgetFunc func(ctx context.Context, f controller.DashboardFilter, period string) (interface{}, error)

func widgetHandler(svc dashboardReader, name, defaultPeriod string, run widgetFunc) http.HandlerFunc {
	log := logger.WithFields(logger.Fields{"component": "dashboard", "widget": name})
	return func(w http.ResponseWriter, r *http.Request) {
		f, period, err := dashboardFilter(r, svc, defaultPeriod)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		out, err := run(r.Context(), f, period)
		if err != nil {
			log.WithError(err).Error("widget failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// DealingHandler serves dealing metrics for the UTC days in from/to
// (YYYY-MM-DD, both default to today).
func DealingHandler(svc dealingComputer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		win, err := dealingWindow(r, time.Now())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		metrics, err := svc.Compute(r.Context(), win)
		if err != nil {
			logger.WithField("component", "dealing").WithError(err).Error("dealing metrics failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, metrics)
	}
}

func dealingWindow(r *http.Request, now time.Time) (controller.Window, error) {
	from, err := optionalDate(r, "from", time.UTC)
	if err != nil {
		return controller.Window{}, err
	}
	to, err := optionalDate(r, "to", time.UTC)
	if err != nil {
		return controller.Window{}, err
	}
	end := now.UTC()
	if to != nil {
		end = *to
	}
	start := end
	if from != nil {
		start = *from
	}
	return controller.DayWindow(start, end), nil
}

// DashboardRoutes mounts the widget endpoints under the caller's prefix.
func DashboardRoutes(svc dashboardReader, dealing dealingComputer) http.Handler {
	r := chi.NewRouter()
	r.Get("/quickstats", widgetHandler(svc, "quickstats", "", func(ctx context.Context, f controller.DashboardFilter, _ string) (interface{}, error) {
		return svc.QuickStats(ctx, f)
	}))
	r.Get("/backoffice", widgetHandler(svc, "backoffice", "", func(ctx context.Context, f controller.DashboardFilter, _ string) (interface{}, error) {
		return svc.BackOffice(ctx, f)
	}))
	r.Get("/accounts", widgetHandler(svc, "accounts", controller.PeriodToday, func(ctx context.Context, f controller.DashboardFilter, _ string) (interface{}, error) {
		return svc.AccountsDepartment(ctx, f)
	}))
	r.Get("/analytics", widgetHandler(svc, "analytics", "", func(ctx context.Context, f controller.DashboardFilter, period string) (interface{}, error) {
		return svc.Analytics(ctx, f, period)
	}))
	r.Get("/dealing", DealingHandler(dealing))
	return r
}

// DefaultDashboardRoutes wires the CRM client and the MT5 proxy client from
// env. selfProxyURL is used when VITE_MT5_API_URL is unset.
func DefaultDashboardRoutes(selfProxyURL string) http.Handler {
	crm := connectors.NewCRMClientFromConfig("")
	return DashboardRoutes(controller.NewDashboardService(crm), DefaultDealingService(selfProxyURL))
}

func DefaultDealingService(selfProxyURL string) *controller.DealingService {
	proxy := connectors.NewMT5ProxyClientFromConfig(selfProxyURL)
	return controller.NewDealingService(proxy, controller.GetConfig().DealingGroups)
}
