package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func named(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(name + " " + r.URL.Path))
	})
}

func testRouter() http.Handler {
	return NewRouter(Handlers{
		MT5Proxy:      named("mt5"),
		Dashboard:     named("dashboard"),
		Leverage:      named("leverage"),
		SheetBalances: named("sheet"),
		DealingStream: named("ws"),
	})
}

func TestRoutes(t *testing.T) {
	cases := []struct {
		method, target, want string
	}{
		{http.MethodGet, "/healthcheck", "OK"},
		{http.MethodGet, "/api/mt5?endpoint=ping", "mt5 /api/mt5"},
		{http.MethodOptions, "/api/mt5", "mt5 /api/mt5"},
		{http.MethodPost, "/api/mt5", "mt5 /api/mt5"},
		{http.MethodGet, "/api/dashboard/quickstats", "dashboard /api/dashboard/quickstats"},
		{http.MethodPost, "/api/leverage", "leverage /api/leverage"},
		{http.MethodGet, "/api/sheet-balances", "sheet /api/sheet-balances"},
		{http.MethodGet, "/ws/dealing", "ws /ws/dealing"},
	}
	router := testRouter()
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, tc.target)
		assert.Equal(t, tc.want, rr.Body.String(), tc.target)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/leverage", nil)
	rr := httptest.NewRecorder()
	testRouter().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSelfProxyURL(t *testing.T) {
	config := GetConfig()
	assert.Equal(t, "http://localhost:9898/api/mt5", SelfProxyURL(config.Port))
	assert.Equal(t, 5*time.Second, config.ShutdownTimeout)
}
