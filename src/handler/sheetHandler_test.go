package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"brokerdash/src/connectors"

	"github.com/stretchr/testify/assert"
)

type stubSheet struct {
	rows []connectors.SheetBalance
}

func (s stubSheet) FetchBalances(context.Context) []connectors.SheetBalance { return s.rows }

func TestSheetBalancesHandler(t *testing.T) {
	sheet := stubSheet{rows: []connectors.SheetBalance{{Label: "Bank A", Value: 1250000.5, Currency: "USD"}}}
	req := httptest.NewRequest(http.MethodGet, "/api/sheet-balances", nil)
	rr := httptest.NewRecorder()
	SheetBalancesHandler(sheet).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"label":"Bank A","value":1250000.5,"currency":"USD"}]`, rr.Body.String())
}

func TestSheetBalancesHandler_EmptyFeed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/sheet-balances", nil)
	rr := httptest.NewRecorder()
	SheetBalancesHandler(connectors.NewSheetClient(upstream.URL, 0)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}
