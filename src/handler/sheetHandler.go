package handler

import (
	"context"
	"net/http"

	"brokerdash/src/connectors"
)

type balanceFetcher interface {
	FetchBalances(ctx context.Context) []connectors.SheetBalance
}

// SheetBalancesHandler returns the spreadsheet balances. The feed never
// fails; an unreachable sheet yields an empty list.
func SheetBalancesHandler(sheet balanceFetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sheet.FetchBalances(r.Context()))
	}
}

func DefaultSheetBalancesHandler() http.HandlerFunc {
	cfg := connectors.GetConfig()
	return SheetBalancesHandler(connectors.NewSheetClient(cfg.SheetCSVURL, cfg.SheetTimeout))
}
