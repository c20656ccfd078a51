package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"brokerdash/src/connectors"
	"brokerdash/src/controller"
	"brokerdash/src/model"

	logger "github.com/sirupsen/logrus"
)

type leverageRunner interface {
	Run(ctx context.Context, accounts []model.AccountRef, leverage int) []model.LeverageResult
}

// LeverageRequest accepts accounts either as a list of entries or as one
// newline/comma separated string. Leverage may be a number or a numeric string.
type LeverageRequest struct {
	Accounts json.RawMessage `json:"accounts"`
	Leverage json.Number     `json:"leverage"`
}

type LeverageResponse struct {
	Results []model.LeverageResult `json:"results"`
	Summary model.LeverageSummary  `json:"summary"`
}

func accountLines(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ',' })
}

// LeverageHandler applies one leverage to a list of CRM accounts and returns
// the per-account results with a summary. Input is validated before any CRM
// call.
func LeverageHandler(runner leverageRunner) http.HandlerFunc {
	log := logger.WithField("component", "leverage")
	return func(w http.ResponseWriter, r *http.Request) {
		var req LeverageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		leverage, err := controller.ValidateLeverage(req.Leverage.String())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		accounts := controller.ParseAccountLines(accountLines(req.Accounts))
		if len(accounts) == 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: controller.ErrNoAccounts.Error()})
			return
		}

		log.WithFields(logger.Fields{"accounts": len(accounts), "leverage": leverage}).Info("starting leverage update")
		results := runner.Run(r.Context(), accounts, leverage)
		writeJSON(w, http.StatusOK, LeverageResponse{Results: results, Summary: controller.Summarize(results)})
	}
}

func DefaultLeverageHandler() http.HandlerFunc {
	return LeverageHandler(controller.NewLeverageRunner(connectors.NewCRMClientFromConfig("")))
}
