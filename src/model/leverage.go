package model

import "fmt"

// AccountRef identifies a CRM trading account by server and login.
type AccountRef struct {
	ServerID int    `json:"serverId"`
	Login    string `json:"login"`
}

// Key is the CRM account id, "{serverId}-{login}".
func (a AccountRef) Key() string {
	return fmt.Sprintf("%d-%s", a.ServerID, a.Login)
}

type LeverageResult struct {
	Success     bool   `json:"success"`
	ServerID    int    `json:"serverId"`
	Login       string `json:"login"`
	Account     string `json:"account"`
	NewLeverage int    `json:"newLeverage,omitempty"`
	Error       string `json:"error,omitempty"`
}

type LeverageSummary struct {
	Total       int      `json:"total"`
	Successful  int      `json:"successful"`
	Failed      int      `json:"failed"`
	SuccessRate float64  `json:"successRate"`
	FailedList  []string `json:"failedAccounts,omitempty"`
}

// AccountUpdateResponse is the CRM payload returned by the account PUT.
type AccountUpdateResponse struct {
	Login     string    `json:"login"`
	ServerID  int       `json:"serverId"`
	UserID    int64     `json:"userId"`
	GroupName string    `json:"groupName"`
	Currency  string    `json:"currency"`
	Leverage  int       `json:"leverage"`
	Balance   FlexFloat `json:"balance"`
	Credit    FlexFloat `json:"credit"`
	Equity    FlexFloat `json:"equity"`
}
