package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brokerdash/src/model"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// CRMClient talks to the CRM REST API. All query endpoints are POSTs with a
// JSON filter body; the API version travels as a query parameter.
type CRMClient struct {
	baseURL string
	version string
	http    *resty.Client
	log     *logger.Entry
}

// NormalizeCRMBaseURL turns any of "https://host", "https://host/rest" or
// "https://host/rest/transactions" into "https://host/rest".
func NormalizeCRMBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	u = strings.TrimSuffix(u, "/transactions")
	if !strings.HasSuffix(u, "/rest") {
		u += "/rest"
	}
	return u
}

func NewCRMClient(baseURL, version, token string, timeout time.Duration) *CRMClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := NormalizeCRMBaseURL(baseURL)

	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &CRMClient{
		baseURL: base,
		version: version,
		http:    httpClient,
		log:     logger.WithField("component", "CRMClient"),
	}
}

// NewCRMClientFromConfig builds a client from the environment. token overrides
// the configured API token when non-empty.
func NewCRMClientFromConfig(token string) *CRMClient {
	cfg := GetConfig()
	if token == "" {
		token = cfg.CRMAPIToken
	}
	return NewCRMClient(cfg.CRMAPIURL, cfg.CRMAPIVersion, token, cfg.CRMTimeout)
}

func (c *CRMClient) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	req := c.http.R().SetContext(ctx)
	if c.version != "" {
		req.SetQueryParam("version", c.version)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("CRM request failed")
		return err
	}

	raw := resp.Body()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		text := strings.TrimSpace(string(raw))
		if text == "" {
			text = "no body"
		}
		return fmt.Errorf("API error %d: %s", resp.StatusCode(), text)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *CRMClient) FetchTransactions(ctx context.Context, req model.TransactionRequest) ([]model.Transaction, error) {
	var out []model.Transaction
	if err := c.doRequest(ctx, http.MethodPost, "/transactions", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CRMClient) FetchUsers(ctx context.Context, req model.UserRequest) ([]model.User, error) {
	var out []model.User
	if err := c.doRequest(ctx, http.MethodPost, "/users", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CRMClient) FetchAccounts(ctx context.Context, req model.AccountRequest) ([]model.Account, error) {
	var out []model.Account
	if err := c.doRequest(ctx, http.MethodPost, "/accounts", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CRMClient) FetchTrades(ctx context.Context, req model.TradeRequest) ([]model.Trade, error) {
	var out []model.Trade
	if err := c.doRequest(ctx, http.MethodPost, "/trades", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAccountLeverage sets the leverage of account {serverId}-{login}.
func (c *CRMClient) UpdateAccountLeverage(ctx context.Context, account model.AccountRef, leverage int) (*model.AccountUpdateResponse, error) {
	var out model.AccountUpdateResponse
	path := "/accounts/" + account.Key()
	body := map[string]int{"leverage": leverage}
	if err := c.doRequest(ctx, http.MethodPut, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
