package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brokerdash/src/model"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// ProxyEnvelope is the response shape of the MT5 proxy endpoint.
type ProxyEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MT5ProxyClient consumes the `?endpoint=` MT5 proxy over HTTP. Each call is
// a fresh authenticated session on the proxy side.
type MT5ProxyClient struct {
	http *resty.Client
	log  *logger.Entry
}

func NewMT5ProxyClient(proxyURL string, timeout time.Duration) *MT5ProxyClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &MT5ProxyClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(proxyURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		log: logger.WithField("component", "MT5ProxyClient"),
	}
}

// NewMT5ProxyClientFromConfig uses VITE_MT5_API_URL, or fallback when unset.
func NewMT5ProxyClientFromConfig(fallback string) *MT5ProxyClient {
	proxyURL := GetConfig().MT5ProxyURL
	if proxyURL == "" {
		proxyURL = fallback
	}
	return NewMT5ProxyClient(proxyURL, 0)
}

func (c *MT5ProxyClient) call(ctx context.Context, endpoint string, form map[string]string, out interface{}) error {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("endpoint", endpoint)

	method := http.MethodGet
	if len(form) > 0 {
		method = http.MethodPost
		req.SetFormData(form)
	}

	resp, err := req.Execute(method, "")
	if err != nil {
		return fmt.Errorf("mt5 proxy %s: %w", endpoint, err)
	}

	var env ProxyEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("mt5 proxy %s: HTTP %d: %w", endpoint, resp.StatusCode(), ErrInvalidResponseFormat)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		return fmt.Errorf("mt5 proxy %s: %s", endpoint, msg)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("mt5 proxy %s: decode data: %w", endpoint, err)
	}
	return nil
}

func batchForm(logins []int64, groups []string) map[string]string {
	form := map[string]string{}
	if len(logins) > 0 {
		parts := make([]string, len(logins))
		for i, l := range logins {
			parts[i] = strconv.FormatInt(l, 10)
		}
		form["logins"] = "[" + strings.Join(parts, ",") + "]"
	} else if len(groups) > 0 {
		raw, _ := json.Marshal(groups)
		form["groups"] = string(raw)
	}
	return form
}

func withWindow(form map[string]string, from, to int64) map[string]string {
	if from > 0 {
		form["from"] = strconv.FormatInt(from, 10)
	}
	if to > 0 {
		form["to"] = strconv.FormatInt(to, 10)
	}
	return form
}

func (c *MT5ProxyClient) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

func (c *MT5ProxyClient) PositionsBatch(ctx context.Context, logins []int64, groups []string) ([]model.MT5Position, error) {
	if len(logins) == 0 && len(groups) == 0 {
		return nil, errors.New("logins or groups required")
	}
	var out []model.MT5Position
	if err := c.call(ctx, "positions-batch", batchForm(logins, groups), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MT5ProxyClient) AccountsBatch(ctx context.Context, logins []int64, groups []string) ([]model.MT5AccountState, error) {
	if len(logins) == 0 && len(groups) == 0 {
		return nil, errors.New("logins or groups required")
	}
	var out []model.MT5AccountState
	if err := c.call(ctx, "accounts-batch", batchForm(logins, groups), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MT5ProxyClient) UserLogins(ctx context.Context, groups []string) ([]int64, error) {
	var raw []model.FlexInt
	if err := c.call(ctx, "user-logins", batchForm(nil, groups), &raw); err != nil {
		return nil, err
	}
	out := make([]int64, len(raw))
	for i, l := range raw {
		out[i] = l.Int64()
	}
	return out, nil
}

func (c *MT5ProxyClient) DealsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]model.MT5Deal, error) {
	var out []model.MT5Deal
	if err := c.call(ctx, "deals-batch", withWindow(batchForm(logins, groups), from, to), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MT5ProxyClient) DailyReportsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]model.MT5DailyReport, error) {
	var out []model.MT5DailyReport
	if err := c.call(ctx, "daily-batch", withWindow(batchForm(logins, groups), from, to), &out); err != nil {
		return nil, err
	}
	return out, nil
}
