package connectors

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brokerdash/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

const mt5UserAgent = "MT5-WebAPI-Client/1.0"

// Error values surfaced verbatim to proxy callers.
var (
	ErrNotAuthenticated      = errors.New("Not authenticated")
	ErrInvalidResponseFormat = errors.New("Invalid response format")
	ErrAuthVerification      = errors.New("Auth verification failed")

	errNoSrvRand       = errors.New("No srv_rand in auth response")
	errSrvRandHex      = errors.New("Failed to convert srv_rand from hex")
	errNoCliRandAnswer = errors.New("No cli_rand_answer in response")
)

// MT5RetCodeError is returned when the gateway answers with a non-zero retcode.
type MT5RetCodeError struct {
	Op   string
	Code int
	Raw  string
}

func (e *MT5RetCodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Raw)
}

type MT5SessionConfig struct {
	Server      string
	Login       string
	Password    string
	Build       string
	Agent       string
	Timeout     time.Duration
	InsecureTLS bool
	// BaseURL overrides https://<Server> when set.
	BaseURL string
}

// MT5Session is one manager session against the MT5 WebAPI. It is created per
// logical request, authenticated once, used, then closed. It is not safe for
// concurrent use.
type MT5Session struct {
	id            string
	cfg           MT5SessionConfig
	http          *resty.Client
	rand          io.Reader
	authenticated bool
	lastError     error
	log           *logger.Entry
}

type mt5Response struct {
	RetCode       json.RawMessage `json:"retcode"`
	Answer        json.RawMessage `json:"answer"`
	SrvRand       string          `json:"srv_rand"`
	CliRandAnswer string          `json:"cli_rand_answer"`
}

// retCode returns the raw retcode text and its numeric value.
func (r *mt5Response) retCode() (string, int, bool) {
	raw := strings.Trim(string(bytes.TrimSpace(r.RetCode)), `"`)
	code, ok := ParseMT5RetCode(raw)
	return raw, code, ok
}

func NewMT5Session(cfg MT5SessionConfig) (*MT5Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Agent == "" {
		cfg.Agent = "WebAPI"
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Server == "" {
			return nil, errors.New("mt5 server not configured")
		}
		baseURL = "https://" + cfg.Server
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetCookieJar(jar).
		SetHeader("User-Agent", mt5UserAgent).
		SetHeader("Accept", "application/json")
	if cfg.InsecureTLS {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // gateway uses a self-signed certificate
	}

	id := uuid.NewString()
	return &MT5Session{
		id:   id,
		cfg:  cfg,
		http: client,
		log: logger.WithFields(logger.Fields{
			"component":  "MT5Session",
			"request_id": id,
		}),
	}, nil
}

func (s *MT5Session) ID() string { return s.id }

func (s *MT5Session) IsAuthenticated() bool { return s.authenticated }

// LastError is the most specific error captured by Authenticate.
func (s *MT5Session) LastError() error { return s.lastError }

// Authenticate runs the four-step challenge-response handshake. On failure the
// transport is torn down and the session stays unauthenticated.
func (s *MT5Session) Authenticate(ctx context.Context) error {
	s.authenticated = false
	if err := s.handshake(ctx); err != nil {
		s.lastError = err
		s.teardown()
		s.log.WithError(err).Warn("MT5 authentication failed")
		return err
	}
	s.lastError = nil
	s.authenticated = true
	s.log.Debug("MT5 session authenticated")
	return nil
}

func (s *MT5Session) handshake(ctx context.Context) error {
	// 1. auth start
	start, err := s.get(ctx, "/api/auth/start", url.Values{
		"version": {s.cfg.Build},
		"agent":   {s.cfg.Agent},
		"login":   {s.cfg.Login},
		"type":    {"manager"},
	})
	if err != nil {
		return fmt.Errorf("auth start: %w", err)
	}
	if raw, code, ok := start.retCode(); !ok || code != 0 {
		return &MT5RetCodeError{Op: "Auth start failed", Code: code, Raw: raw}
	}
	if start.SrvRand == "" {
		return errNoSrvRand
	}

	// 2. local digests
	passwordHash, err := MT5PasswordHash(s.cfg.Password)
	if err != nil {
		return err
	}
	srvRandAnswer, err := MT5SrvRandAnswer(passwordHash, start.SrvRand)
	if err != nil {
		return err
	}
	cliRand, err := newMT5CliRand(s.rand)
	if err != nil {
		return err
	}

	// 3. auth answer
	answer, err := s.get(ctx, "/api/auth/answer", url.Values{
		"srv_rand_answer": {srvRandAnswer},
		"cli_rand":        {hexString(cliRand)},
	})
	if err != nil {
		return fmt.Errorf("auth answer: %w", err)
	}
	if raw, code, ok := answer.retCode(); !ok || code != 0 {
		return &MT5RetCodeError{Op: "Auth answer failed", Code: code, Raw: raw}
	}
	if answer.CliRandAnswer == "" {
		return errNoCliRandAnswer
	}

	// 4. mutual verification
	if !strings.EqualFold(MT5CliRandAnswer(passwordHash, cliRand), answer.CliRandAnswer) {
		return ErrAuthVerification
	}
	return nil
}

// Close ends the session and releases the underlying connections.
func (s *MT5Session) Close() {
	s.authenticated = false
	s.teardown()
}

func (s *MT5Session) teardown() {
	s.http.GetClient().CloseIdleConnections()
	if jar, err := cookiejar.New(nil); err == nil {
		s.http.SetCookieJar(jar)
	}
}

func (s *MT5Session) get(ctx context.Context, path string, params url.Values) (*mt5Response, error) {
	req := s.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParamsFromValues(params)
	}

	resp, err := req.Execute(http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}

	var out mt5Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, ErrInvalidResponseFormat
	}
	return &out, nil
}

// query performs a privileged call and returns the answer payload.
func (s *MT5Session) query(ctx context.Context, op, path string, params url.Values) (json.RawMessage, error) {
	if !s.authenticated {
		return nil, ErrNotAuthenticated
	}

	resp, err := s.get(ctx, path, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if raw, code, ok := resp.retCode(); ok && code != 0 {
		s.log.WithFields(logger.Fields{
			"op":      op,
			"retcode": GetMT5RetCodeName(code),
		}).Warn("MT5 call rejected")
		return nil, &MT5RetCodeError{Op: op, Code: code, Raw: raw}
	}
	return resp.Answer, nil
}

func (s *MT5Session) queryList(ctx context.Context, op, path string, params url.Values) ([]json.RawMessage, error) {
	answer, err := s.query(ctx, op, path, params)
	if err != nil {
		return nil, err
	}
	return decodeAnswerList(answer)
}

// decodeAnswerList accepts an array, a single object or null.
func decodeAnswerList(answer json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(answer)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{}, nil
	}
	if trimmed[0] == '{' {
		return []json.RawMessage{trimmed}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, ErrInvalidResponseFormat
	}
	return items, nil
}

// ---------------------------------------------------------------------
// privileged operations
// ---------------------------------------------------------------------

func (s *MT5Session) User(ctx context.Context, login int64) (json.RawMessage, error) {
	return s.query(ctx, "user get", "/api/user/get", url.Values{"login": {formatLogin(login)}})
}

func (s *MT5Session) Account(ctx context.Context, login int64) (json.RawMessage, error) {
	return s.query(ctx, "account get", "/api/account/get", url.Values{"login": {formatLogin(login)}})
}

// AccountsBatch fetches account states by logins or, when logins is empty, by groups.
func (s *MT5Session) AccountsBatch(ctx context.Context, logins []int64, groups []string) ([]json.RawMessage, error) {
	return s.queryList(ctx, "accounts batch", "/api/user/account/get_batch", loginOrGroup(logins, groups))
}

func (s *MT5Session) UserLogins(ctx context.Context, groups []string) ([]int64, error) {
	answer, err := s.query(ctx, "user logins", "/api/user/logins", url.Values{"group": {strings.Join(groups, ",")}})
	if err != nil {
		return nil, err
	}

	var logins []model.FlexInt
	trimmed := bytes.TrimSpace(answer)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &logins); err != nil {
			return nil, ErrInvalidResponseFormat
		}
	}
	out := make([]int64, 0, len(logins))
	for _, l := range logins {
		out = append(out, l.Int64())
	}
	return out, nil
}

func (s *MT5Session) DealsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]json.RawMessage, error) {
	params := loginOrGroup(logins, groups)
	addTimeBounds(params, from, to)
	return s.queryList(ctx, "deals batch", "/api/deal/get_batch", params)
}

// Trades lists a single login's deals in the window.
func (s *MT5Session) Trades(ctx context.Context, login, from, to int64) ([]json.RawMessage, error) {
	return s.DealsBatch(ctx, []int64{login}, nil, from, to)
}

func (s *MT5Session) DealsTotal(ctx context.Context, login, from, to int64) (json.RawMessage, error) {
	params := url.Values{"login": {formatLogin(login)}}
	addTimeBounds(params, from, to)
	return s.query(ctx, "deals total", "/api/deal/get_total", params)
}

func (s *MT5Session) PositionsTotal(ctx context.Context, login int64) (json.RawMessage, error) {
	return s.query(ctx, "positions total", "/api/position/get_total", url.Values{"login": {formatLogin(login)}})
}

func (s *MT5Session) PositionsBatch(ctx context.Context, logins []int64, groups []string) ([]json.RawMessage, error) {
	return s.queryList(ctx, "positions batch", "/api/position/get_batch", loginOrGroup(logins, groups))
}

func (s *MT5Session) DailyReports(ctx context.Context, login, from, to int64) ([]json.RawMessage, error) {
	params := url.Values{"login": {formatLogin(login)}}
	addTimeBounds(params, from, to)
	return s.queryList(ctx, "daily reports", "/api/daily/get", params)
}

func (s *MT5Session) DailyReportsBatch(ctx context.Context, logins []int64, groups []string, from, to int64) ([]json.RawMessage, error) {
	params := loginOrGroup(logins, groups)
	addTimeBounds(params, from, to)
	return s.queryList(ctx, "daily reports batch", "/api/daily/get_batch", params)
}

func loginOrGroup(logins []int64, groups []string) url.Values {
	params := url.Values{}
	if len(logins) > 0 {
		parts := make([]string, len(logins))
		for i, l := range logins {
			parts[i] = formatLogin(l)
		}
		params.Set("login", strings.Join(parts, ","))
	} else if len(groups) > 0 {
		params.Set("group", strings.Join(groups, ","))
	}
	return params
}

func addTimeBounds(params url.Values, from, to int64) {
	if from > 0 {
		params.Set("from", strconv.FormatInt(from, 10))
	}
	if to > 0 {
		params.Set("to", strconv.FormatInt(to, 10))
	}
}

func formatLogin(login int64) string { return strconv.FormatInt(login, 10) }

func hexString(b []byte) string { return fmt.Sprintf("%x", b) }
