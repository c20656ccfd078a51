package connectors

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference vectors computed independently for password "Secret123!".
const (
	refPassword      = "Secret123!"
	refSrvRand       = "0123456789abcdef0123456789abcdef"
	refCliRand       = "00112233445566778899aabbccddeeff"
	refPasswordHash  = "76b8b89470b9dc1044f0cfea0991d742"
	refSrvRandAnswer = "d62ed3f2d25fab6d83eed5f055e9a8c4"
	refCliRandAnswer = "574339f5c1608a6f42e67f4547d840c8"
)

func TestMT5Digests_ReferenceVector(t *testing.T) {
	hash, err := MT5PasswordHash(refPassword)
	require.NoError(t, err)
	assert.Equal(t, refPasswordHash, hex.EncodeToString(hash))

	answer, err := MT5SrvRandAnswer(hash, refSrvRand)
	require.NoError(t, err)
	assert.Equal(t, refSrvRandAnswer, answer)

	cliRand, _ := hex.DecodeString(refCliRand)
	assert.Equal(t, refCliRandAnswer, MT5CliRandAnswer(hash, cliRand))

	// deterministic
	again, _ := MT5PasswordHash(refPassword)
	assert.Equal(t, hash, again)
}

func TestMT5SrvRandAnswer_BadHex(t *testing.T) {
	hash, _ := MT5PasswordHash(refPassword)
	_, err := MT5SrvRandAnswer(hash, "zz-not-hex")
	require.ErrorIs(t, err, errSrvRandHex)
}

func TestParseMT5RetCode(t *testing.T) {
	code, ok := ParseMT5RetCode("0 Done")
	assert.True(t, ok)
	assert.Equal(t, 0, code)

	code, ok = ParseMT5RetCode("1002 Account disabled")
	assert.True(t, ok)
	assert.Equal(t, 1002, code)
	assert.Equal(t, "MT_RET_AUTH_ACCOUNT_DISABLED", GetMT5RetCodeName(code))

	_, ok = ParseMT5RetCode("Done")
	assert.False(t, ok)
	assert.Equal(t, "MT_RET_UNKNOWN_4242", GetMT5RetCodeName(4242))
}

// fakeGateway emulates the MT5 WebAPI handshake and a couple of data endpoints.
type fakeGateway struct {
	startRetCode  string
	answerRetCode string
	omitSrvRand   bool
	wrongAnswer   bool
	dataCalls     int32
}

func (g *fakeGateway) handler(t *testing.T) http.Handler {
	hash, err := MT5PasswordHash(refPassword)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "manager", r.URL.Query().Get("type"))
		assert.Equal(t, "1001", r.URL.Query().Get("login"))
		assert.Equal(t, "4330", r.URL.Query().Get("version"))
		assert.Equal(t, mt5UserAgent, r.Header.Get("User-Agent"))

		http.SetCookie(w, &http.Cookie{Name: "mt5session", Value: "abc", Path: "/"})
		retcode := g.startRetCode
		if retcode == "" {
			retcode = "0 Done"
		}
		body := map[string]string{"retcode": retcode}
		if !g.omitSrvRand {
			body["srv_rand"] = refSrvRand
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/api/auth/answer", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("mt5session"); err != nil || c.Value != "abc" {
			_, _ = w.Write([]byte(`{"retcode":"8 Not enough permissions"}`))
			return
		}
		if r.URL.Query().Get("srv_rand_answer") != refSrvRandAnswer {
			_, _ = w.Write([]byte(`{"retcode":"1001 Invalid account"}`))
			return
		}
		retcode := g.answerRetCode
		if retcode == "" {
			retcode = "0 Done"
		}
		cliRand, _ := hex.DecodeString(r.URL.Query().Get("cli_rand"))
		answer := MT5CliRandAnswer(hash, cliRand)
		if g.wrongAnswer {
			answer = strings.Repeat("0", 32)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"retcode": retcode, "cli_rand_answer": answer})
	})
	mux.HandleFunc("/api/user/account/get_batch", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.dataCalls, 1)
		logins := strings.Split(r.URL.Query().Get("login"), ",")
		items := make([]string, 0, len(logins))
		for _, l := range logins {
			items = append(items, fmt.Sprintf(`{"Login":"%s","Balance":"100.5","Credit":0}`, l))
		}
		_, _ = w.Write([]byte(`{"retcode":"0 Done","answer":[` + strings.Join(items, ",") + `]}`))
	})
	mux.HandleFunc("/api/user/logins", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.dataCalls, 1)
		assert.Equal(t, "real\\*,demo", r.URL.Query().Get("group"))
		_, _ = w.Write([]byte(`{"retcode":"0 Done","answer":["11","12",13]}`))
	})
	mux.HandleFunc("/api/position/get_batch", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&g.dataCalls, 1)
		_, _ = w.Write([]byte(`{"retcode":"13 Not found"}`))
	})
	mux.HandleFunc("/api/daily/get", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway error</html>`))
	})
	return mux
}

func newTestSession(t *testing.T, baseURL string) *MT5Session {
	t.Helper()
	s, err := NewMT5Session(MT5SessionConfig{
		BaseURL:  baseURL,
		Login:    "1001",
		Password: refPassword,
		Build:    "4330",
		Agent:    "WebAPI",
	})
	require.NoError(t, err)
	cliRand, _ := hex.DecodeString(refCliRand)
	s.rand = bytes.NewReader(cliRand)
	return s
}

func TestMT5Session_AuthenticateSuccess(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	s := newTestSession(t, server.URL)
	require.NoError(t, s.Authenticate(context.Background()))
	assert.True(t, s.IsAuthenticated())
	assert.NotEmpty(t, s.ID())

	accounts, err := s.AccountsBatch(context.Background(), []int64{5, 6}, nil)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Contains(t, string(accounts[1]), `"Login":"6"`)

	logins, err := s.UserLogins(context.Background(), []string{`real\*`, "demo"})
	require.NoError(t, err)
	assert.Equal(t, []int64{11, 12, 13}, logins)

	s.Close()
	assert.False(t, s.IsAuthenticated())
	_, err = s.AccountsBatch(context.Background(), []int64{5}, nil)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestMT5Session_VerificationMismatch(t *testing.T) {
	gw := &fakeGateway{wrongAnswer: true}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	s := newTestSession(t, server.URL)
	err := s.Authenticate(context.Background())
	require.ErrorIs(t, err, ErrAuthVerification)
	assert.False(t, s.IsAuthenticated())
	assert.Equal(t, "Auth verification failed", s.LastError().Error())
}

func TestMT5Session_AuthStartFailures(t *testing.T) {
	t.Run("non zero retcode", func(t *testing.T) {
		gw := &fakeGateway{startRetCode: "1002 Account disabled"}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()

		s := newTestSession(t, server.URL)
		err := s.Authenticate(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Auth start failed: 1002 Account disabled", err.Error())

		var rc *MT5RetCodeError
		require.True(t, errors.As(err, &rc))
		assert.Equal(t, 1002, rc.Code)
		assert.False(t, s.IsAuthenticated())
	})

	t.Run("missing srv_rand", func(t *testing.T) {
		gw := &fakeGateway{omitSrvRand: true}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()

		s := newTestSession(t, server.URL)
		err := s.Authenticate(context.Background())
		require.ErrorIs(t, err, errNoSrvRand)
	})

	t.Run("answer retcode", func(t *testing.T) {
		gw := &fakeGateway{answerRetCode: "3 Invalid parameters"}
		server := httptest.NewServer(gw.handler(t))
		defer server.Close()

		s := newTestSession(t, server.URL)
		err := s.Authenticate(context.Background())
		require.Error(t, err)
		assert.Equal(t, "Auth answer failed: 3 Invalid parameters", err.Error())
	})
}

func TestMT5Session_RejectsBeforeAuth(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	s := newTestSession(t, server.URL)
	_, err := s.AccountsBatch(context.Background(), []int64{1}, nil)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = s.UserLogins(context.Background(), []string{"*"})
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, int32(0), atomic.LoadInt32(&gw.dataCalls))
}

func TestMT5Session_UpstreamErrors(t *testing.T) {
	gw := &fakeGateway{}
	server := httptest.NewServer(gw.handler(t))
	defer server.Close()

	s := newTestSession(t, server.URL)
	require.NoError(t, s.Authenticate(context.Background()))

	_, err := s.PositionsBatch(context.Background(), nil, []string{"*"})
	var rc *MT5RetCodeError
	require.True(t, errors.As(err, &rc))
	assert.Equal(t, 13, rc.Code)

	_, err = s.DailyReports(context.Background(), 5, 1, 2)
	require.ErrorIs(t, err, ErrInvalidResponseFormat)
}

func TestDecodeAnswerList(t *testing.T) {
	items, err := decodeAnswerList(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = decodeAnswerList(json.RawMessage(`{"Login":1}`))
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = decodeAnswerList(json.RawMessage(`"oops"`))
	require.ErrorIs(t, err, ErrInvalidResponseFormat)
}
