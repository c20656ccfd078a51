package leverage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"brokerdash/src/connectors"
	"brokerdash/src/controller"
	"brokerdash/src/model"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type crmCall struct {
	method, path, auth string
	body               map[string]int
}

func fakeCRM(t *testing.T, failPath string) (*httptest.Server, *[]crmCall) {
	t.Helper()
	var mu sync.Mutex
	calls := []crmCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]int
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		calls = append(calls, crmCall{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		mu.Unlock()

		if r.URL.Path == failPath {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Account not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"login":"1001","serverId":1,"leverage":` + "200" + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestCommand(t *testing.T, crmURL, accounts, leverage string) (*LeverageUpdate, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	out := &bytes.Buffer{}
	return &LeverageUpdate{
		Log:      logrus.WithField("cmd", "leverage_update"),
		Updater:  connectors.NewCRMClient(crmURL, "1.0.0", "secret-token", 5*time.Second),
		Accounts: accounts,
		Leverage: leverage,
		OutDir:   dir,
		Out:      out,
		Delay:    time.Millisecond,
		now:      func() time.Time { return time.UnixMilli(1700000000123) },
	}, out, dir
}

func TestLeverageUpdate_FileEndToEnd(t *testing.T) {
	srv, calls := fakeCRM(t, "")
	accountsFile := filepath.Join(t.TempDir(), "accounts.txt")
	require.NoError(t, os.WriteFile(accountsFile, []byte("1-1001\n# legacy account\n2 2002\n"), 0o644))

	cmd, out, dir := newTestCommand(t, srv.URL, accountsFile, "200")
	summary, err := cmd.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Successful)

	require.Len(t, *calls, 2)
	first := (*calls)[0]
	assert.Equal(t, http.MethodPut, first.method)
	assert.Equal(t, "/rest/accounts/1-1001", first.path)
	assert.Equal(t, "Bearer secret-token", first.auth)
	assert.Equal(t, map[string]int{"leverage": 200}, first.body)
	assert.Equal(t, "/rest/accounts/2-2002", (*calls)[1].path)

	data, err := os.ReadFile(filepath.Join(dir, "leverage_update_results_1700000000123.json"))
	require.NoError(t, err)
	var results []model.LeverageResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "2-2002", results[1].Account)

	assert.Contains(t, out.String(), "Success rate: 100.0%")
}

func TestLeverageUpdate_FailureReturnsError(t *testing.T) {
	srv, calls := fakeCRM(t, "/rest/accounts/2-2002")
	cmd, out, _ := newTestCommand(t, srv.URL, "1-1001,2-2002,3-3003", "200")

	summary, err := cmd.Start(context.Background())
	require.Error(t, err)
	assert.Len(t, *calls, 3)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 66.7, summary.SuccessRate)
	assert.Contains(t, out.String(), "2-2002: API error 404")
}

func TestLeverageUpdate_InvalidInputMakesNoCalls(t *testing.T) {
	srv, calls := fakeCRM(t, "")

	cmd, _, _ := newTestCommand(t, srv.URL, "1-1001", "1000")
	_, err := cmd.Start(context.Background())
	assert.ErrorIs(t, err, controller.ErrInvalidLeverage)

	cmd, _, _ = newTestCommand(t, srv.URL, "nothing-useful-here", "100")
	_, err = cmd.Start(context.Background())
	assert.ErrorIs(t, err, controller.ErrNoAccounts)

	assert.Empty(t, *calls)
}
