package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/monitor"
	"github.com/bryan-buckman/instarelay/internal/registry"
)

const token = "s3cret"

type fakeControl struct {
	accounts map[string]model.Account
	cycles   int
	busy     bool
}

func newFakeControl() *fakeControl {
	return &fakeControl{accounts: map[string]model.Account{}}
}

func (f *fakeControl) AddAccount(_ context.Context, username, channelID string) (model.Account, error) {
	username = registry.NormalizeUsername(username)
	if username == "" || channelID == "" {
		return model.Account{}, fmt.Errorf("%w: username and channel are required", registry.ErrInvalid)
	}
	a := model.Account{Username: username, ChannelID: channelID, Enabled: true}
	f.accounts[username] = a
	return a, nil
}

func (f *fakeControl) RemoveAccount(_ context.Context, username string) error {
	if _, ok := f.accounts[username]; !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, username)
	}
	delete(f.accounts, username)
	return nil
}

func (f *fakeControl) SetEnabled(_ context.Context, username string, enabled bool) error {
	a, ok := f.accounts[username]
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, username)
	}
	a.Enabled = enabled
	f.accounts[username] = a
	return nil
}

func (f *fakeControl) ListAccounts(context.Context) ([]model.Account, error) {
	out := make([]model.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (f *fakeControl) ImportAccounts(_ context.Context, accounts []model.Account) (int, error) {
	for _, a := range accounts {
		f.accounts[a.Username] = a
	}
	return len(accounts), nil
}

func (f *fakeControl) CycleStatus(context.Context) (model.CycleStatus, error) {
	status := model.CycleStatus{TotalAccounts: len(f.accounts), Accounts: map[string]model.AccountStatus{}}
	for name, a := range f.accounts {
		if a.Enabled {
			status.EnabledAccounts++
		}
		status.Accounts[name] = model.AccountStatus{Enabled: a.Enabled, ChannelID: a.ChannelID}
	}
	return status, nil
}

func (f *fakeControl) RunCycle(context.Context) (monitor.Result, error) {
	if f.busy {
		return monitor.Result{}, monitor.ErrCycleRunning
	}
	f.cycles++
	return monitor.Result{CycleID: "c1", Relayed: 2}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeControl) {
	t.Helper()
	control := newFakeControl()
	s := New(Config{
		Control:       control,
		OperatorToken: token,
		Gatherer:      prometheus.NewRegistry(),
		Logger:        logging.Discard(),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, control
}

func do(t *testing.T, method, url, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/accounts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccountLifecycle(t *testing.T) {
	srv, control := newTestServer(t)

	resp := do(t, http.MethodPost, srv.URL+"/api/accounts", "application/json", []byte(`{"username":"@Alice","channel_id":"@ch"}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, "alice", created.Username)

	resp = do(t, http.MethodPost, srv.URL+"/api/accounts", "application/json", []byte(`{"username":"","channel_id":"@ch"}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPatch, srv.URL+"/api/accounts/alice", "application/json", []byte(`{"enabled":false}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, control.accounts["alice"].Enabled)

	resp = do(t, http.MethodPatch, srv.URL+"/api/accounts/alice", "application/json", []byte(`{}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/accounts", "", nil)
	var accounts []model.Account
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accounts))
	require.Len(t, accounts, 1)

	resp = do(t, http.MethodDelete, srv.URL+"/api/accounts/alice", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/api/accounts/alice", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusAndCycle(t *testing.T) {
	srv, control := newTestServer(t)
	control.accounts["alice"] = model.Account{Username: "alice", ChannelID: "@a", Enabled: true}

	resp := do(t, http.MethodGet, srv.URL+"/api/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status model.CycleStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, 1, status.EnabledAccounts)

	resp = do(t, http.MethodPost, srv.URL+"/api/cycle", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res monitor.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Equal(t, 2, res.Relayed)
	require.Equal(t, 1, control.cycles)

	control.busy = true
	resp = do(t, http.MethodPost, srv.URL+"/api/cycle", "", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, 1, control.cycles)
}

func TestImportExport(t *testing.T) {
	srv, control := newTestServer(t)

	doc := "channels:\n  - channel: \"@news\"\n    accounts:\n      - username: alice\n      - username: bob\n        enabled: false\n"
	resp := do(t, http.MethodPost, srv.URL+"/api/accounts/import", "application/yaml", []byte(doc))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, control.accounts, 2)
	require.False(t, control.accounts["bob"].Enabled)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("accounts", "accounts.yaml")
	require.NoError(t, err)
	fw.Write([]byte("accounts:\n  - username: carol\n    channel_id: \"-100\"\n"))
	require.NoError(t, mw.Close())
	resp = do(t, http.MethodPost, srv.URL+"/api/accounts/import", mw.FormDataContentType(), buf.Bytes())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, control.accounts, "carol")

	resp = do(t, http.MethodPost, srv.URL+"/api/accounts/import", "application/yaml", []byte("accounts: ["))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/accounts/export", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/yaml"))
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	require.Contains(t, out.String(), "username: carol")
}
