// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jwatts201708/bitcoin-testnet-box/network"
	"github.com/jwatts201708/bitcoin-testnet-box/rpc"
)

// fakeOrchestrator scripts orchestrator behavior per test.
type fakeOrchestrator struct {
	bootstrapErr error
	stopErr      error
	generateErr  error
	sendErr      error
	addressErr   error

	generateCalls []int
	sendCalls     []string

	snapshot network.Snapshot
}

func (f *fakeOrchestrator) BootstrapAsync() error { return f.bootstrapErr }

func (f *fakeOrchestrator) Stop(context.Context) error { return f.stopErr }

func (f *fakeOrchestrator) Generate(_ context.Context, blocks int) ([]string, error) {
	f.generateCalls = append(f.generateCalls, blocks)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	hashes := make([]string, blocks)
	for i := range hashes {
		hashes[i] = fmt.Sprintf("hash%d", i)
	}
	return hashes, nil
}

func (f *fakeOrchestrator) Send(_ context.Context, addr string, amount float64) (string, error) {
	f.sendCalls = append(f.sendCalls, fmt.Sprintf("%s:%v", addr, amount))
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "txid123", nil
}

func (f *fakeOrchestrator) NewAddress(_ context.Context, nodeID int) (string, error) {
	if f.addressErr != nil {
		return "", f.addressErr
	}
	return fmt.Sprintf("bcrt1qnode%d", nodeID), nil
}

func (f *fakeOrchestrator) Info(context.Context) network.Snapshot { return f.snapshot }

func newTestServer(t *testing.T, orch Orchestrator) *httptest.Server {
	srv := httptest.NewServer(New(zap.NewNop(), "127.0.0.1:0", orch).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func TestRootReportsService(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{})
	status, body := doRequest(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "bitcoin-testnet-box", body["service"])
}

func TestInfoReturnsSnapshot(t *testing.T) {
	require := require.New(t)

	orch := &fakeOrchestrator{
		snapshot: network.Snapshot{
			State: string(network.StateReady),
			Node1: network.NodeInfo{Status: network.StatusOnline, Blocks: 101, Balance: 50},
			Node2: network.NodeInfo{Status: network.StatusOffline, Error: "connection refused"},
		},
	}
	srv := newTestServer(t, orch)

	status, body := doRequest(t, srv, http.MethodGet, "/info", "")
	require.Equal(http.StatusOK, status)
	require.Equal("ready", body["state"])

	node1 := body["node1"].(map[string]interface{})
	require.Equal("online", node1["status"])
	require.Equal(101.0, node1["blocks"])

	node2 := body["node2"].(map[string]interface{})
	require.Equal("offline/starting", node2["status"])
	require.Equal("connection refused", node2["error"])
}

func TestStartAcceptsAsynchronously(t *testing.T) {
	srv := newTestServer(t, &fakeOrchestrator{})
	status, body := doRequest(t, srv, http.MethodPost, "/start", "")
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, body["message"])
}

func TestBusyOrchestratorIsConflict(t *testing.T) {
	orch := &fakeOrchestrator{
		bootstrapErr: network.ErrBusy,
		stopErr:      network.ErrBusy,
		generateErr:  network.ErrBusy,
		sendErr:      network.ErrBusy,
	}
	srv := newTestServer(t, orch)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/start", ""},
		{http.MethodPost, "/stop", ""},
		{http.MethodPost, "/generate", `{"blocks":1}`},
		{http.MethodPost, "/send", `{"address":"bcrt1qdest","amount":1}`},
	} {
		status, _ := doRequest(t, srv, tc.method, tc.path, tc.body)
		require.Equal(t, http.StatusConflict, status, "%s %s", tc.method, tc.path)
	}
}

func TestGenerateDefaultsToOneBlock(t *testing.T) {
	require := require.New(t)

	orch := &fakeOrchestrator{}
	srv := newTestServer(t, orch)

	status, body := doRequest(t, srv, http.MethodPost, "/generate", "")
	require.Equal(http.StatusOK, status)
	require.Equal([]int{1}, orch.generateCalls)
	require.Len(body["hashes"], 1)
}

func TestGenerateValidation(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, orch)

	for _, body := range []string{`{"blocks":0}`, `{"blocks":-3}`, `{"blocks":`} {
		status, resp := doRequest(t, srv, http.MethodPost, "/generate", body)
		require.Equal(t, http.StatusBadRequest, status, "body %q", body)
		require.NotEmpty(t, resp["error"])
	}
	// Rejected requests never reach the orchestrator.
	require.Empty(t, orch.generateCalls)
}

func TestWalletAddress(t *testing.T) {
	require := require.New(t)

	srv := newTestServer(t, &fakeOrchestrator{})

	status, body := doRequest(t, srv, http.MethodGet, "/wallet/address/2", "")
	require.Equal(http.StatusOK, status)
	require.Equal("bcrt1qnode2", body["address"])

	status, _ = doRequest(t, srv, http.MethodGet, "/wallet/address/3", "")
	require.Equal(http.StatusBadRequest, status)

	status, _ = doRequest(t, srv, http.MethodGet, "/wallet/address/abc", "")
	require.Equal(http.StatusBadRequest, status)
}

func TestSendValidationBeforeRPC(t *testing.T) {
	orch := &fakeOrchestrator{}
	srv := newTestServer(t, orch)

	for _, body := range []string{
		`{"address":"","amount":1}`,
		`{"address":"bcrt1qdest","amount":0}`,
		`{"address":"bcrt1qdest","amount":-2}`,
		`not json`,
	} {
		status, _ := doRequest(t, srv, http.MethodPost, "/send", body)
		require.Equal(t, http.StatusBadRequest, status, "body %q", body)
	}
	require.Empty(t, orch.sendCalls)
}

func TestSendSuccess(t *testing.T) {
	require := require.New(t)

	orch := &fakeOrchestrator{}
	srv := newTestServer(t, orch)

	status, body := doRequest(t, srv, http.MethodPost, "/send", `{"address":"bcrt1qdest","amount":2.5}`)
	require.Equal(http.StatusOK, status)
	require.Equal("txid123", body["txid"])
	require.Equal([]string{"bcrt1qdest:2.5"}, orch.sendCalls)
}

func TestNodeErrorsPassThroughVerbatim(t *testing.T) {
	require := require.New(t)

	orch := &fakeOrchestrator{
		sendErr: &rpc.Error{Code: -6, Message: "Insufficient funds"},
	}
	srv := newTestServer(t, orch)

	status, body := doRequest(t, srv, http.MethodPost, "/send", `{"address":"bcrt1qdest","amount":10}`)
	require.Equal(http.StatusInternalServerError, status)
	require.Contains(body["error"], "Insufficient funds")
}

func TestCORSHeadersPresent(t *testing.T) {
	require := require.New(t)

	srv := newTestServer(t, &fakeOrchestrator{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/info", nil)
	require.NoError(err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := srv.Client().Do(req)
	require.NoError(err)
	defer resp.Body.Close()

	require.NotEmpty(resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	require := require.New(t)

	srv := newTestServer(t, &fakeOrchestrator{})

	// Generate some traffic first so counters exist.
	_, _ = doRequest(t, srv, http.MethodGet, "/info", "")

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Contains(string(raw), "testnetbox_api_requests_total")
}
