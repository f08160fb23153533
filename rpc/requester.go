// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnreachable wraps transport-level failures (connection refused, reset,
// timeout). Callers that want to retry do so by polling; this package never
// retries internally.
var ErrUnreachable = errors.New("node unreachable")

// Error is an error reported by the node itself. It is passed through
// verbatim and must never be retried.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	Version string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     string          `json:"id"`
}

// Requester issues calls against a single bitcoind endpoint. Wallet-scoped
// requesters target /wallet/<name>; node-scoped requesters target /.
type Requester interface {
	SendRequest(ctx context.Context, method string, params interface{}, reply interface{}) error
}

type jsonRPCRequester struct {
	url      string
	user     string
	password string
	client   *http.Client
}

// NewRequester returns a Requester for the given endpoint URL.
func NewRequester(url, user, password string, timeout time.Duration) Requester {
	return &jsonRPCRequester{
		url:      url,
		user:     user,
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *jsonRPCRequester) SendRequest(ctx context.Context, method string, params interface{}, reply interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(request{
		Version: "1.0",
		ID:      "testnetbox",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.SetBasicAuth(r.user, r.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrUnreachable, method, err)
	}
	defer resp.Body.Close()

	// bitcoind reports node-level errors with non-2xx statuses but still
	// encodes the error in the JSON-RPC envelope, so decode before judging
	// the status.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: reading response: %s", ErrUnreachable, method, err)
	}

	var rpcResp response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: unexpected status %s", method, resp.Status)
		}
		return fmt.Errorf("%s: decoding response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, reply); err != nil {
		return fmt.Errorf("%s: decoding result: %w", method, err)
	}
	return nil
}
