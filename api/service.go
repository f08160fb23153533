// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jwatts201708/bitcoin-testnet-box/network"
)

// service implements the endpoint handlers over the orchestrator.
type service struct {
	log  *zap.Logger
	orch Orchestrator
}

func (s *service) root(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "bitcoin-testnet-box",
	})
}

func (s *service) info(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Info(r.Context()))
}

func (s *service) start(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.BootstrapAsync(); err != nil {
		s.writeError(w, err)
		return
	}
	// Readiness is observed by polling /info; the ack only means the
	// bootstrap was accepted.
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "network bootstrap started",
	})
}

func (s *service) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "network stopped",
	})
}

type generateRequest struct {
	Blocks int `json:"blocks"`
}

func (s *service) generate(w http.ResponseWriter, r *http.Request) {
	req := generateRequest{Blocks: 1}
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeValidationError(w, "invalid request body: "+err.Error())
		return
	}
	if req.Blocks <= 0 {
		s.writeValidationError(w, "blocks must be a positive integer")
		return
	}
	hashes, err := s.orch.Generate(r.Context(), req.Blocks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "blocks generated",
		"blocks":  req.Blocks,
		"hashes":  hashes,
	})
}

func (s *service) walletAddress(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.Atoi(mux.Vars(r)["node"])
	if err != nil || (nodeID != 1 && nodeID != 2) {
		s.writeValidationError(w, "node must be 1 or 2")
		return
	}
	addr, err := s.orch.NewAddress(r.Context(), nodeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"address": addr})
}

type sendRequest struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

func (s *service) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeValidationError(w, "invalid request body: "+err.Error())
		return
	}
	if req.Address == "" {
		s.writeValidationError(w, "address must not be empty")
		return
	}
	if req.Amount <= 0 {
		s.writeValidationError(w, "amount must be positive")
		return
	}
	txid, err := s.orch.Send(r.Context(), req.Address, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"txid": txid})
}

// decodeOptionalBody decodes a JSON body into v, treating an empty body as
// the zero request.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *service) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *service) writeValidationError(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps orchestrator errors onto HTTP statuses: busy is a
// conflict, everything else is surfaced verbatim as an internal error so the
// front-end can display the failing step.
func (s *service) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, network.ErrBusy) {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
