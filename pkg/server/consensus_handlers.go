// Copyright 2025 AidTrace Project
//
// Consensus handlers: status, forced sealing, per-block validation and
// the active validator set.

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aidtrace/aid-ledger/pkg/audit"
)

// handleStatus handles GET /consensus/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

// createBlockRequest is the body of POST /consensus/create-block.
type createBlockRequest struct {
	ValidatorPassword string `json:"validator_password"`
}

// createBlockResponse mirrors a successful seal.
type createBlockResponse struct {
	Success          bool   `json:"success"`
	BlockIndex       int    `json:"block_index"`
	BlockHash        string `json:"block_hash"`
	TransactionCount int    `json:"transaction_count"`
	ValidatorID      string `json:"validator_id"`
	ValidatorName    string `json:"validator_name"`
}

// handleCreateBlock handles POST /consensus/create-block.
func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.engine.SealNextBlock(r.Context(), req.ValidatorPassword)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createBlockResponse{
		Success:          true,
		BlockIndex:       res.Block.Index,
		BlockHash:        res.Block.Hash,
		TransactionCount: res.TransactionCount,
		ValidatorID:      res.ValidatorID,
		ValidatorName:    res.ValidatorName,
	})
}

// handleValidateBlock handles POST /consensus/validate-block/{index}.
func (s *Server) handleValidateBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block index")
		return
	}
	block, err := s.engine.Ledger().BlockByIndex(index)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	body := map[string]any{"block_index": index, "is_valid": true}
	if index > 0 {
		prev, err := s.engine.Ledger().BlockByIndex(index - 1)
		if err != nil {
			writeCoreError(w, err)
			return
		}
		if verr := s.engine.ValidateBlock(&block, &prev); verr != nil {
			body["is_valid"] = false
			body["error"] = verr.Error()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleValidators handles GET /consensus/validators.
func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	active, err := s.registry.Repo().GetActiveOrdered(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

type registerValidatorRequest struct {
	Name       string `json:"name"`
	Passphrase string `json:"passphrase"`
	Address    string `json:"address,omitempty"`
	Priority   int    `json:"priority"`
}

// handleRegisterValidator handles POST /consensus/validators.
func (s *Server) handleRegisterValidator(w http.ResponseWriter, r *http.Request) {
	var req registerValidatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Passphrase == "" {
		writeError(w, http.StatusBadRequest, "name and passphrase are required")
		return
	}

	v, err := s.registry.Register(r.Context(), req.Name, req.Passphrase, req.Address, req.Priority)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	s.logger.Printf("Validator %s registered via API", v.Name)
	writeJSON(w, http.StatusCreated, v)
}

// handleAuditQuery handles GET /audit/records.
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Category:    q.Get("category"),
		PrincipalID: q.Get("principal_id"),
		EntityID:    q.Get("entity_id"),
	}
	if v := q.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid success filter")
			return
		}
		f.Success = &success
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Offset = n
		}
	}

	records, err := s.sink.Query(r.Context(), f)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
