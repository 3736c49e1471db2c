// Copyright 2025 AidTrace Project
//
// Blockchain query handlers: chain, blocks, transactions, pool and
// full-chain validation. All public.

package server

import (
	"net/http"
	"strconv"
)

// handleChain handles GET /blockchain/chain.
func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ledger().Chain())
}

// handleBlockByIndex handles GET /blockchain/blocks/{index}.
func (s *Server) handleBlockByIndex(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, block)
}

// handleTransactionByID handles GET /blockchain/transactions/{id}.
func (s *Server) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	tx, err := s.engine.Ledger().TransactionByID(r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handlePending handles GET /blockchain/pending.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ledger().Pending())
}

// handleValidateChain handles POST /blockchain/validate.
func (s *Server) handleValidateChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ledger().ValidateChain())
}
