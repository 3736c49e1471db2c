// Copyright 2025 AidTrace Project
//
// HTTP surface of the core. Authentication and token issuance are
// external; handlers receive an Authenticator that resolves the
// request principal, and map core error kinds onto status codes.

package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/aidtrace/aid-ledger/pkg/audit"
	"github.com/aidtrace/aid-ledger/pkg/consensus"
	"github.com/aidtrace/aid-ledger/pkg/ledger"
	"github.com/aidtrace/aid-ledger/pkg/principal"
	"github.com/aidtrace/aid-ledger/pkg/shipments"
	"github.com/aidtrace/aid-ledger/pkg/validators"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

// Authenticator resolves the principal behind a request. A (nil, nil)
// return means no credentials were presented.
type Authenticator func(r *http.Request) (*principal.Principal, error)

// HeaderAuthenticator trusts identity headers injected by an upstream
// gateway. Suitable behind the authorization middleware this core
// deliberately does not own.
func HeaderAuthenticator(r *http.Request) (*principal.Principal, error) {
	id := r.Header.Get("X-Principal-Id")
	if id == "" {
		return nil, nil
	}
	return &principal.Principal{
		ID:        id,
		Name:      r.Header.Get("X-Principal-Name"),
		Role:      r.Header.Get("X-Principal-Role"),
		PublicKey: r.Header.Get("X-Principal-Key"),
	}, nil
}

// Server mounts the blockchain, consensus and shipment resources.
type Server struct {
	engine    *consensus.Engine
	registry  *validators.Registry
	shipments *shipments.Service // nil disables the shipment resources
	sink      *audit.Sink        // nil disables the audit query resource
	auth      Authenticator
	logger    *log.Logger
}

// New creates the HTTP server facade.
func New(engine *consensus.Engine, registry *validators.Registry, shipSvc *shipments.Service, sink *audit.Sink, auth Authenticator, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[Server] ", log.LstdFlags)
	}
	if auth == nil {
		auth = HeaderAuthenticator
	}
	return &Server{engine: engine, registry: registry, shipments: shipSvc, sink: sink, auth: auth, logger: logger}
}

// Routes registers every handler on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /blockchain/chain", s.handleChain)
	mux.HandleFunc("GET /blockchain/blocks/{index}", s.handleBlockByIndex)
	mux.HandleFunc("GET /blockchain/transactions/{id}", s.handleTransactionByID)
	mux.HandleFunc("GET /blockchain/pending", s.handlePending)
	mux.HandleFunc("POST /blockchain/validate", s.handleValidateChain)

	mux.HandleFunc("GET /consensus/status", s.handleStatus)
	mux.HandleFunc("POST /consensus/create-block", s.requireRole(s.handleCreateBlock, principal.RoleAdmin, principal.RoleValidator))
	mux.HandleFunc("POST /consensus/validate-block/{index}", s.requireRole(s.handleValidateBlock, principal.RoleAdmin, principal.RoleValidator))
	mux.HandleFunc("GET /consensus/validators", s.handleValidators)
	mux.HandleFunc("POST /consensus/validators", s.requireRole(s.handleRegisterValidator, principal.RoleAdmin))

	if s.shipments != nil {
		mux.HandleFunc("POST /shipments", s.requirePrincipal(s.handleCreateShipment))
		mux.HandleFunc("GET /shipments", s.requirePrincipal(s.handleListShipments))
		mux.HandleFunc("GET /shipments/{id}", s.requirePrincipal(s.handleGetShipment))
		mux.HandleFunc("POST /shipments/{id}/status", s.requirePrincipal(s.handleUpdateShipmentStatus))
		mux.HandleFunc("POST /shipments/{id}/confirm", s.requirePrincipal(s.handleConfirmDelivery))
		mux.HandleFunc("GET /shipments/{id}/history", s.handleShipmentHistory)
	}

	if s.sink != nil {
		mux.HandleFunc("GET /audit/records", s.requireRole(s.handleAuditQuery, principal.RoleAdmin))
	}
	return mux
}

// requirePrincipal wraps a handler with authentication only; role
// decisions belong to the domain service.
func (s *Server) requirePrincipal(next func(http.ResponseWriter, *http.Request, *principal.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if p == nil {
			writeError(w, http.StatusUnauthorized, "credentials required")
			return
		}
		next(w, r, p)
	}
}

// requireRole wraps a handler with authentication and a role check.
func (s *Server) requireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.auth(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if p == nil {
			writeError(w, http.StatusUnauthorized, "credentials required")
			return
		}
		if !p.HasRole(roles...) {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	}
}

// writeJSON encodes body as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError emits a problem document.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCoreError maps core error kinds onto HTTP status codes.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, shipments.ErrShipmentNotFound),
		errors.Is(err, validators.ErrValidatorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, shipments.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, shipments.ErrNoSessionKey):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, shipments.ErrInvalidStateTransition),
		errors.Is(err, validators.ErrDuplicateName),
		errors.Is(err, validators.ErrDuplicateKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrEmptyPool):
		writeError(w, http.StatusBadRequest, "No Pending Transactions")
	case errors.Is(err, validators.ErrNoValidators):
		writeError(w, http.StatusBadRequest, "No Active Validators")
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusBadRequest, "Invalid Validator Password")
	case errors.Is(err, ledger.ErrInvalidSignature),
		errors.Is(err, ledger.ErrInvalidHash),
		errors.Is(err, ledger.ErrInvalidBlockIndex),
		errors.Is(err, ledger.ErrInvalidPreviousHash),
		errors.Is(err, ledger.ErrInvalidBlockSignature),
		errors.Is(err, ledger.ErrBadTransaction),
		errors.Is(err, ledger.ErrDuplicate):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
