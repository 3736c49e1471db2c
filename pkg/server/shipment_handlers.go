// Copyright 2025 AidTrace Project
//
// Shipment lifecycle handlers. Role decisions live in the shipment
// service; handlers translate requests and error kinds only.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aidtrace/aid-ledger/pkg/principal"
	"github.com/aidtrace/aid-ledger/pkg/shipments"
)

type createShipmentRequest struct {
	Origin           string   `json:"origin"`
	Destination      string   `json:"destination"`
	RecipientID      string   `json:"recipient_id"`
	Items            []string `json:"items,omitempty"`
	QRToken          string   `json:"qr_token,omitempty"`
	ExpectedDelivery string   `json:"expected_delivery,omitempty"`
}

type shipmentResponse struct {
	Shipment *shipments.Shipment `json:"shipment"`
	Results  any                 `json:"contract_results,omitempty"`
}

// handleCreateShipment handles POST /shipments.
func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request, p *principal.Principal) {
	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := shipments.CreateInput{
		Origin:      req.Origin,
		Destination: req.Destination,
		RecipientID: req.RecipientID,
		Items:       req.Items,
		QRToken:     req.QRToken,
	}
	if req.ExpectedDelivery != "" {
		t, err := time.Parse(time.RFC3339, req.ExpectedDelivery)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expected_delivery timestamp")
			return
		}
		input.ExpectedDelivery = &t
	}

	shipment, results, err := s.shipments.Create(r.Context(), p, input)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipmentResponse{Shipment: shipment, Results: results})
}

// handleListShipments handles GET /shipments.
func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request, p *principal.Principal) {
	list, err := s.shipments.List(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetShipment handles GET /shipments/{id}.
func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request, p *principal.Principal) {
	shipment, err := s.shipments.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipment)
}

type updateStatusRequest struct {
	NewStatus string `json:"new_status"`
}

// handleUpdateShipmentStatus handles POST /shipments/{id}/status.
func (s *Server) handleUpdateShipmentStatus(w http.ResponseWriter, r *http.Request, p *principal.Principal) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	shipment, results, err := s.shipments.UpdateStatus(r.Context(), p, r.PathValue("id"), shipments.Status(req.NewStatus))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse{Shipment: shipment, Results: results})
}

type confirmDeliveryRequest struct {
	QRToken string `json:"qr_token,omitempty"`
}

// handleConfirmDelivery handles POST /shipments/{id}/confirm.
func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request, p *principal.Principal) {
	var req confirmDeliveryRequest
	if r.Body != nil {
		// An empty body is fine; the QR token is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	shipment, results, err := s.shipments.ConfirmDelivery(r.Context(), p, r.PathValue("id"), req.QRToken)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse{Shipment: shipment, Results: results})
}

// handleShipmentHistory handles GET /shipments/{id}/history. The
// blockchain trail is public, like the chain itself.
func (s *Server) handleShipmentHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.shipments.History(r.PathValue("id")))
}
