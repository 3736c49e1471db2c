// Copyright 2025 AidTrace Project
//
// Shipment orchestrator: role checks, the source-of-truth state
// machine, external storage mutation, transaction signing via the
// session vault and submission to the pending pool. The contract
// engine runs advisorily before submission.

package shipments

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/aidtrace/aid-ledger/pkg/audit"
	"github.com/aidtrace/aid-ledger/pkg/contracts"
	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
	"github.com/aidtrace/aid-ledger/pkg/ledger"
	"github.com/aidtrace/aid-ledger/pkg/principal"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

// Service coordinates the shipment lifecycle.
type Service struct {
	repo      Repository
	ledger    *ledger.Ledger
	contracts *contracts.Engine // nil disables advisory execution
	sessions  *vault.SessionKeyTable
	sink      *audit.Sink // nil disables auditing
	bootstrap bool        // sentinel signatures allowed
	logger    *log.Logger
}

// NewService wires the orchestrator. contracts and sink may be nil.
func NewService(repo Repository, l *ledger.Ledger, engine *contracts.Engine, sessions *vault.SessionKeyTable, sink *audit.Sink, bootstrap bool, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[Shipments] ", log.LstdFlags)
	}
	return &Service{
		repo:      repo,
		ledger:    l,
		contracts: engine,
		sessions:  sessions,
		sink:      sink,
		bootstrap: bootstrap,
		logger:    logger,
	}
}

// CreateInput is the caller-facing creation request.
type CreateInput struct {
	Origin           string
	Destination      string
	RecipientID      string
	Items            []string
	QRToken          string
	ExpectedDelivery *time.Time
}

// Create registers a shipment and records a ShipmentCreated
// transaction. Coordinators and admins only.
func (s *Service) Create(ctx context.Context, p *principal.Principal, input CreateInput) (*Shipment, []contracts.Result, error) {
	if !p.HasRole(principal.RoleCoordinator, principal.RoleAdmin) {
		return nil, nil, fmt.Errorf("%w: role %s cannot create shipments", ErrForbidden, p.Role)
	}
	if input.Origin == "" || input.Destination == "" || input.RecipientID == "" {
		return nil, nil, fmt.Errorf("origin, destination and recipient are required")
	}

	signingKey, err := s.resolveKey(p)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	shipment := &Shipment{
		ID:               uuid.NewString(),
		TrackingNumber:   fmt.Sprintf("AID-%s", uuid.NewString()[:8]),
		Origin:           input.Origin,
		Destination:      input.Destination,
		RecipientID:      input.RecipientID,
		Items:            input.Items,
		Status:           StatusCreated,
		QRToken:          input.QRToken,
		ExpectedDelivery: input.ExpectedDelivery,
		CreatedBy:        p.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	// Shipments declared with their items skip straight to Validated,
	// mirroring the tracking contract.
	if len(shipment.Items) > 0 {
		shipment.Status = StatusValidated
	}

	if err := s.repo.Add(ctx, shipment); err != nil {
		return nil, nil, err
	}

	doc := map[string]any{
		"shipment_id":     shipment.ID,
		"tracking_number": shipment.TrackingNumber,
		"origin":          shipment.Origin,
		"destination":     shipment.Destination,
		"recipient_id":    shipment.RecipientID,
		"status":          string(shipment.Status),
		"created_by":      p.ID,
		"created_at":      shipment.CreatedAt,
	}
	if len(shipment.Items) > 0 {
		doc["items"] = shipment.Items
	}
	if shipment.ExpectedDelivery != nil {
		doc["expected_delivery"] = *shipment.ExpectedDelivery
	}

	tx, results, err := s.submit(ctx, p, signingKey, ledger.TxShipmentCreated, doc, shipment)
	if err != nil {
		return nil, results, err
	}

	s.audit(p, shipment.ID, "ShipmentCreated",
		fmt.Sprintf("shipment %s created (%s -> %s), transaction %s",
			shipment.ID, shipment.Origin, shipment.Destination, tx.ID), true, "")
	return shipment, results, nil
}

// UpdateStatus advances a shipment one lifecycle step and records a
// StatusUpdated transaction. Coordinators and admins only.
func (s *Service) UpdateStatus(ctx context.Context, p *principal.Principal, shipmentID string, next Status) (*Shipment, []contracts.Result, error) {
	if !p.HasRole(principal.RoleCoordinator, principal.RoleAdmin) {
		return nil, nil, fmt.Errorf("%w: role %s cannot update shipment status", ErrForbidden, p.Role)
	}

	shipment, err := s.repo.Get(ctx, shipmentID)
	if err != nil {
		return nil, nil, err
	}
	if !CanTransition(shipment.Status, next) {
		s.audit(p, shipmentID, "StatusUpdateRejected",
			fmt.Sprintf("transition %s -> %s rejected", shipment.Status, next), false,
			ErrInvalidStateTransition.Error())
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, shipment.Status, next)
	}

	signingKey, err := s.resolveKey(p)
	if err != nil {
		return nil, nil, err
	}

	previous := shipment.Status
	shipment.Status = next
	shipment.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.repo.Update(ctx, shipment); err != nil {
		return nil, nil, err
	}

	doc := map[string]any{
		"shipment_id":     shipment.ID,
		"new_status":      string(next),
		"previous_status": string(previous),
		"updated_by":      p.ID,
		"updated_at":      shipment.UpdatedAt,
	}
	tx, results, err := s.submit(ctx, p, signingKey, ledger.TxStatusUpdated, doc, shipment)
	if err != nil {
		return nil, results, err
	}

	s.audit(p, shipment.ID, "StatusUpdated",
		fmt.Sprintf("shipment %s moved %s -> %s, transaction %s", shipment.ID, previous, next, tx.ID), true, "")
	return shipment, results, nil
}

// ConfirmDelivery records the assigned recipient's confirmation. Only
// that recipient may confirm, and only from Delivered.
func (s *Service) ConfirmDelivery(ctx context.Context, p *principal.Principal, shipmentID, qrToken string) (*Shipment, []contracts.Result, error) {
	shipment, err := s.repo.Get(ctx, shipmentID)
	if err != nil {
		return nil, nil, err
	}
	if p.ID != shipment.RecipientID {
		return nil, nil, fmt.Errorf("%w: only the assigned recipient may confirm delivery", ErrForbidden)
	}
	if !CanTransition(shipment.Status, StatusConfirmed) {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, shipment.Status, StatusConfirmed)
	}

	signingKey, err := s.resolveKey(p)
	if err != nil {
		return nil, nil, err
	}

	shipment.Status = StatusConfirmed
	shipment.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.repo.Update(ctx, shipment); err != nil {
		return nil, nil, err
	}

	doc := map[string]any{
		"shipment_id":  shipment.ID,
		"recipient_id": p.ID,
		"confirmed_at": shipment.UpdatedAt,
	}
	if qrToken != "" {
		doc["qr_token"] = qrToken
	}
	tx, results, err := s.submit(ctx, p, signingKey, ledger.TxDeliveryConfirmed, doc, shipment)
	if err != nil {
		return nil, results, err
	}

	s.audit(p, shipment.ID, "DeliveryConfirmed",
		fmt.Sprintf("shipment %s confirmed by recipient %s, transaction %s", shipment.ID, p.ID, tx.ID), true, "")
	return shipment, results, nil
}

// Get returns one shipment.
func (s *Service) Get(ctx context.Context, id string) (*Shipment, error) {
	return s.repo.Get(ctx, id)
}

// List returns all shipments.
func (s *Service) List(ctx context.Context) ([]*Shipment, error) {
	return s.repo.List(ctx)
}

// History returns the sealed transactions referencing the shipment,
// oldest first.
func (s *Service) History(shipmentID string) []ledger.Transaction {
	return s.ledger.TransactionsByEntity(shipmentID)
}

// resolveKey fetches the principal's session key, or allows the
// sentinel in bootstrap mode.
func (s *Service) resolveKey(p *principal.Principal) (string, error) {
	if key, ok := s.sessions.Get(p.ID); ok {
		return key, nil
	}
	if s.bootstrap {
		return "", nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoSessionKey, p.ID)
}

// submit builds, signs and pools the transaction, running applicable
// contracts first. Contract failures are reported in the result
// vector, never propagated.
func (s *Service) submit(ctx context.Context, p *principal.Principal, signingKey, txType string, doc map[string]any, shipment *Shipment) (*ledger.Transaction, []contracts.Result, error) {
	payload, err := CanonicalMarshal(doc)
	if err != nil {
		return nil, nil, err
	}

	tx := ledger.Transaction{
		ID:              uuid.NewString(),
		Type:            txType,
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		SenderPublicKey: p.PublicKey,
		Payload:         payload,
	}
	if signingKey == "" {
		tx.Signature = ledger.SignatureSentinel
	} else {
		sig, err := keys.Sign(signingKey, tx.SignInput())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
		tx.Signature = sig
	}

	var results []contracts.Result
	if s.contracts != nil {
		cctx := &contracts.Context{
			Transaction: tx,
			Data: map[string]string{
				contracts.DataAssignedRecipient: shipment.RecipientID,
			},
		}
		if shipment.QRToken != "" {
			cctx.Data[contracts.DataExpectedQRToken] = shipment.QRToken
		}
		if shipment.ExpectedDelivery != nil {
			cctx.Data[contracts.DataExpectedDelivery] = shipment.ExpectedDelivery.UTC().Format(time.RFC3339)
		}
		results = s.contracts.ExecuteApplicable(cctx)
		for _, res := range results {
			if !res.Success {
				s.logger.Printf("Contract %s reported failure for tx %s: %s", res.ContractID, tx.ID, res.Error)
			}
		}
	}

	if err := s.ledger.AddTransaction(tx); err != nil {
		s.audit(p, shipment.ID, "TransactionRejected",
			fmt.Sprintf("transaction %s rejected by ledger", tx.ID), false, err.Error())
		return nil, results, err
	}
	return &tx, results, nil
}

// audit emits a shipment audit record.
func (s *Service) audit(p *principal.Principal, entityID, action, description string, success bool, errMsg string) {
	if s.sink == nil {
		return
	}
	s.sink.Write(audit.Record{
		Category:      audit.CategoryShipment,
		Action:        action,
		Description:   description,
		PrincipalID:   p.ID,
		PrincipalName: p.Name,
		EntityID:      entityID,
		EntityType:    "shipment",
		IsSuccess:     success,
		ErrorMessage:  errMsg,
	})
}
