// Copyright 2025 AidTrace Project
//
// Delivery-verification contract: checks that the confirming party is
// the assigned recipient, optionally matches the QR token, and
// classifies the delivery as on time or delayed.

package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aidtrace/aid-ledger/pkg/ledger"
)

// Event names emitted by the delivery-verification contract.
const (
	EventDeliveryVerified         = "DeliveryVerified"
	EventQRCodeVerificationFailed = "QRCodeVerificationFailed"
	EventDeliveryDelayed          = "DeliveryDelayed"
)

// Context data keys consumed by this contract.
const (
	DataAssignedRecipient = "assigned_recipient_id"
	DataExpectedQRToken   = "expected_qr_token"
	DataExpectedDelivery  = "expected_delivery"
)

// DeliveryVerificationContract observes DeliveryConfirmed transactions.
type DeliveryVerificationContract struct{}

// NewDeliveryVerification creates the built-in delivery verification
// contract.
func NewDeliveryVerification() *DeliveryVerificationContract {
	return &DeliveryVerificationContract{}
}

func (c *DeliveryVerificationContract) ID() string      { return "delivery-verification" }
func (c *DeliveryVerificationContract) Name() string    { return "Delivery Verification" }
func (c *DeliveryVerificationContract) Version() string { return "1.0.0" }
func (c *DeliveryVerificationContract) Description() string {
	return "Verifies recipient identity and QR token on delivery confirmation"
}

func (c *DeliveryVerificationContract) CanExecute(ctx *Context) bool {
	return ctx.Transaction.Type == ledger.TxDeliveryConfirmed
}

type confirmationPayload struct {
	ShipmentID  string `json:"shipment_id"`
	RecipientID string `json:"recipient_id"`
	QRToken     string `json:"qr_token"`
	ConfirmedAt string `json:"confirmed_at"`
}

func (c *DeliveryVerificationContract) Execute(ctx *Context, state map[string]string) Result {
	var p confirmationPayload
	if err := json.Unmarshal([]byte(ctx.Transaction.Payload), &p); err != nil {
		return failure(c.ID(), fmt.Sprintf("malformed payload: %v", err))
	}
	if p.ShipmentID == "" || p.RecipientID == "" {
		return failure(c.ID(), "shipment_id and recipient_id are required")
	}

	assigned := ctx.Data[DataAssignedRecipient]
	if assigned == "" {
		return failure(c.ID(), "assigned recipient missing from context")
	}
	if p.RecipientID != assigned {
		return failure(c.ID(),
			fmt.Sprintf("recipient %s is not the assigned recipient for shipment %s", p.RecipientID, p.ShipmentID))
	}

	if expected := ctx.Data[DataExpectedQRToken]; expected != "" && p.QRToken != expected {
		ev := Event{
			Name:    EventQRCodeVerificationFailed,
			Payload: map[string]string{"shipment_id": p.ShipmentID},
		}
		return failure(c.ID(), fmt.Sprintf("QR token mismatch for shipment %s", p.ShipmentID), ev)
	}

	confirmedAt := ctx.Transaction.Timestamp.UTC()
	if p.ConfirmedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.ConfirmedAt); err == nil {
			confirmedAt = t.UTC()
		}
	}

	events := []Event{{
		Name: EventDeliveryVerified,
		Payload: map[string]string{
			"shipment_id":  p.ShipmentID,
			"recipient_id": p.RecipientID,
		},
	}}
	classification := "on_time"
	if expected := ctx.Data[DataExpectedDelivery]; expected != "" {
		if deadline, err := time.Parse(time.RFC3339, expected); err == nil && confirmedAt.After(deadline) {
			classification = "delayed"
			events = append(events, Event{
				Name: EventDeliveryDelayed,
				Payload: map[string]string{
					"shipment_id":  p.ShipmentID,
					"expected":     deadline.UTC().Format(time.RFC3339),
					"confirmed_at": confirmedAt.Format(time.RFC3339),
				},
			})
		}
	}

	return Result{
		Success: true,
		Output:  fmt.Sprintf("delivery of shipment %s verified (%s)", p.ShipmentID, classification),
		StateDelta: map[string]string{
			stateKey(p.ShipmentID, "delivery"): classification,
		},
		Events: events,
	}
}
