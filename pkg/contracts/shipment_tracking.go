// Copyright 2025 AidTrace Project
//
// Shipment-tracking contract: seeds shipment state on creation and
// polices the status transition chain on updates.

package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aidtrace/aid-ledger/pkg/ledger"
)

// Event names emitted by the shipment-tracking contract.
const (
	EventShipmentAutoValidated      = "ShipmentAutoValidated"
	EventShipmentReachedDestination = "ShipmentReachedDestination"
	EventInvalidStateTransition     = "InvalidStateTransition"
)

// Shipment statuses, in lifecycle order.
const (
	StatusCreated   = "Created"
	StatusValidated = "Validated"
	StatusInTransit = "InTransit"
	StatusDelivered = "Delivered"
	StatusConfirmed = "Confirmed"
)

// nextStatus maps each status to its single allowed successor.
// Confirmed is terminal.
var nextStatus = map[string]string{
	StatusCreated:   StatusValidated,
	StatusValidated: StatusInTransit,
	StatusInTransit: StatusDelivered,
	StatusDelivered: StatusConfirmed,
}

// ShipmentTrackingContract observes ShipmentCreated and StatusUpdated
// transactions.
type ShipmentTrackingContract struct{}

// NewShipmentTracking creates the built-in shipment tracking contract.
func NewShipmentTracking() *ShipmentTrackingContract {
	return &ShipmentTrackingContract{}
}

func (c *ShipmentTrackingContract) ID() string      { return "shipment-tracking" }
func (c *ShipmentTrackingContract) Name() string    { return "Shipment Tracking" }
func (c *ShipmentTrackingContract) Version() string { return "1.0.0" }
func (c *ShipmentTrackingContract) Description() string {
	return "Tracks shipment lifecycle status across the allowed transition chain"
}

func (c *ShipmentTrackingContract) CanExecute(ctx *Context) bool {
	t := ctx.Transaction.Type
	return t == ledger.TxShipmentCreated || t == ledger.TxStatusUpdated
}

// createdPayload is the subset of the ShipmentCreated payload the
// contract cares about.
type createdPayload struct {
	ShipmentID  string   `json:"shipment_id"`
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	RecipientID string   `json:"recipient_id"`
	Items       []string `json:"items"`
	CreatedBy   string   `json:"created_by"`
}

type statusPayload struct {
	ShipmentID string `json:"shipment_id"`
	NewStatus  string `json:"new_status"`
}

func stateKey(shipmentID, field string) string {
	return fmt.Sprintf("shipment_%s_%s", shipmentID, field)
}

func (c *ShipmentTrackingContract) Execute(ctx *Context, state map[string]string) Result {
	switch ctx.Transaction.Type {
	case ledger.TxShipmentCreated:
		return c.executeCreated(ctx)
	case ledger.TxStatusUpdated:
		return c.executeStatusUpdate(ctx, state)
	default:
		return failure(c.ID(), fmt.Sprintf("unsupported transaction type %s", ctx.Transaction.Type))
	}
}

func (c *ShipmentTrackingContract) executeCreated(ctx *Context) Result {
	var p createdPayload
	if err := json.Unmarshal([]byte(ctx.Transaction.Payload), &p); err != nil {
		return failure(c.ID(), fmt.Sprintf("malformed payload: %v", err))
	}
	if p.ShipmentID == "" || p.Origin == "" || p.Destination == "" || p.RecipientID == "" {
		return failure(c.ID(), "shipment_id, origin, destination and recipient_id are required")
	}

	delta := map[string]string{
		stateKey(p.ShipmentID, "status"):    StatusCreated,
		stateKey(p.ShipmentID, "createdBy"): p.CreatedBy,
		stateKey(p.ShipmentID, "createdAt"): ctx.Transaction.Timestamp.UTC().Format(time.RFC3339),
	}
	var events []Event

	// Shipments declared with items skip straight to Validated.
	if len(p.Items) > 0 {
		delta[stateKey(p.ShipmentID, "status")] = StatusValidated
		events = append(events, Event{
			Name: EventShipmentAutoValidated,
			Payload: map[string]string{
				"shipment_id": p.ShipmentID,
				"item_count":  fmt.Sprintf("%d", len(p.Items)),
			},
		})
	}

	return Result{
		Success:    true,
		Output:     fmt.Sprintf("shipment %s registered with status %s", p.ShipmentID, delta[stateKey(p.ShipmentID, "status")]),
		StateDelta: delta,
		Events:     events,
	}
}

func (c *ShipmentTrackingContract) executeStatusUpdate(ctx *Context, state map[string]string) Result {
	var p statusPayload
	if err := json.Unmarshal([]byte(ctx.Transaction.Payload), &p); err != nil {
		return failure(c.ID(), fmt.Sprintf("malformed payload: %v", err))
	}
	if p.ShipmentID == "" || p.NewStatus == "" {
		return failure(c.ID(), "shipment_id and new_status are required")
	}

	prior, known := state[stateKey(p.ShipmentID, "status")]
	allowed := known && nextStatus[prior] == p.NewStatus
	if !allowed {
		ev := Event{
			Name: EventInvalidStateTransition,
			Payload: map[string]string{
				"shipment_id": p.ShipmentID,
				"from":        prior,
				"to":          p.NewStatus,
			},
		}
		return failure(c.ID(),
			fmt.Sprintf("invalid transition %q -> %q for shipment %s", prior, p.NewStatus, p.ShipmentID), ev)
	}

	var events []Event
	if p.NewStatus == StatusDelivered {
		events = append(events, Event{
			Name:    EventShipmentReachedDestination,
			Payload: map[string]string{"shipment_id": p.ShipmentID},
		})
	}

	return Result{
		Success: true,
		Output:  fmt.Sprintf("shipment %s moved to %s", p.ShipmentID, p.NewStatus),
		StateDelta: map[string]string{
			stateKey(p.ShipmentID, "status"): p.NewStatus,
		},
		Events: events,
	}
}
