// Copyright 2025 AidTrace Project
//
// Shipment domain model. The status state machine is owned here; the
// shipment-tracking contract observes the same chain advisorily.

package shipments

import (
	"context"
	"errors"
	"time"
)

// Status is a shipment lifecycle state.
type Status string

// Lifecycle states, in order. Confirmed is terminal.
const (
	StatusCreated   Status = "Created"
	StatusValidated Status = "Validated"
	StatusInTransit Status = "InTransit"
	StatusDelivered Status = "Delivered"
	StatusConfirmed Status = "Confirmed"
)

// nextStatus maps each state to its single allowed successor.
var nextStatus = map[Status]Status{
	StatusCreated:   StatusValidated,
	StatusValidated: StatusInTransit,
	StatusInTransit: StatusDelivered,
	StatusDelivered: StatusConfirmed,
}

// CanTransition reports whether from -> to is an allowed step.
func CanTransition(from, to Status) bool {
	return nextStatus[from] == to
}

// Shipment is one tracked aid consignment. Storage of shipment rows is
// external to the ledger core; the repository below is the boundary.
type Shipment struct {
	ID               string     `json:"id"`
	TrackingNumber   string     `json:"tracking_number"`
	Origin           string     `json:"origin"`
	Destination      string     `json:"destination"`
	RecipientID      string     `json:"recipient_id"`
	Items            []string   `json:"items,omitempty"`
	Status           Status     `json:"status"`
	QRToken          string     `json:"qr_token,omitempty"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

var (
	// ErrShipmentNotFound is returned by lookups for unknown shipments.
	ErrShipmentNotFound = errors.New("shipment not found")

	// ErrForbidden is returned when the acting principal's role does
	// not permit the operation.
	ErrForbidden = errors.New("principal is not permitted to perform this operation")

	// ErrInvalidStateTransition is returned when a status update is not
	// the single allowed successor.
	ErrInvalidStateTransition = errors.New("invalid shipment state transition")

	// ErrNoSessionKey is returned when the acting principal has no live
	// session key and the vault is not in bootstrap mode.
	ErrNoSessionKey = errors.New("no session key for principal")
)

// Repository is the external storage boundary for shipment rows. Each
// operation is atomic; callers do not control transaction boundaries.
type Repository interface {
	Get(ctx context.Context, id string) (*Shipment, error)
	List(ctx context.Context) ([]*Shipment, error)
	Add(ctx context.Context, s *Shipment) error
	Update(ctx context.Context, s *Shipment) error
	Remove(ctx context.Context, id string) error
}
