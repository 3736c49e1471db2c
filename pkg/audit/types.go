// Copyright 2025 AidTrace Project
//
// Audit log types and the repository contract.

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record categories.
const (
	CategoryBlockchain = "blockchain"
	CategoryConsensus  = "consensus"
	CategoryShipment   = "shipment"
	CategorySecurity   = "security"
)

// Record is one append-only audit entry.
type Record struct {
	ID            uuid.UUID `json:"id"`
	Category      string    `json:"category"`
	Action        string    `json:"action"`
	Description   string    `json:"description"`
	PrincipalID   string    `json:"principal_id,omitempty"`
	PrincipalName string    `json:"principal_name,omitempty"`
	EntityID      string    `json:"entity_id,omitempty"`
	EntityType    string    `json:"entity_type,omitempty"`
	Metadata      string    `json:"metadata,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	IsSuccess     bool      `json:"is_success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Filter bounds an audit query. Zero values mean "any".
type Filter struct {
	Category    string
	PrincipalID string
	EntityID    string
	// Success filters on the success flag when non-nil.
	Success *bool
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

// Repository persists audit records.
type Repository interface {
	Append(ctx context.Context, rec *Record) error
	Query(ctx context.Context, f Filter) ([]*Record, error)
}
