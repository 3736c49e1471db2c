// Copyright 2025 AidTrace Project
//
// Repository contract for validator rows. Postgres backs production
// deployments; the in-memory implementation serves bootstrap and
// tests.

package validators

import (
	"context"
)

// Repository stores validator rows.
//
// Proposer selection: the next round-robin proposer is the active
// validator with the smallest (total_blocks_created, priority,
// created_at) key. SealWithNextProposer runs the selection and the
// block-creation statistics update in one repository transaction, so
// two concurrent sealers can never pick the same proposer: the
// Postgres implementation holds the selected row locked (FOR UPDATE
// SKIP LOCKED) until the statistics update commits, and the in-memory
// implementation holds its lock across both. NextProposer is a
// non-reserving peek for status introspection only.
type Repository interface {
	// Add inserts a new validator, enforcing name and public-key
	// uniqueness.
	Add(ctx context.Context, v *Validator) error

	// GetByID returns one validator or ErrValidatorNotFound.
	GetByID(ctx context.Context, id string) (*Validator, error)

	// GetByName returns one validator or ErrValidatorNotFound.
	GetByName(ctx context.Context, name string) (*Validator, error)

	// GetByPublicKey returns one validator or ErrValidatorNotFound.
	GetByPublicKey(ctx context.Context, publicKey string) (*Validator, error)

	// List returns all validators ordered by creation time.
	List(ctx context.Context) ([]*Validator, error)

	// GetActiveOrdered returns active validators ordered by priority
	// ascending, then creation time ascending.
	GetActiveOrdered(ctx context.Context) ([]*Validator, error)

	// NextProposer returns the validator that would seal next, or
	// ErrNoValidators when no active validator exists. A peek only: it
	// holds no lock after it returns, reserves nothing, and must not be
	// used on the sealing path.
	NextProposer(ctx context.Context) (*Validator, error)

	// SealWithNextProposer selects the next proposer, invokes seal with
	// it, and, when seal returns nil, records the block creation
	// (counter increment + timestamp) before the same transaction
	// commits. A seal error rolls the transaction back and is returned
	// unchanged. The selected validator is returned whenever selection
	// succeeded, even if seal failed. Fails ErrNoValidators when no
	// active validator exists.
	SealWithNextProposer(ctx context.Context, seal func(v *Validator) error) (*Validator, error)

	// Update persists mutable fields: address, active flag, priority.
	Update(ctx context.Context, v *Validator) error
}
