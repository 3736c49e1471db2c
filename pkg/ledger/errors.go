// Copyright 2025 AidTrace Project
//
// Sentinel errors for ledger operations. Callers match with errors.Is;
// the HTTP layer maps these onto status codes.

package ledger

import "errors"

var (
	// ErrBadTransaction is returned when a submitted transaction is
	// missing required fields.
	ErrBadTransaction = errors.New("transaction is missing required fields")

	// ErrInvalidSignature is returned when a transaction signature does
	// not verify under the sender public key.
	ErrInvalidSignature = errors.New("invalid transaction signature")

	// ErrDuplicate is returned when a transaction id already exists on
	// chain or in the pending pool.
	ErrDuplicate = errors.New("duplicate transaction id")

	// ErrEmptyPool is returned when block creation is requested with no
	// pending transactions.
	ErrEmptyPool = errors.New("no pending transactions")

	// ErrInvalidBlockIndex is returned when a block's index is not
	// contiguous with the chain head.
	ErrInvalidBlockIndex = errors.New("invalid block index")

	// ErrInvalidPreviousHash is returned when a block does not link to
	// the current head hash.
	ErrInvalidPreviousHash = errors.New("invalid previous hash")

	// ErrInvalidHash is returned when a block hash does not match the
	// recomputed hash of its contents.
	ErrInvalidHash = errors.New("invalid block hash")

	// ErrInvalidBlockSignature is returned when a validator signature
	// does not verify.
	ErrInvalidBlockSignature = errors.New("invalid validator signature")

	// ErrNotFound is returned by lookups for unknown blocks or
	// transactions.
	ErrNotFound = errors.New("not found")
)
