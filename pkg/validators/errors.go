// Copyright 2025 AidTrace Project
//
// Sentinel errors for the validator registry.

package validators

import "errors"

var (
	// ErrNoValidators is returned when proposer selection finds no
	// active validator.
	ErrNoValidators = errors.New("no active validators")

	// ErrValidatorNotFound is returned by lookups for unknown
	// validators.
	ErrValidatorNotFound = errors.New("validator not found")

	// ErrDuplicateName is returned when registering a validator whose
	// name is already taken.
	ErrDuplicateName = errors.New("validator name already registered")

	// ErrDuplicateKey is returned when registering a validator whose
	// public key is already registered.
	ErrDuplicateKey = errors.New("validator public key already registered")
)
