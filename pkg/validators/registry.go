// Copyright 2025 AidTrace Project
//
// Validator registry service: registration generates the keypair and
// encrypts the private key under the caller-supplied passphrase before
// anything touches storage.

package validators

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

// Registry wraps the repository with key management.
type Registry struct {
	repo   Repository
	logger *log.Logger
}

// NewRegistry creates a registry over the given repository.
func NewRegistry(repo Repository, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[Validators] ", log.LstdFlags)
	}
	return &Registry{repo: repo, logger: logger}
}

// Repo exposes the underlying repository for read paths.
func (g *Registry) Repo() Repository {
	return g.repo
}

// Register creates a validator: new P-256 keypair, private key
// encrypted under passphrase, row stored active with the given
// priority.
func (g *Registry) Register(ctx context.Context, name, passphrase, address string, priority int) (*Validator, error) {
	if name == "" {
		return nil, fmt.Errorf("validator name is required")
	}
	if passphrase == "" {
		return nil, fmt.Errorf("validator passphrase is required")
	}
	if priority < 0 {
		return nil, fmt.Errorf("validator priority must be non-negative")
	}

	pub, priv, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate validator keypair: %w", err)
	}
	encrypted, err := vault.Encrypt(priv, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt validator key: %w", err)
	}

	v := &Validator{
		ID:                  uuid.New(),
		Name:                name,
		PublicKey:           pub,
		EncryptedPrivateKey: encrypted,
		Address:             address,
		IsActive:            true,
		Priority:            priority,
		CreatedAt:           time.Now().UTC(),
	}
	if err := g.repo.Add(ctx, v); err != nil {
		return nil, err
	}
	g.logger.Printf("Registered validator %s (%s), priority %d", v.Name, v.ID, v.Priority)
	return v, nil
}

// UpdatePriority changes a validator's proposer precedence.
func (g *Registry) UpdatePriority(ctx context.Context, id string, priority int) error {
	if priority < 0 {
		return fmt.Errorf("validator priority must be non-negative")
	}
	v, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	v.Priority = priority
	return g.repo.Update(ctx, v)
}

// UpdateAddress changes a validator's contact address.
func (g *Registry) UpdateAddress(ctx context.Context, id, address string) error {
	v, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	v.Address = address
	return g.repo.Update(ctx, v)
}

// Activate re-admits a validator to proposer selection.
func (g *Registry) Activate(ctx context.Context, id string) error {
	return g.setActive(ctx, id, true)
}

// Deactivate removes a validator from proposer selection. Blocks it
// already sealed remain valid.
func (g *Registry) Deactivate(ctx context.Context, id string) error {
	return g.setActive(ctx, id, false)
}

func (g *Registry) setActive(ctx context.Context, id string, active bool) error {
	v, err := g.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	v.IsActive = active
	if err := g.repo.Update(ctx, v); err != nil {
		return err
	}
	g.logger.Printf("Validator %s active=%v", v.Name, active)
	return nil
}
