// Copyright 2025 AidTrace Project
//
// Validator registry types.

package validators

import (
	"time"

	"github.com/google/uuid"
)

// Validator is an authority node entitled to seal blocks. The private
// key is stored encrypted under the validator passphrase; the
// plaintext only ever exists inside the sealing path.
type Validator struct {
	ID                  uuid.UUID  `json:"id"`
	Name                string     `json:"name"`
	PublicKey           string     `json:"public_key"`
	EncryptedPrivateKey string     `json:"-"`
	Address             string     `json:"address,omitempty"`
	IsActive            bool       `json:"is_active"`
	Priority            int        `json:"priority"`
	TotalBlocksCreated  int        `json:"total_blocks_created"`
	LastBlockCreatedAt  *time.Time `json:"last_block_created_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}
