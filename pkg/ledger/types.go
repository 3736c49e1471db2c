// Copyright 2025 AidTrace Project
//
// Core chain data model: transactions and blocks with their canonical
// hash and signature inputs.

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
)

// Transaction kinds recorded on the aid ledger.
const (
	TxShipmentCreated   = "ShipmentCreated"
	TxStatusUpdated     = "StatusUpdated"
	TxDeliveryConfirmed = "DeliveryConfirmed"
)

// Sentinel values for the genesis block.
const (
	GenesisValidator    = "GENESIS"
	GenesisPreviousHash = "0"
)

// SignatureSentinel marks a transaction created while the vault is in
// bootstrap mode and no session key was available.
const SignatureSentinel = "UNSIGNED"

// Transaction is a single signed domain event. Immutable once signed.
type Transaction struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	SenderPublicKey string    `json:"sender_public_key"`
	Payload         string    `json:"payload"`
	Signature       string    `json:"signature"`
}

// SignInput returns the canonical byte string covered by the
// transaction signature: id|type|timestamp|sender|payload.
func (tx *Transaction) SignInput() []byte {
	return []byte(strings.Join([]string{
		tx.ID,
		tx.Type,
		tx.Timestamp.UTC().Format(time.RFC3339),
		tx.SenderPublicKey,
		tx.Payload,
	}, "|"))
}

// VerifySignature reports whether the transaction signature verifies
// under the sender public key. The sentinel signature never verifies.
func (tx *Transaction) VerifySignature() bool {
	if tx.Signature == "" || tx.Signature == SignatureSentinel {
		return false
	}
	return keys.Verify(tx.SenderPublicKey, tx.SignInput(), tx.Signature)
}

// Block is one sealed unit of the chain.
type Block struct {
	Index              int           `json:"index"`
	Timestamp          time.Time     `json:"timestamp"`
	Transactions       []Transaction `json:"transactions"`
	PreviousHash       string        `json:"previous_hash"`
	Hash               string        `json:"hash"`
	Nonce              int           `json:"nonce"`
	ValidatorPublicKey string        `json:"validator_public_key"`
	ValidatorSignature string        `json:"validator_signature"`
}

// HashInput returns the canonical byte string the block hash covers:
// index, timestamp, comma-joined transaction ids, previous hash, nonce
// and the validator public key.
func (b *Block) HashInput() []byte {
	ids := make([]string, len(b.Transactions))
	for i := range b.Transactions {
		ids[i] = b.Transactions[i].ID
	}
	return []byte(fmt.Sprintf("%d%s%s%s%d%s",
		b.Index,
		b.Timestamp.UTC().Format(time.RFC3339),
		strings.Join(ids, ","),
		b.PreviousHash,
		b.Nonce,
		b.ValidatorPublicKey,
	))
}

// ComputeHash returns the SHA-256 hex digest of the block hash input.
func (b *Block) ComputeHash() string {
	return keys.Sha256Hex(b.HashInput())
}

// SignInput returns the canonical byte string covered by the validator
// signature: index|hash|timestamp|validator.
func (b *Block) SignInput() []byte {
	return []byte(strings.Join([]string{
		fmt.Sprintf("%d", b.Index),
		b.Hash,
		b.Timestamp.UTC().Format(time.RFC3339),
		b.ValidatorPublicKey,
	}, "|"))
}

// VerifyValidatorSignature reports whether the validator signature
// verifies under the block's validator public key.
func (b *Block) VerifyValidatorSignature() bool {
	if b.ValidatorSignature == "" {
		return false
	}
	return keys.Verify(b.ValidatorPublicKey, b.SignInput(), b.ValidatorSignature)
}

// IsGenesis reports whether the block is the genesis block.
func (b *Block) IsGenesis() bool {
	return b.Index == 0 && b.ValidatorPublicKey == GenesisValidator
}

// NewGenesisBlock builds the fixed index-0 block every chain starts
// from. It carries no transactions and no signature and validates
// unconditionally.
func NewGenesisBlock(at time.Time) Block {
	b := Block{
		Index:              0,
		Timestamp:          at.UTC().Truncate(time.Second),
		Transactions:       []Transaction{},
		PreviousHash:       GenesisPreviousHash,
		ValidatorPublicKey: GenesisValidator,
	}
	b.Hash = b.ComputeHash()
	return b
}
