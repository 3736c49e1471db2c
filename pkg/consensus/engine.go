// Copyright 2025 AidTrace Project
//
// Proof-of-Authority consensus engine. Sealing composes the ledger,
// the validator registry and the vault: pick the round-robin proposer,
// decrypt its key, build and sign a candidate, append, persist, audit.
// A single consensus lock keeps at most one sealing in flight.

package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aidtrace/aid-ledger/pkg/audit"
	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
	"github.com/aidtrace/aid-ledger/pkg/ledger"
	"github.com/aidtrace/aid-ledger/pkg/snapshot"
	"github.com/aidtrace/aid-ledger/pkg/validators"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

var (
	blocksSealed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidledger_blocks_sealed_total",
		Help: "Blocks sealed by the PoA engine.",
	})
	sealedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidledger_sealed_transactions_total",
		Help: "Transactions committed into sealed blocks.",
	})
	snapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidledger_snapshot_failures_total",
		Help: "Snapshot writes that failed after a successful seal.",
	})
)

// Engine drives block production and verification.
type Engine struct {
	mu sync.Mutex // consensus lock: one sealing in flight

	ledger    *ledger.Ledger
	registry  validators.Repository
	snapshots *snapshot.Store // nil disables persistence
	sink      *audit.Sink     // nil disables auditing
	autoSave  bool
	logger    *log.Logger
}

// New wires a consensus engine. snapshots and sink may be nil.
func New(l *ledger.Ledger, registry validators.Repository, snapshots *snapshot.Store, sink *audit.Sink, autoSave bool, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Consensus] ", log.LstdFlags)
	}
	return &Engine{
		ledger:    l,
		registry:  registry,
		snapshots: snapshots,
		sink:      sink,
		autoSave:  autoSave,
		logger:    logger,
	}
}

// SealResult describes a completed seal.
type SealResult struct {
	Block            ledger.Block `json:"block"`
	ValidatorID      string       `json:"validator_id"`
	ValidatorName    string       `json:"validator_name"`
	TransactionCount int          `json:"transaction_count"`
}

// SealNextBlock produces one block end to end. Proposer selection and
// the statistics update run in a single registry transaction, with the
// decrypt-sign-append steps in between, so no concurrent sealer can
// pick the same proposer. Failures before the append leave no state
// behind; a snapshot failure after the append is logged and does not
// unwind the in-memory chain.
func (e *Engine) SealNextBlock(ctx context.Context, passphrase string) (*SealResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ledger.PendingCount() == 0 {
		return nil, ledger.ErrEmptyPool
	}

	var candidate ledger.Block
	appended := false
	proposer, err := e.registry.SealWithNextProposer(ctx, func(v *validators.Validator) error {
		privateKey, err := vault.Decrypt(v.EncryptedPrivateKey, passphrase)
		if err != nil {
			// A wrong passphrase surfaces to the caller; retrying with
			// a different validator would hide a misconfiguration.
			e.audit(v, nil, false, fmt.Sprintf("key decryption failed: %v", err))
			return err
		}

		candidate, err = e.ledger.CreateBlock(v.PublicKey)
		if err != nil {
			return err
		}

		sig, err := keys.Sign(privateKey, candidate.SignInput())
		if err != nil {
			return fmt.Errorf("failed to sign block %d: %w", candidate.Index, err)
		}
		candidate.ValidatorSignature = sig

		if err := e.ledger.AddBlock(candidate); err != nil {
			return err
		}
		appended = true
		return nil
	})
	if err != nil {
		if !appended {
			return nil, err
		}
		// The block is already committed in memory; only the registry
		// statistics failed to record. That skews round-robin fairness
		// until the next successful update but must not unwind the
		// chain or fail the caller.
		e.logger.Printf("WARNING: failed to record block creation for %s: %v", proposer.Name, err)
	}

	if e.snapshots != nil && e.autoSave {
		if err := e.snapshots.Save(e.ledger.Chain(), e.ledger.Pending()); err != nil {
			snapshotFailures.Inc()
			e.logger.Printf("WARNING: failed to persist chain after block %d: %v", candidate.Index, err)
		}
	}

	blocksSealed.Inc()
	sealedTransactions.Add(float64(len(candidate.Transactions)))
	e.logger.Printf("Sealed block %d with %d transaction(s), validator %s",
		candidate.Index, len(candidate.Transactions), proposer.Name)
	e.audit(proposer, &candidate, true, "")

	return &SealResult{
		Block:            candidate,
		ValidatorID:      proposer.ID.String(),
		ValidatorName:    proposer.Name,
		TransactionCount: len(candidate.Transactions),
	}, nil
}

// audit emits a consensus audit record; failures are the sink's
// problem, never ours.
func (e *Engine) audit(v *validators.Validator, b *ledger.Block, success bool, errMsg string) {
	if e.sink == nil {
		return
	}
	rec := audit.Record{
		Category:     audit.CategoryConsensus,
		Action:       "BlockSealed",
		Description:  "PoA block sealing",
		IsSuccess:    success,
		ErrorMessage: errMsg,
	}
	if v != nil {
		rec.PrincipalID = v.ID.String()
		rec.PrincipalName = v.Name
	}
	if b != nil {
		rec.EntityID = b.Hash
		rec.EntityType = "block"
		meta, err := json.Marshal(map[string]any{
			"index":             b.Index,
			"transaction_count": len(b.Transactions),
		})
		if err == nil {
			rec.Metadata = string(meta)
		}
	}
	if !success {
		rec.Action = "BlockSealFailed"
	}
	e.sink.Write(rec)
}

// ValidateBlock checks index continuity, linkage, hash and validator
// signature against an explicit predecessor. It deliberately does not
// require the signer to still be an active validator.
func (e *Engine) ValidateBlock(b, prev *ledger.Block) error {
	if b.IsGenesis() {
		return nil
	}
	if b.Index != prev.Index+1 {
		return fmt.Errorf("%w: got %d, want %d", ledger.ErrInvalidBlockIndex, b.Index, prev.Index+1)
	}
	if b.PreviousHash != prev.Hash {
		return fmt.Errorf("%w: block %d", ledger.ErrInvalidPreviousHash, b.Index)
	}
	if b.Hash != b.ComputeHash() {
		return fmt.Errorf("%w: block %d", ledger.ErrInvalidHash, b.Index)
	}
	if !b.VerifyValidatorSignature() {
		return fmt.Errorf("%w: block %d", ledger.ErrInvalidBlockSignature, b.Index)
	}
	return nil
}

// ValidateBlockStrict additionally requires the sealing key to belong
// to a registered validator. Meant for replay-from-disk verification.
func (e *Engine) ValidateBlockStrict(ctx context.Context, b, prev *ledger.Block) error {
	if err := e.ValidateBlock(b, prev); err != nil {
		return err
	}
	if b.IsGenesis() {
		return nil
	}
	if _, err := e.registry.GetByPublicKey(ctx, b.ValidatorPublicKey); err != nil {
		return fmt.Errorf("%w: block %d sealed by unregistered key", ledger.ErrInvalidBlockSignature, b.Index)
	}
	return nil
}

// CurrentProposerID returns the id of the validator that would seal
// the next block, or "" when there is none.
func (e *Engine) CurrentProposerID(ctx context.Context) string {
	v, err := e.registry.NextProposer(ctx)
	if err != nil {
		return ""
	}
	return v.ID.String()
}

// Status is the consensus introspection document.
type Status struct {
	ChainHeight          int       `json:"chain_height"`
	Pending              int       `json:"pending"`
	ActiveValidatorCount int       `json:"active_validator_count"`
	HeadHash             string    `json:"head_hash"`
	HeadTimestamp        time.Time `json:"head_timestamp"`
	CurrentProposerID    string    `json:"current_proposer_id,omitempty"`
}

// Status reports chain height, pool size and the active validator set
// size.
func (e *Engine) Status(ctx context.Context) Status {
	head := e.ledger.Head()
	active, err := e.registry.GetActiveOrdered(ctx)
	if err != nil {
		e.logger.Printf("WARNING: failed to count active validators: %v", err)
	}
	return Status{
		ChainHeight:          e.ledger.Length(),
		Pending:              e.ledger.PendingCount(),
		ActiveValidatorCount: len(active),
		HeadHash:             head.Hash,
		HeadTimestamp:        head.Timestamp,
		CurrentProposerID:    e.CurrentProposerID(ctx),
	}
}

// Ledger exposes the underlying ledger for the transport layer.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}
