// Copyright 2025 AidTrace Project
//
// Ledger engine: the live chain, the pending transaction pool and full
// chain validation. All mutation is serialized under a single lock;
// read accessors return copies of committed state.

package ledger

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Options controls signature enforcement and the block cutoff window.
type Options struct {
	// ValidateTransactionSignatures gates the signature check on pool
	// admission and block validation. Off is for bootstrap only.
	ValidateTransactionSignatures bool

	// ValidateBlockSignatures gates the validator signature check on
	// block validation.
	ValidateBlockSignatures bool

	// MaxBlockTransactions caps how many pending transactions a
	// candidate block may carry, oldest first. Zero means no cap.
	MaxBlockTransactions int

	// EntityIDExtractor, when set, yields the entity ids a transaction
	// touches so the side index can be maintained on block append.
	EntityIDExtractor func(Transaction) []string
}

// ValidationReport is the result of a full chain re-check.
type ValidationReport struct {
	IsValid    bool     `json:"is_valid"`
	BlockCount int      `json:"block_count"`
	Errors     []string `json:"errors"`
}

// Ledger owns the chain and the pending pool.
type Ledger struct {
	mu      sync.RWMutex
	chain   []Block
	pending []Transaction
	// knownIDs holds every transaction id on chain or pending, for O(1)
	// duplicate detection. Rebuilt from the chain on Adopt.
	knownIDs map[string]struct{}

	index  *Index
	opts   Options
	logger *log.Logger
}

// New creates a ledger holding only the genesis block. kv may be nil,
// in which case no side index is maintained.
func New(opts Options, kv KV, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(log.Writer(), "[Ledger] ", log.LstdFlags)
	}
	l := &Ledger{
		chain:    []Block{NewGenesisBlock(time.Now())},
		pending:  []Transaction{},
		knownIDs: make(map[string]struct{}),
		opts:     opts,
		logger:   logger,
	}
	if kv != nil {
		l.index = NewIndex(kv)
	}
	return l
}

// AddTransaction appends a transaction to the pending pool after
// field, signature and uniqueness checks.
func (l *Ledger) AddTransaction(tx Transaction) error {
	if tx.ID == "" || tx.Type == "" || tx.SenderPublicKey == "" || tx.Timestamp.IsZero() {
		return ErrBadTransaction
	}
	if l.opts.ValidateTransactionSignatures && !tx.VerifySignature() {
		return fmt.Errorf("%w: transaction %s", ErrInvalidSignature, tx.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.knownIDs[tx.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, tx.ID)
	}
	l.pending = append(l.pending, tx)
	l.knownIDs[tx.ID] = struct{}{}
	return nil
}

// CreateBlock builds a candidate block from the oldest pending
// transactions without mutating the chain or the pool. The candidate
// carries no validator signature yet.
func (l *Ledger) CreateBlock(validatorPublicKey string) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.pending) == 0 {
		return Block{}, ErrEmptyPool
	}

	window := l.pending
	if l.opts.MaxBlockTransactions > 0 && len(window) > l.opts.MaxBlockTransactions {
		window = window[:l.opts.MaxBlockTransactions]
	}
	txs := make([]Transaction, len(window))
	copy(txs, window)

	head := l.chain[len(l.chain)-1]
	b := Block{
		Index:              head.Index + 1,
		Timestamp:          time.Now().UTC().Truncate(time.Second),
		Transactions:       txs,
		PreviousHash:       head.Hash,
		ValidatorPublicKey: validatorPublicKey,
	}
	b.Hash = b.ComputeHash()
	return b, nil
}

// AddBlock validates the block against the current head and appends
// it. On success the block's transactions leave the pending pool. On
// any validation failure nothing changes.
func (l *Ledger) AddBlock(b Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	head := l.chain[len(l.chain)-1]
	if err := l.validateBlock(&b, &head); err != nil {
		return err
	}

	l.chain = append(l.chain, b)
	l.trimPending(b.Transactions)
	for i := range b.Transactions {
		l.knownIDs[b.Transactions[i].ID] = struct{}{}
	}

	if l.index != nil {
		if err := l.index.IndexBlock(&b, l.opts.EntityIDExtractor); err != nil {
			// The side index is rebuildable; an index write failure must
			// not unwind a committed block.
			l.logger.Printf("WARNING: failed to index block %d: %v", b.Index, err)
		}
	}
	return nil
}

// trimPending removes the sealed transactions from the pool. Caller
// holds the write lock.
func (l *Ledger) trimPending(sealed []Transaction) {
	if len(sealed) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(sealed))
	for i := range sealed {
		drop[sealed[i].ID] = struct{}{}
	}
	kept := l.pending[:0]
	for _, tx := range l.pending {
		if _, ok := drop[tx.ID]; !ok {
			kept = append(kept, tx)
		}
	}
	l.pending = kept
}

// validateBlock checks one block against its predecessor. Caller holds
// at least the read lock. Genesis validates unconditionally.
func (l *Ledger) validateBlock(b, prev *Block) error {
	if b.IsGenesis() {
		return nil
	}
	if b.Index != prev.Index+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidBlockIndex, b.Index, prev.Index+1)
	}
	if b.PreviousHash != prev.Hash {
		return fmt.Errorf("%w: block %d", ErrInvalidPreviousHash, b.Index)
	}
	if b.Hash != b.ComputeHash() {
		return fmt.Errorf("%w: block %d", ErrInvalidHash, b.Index)
	}
	if l.opts.ValidateTransactionSignatures {
		for i := range b.Transactions {
			if !b.Transactions[i].VerifySignature() {
				return fmt.Errorf("%w: transaction %s in block %d",
					ErrInvalidSignature, b.Transactions[i].ID, b.Index)
			}
		}
	}
	if l.opts.ValidateBlockSignatures && !b.VerifyValidatorSignature() {
		return fmt.Errorf("%w: block %d", ErrInvalidBlockSignature, b.Index)
	}
	return nil
}

// ValidateBlockAgainst runs the per-block validation rules against an
// explicit predecessor, for callers replaying a chain from disk.
func (l *Ledger) ValidateBlockAgainst(b, prev *Block) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.validateBlock(b, prev)
}

// ValidateChain re-checks the entire chain from index 1 upward and
// reports every violation found.
func (l *Ledger) ValidateChain() ValidationReport {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := ValidationReport{IsValid: true, BlockCount: len(l.chain), Errors: []string{}}
	for i := 1; i < len(l.chain); i++ {
		if err := l.validateBlock(&l.chain[i], &l.chain[i-1]); err != nil {
			report.IsValid = false
			report.Errors = append(report.Errors, err.Error())
		}
	}
	return report
}

// Head returns a copy of the current chain head.
func (l *Ledger) Head() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyBlock(&l.chain[len(l.chain)-1])
}

// Length returns the number of blocks including genesis.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// BlockByIndex returns the block at the given index.
func (l *Ledger) BlockByIndex(index int) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.chain) {
		return Block{}, fmt.Errorf("%w: block %d", ErrNotFound, index)
	}
	return copyBlock(&l.chain[index]), nil
}

// TransactionByID finds a transaction anywhere on chain or in the
// pending pool. The side index is consulted first when present.
func (l *Ledger) TransactionByID(id string) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.index != nil {
		if blockIndex, ok, err := l.index.LookupTransaction(id); err == nil && ok {
			if blockIndex < len(l.chain) {
				for i := range l.chain[blockIndex].Transactions {
					if l.chain[blockIndex].Transactions[i].ID == id {
						return l.chain[blockIndex].Transactions[i], nil
					}
				}
			}
		}
	}
	for i := range l.chain {
		for j := range l.chain[i].Transactions {
			if l.chain[i].Transactions[j].ID == id {
				return l.chain[i].Transactions[j], nil
			}
		}
	}
	for i := range l.pending {
		if l.pending[i].ID == id {
			return l.pending[i], nil
		}
	}
	return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
}

// Pending returns a copy of the pending pool in FIFO order.
func (l *Ledger) Pending() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, len(l.pending))
	copy(out, l.pending)
	return out
}

// PendingCount returns the pool size.
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Chain returns a deep copy of the full chain.
func (l *Ledger) Chain() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Block, len(l.chain))
	for i := range l.chain {
		out[i] = copyBlock(&l.chain[i])
	}
	return out
}

// Adopt replaces the live chain and pool with a loaded snapshot after
// re-validating it, then rebuilds the duplicate set and the side
// index.
func (l *Ledger) Adopt(chain []Block, pending []Transaction) error {
	if len(chain) == 0 || !chain[0].IsGenesis() {
		return fmt.Errorf("%w: snapshot chain has no genesis block", ErrInvalidBlockIndex)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := 1; i < len(chain); i++ {
		if err := l.validateBlock(&chain[i], &chain[i-1]); err != nil {
			return err
		}
	}

	l.chain = make([]Block, len(chain))
	copy(l.chain, chain)
	l.pending = make([]Transaction, len(pending))
	copy(l.pending, pending)

	l.knownIDs = make(map[string]struct{})
	for i := range l.chain {
		for j := range l.chain[i].Transactions {
			l.knownIDs[l.chain[i].Transactions[j].ID] = struct{}{}
		}
	}
	for i := range l.pending {
		l.knownIDs[l.pending[i].ID] = struct{}{}
	}

	if l.index != nil {
		if err := l.index.Rebuild(l.chain, l.opts.EntityIDExtractor); err != nil {
			l.logger.Printf("WARNING: failed to rebuild side index: %v", err)
		}
	}
	return nil
}

// TransactionsByEntity returns, oldest first, the sealed transactions
// whose canonical payload references the entity id. The side index is
// used when available; the contract is the payload scan, and the two
// agree by construction.
func (l *Ledger) TransactionsByEntity(entityID string) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.index != nil {
		if ids, err := l.index.LookupEntity(entityID); err == nil && ids != nil {
			want := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				want[id] = struct{}{}
			}
			var out []Transaction
			for i := range l.chain {
				for j := range l.chain[i].Transactions {
					if _, ok := want[l.chain[i].Transactions[j].ID]; ok {
						out = append(out, l.chain[i].Transactions[j])
					}
				}
			}
			return out
		}
	}

	var out []Transaction
	for i := range l.chain {
		for j := range l.chain[i].Transactions {
			if payloadMentions(&l.chain[i].Transactions[j], entityID) {
				out = append(out, l.chain[i].Transactions[j])
			}
		}
	}
	return out
}

// payloadMentions reports whether the transaction payload contains the
// entity id as a substring of its canonical JSON.
func payloadMentions(tx *Transaction, entityID string) bool {
	return entityID != "" && strings.Contains(tx.Payload, entityID)
}

func copyBlock(b *Block) Block {
	out := *b
	out.Transactions = make([]Transaction, len(b.Transactions))
	copy(out.Transactions, b.Transactions)
	return out
}
