package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
)

// mapKV is an in-memory KV for index tests.
type mapKV struct {
	data map[string][]byte
}

func newMapKV() *mapKV { return &mapKV{data: make(map[string][]byte)} }

func (m *mapKV) Get(key []byte) ([]byte, error) { return m.data[string(key)], nil }
func (m *mapKV) Set(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

type testSigner struct {
	pub  string
	priv string
}

func newSigner(t *testing.T) testSigner {
	t.Helper()
	pub, priv, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	return testSigner{pub: pub, priv: priv}
}

func (s testSigner) signedTx(t *testing.T, txType, payload string) Transaction {
	t.Helper()
	tx := Transaction{
		ID:              uuid.NewString(),
		Type:            txType,
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		SenderPublicKey: s.pub,
		Payload:         payload,
	}
	sig, err := keys.Sign(s.priv, tx.SignInput())
	if err != nil {
		t.Fatalf("failed to sign transaction: %v", err)
	}
	tx.Signature = sig
	return tx
}

func strictOptions() Options {
	return Options{
		ValidateTransactionSignatures: true,
		ValidateBlockSignatures:       true,
	}
}

// sealBlock builds, signs and appends one block from the pool.
func sealBlock(t *testing.T, l *Ledger, v testSigner) Block {
	t.Helper()
	b, err := l.CreateBlock(v.pub)
	if err != nil {
		t.Fatalf("failed to create block: %v", err)
	}
	sig, err := keys.Sign(v.priv, b.SignInput())
	if err != nil {
		t.Fatalf("failed to sign block: %v", err)
	}
	b.ValidatorSignature = sig
	if err := l.AddBlock(b); err != nil {
		t.Fatalf("failed to add block: %v", err)
	}
	return b
}

func TestGenesisOnlyChain(t *testing.T) {
	l := New(strictOptions(), nil, nil)

	if l.Length() != 1 {
		t.Fatalf("fresh ledger length: got %d, want 1", l.Length())
	}
	head := l.Head()
	if head.Index != 0 || head.PreviousHash != GenesisPreviousHash ||
		head.ValidatorPublicKey != GenesisValidator || len(head.Transactions) != 0 {
		t.Errorf("unexpected genesis block: %+v", head)
	}

	report := l.ValidateChain()
	if !report.IsValid || report.BlockCount != 1 || len(report.Errors) != 0 {
		t.Errorf("genesis-only validation: %+v", report)
	}
}

func TestAddTransactionChecks(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	s := newSigner(t)

	tx := s.signedTx(t, TxShipmentCreated, `{"shipment_id":"sh-1"}`)
	if err := l.AddTransaction(tx); err != nil {
		t.Fatalf("valid transaction rejected: %v", err)
	}

	if err := l.AddTransaction(tx); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate: got %v, want ErrDuplicate", err)
	}

	bad := tx
	bad.ID = uuid.NewString() // signature no longer covers the id
	if err := l.AddTransaction(bad); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("broken signature: got %v, want ErrInvalidSignature", err)
	}

	unsigned := s.signedTx(t, TxStatusUpdated, "{}")
	unsigned.Signature = SignatureSentinel
	if err := l.AddTransaction(unsigned); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("sentinel signature: got %v, want ErrInvalidSignature", err)
	}

	if err := l.AddTransaction(Transaction{}); !errors.Is(err, ErrBadTransaction) {
		t.Errorf("empty transaction: got %v, want ErrBadTransaction", err)
	}
}

func TestCreateBlockEmptyPool(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	v := newSigner(t)
	if _, err := l.CreateBlock(v.pub); !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("empty pool: got %v, want ErrEmptyPool", err)
	}
	if l.Length() != 1 || l.PendingCount() != 0 {
		t.Error("failed CreateBlock mutated state")
	}
}

func TestCreateBlockDoesNotMutate(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	s := newSigner(t)
	if err := l.AddTransaction(s.signedTx(t, TxShipmentCreated, "{}")); err != nil {
		t.Fatal(err)
	}

	v := newSigner(t)
	if _, err := l.CreateBlock(v.pub); err != nil {
		t.Fatalf("create block failed: %v", err)
	}
	if l.Length() != 1 {
		t.Error("CreateBlock appended to the chain")
	}
	if l.PendingCount() != 1 {
		t.Error("CreateBlock drained the pool")
	}
}

func TestAddBlockHappyPathAndInvariants(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	s := newSigner(t)
	v := newSigner(t)

	for i := 0; i < 3; i++ {
		tx := s.signedTx(t, TxStatusUpdated, fmt.Sprintf(`{"seq":%d}`, i))
		if err := l.AddTransaction(tx); err != nil {
			t.Fatal(err)
		}
		sealBlock(t, l, v)
	}

	chain := l.Chain()
	if len(chain) != 4 {
		t.Fatalf("chain length: got %d, want 4", len(chain))
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].PreviousHash != chain[i-1].Hash {
			t.Errorf("block %d: previous hash broken", i)
		}
		if chain[i].Index != chain[i-1].Index+1 {
			t.Errorf("block %d: index not contiguous", i)
		}
		if chain[i].Hash != chain[i].ComputeHash() {
			t.Errorf("block %d: stored hash mismatch", i)
		}
		if !chain[i].VerifyValidatorSignature() {
			t.Errorf("block %d: validator signature does not verify", i)
		}
	}
	if l.PendingCount() != 0 {
		t.Errorf("pool not drained after sealing: %d left", l.PendingCount())
	}

	report := l.ValidateChain()
	if !report.IsValid {
		t.Errorf("chain invalid after sealing: %v", report.Errors)
	}
	// Pure re-check: consecutive calls agree.
	again := l.ValidateChain()
	if again.IsValid != report.IsValid || len(again.Errors) != len(report.Errors) {
		t.Error("consecutive ValidateChain calls disagree")
	}
}

func TestAddBlockRejectsBadBlocks(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	s := newSigner(t)
	v := newSigner(t)

	mk := func() Block {
		if err := l.AddTransaction(s.signedTx(t, TxStatusUpdated, "{}")); err != nil {
			t.Fatal(err)
		}
		b, err := l.CreateBlock(v.pub)
		if err != nil {
			t.Fatal(err)
		}
		sig, err := keys.Sign(v.priv, b.SignInput())
		if err != nil {
			t.Fatal(err)
		}
		b.ValidatorSignature = sig
		return b
	}

	b := mk()

	wrongIndex := b
	wrongIndex.Index = 5
	if err := l.AddBlock(wrongIndex); !errors.Is(err, ErrInvalidBlockIndex) {
		t.Errorf("wrong index: got %v, want ErrInvalidBlockIndex", err)
	}

	wrongPrev := b
	wrongPrev.PreviousHash = "deadbeef"
	if err := l.AddBlock(wrongPrev); !errors.Is(err, ErrInvalidPreviousHash) {
		t.Errorf("wrong previous hash: got %v, want ErrInvalidPreviousHash", err)
	}

	wrongHash := b
	wrongHash.Hash = "deadbeef"
	if err := l.AddBlock(wrongHash); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("wrong hash: got %v, want ErrInvalidHash", err)
	}

	unsigned := b
	unsigned.ValidatorSignature = ""
	if err := l.AddBlock(unsigned); !errors.Is(err, ErrInvalidBlockSignature) {
		t.Errorf("missing block signature: got %v, want ErrInvalidBlockSignature", err)
	}

	// Rejections must not have drained the pool.
	if l.PendingCount() != 1 {
		t.Errorf("pool mutated by rejected blocks: %d", l.PendingCount())
	}

	if err := l.AddBlock(b); err != nil {
		t.Fatalf("valid block rejected after failed attempts: %v", err)
	}
	if l.PendingCount() != 0 {
		t.Error("pool not drained by accepted block")
	}
}

func TestBlockCutoffWindow(t *testing.T) {
	opts := strictOptions()
	opts.MaxBlockTransactions = 2
	l := New(opts, nil, nil)
	s := newSigner(t)
	v := newSigner(t)

	var ids []string
	for i := 0; i < 5; i++ {
		tx := s.signedTx(t, TxStatusUpdated, fmt.Sprintf(`{"seq":%d}`, i))
		ids = append(ids, tx.ID)
		if err := l.AddTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}

	b := sealBlock(t, l, v)
	if len(b.Transactions) != 2 {
		t.Fatalf("cutoff window: got %d transactions, want 2", len(b.Transactions))
	}
	// Oldest-first window.
	if b.Transactions[0].ID != ids[0] || b.Transactions[1].ID != ids[1] {
		t.Error("cutoff window did not take the oldest transactions")
	}
	if l.PendingCount() != 3 {
		t.Errorf("remainder should stay pending: got %d, want 3", l.PendingCount())
	}
}

func TestTamperDetection(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	s := newSigner(t)
	v := newSigner(t)

	if err := l.AddTransaction(s.signedTx(t, TxShipmentCreated, `{"shipment_id":"sh-9"}`)); err != nil {
		t.Fatal(err)
	}
	sealBlock(t, l, v)

	chain := l.Chain()
	tampered := make([]Block, len(chain))
	copy(tampered, chain)
	tampered[1].Transactions[0].Payload = `{"shipment_id":"sh-FORGED"}`

	fresh := New(strictOptions(), nil, nil)
	err := fresh.Adopt(tampered, nil)
	if err == nil {
		t.Fatal("tampered chain adopted without error")
	}
	// Payload changes break the transaction signature first.
	if !errors.Is(err, ErrInvalidSignature) && !errors.Is(err, ErrInvalidHash) {
		t.Errorf("tampered payload: got %v", err)
	}

	// Tampering with the stored hash itself trips the hash check.
	tampered2 := make([]Block, len(chain))
	copy(tampered2, chain)
	tampered2[1].Hash = "0000000000000000000000000000000000000000000000000000000000000000"
	if err := fresh.Adopt(tampered2, nil); err == nil {
		t.Fatal("hash-tampered chain adopted without error")
	}
}

func TestTransactionLookupAndEntityIndexAgreement(t *testing.T) {
	extract := func(tx Transaction) []string {
		var payload struct {
			ShipmentID string `json:"shipment_id"`
		}
		if err := json.Unmarshal([]byte(tx.Payload), &payload); err != nil {
			return nil
		}
		return []string{payload.ShipmentID}
	}

	opts := strictOptions()
	opts.EntityIDExtractor = extract
	indexed := New(opts, newMapKV(), nil)
	scanOnly := New(strictOptions(), nil, nil)

	s := newSigner(t)
	v := newSigner(t)

	for _, shipment := range []string{"sh-a", "sh-b", "sh-a"} {
		tx := s.signedTx(t, TxStatusUpdated, fmt.Sprintf(`{"shipment_id":%q}`, shipment))
		for _, l := range []*Ledger{indexed, scanOnly} {
			if err := l.AddTransaction(tx); err != nil {
				t.Fatal(err)
			}
			sealBlock(t, l, v)
		}
	}

	fromIndex := indexed.TransactionsByEntity("sh-a")
	fromScan := scanOnly.TransactionsByEntity("sh-a")
	if len(fromIndex) != 2 || len(fromScan) != 2 {
		t.Fatalf("entity lookup counts: index %d, scan %d, want 2", len(fromIndex), len(fromScan))
	}
	for i := range fromIndex {
		if fromIndex[i].ID != fromScan[i].ID {
			t.Error("index and scan disagree on entity history")
		}
	}

	tx := fromIndex[0]
	found, err := indexed.TransactionByID(tx.ID)
	if err != nil || found.ID != tx.ID {
		t.Errorf("TransactionByID via index failed: %v", err)
	}
	if _, err := indexed.TransactionByID("missing-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing transaction: got %v, want ErrNotFound", err)
	}
}

func TestAdoptRoundTrip(t *testing.T) {
	l := New(strictOptions(), nil, nil)
	s := newSigner(t)
	v := newSigner(t)

	for i := 0; i < 2; i++ {
		if err := l.AddTransaction(s.signedTx(t, TxStatusUpdated, "{}")); err != nil {
			t.Fatal(err)
		}
		sealBlock(t, l, v)
	}
	pendingTx := s.signedTx(t, TxStatusUpdated, `{"pending":true}`)
	if err := l.AddTransaction(pendingTx); err != nil {
		t.Fatal(err)
	}

	restored := New(strictOptions(), nil, nil)
	if err := restored.Adopt(l.Chain(), l.Pending()); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	if restored.Length() != 3 || restored.PendingCount() != 1 {
		t.Fatalf("restored state: length %d pending %d", restored.Length(), restored.PendingCount())
	}
	// Duplicate set must have been rebuilt.
	if err := restored.AddTransaction(pendingTx); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate after adopt: got %v, want ErrDuplicate", err)
	}
	if restored.Head().Hash != l.Head().Hash {
		t.Error("restored head hash differs")
	}
}
