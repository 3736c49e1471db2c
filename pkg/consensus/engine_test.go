package consensus

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aidtrace/aid-ledger/pkg/audit"
	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
	"github.com/aidtrace/aid-ledger/pkg/ledger"
	"github.com/aidtrace/aid-ledger/pkg/snapshot"
	"github.com/aidtrace/aid-ledger/pkg/validators"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

type fixture struct {
	ledger   *ledger.Ledger
	repo     *validators.MemoryRepository
	registry *validators.Registry
	engine   *Engine
	sink     *audit.Sink
	auditDB  *audit.MemoryRepository
}

func newFixture(t *testing.T, store *snapshot.Store) *fixture {
	t.Helper()
	l := ledger.New(ledger.Options{
		ValidateTransactionSignatures: true,
		ValidateBlockSignatures:       true,
	}, nil, nil)
	repo := validators.NewMemoryRepository()
	auditDB := audit.NewMemoryRepository()
	sink := audit.NewSink(auditDB, 64, nil)
	t.Cleanup(sink.Close)
	return &fixture{
		ledger:   l,
		repo:     repo,
		registry: validators.NewRegistry(repo, nil),
		engine:   New(l, repo, store, sink, store != nil, nil),
		sink:     sink,
		auditDB:  auditDB,
	}
}

func (f *fixture) submitTx(t *testing.T) ledger.Transaction {
	t.Helper()
	pub, priv, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx := ledger.Transaction{
		ID:              uuid.NewString(),
		Type:            ledger.TxShipmentCreated,
		Timestamp:       time.Now().UTC().Truncate(time.Second),
		SenderPublicKey: pub,
		Payload:         `{"shipment_id":"sh-1"}`,
	}
	sig, err := keys.Sign(priv, tx.SignInput())
	if err != nil {
		t.Fatal(err)
	}
	tx.Signature = sig
	if err := f.ledger.AddTransaction(tx); err != nil {
		t.Fatal(err)
	}
	return tx
}

func TestSealNextBlockEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	v, err := f.registry.Register(ctx, "validator-1", "pass-1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	f.submitTx(t)

	res, err := f.engine.SealNextBlock(ctx, "pass-1")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if res.TransactionCount != 1 || res.ValidatorID != v.ID.String() {
		t.Errorf("unexpected seal result: %+v", res)
	}
	if f.ledger.Length() != 2 {
		t.Errorf("chain length after seal: got %d, want 2", f.ledger.Length())
	}
	if f.ledger.PendingCount() != 0 {
		t.Error("pool not drained by seal")
	}
	if report := f.ledger.ValidateChain(); !report.IsValid {
		t.Errorf("chain invalid after seal: %v", report.Errors)
	}
	if !res.Block.VerifyValidatorSignature() {
		t.Error("sealed block signature does not verify")
	}

	got, err := f.repo.GetByID(ctx, v.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalBlocksCreated != 1 {
		t.Errorf("block statistics not recorded: %d", got.TotalBlocksCreated)
	}
}

func TestSealEmptyPool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.registry.Register(ctx, "v", "pw", "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SealNextBlock(ctx, "pw"); !errors.Is(err, ledger.ErrEmptyPool) {
		t.Errorf("empty pool: got %v, want ErrEmptyPool", err)
	}
}

func TestSealNoValidators(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.submitTx(t)
	if _, err := f.engine.SealNextBlock(ctx, "pw"); !errors.Is(err, validators.ErrNoValidators) {
		t.Errorf("no validators: got %v, want ErrNoValidators", err)
	}
}

func TestSealWrongPassphraseRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.registry.Register(ctx, "v", "correct", "", 0); err != nil {
		t.Fatal(err)
	}
	f.submitTx(t)

	_, err := f.engine.SealNextBlock(ctx, "wrong")
	if !errors.Is(err, vault.ErrUnauthorized) {
		t.Fatalf("wrong passphrase: got %v, want ErrUnauthorized", err)
	}
	if f.ledger.Length() != 1 {
		t.Error("failed seal appended a block")
	}
	if f.ledger.PendingCount() != 1 {
		t.Error("failed seal drained the pool")
	}
}

func TestRoundRobinFairness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	v1, err := f.registry.Register(ctx, "v1", "pw", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	v2, err := f.registry.Register(ctx, "v2", "pw", "", 1)
	if err != nil {
		t.Fatal(err)
	}

	var sealers []string
	for i := 0; i < 3; i++ {
		f.submitTx(t)
		res, err := f.engine.SealNextBlock(ctx, "pw")
		if err != nil {
			t.Fatalf("seal %d failed: %v", i, err)
		}
		sealers = append(sealers, res.ValidatorName)
	}
	want := []string{"v1", "v2", "v1"}
	for i := range want {
		if sealers[i] != want[i] {
			t.Fatalf("seal order: got %v, want %v", sealers, want)
		}
	}

	got1, _ := f.repo.GetByID(ctx, v1.ID.String())
	got2, _ := f.repo.GetByID(ctx, v2.ID.String())
	if got1.TotalBlocksCreated != 2 || got2.TotalBlocksCreated != 1 {
		t.Errorf("block counts: v1=%d v2=%d, want 2/1", got1.TotalBlocksCreated, got2.TotalBlocksCreated)
	}

	if err := f.registry.Deactivate(ctx, v1.ID.String()); err != nil {
		t.Fatal(err)
	}
	f.submitTx(t)
	res, err := f.engine.SealNextBlock(ctx, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if res.ValidatorName != "v2" {
		t.Errorf("fourth seal: got %s, want v2", res.ValidatorName)
	}
}

func TestSealPersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewStore(filepath.Join(t.TempDir(), "chain.json"), false, 0, nil)
	f := newFixture(t, store)

	if _, err := f.registry.Register(ctx, "v", "pw", "", 0); err != nil {
		t.Fatal(err)
	}
	f.submitTx(t)
	if _, err := f.engine.SealNextBlock(ctx, "pw"); err != nil {
		t.Fatal(err)
	}

	if !store.Available() {
		t.Fatal("snapshot not written after seal")
	}
	chain, pending, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || len(pending) != 0 {
		t.Errorf("snapshot contents: %d blocks, %d pending", len(chain), len(pending))
	}
}

func TestPersistenceRoundTripAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chain.json")
	store := snapshot.NewStore(path, false, 0, nil)

	f := newFixture(t, store)
	if _, err := f.registry.Register(ctx, "v", "pw", "", 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		f.submitTx(t)
		if _, err := f.engine.SealNextBlock(ctx, "pw"); err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
	}
	wantHead := f.ledger.Head().Hash

	// "Restart": a fresh ledger adopts the snapshot.
	restarted := ledger.New(ledger.Options{
		ValidateTransactionSignatures: true,
		ValidateBlockSignatures:       true,
	}, nil, nil)
	blocks, pending, err := snapshot.NewStore(path, false, 0, nil).Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.Adopt(blocks, pending); err != nil {
		t.Fatalf("restart adopt failed: %v", err)
	}
	if restarted.Length() != 3 {
		t.Errorf("restarted chain length: got %d, want 3", restarted.Length())
	}
	if restarted.Head().Hash != wantHead {
		t.Error("head hash changed across restart")
	}
	if report := restarted.ValidateChain(); !report.IsValid {
		t.Errorf("restarted chain invalid: %v", report.Errors)
	}
}

func TestValidateBlockVariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	v, err := f.registry.Register(ctx, "v", "pw", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	f.submitTx(t)
	res, err := f.engine.SealNextBlock(ctx, "pw")
	if err != nil {
		t.Fatal(err)
	}

	genesis, err := f.ledger.BlockByIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.engine.ValidateBlock(&res.Block, &genesis); err != nil {
		t.Errorf("sealed block failed validation: %v", err)
	}
	if err := f.engine.ValidateBlockStrict(ctx, &res.Block, &genesis); err != nil {
		t.Errorf("sealed block failed strict validation: %v", err)
	}

	// Deactivation must not invalidate historical blocks.
	if err := f.registry.Deactivate(ctx, v.ID.String()); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.ValidateBlock(&res.Block, &genesis); err != nil {
		t.Errorf("deactivated validator invalidated an old block: %v", err)
	}
	if err := f.engine.ValidateBlockStrict(ctx, &res.Block, &genesis); err != nil {
		t.Errorf("strict validation requires registration, not activity: %v", err)
	}

	tampered := res.Block
	tampered.ValidatorSignature = ""
	if err := f.engine.ValidateBlock(&tampered, &genesis); !errors.Is(err, ledger.ErrInvalidBlockSignature) {
		t.Errorf("missing signature: got %v, want ErrInvalidBlockSignature", err)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.registry.Register(ctx, "v", "pw", "", 0); err != nil {
		t.Fatal(err)
	}
	f.submitTx(t)

	st := f.engine.Status(ctx)
	if st.ChainHeight != 1 || st.Pending != 1 || st.ActiveValidatorCount != 1 {
		t.Errorf("status: %+v", st)
	}
	if st.HeadHash == "" || st.CurrentProposerID == "" {
		t.Error("status missing head hash or proposer")
	}
}
