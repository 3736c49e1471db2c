// Copyright 2025 AidTrace Project
//
// Background sealing loop. On every tick, seal a block when enough
// transactions are pending. Per-tick failures are logged and counted;
// the loop only stops on context cancellation.

package sealer

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aidtrace/aid-ledger/pkg/consensus"
	"github.com/aidtrace/aid-ledger/pkg/ledger"
	"github.com/aidtrace/aid-ledger/pkg/validators"
)

var (
	tickFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aidledger_seal_tick_failures_total",
		Help: "Sealing ticks that failed.",
	})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aidledger_pending_transactions",
		Help: "Transactions waiting in the pending pool.",
	})
)

// Config controls the loop cadence and thresholds.
type Config struct {
	Enabled       bool
	Interval      time.Duration
	MinTxPerBlock int
	Passphrase    string
}

// Sealer runs the periodic block production task.
type Sealer struct {
	engine   *consensus.Engine
	cfg      Config
	logger   *log.Logger
	failures atomic.Uint64
}

// New creates a sealer. Zero-value cadence fields fall back to the 30s
// interval and a one-transaction threshold.
func New(engine *consensus.Engine, cfg Config, logger *log.Logger) *Sealer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinTxPerBlock <= 0 {
		cfg.MinTxPerBlock = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Sealer] ", log.LstdFlags)
	}
	return &Sealer{engine: engine, cfg: cfg, logger: logger}
}

// Failures returns how many ticks have failed since start.
func (s *Sealer) Failures() uint64 {
	return s.failures.Load()
}

// Run blocks until ctx is cancelled, sealing on each tick. A tick in
// flight completes before Run returns.
func (s *Sealer) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Println("Automated block creation disabled")
		return
	}

	s.logger.Printf("Sealing loop started (interval %s, min %d tx)", s.cfg.Interval, s.cfg.MinTxPerBlock)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Sealing loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Start launches Run on its own goroutine.
func (s *Sealer) Start(ctx context.Context) {
	go s.Run(ctx)
}

// tick seals at most one block. Every failure is swallowed here; the
// loop never aborts.
func (s *Sealer) tick(ctx context.Context) {
	pending := s.engine.Ledger().PendingCount()
	pendingGauge.Set(float64(pending))
	if pending < s.cfg.MinTxPerBlock {
		return
	}

	res, err := s.engine.SealNextBlock(ctx, s.cfg.Passphrase)
	if err != nil {
		s.failures.Add(1)
		tickFailures.Inc()
		switch {
		case errors.Is(err, ledger.ErrEmptyPool), errors.Is(err, validators.ErrNoValidators):
			// Availability errors clear themselves; just wait for the
			// next tick.
			s.logger.Printf("Tick skipped: %v", err)
		default:
			s.logger.Printf("WARNING: sealing tick failed: %v", err)
		}
		return
	}
	pendingGauge.Set(float64(s.engine.Ledger().PendingCount()))
	s.logger.Printf("Tick sealed block %d (%d tx)", res.Block.Index, res.TransactionCount)
}
