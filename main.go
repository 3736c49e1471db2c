// Copyright 2025 AidTrace Project
//
// Aid ledger node entry point. Explicit construction, no container:
// config -> storage -> ledger -> vault -> registry -> contracts ->
// consensus -> sealer -> HTTP.

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aidtrace/aid-ledger/pkg/audit"
	"github.com/aidtrace/aid-ledger/pkg/config"
	"github.com/aidtrace/aid-ledger/pkg/consensus"
	"github.com/aidtrace/aid-ledger/pkg/contracts"
	"github.com/aidtrace/aid-ledger/pkg/database"
	"github.com/aidtrace/aid-ledger/pkg/kvdb"
	"github.com/aidtrace/aid-ledger/pkg/ledger"
	"github.com/aidtrace/aid-ledger/pkg/sealer"
	"github.com/aidtrace/aid-ledger/pkg/server"
	"github.com/aidtrace/aid-ledger/pkg/shipments"
	"github.com/aidtrace/aid-ledger/pkg/snapshot"
	"github.com/aidtrace/aid-ledger/pkg/validators"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

func main() {
	logger := log.New(os.Stdout, "[Node] ", log.LstdFlags)

	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	cfg, err := config.MergeFileWithEnv(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	// Database-backed repositories when a DATABASE_URL is present,
	// in-memory otherwise.
	var validatorRepo validators.Repository
	var auditRepo audit.Repository
	if cfg.DatabaseURL != "" {
		client, err := database.NewClient(cfg.DatabaseURL, database.Options{
			MaxOpenConns:    cfg.DatabaseMaxConns,
			MaxIdleConns:    cfg.DatabaseMinConns,
			ConnMaxIdleTime: cfg.DatabaseMaxIdleTime,
			ConnMaxLifetime: cfg.DatabaseMaxLifetime,
		}, nil)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer client.Close()
		if err := client.MigrateUp(context.Background()); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}
		validatorRepo = validators.NewPostgresRepository(client)
		auditRepo = audit.NewPostgresRepository(client)
	} else {
		logger.Println("No DATABASE_URL set, using in-memory repositories")
		validatorRepo = validators.NewMemoryRepository()
		auditRepo = audit.NewMemoryRepository()
	}

	sink := audit.NewSink(auditRepo, 256, nil)
	defer sink.Close()

	// KV store for the side index: GoLevelDB on disk, memdb when no
	// data directory is configured.
	var kv *kvdb.Adapter
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			logger.Fatalf("Failed to create data directory: %v", err)
		}
		kv, err = kvdb.NewGoLevelDB("chainindex", cfg.DataDir)
		if err != nil {
			logger.Fatalf("Failed to open index store: %v", err)
		}
	} else {
		kv = kvdb.NewMem()
	}
	defer kv.Close()

	chain := ledger.New(ledger.Options{
		ValidateTransactionSignatures: cfg.ValidateTransactionSignatures,
		ValidateBlockSignatures:       cfg.ValidateBlockSignatures,
		MaxBlockTransactions:          cfg.Consensus.MaximumTransactionsPerBlock,
		EntityIDExtractor: func(tx ledger.Transaction) []string {
			return shipments.ExtractEntityIDs(tx.Payload)
		},
	}, kv, nil)

	// Snapshot persistence with optional auto-load.
	var store *snapshot.Store
	if cfg.Persistence.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Persistence.FilePath), 0o755); err != nil {
			logger.Fatalf("Failed to create persistence directory: %v", err)
		}
		store = snapshot.NewStore(cfg.Persistence.FilePath,
			cfg.Persistence.CreateBackup, cfg.Persistence.MaxBackupFiles, nil)
		if cfg.Persistence.AutoLoadOnStartup && store.Available() {
			blocks, pending, err := store.Load()
			if err != nil {
				logger.Fatalf("Failed to load chain snapshot: %v", err)
			}
			if blocks != nil {
				if err := chain.Adopt(blocks, pending); err != nil {
					logger.Fatalf("Loaded snapshot failed validation: %v", err)
				}
				logger.Printf("Restored chain from %s (%d blocks, %d pending)",
					store.Path(), len(blocks), len(pending))
			}
		}
	}

	sessions := vault.NewSessionKeyTable()
	registry := validators.NewRegistry(validatorRepo, nil)

	contractEngine := contracts.NewEngine(nil)
	for _, c := range []contracts.Contract{
		contracts.NewShipmentTracking(),
		contracts.NewDeliveryVerification(),
	} {
		if err := contractEngine.Deploy(c); err != nil {
			logger.Fatalf("Failed to deploy contract %s: %v", c.ID(), err)
		}
	}

	engine := consensus.New(chain, validatorRepo, store, sink,
		cfg.Persistence.Enabled && cfg.Persistence.AutoSaveAfterBlockCreation, nil)

	shipmentSvc := shipments.NewService(shipments.NewMemoryRepository(), chain,
		contractEngine, sessions, sink, cfg.BootstrapMode, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := sealer.New(engine, sealer.Config{
		Enabled:       cfg.Consensus.EnableAutomatedBlockCreation,
		Interval:      time.Duration(cfg.Consensus.BlockCreationIntervalSeconds) * time.Second,
		MinTxPerBlock: cfg.Consensus.MinimumTransactionsPerBlock,
		Passphrase:    cfg.Consensus.ValidatorPassword,
	}, nil)
	loop.Start(ctx)

	// Metrics endpoint on its own listener.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Printf("Metrics listening on %s", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("WARNING: metrics server stopped: %v", err)
		}
	}()

	api := server.New(engine, registry, shipmentSvc, sink, server.HeaderAuthenticator, nil)
	mux := api.Routes()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		logger.Printf("API listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("WARNING: HTTP shutdown: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("WARNING: metrics shutdown: %v", err)
	}

	// Final snapshot so a clean stop never loses the pool.
	if store != nil && cfg.Persistence.AutoSaveAfterBlockCreation {
		if err := store.Save(chain.Chain(), chain.Pending()); err != nil {
			logger.Printf("WARNING: final snapshot failed: %v", err)
		}
	}
	logger.Println("Node stopped")
}
