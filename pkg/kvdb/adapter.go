// Copyright 2025 AidTrace Project
//
// KV adapter over cometbft-db so the ledger side index can run on any
// of its backends (GoLevelDB on disk, memdb in tests and bootstrap).

package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// Adapter wraps a dbm.DB and exposes the ledger.KV interface.
type Adapter struct {
	db dbm.DB
}

// NewAdapter creates a new Adapter for the given underlying DB.
func NewAdapter(db dbm.DB) *Adapter {
	return &Adapter{db: db}
}

// NewMem returns an adapter over an in-memory backend.
func NewMem() *Adapter {
	return &Adapter{db: dbm.NewMemDB()}
}

// NewGoLevelDB opens (or creates) a GoLevelDB-backed adapter named
// name under dir.
func NewGoLevelDB(name, dir string) (*Adapter, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, err
	}
	return &Adapter{db: db}, nil
}

// Get implements ledger.KV.Get. A missing key yields (nil, nil).
func (a *Adapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Get(key)
}

// Set implements ledger.KV.Set with a durable write.
func (a *Adapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Close releases the underlying store.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
