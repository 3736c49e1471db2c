// Copyright 2025 AidTrace Project
//
// KV side index over the chain: transaction id -> block index, and
// entity id -> transaction ids. The chain itself stays the source of
// truth; the index is rebuildable at any time.

package ledger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// KV defines the key-value store interface the index writes through.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// ====== KV Key Layout ======

var (
	keyTxPrefix     = []byte("txidx:")   // + tx id -> big-endian block index
	keyEntityPrefix = []byte("entidx:")  // + entity id -> JSON [tx ids]
	keyIndexedHead  = []byte("idx:head") // -> big-endian highest indexed block
)

func txKey(id string) []byte {
	return append(append([]byte{}, keyTxPrefix...), []byte(id)...)
}

func entityKey(id string) []byte {
	return append(append([]byte{}, keyEntityPrefix...), []byte(id)...)
}

// Index maintains the side lookups in a KV store.
type Index struct {
	kv KV
}

// NewIndex creates an index over the given store.
func NewIndex(kv KV) *Index {
	return &Index{kv: kv}
}

// IndexBlock records every transaction of a freshly appended block.
// extract may be nil, in which case only the transaction index is
// maintained.
func (x *Index) IndexBlock(b *Block, extract func(Transaction) []string) error {
	for i := range b.Transactions {
		tx := &b.Transactions[i]

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(b.Index))
		if err := x.kv.Set(txKey(tx.ID), buf); err != nil {
			return fmt.Errorf("failed to index transaction %s: %w", tx.ID, err)
		}

		if extract == nil {
			continue
		}
		for _, entityID := range extract(*tx) {
			if entityID == "" {
				continue
			}
			if err := x.appendEntityTx(entityID, tx.ID); err != nil {
				return err
			}
		}
	}

	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, uint64(b.Index))
	return x.kv.Set(keyIndexedHead, head)
}

// appendEntityTx adds a transaction id to an entity's list, keeping
// insertion order and skipping ids already present.
func (x *Index) appendEntityTx(entityID, txID string) error {
	ids, err := x.LookupEntity(entityID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == txID {
			return nil
		}
	}
	ids = append(ids, txID)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal entity index: %w", err)
	}
	if err := x.kv.Set(entityKey(entityID), raw); err != nil {
		return fmt.Errorf("failed to write entity index for %s: %w", entityID, err)
	}
	return nil
}

// LookupTransaction returns the block index holding the transaction.
func (x *Index) LookupTransaction(txID string) (int, bool, error) {
	raw, err := x.kv.Get(txKey(txID))
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, nil
	}
	return int(binary.BigEndian.Uint64(raw)), true, nil
}

// LookupEntity returns the transaction ids recorded for an entity, in
// insertion order. A missing entry yields a nil slice and no error.
func (x *Index) LookupEntity(entityID string) ([]string, error) {
	raw, err := x.kv.Get(entityKey(entityID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("corrupt entity index for %s: %w", entityID, err)
	}
	return ids, nil
}

// Rebuild re-indexes the whole chain. Existing entries are overwritten;
// entity lists are reconstructed from scratch in chain order.
func (x *Index) Rebuild(chain []Block, extract func(Transaction) []string) error {
	seen := make(map[string][]string)
	for i := range chain {
		b := &chain[i]
		for j := range b.Transactions {
			tx := &b.Transactions[j]

			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(b.Index))
			if err := x.kv.Set(txKey(tx.ID), buf); err != nil {
				return fmt.Errorf("failed to index transaction %s: %w", tx.ID, err)
			}
			if extract == nil {
				continue
			}
			for _, entityID := range extract(*tx) {
				if entityID == "" {
					continue
				}
				dup := false
				for _, id := range seen[entityID] {
					if id == tx.ID {
						dup = true
						break
					}
				}
				if !dup {
					seen[entityID] = append(seen[entityID], tx.ID)
				}
			}
		}
	}
	for entityID, ids := range seen {
		raw, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("failed to marshal entity index: %w", err)
		}
		if err := x.kv.Set(entityKey(entityID), raw); err != nil {
			return fmt.Errorf("failed to write entity index for %s: %w", entityID, err)
		}
	}

	if len(chain) > 0 {
		head := make([]byte, 8)
		binary.BigEndian.PutUint64(head, uint64(chain[len(chain)-1].Index))
		return x.kv.Set(keyIndexedHead, head)
	}
	return nil
}
