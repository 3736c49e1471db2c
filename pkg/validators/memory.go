// Copyright 2025 AidTrace Project
//
// In-memory validator repository for bootstrap deployments and tests.

package validators

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps validator rows in a mutex-guarded map.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Validator // keyed by id
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Validator)}
}

func (r *MemoryRepository) Add(ctx context.Context, v *Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Name == v.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, v.Name)
		}
		if row.PublicKey == v.PublicKey {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, v.Name)
		}
	}
	cp := *v
	r.rows[v.ID.String()] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrValidatorNotFound, id)
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) GetByName(ctx context.Context, name string) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Name == name {
			cp := *row
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrValidatorNotFound, name)
}

func (r *MemoryRepository) GetByPublicKey(ctx context.Context, publicKey string) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.PublicKey == publicKey {
			cp := *row
			return &cp, nil
		}
	}
	return nil, ErrValidatorNotFound
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Validator, 0, len(r.rows))
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) GetActiveOrdered(ctx context.Context) ([]*Validator, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, v := range all {
		if v.IsActive {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) NextProposer(ctx context.Context) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := r.nextProposerLocked()
	if best == nil {
		return nil, ErrNoValidators
	}
	cp := *best
	return &cp, nil
}

// nextProposerLocked picks the round-robin winner. Caller holds the
// lock.
func (r *MemoryRepository) nextProposerLocked() *Validator {
	var best *Validator
	for _, row := range r.rows {
		if !row.IsActive {
			continue
		}
		if best == nil || lessProposer(row, best) {
			best = row
		}
	}
	return best
}

// lessProposer orders by (total_blocks_created, priority, created_at).
func lessProposer(a, b *Validator) bool {
	if a.TotalBlocksCreated != b.TotalBlocksCreated {
		return a.TotalBlocksCreated < b.TotalBlocksCreated
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *MemoryRepository) SealWithNextProposer(ctx context.Context, seal func(v *Validator) error) (*Validator, error) {
	// The lock spans selection, seal and the statistics update, the
	// in-memory equivalent of the Postgres row-lock transaction.
	r.mu.Lock()
	defer r.mu.Unlock()

	best := r.nextProposerLocked()
	if best == nil {
		return nil, ErrNoValidators
	}
	cp := *best
	if err := seal(&cp); err != nil {
		return &cp, err
	}

	best.TotalBlocksCreated++
	now := time.Now().UTC()
	best.LastBlockCreatedAt = &now
	return &cp, nil
}

func (r *MemoryRepository) Update(ctx context.Context, v *Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[v.ID.String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrValidatorNotFound, v.ID)
	}
	row.Address = v.Address
	row.IsActive = v.IsActive
	row.Priority = v.Priority
	return nil
}
