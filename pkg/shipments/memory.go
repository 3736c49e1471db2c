// Copyright 2025 AidTrace Project
//
// In-memory shipment repository.

package shipments

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository keeps shipment rows in a mutex-guarded map.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Shipment
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*Shipment)}
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShipmentNotFound, id)
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Shipment, 0, len(r.rows))
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Add(ctx context.Context, s *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[s.ID]; exists {
		return fmt.Errorf("shipment %s already exists", s.ID)
	}
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, s *Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[s.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrShipmentNotFound, s.ID)
	}
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[id]; !exists {
		return fmt.Errorf("%w: %s", ErrShipmentNotFound, id)
	}
	delete(r.rows, id)
	return nil
}
