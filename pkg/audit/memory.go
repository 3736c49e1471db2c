// Copyright 2025 AidTrace Project
//
// In-memory audit repository for bootstrap deployments and tests.

package audit

import (
	"context"
	"sync"
)

// MemoryRepository holds audit records in insertion order.
type MemoryRepository struct {
	mu   sync.Mutex
	rows []*Record
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MemoryRepository) Query(ctx context.Context, f Filter) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Record
	for _, rec := range r.rows {
		if !matches(rec, f) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func matches(rec *Record, f Filter) bool {
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.PrincipalID != "" && rec.PrincipalID != f.PrincipalID {
		return false
	}
	if f.EntityID != "" && rec.EntityID != f.EntityID {
		return false
	}
	if f.Success != nil && rec.IsSuccess != *f.Success {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	return true
}
