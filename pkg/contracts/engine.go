// Copyright 2025 AidTrace Project
//
// Contract engine: deployment registry, per-contract state and the
// execute paths. State deltas commit atomically under the contract's
// lock; a failed result leaves state untouched.

package contracts

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

var (
	// ErrContractNotFound is returned for unknown contract ids.
	ErrContractNotFound = errors.New("contract not found")

	// ErrDuplicateContract is returned when deploying an id twice.
	ErrDuplicateContract = errors.New("contract id already deployed")
)

// deployed pairs a contract with its isolated state.
type deployed struct {
	contract Contract
	mu       sync.Mutex
	state    map[string]string
}

// Engine holds the deployed contracts in deployment order.
type Engine struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]*deployed
	logger *log.Logger
}

// NewEngine creates an empty contract engine.
func NewEngine(logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Contracts] ", log.LstdFlags)
	}
	return &Engine{byID: make(map[string]*deployed), logger: logger}
}

// Deploy registers a contract. Ids must be unique.
func (e *Engine) Deploy(c Contract) error {
	if c.ID() == "" {
		return fmt.Errorf("contract id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byID[c.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateContract, c.ID())
	}
	e.byID[c.ID()] = &deployed{contract: c, state: make(map[string]string)}
	e.order = append(e.order, c.ID())
	e.logger.Printf("Deployed contract %s (%s %s)", c.ID(), c.Name(), c.Version())
	return nil
}

// Undeploy removes a contract and discards its state.
func (e *Engine) Undeploy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.byID[id]; !exists {
		return fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	delete(e.byID, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a deployed contract.
func (e *Engine) Get(id string) (Contract, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	return d.contract, nil
}

// All returns the deployed contracts in deployment order.
func (e *Engine) All() []Contract {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Contract, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.byID[id].contract)
	}
	return out
}

// State returns a copy of a contract's current state.
func (e *Engine) State(id string) (map[string]string, error) {
	e.mu.RLock()
	d, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.state))
	for k, v := range d.state {
		out[k] = v
	}
	return out, nil
}

// Execute runs one contract against the context and commits its state
// delta on success.
func (e *Engine) Execute(id string, ctx *Context) (Result, error) {
	e.mu.RLock()
	d, ok := e.byID[id]
	e.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrContractNotFound, id)
	}
	return e.run(d, ctx), nil
}

// ExecuteApplicable runs every deployed contract whose CanExecute is
// true, in deployment order, and collects the results. Failures are
// reported in the result vector, never propagated.
func (e *Engine) ExecuteApplicable(ctx *Context) []Result {
	e.mu.RLock()
	ordered := make([]*deployed, 0, len(e.order))
	for _, id := range e.order {
		ordered = append(ordered, e.byID[id])
	}
	e.mu.RUnlock()

	var results []Result
	for _, d := range ordered {
		if !d.contract.CanExecute(ctx) {
			continue
		}
		results = append(results, e.run(d, ctx))
	}
	return results
}

// run executes a contract under its lock and applies the delta if the
// result succeeded.
func (e *Engine) run(d *deployed, ctx *Context) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := make(map[string]string, len(d.state))
	for k, v := range d.state {
		view[k] = v
	}

	res := d.contract.Execute(ctx, view)
	res.ContractID = d.contract.ID()
	if res.Success {
		for k, v := range res.StateDelta {
			d.state[k] = v
		}
	}
	return res
}
