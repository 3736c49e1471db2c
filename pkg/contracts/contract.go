// Copyright 2025 AidTrace Project
//
// Smart-contract framework types. A contract is anything offering
// identity plus two deterministic behaviors: an applicability check
// and an execution step that proposes a state delta.

package contracts

import (
	"github.com/aidtrace/aid-ledger/pkg/ledger"
)

// Context carries the inputs of one contract execution. Handlers must
// treat it as read-only.
type Context struct {
	// Transaction is the domain event that triggered execution.
	Transaction ledger.Transaction

	// Block is the containing block, when the transaction is already
	// sealed. Nil for pre-submission runs.
	Block *ledger.Block

	// Data carries caller-supplied orchestration values, e.g. the
	// assigned recipient for delivery verification.
	Data map[string]string
}

// Event is emitted inside a result; the engine never post-processes
// events.
type Event struct {
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Result is the outcome of one execution. A failed result carries an
// error message and never a state delta.
type Result struct {
	ContractID string            `json:"contract_id"`
	Success    bool              `json:"success"`
	Output     string            `json:"output,omitempty"`
	StateDelta map[string]string `json:"state_delta,omitempty"`
	Events     []Event           `json:"events,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Contract is a deterministic per-transaction handler with isolated
// state.
type Contract interface {
	ID() string
	Name() string
	Version() string
	Description() string

	// CanExecute reports whether the contract applies to the context.
	// Pure, total, deterministic.
	CanExecute(ctx *Context) bool

	// Execute runs the handler against a read-only view of the
	// contract's current state. Deterministic given ctx and state.
	Execute(ctx *Context, state map[string]string) Result
}

// failure builds a failed result for a contract.
func failure(contractID, msg string, events ...Event) Result {
	return Result{ContractID: contractID, Success: false, Error: msg, Events: events}
}
