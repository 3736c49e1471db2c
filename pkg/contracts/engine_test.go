package contracts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aidtrace/aid-ledger/pkg/ledger"
)

func txOf(t *testing.T, txType, payload string) ledger.Transaction {
	t.Helper()
	return ledger.Transaction{
		ID:              uuid.NewString(),
		Type:            txType,
		Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SenderPublicKey: "sender-key",
		Payload:         payload,
	}
}

func hasEvent(res Result, name string) bool {
	for _, ev := range res.Events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func TestDeployUndeploy(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}
	if err := e.Deploy(NewShipmentTracking()); !errors.Is(err, ErrDuplicateContract) {
		t.Errorf("duplicate deploy: got %v, want ErrDuplicateContract", err)
	}
	if err := e.Deploy(NewDeliveryVerification()); err != nil {
		t.Fatal(err)
	}

	all := e.All()
	if len(all) != 2 || all[0].ID() != "shipment-tracking" || all[1].ID() != "delivery-verification" {
		t.Error("All() did not preserve deployment order")
	}

	if err := e.Undeploy("shipment-tracking"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get("shipment-tracking"); !errors.Is(err, ErrContractNotFound) {
		t.Errorf("undeployed contract still resolvable: %v", err)
	}
	if err := e.Undeploy("missing"); !errors.Is(err, ErrContractNotFound) {
		t.Errorf("undeploy missing: got %v, want ErrContractNotFound", err)
	}
}

func TestShipmentCreationSeedsState(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}

	ctx := &Context{Transaction: txOf(t, ledger.TxShipmentCreated,
		`{"shipment_id":"sh-1","origin":"Warehouse A","destination":"Camp B","recipient_id":"r-1","created_by":"c-1"}`)}
	res, err := e.Execute("shipment-tracking", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("creation failed: %s", res.Error)
	}

	state, err := e.State("shipment-tracking")
	if err != nil {
		t.Fatal(err)
	}
	if state["shipment_sh-1_status"] != StatusCreated {
		t.Errorf("status: got %q, want Created", state["shipment_sh-1_status"])
	}
	if state["shipment_sh-1_createdBy"] != "c-1" {
		t.Errorf("createdBy not seeded: %q", state["shipment_sh-1_createdBy"])
	}
	if state["shipment_sh-1_createdAt"] == "" {
		t.Error("createdAt not seeded")
	}
}

func TestShipmentCreationAutoValidates(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}

	ctx := &Context{Transaction: txOf(t, ledger.TxShipmentCreated,
		`{"shipment_id":"sh-2","origin":"A","destination":"B","recipient_id":"r-1","items":["rice","tents"]}`)}
	res, err := e.Execute("shipment-tracking", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !hasEvent(res, EventShipmentAutoValidated) {
		t.Fatalf("expected auto-validation: %+v", res)
	}
	state, _ := e.State("shipment-tracking")
	if state["shipment_sh-2_status"] != StatusValidated {
		t.Errorf("status: got %q, want Validated", state["shipment_sh-2_status"])
	}
}

func TestShipmentCreationMissingFields(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}
	ctx := &Context{Transaction: txOf(t, ledger.TxShipmentCreated, `{"shipment_id":"sh-3"}`)}
	res, err := e.Execute("shipment-tracking", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("creation succeeded without required fields")
	}
	state, _ := e.State("shipment-tracking")
	if len(state) != 0 {
		t.Error("failed execution mutated state")
	}
}

func TestStatusTransitionChain(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}

	create := &Context{Transaction: txOf(t, ledger.TxShipmentCreated,
		`{"shipment_id":"sh-4","origin":"A","destination":"B","recipient_id":"r-1"}`)}
	if res, _ := e.Execute("shipment-tracking", create); !res.Success {
		t.Fatalf("creation failed: %s", res.Error)
	}

	steps := []string{StatusValidated, StatusInTransit, StatusDelivered, StatusConfirmed}
	for _, next := range steps {
		ctx := &Context{Transaction: txOf(t, ledger.TxStatusUpdated,
			fmt.Sprintf(`{"shipment_id":"sh-4","new_status":%q}`, next))}
		res, err := e.Execute("shipment-tracking", ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success {
			t.Fatalf("transition to %s failed: %s", next, res.Error)
		}
		if next == StatusDelivered && !hasEvent(res, EventShipmentReachedDestination) {
			t.Error("entering Delivered did not emit ShipmentReachedDestination")
		}
	}

	// Confirmed is terminal.
	ctx := &Context{Transaction: txOf(t, ledger.TxStatusUpdated,
		`{"shipment_id":"sh-4","new_status":"Created"}`)}
	res, _ := e.Execute("shipment-tracking", ctx)
	if res.Success || !hasEvent(res, EventInvalidStateTransition) {
		t.Errorf("transition out of Confirmed accepted: %+v", res)
	}
}

func TestInvalidTransitionSkipsStates(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}

	create := &Context{Transaction: txOf(t, ledger.TxShipmentCreated,
		`{"shipment_id":"sh-5","origin":"A","destination":"B","recipient_id":"r-1"}`)}
	if res, _ := e.Execute("shipment-tracking", create); !res.Success {
		t.Fatal(res.Error)
	}

	// Created -> Delivered skips two states.
	ctx := &Context{Transaction: txOf(t, ledger.TxStatusUpdated,
		`{"shipment_id":"sh-5","new_status":"Delivered"}`)}
	res, err := e.Execute("shipment-tracking", ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("skipping transition accepted")
	}
	if !hasEvent(res, EventInvalidStateTransition) {
		t.Error("missing InvalidStateTransition event")
	}
	state, _ := e.State("shipment-tracking")
	if state["shipment_sh-5_status"] != StatusCreated {
		t.Errorf("failed transition mutated state: %q", state["shipment_sh-5_status"])
	}
}

func TestDeliveryVerification(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewDeliveryVerification()); err != nil {
		t.Fatal(err)
	}

	payload := `{"shipment_id":"sh-6","recipient_id":"r-1","qr_token":"tok-123","confirmed_at":"2025-06-01T12:00:00Z"}`

	cases := []struct {
		name      string
		data      map[string]string
		success   bool
		wantEvent string
	}{
		{
			"verified on time",
			map[string]string{
				DataAssignedRecipient: "r-1",
				DataExpectedQRToken:   "tok-123",
				DataExpectedDelivery:  "2025-06-02T00:00:00Z",
			},
			true, EventDeliveryVerified,
		},
		{
			"wrong recipient",
			map[string]string{DataAssignedRecipient: "r-2"},
			false, "",
		},
		{
			"qr mismatch",
			map[string]string{
				DataAssignedRecipient: "r-1",
				DataExpectedQRToken:   "tok-999",
			},
			false, EventQRCodeVerificationFailed,
		},
		{
			"delayed delivery",
			map[string]string{
				DataAssignedRecipient: "r-1",
				DataExpectedDelivery:  "2025-05-30T00:00:00Z",
			},
			true, EventDeliveryDelayed,
		},
	}

	for _, tc := range cases {
		ctx := &Context{
			Transaction: txOf(t, ledger.TxDeliveryConfirmed, payload),
			Data:        tc.data,
		}
		res, err := e.Execute("delivery-verification", ctx)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Success != tc.success {
			t.Errorf("%s: success=%v, want %v (%s)", tc.name, res.Success, tc.success, res.Error)
		}
		if tc.wantEvent != "" && !hasEvent(res, tc.wantEvent) {
			t.Errorf("%s: missing event %s", tc.name, tc.wantEvent)
		}
	}
}

func TestExecuteApplicableOrderAndIsolation(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Deploy(NewShipmentTracking()); err != nil {
		t.Fatal(err)
	}
	if err := e.Deploy(NewDeliveryVerification()); err != nil {
		t.Fatal(err)
	}

	// ShipmentCreated applies to tracking only.
	created := &Context{Transaction: txOf(t, ledger.TxShipmentCreated,
		`{"shipment_id":"sh-7","origin":"A","destination":"B","recipient_id":"r-1"}`)}
	results := e.ExecuteApplicable(created)
	if len(results) != 1 || results[0].ContractID != "shipment-tracking" {
		t.Fatalf("unexpected applicable set: %+v", results)
	}

	// DeliveryConfirmed applies to verification only.
	confirmed := &Context{
		Transaction: txOf(t, ledger.TxDeliveryConfirmed,
			`{"shipment_id":"sh-7","recipient_id":"r-1"}`),
		Data: map[string]string{DataAssignedRecipient: "r-1"},
	}
	results = e.ExecuteApplicable(confirmed)
	if len(results) != 1 || results[0].ContractID != "delivery-verification" {
		t.Fatalf("unexpected applicable set: %+v", results)
	}

	// Contract states are isolated from each other.
	tracking, _ := e.State("shipment-tracking")
	verification, _ := e.State("delivery-verification")
	if _, ok := tracking["shipment_sh-7_delivery"]; ok {
		t.Error("verification delta leaked into tracking state")
	}
	if _, ok := verification["shipment_sh-7_status"]; ok {
		t.Error("tracking delta leaked into verification state")
	}
}
