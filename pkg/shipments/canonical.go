// Copyright 2025 AidTrace Project
//
// Canonical JSON payloads. The canonical form is the signing input, so
// any reserialization preserving JSON equality must reproduce it:
// UTF-8, keys sorted, timestamps RFC3339 UTC.

package shipments

import (
	"encoding/json"
	"fmt"
	"time"
)

// CanonicalMarshal serializes a flat key/value document with sorted
// keys. encoding/json already emits map keys in sorted order and uses
// the shortest number representation.
func CanonicalMarshal(doc map[string]any) (string, error) {
	for k, v := range doc {
		if t, ok := v.(time.Time); ok {
			doc[k] = t.UTC().Format(time.RFC3339)
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical payload: %w", err)
	}
	return string(raw), nil
}

// ExtractEntityIDs pulls the shipment id out of a transaction payload
// for side-index maintenance. Unparseable payloads index nothing.
func ExtractEntityIDs(payload string) []string {
	var doc struct {
		ShipmentID string `json:"shipment_id"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil
	}
	if doc.ShipmentID == "" {
		return nil
	}
	return []string{doc.ShipmentID}
}
