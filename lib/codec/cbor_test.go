// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestRoundTripStruct(t *testing.T) {
	type request struct {
		Action   string `cbor:"action"`
		BridgeID string `cbor:"bridge_id,omitempty"`
	}

	in := request{Action: "get-credential", BridgeID: "telegram"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var out request
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	value := map[string]any{"b": 2, "a": 1, "c": "x"}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same value produced different encodings")
	}
}

func TestAnyDecodingUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}

	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "ping", "future_field": true})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var out struct {
		Action string `cbor:"action"`
	}
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() with unknown field error: %v", err)
	}
	if out.Action != "ping" {
		t.Errorf("Action = %q, want %q", out.Action, "ping")
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	if err := NewEncoder(&buffer).Encode("hello"); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if err := NewEncoder(&buffer).Encode(42); err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	decoder := NewDecoder(&buffer)
	var s string
	if err := decoder.Decode(&s); err != nil || s != "hello" {
		t.Fatalf("Decode() = %q, %v", s, err)
	}
	var n int
	if err := decoder.Decode(&n); err != nil || n != 42 {
		t.Fatalf("Decode() = %d, %v", n, err)
	}
}
