// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used on the bridge IPC
// socket. Encoding is Core Deterministic (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items, so the
// same logical request always produces identical bytes. Decoding
// ignores unknown fields for forward compatibility between daemon and
// bridge binaries built at different versions.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Custos never uses non-string map keys. When decoding into an
		// any-typed target the decoder must pick a concrete map type;
		// the CBOR default map[any]any is incompatible with most Go
		// code, so force map[string]any. Struct decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of
// handler-specific request fields.
type RawMessage = cbor.RawMessage

// Encoder is a CBOR stream encoder. Alias so consumers import only
// lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a stream encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
