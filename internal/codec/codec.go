// Package codec implements the canonical CBOR-like encoding used everywhere
// the engine needs byte-identical output across peers: patch blobs,
// checkpoint blobs, trust records, and the sync wire protocol (spec §4.A).
//
// Encoding is delegated to github.com/ugorji/go/codec's CBOR handle with
// Canonical mode enabled, which sorts map keys by encoded-key length first
// and lexicographic byte order second — exactly the canonical-CBOR §3.9
// profile the spec calls for. This package only fixes the handle's knobs and
// exposes a small Encode/Decode surface; it does not reimplement CBOR.
package codec

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// handle is shared read-only after init; ugorji's Handle is safe for
// concurrent Encoder/Decoder use once configured.
var handle = newHandle()

func newHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	h.StructToArray = false
	h.SignedInteger = true
	return h
}

// Encode canonically serializes v. Maps and struct fields are emitted with
// deterministic key ordering; two peers encoding the equal value produce
// byte-identical output (P4).
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is the left inverse of Encode: decode(encode(v)) reproduces v's
// structure modulo representation-equivalent forms (e.g. map insertion order
// is not preserved, since maps have none).
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, handle)
	return dec.Decode(v)
}

// Value is the generic shape property values and decoded-but-untyped CBOR
// data take: any of nil, bool, int64, uint64, float64, []byte, string,
// []Value, or map[string]Value.
type Value = interface{}
