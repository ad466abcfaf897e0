// Package objhash provides content-address hashing, HMAC, and Ed25519
// signature verification (spec §4.B). It deliberately uses the standard
// library rather than a third-party crypto package — the retrieval pack
// itself models this as the idiomatic choice (see
// orbas1-Synnergy/synnergy-network/core/security.go, which reaches for
// crypto/ed25519, crypto/sha256, and crypto/subtle directly and reserves
// third-party crypto libraries for capabilities stdlib lacks, such as BLS
// aggregation — capabilities this engine does not need).
package objhash

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/rohankatakam/warp/internal/codec"
)

// OID is a content-address: the hex-encoded SHA-256 of an object's bytes.
type OID string

// Hash returns the content address of b.
func Hash(b []byte) OID {
	sum := sha256.Sum256(b)
	return OID(hex.EncodeToString(sum[:]))
}

// HashCanonical canonically encodes v and returns its content address. Used
// for recordId (I7), viewHash, and any other content-addressed structure.
func HashCanonical(v interface{}) (OID, error) {
	data, err := codec.Encode(v)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}

// HMAC computes HMAC-SHA256(key, msg).
func HMAC(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// ConstantTimeEqual compares two byte strings in constant time, for MAC and
// signature comparisons.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// VerifyEd25519 verifies sig over msg under the given 32-byte public key.
func VerifyEd25519(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
