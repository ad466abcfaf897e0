// Package trust implements the signed trust chain (spec §4.J): a linear
// commit chain gating which writers a sync peer accepts.
package trust

import (
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objhash"
)

// Schema is the trust record wire-format version.
const Schema = 5

// RecordType is the closed union of trust-chain operations.
type RecordType string

const (
	KeyAdd           RecordType = "KEY_ADD"
	KeyRevoke        RecordType = "KEY_REVOKE"
	WriterBindAdd    RecordType = "WRITER_BIND_ADD"
	WriterBindRevoke RecordType = "WRITER_BIND_REVOKE"
	PolicySet        RecordType = "POLICY_SET"
)

// Signature is the structural envelope a record must carry (cryptographic
// verification happens separately, during chain evaluation, since the
// active key set is itself derived by folding the chain).
type Signature struct {
	Alg string `codec:"alg"`
	Sig []byte `codec:"sig"`
}

// Record is one entry in the trust chain.
type Record struct {
	SchemaVersion int         `codec:"schema"`
	Prev          string      `codec:"prev"` // recordId of the previous record, "" for genesis
	RecordID      string      `codec:"record_id"`
	Type          RecordType  `codec:"type"`
	Issuer        string      `codec:"issuer"`
	Payload       interface{} `codec:"payload"`
	Signature     *Signature  `codec:"signature,omitempty"`
}

// KeyAddPayload binds a named key id to raw key material.
type KeyAddPayload struct {
	KeyID string `codec:"key_id"`
	Key   []byte `codec:"key"`
}

// KeyRevokePayload revokes a previously-added key.
type KeyRevokePayload struct {
	KeyID string `codec:"key_id"`
}

// WriterBindPayload binds (or unbinds) a writer id to a key id.
type WriterBindPayload struct {
	WriterID string `codec:"writer_id"`
	KeyID    string `codec:"key_id"`
}

// PolicySetPayload carries opaque policy configuration, interpreted by the
// host application.
type PolicySetPayload struct {
	Policy interface{} `codec:"policy"`
}

// recomputeRecordID returns the content address of rec with RecordID and
// Signature cleared, the canonical form I7 defines recordId over.
func recomputeRecordID(rec Record) (string, error) {
	rec.RecordID = ""
	rec.Signature = nil
	oid, err := objhash.HashCanonical(rec)
	if err != nil {
		return "", errs.InternalWrap(err, "hash trust record")
	}
	return string(oid), nil
}

// ValidateShape checks the record's RecordType is known and its payload is
// structurally present; it does not check signatures or chain linkage.
func (r *Record) ValidateShape() error {
	switch r.Type {
	case KeyAdd, KeyRevoke, WriterBindAdd, WriterBindRevoke, PolicySet:
	default:
		return errs.Newf(errs.TrustRecordInvalid, errs.SeverityHigh, "unknown trust record type %q", r.Type)
	}
	if r.Payload == nil {
		return errs.Newf(errs.TrustRecordInvalid, errs.SeverityHigh, "trust record %s missing payload", r.Type)
	}
	return nil
}
