package trust

import (
	"context"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objhash"
	"github.com/rohankatakam/warp/internal/objstore"
)

// LoadEvaluation loads the trust chain, verifies it, and folds it into an
// Evaluation in one step — the usual entry point for sync's trust gate.
// expectedGenesisRecordID is forwarded to VerifyChain; pass "" when the host
// has not pinned a genesis record out-of-band.
func LoadEvaluation(ctx context.Context, store objstore.Store, layout objstore.RefLayout, expectedGenesisRecordID string) (Evaluation, error) {
	records, err := LoadChain(ctx, store, layout)
	if err != nil {
		return Evaluation{}, err
	}
	if err := VerifyChain(records, expectedGenesisRecordID); err != nil {
		return Evaluation{}, err
	}
	return EvaluateWriters(records), nil
}

// LoadChain walks the trust/records ref from its tip back to genesis and
// returns the records in chain order (genesis first).
func LoadChain(ctx context.Context, store objstore.Store, layout objstore.RefLayout) ([]Record, error) {
	sha, err := store.ReadRef(ctx, layout.TrustRecords())
	if err == objstore.ErrRefNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.RefIOWrap(err, "read trust/records")
	}

	var records []Record
	for sha != "" {
		if err := ctx.Err(); err != nil {
			return nil, errs.Newf(errs.Canceled, errs.SeverityMedium, "trust chain walk canceled")
		}
		rec, err := readRecord(ctx, store, sha)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		info, err := store.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read trust commit %s", sha)
		}
		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// VerifyChain checks structural and cryptographic integrity of records,
// assumed to already be in chain order (genesis first): schema version,
// recordId recomputation (I7), prev-linkage (I6), duplicate recordIds, and
// signature validity. A record's signing key must be part of the active key
// set as folded from the chain UP TO BUT NOT INCLUDING that record itself —
// a record can't authorize its own admission.
//
// expectedGenesisRecordID, when non-empty, is the operator's out-of-band
// pinned genesis recordId (config's trust.genesis_record_id). The genesis
// record is self-signed — there is no prior trust anchor to check its
// signing key against — so without this pin any self-signed KEY_ADD would be
// accepted as chain root. When set, the first record's RecordID must match
// exactly or the chain is rejected before any signature is even checked.
func VerifyChain(records []Record, expectedGenesisRecordID string) error {
	if expectedGenesisRecordID != "" && len(records) > 0 && records[0].RecordID != expectedGenesisRecordID {
		return errs.Newf(errs.TrustGenesisPinned, errs.SeverityHigh,
			"genesis record id %s does not match pinned genesis_record_id %s", records[0].RecordID, expectedGenesisRecordID)
	}

	seen := make(map[string]struct{}, len(records))
	keys := make(map[string][]byte) // keyId -> raw key, revoked keys removed
	prev := ""

	for i, rec := range records {
		if rec.SchemaVersion != Schema {
			return errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh,
				"trust record %d schema %d unsupported", i, rec.SchemaVersion)
		}
		if err := rec.ValidateShape(); err != nil {
			return err
		}
		want, err := recomputeRecordID(rec)
		if err != nil {
			return err
		}
		if want != rec.RecordID {
			return errs.Newf(errs.TrustIDMismatch, errs.SeverityHigh,
				"trust record %d id %s does not match recomputed %s", i, rec.RecordID, want)
		}
		if _, dup := seen[rec.RecordID]; dup {
			return errs.Newf(errs.TrustRecordInvalid, errs.SeverityHigh,
				"duplicate trust record id %s", rec.RecordID)
		}
		seen[rec.RecordID] = struct{}{}
		if rec.Prev != prev {
			return errs.Newf(errs.TrustPrevMismatch, errs.SeverityHigh,
				"trust record %d prev %q does not match expected %q", i, rec.Prev, prev)
		}

		if err := verifySignature(rec, keys); err != nil {
			return err
		}

		applyToKeySet(keys, rec)
		prev = rec.RecordID
	}
	return nil
}

func verifySignature(rec Record, activeKeys map[string][]byte) error {
	if rec.Type == KeyAdd && len(activeKeys) == 0 {
		// genesis key-add is self-signed: the key it introduces is also the
		// key that must verify it, and its recordId is pinned out-of-band by
		// the host since no prior trust anchor exists yet.
		key, ok := payloadKeyAdd(rec.Payload)
		if !ok {
			return errs.Newf(errs.TrustRecordInvalid, errs.SeverityHigh, "genesis record %s missing key payload", rec.RecordID)
		}
		return verifyWithKey(rec, key)
	}
	key, ok := activeKeys[rec.Issuer]
	if !ok {
		return errs.Newf(errs.TrustSigMissing, errs.SeverityHigh,
			"trust record %s signed by unknown or revoked key %s", rec.RecordID, rec.Issuer)
	}
	return verifyWithKey(rec, key)
}

func verifyWithKey(rec Record, key []byte) error {
	if rec.Signature == nil || len(key) == 0 {
		return errs.Newf(errs.TrustSigMissing, errs.SeverityHigh, "trust record %s missing signing key material", rec.RecordID)
	}
	unsigned := rec
	unsigned.RecordID = ""
	unsigned.Signature = nil
	payload, err := codec.Encode(unsigned)
	if err != nil {
		return errs.InternalWrap(err, "canonicalize trust record for signature check")
	}
	if !objhash.VerifyEd25519(key, payload, rec.Signature.Sig) {
		return errs.Newf(errs.TrustSigMissing, errs.SeverityHigh, "trust record %s signature does not verify", rec.RecordID)
	}
	return nil
}

func payloadKeyAdd(payload interface{}) ([]byte, bool) {
	if p, ok := payload.(KeyAddPayload); ok {
		return p.Key, true
	}
	if m, ok := payload.(map[string]interface{}); ok {
		return bytesField(m, "key"), true
	}
	return nil, false
}

func applyToKeySet(keys map[string][]byte, rec Record) {
	switch rec.Type {
	case KeyAdd:
		if p, ok := rec.Payload.(KeyAddPayload); ok {
			keys[p.KeyID] = p.Key
		} else if m, ok := rec.Payload.(map[string]interface{}); ok {
			keys[stringField(m, "key_id")] = bytesField(m, "key")
		}
	case KeyRevoke:
		if p, ok := rec.Payload.(KeyRevokePayload); ok {
			delete(keys, p.KeyID)
		} else if m, ok := rec.Payload.(map[string]interface{}); ok {
			delete(keys, stringField(m, "key_id"))
		}
	}
}

func stringField(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func bytesField(m map[string]interface{}, key string) []byte {
	switch v := m[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
