package trust

import (
	"context"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
)

// MaxCASAttempts bounds how many times Append retries a CAS-contended
// append before surfacing CAS_EXHAUSTED.
const MaxCASAttempts = 3

// Tip is the trust chain's current head: the commit sha and the recordId it
// carries, the value every new record's Prev must reference.
type Tip struct {
	Sha      string
	RecordID string
}

// CurrentTip resolves the graph's trust chain head, or the zero Tip if the
// chain has never been appended to.
func CurrentTip(ctx context.Context, store objstore.Store, layout objstore.RefLayout) (Tip, error) {
	sha, err := store.ReadRef(ctx, layout.TrustRecords())
	if err == objstore.ErrRefNotFound {
		return Tip{}, nil
	}
	if err != nil {
		return Tip{}, errs.RefIOWrap(err, "read trust/records")
	}
	rec, err := readRecord(ctx, store, sha)
	if err != nil {
		return Tip{}, err
	}
	return Tip{Sha: sha, RecordID: rec.RecordID}, nil
}

// Append validates rec, requires rec.RecordID and rec.Prev to already match
// the recomputed id and the observed tip, then commits and CAS-advances the
// trust/records ref. Between CAS attempts the tip is re-read: if unchanged
// (lock contention) the same commit is retried; if advanced, CAS_CONFLICT is
// surfaced immediately with the new tip so the caller can rebuild (the
// record is content-addressed over Prev, so it cannot simply be resubmitted).
func Append(ctx context.Context, store objstore.Store, layout objstore.RefLayout, rec Record) (Tip, error) {
	if err := validateForAppend(rec); err != nil {
		return Tip{}, err
	}

	tip, err := CurrentTip(ctx, store, layout)
	if err != nil {
		return Tip{}, err
	}
	if rec.Prev != tip.RecordID {
		return Tip{}, errs.Newf(errs.TrustPrevMismatch, errs.SeverityHigh,
			"record prev %q does not match tip %q", rec.Prev, tip.RecordID).WithContext("tipSha", tip.Sha)
	}

	data, err := codec.Encode(rec)
	if err != nil {
		return Tip{}, errs.InternalWrap(err, "encode trust record")
	}
	blobOID, err := store.WriteBlob(ctx, data)
	if err != nil {
		return Tip{}, errs.RefIOWrap(err, "write trust record blob")
	}
	treeOID, err := store.WriteTree(ctx, []objstore.TreeEntry{{Mode: objstore.ModeBlob, OID: blobOID, Name: "record.cbor"}})
	if err != nil {
		return Tip{}, errs.RefIOWrap(err, "write trust record tree")
	}
	var parents []string
	if tip.Sha != "" {
		parents = []string{tip.Sha}
	}

	for attempt := 1; attempt <= MaxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Tip{}, errs.Newf(errs.Canceled, errs.SeverityMedium, "trust append canceled")
		}
		sha, err := store.Commit(ctx, objstore.CommitInfo{TreeOID: treeOID, Parents: parents, Message: string(rec.Type)})
		if err != nil {
			return Tip{}, errs.RefIOWrap(err, "commit trust record")
		}
		casErr := store.CompareAndSwapRef(ctx, layout.TrustRecords(), sha, tip.Sha)
		if casErr == nil {
			return Tip{Sha: sha, RecordID: rec.RecordID}, nil
		}
		if casErr != objstore.ErrCASMismatch {
			return Tip{}, errs.RefIOWrap(casErr, "advance trust/records")
		}
		fresh, err := CurrentTip(ctx, store, layout)
		if err != nil {
			return Tip{}, err
		}
		if fresh.Sha == tip.Sha {
			continue // lock contention against the same tip: retry same commit
		}
		return Tip{}, errs.CASConflictf("trust chain advanced to %s concurrently", fresh.Sha).
			WithContext("recordId", fresh.RecordID).WithContext("sha", fresh.Sha)
	}
	return Tip{}, errs.CASExhaustedf("trust append exhausted %d attempts", MaxCASAttempts)
}

// ResignFunc recomputes a record's RecordID and Signature after its Prev
// field has been rewritten to a fresher tip (the record is content-addressed
// over Prev, so any rebase requires re-hashing and re-signing).
type ResignFunc func(rec Record) (Record, error)

// AppendWithRetry wraps Append: on CAS_CONFLICT, or TRUST_PREV_MISMATCH when
// the chain advanced before Append read the tip, it rewrites rec.Prev to the
// observed tip, invokes resign to rebuild RecordID/Signature, and retries up
// to maxRetries times before raising CAS_EXHAUSTED.
func AppendWithRetry(ctx context.Context, store objstore.Store, layout objstore.RefLayout, rec Record, maxRetries int, resign ResignFunc) (Tip, error) {
	for i := 0; i <= maxRetries; i++ {
		tip, err := Append(ctx, store, layout, rec)
		if err == nil {
			return tip, nil
		}
		if !errs.IsCode(err, errs.CASConflict) && !errs.IsCode(err, errs.TrustPrevMismatch) {
			return Tip{}, err
		}
		observed, tErr := CurrentTip(ctx, store, layout)
		if tErr != nil {
			return Tip{}, tErr
		}
		rec.Prev = observed.RecordID
		rec, err = resign(rec)
		if err != nil {
			return Tip{}, errs.InternalWrap(err, "resign trust record")
		}
	}
	return Tip{}, errs.CASExhaustedf("trust append-with-retry exhausted %d retries", maxRetries)
}

func validateForAppend(rec Record) error {
	if rec.SchemaVersion != Schema {
		return errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh, "trust record schema %d unsupported", rec.SchemaVersion)
	}
	if err := rec.ValidateShape(); err != nil {
		return err
	}
	want, err := recomputeRecordID(rec)
	if err != nil {
		return err
	}
	if want != rec.RecordID {
		return errs.Newf(errs.TrustIDMismatch, errs.SeverityHigh, "record id %s does not match recomputed %s", rec.RecordID, want)
	}
	if rec.Signature == nil || rec.Signature.Alg == "" || len(rec.Signature.Sig) == 0 {
		return errs.Newf(errs.TrustSigMissing, errs.SeverityHigh, "record %s missing signature envelope", rec.RecordID)
	}
	return nil
}

func readRecord(ctx context.Context, store objstore.Store, sha string) (Record, error) {
	treeOID, err := store.GetCommitTree(ctx, sha)
	if err != nil {
		return Record{}, errs.RefIOWrap(err, "resolve trust commit %s", sha)
	}
	entries, err := store.ReadTreeOIDs(ctx, treeOID)
	if err != nil {
		return Record{}, errs.RefIOWrap(err, "read trust record tree")
	}
	blobOID, ok := entries["record.cbor"]
	if !ok {
		return Record{}, errs.Newf(errs.TrustRecordInvalid, errs.SeverityHigh, "commit %s missing record.cbor", sha)
	}
	data, err := store.ReadBlob(ctx, blobOID)
	if err != nil {
		return Record{}, errs.RefIOWrap(err, "read trust record blob")
	}
	var rec Record
	if err := codec.Decode(data, &rec); err != nil {
		return Record{}, errs.Wrapf(err, errs.TrustRecordInvalid, errs.SeverityHigh, "decode trust record")
	}
	return rec, nil
}
