package sync

import (
	"context"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/materialize"
	"github.com/rohankatakam/warp/internal/objstore"
)

// Validate checks resp against caps' DoS bounds. Called before the trust
// gate and before any patch is applied.
func Validate(resp *Response, caps Caps) error {
	caps = caps.withDefaults()
	if len(resp.Frontier) > caps.MaxWritersInFrontier {
		return errs.Newf(errs.SyncMalformed, errs.SeverityHigh,
			"sync response frontier has %d writers, exceeds cap %d", len(resp.Frontier), caps.MaxWritersInFrontier)
	}
	if len(resp.Patches) > caps.MaxPatches {
		return errs.Newf(errs.SyncMalformed, errs.SeverityHigh,
			"sync response carries %d patches, exceeds cap %d", len(resp.Patches), caps.MaxPatches)
	}
	for i, env := range resp.Patches {
		if len(env.Patch.Ops) > caps.MaxOpsPerPatch {
			return errs.Newf(errs.SyncMalformed, errs.SeverityHigh,
				"sync response patch %d has %d ops, exceeds cap %d", i, len(env.Patch.Ops), caps.MaxOpsPerPatch)
		}
		if err := env.Patch.ValidateShape(); err != nil {
			return errs.Wrapf(err, errs.SyncMalformed, errs.SeverityHigh, "sync response patch %d malformed", i)
		}
	}
	return nil
}

// ApplyResponse validates resp, runs gate over the writers resp.Patches
// actually carries, then CAS-advances each writer's local ref from its
// previously known tip to the newly committed sha, one writer chain at a
// time, preserving each writer's chronological patch order. On success it
// invalidates engine's materialized cache (spec §4.I step 7); on any error
// the store is left exactly as it was for the writer(s) not yet advanced —
// partially-applied writers ahead of the failure keep their new commits
// (already durable, content-addressed) but their ref CAS makes each step
// atomic, so a caller can safely retry from the reported tip.
func ApplyResponse(ctx context.Context, store objstore.Store, layout objstore.RefLayout, engine *materialize.Engine, resp *Response, caps Caps, gate Gate) error {
	if err := Validate(resp, caps); err != nil {
		return err
	}

	byWriter := make(map[string][]PatchEnvelope)
	var order []string
	for _, env := range resp.Patches {
		if _, ok := byWriter[env.WriterID]; !ok {
			order = append(order, env.WriterID)
		}
		byWriter[env.WriterID] = append(byWriter[env.WriterID], env)
	}

	if err := gate.Check(ctx, writersApplied(resp.Patches)); err != nil {
		return err
	}

	for _, writer := range order {
		if err := applyWriterChain(ctx, store, layout, writer, byWriter[writer]); err != nil {
			return err
		}
	}

	if engine != nil {
		engine.Invalidate()
	}
	return nil
}

func applyWriterChain(ctx context.Context, store objstore.Store, layout objstore.RefLayout, writer string, envs []PatchEnvelope) error {
	ref := layout.WriterRef(writer)
	tip, err := store.ReadRef(ctx, ref)
	if err == objstore.ErrRefNotFound {
		tip = ""
	} else if err != nil {
		return errs.RefIOWrap(err, "read writer ref %s", writer)
	}

	for _, env := range envs {
		data, err := codec.Encode(env.Patch)
		if err != nil {
			return errs.InternalWrap(err, "encode applied patch for writer %s", writer)
		}
		blobOID, err := store.WriteBlob(ctx, data)
		if err != nil {
			return errs.RefIOWrap(err, "write applied patch blob")
		}
		treeOID, err := store.WriteTree(ctx, []objstore.TreeEntry{{Mode: objstore.ModeBlob, OID: blobOID, Name: "patch.cbor"}})
		if err != nil {
			return errs.RefIOWrap(err, "write applied patch tree")
		}
		var parents []string
		if tip != "" {
			parents = []string{tip}
		}
		sha, err := store.Commit(ctx, objstore.CommitInfo{TreeOID: treeOID, Parents: parents, Message: "patch"})
		if err != nil {
			return errs.RefIOWrap(err, "commit applied patch")
		}
		if sha != env.Sha {
			return errs.Newf(errs.SyncMalformed, errs.SeverityHigh,
				"writer %s patch recommits to %s, peer claimed %s: divergent history", writer, sha, env.Sha).
				WithContext("writer", writer)
		}

		if err := store.CompareAndSwapRef(ctx, ref, sha, tip); err != nil {
			if err == objstore.ErrCASMismatch {
				current, rerr := store.ReadRef(ctx, ref)
				if rerr != nil {
					current = ""
				}
				return errs.CASConflictf("writer %s ref advanced concurrently during sync apply", writer).
					WithContext("expectedOld", tip).WithContext("current", current)
			}
			return errs.RefIOWrap(err, "advance writer ref %s", writer)
		}
		tip = sha
	}
	return nil
}
