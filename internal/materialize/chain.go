package materialize

import (
	"context"
	"strings"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/patch"
	"github.com/rohankatakam/warp/internal/reduce"
)

// ChainReader reads writer patch chains out of the object store. It is the
// seam materialize is tested against, so tests can substitute an in-memory
// fixture instead of walking a real objstore.Store.
type ChainReader interface {
	DiscoverWriters(ctx context.Context) ([]string, error)
	Tip(ctx context.Context, writer string) (string, error)
	// PatchesSince returns writer's patches strictly newer than sinceSha
	// (exclusive), oldest first. sinceSha == "" means from the root.
	PatchesSince(ctx context.Context, writer, sinceSha string) ([]reduce.Sourced, error)
}

// storeChainReader is the objstore.Store-backed ChainReader.
type storeChainReader struct {
	store  objstore.Store
	layout objstore.RefLayout
}

// NewStoreChainReader returns a ChainReader over store/layout.
func NewStoreChainReader(store objstore.Store, layout objstore.RefLayout) ChainReader {
	return &storeChainReader{store: store, layout: layout}
}

func (r *storeChainReader) DiscoverWriters(ctx context.Context) ([]string, error) {
	refs, err := r.store.ListRefs(ctx, r.layout.WriterPrefix())
	if err != nil {
		return nil, errs.RefIOWrap(err, "list writer refs")
	}
	out := make([]string, 0, len(refs))
	prefix := r.layout.WriterPrefix()
	for _, ref := range refs {
		out = append(out, strings.TrimPrefix(ref, prefix))
	}
	return out, nil
}

func (r *storeChainReader) Tip(ctx context.Context, writer string) (string, error) {
	sha, err := r.store.ReadRef(ctx, r.layout.WriterRef(writer))
	if err == objstore.ErrRefNotFound {
		return "", nil
	}
	if err != nil {
		return "", errs.RefIOWrap(err, "read writer ref %s", writer)
	}
	return sha, nil
}

func (r *storeChainReader) PatchesSince(ctx context.Context, writer, sinceSha string) ([]reduce.Sourced, error) {
	tip, err := r.Tip(ctx, writer)
	if err != nil {
		return nil, err
	}
	var out []reduce.Sourced
	sha := tip
	for sha != "" && sha != sinceSha {
		if err := ctx.Err(); err != nil {
			return nil, errs.Newf(errs.Canceled, errs.SeverityMedium, "patch walk canceled")
		}
		info, err := r.store.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read commit %s", sha)
		}
		treeOID, err := r.store.GetCommitTree(ctx, sha)
		if err != nil {
			return nil, errs.RefIOWrap(err, "resolve commit tree %s", sha)
		}
		entries, err := r.store.ReadTreeOIDs(ctx, treeOID)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read patch tree")
		}
		blobOID, ok := entries["patch.cbor"]
		if !ok {
			return nil, errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh, "commit %s missing patch.cbor", sha)
		}
		data, err := r.store.ReadBlob(ctx, blobOID)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read patch blob")
		}
		var p patch.Patch
		if err := codec.Decode(data, &p); err != nil {
			return nil, errs.Wrapf(err, errs.SchemaUnsupported, errs.SeverityHigh, "decode patch")
		}
		out = append(out, reduce.Sourced{Patch: p, Sha: sha})

		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}
	// walked newest-first; reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
