package trust

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
)

func signRecord(t *testing.T, priv ed25519.PrivateKey, rec Record) Record {
	t.Helper()
	rec.RecordID = ""
	rec.Signature = nil
	payload, err := codec.Encode(rec)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, payload)
	rec.Signature = &Signature{Alg: "ed25519", Sig: sig}
	id, err := recomputeRecordID(rec)
	require.NoError(t, err)
	rec.RecordID = id
	return rec
}

func genesisKeyAdd(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, keyID string) Record {
	return signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          "",
		Type:          KeyAdd,
		Issuer:        keyID,
		Payload:       KeyAddPayload{KeyID: keyID, Key: []byte(pub)},
	})
}

func TestAppendGenesisAndBindWriter(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	genesis := genesisKeyAdd(t, pub, priv, "root-key")
	tip, err := Append(ctx, store, layout, genesis)
	require.NoError(t, err)
	require.Equal(t, genesis.RecordID, tip.RecordID)

	bind := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          tip.RecordID,
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-1", KeyID: "root-key"},
	})
	tip2, err := Append(ctx, store, layout, bind)
	require.NoError(t, err)
	require.Equal(t, bind.RecordID, tip2.RecordID)

	chain, err := LoadChain(ctx, store, layout)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.NoError(t, VerifyChain(chain, ""))

	eval := EvaluateWriters(chain)
	require.True(t, eval.IsTrusted("writer-1"))
	require.False(t, eval.IsTrusted("writer-2"))
}

func TestAppendRejectsPrevMismatch(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	genesis := genesisKeyAdd(t, pub, priv, "root-key")
	_, err = Append(ctx, store, layout, genesis)
	require.NoError(t, err)

	stale := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          "not-the-tip",
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-1", KeyID: "root-key"},
	})
	_, err = Append(ctx, store, layout, stale)
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.TrustPrevMismatch))
}

func TestAppendWithRetryRebasesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	genesis := genesisKeyAdd(t, pub, priv, "root-key")
	tip, err := Append(ctx, store, layout, genesis)
	require.NoError(t, err)

	// build a record against the current tip, then race another append in
	// ahead of it so AppendWithRetry must rebase.
	stalePrev := tip.RecordID
	concurrent := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          stalePrev,
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-2", KeyID: "root-key"},
	})
	_, err = Append(ctx, store, layout, concurrent)
	require.NoError(t, err)

	stale := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          stalePrev,
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-1", KeyID: "root-key"},
	})

	resign := func(rec Record) (Record, error) {
		return signRecord(t, priv, Record{
			SchemaVersion: rec.SchemaVersion,
			Prev:          rec.Prev,
			Type:          rec.Type,
			Issuer:        rec.Issuer,
			Payload:       rec.Payload,
		}), nil
	}
	final, err := AppendWithRetry(ctx, store, layout, stale, 2, resign)
	require.NoError(t, err)

	chain, err := LoadChain(ctx, store, layout)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, final.RecordID, chain[2].RecordID)
	require.NoError(t, VerifyChain(chain, ""))

	eval := EvaluateWriters(chain)
	require.True(t, eval.IsTrusted("writer-1"))
	require.True(t, eval.IsTrusted("writer-2"))
}

func TestVerifyChainRejectsTamperedPrev(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	genesis := genesisKeyAdd(t, pub, priv, "root-key")
	bind := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          genesis.RecordID,
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-1", KeyID: "root-key"},
	})
	bind.Prev = "tampered"

	err = VerifyChain([]Record{genesis, bind}, "")
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.TrustPrevMismatch))
}

func TestVerifyChainRejectsBadSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	genesis := genesisKeyAdd(t, pub, priv, "root-key")

	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	forged := Record{
		SchemaVersion: Schema,
		Prev:          genesis.RecordID,
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-1", KeyID: "root-key"},
		Signature:     &Signature{Alg: "ed25519", Sig: make([]byte, ed25519.SignatureSize)},
	}
	id, err := recomputeRecordID(forged)
	require.NoError(t, err)
	forged.RecordID = id
	_ = otherPub

	err = VerifyChain([]Record{genesis, forged}, "")
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.TrustSigMissing))
}

func TestVerifyChainEnforcesPinnedGenesisRecordID(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	genesis := genesisKeyAdd(t, pub, priv, "root-key")

	require.NoError(t, VerifyChain([]Record{genesis}, genesis.RecordID))

	err = VerifyChain([]Record{genesis}, "some-other-pinned-id")
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.TrustGenesisPinned))
}

func TestEvaluateWritersDropsRevokedKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	genesis := genesisKeyAdd(t, pub, priv, "root-key")
	bind := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          genesis.RecordID,
		Type:          WriterBindAdd,
		Issuer:        "root-key",
		Payload:       WriterBindPayload{WriterID: "writer-1", KeyID: "root-key"},
	})
	revoke := signRecord(t, priv, Record{
		SchemaVersion: Schema,
		Prev:          bind.RecordID,
		Type:          KeyRevoke,
		Issuer:        "root-key",
		Payload:       KeyRevokePayload{KeyID: "root-key"},
	})

	chain := []Record{genesis, bind, revoke}
	eval := EvaluateWriters(chain)
	require.False(t, eval.IsTrusted("writer-1"))
}
