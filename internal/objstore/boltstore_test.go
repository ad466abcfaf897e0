package objstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.bolt")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	oid, err := s.WriteBlob(ctx, []byte("payload"))
	require.NoError(t, err)
	data, err := s.ReadBlob(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	treeOID, err := s.WriteTree(ctx, []TreeEntry{{Mode: ModeBlob, OID: oid, Name: "patch.cbor"}})
	require.NoError(t, err)
	entries, err := s.ReadTreeOIDs(ctx, treeOID)
	require.NoError(t, err)
	require.Equal(t, oid, entries["patch.cbor"])

	sha, err := s.Commit(ctx, CommitInfo{TreeOID: treeOID, Message: "first patch"})
	require.NoError(t, err)
	gotTree, err := s.GetCommitTree(ctx, sha)
	require.NoError(t, err)
	require.Equal(t, treeOID, gotTree)

	ref := "refs/warp/g/writers/alice"
	require.NoError(t, s.CompareAndSwapRef(ctx, ref, sha, ""))
	require.ErrorIs(t, s.CompareAndSwapRef(ctx, ref, "other", ""), ErrCASMismatch)
}
