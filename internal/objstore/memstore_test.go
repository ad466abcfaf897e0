package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemStoreBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	oid, err := s.WriteBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	data, err := s.ReadBlob(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestMemStoreCASSemantics(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	ref := "refs/warp/g/writers/alice"

	require.NoError(t, s.CompareAndSwapRef(ctx, ref, "sha1", ""))
	require.ErrorIs(t, s.CompareAndSwapRef(ctx, ref, "sha2", ""), ErrCASMismatch)
	require.NoError(t, s.CompareAndSwapRef(ctx, ref, "sha2", "sha1"))

	got, err := s.ReadRef(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, "sha2", got)
}

func TestMemStoreRefNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, err := s.ReadRef(ctx, "refs/warp/g/writers/nobody")
	require.ErrorIs(t, err, ErrRefNotFound)
}

func TestMemStoreListRefsPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	require.NoError(t, s.UpdateRef(ctx, "refs/warp/g/writers/alice", "s1"))
	require.NoError(t, s.UpdateRef(ctx, "refs/warp/g/writers/bob", "s2"))
	require.NoError(t, s.UpdateRef(ctx, "refs/warp/g/checkpoints/latest", "s3"))

	refs, err := s.ListRefs(ctx, "refs/warp/g/writers/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"refs/warp/g/writers/alice", "refs/warp/g/writers/bob"}, refs)
}

func TestMemStoreConfigGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	_, found, err := s.ConfigGet(ctx, "writer.id")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.ConfigSet(ctx, "writer.id", "alice"))
	v, found, err := s.ConfigGet(ctx, "writer.id")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", v)
}
