package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/objstore"
)

func TestEnsureWriterCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()

	first, err := EnsureWriter(ctx, store, "g1", "")
	require.NoError(t, err)
	require.NotEmpty(t, first.WriterID)

	second, err := EnsureWriter(ctx, store, "g1", "")
	require.NoError(t, err)
	require.Equal(t, first.WriterID, second.WriterID)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestEnsureWriterHonorsPreferredID(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()

	id, err := EnsureWriter(ctx, store, "g1", "writer-alice")
	require.NoError(t, err)
	require.Equal(t, "writer-alice", id.WriterID)
}

func TestEnsureWriterIsolatedPerGraph(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()

	a, err := EnsureWriter(ctx, store, "g1", "")
	require.NoError(t, err)
	b, err := EnsureWriter(ctx, store, "g2", "")
	require.NoError(t, err)
	require.NotEqual(t, a.WriterID, b.WriterID)
}

func TestLoadReturnsFalseWhenAbsent(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	_, ok, err := Load(ctx, store, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}
