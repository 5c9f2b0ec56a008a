package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
)

func openFreshCluster(t *testing.T, ctx context.Context) *CompressedCluster {
	t.Helper()
	store := pageblob.NewFakeBlobStore()
	blob, err := pageblob.OpenOrCreate(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	require.NoError(t, err)

	c := NewBrandNew(0, lz4Codec{})
	c.AttachBlob(blob)
	return c
}

func samplePageMessages() []*model.Message {
	return []*model.Message{
		{MessageId: 100000, Created: 1, Data: []byte("first")},
		{MessageId: 100001, Created: 2, Data: []byte("second")},
		{MessageId: 100002, Created: 3, Data: []byte("third")},
	}
}

func TestSaveAndGetClusterPageRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openFreshCluster(t, ctx)

	require.False(t, c.HasCompressedPage(1))

	require.NoError(t, c.SaveClusterPage(ctx, 1, samplePageMessages()))
	require.True(t, c.HasCompressedPage(1))

	got, ok, err := c.GetCompressedPageMessages(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 3)
	require.Equal(t, "second", string(got[100001].Data))
}

func TestSaveClusterPageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := openFreshCluster(t, ctx)

	require.NoError(t, c.SaveClusterPage(ctx, 2, samplePageMessages()))
	writePosAfterFirst := c.toc.GetWritePosition()

	// A second save of the same slot with different messages must be a
	// silent no-op: the original archive wins, nothing is appended.
	require.NoError(t, c.SaveClusterPage(ctx, 2, []*model.Message{
		{MessageId: 200000, Created: 9, Data: []byte("should-not-appear")},
	}))
	require.Equal(t, writePosAfterFirst, c.toc.GetWritePosition())

	got, ok, err := c.GetCompressedPageMessages(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 3)
}

func TestCorruptedSlotReadsAsAbsentNotError(t *testing.T) {
	ctx := context.Background()
	c := openFreshCluster(t, ctx)

	require.NoError(t, c.SaveClusterPage(ctx, 3, samplePageMessages()))

	entry := c.toc.GetPosition(model.PageInCluster(3))
	garbage := make([]byte, entry.Size)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	require.NoError(t, c.blob.WriteAt(ctx, int64(entry.Offset), garbage, 0))

	_, ok, err := c.GetCompressedPageMessages(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnknownPageReportsAbsent(t *testing.T) {
	ctx := context.Background()
	c := openFreshCluster(t, ctx)

	_, ok, err := c.GetCompressedPageMessages(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)
}
