package topic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/cluster"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/indexbyminute"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
)

func newTestTopic(t *testing.T) (*TopicData, Config) {
	t.Helper()

	pageStores := map[model.PageId]*pageblob.FakeBlobStore{}
	clusterStores := map[model.ClusterId]*pageblob.FakeBlobStore{}
	indexStores := map[int]*pageblob.FakeBlobStore{}

	cfg := DefaultConfig()
	cfg.IdleThreshold = 0 // promote as soon as a page stops being dirty

	index := indexbyminute.NewRegistry(func(ctx context.Context, year int) (pageblob.BlobStore, error) {
		s, ok := indexStores[year]
		if !ok {
			s = pageblob.NewFakeBlobStore()
			indexStores[year] = s
		}
		return s, nil
	})

	topicData := NewTopicData("orders", cfg, index,
		func(ctx context.Context, pageId model.PageId) (pageblob.BlobStore, error) {
			s, ok := pageStores[pageId]
			if !ok {
				s = pageblob.NewFakeBlobStore()
				pageStores[pageId] = s
			}
			return s, nil
		},
		func(ctx context.Context, clusterId model.ClusterId) (pageblob.BlobStore, error) {
			s, ok := clusterStores[clusterId]
			if !ok {
				s = pageblob.NewFakeBlobStore()
				clusterStores[clusterId] = s
			}
			return s, nil
		},
		testLZ4Codec{},
	)

	return topicData, cfg
}

type testLZ4Codec struct{}

func (testLZ4Codec) Algorithm() cluster.Algorithm { return cluster.AlgorithmLZ4 }
func (testLZ4Codec) Compress(plain []byte) ([]byte, error) {
	return plain, nil
}
func (testLZ4Codec) Decompress(compressed []byte, originalSize int) ([]byte, error) {
	return compressed[:originalSize], nil
}

func TestAppendMessagesThenReadBack(t *testing.T) {
	ctx := context.Background()
	topicData, _ := newTestTopic(t)

	msgs := []*model.Message{
		{MessageId: 0, Created: 1, Data: []byte("a")},
		{MessageId: 1, Created: 2, Data: []byte("b")},
	}
	require.NoError(t, topicData.AppendMessages(ctx, msgs))
	require.Equal(t, int64(1), topicData.MaxMessageId())
	require.Equal(t, 2, topicData.QueueSize())

	v, ok := topicData.Pages.Get(0)
	require.True(t, ok)
	got, ok, err := v.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", string(got.Data))
}

func TestSchedulerTickFlushesAndAdvancesIndex(t *testing.T) {
	ctx := context.Background()
	topicData, cfg := newTestTopic(t)
	sched := NewScheduler(topicData, cfg)

	now := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	createdMicros := now.UnixMicro()

	require.NoError(t, topicData.AppendMessages(ctx, []*model.Message{
		{MessageId: 0, Created: createdMicros, Data: []byte("x")},
	}))
	require.True(t, topicData.QueueSize() > 0)

	require.NoError(t, sched.Tick(ctx))
	require.Equal(t, 0, topicData.QueueSize())
	require.Equal(t, int64(0), topicData.MaxMessageIdPersisted())

	lookupFrom := now.Add(-2 * time.Minute).UnixMicro()
	id, ok, err := topicData.Index.GetFirstMessageIdAtOrAfter(ctx, lookupFrom, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), id)
}
