package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/cluster"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/indexbyminute"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/topic"
)

type identityCodec struct{}

// Algorithm tag 0 marks a frame stored uncompressed, which DecodeFrame
// reads back as-is.
func (identityCodec) Algorithm() cluster.Algorithm { return cluster.Algorithm(0) }
func (identityCodec) Compress(plain []byte) ([]byte, error) {
	return plain, nil
}
func (identityCodec) Decompress(compressed []byte, originalSize int) ([]byte, error) {
	return compressed[:originalSize], nil
}

func newTestTopic(t *testing.T, idleThreshold time.Duration) *topic.TopicData {
	t.Helper()

	pageStores := map[model.PageId]*pageblob.FakeBlobStore{}
	clusterStores := map[model.ClusterId]*pageblob.FakeBlobStore{}

	cfg := topic.DefaultConfig()
	cfg.IdleThreshold = idleThreshold

	index := indexbyminute.NewRegistry(func(ctx context.Context, year int) (pageblob.BlobStore, error) {
		return pageblob.NewFakeBlobStore(), nil
	})

	return topic.NewTopicData("orders", cfg, index,
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
		identityCodec{},
	)
}

func TestGetMessageByIdFromMemory(t *testing.T) {
	ctx := context.Background()
	topicData := newTestTopic(t, time.Hour)

	require.NoError(t, topicData.AppendMessages(ctx, []*model.Message{
		{MessageId: 0, Created: 1, Data: []byte("a")},
	}))

	msg, ok, err := GetMessageById(ctx, topicData, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(msg.Data))

	_, ok, err = GetMessageById(ctx, topicData, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMessageByIdFromCompressedClusterAfterPromotion(t *testing.T) {
	ctx := context.Background()
	topicData := newTestTopic(t, 0)
	schedCfg := topic.DefaultConfig()
	schedCfg.IdleThreshold = 0
	sched := topic.NewScheduler(topicData, schedCfg)

	require.NoError(t, topicData.AppendMessages(ctx, []*model.Message{
		{MessageId: 0, Created: 1, Data: []byte("a")},
	}))
	// Force the write frontier past page 0 so it becomes eligible for
	// promotion on the next tick.
	require.NoError(t, topicData.AppendMessages(ctx, []*model.Message{
		{MessageId: model.MessagesPerPage, Created: 2, Data: []byte("b")},
	}))

	require.NoError(t, sched.Tick(ctx))
	_, stillRegistered := topicData.Pages.Get(0)
	require.False(t, stillRegistered)

	msg, ok, err := GetMessageById(ctx, topicData, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(msg.Data))
}

func TestGetPageCompressedFullPageRange(t *testing.T) {
	ctx := context.Background()
	topicData := newTestTopic(t, time.Hour)

	require.NoError(t, topicData.AppendMessages(ctx, []*model.Message{
		{MessageId: 0, Created: 1, Data: []byte("a")},
		{MessageId: 1, Created: 2, Data: []byte("b")},
	}))

	var chunks []CompressedChunk
	err := GetPageCompressed(ctx, topicData, identityCodec{}, 0, ChunkVersionLegacy, 0, 0, 0, func(c CompressedChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	decoded, err := cluster.DecodeFrame(chunks[0].Payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
}

func TestGetMessagesFromDateFiltersByCreated(t *testing.T) {
	ctx := context.Background()
	topicData := newTestTopic(t, time.Hour)
	sched := topic.NewScheduler(topicData, topic.DefaultConfig())

	base := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, topicData.AppendMessages(ctx, []*model.Message{
		{MessageId: 0, Created: base.UnixMicro(), Data: []byte("early")},
		{MessageId: 1, Created: base.Add(5 * time.Minute).UnixMicro(), Data: []byte("late")},
	}))
	require.NoError(t, sched.Tick(ctx))

	var got []*model.Message
	err := GetMessagesFromDate(ctx, topicData, base.Add(2*time.Minute).UnixMicro(), time.Hour, func(m *model.Message) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "late", string(got[0].Data))
}
