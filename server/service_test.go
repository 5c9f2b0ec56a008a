package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/app"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/health"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/resolver"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/snapshot"
	"github.com/zhukovaskychina/servicebus-persistence/server/conf"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	var mu sync.Mutex
	stores := map[string]*pageblob.FakeBlobStore{}
	factory := func(ctx context.Context, container, blobName string) (pageblob.BlobStore, error) {
		key := container + "/" + blobName
		mu.Lock()
		defer mu.Unlock()
		if s, ok := stores[key]; ok {
			return s, nil
		}
		s := pageblob.NewFakeBlobStore()
		stores[key] = s
		return s, nil
	}

	settings := conf.NewSettingsModel()
	appCtx, err := app.New(settings, factory, snapshot.NewFakeCASStore(), health.NewState())
	require.NoError(t, err)
	return NewService(appCtx)
}

type chunkCollector struct {
	chunks []resolver.CompressedChunk
}

func (c *chunkCollector) Send(chunk resolver.CompressedChunk) error {
	c.chunks = append(c.chunks, chunk)
	return nil
}

type messageCollector struct {
	messages []*model.Message
}

func (c *messageCollector) Send(msg *model.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func TestSaveMessagesThenGetMessage(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	err := svc.SaveMessages(ctx, "orders", map[model.PageId][]*model.Message{
		0: {
			{MessageId: 0, Created: 1, Data: []byte("hi")},
			{MessageId: 1, Created: 2, Data: []byte("there")},
		},
	})
	require.NoError(t, err)

	msg, found, err := svc.GetMessage(ctx, "orders", 1)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "there", string(msg.Data))

	_, found, err = svc.GetMessage(ctx, "orders", 99)
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetMessageOnUnknownTopicIsAbsentNotError(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, found, err := svc.GetMessage(ctx, "never-created", 0)
	require.NoError(t, err)
	require.False(t, found)

	ids, err := svc.app.ListTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestGetPageCompressedStreamsChunks(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SaveMessages(ctx, "orders", map[model.PageId][]*model.Message{
		0: {
			{MessageId: 0, Created: 1, Data: []byte("a")},
			{MessageId: 1, Created: 2, Data: []byte("b")},
		},
	}))

	collector := &chunkCollector{}
	err := svc.GetPageCompressed(ctx, "orders", 0, -1, -1, resolver.ChunkVersionLegacy, collector)
	require.NoError(t, err)
	require.Len(t, collector.chunks, 1)
}

func TestDeleteTopicThenSaveMessagesRecreatesIt(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	require.NoError(t, svc.SaveMessages(ctx, "orders", map[model.PageId][]*model.Message{
		0: {{MessageId: 0, Created: 1, Data: []byte("a")}},
	}))
	require.NoError(t, svc.DeleteTopic(ctx, "orders"))

	ids, err := svc.app.ListTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, svc.SaveMessages(ctx, "orders", map[model.PageId][]*model.Message{
		0: {{MessageId: 0, Created: 1, Data: []byte("c")}},
	}))
	msg, found, err := svc.GetMessage(ctx, "orders", 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "c", string(msg.Data))
}
