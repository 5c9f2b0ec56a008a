package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/health"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/snapshot"
	"github.com/zhukovaskychina/servicebus-persistence/server/conf"
)

func newTestApp(t *testing.T) *AppContext {
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
	a, err := New(settings, factory, snapshot.NewFakeCASStore(), health.NewState())
	require.NoError(t, err)
	return a
}

func TestGetOrCreateTopicRecordsSnapshotOnce(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	t1, err := a.GetOrCreateTopic(ctx, "orders")
	require.NoError(t, err)
	t2, err := a.GetOrCreateTopic(ctx, "orders")
	require.NoError(t, err)
	require.Same(t, t1, t2)

	ids, err := a.ListTopics(ctx)
	require.NoError(t, err)
	require.Equal(t, []model.TopicId{"orders"}, ids)
}

func TestGetTopicForReadDoesNotTouchSnapshot(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	data := a.GetTopicForRead("never-written")
	require.NotNil(t, data)

	ids, err := a.ListTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestGetOrCreateTopicUpgradesAReadOnlyLoad(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	readOnly := a.GetTopicForRead("orders")

	written, err := a.GetOrCreateTopic(ctx, "orders")
	require.NoError(t, err)
	require.Same(t, readOnly, written)

	ids, err := a.ListTopics(ctx)
	require.NoError(t, err)
	require.Equal(t, []model.TopicId{"orders"}, ids)
}

func TestSchedulerThresholdCrossingUpdatesSnapshotWatermark(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	a.Settings.SnapshotMessageIdThreshold = 1
	a.Settings.FlushTickIntervalDuration = 5 * time.Millisecond

	data, err := a.GetOrCreateTopic(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, data.AppendMessages(ctx, []*model.Message{
		{MessageId: 0, Created: 1, Data: []byte("a")},
		{MessageId: 1, Created: 2, Data: []byte("b")},
	}))

	require.Eventually(t, func() bool {
		snap, _, err := snapshot.Load(ctx, a.snapshot)
		if err != nil {
			return false
		}
		for _, r := range snap.Topics {
			if r.TopicId == "orders" && r.MaxMessageId == 1 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, a.DeleteTopic(ctx, "orders"))
}

func TestShutdownStopsRunningSchedulers(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, err := a.GetOrCreateTopic(ctx, "orders")
	require.NoError(t, err)
	_, err = a.GetOrCreateTopic(ctx, "payments")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		a.Shutdown(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return once schedulers drained")
	}
}

func TestDeleteTopicRemovesFromSnapshot(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	_, err := a.GetOrCreateTopic(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, a.DeleteTopic(ctx, "orders"))

	ids, err := a.ListTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, loaded := a.GetTopicIfLoaded("orders")
	require.False(t, loaded)
}
