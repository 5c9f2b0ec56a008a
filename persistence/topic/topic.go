package topic

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/cluster"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/indexbyminute"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/page"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
)

// ErrTopicHalted is returned by AppendMessages once the topic has been
// halted after a fatal, unrecoverable storage error (spec §7).
var ErrTopicHalted = errors.New("topic: halted after a fatal storage error")

// PageBlobOpener resolves the BlobStore backing one page within a
// topic; ClusterBlobOpener does the same for one compressed cluster.
// Both defer naming to the caller (persistence/naming).
type PageBlobOpener func(ctx context.Context, pageId model.PageId) (pageblob.BlobStore, error)
type ClusterBlobOpener func(ctx context.Context, clusterId model.ClusterId) (pageblob.BlobStore, error)

// TopicData is the per-topic aggregate tying together the page
// registry, the compressed clusters archived so far, and the
// index-by-minute registry (spec §4.6, §9: "AppContext ties these
// together; components receive each other as call parameters rather
// than storing cyclic references").
type TopicData struct {
	TopicId model.TopicId
	Pages   *PageSet
	Index   *indexbyminute.Registry

	clustersMu sync.Mutex
	clusters   map[model.ClusterId]*cluster.CompressedCluster

	openPageBlob    PageBlobOpener
	openClusterBlob ClusterBlobOpener
	codec           cluster.Codec

	cfg Config

	maxMessageId          int64 // atomic; highest MessageId appended so far
	maxMessageIdPersisted int64 // atomic; highest MessageId covered by a successful flush
	lastSnapshotMaxId     int64 // atomic; max_message_id at the last snapshot-due notification

	pendingMu       sync.Mutex
	pendingForIndex []*model.Message
}

// NewTopicData builds an empty TopicData. cfg.MaxMessageSize and the
// openers are required; Index may be a freshly constructed registry.
func NewTopicData(topicId model.TopicId, cfg Config, index *indexbyminute.Registry, openPageBlob PageBlobOpener, openClusterBlob ClusterBlobOpener, codec cluster.Codec) *TopicData {
	return &TopicData{
		TopicId:               topicId,
		Pages:                 NewPageSet(),
		Index:                 index,
		clusters:              make(map[model.ClusterId]*cluster.CompressedCluster),
		openPageBlob:          openPageBlob,
		openClusterBlob:       openClusterBlob,
		codec:                 codec,
		cfg:                   cfg,
		maxMessageId:          -1,
		maxMessageIdPersisted: -1,
		lastSnapshotMaxId:     -1,
	}
}

// MaxMessageId is the highest MessageId appended so far, or -1 if none.
func (t *TopicData) MaxMessageId() model.MessageId {
	return atomic.LoadInt64(&t.maxMessageId)
}

// MaxMessageIdPersisted is the highest MessageId covered by a
// successful flush (spec §5: "the scheduler never reports a higher
// max_message_id_persisted than has been acknowledged by flush").
func (t *TopicData) MaxMessageIdPersisted() model.MessageId {
	return atomic.LoadInt64(&t.maxMessageIdPersisted)
}

// QueueSize is the topic's total buffered-and-not-yet-flushed message
// count (spec §4.6).
func (t *TopicData) QueueSize() int {
	return t.Pages.QueueSize()
}

// AppendMessages buffers messages (expected non-empty, sorted
// ascending by MessageId, per spec §5 ordering guarantee) into their
// owning pages, opening/rehydrating each page's blob lazily on first
// touch.
func (t *TopicData) AppendMessages(ctx context.Context, messages []*model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if t.cfg.Health != nil {
		if _, halted := t.cfg.Health.IsTopicHalted(t.TopicId); halted {
			return ErrTopicHalted
		}
	}

	if t.cfg.MaxMessageSize > 0 {
		for _, m := range messages {
			if len(m.Data) > int(t.cfg.MaxMessageSize) {
				return errors.Errorf("topic %s: message %d is %d bytes, above the %d-byte limit", t.TopicId, m.MessageId, len(m.Data), t.cfg.MaxMessageSize)
			}
		}
	}

	start := 0
	for start < len(messages) {
		pageId := model.PageIdOf(messages[start].MessageId)
		end := start + 1
		for end < len(messages) && model.PageIdOf(messages[end].MessageId) == pageId {
			end++
		}
		run := messages[start:end]

		up, err := t.openUncompressedPage(ctx, pageId)
		if err != nil {
			return err
		}
		if err := up.Append(ctx, run); err != nil {
			return errors.Wrapf(err, "topic %s: append to page %d", t.TopicId, pageId)
		}

		last := run[len(run)-1].MessageId
		t.bumpMaxMessageId(last)

		t.pendingMu.Lock()
		t.pendingForIndex = append(t.pendingForIndex, run...)
		t.pendingMu.Unlock()

		start = end
	}

	return nil
}

func (t *TopicData) bumpMaxMessageId(id model.MessageId) {
	for {
		cur := atomic.LoadInt64(&t.maxMessageId)
		if id <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&t.maxMessageId, cur, id) {
			return
		}
	}
}

// openUncompressedPage returns the live buffer for pageId, opening or
// rehydrating its blob the first time the page is touched.
func (t *TopicData) openUncompressedPage(ctx context.Context, pageId model.PageId) (*page.UncompressedPage, error) {
	variant := t.Pages.GetOrCreateUninitialized(pageId)

	up, err := variant.Uncompressed()
	if err == nil {
		return up, nil
	}
	if !errors.Is(err, page.ErrWrongVariant) {
		return nil, err
	}

	store, err := t.openPageBlob(ctx, pageId)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: open page %d store", t.TopicId, pageId)
	}

	blob, err := pageblob.OpenOrCreate(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: open page %d blob", t.TopicId, pageId)
	}

	up, err = page.Rehydrate(ctx, pageId, blob, t.cfg.MaxMessageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: rehydrate page %d", t.TopicId, pageId)
	}

	variant = t.Pages.SetUncompressed(pageId, up)
	return variant.Uncompressed()
}

// OpenPageBlobForRead exposes the page blob opener to the resolver,
// which must be able to check for an existing blob without going
// through AppendMessages' write path.
func (t *TopicData) OpenPageBlobForRead(ctx context.Context, pageId model.PageId) (pageblob.BlobStore, error) {
	return t.openPageBlob(ctx, pageId)
}

// MaxMessageSizeForRead exposes the configured message-size ceiling to
// the resolver's rehydrate path.
func (t *TopicData) MaxMessageSizeForRead() uint32 {
	return t.cfg.MaxMessageSize
}

// getOrCreateCluster returns the cluster for clusterId, opening its
// blob the first time it is touched either for a read or a promotion
// write.
func (t *TopicData) getOrCreateCluster(ctx context.Context, clusterId model.ClusterId) (*cluster.CompressedCluster, error) {
	t.clustersMu.Lock()
	if c, ok := t.clusters[clusterId]; ok {
		t.clustersMu.Unlock()
		return c, nil
	}
	t.clustersMu.Unlock()

	store, err := t.openClusterBlob(ctx, clusterId)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: open cluster %d store", t.TopicId, clusterId)
	}
	blob, err := pageblob.OpenOrCreate(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: open cluster %d blob", t.TopicId, clusterId)
	}
	c, err := cluster.Rehydrate(ctx, clusterId, blob, t.codec)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: rehydrate cluster %d", t.TopicId, clusterId)
	}

	t.clustersMu.Lock()
	defer t.clustersMu.Unlock()
	if existing, ok := t.clusters[clusterId]; ok {
		return existing, nil
	}
	t.clusters[clusterId] = c
	return c, nil
}

// GetExistingCluster returns the cluster for clusterId only if its
// blob already exists, without creating one — used by the resolver's
// read path (spec §4.7 step 3), which must not conjure an empty
// cluster for a page that was never archived.
func (t *TopicData) GetExistingCluster(ctx context.Context, clusterId model.ClusterId) (*cluster.CompressedCluster, error) {
	t.clustersMu.Lock()
	if c, ok := t.clusters[clusterId]; ok {
		t.clustersMu.Unlock()
		return c, nil
	}
	t.clustersMu.Unlock()

	store, err := t.openClusterBlob(ctx, clusterId)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: open cluster %d store", t.TopicId, clusterId)
	}
	blob, err := pageblob.OpenIfExists(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: check cluster %d", t.TopicId, clusterId)
	}
	if blob == nil {
		return nil, nil
	}

	c, err := cluster.Rehydrate(ctx, clusterId, blob, t.codec)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s: rehydrate cluster %d", t.TopicId, clusterId)
	}

	t.clustersMu.Lock()
	defer t.clustersMu.Unlock()
	if existing, ok := t.clusters[clusterId]; ok {
		return existing, nil
	}
	t.clusters[clusterId] = c
	return c, nil
}
