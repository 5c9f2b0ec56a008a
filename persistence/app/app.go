// Package app wires together one process's topics, health state and
// topics snapshot into the single AppContext every RPC handler and
// scheduler goroutine is handed as a parameter (spec §9: "AppContext
// ties these together; components receive each other as call
// parameters rather than storing cyclic references").
package app

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/cluster"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/health"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/indexbyminute"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/naming"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/snapshot"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/topic"
	"github.com/zhukovaskychina/servicebus-persistence/server/conf"
)

// BlobStoreFactory resolves the BlobStore backing one named blob
// inside one named container. It is the only object-store dependency
// the app layer takes; the real implementation (an Azure/S3-style
// client) is out of scope here, same as the RPC surface (spec §1) —
// callers pass a fake in tests and a real adapter in production.
type BlobStoreFactory func(ctx context.Context, container, blobName string) (pageblob.BlobStore, error)

// AppContext is the process-wide aggregate: every topic's TopicData
// and Scheduler, the shared health state, and the cluster-wide topics
// snapshot.
type AppContext struct {
	Settings *conf.SettingsModel
	Health   *health.State

	storeFactory BlobStoreFactory
	snapshot     snapshot.CASStore
	codec        cluster.Codec

	mu     sync.Mutex
	topics map[model.TopicId]*entry
}

type entry struct {
	data      *topic.TopicData
	scheduler *topic.Scheduler
}

// New builds an AppContext from settings, reading CompressionAlgorithm
// to pick the default cluster codec (spec §6).
func New(settings *conf.SettingsModel, storeFactory BlobStoreFactory, snapshotStore snapshot.CASStore, h *health.State) (*AppContext, error) {
	algo := cluster.AlgorithmLZ4
	if settings.CompressionAlgorithm == conf.CompressionSnappy {
		algo = cluster.AlgorithmSnappy
	}
	codec, err := cluster.CodecFor(algo)
	if err != nil {
		return nil, errors.Wrap(err, "app: resolve codec")
	}

	return &AppContext{
		Settings:     settings,
		Health:       h,
		storeFactory: storeFactory,
		snapshot:     snapshotStore,
		codec:        codec,
		topics:       make(map[model.TopicId]*entry),
	}, nil
}

// Codec returns the cluster compression codec this process was
// configured with, for callers (the RPC service) assembling
// compressed chunks outside of a specific topic's archive.
func (a *AppContext) Codec() cluster.Codec {
	return a.codec
}

// GetEnvInfo mirrors the original's get_env_info: ENV_INFO from the
// environment, or a fixed placeholder if unset (spec §6).
func (a *AppContext) GetEnvInfo() string {
	return a.Settings.EnvInfo
}

// CheckFlags exposes the health state for an operational endpoint.
func (a *AppContext) CheckFlags() health.Flags {
	return a.Health.CheckFlags()
}

func (a *AppContext) topicConfig() topic.Config {
	return topic.Config{
		MaxMessageSize:            uint32(a.Settings.MaxMessageSize),
		IdleThreshold:             a.Settings.PageIdleThresholdDuration,
		TickInterval:              a.Settings.FlushTickIntervalDuration,
		SnapshotThresholdMessages: a.Settings.SnapshotMessageIdThreshold,
		IndexHorizon:              a.Settings.IndexLookupHorizonDuration,
		NotifySnapshotDue:         a.notifySnapshotDue,
		Health:                    a.Health,
	}
}

// notifySnapshotDue is topic.Config.NotifySnapshotDue's production
// wiring (spec §4.6 step 5): a topic's scheduler calls this once its
// max_message_id has advanced far enough past the last recorded
// watermark, and this rewrites that topic's snapshot record with its
// current high-watermark under CAS. Best-effort: a failure here is
// logged, not fatal. The scheduler has already advanced its
// last-notified watermark, so the record is next rewritten when the
// threshold is crossed again.
func (a *AppContext) notifySnapshotDue(topicId string) {
	data, loaded := a.GetTopicIfLoaded(topicId)
	if !loaded {
		return
	}
	if err := a.updateTopicWatermarkInSnapshot(context.Background(), model.TopicId(topicId), data.MaxMessageId()); err != nil {
		logger.Errorf("app: record snapshot watermark for topic %s: %v", topicId, err)
	}
}

// GetOrCreateTopic returns the live TopicData for topicId, creating it
// (and recording it in the topics snapshot, and starting its
// scheduler) on first touch within this process.
func (a *AppContext) GetOrCreateTopic(ctx context.Context, topicId model.TopicId) (*topic.TopicData, error) {
	a.mu.Lock()
	if e, ok := a.topics[topicId]; ok && e.scheduler != nil {
		a.mu.Unlock()
		return e.data, nil
	}
	a.mu.Unlock()

	// Either untouched, or loaded read-only by GetTopicForRead: reuse
	// its TopicData (and thus any pages already rehydrated into it)
	// rather than building a second one.
	data := a.GetTopicForRead(topicId)
	scheduler := topic.NewScheduler(data, a.topicConfig())

	a.mu.Lock()
	if e, ok := a.topics[topicId]; ok && e.scheduler != nil {
		a.mu.Unlock()
		return e.data, nil
	}
	a.topics[topicId] = &entry{data: data, scheduler: scheduler}
	a.mu.Unlock()

	if err := a.recordTopicInSnapshot(ctx, topicId); err != nil {
		return nil, err
	}

	go scheduler.Run(context.Background())

	return data, nil
}

// GetTopicForRead returns the TopicData for topicId, lazily
// registering it (without recording it in the topics snapshot or
// starting its scheduler) if this is the first time this process has
// touched it. The resolver uses this so a fresh reader process can
// serve get_message/get_page_compressed/get_messages_from_date against
// blobs a previous process wrote, without that read path appearing to
// "create" the topic (spec §3: "topics are created on first write").
func (a *AppContext) GetTopicForRead(topicId model.TopicId) *topic.TopicData {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.topics[topicId]; ok {
		return e.data
	}

	openPage := func(ctx context.Context, pageId model.PageId) (pageblob.BlobStore, error) {
		return a.storeFactory(ctx, naming.TopicContainer(topicId), naming.UncompressedPageBlobName(pageId))
	}
	openCluster := func(ctx context.Context, clusterId model.ClusterId) (pageblob.BlobStore, error) {
		return a.storeFactory(ctx, naming.TopicContainer(topicId), naming.CompressedClusterBlobName(clusterId))
	}
	openYear := func(ctx context.Context, year int) (pageblob.BlobStore, error) {
		return a.storeFactory(ctx, naming.TopicContainer(topicId), naming.YearlyIndexBlobName(year))
	}

	index := indexbyminute.NewRegistry(openYear)
	data := topic.NewTopicData(topicId, a.topicConfig(), index, openPage, openCluster, a.codec)
	a.topics[topicId] = &entry{data: data, scheduler: nil}
	return data
}

// GetTopicIfLoaded returns the TopicData for topicId only if this
// process has already touched it; it does not create one.
func (a *AppContext) GetTopicIfLoaded(topicId model.TopicId) (*topic.TopicData, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.topics[topicId]
	if !ok {
		return nil, false
	}
	return e.data, true
}

func (a *AppContext) recordTopicInSnapshot(ctx context.Context, topicId model.TopicId) error {
	return snapshot.CompareAndSwap(ctx, a.snapshot, func(existing []snapshot.TopicRecord) []snapshot.TopicRecord {
		for _, r := range existing {
			if r.TopicId == topicId {
				return existing
			}
		}
		return append(existing, snapshot.TopicRecord{TopicId: topicId, MaxMessageId: -1, MaxPageIdToPersist: -1})
	})
}

// updateTopicWatermarkInSnapshot rewrites topicId's record with
// maxMessageId and the page id it implies (spec §4.6 step 5,
// spec.md:49). A topic not yet present in the snapshot (a race with
// its own creation CAS) is left alone; the creation write will catch
// up to the same watermark on its own next threshold crossing.
func (a *AppContext) updateTopicWatermarkInSnapshot(ctx context.Context, topicId model.TopicId, maxMessageId model.MessageId) error {
	return snapshot.CompareAndSwap(ctx, a.snapshot, func(existing []snapshot.TopicRecord) []snapshot.TopicRecord {
		out := make([]snapshot.TopicRecord, len(existing))
		copy(out, existing)
		for i, r := range out {
			if r.TopicId != topicId {
				continue
			}
			out[i].MaxMessageId = maxMessageId
			out[i].MaxPageIdToPersist = model.PageIdOf(maxMessageId)
			break
		}
		return out
	})
}

// ListTopics returns every topic id recorded in the cluster-wide
// topics snapshot, including ones not yet loaded in this process.
func (a *AppContext) ListTopics(ctx context.Context) ([]model.TopicId, error) {
	snap, _, err := snapshot.Load(ctx, a.snapshot)
	if err != nil {
		return nil, err
	}
	ids := make([]model.TopicId, 0, len(snap.Topics))
	for _, r := range snap.Topics {
		ids = append(ids, r.TopicId)
	}
	return ids, nil
}

// DeleteTopic stops the topic's scheduler, best-effort deletes the
// blobs of its loaded pages and attached year indexes, and then removes
// it from the topics snapshot. Compressed cluster blobs are not
// deleted. A topic that was never loaded in this process is only
// removed from the snapshot; its blobs stay in place — see DESIGN.md's
// decision for the delete_topic open question.
func (a *AppContext) DeleteTopic(ctx context.Context, topicId model.TopicId) error {
	a.mu.Lock()
	e, ok := a.topics[topicId]
	delete(a.topics, topicId)
	a.mu.Unlock()

	if ok {
		if e.scheduler != nil {
			e.scheduler.Stop()
		}

		for _, v := range e.data.Pages.SnapshotAll() {
			if up, err := v.Uncompressed(); err == nil {
				if err := up.DeleteBlob(ctx); err != nil {
					logger.Errorf("app: delete topic %s page %d: %v", topicId, v.PageId(), err)
				}
			}
		}

		if err := e.data.Index.GC(ctx, func(year int) bool { return false }); err != nil {
			logger.Errorf("app: delete topic %s year indexes: %v", topicId, err)
		}
	}

	return a.removeTopicFromSnapshot(ctx, topicId)
}

// Shutdown drains every running topic scheduler, blocking until each
// has finished its final flush (spec §5: "a shutdown signal waits for
// in-flight flushes and then drains dirty pages one last time before
// terminating"). ctx is accepted for signature symmetry with the
// rest of the process's lifecycle calls; the drain itself is not
// cancellable mid-flush, matching Scheduler.Stop.
func (a *AppContext) Shutdown(ctx context.Context) {
	a.mu.Lock()
	schedulers := make([]*topic.Scheduler, 0, len(a.topics))
	for _, e := range a.topics {
		if e.scheduler != nil {
			schedulers = append(schedulers, e.scheduler)
		}
	}
	a.mu.Unlock()

	for _, s := range schedulers {
		s.Stop()
	}
}

func (a *AppContext) removeTopicFromSnapshot(ctx context.Context, topicId model.TopicId) error {
	return snapshot.CompareAndSwap(ctx, a.snapshot, func(existing []snapshot.TopicRecord) []snapshot.TopicRecord {
		out := make([]snapshot.TopicRecord, 0, len(existing))
		for _, r := range existing {
			if r.TopicId != topicId {
				out = append(out, r)
			}
		}
		return out
	})
}
