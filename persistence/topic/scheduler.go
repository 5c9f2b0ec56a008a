package topic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
)

// Scheduler runs one cooperative tick loop per topic (spec §4.6). It
// holds no state of its own beyond what it needs to start/stop — all
// durable state lives on the TopicData it drives.
type Scheduler struct {
	topic *TopicData
	cfg   Config

	stop   chan struct{}
	done   chan struct{}
	ticked int64 // atomic tick counter, exposed for tests
}

// NewScheduler builds a scheduler bound to one topic.
func NewScheduler(topic *TopicData, cfg Config) *Scheduler {
	return &Scheduler{
		topic: topic,
		cfg:   cfg,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run drives ticks at cfg.TickInterval until Stop is called or ctx is
// canceled. Per spec §5: "Scheduler ticks are not cancellable
// mid-flush; a shutdown signal waits for in-flight flushes and then
// drains dirty pages one last time before terminating."
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.drainOnShutdown(ctx)
			return
		case <-ctx.Done():
			s.drainOnShutdown(context.Background())
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				logger.Errorf("topic %s: scheduler tick failed: %v", s.topic.TopicId, err)
			}
			atomic.AddInt64(&s.ticked, 1)
		}
	}
}

func (s *Scheduler) drainOnShutdown(ctx context.Context) {
	if err := s.flushDirtyPages(ctx); err != nil {
		logger.Errorf("topic %s: final drain failed: %v", s.topic.TopicId, err)
	}
}

// Stop signals Run to exit and blocks until it has drained.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Tick runs the five scheduler steps from spec §4.6 once.
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := s.flushDirtyPages(ctx); err != nil {
		return err
	}
	if err := s.promoteIdlePages(ctx); err != nil {
		return err
	}
	if err := s.advanceIndex(ctx); err != nil {
		return err
	}
	s.maybeNotifySnapshotDue()
	return nil
}

// flushDirtyPages is steps 1-2: snapshot dirty pages, flush each with
// bounded concurrency (one flush in flight per page, but pages flush
// concurrently with each other, per spec §5).
func (s *Scheduler) flushDirtyPages(ctx context.Context) error {
	appendedBefore := s.topic.MaxMessageId()
	dirty := s.topic.Pages.SnapshotPagesWithDirtyData()
	if len(dirty) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(dirty))

	for i, v := range dirty {
		up, err := v.Uncompressed()
		if err != nil {
			continue // an Empty placeholder never reports dirty data
		}

		wg.Add(1)
		go func(i int, up interface{ Flush(context.Context) error }) {
			defer wg.Done()
			errs[i] = up.Flush(ctx)
		}(i, up)
	}
	wg.Wait()

	var first error
	for _, e := range errs {
		if e != nil && first == nil {
			first = e
		}
	}
	if first != nil {
		if pageblob.KindOf(first) == pageblob.ErrKindFatal && s.topic.cfg.Health != nil {
			s.topic.cfg.Health.Halt(s.topic.TopicId, first)
		}
		return errors.Wrapf(first, "topic %s: flush", s.topic.TopicId)
	}

	s.topic.bumpMaxMessageIdPersisted(appendedBefore)
	return nil
}

// bumpMaxMessageIdPersisted is a conservative approximation: once a
// tick's flush pass completes with no error, everything appended
// before that pass started (up to appendedBefore) is durable.
func (t *TopicData) bumpMaxMessageIdPersisted(appendedBefore model.MessageId) {
	atomic.StoreInt64(&t.maxMessageIdPersisted, appendedBefore)
}

// promoteIdlePages is step 3: any page below the current write
// frontier, with nothing left to flush, untouched for longer than
// IdleThreshold, is archived into its compressed cluster and evicted.
func (s *Scheduler) promoteIdlePages(ctx context.Context) error {
	currentPageId := model.PageIdOf(s.topic.MaxMessageId())

	for _, v := range s.topic.Pages.SnapshotAll() {
		if v.PageId() >= currentPageId {
			continue
		}
		if v.HasMessagesToSave() {
			continue
		}

		up, err := v.Uncompressed()
		if err != nil {
			continue
		}
		if time.Since(up.LastWriteTime()) <= s.cfg.IdleThreshold {
			continue
		}

		messages, err := up.LoadAllForPromotion(ctx)
		if err != nil {
			return errors.Wrapf(err, "topic %s: load page %d for promotion", s.topic.TopicId, v.PageId())
		}
		if len(messages) == 0 {
			continue
		}

		clusterId := model.ClusterIdOf(v.PageId())
		c, err := s.topic.getOrCreateCluster(ctx, clusterId)
		if err != nil {
			return err
		}

		if err := c.SaveClusterPage(ctx, v.PageId(), messages); err != nil {
			return errors.Wrapf(err, "topic %s: save cluster page %d", s.topic.TopicId, v.PageId())
		}

		if err := up.DeleteBlob(ctx); err != nil {
			logger.Errorf("topic %s: delete promoted page %d blob: %v", s.topic.TopicId, v.PageId(), err)
		}

		s.topic.Pages.Remove(v.PageId())
	}

	return nil
}

// advanceIndex is step 4: drain messages observed since the last tick
// into the index-by-minute registry.
func (s *Scheduler) advanceIndex(ctx context.Context) error {
	s.topic.pendingMu.Lock()
	batch := s.topic.pendingForIndex
	s.topic.pendingForIndex = nil
	s.topic.pendingMu.Unlock()

	for _, m := range batch {
		if err := s.topic.Index.Update(ctx, m.Created, m.MessageId); err != nil {
			return errors.Wrapf(err, "topic %s: index update for message %d", s.topic.TopicId, m.MessageId)
		}
	}
	return nil
}

// maybeNotifySnapshotDue is step 5.
func (s *Scheduler) maybeNotifySnapshotDue() {
	if s.cfg.NotifySnapshotDue == nil || s.cfg.SnapshotThresholdMessages <= 0 {
		return
	}

	current := s.topic.MaxMessageId()
	last := atomic.LoadInt64(&s.topic.lastSnapshotMaxId)
	if current-last < s.cfg.SnapshotThresholdMessages {
		return
	}
	if !atomic.CompareAndSwapInt64(&s.topic.lastSnapshotMaxId, last, current) {
		return
	}
	s.cfg.NotifySnapshotDue(s.topic.TopicId)
}
