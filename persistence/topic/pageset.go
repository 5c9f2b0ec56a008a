// Package topic implements the per-topic page registry and writer
// scheduler (spec §4.6): the in-memory map from page id to page, and
// the periodic tick that flushes, promotes and indexes it. Grounded on
// the registry/lock discipline of server/innodb/buffer_pool.BufferPool
// in the teacher repo, generalized from a fixed-size eviction pool to
// an unbounded per-topic map with idle-based promotion instead of
// LRU eviction.
package topic

import (
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/page"

	"sync"
)

// PageSet is the per-topic `PageId → Page` registry. The lock here
// guards only lookup/insert/remove of entries, never I/O (spec §5:
// "Topic page-registry lock is held only for lookup/insert/remove; it
// is never held across I/O").
type PageSet struct {
	mu    sync.Mutex
	pages map[model.PageId]*page.MessagesPage
}

// NewPageSet returns an empty registry.
func NewPageSet() *PageSet {
	return &PageSet{pages: make(map[model.PageId]*page.MessagesPage)}
}

// GetOrCreateUninitialized returns the existing entry for pageId, or
// inserts and returns a fresh Empty placeholder (spec §4.6).
func (ps *PageSet) GetOrCreateUninitialized(pageId model.PageId) *page.MessagesPage {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if v, ok := ps.pages[pageId]; ok {
		return v
	}
	v := page.NewEmpty(pageId)
	ps.pages[pageId] = v
	return v
}

// Get returns the entry for pageId without creating one.
func (ps *PageSet) Get(pageId model.PageId) (*page.MessagesPage, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	v, ok := ps.pages[pageId]
	return v, ok
}

// SetUncompressed replaces (or creates) pageId's entry with an
// initialized Uncompressed variant wrapping up — how a page moves from
// the Empty placeholder to a live buffer after a fresh create or a
// rehydrate-from-blob.
func (ps *PageSet) SetUncompressed(pageId model.PageId, up *page.UncompressedPage) *page.MessagesPage {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	v := page.NewUncompressed(up)
	ps.pages[pageId] = v
	return v
}

// Remove evicts pageId from the registry (after a successful promotion
// to the compressed cluster, per spec §4.6 step 3).
func (ps *PageSet) Remove(pageId model.PageId) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.pages, pageId)
}

// SnapshotPagesWithDirtyData returns every currently-registered page
// that has buffered, unflushed data, for the scheduler's flush step.
func (ps *PageSet) SnapshotPagesWithDirtyData() []*page.MessagesPage {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]*page.MessagesPage, 0)
	for _, v := range ps.pages {
		if v.HasMessagesToSave() {
			out = append(out, v)
		}
	}
	return out
}

// SnapshotAll returns every currently-registered page, for the
// scheduler's promotion/GC step which must also see fully-flushed,
// idle pages.
func (ps *PageSet) SnapshotAll() []*page.MessagesPage {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]*page.MessagesPage, 0, len(ps.pages))
	for _, v := range ps.pages {
		out = append(out, v)
	}
	return out
}

// QueueSize is the total count of buffered, unflushed messages across
// every page in the registry.
func (ps *PageSet) QueueSize() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	total := 0
	for _, v := range ps.pages {
		total += v.MessagesAmountToSave()
	}
	return total
}
