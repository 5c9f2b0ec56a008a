// Package page implements the uncompressed in-memory page buffer
// (spec §4.3) and its MessagesPage tagged-variant wrapper (spec §9:
// "model as a tagged variant with two states; refuse operations that
// require the uncompressed variant with an explicit error rather than
// a language-level panic" — the Rust original panics in
// unwrap_as_uncompressed_page; we return ErrWrongVariant instead).
package page

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/filetoc"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/wire"
)

// ErrWrongVariant is returned instead of panicking when an operation
// that needs the Uncompressed variant is called on an Empty page.
var ErrWrongVariant = errors.New("page: operation requires the uncompressed variant")

// Metrics mirrors the Rust original's PageWriterMetrics: how many
// messages are sitting in the in-memory buffer awaiting flush, and
// when the page was last written to.
type Metrics struct {
	mu                   sync.RWMutex
	MessagesToSaveAmount int
	LastWriteTime        time.Time
}

func (m *Metrics) snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{MessagesToSaveAmount: m.MessagesToSaveAmount, LastWriteTime: m.LastWriteTime}
}

func (m *Metrics) recordAppend(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesToSaveAmount += n
	m.LastWriteTime = time.Now()
}

func (m *Metrics) recordFlushed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesToSaveAmount -= n
	if m.MessagesToSaveAmount < 0 {
		m.MessagesToSaveAmount = 0
	}
}

// UncompressedPage owns the blob for one page_id and buffers up to
// MessagesPerPage messages in memory, writing them back through a
// secondary per-message FileToc (spec §4.3: "A page's on-blob layout
// is itself a tiny FileToc").
type UncompressedPage struct {
	mu sync.Mutex

	PageId model.PageId
	blob   *pageblob.PageBlobRandomAccess
	toc    *filetoc.FileToc

	messages     map[model.MessageId]*model.Message
	dirty        DirtyInterval
	pendingFlush int // messages appended since the last successful Flush
	closed       bool

	maxMessageSize uint32
	metrics        Metrics
}

// tocPages is sized for one slot per message in the page.
func tocPages() int {
	return filetoc.RequiredTocPages(int(model.MessagesPerPage))
}

// NewBrandNew creates a page with no backing blob yet — the first
// Append call opens/creates it lazily.
func NewBrandNew(pageId model.PageId, maxMessageSize uint32) *UncompressedPage {
	return &UncompressedPage{
		PageId:         pageId,
		toc:            filetoc.New(tocPages(), int(model.MessagesPerPage)),
		messages:       make(map[model.MessageId]*model.Message),
		maxMessageSize: maxMessageSize,
	}
}

// Rehydrate attaches an already-open blob and reloads its TOC and
// buffered messages aren't re-read eagerly — Get() lazily pulls
// individual messages from the blob on miss, per spec §4.3.
func Rehydrate(ctx context.Context, pageId model.PageId, blob *pageblob.PageBlobRandomAccess, maxMessageSize uint32) (*UncompressedPage, error) {
	toc, err := filetoc.ReadToc(ctx, blob, tocPages(), int(model.MessagesPerPage))
	if err != nil {
		return nil, errors.Wrap(err, "page: read toc")
	}

	return &UncompressedPage{
		PageId:         pageId,
		blob:           blob,
		toc:            toc,
		messages:       make(map[model.MessageId]*model.Message),
		maxMessageSize: maxMessageSize,
	}, nil
}

// Append buffers messages (expected ordered by MessageId) and
// immediately writes each one's bytes to the blob at the TOC write
// cursor, recording the extent in its slot. The message bytes are
// written synchronously; only the TOC pages those slots live on are
// left dirty for Flush to persist.
func (p *UncompressedPage) Append(ctx context.Context, messages []*model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("page: append after close")
	}

	if p.blob == nil {
		return errors.New("page: append before blob is opened")
	}

	for _, msg := range messages {
		slot := model.SlotInPage(msg.MessageId)
		encoded := wire.EncodeMessage(msg)

		offset := int64(p.toc.GetWritePosition())
		if err := p.blob.WriteAt(ctx, offset, encoded, 0); err != nil {
			return errors.Wrapf(err, "page %d: write message %d", p.PageId, msg.MessageId)
		}

		dirtyTocPage, ok := p.toc.UpdateFilePosition(slot, filetoc.Entry{
			Offset: uint32(offset),
			Size:   uint32(len(encoded)),
		})
		if !ok {
			return errors.Errorf("page %d: slot %d out of range", p.PageId, slot)
		}
		p.toc.IncreaseWritePosition(uint32(len(encoded)))

		p.dirty.Add(p.toc.TocPageOffset(dirtyTocPage), model.PageBlobPageSize)

		p.messages[msg.MessageId] = msg
	}

	p.pendingFlush += len(messages)
	p.metrics.recordAppend(len(messages))
	return nil
}

// Flush writes every TOC page in the union of dirty ranges back to
// the blob. On success it clears the dirty interval; on failure
// the page stays dirty and is retried on the scheduler's next tick
// (spec §7: the writer never loses a buffered message to a
// non-fatal error).
func (p *UncompressedPage) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dirty.Empty() {
		return nil
	}

	for _, r := range p.dirty.Ranges() {
		for off := r.Start; off < r.End; off += model.PageBlobPageSize {
			pageIdx := int(off / model.PageBlobPageSize)
			bytes := p.toc.TocPageBytes(pageIdx)
			if err := p.blob.WriteAt(ctx, off, bytes, 0); err != nil {
				return errors.Wrapf(err, "page %d: flush toc page %d", p.PageId, pageIdx)
			}
		}
	}

	flushedMessages := p.pendingFlush
	p.pendingFlush = 0

	p.dirty.Clear()
	p.metrics.recordFlushed(flushedMessages)
	return nil
}

// Get returns a message from the in-memory map, falling back to a
// lazy read from the blob if the page was rehydrated but this
// particular message hasn't been pulled in yet.
func (p *UncompressedPage) Get(ctx context.Context, id model.MessageId) (*model.Message, bool, error) {
	p.mu.Lock()
	if msg, ok := p.messages[id]; ok {
		p.mu.Unlock()
		return msg, true, nil
	}
	blob := p.blob
	toc := p.toc
	p.mu.Unlock()

	if blob == nil || toc == nil {
		return nil, false, nil
	}

	slot := model.SlotInPage(id)
	if !toc.HasContent(slot, p.maxMessageSize) {
		return nil, false, nil
	}

	entry := toc.GetPosition(slot)
	raw, err := blob.Read(ctx, int64(entry.Offset), int64(entry.Size))
	if err != nil {
		return nil, false, errors.Wrapf(err, "page %d: read message %d", p.PageId, id)
	}

	msg, err := wire.DecodeMessage(id, raw)
	if err != nil {
		logger.Warnf("page %d: corrupted record at message %d: %v", p.PageId, id, err)
		return nil, false, nil
	}

	p.mu.Lock()
	p.messages[id] = msg
	p.mu.Unlock()

	return msg, true, nil
}

// Close refuses further appends, flushes any remaining dirty bytes
// and returns whether the page is now eligible for promotion (fully
// populated — every slot in [0,P) present).
func (p *UncompressedPage) Close(ctx context.Context) (readyToPromote bool, err error) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if err := p.Flush(ctx); err != nil {
		return false, err
	}

	return p.IsFull(), nil
}

// IsFull reports whether every slot in the page's range is populated.
func (p *UncompressedPage) IsFull() bool {
	for slot := 0; slot < int(model.MessagesPerPage); slot++ {
		if !p.toc.HasContent(slot, p.maxMessageSize) {
			return false
		}
	}
	return true
}

// DeleteBlob removes the page's backing blob, called once its messages
// have been durably archived into the compressed cluster (spec §4.6:
// "uncompressed blobs are deleted after the cluster copy is
// acknowledged").
func (p *UncompressedPage) DeleteBlob(ctx context.Context) error {
	p.mu.Lock()
	blob := p.blob
	p.mu.Unlock()

	if blob == nil {
		return nil
	}
	return blob.Delete(ctx)
}

// AttachBlob lazily opens/creates the backing blob the first time
// Append needs it (the page starts "blank" per spec's lifecycle note:
// "pages are created lazily on first message whose id falls in their
// range").
func (p *UncompressedPage) AttachBlob(blob *pageblob.PageBlobRandomAccess) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blob = blob
}

// HasMessagesToSave reports whether there is buffered data the
// scheduler still needs to flush.
func (p *UncompressedPage) HasMessagesToSave() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dirty.Empty()
}

// MessagesAmountToSave is queue-size accounting for the topic-level
// GetQueueSize aggregate.
func (p *UncompressedPage) MessagesAmountToSave() int {
	return p.metrics.snapshot().MessagesToSaveAmount
}

// LastWriteTime supports the scheduler's idle-promotion check.
func (p *UncompressedPage) LastWriteTime() time.Time {
	return p.metrics.snapshot().LastWriteTime
}

// AllMessages returns every message currently buffered in memory, used
// when promoting a page to its compressed cluster.
func (p *UncompressedPage) AllMessages() []*model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*model.Message, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m)
	}
	return out
}

// LoadAllForPromotion returns every message in the page, reading any
// slot that was populated on the blob (e.g. after a rehydrate) but
// never pulled into memory. Used when an idle page is about to be
// archived into its compressed cluster (spec §4.6 step 3) — the
// cluster needs the complete set, not just what Get happened to cache.
func (p *UncompressedPage) LoadAllForPromotion(ctx context.Context) ([]*model.Message, error) {
	out := make([]*model.Message, 0, model.MessagesPerPage)
	for slot := 0; slot < int(model.MessagesPerPage); slot++ {
		id := model.FirstMessageIdOfPage(p.PageId) + int64(slot)
		msg, ok, err := p.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, msg)
		}
	}
	return out, nil
}
