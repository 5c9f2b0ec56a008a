// Package filetoc implements the fixed-size table of contents that
// maps a logical slot id to a byte extent on a page blob — used both
// as the per-message TOC inside an uncompressed page (slots =
// MessagesPerPage) and as the per-page TOC inside a compressed
// cluster (slots = PagesPerCluster). Grounded on the offset/size pair
// bookkeeping server/innodb/storage/store/pages.InodePage and
// AllocatedPage do for extent slots in the teacher repo, generalized
// to an arbitrary slot count and persisted over PageBlobRandomAccess
// instead of a local *os.File.
package filetoc

import (
	"context"
	"sync"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/util"
)

// entrySize is the on-blob width of one {offset:u32, size:u32} slot.
const entrySize = 8

// RequiredTocPages returns how many 512-byte pages a TOC of
// slotCount slots needs, rounded up (spec §3: "First TOC_SIZE_IN_PAGES
// pages of the blob store the TOC").
func RequiredTocPages(slotCount int) int {
	bytes := slotCount * entrySize
	pages := bytes / int(model.PageBlobPageSize)
	if bytes%int(model.PageBlobPageSize) != 0 {
		pages++
	}
	return pages
}

// Entry is a slot's extent on the blob. The zero value means "slot
// absent" (spec §3 FileToc invariant).
type Entry struct {
	Offset uint32
	Size   uint32
}

// Present reports whether the slot has ever been written.
func (e Entry) Present() bool {
	return e.Offset != 0 || e.Size != 0
}

// FileToc is a fixed array of slots, persisted in the first
// tocPages pages of a blob. Reads/writes are serialized by mu, the
// way BasePage in the teacher repo guards its Content with a
// sync.RWMutex.
type FileToc struct {
	mu sync.RWMutex

	tocPages      int
	tocBytes      int
	slots         []Entry
	writePosition uint32
}

// New builds an empty FileToc sized for slotCount slots, occupying
// tocPages pages of the blob.
func New(tocPages int, slotCount int) *FileToc {
	return &FileToc{
		tocPages:      tocPages,
		tocBytes:      tocPages * int(model.PageBlobPageSize),
		slots:         make([]Entry, slotCount),
		writePosition: uint32(tocPages) * uint32(model.PageBlobPageSize),
	}
}

// ReadToc loads tocPages pages from blob and decodes slotCount
// entries from them. A blob shorter than the TOC reads as all-zero
// (absent) slots, per spec §4.2.
func ReadToc(ctx context.Context, blob interface {
	Read(ctx context.Context, offset int64, length int64) ([]byte, error)
}, tocPages int, slotCount int) (*FileToc, error) {
	t := New(tocPages, slotCount)

	raw, err := blob.Read(ctx, 0, int64(t.tocBytes))
	if err != nil {
		return nil, err
	}

	cursor := 0
	maxCursor := len(raw) / entrySize
	if maxCursor > slotCount {
		maxCursor = slotCount
	}

	for i := 0; i < maxCursor; i++ {
		var off, sz uint32
		cursor, off = util.ReadUB4(raw, cursor)
		cursor, sz = util.ReadUB4(raw, cursor)
		t.slots[i] = Entry{Offset: off, Size: sz}
	}

	t.writePosition = roundUp512(t.maxExtentEnd())
	if t.writePosition < uint32(t.tocBytes) {
		t.writePosition = uint32(t.tocBytes)
	}

	return t, nil
}

func (t *FileToc) maxExtentEnd() uint32 {
	var max uint32
	for _, e := range t.slots {
		if !e.Present() {
			continue
		}
		end := e.Offset + e.Size
		if end > max {
			max = end
		}
	}
	return max
}

func roundUp512(v uint32) uint32 {
	rem := v % uint32(model.PageBlobPageSize)
	if rem == 0 {
		return v
	}
	return v + (uint32(model.PageBlobPageSize) - rem)
}

// GetPosition returns the extent for slot, or the zero Entry if
// absent or out of range.
func (t *FileToc) GetPosition(slot int) Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if slot < 0 || slot >= len(t.slots) {
		return Entry{}
	}
	return t.slots[slot]
}

// HasContent reports whether slot holds a plausible extent: non-zero
// size and no larger than maxReasonable. A corrupted slot (spec §7)
// claiming an absurd size reads as absent rather than crashing a
// reader.
func (t *FileToc) HasContent(slot int, maxReasonable uint32) bool {
	e := t.GetPosition(slot)
	return e.Size > 0 && e.Size <= maxReasonable
}

// GetWritePosition returns the monotonic append cursor: the end of
// the furthest present slot extent, rounded up to 512, never below the
// TOC size itself.
func (t *FileToc) GetWritePosition() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.writePosition
}

// IncreaseWritePosition advances the cursor by delta bytes, rounded
// up to 512, used right after a caller appends a new extent of that
// length at the previous cursor.
func (t *FileToc) IncreaseWritePosition(delta uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writePosition = roundUp512(t.writePosition + delta)
}

// UpdateFilePosition sets slot's extent and returns the index of the
// TOC page that now needs to be persisted, so the caller can write
// back only that page instead of the whole TOC.
func (t *FileToc) UpdateFilePosition(slot int, entry Entry) (dirtyTocPage int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slot < 0 || slot >= len(t.slots) {
		return 0, false
	}
	t.slots[slot] = entry

	byteOffset := slot * entrySize
	return byteOffset / int(model.PageBlobPageSize), true
}

// TocPageBytes serializes one 512-byte TOC page (pageIdx in
// [0,tocPages)) for a caller to persist in isolation.
func (t *FileToc) TocPageBytes(pageIdx int) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	page := make([]byte, model.PageBlobPageSize)
	slotsPerPage := int(model.PageBlobPageSize) / entrySize
	firstSlot := pageIdx * slotsPerPage

	cursor := 0
	for i := 0; i < slotsPerPage; i++ {
		slot := firstSlot + i
		var e Entry
		if slot < len(t.slots) {
			e = t.slots[slot]
		}
		page = util.WriteUB4(page[:cursor], e.Offset)
		page = util.WriteUB4(page, e.Size)
		cursor += entrySize
	}
	return page
}

// TocPageOffset returns the blob byte offset of TOC page pageIdx.
func (t *FileToc) TocPageOffset(pageIdx int) int64 {
	return int64(pageIdx) * model.PageBlobPageSize
}

// SlotCount returns how many slots this TOC was sized for.
func (t *FileToc) SlotCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// TocSizeInBytes is the number of bytes the TOC itself occupies on
// the blob — slots at offsets below this are always invalid.
func (t *FileToc) TocSizeInBytes() int {
	return t.tocBytes
}
