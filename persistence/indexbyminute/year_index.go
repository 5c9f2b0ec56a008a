// Package indexbyminute implements the per-topic, per-year "index by
// minute" (spec §4.5): a blob of 366·24·60 slots, one per minute of a
// calendar year, each holding the smallest MessageId observed within
// that minute. Slots of earlier minutes are not back-filled; the first
// id at or after a minute is found by scanning forward from its slot
// (FirstAtOrAfterWithinYear). It rides the same PageBlobRandomAccess substrate
// as pages and clusters, grounded on the same ibd_file.go-style
// byte-addressed read/write the teacher repo uses, just with raw
// fixed-width slots instead of a FileToc extent table.
package indexbyminute

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/util"
)

// DaysPerYear is fixed at 366 regardless of whether the actual year is
// a leap year (spec §4.5: "leap year handling is not performed").
const DaysPerYear = 366

// SlotsPerYear is the number of one-minute slots in one year blob.
const SlotsPerYear = DaysPerYear * 24 * 60

const slotWidth = 8
const slotsPerPage = int(model.PageBlobPageSize) / slotWidth

// PagesPerYear is how many 512-byte pages a full year index occupies.
func PagesPerYear() int {
	bytes := SlotsPerYear * slotWidth
	pages := bytes / int(model.PageBlobPageSize)
	if bytes%int(model.PageBlobPageSize) != 0 {
		pages++
	}
	return pages
}

// MinuteOfYear converts a UTC instant to its (year, minuteOfYear) pair,
// minuteOfYear in [0, SlotsPerYear).
func MinuteOfYear(t time.Time) (year int, minuteOfYear int) {
	t = t.UTC()
	dayOfYear := t.YearDay() - 1
	minuteOfYear = dayOfYear*24*60 + t.Hour()*60 + t.Minute()
	return t.Year(), minuteOfYear
}

// YearAndMinuteFromMicros is the microsecond-timestamp entry point
// Update and the resolver use.
func YearAndMinuteFromMicros(createdMicros int64) (year int, minuteOfYear int) {
	return MinuteOfYear(time.UnixMicro(createdMicros))
}

// YearIndex owns the blob for one (topic, year) pair. Slots are stored
// biased by +1 (0 means "never written") so a blob that reads back as
// all-zero bytes — the natural state of an unallocated page on
// PageBlobRandomAccess — decodes as every slot absent without needing
// to eagerly pre-fill -1 sentinels across 527 040 slots on create.
type YearIndex struct {
	mu sync.Mutex

	Year int
	blob *pageblob.PageBlobRandomAccess
}

// NewBrandNew creates a year index with no backing blob yet.
func NewBrandNew(year int) *YearIndex {
	return &YearIndex{Year: year}
}

// AttachBlob lazily opens/creates the backing blob the first time
// Update needs it.
func (y *YearIndex) AttachBlob(blob *pageblob.PageBlobRandomAccess) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.blob = blob
}

func pageForSlot(slot int) (pageOffset int64, localOffset int) {
	byteOffset := slot * slotWidth
	pageIdx := byteOffset / int(model.PageBlobPageSize)
	return int64(pageIdx) * model.PageBlobPageSize, byteOffset % int(model.PageBlobPageSize)
}

func decodeSlot(raw []byte) (id model.MessageId, present bool) {
	_, stored := util.ReadUB8Long(raw, 0)
	if stored == 0 {
		return 0, false
	}
	return stored - 1, true
}

func encodeSlot(dst []byte, id model.MessageId) {
	encoded := util.WriteUB8(nil, uint64(id)+1)
	copy(dst, encoded)
}

// Update records that messageId was observed at minuteOfYear, keeping
// the slot's existing value if it is already present and no greater
// than messageId, so the slot holds the smallest id seen in that
// minute. Only this minute's slot is written.
func (y *YearIndex) Update(ctx context.Context, minuteOfYear int, messageId model.MessageId) error {
	if minuteOfYear < 0 || minuteOfYear >= SlotsPerYear {
		return errors.Errorf("indexbyminute: minute %d out of range", minuteOfYear)
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.blob == nil {
		return errors.New("indexbyminute: update before blob is opened")
	}

	pageOffset, localOffset := pageForSlot(minuteOfYear)

	raw, err := y.blob.Read(ctx, pageOffset, model.PageBlobPageSize)
	if err != nil {
		return errors.Wrapf(err, "indexbyminute: year %d read slot %d", y.Year, minuteOfYear)
	}

	current, present := decodeSlot(raw[localOffset:])
	if present && current <= messageId {
		return nil
	}

	encodeSlot(raw[localOffset:], messageId)

	if err := y.blob.WriteAt(ctx, pageOffset, raw, 0); err != nil {
		return errors.Wrapf(err, "indexbyminute: year %d write slot %d", y.Year, minuteOfYear)
	}
	return nil
}

// Lookup returns the slot value for minuteOfYear, ok=false for -1 /
// never written / out of range.
func (y *YearIndex) Lookup(ctx context.Context, minuteOfYear int) (model.MessageId, bool, error) {
	if minuteOfYear < 0 || minuteOfYear >= SlotsPerYear {
		return 0, false, nil
	}

	y.mu.Lock()
	blob := y.blob
	y.mu.Unlock()
	if blob == nil {
		return 0, false, nil
	}

	pageOffset, localOffset := pageForSlot(minuteOfYear)
	raw, err := blob.Read(ctx, pageOffset, model.PageBlobPageSize)
	if err != nil {
		return 0, false, errors.Wrapf(err, "indexbyminute: year %d read slot %d", y.Year, minuteOfYear)
	}

	id, present := decodeSlot(raw[localOffset:])
	return id, present, nil
}

// FirstAtOrAfterWithinYear scans forward from startMinute to the end of
// the year (or until a non-absent slot appears), bounded by maxMinutes
// steps so a sparse year never turns into an unbounded scan (spec
// §4.5: "bounded by a configurable horizon").
func (y *YearIndex) FirstAtOrAfterWithinYear(ctx context.Context, startMinute int, maxMinutes int) (model.MessageId, bool, error) {
	if startMinute >= SlotsPerYear {
		return 0, false, nil
	}
	if startMinute < 0 {
		startMinute = 0
	}

	end := startMinute + maxMinutes
	if end > SlotsPerYear {
		end = SlotsPerYear
	}

	for minute := startMinute; minute < end; minute++ {
		id, ok, err := y.Lookup(ctx, minute)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}
