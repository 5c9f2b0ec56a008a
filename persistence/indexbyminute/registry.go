package indexbyminute

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
)

// BlobOpener resolves the BlobStore backing one topic's year index,
// deferring the actual container/blob naming scheme to the caller
// (persistence/naming).
type BlobOpener func(ctx context.Context, year int) (pageblob.BlobStore, error)

// Registry owns every year index opened so far for one topic, per
// spec §4.5's per-year exclusive lock (here, one YearIndex per year,
// each independently mutexed).
type Registry struct {
	mu    sync.RWMutex
	years map[int]*YearIndex

	open func(ctx context.Context, year int) (pageblob.BlobStore, error)
}

// NewRegistry builds an empty registry. open is called the first time
// a year is touched, and again on later touches for as long as that
// year's blob does not exist yet.
func NewRegistry(open BlobOpener) *Registry {
	return &Registry{
		years: make(map[int]*YearIndex),
		open:  open,
	}
}

func (r *Registry) getOrOpen(ctx context.Context, year int, createIfMissing bool) (*YearIndex, error) {
	r.mu.RLock()
	yi, ok := r.years[year]
	r.mu.RUnlock()
	if ok {
		return yi, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if yi, ok := r.years[year]; ok {
		return yi, nil
	}

	store, err := r.open(ctx, year)
	if err != nil {
		return nil, errors.Wrapf(err, "indexbyminute: open year %d store", year)
	}

	var blob *pageblob.PageBlobRandomAccess
	if createIfMissing {
		blob, err = pageblob.OpenOrCreate(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	} else {
		blob, err = pageblob.OpenIfExists(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "indexbyminute: open year %d blob", year)
	}
	if blob == nil {
		// Missing-year blobs are treated as empty (spec §4.5), not an
		// error: return a detached index whose Lookup always misses. It
		// is not cached, so a later Update still creates the blob.
		return NewBrandNew(year), nil
	}

	yi = NewBrandNew(year)
	yi.AttachBlob(blob)
	r.years[year] = yi
	return yi, nil
}

// Update advances the index for one observed message (spec §4.5:
// "computes (year, minute_of_year) and ... writes the new value").
func (r *Registry) Update(ctx context.Context, createdMicros int64, messageId model.MessageId) error {
	year, minute := YearAndMinuteFromMicros(createdMicros)

	yi, err := r.getOrOpen(ctx, year, true)
	if err != nil {
		return err
	}

	return yi.Update(ctx, minute, messageId)
}

// defaultHorizonMinutes bounds get_first_message_id_at_or_after scans when the
// caller does not override it (spec §4.5 example: "e.g. 24 h").
const defaultHorizonMinutes = 24 * 60

// GetFirstMessageIdAtOrAfter scans forward from created across year
// boundaries, bounded by horizon, returning the first message id
// observed at or after that instant.
func (r *Registry) GetFirstMessageIdAtOrAfter(ctx context.Context, createdMicros int64, horizon time.Duration) (model.MessageId, bool, error) {
	remaining := int(horizon / time.Minute)
	if remaining <= 0 {
		remaining = defaultHorizonMinutes
	}

	year, minute := YearAndMinuteFromMicros(createdMicros)

	for remaining > 0 {
		yi, err := r.getOrOpen(ctx, year, false)
		if err != nil {
			return 0, false, err
		}

		span := SlotsPerYear - minute
		if span > remaining {
			span = remaining
		}

		id, ok, err := yi.FirstAtOrAfterWithinYear(ctx, minute, span)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}

		remaining -= span
		year++
		minute = 0
	}

	return 0, false, nil
}

// GC deletes year index blobs for years retain reports as no longer
// needed by any topic (spec §4.5: "a yearly index is deleted when no
// topic retains messages in that year").
func (r *Registry) GC(ctx context.Context, retain func(year int) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for year, yi := range r.years {
		if retain(year) {
			continue
		}
		if yi.blob != nil {
			if err := yi.blob.Delete(ctx); err != nil {
				return errors.Wrapf(err, "indexbyminute: gc year %d", year)
			}
		}
		delete(r.years, year)
	}
	return nil
}
