package pageblob

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
)

// DefaultMaxPagesPerRoundTrip is 3 MiB worth of 512-byte pages, the cap
// named in spec §4.1 and §6.
const DefaultMaxPagesPerRoundTrip = 1024 * 1024 * 3 / 512

// PageBlobRandomAccess wraps a BlobStore with retry masking and a
// write-combining round-trip cap, exposing byte-addressed reads and
// writes the way IBD_File exposed ReadPage/writePageUnsafe over a
// local file in the teacher repo (server/innodb/storage/store/ibd).
// It never caches; callers (FileToc, UncompressedPage, CompressedCluster)
// cache above it.
type PageBlobRandomAccess struct {
	mu sync.RWMutex

	store                BlobStore
	maxPagesPerRoundTrip int
	retry                RetryPolicy
	sizeInPages          int
}

// OpenIfExists opens store if the blob already exists, returning
// (nil, nil) if it is absent (a 404 is a definite, non-error answer).
func OpenIfExists(ctx context.Context, store BlobStore, maxPagesPerRoundTrip int) (*PageBlobRandomAccess, error) {
	retry := DefaultRetryPolicy()

	var exists bool
	err := retry.Do(ctx, "exists", func() error {
		var e error
		exists, e = store.Exists(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	p := &PageBlobRandomAccess{
		store:                store,
		maxPagesPerRoundTrip: cappedRoundTrip(maxPagesPerRoundTrip),
		retry:                retry,
	}

	if err := retry.Do(ctx, "size", func() error {
		n, e := store.SizeInPages(ctx)
		p.sizeInPages = n
		return e
	}); err != nil {
		return nil, err
	}

	return p, nil
}

// OpenOrCreate opens store, creating a single-page blob if it does not
// yet exist. A 409 racing another writer's create is treated as
// "already exists" and folded into a successful open.
func OpenOrCreate(ctx context.Context, store BlobStore, maxPagesPerRoundTrip int) (*PageBlobRandomAccess, error) {
	p, err := OpenIfExists(ctx, store, maxPagesPerRoundTrip)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	retry := DefaultRetryPolicy()
	err = retry.Do(ctx, "create", func() error {
		e := store.Create(ctx, 1)
		if KindOf(e) == ErrKindConflict {
			return nil
		}
		return e
	})
	if err != nil {
		return nil, err
	}

	return &PageBlobRandomAccess{
		store:                store,
		maxPagesPerRoundTrip: cappedRoundTrip(maxPagesPerRoundTrip),
		retry:                retry,
		sizeInPages:          1,
	}, nil
}

func cappedRoundTrip(n int) int {
	if n <= 0 {
		return DefaultMaxPagesPerRoundTrip
	}
	return n
}

// Resize grows the blob to at least minPages pages if it is smaller.
func (p *PageBlobRandomAccess) Resize(ctx context.Context, minPages int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sizeInPages >= minPages {
		return nil
	}

	if err := p.retry.Do(ctx, "resize", func() error {
		return p.store.Resize(ctx, minPages)
	}); err != nil {
		return err
	}

	p.sizeInPages = minPages
	return nil
}

// SizeInPages returns the blob's current allocated size.
func (p *PageBlobRandomAccess) SizeInPages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sizeInPages
}

// Read returns the len bytes at [offset, offset+len) by reading the
// enclosing 512-byte-aligned page window and slicing it, per §4.1.
func (p *PageBlobRandomAccess) Read(ctx context.Context, offset int64, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}

	alignedStart := alignDown(offset)
	alignedEnd := alignUp(offset + length)

	p.mu.RLock()
	sizePages := p.sizeInPages
	p.mu.RUnlock()

	available := int64(sizePages) * model.PageBlobPageSize
	if alignedEnd > available {
		alignedEnd = available
	}
	if alignedEnd <= alignedStart {
		return make([]byte, length), nil
	}

	var buf []byte
	err := p.retry.Do(ctx, "read", func() error {
		b, e := p.store.ReadRange(ctx, alignedStart, alignedEnd-alignedStart)
		buf = b
		return e
	})
	if err != nil {
		return nil, err
	}

	result := make([]byte, length)
	sliceStart := offset - alignedStart
	sliceEnd := sliceStart + length
	if sliceEnd > int64(len(buf)) {
		sliceEnd = int64(len(buf))
	}
	if sliceStart < int64(len(buf)) {
		copy(result, buf[sliceStart:sliceEnd])
	}

	return result, nil
}

// WriteAt writes data at offset, zero-padding to a 512-byte boundary
// and growing the blob to at least minPagesToExtend pages first if it
// is currently smaller. Large writes are split into rounds of at most
// maxPagesPerRoundTrip pages.
func (p *PageBlobRandomAccess) WriteAt(ctx context.Context, offset int64, data []byte, minPagesToExtend int) error {
	if len(data) == 0 {
		return nil
	}

	alignedStart := alignDown(offset)
	padded := make([]byte, alignUp(offset+int64(len(data)))-alignedStart)
	copy(padded[offset-alignedStart:], data)

	requiredPages := int((alignedStart + int64(len(padded))) / model.PageBlobPageSize)
	if requiredPages < minPagesToExtend {
		requiredPages = minPagesToExtend
	}
	if err := p.Resize(ctx, requiredPages); err != nil {
		return errors.Wrap(err, "pageblob: resize before write")
	}

	roundTripBytes := int64(p.maxPagesPerRoundTrip) * model.PageBlobPageSize

	for written := int64(0); written < int64(len(padded)); written += roundTripBytes {
		end := written + roundTripBytes
		if end > int64(len(padded)) {
			end = int64(len(padded))
		}
		chunk := padded[written:end]
		chunkOffset := alignedStart + written

		if err := p.retry.Do(ctx, "write", func() error {
			return p.store.WritePages(ctx, chunkOffset, chunk)
		}); err != nil {
			return err
		}
	}

	return nil
}

// SavePages writes exactly one 512-byte page at logical page index
// pageIndex (offset = pageIndex*512), per the save_pages contract in
// spec §4.1.
func (p *PageBlobRandomAccess) SavePages(ctx context.Context, pageIndex int, pageBytes []byte) error {
	return p.WriteAt(ctx, int64(pageIndex)*model.PageBlobPageSize, pageBytes, pageIndex+1)
}

// Delete removes the underlying blob.
func (p *PageBlobRandomAccess) Delete(ctx context.Context) error {
	return p.retry.Do(ctx, "delete", func() error {
		return p.store.Delete(ctx)
	})
}

func alignDown(offset int64) int64 {
	return (offset / model.PageBlobPageSize) * model.PageBlobPageSize
}

func alignUp(offset int64) int64 {
	rem := offset % model.PageBlobPageSize
	if rem == 0 {
		return offset
	}
	return offset + (model.PageBlobPageSize - rem)
}
