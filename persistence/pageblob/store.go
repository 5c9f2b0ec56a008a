// Package pageblob adapts a remote page-blob object store (512-byte
// aligned reads/writes) into a byte-addressable random-access file,
// the way server/innodb/storage/store/ibd.IBD_File adapted a local
// *os.File in the teacher repo. The object-store client itself is an
// external collaborator (spec §1); BlobStore is the contract we need
// from it, and the in-memory FakeBlobStore (fake_store.go) is the only
// concrete implementation we ship.
package pageblob

import (
	"context"
	"errors"
)

// ErrKind classifies an error the object-store client can return, so
// the retry policy can tell "try again" from "this is final".
type ErrKind int

const (
	// ErrKindTransient covers 5xx responses, timeouts and reset
	// connections: masked by retrying with backoff.
	ErrKindTransient ErrKind = iota
	// ErrKindNotFound is a 404: definite absence, never retried.
	ErrKindNotFound
	// ErrKindConflict is a 409: definite existence (e.g. create racing
	// another writer), never retried.
	ErrKindConflict
	// ErrKindFatal is unrecoverable (auth failure, disk full upstream):
	// propagated to the supervisor, never retried.
	ErrKindFatal
)

// StoreError wraps an error from BlobStore with its classification.
type StoreError struct {
	Kind ErrKind
	Err  error
}

func (e *StoreError) Error() string { return e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// Classify builds a StoreError of the given kind, or returns nil for a
// nil cause.
func Classify(kind ErrKind, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: kind, Err: err}
}

// KindOf extracts the ErrKind from err, defaulting to ErrKindFatal for
// an error that never went through Classify (better to halt the topic
// than silently treat an unknown failure as transient).
func KindOf(err error) ErrKind {
	if err == nil {
		return ErrKindTransient
	}
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindFatal
}

// BlobStore is the page-blob API surface the adapter needs: byte-range
// reads, 512-byte-aligned page writes, resize, create, delete. All
// reads/writes are assumed 512-byte aligned by the implementation;
// PageBlobRandomAccess is the layer that relaxes that for callers.
// Implementations return errors built with Classify so the retry
// policy can act on them.
type BlobStore interface {
	// Exists reports whether the blob has been created. A transient
	// error here is retried by the adapter; ErrKindNotFound from the
	// underlying client should not normally surface through Exists.
	Exists(ctx context.Context) (bool, error)

	// Create allocates a brand-new blob with the given number of
	// 512-byte pages. ErrKindConflict if it already exists.
	Create(ctx context.Context, initialPages int) error

	// Resize grows (never shrinks) the blob to totalPages pages.
	Resize(ctx context.Context, totalPages int) error

	// ReadRange reads size bytes starting at a page-aligned offset.
	ReadRange(ctx context.Context, offset int64, size int64) ([]byte, error)

	// WritePages writes data (a multiple of 512 bytes) at a
	// page-aligned offset.
	WritePages(ctx context.Context, offset int64, data []byte) error

	// Delete removes the blob. Idempotent: deleting an absent blob is
	// not an error.
	Delete(ctx context.Context) error

	// SizeInPages reports the blob's current allocated size.
	SizeInPages(ctx context.Context) (int, error)
}
