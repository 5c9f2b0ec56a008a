// Package snapshot implements the topics snapshot (spec §4.8): a
// single small cluster-wide blob listing every known topic, written
// under compare-and-set on a monotonically increasing version counter.
// Grounded on util/hash_utils.go's xxhash wrapper for the trailing
// checksum and on the teacher's error-wrapping conventions for the CAS
// retry loop.
package snapshot

import (
	"context"
)

// CASStore is the minimal contract the backing object store must
// offer for a compare-and-set write: an opaque version token (an
// ETag, in a real object store) returned by both Read and a
// conditional WriteIfMatch. The monotonic version counter embedded in
// the payload (spec §4.8) is a separate, logical concept from this
// token — WriteIfMatch's optimistic concurrency is what makes the CAS
// loop in CompareAndSwap actually safe under races; the payload
// version is what callers and other readers reason about.
type CASStore interface {
	// Read returns the current blob bytes and its version token. data
	// is nil and version is "" if the blob has never been written.
	Read(ctx context.Context) (data []byte, version string, err error)

	// WriteIfMatch writes data if expectedVersion still matches the
	// blob's current version token (the empty string matches "blob
	// does not exist yet"). ok is false on a version mismatch; the
	// caller is expected to reload and retry, never to treat it as a
	// hard error.
	WriteIfMatch(ctx context.Context, data []byte, expectedVersion string) (newVersion string, ok bool, err error)
}
