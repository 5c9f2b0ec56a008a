package pageblob

import (
	"context"
	"sync"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
)

// FakeBlobStore is an in-memory BlobStore, standing in for the real
// object-store client the way the teacher's storage package tests
// stand in for a disk-backed block file with a byte slice — except
// tests here never need the data to survive the process.
// Inject lets a test script a sequence of transient failures
// (spec testable-property #6: retry transparency).
type FakeBlobStore struct {
	mu       sync.Mutex
	created  bool
	deleted  bool
	data     []byte
	Inject   []error // consumed in order, one per call, before the real op runs
	callseq  int
}

// NewFakeBlobStore returns a store that does not yet exist.
func NewFakeBlobStore() *FakeBlobStore {
	return &FakeBlobStore{}
}

func (f *FakeBlobStore) nextInjected() error {
	if f.callseq < len(f.Inject) {
		err := f.Inject[f.callseq]
		f.callseq++
		return err
	}
	return nil
}

func (f *FakeBlobStore) Exists(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return false, err
	}
	return f.created && !f.deleted, nil
}

func (f *FakeBlobStore) Create(ctx context.Context, initialPages int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return err
	}
	if f.created && !f.deleted {
		return Classify(ErrKindConflict, errConflict)
	}
	f.created = true
	f.deleted = false
	f.data = make([]byte, int64(initialPages)*model.PageBlobPageSize)
	return nil
}

func (f *FakeBlobStore) Resize(ctx context.Context, totalPages int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return err
	}
	if !f.created || f.deleted {
		return Classify(ErrKindNotFound, errNotFound)
	}
	want := int64(totalPages) * model.PageBlobPageSize
	if int64(len(f.data)) < want {
		grown := make([]byte, want)
		copy(grown, f.data)
		f.data = grown
	}
	return nil
}

func (f *FakeBlobStore) ReadRange(ctx context.Context, offset int64, size int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return nil, err
	}
	if !f.created || f.deleted {
		return nil, Classify(ErrKindNotFound, errNotFound)
	}

	out := make([]byte, size)
	if offset < int64(len(f.data)) {
		end := offset + size
		if end > int64(len(f.data)) {
			end = int64(len(f.data))
		}
		copy(out, f.data[offset:end])
	}
	return out, nil
}

func (f *FakeBlobStore) WritePages(ctx context.Context, offset int64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return err
	}
	if !f.created || f.deleted {
		return Classify(ErrKindNotFound, errNotFound)
	}
	need := offset + int64(len(data))
	if need > int64(len(f.data)) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], data)
	return nil
}

func (f *FakeBlobStore) Delete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return err
	}
	f.deleted = true
	f.data = nil
	return nil
}

func (f *FakeBlobStore) SizeInPages(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextInjected(); err != nil {
		return 0, err
	}
	return len(f.data) / int(model.PageBlobPageSize), nil
}

var (
	errConflict = fakeErr("blob already exists")
	errNotFound = fakeErr("blob does not exist")
)

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
