package snapshot

import (
	"context"

	"github.com/pkg/errors"
)

// maxReadRetries bounds how many times Load re-reads the blob after
// observing a torn in-flight write before giving up.
const maxReadRetries = 5

// maxCASRetries bounds how many times CompareAndSwap reloads and
// retries after losing a version race.
const maxCASRetries = 10

// Load reads the current snapshot, retrying past a torn in-flight
// write (spec §4.8). A never-written blob decodes as an empty
// Snapshot at version 0.
func Load(ctx context.Context, store CASStore) (Snapshot, string, error) {
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		raw, version, err := store.Read(ctx)
		if err != nil {
			return Snapshot{}, "", err
		}
		if raw == nil {
			return Snapshot{}, version, nil
		}

		snap, err := Decode(raw)
		if err == nil {
			return snap, version, nil
		}
		if !errors.Is(err, ErrChecksumMismatch) {
			return Snapshot{}, "", err
		}
		// A torn write was observed; loop and re-read.
	}
	return Snapshot{}, "", errors.New("snapshot: exceeded retries reading an in-flight snapshot")
}

// CompareAndSwap reads the current snapshot, derives the new topic
// list via mutate, and writes it back only if nothing else has
// written in the meantime, retrying on a lost race (spec §4.8: "the
// writer reads the current version, constructs the new list, and
// writes back only if the version on the blob still matches; on
// mismatch it reloads and retries").
func CompareAndSwap(ctx context.Context, store CASStore, mutate func([]TopicRecord) []TopicRecord) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, version, err := Load(ctx, store)
		if err != nil {
			return err
		}

		newSnap := Snapshot{
			Version: current.Version + 1,
			Topics:  mutate(current.Topics),
		}

		_, ok, err := store.WriteIfMatch(ctx, Encode(newSnap), version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// Lost the race to another writer; reload and retry.
	}
	return errors.New("snapshot: exceeded CAS retries")
}
