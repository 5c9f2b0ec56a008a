package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOnNeverWrittenBlobIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewFakeCASStore()

	snap, version, err := Load(ctx, store)
	require.NoError(t, err)
	require.Equal(t, "", version)
	require.Equal(t, uint64(0), snap.Version)
	require.Empty(t, snap.Topics)
}

func TestCompareAndSwapAppendsTopic(t *testing.T) {
	ctx := context.Background()
	store := NewFakeCASStore()

	err := CompareAndSwap(ctx, store, func(existing []TopicRecord) []TopicRecord {
		return append(existing, TopicRecord{TopicId: "orders"})
	})
	require.NoError(t, err)

	snap, _, err := Load(ctx, store)
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.Version)
	require.Len(t, snap.Topics, 1)
	require.Equal(t, "orders", snap.Topics[0].TopicId)

	err = CompareAndSwap(ctx, store, func(existing []TopicRecord) []TopicRecord {
		return append(existing, TopicRecord{TopicId: "payments"})
	})
	require.NoError(t, err)

	snap, _, err = Load(ctx, store)
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Version)
	require.Len(t, snap.Topics, 2)
}

func TestChecksumMismatchIsDetected(t *testing.T) {
	snap := Snapshot{Version: 1, Topics: []TopicRecord{{TopicId: "orders"}}}
	raw := Encode(snap)
	raw[0] ^= 0xFF // corrupt the version field, leaving the checksum stale

	_, err := Decode(raw)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snap := Snapshot{Version: 5, Topics: []TopicRecord{{TopicId: "a"}, {TopicId: "bb"}}}
	raw := Encode(snap)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)
}
