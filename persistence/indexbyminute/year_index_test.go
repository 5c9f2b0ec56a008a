package indexbyminute

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
)

func openFreshYear(t *testing.T, ctx context.Context, year int) *YearIndex {
	t.Helper()
	store := pageblob.NewFakeBlobStore()
	blob, err := pageblob.OpenOrCreate(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	require.NoError(t, err)

	yi := NewBrandNew(year)
	yi.AttachBlob(blob)
	return yi
}

func TestLookupOnUntouchedSlotIsAbsent(t *testing.T) {
	ctx := context.Background()
	yi := openFreshYear(t, ctx, 2023)

	_, ok, err := yi.Lookup(ctx, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateKeepsSmallestMessageId(t *testing.T) {
	ctx := context.Background()
	yi := openFreshYear(t, ctx, 2023)

	require.NoError(t, yi.Update(ctx, 5, 42))
	id, ok, err := yi.Lookup(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	// A later, larger id observed for the same minute must not
	// overwrite the smaller one already recorded.
	require.NoError(t, yi.Update(ctx, 5, 99))
	id, ok, err = yi.Lookup(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), id)

	// A smaller id does overwrite.
	require.NoError(t, yi.Update(ctx, 5, 10))
	id, ok, err = yi.Lookup(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), id)
}

func TestUpdateHandlesMessageIdZero(t *testing.T) {
	ctx := context.Background()
	yi := openFreshYear(t, ctx, 2023)

	require.NoError(t, yi.Update(ctx, 0, 0))
	id, ok, err := yi.Lookup(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), id)
}

func TestFirstAtOrAfterWithinYearFindsNextNonAbsentSlot(t *testing.T) {
	ctx := context.Background()
	yi := openFreshYear(t, ctx, 2023)

	require.NoError(t, yi.Update(ctx, 10, 7))

	id, ok, err := yi.FirstAtOrAfterWithinYear(ctx, 3, 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), id)
}

func TestMinuteOfYearMonotonicAcrossTimestamps(t *testing.T) {
	base := time.Date(2023, time.January, 1, 0, 5, 0, 0, time.UTC)
	_, m1 := MinuteOfYear(base)
	_, m2 := MinuteOfYear(base.Add(2 * time.Minute))
	require.Less(t, m1, m2)
}
