package filetoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type rawBlobReader []byte

func (r rawBlobReader) Read(ctx context.Context, offset int64, length int64) ([]byte, error) {
	out := make([]byte, length)
	copy(out, r[offset:])
	return out, nil
}

func TestMonotonicWritePositionNoOverlap(t *testing.T) {
	toc := New(1, 16)

	sizes := []uint32{10, 600, 5, 1024}
	cursor := uint32(toc.TocSizeInBytes())
	for slot, size := range sizes {
		pos := toc.GetWritePosition()
		require.Equal(t, cursor, pos, "write position should equal prior cumulative rounded size")

		_, ok := toc.UpdateFilePosition(slot, Entry{Offset: pos, Size: size})
		require.True(t, ok)
		toc.IncreaseWritePosition(size)

		cursor = roundUp512(pos + size)
	}

	// No two slots overlap.
	var extents []Entry
	for i := range sizes {
		extents = append(extents, toc.GetPosition(i))
	}
	for i := range extents {
		for j := range extents {
			if i == j {
				continue
			}
			iEnd := extents[i].Offset + extents[i].Size
			overlap := extents[i].Offset < extents[j].Offset+extents[j].Size && extents[j].Offset < iEnd
			require.False(t, overlap, "slots %d and %d overlap", i, j)
		}
	}
}

func TestHasContentRejectsAbsurdSize(t *testing.T) {
	toc := New(1, 4)
	toc.UpdateFilePosition(0, Entry{Offset: 512, Size: 10 * 1_000_000})

	require.False(t, toc.HasContent(0, 5*1024*1024))
}

func TestAbsentSlotIsZeroEntry(t *testing.T) {
	toc := New(1, 4)
	require.False(t, toc.GetPosition(2).Present())
	require.False(t, toc.HasContent(2, 1<<20))
}

func TestTocPageBytesRoundTripsThroughReadToc(t *testing.T) {
	toc := New(1, 64) // 64 slots * 8 bytes = 512 bytes = exactly 1 page
	toc.UpdateFilePosition(3, Entry{Offset: 512, Size: 128})
	toc.UpdateFilePosition(40, Entry{Offset: 640, Size: 64})

	page := toc.TocPageBytes(0)
	require.Len(t, page, 512)

	reread, err := ReadToc(context.Background(), rawBlobReader(page), 1, 64)
	require.NoError(t, err)
	require.Equal(t, Entry{Offset: 512, Size: 128}, reread.GetPosition(3))
	require.Equal(t, Entry{Offset: 640, Size: 64}, reread.GetPosition(40))
}
