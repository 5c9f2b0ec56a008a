package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripWithWatermarks(t *testing.T) {
	snap := Snapshot{
		Version: 7,
		Topics: []TopicRecord{
			{TopicId: "orders", MaxMessageId: 4821, MaxPageIdToPersist: 0},
			{TopicId: "payments", MaxMessageId: -1, MaxPageIdToPersist: -1},
		},
	}
	raw := Encode(snap)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)
}

func TestDecodeTruncatedWatermarksIsAnError(t *testing.T) {
	snap := Snapshot{Topics: []TopicRecord{{TopicId: "orders", MaxMessageId: 1, MaxPageIdToPersist: 0}}}
	raw := Encode(snap)

	_, err := Decode(raw[:len(raw)-checksumSize-4])
	require.Error(t, err)
}
