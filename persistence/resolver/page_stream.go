package resolver

import (
	"context"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/cluster"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/topic"
)

// ChunkVersion selects get_page_compressed's wire framing (spec §4.7).
type ChunkVersion int

const (
	// ChunkVersionLegacy packs the whole requested range into one
	// compressed frame regardless of size.
	ChunkVersionLegacy ChunkVersion = 0
	// ChunkVersionSized splits the range into multiple frames, each
	// bounded by maxPayloadSize.
	ChunkVersionSized ChunkVersion = 1
)

// CompressedChunk is one unit of the get_page_compressed stream.
type CompressedChunk struct {
	Version ChunkVersion
	PageNo  model.PageId
	FromId  model.MessageId
	ToId    model.MessageId
	Payload []byte
}

// DefaultMaxPayloadSize is the spec's default chunk size ceiling (3 MiB).
const DefaultMaxPayloadSize = 3 * 1024 * 1024

// GetPageCompressed assembles messages in [fromId, toId] (or the full
// page range, if both are ≤0) and emits them as one or more compressed
// chunks via emit, bounded by maxPayloadSize when version is
// ChunkVersionSized (spec §4.7).
func GetPageCompressed(ctx context.Context, t *topic.TopicData, codec cluster.Codec, pageNo model.PageId, version ChunkVersion, fromId model.MessageId, toId model.MessageId, maxPayloadSize int, emit func(CompressedChunk) error) error {
	if fromId <= 0 && toId <= 0 {
		fromId = model.FirstMessageIdOfPage(pageNo)
		toId = fromId + model.MessagesPerPage - 1
	}
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}

	messages := make([]*model.Message, 0)
	for id := fromId; id <= toId; id++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, ok, err := GetMessageById(ctx, t, id)
		if err != nil {
			return err
		}
		if ok {
			messages = append(messages, msg)
		}
	}

	if len(messages) == 0 {
		return nil
	}

	if version == ChunkVersionLegacy {
		return emit(CompressedChunk{
			Version: version,
			PageNo:  pageNo,
			FromId:  fromId,
			ToId:    toId,
			Payload: cluster.EncodeFrame(codec, messages),
		})
	}

	return emitSizedChunks(messages, pageNo, codec, maxPayloadSize, emit)
}

// emitSizedChunks batches messages so each batch's uncompressed size
// stays near maxPayloadSize before compressing and emitting it as one
// chunk — an approximation of the exact compressed size, which is only
// known after the fact, but close enough to keep individual chunks
// bounded (documented design choice, not a literal byte guarantee).
func emitSizedChunks(messages []*model.Message, pageNo model.PageId, codec cluster.Codec, maxPayloadSize int, emit func(CompressedChunk) error) error {
	var batch []*model.Message
	batchSize := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		chunk := CompressedChunk{
			Version: ChunkVersionSized,
			PageNo:  pageNo,
			FromId:  batch[0].MessageId,
			ToId:    batch[len(batch)-1].MessageId,
			Payload: cluster.EncodeFrame(codec, batch),
		}
		batch = nil
		batchSize = 0
		return emit(chunk)
	}

	for _, m := range messages {
		approxSize := len(m.Data) + 32
		if batchSize > 0 && batchSize+approxSize > maxPayloadSize {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, m)
		batchSize += approxSize
	}

	return flush()
}
