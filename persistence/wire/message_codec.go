// Package wire encodes and decodes a model.Message to/from the byte
// layout stored at one TOC slot extent (inside an uncompressed page)
// or inside one compressed-frame record (inside a cluster). It reuses
// the manual little-endian helpers from util/buffer_writer.go and
// util/buffer_reader.go, the same way the teacher repo's MySQL wire
// protocol layer built packets byte-by-byte instead of reaching for
// encoding/binary.
package wire

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/util"
)

// ErrTruncated is returned when a record's header claims more bytes
// than are actually present — the record-level analogue of a
// corrupted TOC slot (spec §7, per-record decode error).
var ErrTruncated = errors.New("wire: truncated message record")

// EncodeMessage serializes created + data + metadata pairs into a
// self-contained byte string. The caller (page or cluster) is
// responsible for the message id — it lives in the TOC slot / frame
// record header, not inside this payload.
func EncodeMessage(msg *model.Message) []byte {
	buf := make([]byte, 0, 16+len(msg.Data))
	buf = util.WriteUB8(buf, uint64(msg.Created))
	buf = util.WriteUB4(buf, uint32(len(msg.Data)))
	buf = util.WriteBytes(buf, msg.Data)

	buf = util.WriteUB4(buf, uint32(len(msg.Metadata)))
	for _, kv := range msg.Metadata {
		buf = util.WriteUB4(buf, uint32(len(kv.Key)))
		buf = util.WriteBytes(buf, []byte(kv.Key))
		buf = util.WriteUB4(buf, uint32(len(kv.Value)))
		buf = util.WriteBytes(buf, []byte(kv.Value))
	}
	return buf
}

// DecodeMessage is the inverse of EncodeMessage. id is supplied by the
// caller since it is not part of the encoded payload.
func DecodeMessage(id model.MessageId, buf []byte) (*model.Message, error) {
	if len(buf) < 16 {
		return nil, ErrTruncated
	}

	cursor, created := util.ReadUB8Long(buf, 0)
	var dataLen uint32
	cursor, dataLen = util.ReadUB4(buf, cursor)
	if cursor+int(dataLen) > len(buf) {
		return nil, ErrTruncated
	}
	var data []byte
	cursor, data = util.ReadBytes(buf, cursor, int(dataLen))

	if cursor+4 > len(buf) {
		return nil, ErrTruncated
	}
	var metaCount uint32
	cursor, metaCount = util.ReadUB4(buf, cursor)

	metadata := make([]model.KeyValue, 0, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		if cursor+4 > len(buf) {
			return nil, ErrTruncated
		}
		var keyLen uint32
		cursor, keyLen = util.ReadUB4(buf, cursor)
		if cursor+int(keyLen) > len(buf) {
			return nil, ErrTruncated
		}
		var keyBytes []byte
		cursor, keyBytes = util.ReadBytes(buf, cursor, int(keyLen))

		if cursor+4 > len(buf) {
			return nil, ErrTruncated
		}
		var valLen uint32
		cursor, valLen = util.ReadUB4(buf, cursor)
		if cursor+int(valLen) > len(buf) {
			return nil, ErrTruncated
		}
		var valBytes []byte
		cursor, valBytes = util.ReadBytes(buf, cursor, int(valLen))

		metadata = append(metadata, model.KeyValue{Key: string(keyBytes), Value: string(valBytes)})
	}

	return &model.Message{
		MessageId: id,
		Created:   created,
		Data:      data,
		Metadata:  metadata,
	}, nil
}
