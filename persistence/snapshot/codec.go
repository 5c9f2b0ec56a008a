package snapshot

import (
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/util"
)

// ErrChecksumMismatch signals that the bytes read look like an
// in-flight write (a partial or torn snapshot) rather than corruption
// a caller should treat as fatal — spec §4.8: "Readers tolerate
// reading an in-flight version by validating a trailing checksum."
var ErrChecksumMismatch = errors.New("snapshot: trailing checksum mismatch")

// TopicRecord is one entry in the topics snapshot: the topic id plus
// the high-watermark the scheduler last recorded for it, so a fresh
// reader process can resume from MaxPageIdToPersist without rescanning
// every page from the start (spec §4.6 step 5, §9).
type TopicRecord struct {
	TopicId            model.TopicId
	MaxMessageId       model.MessageId
	MaxPageIdToPersist model.PageId
}

// Snapshot is the decoded contents of the topics snapshot blob.
type Snapshot struct {
	Version uint64
	Topics  []TopicRecord
}

const checksumSize = 8

// Encode serializes snap as version(8) + count(4) + records, followed
// by an xxhash64 checksum over everything preceding it.
func Encode(snap Snapshot) []byte {
	var body []byte
	body = util.WriteUB8(body, snap.Version)
	body = util.WriteUB4(body, uint32(len(snap.Topics)))
	for _, r := range snap.Topics {
		body = util.WriteUB4(body, uint32(len(r.TopicId)))
		body = util.WriteBytes(body, []byte(r.TopicId))
		body = util.WriteUB8(body, uint64(r.MaxMessageId))
		body = util.WriteUB8(body, uint64(r.MaxPageIdToPersist))
	}

	checksum := util.HashCode(body)

	out := make([]byte, 0, len(body)+checksumSize)
	out = append(out, body...)
	out = util.WriteUB8(out, checksum)
	return out
}

// Decode is the inverse of Encode. It returns ErrChecksumMismatch
// rather than a generic decode error when the trailing checksum does
// not match, so callers can distinguish "retry the read" from "this
// blob is truly corrupted".
func Decode(raw []byte) (Snapshot, error) {
	if len(raw) < checksumSize+12 {
		return Snapshot{}, errors.New("snapshot: truncated blob")
	}

	body := raw[:len(raw)-checksumSize]
	_, wantChecksum := util.ReadUB8(raw, len(body))

	if util.HashCode(body) != wantChecksum {
		return Snapshot{}, ErrChecksumMismatch
	}

	cursor := 0
	var version uint64
	cursor, version = util.ReadUB8(body, cursor)
	var count uint32
	cursor, count = util.ReadUB4(body, cursor)

	topics := make([]TopicRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		if cursor+4 > len(body) {
			return Snapshot{}, errors.New("snapshot: truncated record")
		}
		var idLen uint32
		cursor, idLen = util.ReadUB4(body, cursor)
		if cursor+int(idLen) > len(body) {
			return Snapshot{}, errors.New("snapshot: truncated topic id")
		}
		var idBytes []byte
		cursor, idBytes = util.ReadBytes(body, cursor, int(idLen))

		if cursor+16 > len(body) {
			return Snapshot{}, errors.New("snapshot: truncated record watermarks")
		}
		var maxMessageId, maxPageIdToPersist int64
		cursor, maxMessageId = util.ReadUB8Long(body, cursor)
		cursor, maxPageIdToPersist = util.ReadUB8Long(body, cursor)

		topics = append(topics, TopicRecord{
			TopicId:            string(idBytes),
			MaxMessageId:       maxMessageId,
			MaxPageIdToPersist: maxPageIdToPersist,
		})
	}

	return Snapshot{Version: version, Topics: topics}, nil
}
