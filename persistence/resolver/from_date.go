package resolver

import (
	"context"
	"time"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/topic"
)

// GetMessagesFromDate streams every message with Created ≥
// fromCreatedMicros, starting from the index-by-minute's estimate of
// the first candidate id and scanning forward to the topic's current
// write frontier (spec §4.7/§6: get_messages_from_date).
func GetMessagesFromDate(ctx context.Context, t *topic.TopicData, fromCreatedMicros int64, horizon time.Duration, emit func(*model.Message) error) error {
	startId, ok, err := t.Index.GetFirstMessageIdAtOrAfter(ctx, fromCreatedMicros, horizon)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	last := t.MaxMessageId()
	for id := startId; id <= last; id++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, found, err := GetMessageById(ctx, t, id)
		if err != nil {
			return err
		}
		if !found || msg.Created < fromCreatedMicros {
			continue
		}
		if err := emit(msg); err != nil {
			return err
		}
	}

	return nil
}
