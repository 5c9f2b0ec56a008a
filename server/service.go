// Package server implements the streaming RPC surface named in spec
// §6 (get_message, get_page_compressed, save_messages, delete_topic,
// get_messages_from_date) as a thin Go-interface layer over
// persistence/app, persistence/resolver and persistence/topic. The
// concrete transport (framed length-delimited chunks over a streaming
// RPC connection) is an external collaborator out of scope per spec
// §1 — this package defines the contract a transport adapter would
// drive, the way server/innodb/net.Handler sat between raw MySQL
// packets and the engine in the teacher repo.
package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/app"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/health"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/resolver"
)

// ChunkSender is the outbound half of get_page_compressed's
// stream<CompressedChunk> (spec §6). A real gRPC-style adapter
// implements this over its stream.Send; tests can use a slice-backed
// fake.
type ChunkSender interface {
	Send(chunk resolver.CompressedChunk) error
}

// MessageSender is the outbound half of get_messages_from_date's
// stream<MessageContent>.
type MessageSender interface {
	Send(msg *model.Message) error
}

// Service implements the five RPC operations of spec §6 against one
// AppContext. It holds no per-call state; every method takes the
// identifiers the RPC request carried.
type Service struct {
	app *app.AppContext
}

// NewService wraps an AppContext as the RPC surface's implementation.
func NewService(appCtx *app.AppContext) *Service {
	return &Service{app: appCtx}
}

// GetMessage implements get_message. A "none" sentinel content (spec
// §6) is represented here simply as found == false; the transport
// adapter is responsible for encoding that as whatever sentinel its
// wire format uses.
func (s *Service) GetMessage(ctx context.Context, topicId model.TopicId, id model.MessageId) (msg *model.Message, found bool, err error) {
	t := s.app.GetTopicForRead(topicId)
	return resolver.GetMessageById(ctx, t, id)
}

// GetPageCompressed implements get_page_compressed, streaming chunks
// to sender as the resolver assembles them.
func (s *Service) GetPageCompressed(ctx context.Context, topicId model.TopicId, pageNo model.PageId, fromId, toId model.MessageId, version resolver.ChunkVersion, sender ChunkSender) error {
	t := s.app.GetTopicForRead(topicId)
	maxPayload := s.app.Settings.MaxPayloadSize

	return resolver.GetPageCompressed(ctx, t, s.app.Codec(), pageNo, version, fromId, toId, maxPayload, func(chunk resolver.CompressedChunk) error {
		return sender.Send(chunk)
	})
}

// SaveMessages implements save_messages: the transport adapter has
// already deframed and decompressed the incoming stream into a topic
// id and a page_id -> []Message mapping (spec §6: "payload: a
// topic_id, a mapping page_id -> [messages]"); this method fans that
// mapping out to AppendMessages per page, in ascending page-id order
// so the topic's max_message_id advances monotonically.
func (s *Service) SaveMessages(ctx context.Context, topicId model.TopicId, pages map[model.PageId][]*model.Message) error {
	if h := s.app.Health; h != nil {
		if _, halted := h.IsTopicHalted(topicId); halted {
			return errors.Errorf("server: topic %s is halted after a fatal storage error", topicId)
		}
	}

	t, err := s.app.GetOrCreateTopic(ctx, topicId)
	if err != nil {
		return errors.Wrapf(err, "server: save_messages %s", topicId)
	}

	pageIds := make([]model.PageId, 0, len(pages))
	for pageId := range pages {
		pageIds = append(pageIds, pageId)
	}
	sortPageIds(pageIds)

	for _, pageId := range pageIds {
		if err := t.AppendMessages(ctx, pages[pageId]); err != nil {
			return errors.Wrapf(err, "server: save_messages %s page %d", topicId, pageId)
		}
	}
	return nil
}

func sortPageIds(ids []model.PageId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// DeleteTopic implements delete_topic (spec §9's resolved open
// question: remove every blob this process knows about for the
// topic, then rewrite the topics snapshot).
func (s *Service) DeleteTopic(ctx context.Context, topicId model.TopicId) error {
	return s.app.DeleteTopic(ctx, topicId)
}

// GetMessagesFromDate implements get_messages_from_date, streaming
// matching messages to sender in ascending message-id order.
func (s *Service) GetMessagesFromDate(ctx context.Context, topicId model.TopicId, fromCreatedMicros int64, sender MessageSender) error {
	t := s.app.GetTopicForRead(topicId)
	horizon := s.app.Settings.IndexLookupHorizonDuration

	return resolver.GetMessagesFromDate(ctx, t, fromCreatedMicros, horizon, func(msg *model.Message) error {
		return sender.Send(msg)
	})
}

// CheckFlags exposes the process health snapshot (spec §7's "a health
// flag consumed by check_flags") for an operational endpoint.
func (s *Service) CheckFlags() health.Flags {
	return s.app.CheckFlags()
}
