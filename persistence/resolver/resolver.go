// Package resolver implements the reader-side operations that sit in
// front of a topic's storage tiers (spec §4.7): a bounded fixpoint
// lookup by message id, and a chunked compressed-page stream. Grounded
// on the Rust original's get_page_to_read restore loop
// (_examples/original_source/src/operations/get_page_to_read.rs),
// translated from its explicit retry loop into Go's ok/err idiom.
package resolver

import (
	"context"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/page"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/pageblob"
	"github.com/zhukovaskychina/servicebus-persistence/persistence/topic"
)

// GetMessageById implements spec §4.7's bounded fixpoint: try the
// in-memory page, else rehydrate from its uncompressed blob and retry
// once, else fall through to the compressed cluster, else absent.
func GetMessageById(ctx context.Context, t *topic.TopicData, id model.MessageId) (*model.Message, bool, error) {
	pageId := model.PageIdOf(id)

	if msg, ok, err := tryFromMemory(ctx, t, pageId, id); err != nil {
		return nil, false, err
	} else if ok {
		return msg, true, nil
	} else if v, present := t.Pages.Get(pageId); present && v.IsUncompressed() {
		// The in-memory copy is authoritative for this page id once
		// initialized: a miss there means the message genuinely
		// doesn't exist, not that we should fall further back.
		return nil, false, nil
	}

	rehydrated, err := tryRehydrate(ctx, t, pageId)
	if err != nil {
		return nil, false, err
	}
	if rehydrated {
		return tryFromMemory(ctx, t, pageId, id)
	}

	return tryFromCluster(ctx, t, pageId, id)
}

func tryFromMemory(ctx context.Context, t *topic.TopicData, pageId model.PageId, id model.MessageId) (*model.Message, bool, error) {
	v, ok := t.Pages.Get(pageId)
	if !ok || !v.IsUncompressed() {
		return nil, false, nil
	}
	return v.Get(ctx, id)
}

// tryRehydrate attempts to open the page's uncompressed blob and, if
// it exists, register it in the topic's page set. Reports whether a
// blob was found.
func tryRehydrate(ctx context.Context, t *topic.TopicData, pageId model.PageId) (bool, error) {
	store, err := t.OpenPageBlobForRead(ctx, pageId)
	if err != nil {
		return false, err
	}

	blob, err := pageblob.OpenIfExists(ctx, store, pageblob.DefaultMaxPagesPerRoundTrip)
	if err != nil {
		return false, errors.Wrapf(err, "resolver: check page %d blob", pageId)
	}
	if blob == nil {
		return false, nil
	}

	up, err := page.Rehydrate(ctx, pageId, blob, t.MaxMessageSizeForRead())
	if err != nil {
		return false, errors.Wrapf(err, "resolver: rehydrate page %d", pageId)
	}

	t.Pages.SetUncompressed(pageId, up)
	return true, nil
}

func tryFromCluster(ctx context.Context, t *topic.TopicData, pageId model.PageId, id model.MessageId) (*model.Message, bool, error) {
	clusterId := model.ClusterIdOf(pageId)

	c, err := t.GetExistingCluster(ctx, clusterId)
	if err != nil {
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}

	if !c.HasCompressedPage(pageId) {
		return nil, false, nil
	}

	messages, ok, err := c.GetCompressedPageMessages(ctx, pageId)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		logger.Warnf("resolver: cluster %d reported page %d present but it decoded absent", clusterId, pageId)
		return nil, false, nil
	}

	msg, found := messages[id]
	return msg, found, nil
}
