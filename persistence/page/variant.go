package page

import (
	"context"

	"github.com/zhukovaskychina/servicebus-persistence/persistence/model"
)

// Kind tags which concrete state a MessagesPage variant holds.
type Kind int

const (
	KindEmpty Kind = iota
	KindUncompressed
)

// MessagesPage is the tagged two-state variant from the Rust original
// (message_pages::MessagesPage): either Empty (a placeholder for a
// page id nothing has opened yet) or Uncompressed (a live buffer).
// Operations that need the Uncompressed state return ErrWrongVariant
// on an Empty page instead of panicking (spec §9).
type MessagesPage struct {
	kind         Kind
	pageId       model.PageId
	uncompressed *UncompressedPage
}

// NewEmpty creates the placeholder variant for a page id nothing has
// restored yet.
func NewEmpty(pageId model.PageId) *MessagesPage {
	return &MessagesPage{kind: KindEmpty, pageId: pageId}
}

// NewUncompressed wraps an already-constructed UncompressedPage.
func NewUncompressed(p *UncompressedPage) *MessagesPage {
	return &MessagesPage{kind: KindUncompressed, pageId: p.PageId, uncompressed: p}
}

// IsUncompressed reports whether this variant currently holds a live
// buffer.
func (v *MessagesPage) IsUncompressed() bool {
	return v.kind == KindUncompressed
}

// PageId is available regardless of variant.
func (v *MessagesPage) PageId() model.PageId {
	return v.pageId
}

// Uncompressed returns the live buffer, or ErrWrongVariant if this is
// still the Empty placeholder.
func (v *MessagesPage) Uncompressed() (*UncompressedPage, error) {
	if v.kind != KindUncompressed {
		return nil, ErrWrongVariant
	}
	return v.uncompressed, nil
}

// HasMessagesToSave is false for Empty, delegated for Uncompressed.
func (v *MessagesPage) HasMessagesToSave() bool {
	if v.kind != KindUncompressed {
		return false
	}
	return v.uncompressed.HasMessagesToSave()
}

// MessagesAmountToSave is 0 for Empty, delegated for Uncompressed.
func (v *MessagesPage) MessagesAmountToSave() int {
	if v.kind != KindUncompressed {
		return 0
	}
	return v.uncompressed.MessagesAmountToSave()
}

// Get returns (nil, false, nil) for Empty — never an error, since
// "empty" just means "nothing known yet", not corruption.
func (v *MessagesPage) Get(ctx context.Context, id model.MessageId) (*model.Message, bool, error) {
	if v.kind != KindUncompressed {
		return nil, false, nil
	}
	return v.uncompressed.Get(ctx, id)
}
