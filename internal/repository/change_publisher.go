package repository

import (
	"context"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// ChangePublisher receives a notification after every successful write.
// Implementations must not block the writer on delivery failures.
type ChangePublisher interface {
	PublishChange(ctx context.Context, table string, changeType domain.ChangeType, newRow, oldRow any)
}

type nopPublisher struct{}

func (nopPublisher) PublishChange(context.Context, string, domain.ChangeType, any, any) {}

func publisherOrNop(p ChangePublisher) ChangePublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
