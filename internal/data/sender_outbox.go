package data

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// outboxSender queues replies for the device that posted the notification
type outboxSender struct {
	outbox repo.OutboxRepo
	clock  domain.Clock
}

// NewOutboxSender creates a sender that enqueues to the device outbox
func NewOutboxSender(outbox repo.OutboxRepo, clock domain.Clock) repo.Sender {
	return &outboxSender{outbox: outbox, clock: clock}
}

// Send enqueues the reply; delivery is confirmed by the device's ack
func (s *outboxSender) Send(ctx context.Context, target domain.ReplyTarget, msg domain.Outgoing) error {
	return s.outbox.Enqueue(ctx, &domain.OutboxEntry{
		ID:             ulid.Make().String(),
		SourceID:       target.SourceID,
		ReplyKey:       target.ReplyKey,
		PackageName:    target.PackageName,
		ConversationID: target.ConversationID,
		Kind:           msg.Kind,
		Text:           msg.Text,
		MediaPath:      msg.MediaPath,
		CreatedAt:      s.clock.Now(),
	})
}
