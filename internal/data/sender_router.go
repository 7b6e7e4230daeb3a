package data

import (
	"context"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// SenderRoute binds a package to a sender. A non-empty SourceID also
// has to match, so device captures of the same app stay on the outbox.
type SenderRoute struct {
	PackageName string
	SourceID    string
	Sender      repo.Sender
}

// senderRouter picks a sender by package
type senderRouter struct {
	routes   []SenderRoute
	fallback repo.Sender
}

// NewSenderRouter creates a routing sender; unmatched targets go to fallback
func NewSenderRouter(fallback repo.Sender, routes ...SenderRoute) repo.Sender {
	return &senderRouter{routes: routes, fallback: fallback}
}

// Send delivers through the first matching route
func (r *senderRouter) Send(ctx context.Context, target domain.ReplyTarget, msg domain.Outgoing) error {
	for _, route := range r.routes {
		if route.PackageName != target.PackageName {
			continue
		}
		if route.SourceID != "" && route.SourceID != target.SourceID {
			continue
		}
		return route.Sender.Send(ctx, target, msg)
	}
	return r.fallback.Send(ctx, target, msg)
}
