package data

import (
	"context"
	"fmt"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// Sources and packages of platform ingress
const (
	SourceFeishu    = "feishu"
	SourceTelegram  = "telegram"
	PackageFeishu   = "com.ss.android.lark"
	PackageTelegram = "org.telegram.messenger"
)

// feishuMessenger is the part of the Feishu client used for replies
type feishuMessenger interface {
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID, path string) error
	SendFile(ctx context.Context, chatID, path string) error
}

// feishuSender delivers replies through the lark IM API
type feishuSender struct {
	client feishuMessenger
}

// NewFeishuSender creates a sender answering Feishu chats; ReplyKey is the chat id
func NewFeishuSender(client feishuMessenger) repo.Sender {
	return &feishuSender{client: client}
}

// Send delivers the message to the chat
func (s *feishuSender) Send(ctx context.Context, target domain.ReplyTarget, msg domain.Outgoing) error {
	if target.ReplyKey == "" {
		return errors.NewInvalidRequest(fmt.Sprintf("no feishu chat id for %s", target.ConversationID))
	}
	switch msg.Kind {
	case domain.ActionImage:
		return s.client.SendImage(ctx, target.ReplyKey, msg.MediaPath)
	case domain.ActionVideo:
		return s.client.SendFile(ctx, target.ReplyKey, msg.MediaPath)
	default:
		return s.client.SendText(ctx, target.ReplyKey, msg.Text)
	}
}
