package data

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// telegramAPI is satisfied by *tgbotapi.BotAPI
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// telegramSender delivers replies through the Bot API
type telegramSender struct {
	api telegramAPI
}

// NewTelegramSender creates a sender answering Telegram chats; ReplyKey is the chat id
func NewTelegramSender(api telegramAPI) repo.Sender {
	return &telegramSender{api: api}
}

// Send delivers the message to the chat
func (s *telegramSender) Send(ctx context.Context, target domain.ReplyTarget, msg domain.Outgoing) error {
	chatID, err := strconv.ParseInt(target.ReplyKey, 10, 64)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid telegram chat id %q", target.ReplyKey))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var c tgbotapi.Chattable
	switch msg.Kind {
	case domain.ActionImage:
		c = tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(msg.MediaPath))
	case domain.ActionVideo:
		c = tgbotapi.NewVideo(chatID, tgbotapi.FilePath(msg.MediaPath))
	default:
		c = tgbotapi.NewMessage(chatID, msg.Text)
	}

	if _, err := s.api.Send(c); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
