package server

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/data"
)

type telegramUpdates interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// TelegramServer long-polls the Bot API and posts each text message
type TelegramServer struct {
	api    telegramUpdates
	poster NotificationPoster
	logger *zap.Logger
}

// NewTelegramServer creates a new Telegram ingress
func NewTelegramServer(api telegramUpdates, poster NotificationPoster, logger *zap.Logger) *TelegramServer {
	return &TelegramServer{
		api:    api,
		poster: poster,
		logger: logger.Named("telegram-ingress"),
	}
}

// Start receives updates until ctx is done
func (s *TelegramServer) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := s.api.GetUpdatesChan(u)
	s.logger.Info("Telegram ingress started")

	for {
		select {
		case <-ctx.Done():
			s.api.StopReceivingUpdates()
			s.logger.Info("Telegram ingress stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				s.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (s *TelegramServer) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	ev, ok := telegramEvent(message)
	if !ok {
		return
	}
	if err := s.poster.OnNotificationPosted(ctx, ev); err != nil {
		s.logger.Error("Failed to post Telegram message",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Error(err),
		)
	}
}

// telegramEvent maps a message the way the Telegram app titles its notification:
// the group title for groups, the sender's name for private chats
func telegramEvent(message *tgbotapi.Message) (domain.PostedEvent, bool) {
	if message.Chat == nil || message.IsCommand() {
		return domain.PostedEvent{}, false
	}
	if message.From != nil && message.From.IsBot {
		return domain.PostedEvent{}, false
	}
	text := strings.TrimSpace(message.Text)
	if text == "" {
		text = strings.TrimSpace(message.Caption)
	}
	if text == "" {
		return domain.PostedEvent{}, false
	}

	title := message.Chat.Title
	if title == "" && message.From != nil {
		title = strings.TrimSpace(message.From.FirstName + " " + message.From.LastName)
		if title == "" {
			title = message.From.UserName
		}
	}

	ev := domain.PostedEvent{
		PackageName: data.PackageTelegram,
		AppName:     "Telegram",
		Title:       title,
		Content:     text,
		SourceID:    data.SourceTelegram,
		ReplyKey:    strconv.FormatInt(message.Chat.ID, 10),
	}
	if message.Date > 0 {
		ev.PostTime = time.Unix(int64(message.Date), 0)
	}
	return ev, true
}
