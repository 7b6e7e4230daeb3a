package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/data"
	"github.com/devricklin/notify-reply-bridge/internal/infra/feishu"
)

const seenTTL = 5 * time.Minute

// NotificationPoster accepts inbound notifications
type NotificationPoster interface {
	OnNotificationPosted(ctx context.Context, ev domain.PostedEvent) error
}

type feishuSource interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
}

// FeishuServer turns Feishu chat messages into posted notifications
type FeishuServer struct {
	client feishuSource
	poster NotificationPoster
	logger *zap.Logger

	// Message deduplication cache, the websocket may redeliver
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(client feishuSource, poster NotificationPoster, logger *zap.Logger) *FeishuServer {
	return &FeishuServer{
		client:   client,
		poster:   poster,
		logger:   logger.Named("feishu-ingress"),
		seenMsgs: make(map[string]time.Time),
	}
}

// Start receives messages until ctx is done
func (s *FeishuServer) Start(ctx context.Context) error {
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

func (s *FeishuServer) handleMessage(ctx context.Context, msg *feishu.Message) {
	if msg.Text == "" {
		s.logger.Debug("Ignoring message without text", zap.String("msg_id", msg.MsgID), zap.String("type", msg.MsgType))
		return
	}
	if !s.markMessageSeen(msg.MsgID) {
		s.logger.Debug("Duplicate message ignored", zap.String("msg_id", msg.MsgID))
		return
	}

	if err := s.poster.OnNotificationPosted(ctx, feishuEvent(msg)); err != nil {
		s.logger.Error("Failed to post Feishu message", zap.String("msg_id", msg.MsgID), zap.Error(err))
	}
}

// feishuEvent keys the conversation by chat so replies go back to the same chat
func feishuEvent(msg *feishu.Message) domain.PostedEvent {
	return domain.PostedEvent{
		PackageName: data.PackageFeishu,
		AppName:     "Feishu",
		Title:       msg.ChatID,
		Content:     msg.Text,
		PostTime:    msg.CreateTime,
		SourceID:    data.SourceFeishu,
		ReplyKey:    msg.ChatID,
	}
}

// markMessageSeen records msgID, false if it was already seen
func (s *FeishuServer) markMessageSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := time.Now()
	if ts, ok := s.seenMsgs[msgID]; ok && now.Sub(ts) < seenTTL {
		return false
	}
	s.seenMsgs[msgID] = now

	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
	return true
}
