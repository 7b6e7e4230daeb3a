package repo

import (
	"context"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
)

// NotificationRepo is the notification repository interface
// Responsible for notification persistence (SQLite)
type NotificationRepo interface {
	// Insert stores a new notification and returns its ID
	Insert(ctx context.Context, n *domain.Notification) (int64, error)

	// GetByID gets a notification, nil if absent
	GetByID(ctx context.Context, id int64) (*domain.Notification, error)

	// ListByConversation lists one conversation oldest first
	ListByConversation(ctx context.Context, conversationID string) ([]domain.Notification, error)

	// ListByConversationInRange lists one conversation within [from, to), oldest first
	ListByConversationInRange(ctx context.Context, conversationID string, from, to time.Time) ([]domain.Notification, error)

	// ListInRange lists notifications within [from, to), newest first; empty packageName means all
	ListInRange(ctx context.Context, packageName string, from, to time.Time) ([]domain.Notification, error)

	// SetAutoReplyDisabled backfills the disabled flag for a conversation
	SetAutoReplyDisabled(ctx context.Context, conversationID string, disabled bool) error

	// BackfillConversationIDs fills missing conversation ids, returns rows updated
	BackfillConversationIDs(ctx context.Context) (int64, error)

	// DeleteByPackage removes an app's notifications
	DeleteByPackage(ctx context.Context, packageName string) (int64, error)
}

// HistoryRepo stores the exchanges of each conversation
type HistoryRepo interface {
	// Add appends an exchange
	Add(ctx context.Context, entry *domain.HistoryEntry) error

	// Recent returns the last limit exchanges of a conversation, oldest first
	Recent(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error)

	// ExistsForNotification checks if a notification was already answered
	ExistsForNotification(ctx context.Context, notificationID int64) (bool, error)

	// Prune keeps the newest keep exchanges of a conversation
	Prune(ctx context.Context, conversationID string, keep int) (int64, error)

	// PruneAll applies Prune to every conversation
	PruneAll(ctx context.Context, keep int) (int64, error)
}

// OutboxRepo queues replies for devices that deliver them locally
type OutboxRepo interface {
	// Enqueue stores a pending reply
	Enqueue(ctx context.Context, entry *domain.OutboxEntry) error

	// Pending lists undelivered entries of a source, oldest first
	Pending(ctx context.Context, sourceID string, limit int) ([]domain.OutboxEntry, error)

	// Ack marks an entry of sourceID delivered, any source when sourceID is empty;
	// returns false when no pending entry matched
	Ack(ctx context.Context, id, sourceID string, at time.Time) (bool, error)
}
