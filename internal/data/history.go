package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// historyRepo implements the conversation history repository
type historyRepo struct {
	db *sql.DB
}

// NewHistoryRepo creates a new history repository
func NewHistoryRepo(db *sql.DB) repo.HistoryRepo {
	return &historyRepo{db: db}
}

// Add appends an exchange
func (r *historyRepo) Add(ctx context.Context, entry *domain.HistoryEntry) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_history (notification_id, conversation_id, message, response, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, entry.NotificationID, entry.ConversationID, entry.Message, entry.Response, toMillis(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to add history: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// Recent returns the last limit exchanges, oldest first
func (r *historyRepo) Recent(ctx context.Context, conversationID string, limit int) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, notification_id, conversation_id, message, response, timestamp
		FROM conversation_history
		WHERE conversation_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var ts int64
		if err := rows.Scan(&e.ID, &e.NotificationID, &e.ConversationID, &e.Message, &e.Response, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// ExistsForNotification checks if a notification was answered
func (r *historyRepo) ExistsForNotification(ctx context.Context, notificationID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_history WHERE notification_id = ?)
	`, notificationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check history: %w", err)
	}
	return exists, nil
}

// Prune keeps the newest keep exchanges of a conversation
func (r *historyRepo) Prune(ctx context.Context, conversationID string, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM conversation_history
		WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM conversation_history
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
	`, conversationID, conversationID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}

// PruneAll keeps the newest keep exchanges of every conversation
func (r *historyRepo) PruneAll(ctx context.Context, keep int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM conversation_history
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY conversation_id ORDER BY timestamp DESC, id DESC
				) AS rn
				FROM conversation_history
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}
