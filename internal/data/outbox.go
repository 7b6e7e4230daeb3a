package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// outboxRepo implements the device outbox repository
type outboxRepo struct {
	db *sql.DB
}

// NewOutboxRepo creates a new outbox repository
func NewOutboxRepo(db *sql.DB) repo.OutboxRepo {
	return &outboxRepo{db: db}
}

// Enqueue stores a pending reply
func (r *outboxRepo) Enqueue(ctx context.Context, e *domain.OutboxEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (id, source_id, reply_key, package_name, conversation_id, kind, text, media_path, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, e.ID, e.SourceID, e.ReplyKey, e.PackageName, e.ConversationID, string(e.Kind), e.Text, e.MediaPath, toMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue reply: %w", err)
	}
	return nil
}

// Pending lists undelivered entries of a source, oldest first
func (r *outboxRepo) Pending(ctx context.Context, sourceID string, limit int) ([]domain.OutboxEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, reply_key, package_name, conversation_id, kind, text, media_path, created_at, delivered_at
		FROM outbox
		WHERE source_id = ? AND delivered_at = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		var kind string
		var createdAt, deliveredAt int64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.ReplyKey, &e.PackageName, &e.ConversationID,
			&kind, &e.Text, &e.MediaPath, &createdAt, &deliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		e.Kind = domain.ActionType(kind)
		e.CreatedAt = fromMillis(createdAt)
		e.DeliveredAt = fromMillis(deliveredAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ack marks an entry delivered, scoped to sourceID unless it is empty
func (r *outboxRepo) Ack(ctx context.Context, id, sourceID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET delivered_at = ?
		WHERE id = ? AND delivered_at = 0 AND (? = '' OR source_id = ?)
	`, toMillis(at), id, sourceID, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to ack outbox entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
