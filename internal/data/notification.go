package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

const notificationColumns = `id, package_name, app_name, title, content, timestamp,
	conversation_id, source_id, reply_key, auto_reply_disabled`

// notificationRepo implements the Notification repository
type notificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo creates a new Notification repository
func NewNotificationRepo(db *sql.DB) repo.NotificationRepo {
	return &notificationRepo{db: db}
}

// Insert stores a new notification
func (r *notificationRepo) Insert(ctx context.Context, n *domain.Notification) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (package_name, app_name, title, content, timestamp,
			conversation_id, source_id, reply_key, auto_reply_disabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.PackageName,
		n.AppName,
		n.Title,
		n.Content,
		toMillis(n.Timestamp),
		n.ConversationID,
		n.SourceID,
		n.ReplyKey,
		boolToInt(n.AutoReplyDisabled),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert notification: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get notification id: %w", err)
	}
	n.ID = id
	return id, nil
}

// GetByID gets a notification by ID
func (r *notificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification: %w", err)
	}
	return n, nil
}

// ListByConversation lists a conversation oldest first
func (r *notificationRepo) ListByConversation(ctx context.Context, conversationID string) ([]domain.Notification, error) {
	return r.query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
	`, conversationID)
}

// ListByConversationInRange lists a conversation within [from, to), oldest first
func (r *notificationRepo) ListByConversationInRange(ctx context.Context, conversationID string, from, to time.Time) ([]domain.Notification, error) {
	return r.query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE conversation_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`, conversationID, from.UnixMilli(), to.UnixMilli())
}

// ListInRange lists notifications within [from, to), newest first
func (r *notificationRepo) ListInRange(ctx context.Context, packageName string, from, to time.Time) ([]domain.Notification, error) {
	if packageName == "" {
		return r.query(ctx, `
			SELECT `+notificationColumns+` FROM notifications
			WHERE timestamp >= ? AND timestamp < ?
			ORDER BY timestamp DESC, id DESC
		`, from.UnixMilli(), to.UnixMilli())
	}
	return r.query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE package_name = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
	`, packageName, from.UnixMilli(), to.UnixMilli())
}

// SetAutoReplyDisabled backfills the disabled flag of a conversation
func (r *notificationRepo) SetAutoReplyDisabled(ctx context.Context, conversationID string, disabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET auto_reply_disabled = ? WHERE conversation_id = ?
	`, boolToInt(disabled), conversationID)
	if err != nil {
		return fmt.Errorf("failed to update disabled flag: %w", err)
	}
	return nil
}

// BackfillConversationIDs resolves ids of rows stored before they were tracked
func (r *notificationRepo) BackfillConversationIDs(ctx context.Context) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, package_name, title FROM notifications WHERE conversation_id = ''
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list notifications without conversation: %w", err)
	}

	type pending struct {
		id             int64
		conversationID string
	}
	var todo []pending
	for rows.Next() {
		var id int64
		var pkg, title string
		if err := rows.Scan(&id, &pkg, &title); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		if convID := domain.ResolveConversationID(pkg, title); convID != "" {
			todo = append(todo, pending{id: id, conversationID: convID})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	if len(todo) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE notifications SET conversation_id = ? WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare backfill: %w", err)
	}
	defer stmt.Close()

	for _, p := range todo {
		if _, err := stmt.ExecContext(ctx, p.conversationID, p.id); err != nil {
			return 0, fmt.Errorf("failed to backfill notification %d: %w", p.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit backfill: %w", err)
	}
	return int64(len(todo)), nil
}

// DeleteByPackage removes an app's notifications
func (r *notificationRepo) DeleteByPackage(ctx context.Context, packageName string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE package_name = ?`, packageName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	return result.RowsAffected()
}

func (r *notificationRepo) query(ctx context.Context, query string, args ...any) ([]domain.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(s rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var ts int64
	if err := s.Scan(
		&n.ID,
		&n.PackageName,
		&n.AppName,
		&n.Title,
		&n.Content,
		&ts,
		&n.ConversationID,
		&n.SourceID,
		&n.ReplyKey,
		&n.AutoReplyDisabled,
	); err != nil {
		return nil, err
	}
	n.Timestamp = fromMillis(ts)
	return &n, nil
}
