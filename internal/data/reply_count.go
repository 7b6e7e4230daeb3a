package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// replyCountRepo implements the reply counter repository
type replyCountRepo struct {
	db *sql.DB
}

// NewReplyCountRepo creates a new reply counter repository
func NewReplyCountRepo(db *sql.DB) repo.ReplyCountRepo {
	return &replyCountRepo{db: db}
}

const replyCountColumns = `conversation_id, reply_count, first_reply_ts, last_reply_ts`

// Get gets the counter of a conversation
func (r *replyCountRepo) Get(ctx context.Context, conversationID string) (*domain.ConversationReplyCount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+replyCountColumns+` FROM conversation_reply_counts WHERE conversation_id = ?
	`, conversationID)
	c, err := scanReplyCount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reply count: %w", err)
	}
	return c, nil
}

// Increment upserts the counter and reads it back in one transaction.
// first_reply_ts is only written when unset.
func (r *replyCountRepo) Increment(ctx context.Context, conversationID string, now time.Time) (*domain.ConversationReplyCount, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := toMillis(now)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_reply_counts (conversation_id, reply_count, first_reply_ts, last_reply_ts)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			reply_count = reply_count + 1,
			first_reply_ts = CASE WHEN first_reply_ts = 0 THEN excluded.first_reply_ts ELSE first_reply_ts END,
			last_reply_ts = excluded.last_reply_ts
	`, conversationID, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to increment reply count: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+replyCountColumns+` FROM conversation_reply_counts WHERE conversation_id = ?
	`, conversationID)
	c, err := scanReplyCount(row)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit increment: %w", err)
	}
	return c, nil
}

// Reset removes the counter
func (r *replyCountRepo) Reset(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversation_reply_counts WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to reset reply count: %w", err)
	}
	return nil
}

// List lists all counters, most recent reply first
func (r *replyCountRepo) List(ctx context.Context) ([]domain.ConversationReplyCount, error) {
	return r.query(ctx, `
		SELECT `+replyCountColumns+` FROM conversation_reply_counts
		ORDER BY last_reply_ts DESC, conversation_id ASC
	`)
}

// ListAtLeast lists counters with reply_count >= min
func (r *replyCountRepo) ListAtLeast(ctx context.Context, min int) ([]domain.ConversationReplyCount, error) {
	return r.query(ctx, `
		SELECT `+replyCountColumns+` FROM conversation_reply_counts
		WHERE reply_count >= ?
		ORDER BY reply_count DESC, conversation_id ASC
	`, min)
}

// DeleteLastReplyBefore removes counters idle since before cutoff
func (r *replyCountRepo) DeleteLastReplyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM conversation_reply_counts WHERE last_reply_ts < ?
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup reply counts: %w", err)
	}
	return result.RowsAffected()
}

// BulkInsert writes counters in one transaction, replacing existing rows
func (r *replyCountRepo) BulkInsert(ctx context.Context, counts []domain.ConversationReplyCount) error {
	if len(counts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO conversation_reply_counts (`+replyCountColumns+`) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range counts {
		if _, err := stmt.ExecContext(ctx, c.ConversationID, c.ReplyCount, toMillis(c.FirstReplyAt), toMillis(c.LastReplyAt)); err != nil {
			return fmt.Errorf("failed to insert reply count %s: %w", c.ConversationID, err)
		}
	}
	return tx.Commit()
}

func (r *replyCountRepo) query(ctx context.Context, query string, args ...any) ([]domain.ConversationReplyCount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reply counts: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationReplyCount
	for rows.Next() {
		c, err := scanReplyCount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reply count: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanReplyCount(s rowScanner) (*domain.ConversationReplyCount, error) {
	var c domain.ConversationReplyCount
	var first, last int64
	if err := s.Scan(&c.ConversationID, &c.ReplyCount, &first, &last); err != nil {
		return nil, err
	}
	c.FirstReplyAt = fromMillis(first)
	c.LastReplyAt = fromMillis(last)
	return &c, nil
}
