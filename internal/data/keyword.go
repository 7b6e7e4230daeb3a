package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// keywordRepo implements the keyword action repository
type keywordRepo struct {
	db *sql.DB
}

// NewKeywordRepo creates a new keyword action repository
func NewKeywordRepo(db *sql.DB) repo.KeywordRepo {
	return &keywordRepo{db: db}
}

const keywordColumns = `id, keyword, action_type, action_content, enabled, created_at`

// ListEnabled lists enabled actions
func (r *keywordRepo) ListEnabled(ctx context.Context) ([]domain.KeywordAction, error) {
	return r.query(ctx, `SELECT `+keywordColumns+` FROM keyword_actions WHERE enabled = 1 ORDER BY created_at DESC, id DESC`)
}

// List lists all actions, newest first
func (r *keywordRepo) List(ctx context.Context) ([]domain.KeywordAction, error) {
	return r.query(ctx, `SELECT `+keywordColumns+` FROM keyword_actions ORDER BY created_at DESC, id DESC`)
}

// Get gets an action by ID
func (r *keywordRepo) Get(ctx context.Context, id int64) (*domain.KeywordAction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+keywordColumns+` FROM keyword_actions WHERE id = ?`, id)
	k, err := scanKeyword(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword action: %w", err)
	}
	return k, nil
}

// Create stores an action
func (r *keywordRepo) Create(ctx context.Context, k *domain.KeywordAction) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO keyword_actions (keyword, action_type, action_content, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, k.Keyword, string(k.ActionType), k.ActionContent, boolToInt(k.Enabled), toMillis(k.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create keyword action: %w", err)
	}
	return result.LastInsertId()
}

// Update rewrites keyword, type and content
func (r *keywordRepo) Update(ctx context.Context, k *domain.KeywordAction) (bool, error) {
	return r.exec(ctx, `
		UPDATE keyword_actions SET keyword = ?, action_type = ?, action_content = ? WHERE id = ?
	`, k.Keyword, string(k.ActionType), k.ActionContent, k.ID)
}

// SetEnabled flips the enabled flag
func (r *keywordRepo) SetEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	return r.exec(ctx, `UPDATE keyword_actions SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
}

// Delete removes an action
func (r *keywordRepo) Delete(ctx context.Context, id int64) (bool, error) {
	return r.exec(ctx, `DELETE FROM keyword_actions WHERE id = ?`, id)
}

func (r *keywordRepo) exec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to write keyword action: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *keywordRepo) query(ctx context.Context, query string, args ...any) ([]domain.KeywordAction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list keyword actions: %w", err)
	}
	defer rows.Close()

	var out []domain.KeywordAction
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword action: %w", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func scanKeyword(s rowScanner) (*domain.KeywordAction, error) {
	var k domain.KeywordAction
	var actionType string
	var createdAt int64
	if err := s.Scan(&k.ID, &k.Keyword, &actionType, &k.ActionContent, &k.Enabled, &createdAt); err != nil {
		return nil, err
	}
	k.ActionType = domain.ActionType(actionType)
	k.CreatedAt = fromMillis(createdAt)
	return &k, nil
}
