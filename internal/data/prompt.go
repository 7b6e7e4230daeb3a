package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// promptRepo implements the prompt template repository
type promptRepo struct {
	db *sql.DB
}

// NewPromptRepo creates a new prompt repository
func NewPromptRepo(db *sql.DB) repo.PromptRepo {
	return &promptRepo{db: db}
}

const promptColumns = `id, name, template, is_active, created_at`

// List lists templates, newest first
func (r *promptRepo) List(ctx context.Context) ([]domain.StoredPrompt, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+promptColumns+` FROM prompt_templates ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt templates: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredPrompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt template: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Get gets a template by ID
func (r *promptRepo) Get(ctx context.Context, id int64) (*domain.StoredPrompt, error) {
	return r.queryOne(ctx, `SELECT `+promptColumns+` FROM prompt_templates WHERE id = ?`, id)
}

// Active gets the active template
func (r *promptRepo) Active(ctx context.Context) (*domain.StoredPrompt, error) {
	return r.queryOne(ctx, `SELECT `+promptColumns+` FROM prompt_templates WHERE is_active = 1`)
}

// Create stores an inactive template
func (r *promptRepo) Create(ctx context.Context, p *domain.StoredPrompt) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_templates (name, template, is_active, created_at) VALUES (?, ?, 0, ?)
	`, p.Name, p.Template, toMillis(p.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create prompt template: %w", err)
	}
	return result.LastInsertId()
}

// Update rewrites name and template
func (r *promptRepo) Update(ctx context.Context, p *domain.StoredPrompt) (bool, error) {
	return r.exec(ctx, `UPDATE prompt_templates SET name = ?, template = ? WHERE id = ?`, p.Name, p.Template, p.ID)
}

// Delete removes a template
func (r *promptRepo) Delete(ctx context.Context, id int64) (bool, error) {
	return r.exec(ctx, `DELETE FROM prompt_templates WHERE id = ?`, id)
}

// Activate clears every active flag and sets the one of id in one transaction
func (r *promptRepo) Activate(ctx context.Context, id int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompt_templates WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query prompt template: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 0 WHERE is_active = 1`); err != nil {
		return false, fmt.Errorf("failed to clear active prompt template: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE prompt_templates SET is_active = 1 WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to activate prompt template: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit activation: %w", err)
	}
	return true, nil
}

// Deactivate clears the active flag of id
func (r *promptRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	return r.exec(ctx, `UPDATE prompt_templates SET is_active = 0 WHERE id = ? AND is_active = 1`, id)
}

// GetConversation gets a conversation override
func (r *promptRepo) GetConversation(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT conversation_id, name, template, updated_at FROM conversation_prompts WHERE conversation_id = ?
	`, conversationID)
	p, err := scanConversationPrompt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation prompt: %w", err)
	}
	return p, nil
}

// ListConversations lists every override, most recently updated first
func (r *promptRepo) ListConversations(ctx context.Context) ([]domain.ConversationPrompt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, name, template, updated_at FROM conversation_prompts
		ORDER BY updated_at DESC, conversation_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation prompts: %w", err)
	}
	defer rows.Close()

	var out []domain.ConversationPrompt
	for rows.Next() {
		p, err := scanConversationPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation prompt: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetConversation creates or replaces a conversation override
func (r *promptRepo) SetConversation(ctx context.Context, p *domain.ConversationPrompt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_prompts (conversation_id, name, template, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			name = excluded.name,
			template = excluded.template,
			updated_at = excluded.updated_at
	`, p.ConversationID, p.Name, p.Template, toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to set conversation prompt: %w", err)
	}
	return nil
}

// DeleteConversation removes an override
func (r *promptRepo) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	return r.exec(ctx, `DELETE FROM conversation_prompts WHERE conversation_id = ?`, conversationID)
}

func (r *promptRepo) queryOne(ctx context.Context, query string, args ...any) (*domain.StoredPrompt, error) {
	p, err := scanPrompt(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt template: %w", err)
	}
	return p, nil
}

func (r *promptRepo) exec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanPrompt(s rowScanner) (*domain.StoredPrompt, error) {
	var p domain.StoredPrompt
	var createdAt int64
	if err := s.Scan(&p.ID, &p.Name, &p.Template, &p.Active, &createdAt); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

func scanConversationPrompt(s rowScanner) (*domain.ConversationPrompt, error) {
	var p domain.ConversationPrompt
	var updatedAt int64
	if err := s.Scan(&p.ConversationID, &p.Name, &p.Template, &updatedAt); err != nil {
		return nil, err
	}
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}
