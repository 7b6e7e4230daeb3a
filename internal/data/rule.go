package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// ruleRepo implements the auto-reply rule repository
type ruleRepo struct {
	db *sql.DB
}

// NewRuleRepo creates a new rule repository
func NewRuleRepo(db *sql.DB) repo.RuleRepo {
	return &ruleRepo{db: db}
}

// Get gets a rule by its unique key
func (r *ruleRepo) Get(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType) (*domain.AutoReplyRule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, package_name, identifier, identifier_type, disabled, created_at
		FROM auto_reply_rules
		WHERE package_name = ? AND identifier = ? AND identifier_type = ?
	`, packageName, identifier, string(identifierType))

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return rule, nil
}

// Toggle flips the disabled flag in one immediate transaction
func (r *ruleRepo) Toggle(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var disabled bool
	err = tx.QueryRowContext(ctx, `
		SELECT disabled FROM auto_reply_rules
		WHERE package_name = ? AND identifier = ? AND identifier_type = ?
	`, packageName, identifier, string(identifierType)).Scan(&disabled)

	switch {
	case err == sql.ErrNoRows:
		disabled = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO auto_reply_rules (package_name, identifier, identifier_type, disabled, created_at)
			VALUES (?, ?, ?, 1, ?)
		`, packageName, identifier, string(identifierType), toMillis(now))
	case err != nil:
		return false, fmt.Errorf("failed to query rule: %w", err)
	default:
		disabled = !disabled
		_, err = tx.ExecContext(ctx, `
			UPDATE auto_reply_rules SET disabled = ?
			WHERE package_name = ? AND identifier = ? AND identifier_type = ?
		`, boolToInt(disabled), packageName, identifier, string(identifierType))
	}
	if err != nil {
		return false, fmt.Errorf("failed to write rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit toggle: %w", err)
	}
	return disabled, nil
}

// SetDisabled sets the disabled flag, creating the rule when absent
func (r *ruleRepo) SetDisabled(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, disabled bool, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auto_reply_rules (package_name, identifier, identifier_type, disabled, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (package_name, identifier, identifier_type) DO UPDATE SET disabled = excluded.disabled
	`, packageName, identifier, string(identifierType), boolToInt(disabled), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to set rule: %w", err)
	}
	return nil
}

// ListByPackage lists an app's rules
func (r *ruleRepo) ListByPackage(ctx context.Context, packageName string) ([]domain.AutoReplyRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, package_name, identifier, identifier_type, disabled, created_at
		FROM auto_reply_rules
		WHERE package_name = ?
		ORDER BY created_at ASC, id ASC
	`, packageName)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.AutoReplyRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// DeleteByPackage removes an app's rules
func (r *ruleRepo) DeleteByPackage(ctx context.Context, packageName string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auto_reply_rules WHERE package_name = ?`, packageName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rules: %w", err)
	}
	return result.RowsAffected()
}

func scanRule(s rowScanner) (*domain.AutoReplyRule, error) {
	var rule domain.AutoReplyRule
	var identType string
	var createdAt int64
	if err := s.Scan(&rule.ID, &rule.PackageName, &rule.Identifier, &identType, &rule.Disabled, &createdAt); err != nil {
		return nil, err
	}
	rule.IdentifierType = domain.IdentifierType(identType)
	rule.CreatedAt = fromMillis(createdAt)
	return &rule, nil
}
