package data

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
)

// appSettingRepo implements the per-app settings repository
type appSettingRepo struct {
	db *sql.DB
}

// NewAppSettingRepo creates a new app setting repository
func NewAppSettingRepo(db *sql.DB) repo.AppSettingRepo {
	return &appSettingRepo{db: db}
}

// Get gets an app setting
func (r *appSettingRepo) Get(ctx context.Context, packageName string) (*domain.AppSetting, error) {
	var s domain.AppSetting
	err := r.db.QueryRowContext(ctx, `
		SELECT package_name, app_name, auto_reply_enabled, auto_reply_groups_enabled
		FROM app_settings WHERE package_name = ?
	`, packageName).Scan(&s.PackageName, &s.AppName, &s.AutoReplyEnabled, &s.AutoReplyGroupsEnabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query app setting: %w", err)
	}
	return &s, nil
}

// InsertIfAbsent stores the setting unless the app is known, then returns the stored row
func (r *appSettingRepo) InsertIfAbsent(ctx context.Context, s *domain.AppSetting) (*domain.AppSetting, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_settings (package_name, app_name, auto_reply_enabled, auto_reply_groups_enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (package_name) DO NOTHING
	`, s.PackageName, s.AppName, boolToInt(s.AutoReplyEnabled), boolToInt(s.AutoReplyGroupsEnabled))
	if err != nil {
		return nil, fmt.Errorf("failed to insert app setting: %w", err)
	}
	return r.Get(ctx, s.PackageName)
}

// SetEnabled sets auto-reply for an app
func (r *appSettingRepo) SetEnabled(ctx context.Context, packageName string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_settings (package_name, app_name, auto_reply_enabled)
		VALUES (?, ?, ?)
		ON CONFLICT (package_name) DO UPDATE SET auto_reply_enabled = excluded.auto_reply_enabled
	`, packageName, packageName, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("failed to set app enabled: %w", err)
	}
	return nil
}

// SetGroupsEnabled sets group auto-reply for an app
func (r *appSettingRepo) SetGroupsEnabled(ctx context.Context, packageName string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_settings (package_name, app_name, auto_reply_groups_enabled)
		VALUES (?, ?, ?)
		ON CONFLICT (package_name) DO UPDATE SET auto_reply_groups_enabled = excluded.auto_reply_groups_enabled
	`, packageName, packageName, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("failed to set app groups enabled: %w", err)
	}
	return nil
}

// List lists all known apps by name
func (r *appSettingRepo) List(ctx context.Context) ([]domain.AppSetting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT package_name, app_name, auto_reply_enabled, auto_reply_groups_enabled
		FROM app_settings ORDER BY app_name ASC, package_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list app settings: %w", err)
	}
	defer rows.Close()

	var out []domain.AppSetting
	for rows.Next() {
		var s domain.AppSetting
		if err := rows.Scan(&s.PackageName, &s.AppName, &s.AutoReplyEnabled, &s.AutoReplyGroupsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan app setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// settingRepo implements the global key/value settings
type settingRepo struct {
	db *sql.DB
}

// NewSettingRepo creates a new setting repository
func NewSettingRepo(db *sql.DB) repo.SettingRepo {
	return &settingRepo{db: db}
}

// GetBool returns the value of key, def when absent or unparsable
func (r *settingRepo) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to query setting: %w", err)
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return def, nil
	}
	return b, nil
}

// SetBool stores the value of key
func (r *settingRepo) SetBool(ctx context.Context, key string, value bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, strconv.FormatBool(value))
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
