package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/data/migrations"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// insertChunk bounds the rows per multi-value INSERT, under SQLite's bind limit
const insertChunk = 200

type notificationRow struct {
	ID                int64  `db:"id" json:"id"`
	PackageName       string `db:"package_name" json:"package_name"`
	AppName           string `db:"app_name" json:"app_name"`
	Title             string `db:"title" json:"title"`
	Content           string `db:"content" json:"content"`
	Timestamp         int64  `db:"timestamp" json:"timestamp"`
	ConversationID    string `db:"conversation_id" json:"conversation_id"`
	SourceID          string `db:"source_id" json:"source_id"`
	ReplyKey          string `db:"reply_key" json:"reply_key"`
	AutoReplyDisabled bool   `db:"auto_reply_disabled" json:"auto_reply_disabled"`
}

type ruleRow struct {
	ID             int64  `db:"id" json:"id"`
	PackageName    string `db:"package_name" json:"package_name"`
	Identifier     string `db:"identifier" json:"identifier"`
	IdentifierType string `db:"identifier_type" json:"identifier_type"`
	Disabled       bool   `db:"disabled" json:"disabled"`
	CreatedAt      int64  `db:"created_at" json:"created_at"`
}

type appSettingRow struct {
	PackageName            string `db:"package_name" json:"package_name"`
	AppName                string `db:"app_name" json:"app_name"`
	AutoReplyEnabled       bool   `db:"auto_reply_enabled" json:"auto_reply_enabled"`
	AutoReplyGroupsEnabled bool   `db:"auto_reply_groups_enabled" json:"auto_reply_groups_enabled"`
}

type settingRow struct {
	Key   string `db:"key" json:"key"`
	Value string `db:"value" json:"value"`
}

type replyCountRow struct {
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	ReplyCount     int    `db:"reply_count" json:"reply_count"`
	FirstReplyTS   int64  `db:"first_reply_ts" json:"first_reply_ts"`
	LastReplyTS    int64  `db:"last_reply_ts" json:"last_reply_ts"`
}

type keywordRow struct {
	ID            int64  `db:"id" json:"id"`
	Keyword       string `db:"keyword" json:"keyword"`
	ActionType    string `db:"action_type" json:"action_type"`
	ActionContent string `db:"action_content" json:"action_content"`
	Enabled       bool   `db:"enabled" json:"enabled"`
	CreatedAt     int64  `db:"created_at" json:"created_at"`
}

type historyRow struct {
	ID             int64  `db:"id" json:"id"`
	NotificationID int64  `db:"notification_id" json:"notification_id"`
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	Message        string `db:"message" json:"message"`
	Response       string `db:"response" json:"response"`
	Timestamp      int64  `db:"timestamp" json:"timestamp"`
}

type promptTemplateRow struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Template  string `db:"template" json:"template"`
	IsActive  bool   `db:"is_active" json:"is_active"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

type conversationPromptRow struct {
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	Name           string `db:"name" json:"name"`
	Template       string `db:"template" json:"template"`
	UpdatedAt      int64  `db:"updated_at" json:"updated_at"`
}

// backupDocument is the single JSON document written by Export.
// Documents from schema 2 carry no prompt sets and restore with none.
type backupDocument struct {
	Manifest            domain.BackupManifest   `json:"manifest"`
	Notifications       []notificationRow       `json:"notifications"`
	Rules               []ruleRow               `json:"rules"`
	AppSettings         []appSettingRow         `json:"app_settings"`
	Settings            []settingRow            `json:"settings"`
	ReplyCounts         []replyCountRow         `json:"reply_counts"`
	Keywords            []keywordRow            `json:"keyword_actions"`
	History             []historyRow            `json:"conversation_history"`
	PromptTemplates     []promptTemplateRow     `json:"prompt_templates"`
	ConversationPrompts []conversationPromptRow `json:"conversation_prompts"`
}

func (d *backupDocument) counts() map[string]int {
	return map[string]int{
		"notifications":        len(d.Notifications),
		"rules":                len(d.Rules),
		"app_settings":         len(d.AppSettings),
		"settings":             len(d.Settings),
		"reply_counts":         len(d.ReplyCounts),
		"keyword_actions":      len(d.Keywords),
		"conversation_history": len(d.History),
		"prompt_templates":     len(d.PromptTemplates),
		"conversation_prompts": len(d.ConversationPrompts),
	}
}

// backupRepo implements export and restore with sqlx
type backupRepo struct {
	db *sqlx.DB
}

// NewBackupRepo creates a new backup repository
func NewBackupRepo(db *sql.DB) repo.BackupRepo {
	// modernc registers as "sqlite", which sqlx does not know
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	return &backupRepo{db: sqlx.NewDb(db, "sqlite")}
}

// Export writes every table to w as one JSON document
func (r *backupRepo) Export(ctx context.Context, w io.Writer, manifest domain.BackupManifest) (*domain.BackupManifest, error) {
	schema, _, err := migrations.Version(r.db.DB)
	if err != nil {
		return nil, err
	}
	manifest.SchemaVersion = schema

	// One transaction gives a consistent snapshot across tables
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin export: %w", err)
	}
	defer tx.Rollback()

	doc := backupDocument{Manifest: manifest}
	if err := selectAll(ctx, tx, &doc.Notifications, `SELECT * FROM notifications ORDER BY id`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.Rules, `SELECT * FROM auto_reply_rules ORDER BY id`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.AppSettings, `SELECT * FROM app_settings ORDER BY package_name`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.Settings, `SELECT * FROM settings ORDER BY key`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.ReplyCounts, `SELECT * FROM conversation_reply_counts ORDER BY conversation_id`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.Keywords, `SELECT * FROM keyword_actions ORDER BY id`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.History, `SELECT * FROM conversation_history ORDER BY id`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.PromptTemplates, `SELECT * FROM prompt_templates ORDER BY id`); err != nil {
		return nil, err
	}
	if err := selectAll(ctx, tx, &doc.ConversationPrompts, `SELECT * FROM conversation_prompts ORDER BY conversation_id`); err != nil {
		return nil, err
	}

	doc.Manifest.Counts = doc.counts()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	return &doc.Manifest, nil
}

// Restore wipes the backed-up tables and inserts the document in one transaction
func (r *backupRepo) Restore(ctx context.Context, rd io.Reader) (*domain.BackupManifest, error) {
	var doc backupDocument
	if err := json.NewDecoder(rd).Decode(&doc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("malformed backup: %v", err))
	}
	if !doc.Manifest.Compatible() {
		return nil, errors.NewUnsupported(fmt.Sprintf("unsupported backup %s version %s", doc.Manifest.Format, doc.Manifest.Version))
	}
	schema, _, err := migrations.Version(r.db.DB)
	if err != nil {
		return nil, err
	}
	if doc.Manifest.SchemaVersion > schema {
		return nil, errors.NewUnsupported(fmt.Sprintf("backup schema %d is newer than database schema %d", doc.Manifest.SchemaVersion, schema))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin restore: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"conversation_prompts",
		"prompt_templates",
		"conversation_history",
		"keyword_actions",
		"conversation_reply_counts",
		"settings",
		"app_settings",
		"auto_reply_rules",
		"notifications",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return nil, fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}

	if err := insertAll(ctx, tx, `INSERT INTO notifications (id, package_name, app_name, title, content, timestamp,
		conversation_id, source_id, reply_key, auto_reply_disabled)
		VALUES (:id, :package_name, :app_name, :title, :content, :timestamp,
		:conversation_id, :source_id, :reply_key, :auto_reply_disabled)`, doc.Notifications); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO auto_reply_rules (id, package_name, identifier, identifier_type, disabled, created_at)
		VALUES (:id, :package_name, :identifier, :identifier_type, :disabled, :created_at)`, doc.Rules); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO app_settings (package_name, app_name, auto_reply_enabled, auto_reply_groups_enabled)
		VALUES (:package_name, :app_name, :auto_reply_enabled, :auto_reply_groups_enabled)`, doc.AppSettings); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO settings (key, value) VALUES (:key, :value)`, doc.Settings); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO conversation_reply_counts (conversation_id, reply_count, first_reply_ts, last_reply_ts)
		VALUES (:conversation_id, :reply_count, :first_reply_ts, :last_reply_ts)`, doc.ReplyCounts); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO keyword_actions (id, keyword, action_type, action_content, enabled, created_at)
		VALUES (:id, :keyword, :action_type, :action_content, :enabled, :created_at)`, doc.Keywords); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO conversation_history (id, notification_id, conversation_id, message, response, timestamp)
		VALUES (:id, :notification_id, :conversation_id, :message, :response, :timestamp)`, doc.History); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO prompt_templates (id, name, template, is_active, created_at)
		VALUES (:id, :name, :template, :is_active, :created_at)`, doc.PromptTemplates); err != nil {
		return nil, err
	}
	if err := insertAll(ctx, tx, `INSERT INTO conversation_prompts (conversation_id, name, template, updated_at)
		VALUES (:conversation_id, :name, :template, :updated_at)`, doc.ConversationPrompts); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit restore: %w", err)
	}
	doc.Manifest.Counts = doc.counts()
	return &doc.Manifest, nil
}

func selectAll[T any](ctx context.Context, tx *sqlx.Tx, dest *[]T, query string) error {
	if err := tx.SelectContext(ctx, dest, query); err != nil {
		return fmt.Errorf("failed to export (%s): %w", query, err)
	}
	if *dest == nil {
		*dest = []T{}
	}
	return nil
}

func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, query, rows[start:end]); err != nil {
			return fmt.Errorf("failed to restore rows: %w", err)
		}
	}
	return nil
}
