package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/data/migrations"

	_ "modernc.org/sqlite"
)

// Repositories contains all repositories backed by the database
type Repositories struct {
	Notification repo.NotificationRepo
	History      repo.HistoryRepo
	Outbox       repo.OutboxRepo
	Rule         repo.RuleRepo
	AppSetting   repo.AppSettingRepo
	Setting      repo.SettingRepo
	ReplyCount   repo.ReplyCountRepo
	Keyword      repo.KeywordRepo
	Prompt       repo.PromptRepo
	Backup       repo.BackupRepo
}

// NewRepositories creates all repositories on an opened database
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Notification: NewNotificationRepo(db),
		History:      NewHistoryRepo(db),
		Outbox:       NewOutboxRepo(db),
		Rule:         NewRuleRepo(db),
		AppSetting:   NewAppSettingRepo(db),
		Setting:      NewSettingRepo(db),
		ReplyCount:   NewReplyCountRepo(db),
		Keyword:      NewKeywordRepo(db),
		Prompt:       NewPromptRepo(db),
		Backup:       NewBackupRepo(db),
	}
}

// OpenDB opens the SQLite database and brings its schema up to date.
// Write transactions take the lock up front (BEGIN IMMEDIATE) so that
// read-modify-write sequences never upgrade a shared lock.
func OpenDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// toMillis stores a time as Unix milliseconds, zero time as 0
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
