package repo

import (
	"context"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
)

// RuleRepo stores per-conversation auto-reply overrides
type RuleRepo interface {
	// Get gets the rule for the unique key, nil if absent
	Get(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType) (*domain.AutoReplyRule, error)

	// Toggle flips the disabled flag in one transaction, creating the rule as
	// disabled when absent. Returns the new disabled state.
	Toggle(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, now time.Time) (bool, error)

	// SetDisabled sets the disabled flag, creating the rule when absent
	SetDisabled(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, disabled bool, now time.Time) error

	// ListByPackage lists an app's rules
	ListByPackage(ctx context.Context, packageName string) ([]domain.AutoReplyRule, error)

	// DeleteByPackage removes an app's rules
	DeleteByPackage(ctx context.Context, packageName string) (int64, error)
}

// AppSettingRepo stores per-app switches
type AppSettingRepo interface {
	// Get gets an app setting, nil if absent
	Get(ctx context.Context, packageName string) (*domain.AppSetting, error)

	// InsertIfAbsent stores the setting unless the app is already known.
	// Returns the stored setting.
	InsertIfAbsent(ctx context.Context, setting *domain.AppSetting) (*domain.AppSetting, error)

	// SetEnabled sets auto-reply for an app, creating the row when absent
	SetEnabled(ctx context.Context, packageName string, enabled bool) error

	// SetGroupsEnabled sets group auto-reply for an app, creating the row when absent
	SetGroupsEnabled(ctx context.Context, packageName string, enabled bool) error

	// List lists all known apps
	List(ctx context.Context) ([]domain.AppSetting, error)
}

// SettingRepo stores global key/value settings
type SettingRepo interface {
	// GetBool returns the value of key, def when absent
	GetBool(ctx context.Context, key string, def bool) (bool, error)

	// SetBool stores the value of key
	SetBool(ctx context.Context, key string, value bool) error
}

// ReplyCountRepo stores per-conversation reply counters
type ReplyCountRepo interface {
	// Get gets the counter, nil if absent
	Get(ctx context.Context, conversationID string) (*domain.ConversationReplyCount, error)

	// Increment reads-or-creates and increments the counter in one transaction
	Increment(ctx context.Context, conversationID string, now time.Time) (*domain.ConversationReplyCount, error)

	// Reset removes the counter
	Reset(ctx context.Context, conversationID string) error

	// List lists all counters, most recent reply first
	List(ctx context.Context) ([]domain.ConversationReplyCount, error)

	// ListAtLeast lists counters with count >= min
	ListAtLeast(ctx context.Context, min int) ([]domain.ConversationReplyCount, error)

	// DeleteLastReplyBefore removes counters whose last reply is before cutoff
	DeleteLastReplyBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// BulkInsert replaces counters with the given rows
	BulkInsert(ctx context.Context, counts []domain.ConversationReplyCount) error
}

// KeywordRepo stores keyword actions
type KeywordRepo interface {
	// ListEnabled lists enabled actions
	ListEnabled(ctx context.Context) ([]domain.KeywordAction, error)

	// List lists all actions, newest first
	List(ctx context.Context) ([]domain.KeywordAction, error)

	// Get gets an action, nil if absent
	Get(ctx context.Context, id int64) (*domain.KeywordAction, error)

	// Create stores an action and returns its ID
	Create(ctx context.Context, action *domain.KeywordAction) (int64, error)

	// Update rewrites keyword, type and content; returns false when absent
	Update(ctx context.Context, action *domain.KeywordAction) (bool, error)

	// SetEnabled flips the enabled flag; returns false when absent
	SetEnabled(ctx context.Context, id int64, enabled bool) (bool, error)

	// Delete removes an action; returns false when absent
	Delete(ctx context.Context, id int64) (bool, error)
}
