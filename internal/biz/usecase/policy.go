package usecase

import (
	"context"
	"fmt"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// SettingAutoReplyEnabled is the key of the global switch
const SettingAutoReplyEnabled = "auto_reply_enabled"

// PolicyUsecase decides auto-reply eligibility from three scopes:
// global switch, per-app setting and per-conversation rule
type PolicyUsecase struct {
	ruleRepo         repo.RuleRepo
	appRepo          repo.AppSettingRepo
	settingRepo      repo.SettingRepo
	notificationRepo repo.NotificationRepo
	defaults         domain.DefaultPolicies
	clock            domain.Clock
}

// NewPolicyUsecase creates a new policy usecase
func NewPolicyUsecase(
	ruleRepo repo.RuleRepo,
	appRepo repo.AppSettingRepo,
	settingRepo repo.SettingRepo,
	notificationRepo repo.NotificationRepo,
	defaults domain.DefaultPolicies,
	clock domain.Clock,
) *PolicyUsecase {
	if defaults == nil {
		defaults = domain.BuiltinDefaultPolicies
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &PolicyUsecase{
		ruleRepo:         ruleRepo,
		appRepo:          appRepo,
		settingRepo:      settingRepo,
		notificationRepo: notificationRepo,
		defaults:         defaults,
		clock:            clock,
	}
}

// IsAutoReplyAllowed returns global AND app(pkg) AND NOT rule-disabled
func (uc *PolicyUsecase) IsAutoReplyAllowed(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType) (bool, error) {
	global, err := uc.GlobalEnabled(ctx)
	if err != nil {
		return false, err
	}
	if !global {
		return false, nil
	}

	app, err := uc.AppEnabled(ctx, packageName)
	if err != nil {
		return false, err
	}
	if !app {
		return false, nil
	}

	disabled, err := uc.IsConversationDisabled(ctx, packageName, identifier, identifierType)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

// Allows evaluates the policy for a notification
func (uc *PolicyUsecase) Allows(ctx context.Context, n *domain.Notification) (bool, error) {
	id := n.Identifier()
	return uc.IsAutoReplyAllowed(ctx, n.PackageName, id.Value(), id.Type)
}

// GlobalEnabled reads the global switch, true when never set
func (uc *PolicyUsecase) GlobalEnabled(ctx context.Context) (bool, error) {
	v, err := uc.settingRepo.GetBool(ctx, SettingAutoReplyEnabled, true)
	if err != nil {
		return false, fmt.Errorf("get global switch: %w", err)
	}
	return v, nil
}

// SetGlobalEnabled sets the global switch
func (uc *PolicyUsecase) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	if err := uc.settingRepo.SetBool(ctx, SettingAutoReplyEnabled, enabled); err != nil {
		return fmt.Errorf("set global switch: %w", err)
	}
	return nil
}

// AppEnabled reads the app switch, falling back to the default-policy table
func (uc *PolicyUsecase) AppEnabled(ctx context.Context, packageName string) (bool, error) {
	setting, err := uc.appRepo.Get(ctx, packageName)
	if err != nil {
		return false, fmt.Errorf("get app setting: %w", err)
	}
	if setting == nil {
		return uc.defaults.SettingFor(packageName, "").AutoReplyEnabled, nil
	}
	return setting.AutoReplyEnabled, nil
}

// EnsureApp records a newly discovered app with its default policy
func (uc *PolicyUsecase) EnsureApp(ctx context.Context, packageName, appName string) (*domain.AppSetting, error) {
	if packageName == "" {
		return nil, errors.NewInvalidRequest("package name is required")
	}
	setting := uc.defaults.SettingFor(packageName, appName)
	stored, err := uc.appRepo.InsertIfAbsent(ctx, &setting)
	if err != nil {
		return nil, fmt.Errorf("ensure app setting: %w", err)
	}
	return stored, nil
}

// SetAppEnabled sets the app switch
func (uc *PolicyUsecase) SetAppEnabled(ctx context.Context, packageName string, enabled bool) error {
	if packageName == "" {
		return errors.NewInvalidRequest("package name is required")
	}
	if _, err := uc.EnsureApp(ctx, packageName, ""); err != nil {
		return err
	}
	if err := uc.appRepo.SetEnabled(ctx, packageName, enabled); err != nil {
		return fmt.Errorf("set app enabled: %w", err)
	}
	return nil
}

// SetAppGroupsEnabled sets group auto-reply for an app
func (uc *PolicyUsecase) SetAppGroupsEnabled(ctx context.Context, packageName string, enabled bool) error {
	if packageName == "" {
		return errors.NewInvalidRequest("package name is required")
	}
	if _, err := uc.EnsureApp(ctx, packageName, ""); err != nil {
		return err
	}
	if err := uc.appRepo.SetGroupsEnabled(ctx, packageName, enabled); err != nil {
		return fmt.Errorf("set app groups enabled: %w", err)
	}
	return nil
}

// ListApps lists known apps
func (uc *PolicyUsecase) ListApps(ctx context.Context) ([]domain.AppSetting, error) {
	return uc.appRepo.List(ctx)
}

// IsConversationDisabled checks the per-conversation rule; absence means enabled
func (uc *PolicyUsecase) IsConversationDisabled(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType) (bool, error) {
	rule, err := uc.ruleRepo.Get(ctx, packageName, identifier, identifierType)
	if err != nil {
		return false, fmt.Errorf("get rule: %w", err)
	}
	return rule != nil && rule.Disabled, nil
}

func validateRuleKey(packageName string, identifierType domain.IdentifierType) error {
	if packageName == "" {
		return errors.NewInvalidRequest("package name is required")
	}
	if identifierType != domain.IdentifierPhoneNumber && identifierType != domain.IdentifierTitle {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown identifier type %q", identifierType))
	}
	return nil
}

// ToggleConversation flips the per-conversation rule and returns the new disabled state
func (uc *PolicyUsecase) ToggleConversation(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType) (bool, error) {
	if err := validateRuleKey(packageName, identifierType); err != nil {
		return false, err
	}
	disabled, err := uc.ruleRepo.Toggle(ctx, packageName, identifier, identifierType, uc.clock.Now())
	if err != nil {
		return false, fmt.Errorf("toggle rule: %w", err)
	}
	return disabled, nil
}

// SetConversationDisabled sets the per-conversation rule to an explicit state
func (uc *PolicyUsecase) SetConversationDisabled(ctx context.Context, packageName, identifier string, identifierType domain.IdentifierType, disabled bool) error {
	if err := validateRuleKey(packageName, identifierType); err != nil {
		return err
	}
	if err := uc.ruleRepo.SetDisabled(ctx, packageName, identifier, identifierType, disabled, uc.clock.Now()); err != nil {
		return fmt.Errorf("set rule: %w", err)
	}
	return nil
}

// ToggleNotification toggles the rule of a notification's sender and
// backfills the disabled flag on its conversation
func (uc *PolicyUsecase) ToggleNotification(ctx context.Context, notificationID int64) (bool, error) {
	n, err := uc.notificationRepo.GetByID(ctx, notificationID)
	if err != nil {
		return false, fmt.Errorf("get notification: %w", err)
	}
	if n == nil {
		return false, errors.NewNotFound("notification", fmt.Sprint(notificationID))
	}

	id := n.Identifier()
	disabled, err := uc.ToggleConversation(ctx, n.PackageName, id.Value(), id.Type)
	if err != nil {
		return false, err
	}

	if n.ConversationID != "" {
		if err := uc.notificationRepo.SetAutoReplyDisabled(ctx, n.ConversationID, disabled); err != nil {
			return disabled, fmt.Errorf("backfill disabled flag: %w", err)
		}
	}
	return disabled, nil
}

// DeleteAppRules removes every rule of an app
func (uc *PolicyUsecase) DeleteAppRules(ctx context.Context, packageName string) (int64, error) {
	n, err := uc.ruleRepo.DeleteByPackage(ctx, packageName)
	if err != nil {
		return 0, fmt.Errorf("delete app rules: %w", err)
	}
	return n, nil
}

// PurgeApp removes an app's rules and stored notifications. Its settings stay,
// so the app keeps its on/off state when it posts again.
func (uc *PolicyUsecase) PurgeApp(ctx context.Context, packageName string) (rules, notifications int64, err error) {
	if packageName == "" {
		return 0, 0, errors.NewInvalidRequest("package name is required")
	}
	rules, err = uc.DeleteAppRules(ctx, packageName)
	if err != nil {
		return 0, 0, err
	}
	notifications, err = uc.notificationRepo.DeleteByPackage(ctx, packageName)
	if err != nil {
		return rules, 0, fmt.Errorf("delete app notifications: %w", err)
	}
	return rules, notifications, nil
}

// ListRules lists an app's rules
func (uc *PolicyUsecase) ListRules(ctx context.Context, packageName string) ([]domain.AutoReplyRule, error) {
	return uc.ruleRepo.ListByPackage(ctx, packageName)
}
