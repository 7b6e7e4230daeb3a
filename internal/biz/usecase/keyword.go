package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// KeywordUsecase matches messages against keyword actions and manages them.
// Enabled actions are read on every match since other processes (replyctl)
// write the same table.
type KeywordUsecase struct {
	keywordRepo repo.KeywordRepo
	clock       domain.Clock
}

// NewKeywordUsecase creates a new keyword usecase
func NewKeywordUsecase(keywordRepo repo.KeywordRepo, clock domain.Clock) *KeywordUsecase {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &KeywordUsecase{
		keywordRepo: keywordRepo,
		clock:       clock,
	}
}

// FindMatchingAction returns the best enabled action whose keyword occurs in
// message, nil when none does
func (uc *KeywordUsecase) FindMatchingAction(ctx context.Context, message string) (*domain.KeywordAction, error) {
	if message == "" {
		return nil, nil
	}

	enabled, err := uc.keywordRepo.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled keywords: %w", err)
	}

	var best *domain.KeywordAction
	for i := range enabled {
		k := &enabled[i]
		if !k.Matches(message) {
			continue
		}
		if best == nil || k.Outranks(best) {
			best = k
		}
	}
	if best == nil {
		return nil, nil
	}
	match := *best
	return &match, nil
}

// Create validates and stores a new action
func (uc *KeywordUsecase) Create(ctx context.Context, keyword string, actionType domain.ActionType, content string, enabled bool) (*domain.KeywordAction, error) {
	action := &domain.KeywordAction{
		Keyword:       keyword,
		ActionType:    domain.ActionType(strings.ToUpper(string(actionType))),
		ActionContent: content,
		Enabled:       enabled,
		CreatedAt:     uc.clock.Now(),
	}
	if err := validateKeyword(action); err != nil {
		return nil, err
	}

	id, err := uc.keywordRepo.Create(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("create keyword: %w", err)
	}
	action.ID = id
	return action, nil
}

// Update rewrites an existing action
func (uc *KeywordUsecase) Update(ctx context.Context, action *domain.KeywordAction) error {
	action.ActionType = domain.ActionType(strings.ToUpper(string(action.ActionType)))
	if err := validateKeyword(action); err != nil {
		return err
	}
	ok, err := uc.keywordRepo.Update(ctx, action)
	if err != nil {
		return fmt.Errorf("update keyword: %w", err)
	}
	if !ok {
		return errors.NewNotFound("keyword action", fmt.Sprint(action.ID))
	}
	return nil
}

// SetEnabled enables or disables an action
func (uc *KeywordUsecase) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	ok, err := uc.keywordRepo.SetEnabled(ctx, id, enabled)
	if err != nil {
		return fmt.Errorf("set keyword enabled: %w", err)
	}
	if !ok {
		return errors.NewNotFound("keyword action", fmt.Sprint(id))
	}
	return nil
}

// Delete removes an action
func (uc *KeywordUsecase) Delete(ctx context.Context, id int64) error {
	ok, err := uc.keywordRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	if !ok {
		return errors.NewNotFound("keyword action", fmt.Sprint(id))
	}
	return nil
}

// List lists all actions, newest first
func (uc *KeywordUsecase) List(ctx context.Context) ([]domain.KeywordAction, error) {
	return uc.keywordRepo.List(ctx)
}

// Get gets one action
func (uc *KeywordUsecase) Get(ctx context.Context, id int64) (*domain.KeywordAction, error) {
	action, err := uc.keywordRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get keyword: %w", err)
	}
	if action == nil {
		return nil, errors.NewNotFound("keyword action", fmt.Sprint(id))
	}
	return action, nil
}

func validateKeyword(action *domain.KeywordAction) error {
	if action.Keyword == "" {
		return errors.NewInvalidRequest("keyword is required")
	}
	if !action.ActionType.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("unknown action type %q (want IMAGE, VIDEO or TEXT)", action.ActionType))
	}
	if strings.TrimSpace(action.ActionContent) == "" {
		return errors.NewInvalidRequest("action content is required")
	}
	return nil
}
