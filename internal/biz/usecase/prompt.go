package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

// PromptResolver picks the prompt a conversation is answered with
type PromptResolver interface {
	Resolve(ctx context.Context, conversationID string) (domain.PromptTemplate, error)
}

// PromptUsecase manages stored prompt templates and per-conversation overrides.
// A conversation override wins over the active template, which wins over the
// configured default.
type PromptUsecase struct {
	promptRepo repo.PromptRepo
	fallback   domain.PromptTemplate
	clock      domain.Clock
}

// NewPromptUsecase creates a new prompt usecase; fallback is the configured default
func NewPromptUsecase(promptRepo repo.PromptRepo, fallback domain.PromptTemplate, clock domain.Clock) *PromptUsecase {
	if strings.TrimSpace(fallback.Template) == "" {
		fallback = domain.DefaultPromptTemplate
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &PromptUsecase{promptRepo: promptRepo, fallback: fallback, clock: clock}
}

// Effective returns the prompt of a conversation and where it came from
func (uc *PromptUsecase) Effective(ctx context.Context, conversationID string) (*domain.EffectivePrompt, error) {
	if conversationID != "" {
		override, err := uc.promptRepo.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("get conversation prompt: %w", err)
		}
		if override != nil {
			return &domain.EffectivePrompt{Source: domain.PromptFromConversation, Name: override.Name, Template: override.Template}, nil
		}
	}

	active, err := uc.promptRepo.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active prompt: %w", err)
	}
	if active != nil {
		return &domain.EffectivePrompt{Source: domain.PromptFromTemplate, TemplateID: active.ID, Name: active.Name, Template: active.Template}, nil
	}
	return &domain.EffectivePrompt{Source: domain.PromptFromDefault, Name: uc.fallback.Name, Template: uc.fallback.Template}, nil
}

// Resolve implements PromptResolver
func (uc *PromptUsecase) Resolve(ctx context.Context, conversationID string) (domain.PromptTemplate, error) {
	p, err := uc.Effective(ctx, conversationID)
	if err != nil {
		return domain.PromptTemplate{}, err
	}
	return p.Prompt(), nil
}

// List lists stored templates, newest first
func (uc *PromptUsecase) List(ctx context.Context) ([]domain.StoredPrompt, error) {
	return uc.promptRepo.List(ctx)
}

// Get gets a stored template
func (uc *PromptUsecase) Get(ctx context.Context, id int64) (*domain.StoredPrompt, error) {
	p, err := uc.promptRepo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	if p == nil {
		return nil, errors.NewNotFound("prompt template", fmt.Sprint(id))
	}
	return p, nil
}

// Create stores a template, making it the active one when activate is set
func (uc *PromptUsecase) Create(ctx context.Context, name, template string, activate bool) (*domain.StoredPrompt, error) {
	p := &domain.StoredPrompt{
		Name:      strings.TrimSpace(name),
		Template:  template,
		CreatedAt: uc.clock.Now(),
	}
	if err := p.Prompt().Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}

	id, err := uc.promptRepo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	p.ID = id
	if activate {
		if err := uc.Activate(ctx, id); err != nil {
			return nil, err
		}
		p.Active = true
	}
	return p, nil
}

// Update rewrites a template's name and text
func (uc *PromptUsecase) Update(ctx context.Context, id int64, name, template string) (*domain.StoredPrompt, error) {
	p := &domain.StoredPrompt{ID: id, Name: strings.TrimSpace(name), Template: template}
	if err := p.Prompt().Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	ok, err := uc.promptRepo.Update(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("update prompt: %w", err)
	}
	if !ok {
		return nil, errors.NewNotFound("prompt template", fmt.Sprint(id))
	}
	return uc.Get(ctx, id)
}

// Delete removes a template. Deleting the active one falls back to the default.
func (uc *PromptUsecase) Delete(ctx context.Context, id int64) error {
	ok, err := uc.promptRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if !ok {
		return errors.NewNotFound("prompt template", fmt.Sprint(id))
	}
	return nil
}

// Activate makes a template the only active one
func (uc *PromptUsecase) Activate(ctx context.Context, id int64) error {
	ok, err := uc.promptRepo.Activate(ctx, id)
	if err != nil {
		return fmt.Errorf("activate prompt: %w", err)
	}
	if !ok {
		return errors.NewNotFound("prompt template", fmt.Sprint(id))
	}
	return nil
}

// Deactivate clears the active template so the default applies again
func (uc *PromptUsecase) Deactivate(ctx context.Context, id int64) error {
	ok, err := uc.promptRepo.Deactivate(ctx, id)
	if err != nil {
		return fmt.Errorf("deactivate prompt: %w", err)
	}
	if !ok {
		return errors.NewConflict(fmt.Sprintf("prompt template %d is not active", id))
	}
	return nil
}

// SetConversationPrompt creates or replaces the override of a conversation
func (uc *PromptUsecase) SetConversationPrompt(ctx context.Context, conversationID, name, template string) (*domain.ConversationPrompt, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.NewInvalidRequest("conversation id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Custom Prompt"
	}
	p := &domain.ConversationPrompt{
		ConversationID: conversationID,
		Name:           name,
		Template:       template,
		UpdatedAt:      uc.clock.Now(),
	}
	if err := p.Prompt().Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if err := uc.promptRepo.SetConversation(ctx, p); err != nil {
		return nil, fmt.Errorf("set conversation prompt: %w", err)
	}
	return p, nil
}

// ConversationPrompt gets the override of a conversation
func (uc *PromptUsecase) ConversationPrompt(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error) {
	p, err := uc.promptRepo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation prompt: %w", err)
	}
	if p == nil {
		return nil, errors.NewNotFound("conversation prompt", conversationID)
	}
	return p, nil
}

// ListConversationPrompts lists every override
func (uc *PromptUsecase) ListConversationPrompts(ctx context.Context) ([]domain.ConversationPrompt, error) {
	return uc.promptRepo.ListConversations(ctx)
}

// ClearConversationPrompt removes the override of a conversation
func (uc *PromptUsecase) ClearConversationPrompt(ctx context.Context, conversationID string) error {
	ok, err := uc.promptRepo.DeleteConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation prompt: %w", err)
	}
	if !ok {
		return errors.NewNotFound("conversation prompt", conversationID)
	}
	return nil
}
