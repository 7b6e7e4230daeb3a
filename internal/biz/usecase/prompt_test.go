package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
	"github.com/devricklin/notify-reply-bridge/internal/testutil"
)

var configuredPrompt = domain.PromptTemplate{Name: "configured", Template: "Configured. {context} {message}"}

func TestPromptUsecase_Effective(t *testing.T) {
	ctx := context.Background()
	const conv = "whatsapp_contact_alice"

	tests := []struct {
		name         string
		setup        func(t *testing.T, uc *PromptUsecase)
		conversation string
		wantSource   domain.PromptSource
		wantName     string
	}{
		{
			name:         "configured default",
			setup:        func(t *testing.T, uc *PromptUsecase) {},
			conversation: conv,
			wantSource:   domain.PromptFromDefault,
			wantName:     "configured",
		},
		{
			name: "inactive template is ignored",
			setup: func(t *testing.T, uc *PromptUsecase) {
				_, err := uc.Create(ctx, "formal", "Formal. {message}", false)
				require.NoError(t, err)
			},
			conversation: conv,
			wantSource:   domain.PromptFromDefault,
			wantName:     "configured",
		},
		{
			name: "active template",
			setup: func(t *testing.T, uc *PromptUsecase) {
				_, err := uc.Create(ctx, "formal", "Formal. {message}", true)
				require.NoError(t, err)
			},
			conversation: conv,
			wantSource:   domain.PromptFromTemplate,
			wantName:     "formal",
		},
		{
			name: "conversation override wins",
			setup: func(t *testing.T, uc *PromptUsecase) {
				_, err := uc.Create(ctx, "formal", "Formal. {message}", true)
				require.NoError(t, err)
				_, err = uc.SetConversationPrompt(ctx, conv, "friend", "Warm. {message}")
				require.NoError(t, err)
			},
			conversation: conv,
			wantSource:   domain.PromptFromConversation,
			wantName:     "friend",
		},
		{
			name: "override of another conversation",
			setup: func(t *testing.T, uc *PromptUsecase) {
				_, err := uc.SetConversationPrompt(ctx, "whatsapp_contact_bob", "friend", "Warm. {message}")
				require.NoError(t, err)
			},
			conversation: conv,
			wantSource:   domain.PromptFromDefault,
			wantName:     "configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := NewPromptUsecase(newMockPromptRepo(), configuredPrompt, testutil.FixedClock())
			tt.setup(t, uc)

			got, err := uc.Effective(ctx, tt.conversation)
			require.NoError(t, err)
			require.Equal(t, tt.wantSource, got.Source)
			require.Equal(t, tt.wantName, got.Name)

			resolved, err := uc.Resolve(ctx, tt.conversation)
			require.NoError(t, err)
			require.Equal(t, got.Template, resolved.Template)
		})
	}
}

func TestPromptUsecase_EmptyFallback(t *testing.T) {
	uc := NewPromptUsecase(newMockPromptRepo(), domain.PromptTemplate{}, nil)
	got, err := uc.Resolve(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultPromptTemplate, got)
}

func TestPromptUsecase_Templates(t *testing.T) {
	ctx := context.Background()
	uc := NewPromptUsecase(newMockPromptRepo(), configuredPrompt, testutil.FixedClock())

	_, err := uc.Create(ctx, "broken", "no placeholder", false)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = uc.Create(ctx, "  ", "{message}", false)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	first, err := uc.Create(ctx, "formal", "Formal. {message}", true)
	require.NoError(t, err)
	require.True(t, first.Active)
	second, err := uc.Create(ctx, "short", "Short. {message}", false)
	require.NoError(t, err)

	require.NoError(t, uc.Activate(ctx, second.ID))
	got, err := uc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.False(t, got.Active, "only one template is active")

	err = uc.Deactivate(ctx, first.ID)
	require.True(t, errors.Is(err, errors.ErrConflict))
	require.NoError(t, uc.Deactivate(ctx, second.ID))

	updated, err := uc.Update(ctx, second.ID, "brief", "Brief. {message}")
	require.NoError(t, err)
	require.Equal(t, "brief", updated.Name)

	_, err = uc.Update(ctx, 404, "x", "{message}")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	require.True(t, errors.Is(uc.Activate(ctx, 404), errors.ErrNotFound))

	require.NoError(t, uc.Delete(ctx, first.ID))
	require.True(t, errors.Is(uc.Delete(ctx, first.ID), errors.ErrNotFound))
	_, err = uc.Get(ctx, first.ID)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPromptUsecase_ConversationPrompts(t *testing.T) {
	ctx := context.Background()
	uc := NewPromptUsecase(newMockPromptRepo(), configuredPrompt, testutil.FixedClock())

	_, err := uc.SetConversationPrompt(ctx, "", "x", "{message}")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = uc.SetConversationPrompt(ctx, "conv", "x", "nothing to fill")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	p, err := uc.SetConversationPrompt(ctx, "conv", "", "Warm. {message}")
	require.NoError(t, err)
	require.Equal(t, "Custom Prompt", p.Name)

	got, err := uc.ConversationPrompt(ctx, "conv")
	require.NoError(t, err)
	require.Equal(t, "Warm. {message}", got.Template)

	all, err := uc.ListConversationPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, uc.ClearConversationPrompt(ctx, "conv"))
	require.True(t, errors.Is(uc.ClearConversationPrompt(ctx, "conv"), errors.ErrNotFound))
	_, err = uc.ConversationPrompt(ctx, "conv")
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
