package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/testutil"
)

func TestCompose_PromptAndTruncation(t *testing.T) {
	history := &mockHistoryRepo{recent: []domain.HistoryEntry{
		{Message: "my name is Sam", Response: "Nice to meet you, Sam"},
	}}
	gen := &mockGenerator{reply: strings.Repeat("word ", 60)}
	uc := NewReplyUsecase(history, gen, ReplyConfig{}, testutil.FixedClock())

	n := &domain.Notification{ConversationID: "whatsapp_15551234567", Title: "Sam", Content: "what's my name?"}
	reply, err := uc.Compose(context.Background(), n)
	require.NoError(t, err)

	require.Equal(t, DefaultHistoryLimit, history.limit)
	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	require.Equal(t, "what's my name?", req.Message)
	require.Contains(t, req.Prompt, "User: my name is Sam\nAssistant: Nice to meet you, Sam")
	require.Contains(t, req.Prompt, "User: what's my name?")

	require.True(t, strings.HasSuffix(reply, "..."))
	require.Len(t, strings.Fields(strings.TrimSuffix(reply, "...")), domain.MaxReplyWords)
}

func TestCompose_UsesConversationPrompt(t *testing.T) {
	ctx := context.Background()
	prompts := NewPromptUsecase(newMockPromptRepo(), domain.DefaultPromptTemplate, testutil.FixedClock())
	_, err := prompts.Create(ctx, "formal", "FORMAL {context} | {message}", true)
	require.NoError(t, err)
	_, err = prompts.SetConversationPrompt(ctx, "whatsapp_contact_alice", "friend", "WARM {context} | {message}")
	require.NoError(t, err)

	gen := &mockGenerator{reply: "ok"}
	uc := NewReplyUsecase(&mockHistoryRepo{}, gen, ReplyConfig{Prompts: prompts}, nil)

	_, err = uc.Compose(ctx, &domain.Notification{ConversationID: "whatsapp_contact_alice", Content: "hi"})
	require.NoError(t, err)
	_, err = uc.Compose(ctx, &domain.Notification{ConversationID: "whatsapp_contact_bob", Content: "hey"})
	require.NoError(t, err)

	require.Len(t, gen.requests, 2)
	require.Equal(t, "WARM (no previous messages) | hi", gen.requests[0].Prompt)
	require.Equal(t, "FORMAL (no previous messages) | hey", gen.requests[1].Prompt)
}

func TestCompose_FallsBackToTitle(t *testing.T) {
	gen := &mockGenerator{reply: "ok"}
	uc := NewReplyUsecase(&mockHistoryRepo{}, gen, ReplyConfig{}, nil)

	_, err := uc.Compose(context.Background(), &domain.Notification{Title: "Ping", Content: " "})
	require.NoError(t, err)
	require.Equal(t, "Ping", gen.requests[0].Message)
	require.Contains(t, gen.requests[0].Prompt, "(no previous messages)")
}

func TestCompose_Errors(t *testing.T) {
	tests := []struct {
		name string
		gen  *mockGenerator
	}{
		{"generator failure", &mockGenerator{err: errors.New("quota exceeded")}},
		{"blank reply", &mockGenerator{reply: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := NewReplyUsecase(&mockHistoryRepo{}, tt.gen, ReplyConfig{}, nil)
			_, err := uc.Compose(context.Background(), &domain.Notification{ConversationID: "c", Content: "hi"})
			require.Error(t, err)
		})
	}
}

func TestRecord_PrunesHistory(t *testing.T) {
	ctx := context.Background()
	history := &mockHistoryRepo{}
	clock := testutil.FixedClock()
	uc := NewReplyUsecase(history, &mockGenerator{}, ReplyConfig{MaxHistory: 3}, clock)

	for i := 0; i < 5; i++ {
		n := &domain.Notification{ID: int64(i + 1), ConversationID: "conv", Content: "msg"}
		require.NoError(t, uc.Record(ctx, n, "reply"))
		clock.Advance(time.Second)
	}
	require.NoError(t, uc.Record(ctx, &domain.Notification{ID: 99, ConversationID: "other", Content: "x"}, "y"))

	var conv int
	for _, e := range history.entries {
		if e.ConversationID == "conv" {
			conv++
		}
	}
	require.Equal(t, 3, conv)

	replied, _ := uc.AlreadyReplied(ctx, 5)
	require.True(t, replied)
	replied, _ = uc.AlreadyReplied(ctx, 1)
	require.False(t, replied, "oldest exchange was pruned")
}

func TestAnalyzeConversation(t *testing.T) {
	gen := &mockGenerator{reply: "  A friendly greeting.  "}
	uc := NewReplyUsecase(&mockHistoryRepo{}, gen, ReplyConfig{}, nil)

	thread := &domain.ConversationThread{
		ConversationID: "c",
		Notifications: []domain.Notification{
			{Title: "Ann", Content: "hey there", Timestamp: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		},
	}
	summary, err := uc.AnalyzeConversation(context.Background(), thread)
	require.NoError(t, err)
	require.Equal(t, "A friendly greeting.", summary)
	require.Contains(t, gen.prompts[0], "[2024-01-15 09:00] Ann: hey there")

	_, err = uc.AnalyzeConversation(context.Background(), &domain.ConversationThread{})
	require.Error(t, err)
}
