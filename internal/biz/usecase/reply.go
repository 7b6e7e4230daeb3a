package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
	"github.com/devricklin/notify-reply-bridge/internal/biz/repo"
	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

const (
	DefaultHistoryLimit = 5
	DefaultMaxHistory   = 10
)

// ErrNoGenerator is returned when replies need a generator and none is configured
var ErrNoGenerator = errors.NewUnavailable("no reply generator configured")

// ReplyConfig tunes reply composition
type ReplyConfig struct {
	Prompt       domain.PromptTemplate // Used when Prompts is nil
	Prompts      PromptResolver        // Per-conversation prompt selection
	HistoryLimit int                   // Exchanges fed to the prompt
	MaxHistory   int                   // Exchanges kept per conversation
}

// ReplyUsecase composes generated replies and keeps conversation history
type ReplyUsecase struct {
	historyRepo repo.HistoryRepo
	generator   repo.ReplyGenerator
	cfg         ReplyConfig
	clock       domain.Clock
}

// NewReplyUsecase creates a new reply usecase
func NewReplyUsecase(historyRepo repo.HistoryRepo, generator repo.ReplyGenerator, cfg ReplyConfig, clock domain.Clock) *ReplyUsecase {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &ReplyUsecase{
		historyRepo: historyRepo,
		generator:   generator,
		cfg:         cfg,
		clock:       clock,
	}
}

// Compose generates the reply for a notification.
// The result is capped at domain.MaxReplyWords words.
func (uc *ReplyUsecase) Compose(ctx context.Context, n *domain.Notification) (string, error) {
	if uc.generator == nil {
		return "", ErrNoGenerator
	}
	message := n.Content
	if strings.TrimSpace(message) == "" {
		message = n.Title
	}

	var history []domain.HistoryEntry
	if n.ConversationID != "" {
		var err error
		history, err = uc.historyRepo.Recent(ctx, n.ConversationID, uc.cfg.HistoryLimit)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
	}

	prompt := uc.cfg.Prompt
	if uc.cfg.Prompts != nil {
		var err error
		prompt, err = uc.cfg.Prompts.Resolve(ctx, n.ConversationID)
		if err != nil {
			return "", fmt.Errorf("resolve prompt: %w", err)
		}
	}

	req := repo.GenerateRequest{
		ConversationID: n.ConversationID,
		History:        history,
		Message:        message,
		Prompt:         prompt.Render(domain.FormatHistory(history), message),
	}
	text, err := uc.generator.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	text = domain.TruncateWords(text, domain.MaxReplyWords)
	if text == "" {
		return "", fmt.Errorf("generate reply: empty response")
	}
	return text, nil
}

// Record stores a successful exchange and prunes the conversation history
func (uc *ReplyUsecase) Record(ctx context.Context, n *domain.Notification, response string) error {
	if n.ConversationID == "" {
		return nil
	}
	message := n.Content
	if strings.TrimSpace(message) == "" {
		message = n.Title
	}
	entry := &domain.HistoryEntry{
		NotificationID: n.ID,
		ConversationID: n.ConversationID,
		Message:        message,
		Response:       response,
		Timestamp:      uc.clock.Now(),
	}
	if err := uc.historyRepo.Add(ctx, entry); err != nil {
		return fmt.Errorf("add history: %w", err)
	}
	if _, err := uc.historyRepo.Prune(ctx, n.ConversationID, uc.cfg.MaxHistory); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// CanGenerate reports whether a generator is configured
func (uc *ReplyUsecase) CanGenerate() bool {
	return uc.generator != nil
}

// AlreadyReplied checks if the notification has a recorded exchange
func (uc *ReplyUsecase) AlreadyReplied(ctx context.Context, notificationID int64) (bool, error) {
	return uc.historyRepo.ExistsForNotification(ctx, notificationID)
}

// History returns the recent exchanges of a conversation
func (uc *ReplyUsecase) History(ctx context.Context, conversationID string) ([]domain.HistoryEntry, error) {
	return uc.historyRepo.Recent(ctx, conversationID, uc.cfg.MaxHistory)
}

// AnalyzeConversation asks the generator for a short summary of a thread
func (uc *ReplyUsecase) AnalyzeConversation(ctx context.Context, thread *domain.ConversationThread) (string, error) {
	if thread == nil || len(thread.Notifications) == 0 {
		return "", errors.NewInvalidRequest("conversation has no messages")
	}
	if uc.generator == nil {
		return "", ErrNoGenerator
	}

	var b strings.Builder
	b.WriteString("Analyze this conversation and give a short summary of its topic, ")
	b.WriteString("the sender's intent and whether a reply is expected.\n\n")
	for _, n := range thread.Notifications {
		fmt.Fprintf(&b, "[%s] %s: %s\n", n.Timestamp.Format("2006-01-02 15:04"), n.Title, n.Content)
	}

	summary, err := uc.generator.Complete(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("analyze conversation: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// PruneHistory trims every conversation to the configured size
func (uc *ReplyUsecase) PruneHistory(ctx context.Context) (int64, error) {
	n, err := uc.historyRepo.PruneAll(ctx, uc.cfg.MaxHistory)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return n, nil
}
