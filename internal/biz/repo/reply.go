package repo

import (
	"context"
	"io"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
)

// GenerateRequest is the input of reply generation
type GenerateRequest struct {
	ConversationID string
	History        []domain.HistoryEntry // Oldest first
	Message        string
	Prompt         string // Rendered prompt including history and message
}

// ReplyGenerator produces reply text (LLM)
type ReplyGenerator interface {
	// Generate produces a reply for the request
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Complete runs a free-form prompt, used for conversation analysis
	Complete(ctx context.Context, prompt string) (string, error)
}

// PromptRepo stores prompt templates and per-conversation overrides
type PromptRepo interface {
	// List lists templates, newest first
	List(ctx context.Context) ([]domain.StoredPrompt, error)

	// Get gets a template, nil if absent
	Get(ctx context.Context, id int64) (*domain.StoredPrompt, error)

	// Active gets the active template, nil if none
	Active(ctx context.Context) (*domain.StoredPrompt, error)

	// Create stores an inactive template and returns its ID
	Create(ctx context.Context, p *domain.StoredPrompt) (int64, error)

	// Update rewrites name and template; returns false when absent
	Update(ctx context.Context, p *domain.StoredPrompt) (bool, error)

	// Delete removes a template; returns false when absent
	Delete(ctx context.Context, id int64) (bool, error)

	// Activate makes id the only active template; returns false when absent
	Activate(ctx context.Context, id int64) (bool, error)

	// Deactivate clears the active flag of id; returns false when it was not active
	Deactivate(ctx context.Context, id int64) (bool, error)

	// GetConversation gets a conversation override, nil if absent
	GetConversation(ctx context.Context, conversationID string) (*domain.ConversationPrompt, error)

	// ListConversations lists every override, most recently updated first
	ListConversations(ctx context.Context) ([]domain.ConversationPrompt, error)

	// SetConversation creates or replaces a conversation override
	SetConversation(ctx context.Context, p *domain.ConversationPrompt) error

	// DeleteConversation removes an override; returns false when absent
	DeleteConversation(ctx context.Context, conversationID string) (bool, error)
}

// Sender delivers a reply to its target
type Sender interface {
	Send(ctx context.Context, target domain.ReplyTarget, msg domain.Outgoing) error
}

// BackupRepo dumps and restores every persisted record type
type BackupRepo interface {
	// Export writes a snapshot document to w
	Export(ctx context.Context, w io.Writer, manifest domain.BackupManifest) (*domain.BackupManifest, error)

	// Restore wipes all tables and bulk inserts the snapshot read from r
	Restore(ctx context.Context, r io.Reader) (*domain.BackupManifest, error)
}

// ArchiveSink stores backup archives
type ArchiveSink interface {
	Put(ctx context.Context, name string, r io.Reader) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}

// Encryptor wraps backup streams (age)
type Encryptor interface {
	// Encrypt returns a writer whose Close flushes the final chunk
	Encrypt(w io.Writer) (io.WriteCloser, error)

	// Decrypt returns the plaintext reader of an encrypted stream
	Decrypt(r io.Reader) (io.Reader, error)
}
