package domain

import (
	"fmt"
	"strings"
	"time"
)

// PromptTemplate renders the prompt sent to the reply generator.
// {context} is replaced by formatted history, {message} by the new message.
type PromptTemplate struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
}

// DefaultPromptTemplate is used when no template is configured
var DefaultPromptTemplate = PromptTemplate{
	Name: "concise-with-memory",
	Template: `System: You are a helpful messaging assistant with excellent memory.
Always remember details the user shared before, such as their name, preferences and earlier topics.
Respond in a friendly, concise manner (maximum 50 words).

Previous conversation history:
{context}

User: {message}
Assistant:`,
}

// Render fills the template placeholders
func (p PromptTemplate) Render(context, message string) string {
	tpl := p.Template
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultPromptTemplate.Template
	}
	return strings.NewReplacer("{context}", context, "{message}", message).Replace(tpl)
}

// Validate checks the template can carry the incoming message
func (p PromptTemplate) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("prompt name is required")
	}
	if !strings.Contains(p.Template, "{message}") {
		return fmt.Errorf("prompt template must contain {message}")
	}
	return nil
}

// StoredPrompt is an operator-managed prompt template. At most one is active.
type StoredPrompt struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Template  string    `json:"template"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt returns the renderable template
func (p *StoredPrompt) Prompt() PromptTemplate {
	return PromptTemplate{Name: p.Name, Template: p.Template}
}

// ConversationPrompt replaces the prompt for a single conversation
type ConversationPrompt struct {
	ConversationID string    `json:"conversation_id"`
	Name           string    `json:"name"`
	Template       string    `json:"template"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Prompt returns the renderable template
func (p *ConversationPrompt) Prompt() PromptTemplate {
	return PromptTemplate{Name: p.Name, Template: p.Template}
}

// PromptSource tells where the prompt of a conversation came from
type PromptSource string

const (
	PromptFromConversation PromptSource = "conversation"
	PromptFromTemplate     PromptSource = "template"
	PromptFromDefault      PromptSource = "default"
)

// EffectivePrompt is the prompt a conversation is answered with
type EffectivePrompt struct {
	Source     PromptSource `json:"source"`
	TemplateID int64        `json:"template_id,omitempty"` // Set when Source is template
	Name       string       `json:"name"`
	Template   string       `json:"template"`
}

// Prompt returns the renderable template
func (p *EffectivePrompt) Prompt() PromptTemplate {
	return PromptTemplate{Name: p.Name, Template: p.Template}
}
