package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ActionType is the kind of canned response a keyword triggers
type ActionType string

const (
	ActionImage ActionType = "IMAGE"
	ActionVideo ActionType = "VIDEO"
	ActionText  ActionType = "TEXT"
)

// Valid checks if the action type is known
func (t ActionType) Valid() bool {
	switch t {
	case ActionImage, ActionVideo, ActionText:
		return true
	}
	return false
}

// IsMedia checks if the action carries a file path
func (t ActionType) IsMedia() bool {
	return t == ActionImage || t == ActionVideo
}

// KeywordAction maps a keyword to a canned response
type KeywordAction struct {
	ID            int64      `json:"id"`
	Keyword       string     `json:"keyword"`
	ActionType    ActionType `json:"action_type"`
	ActionContent string     `json:"action_content"` // File path for media, text otherwise
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Matches reports whether the keyword is a case-sensitive substring of message
func (k *KeywordAction) Matches(message string) bool {
	return k.Enabled && k.Keyword != "" && strings.Contains(message, k.Keyword)
}

// Outranks orders competing matches: longer keyword, then newer, then higher id
func (k *KeywordAction) Outranks(other *KeywordAction) bool {
	kl, ol := utf8.RuneCountInString(k.Keyword), utf8.RuneCountInString(other.Keyword)
	if kl != ol {
		return kl > ol
	}
	if !k.CreatedAt.Equal(other.CreatedAt) {
		return k.CreatedAt.After(other.CreatedAt)
	}
	return k.ID > other.ID
}

// Outgoing builds the message sent for this action
func (k *KeywordAction) Outgoing() Outgoing {
	if k.ActionType.IsMedia() {
		return Outgoing{Kind: k.ActionType, MediaPath: k.ActionContent}
	}
	return Outgoing{Kind: ActionText, Text: k.ActionContent}
}
