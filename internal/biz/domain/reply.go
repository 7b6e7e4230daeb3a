package domain

import (
	"fmt"
	"strings"
	"time"
)

// HistoryEntry is one exchange of a conversation: the inbound message and our reply
type HistoryEntry struct {
	ID             int64     `json:"id"`
	NotificationID int64     `json:"notification_id"`
	ConversationID string    `json:"conversation_id"`
	Message        string    `json:"message"`
	Response       string    `json:"response"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReplyTarget is where a reply is delivered
type ReplyTarget struct {
	PackageName    string
	ConversationID string
	Identifier     Identifier
	SourceID       string
	ReplyKey       string
}

// Outgoing is the payload handed to a sender
type Outgoing struct {
	Kind      ActionType
	Text      string
	MediaPath string
}

// Body returns the text recorded for echo detection and history
func (o Outgoing) Body() string {
	if o.Kind.IsMedia() {
		return o.MediaPath
	}
	return o.Text
}

// OutboxEntry is a reply queued for a device to deliver
type OutboxEntry struct {
	ID             string     `json:"id"`
	SourceID       string     `json:"source_id"`
	ReplyKey       string     `json:"reply_key"`
	PackageName    string     `json:"package_name"`
	ConversationID string     `json:"conversation_id"`
	Kind           ActionType `json:"kind"`
	Text           string     `json:"text"`
	MediaPath      string     `json:"media_path"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    time.Time  `json:"delivered_at"`
}

// IsDelivered checks if the device acknowledged the entry
func (e *OutboxEntry) IsDelivered() bool {
	return !e.DeliveredAt.IsZero()
}

// MaxReplyWords caps generated replies
const MaxReplyWords = 50

// TruncateWords keeps the first n words of text, appending "..." when cut
func TruncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.TrimSpace(text)
	}
	return strings.Join(words[:n], " ") + "..."
}

// FormatHistory renders history entries oldest first as User/Assistant lines
func FormatHistory(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return "(no previous messages)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", e.Message, e.Response)
	}
	return strings.TrimRight(b.String(), "\n")
}
