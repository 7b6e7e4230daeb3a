package domain

import "time"

// ConversationReplyCount tracks how many automated replies a conversation received
type ConversationReplyCount struct {
	ConversationID string    `json:"conversation_id"`
	ReplyCount     int       `json:"reply_count"`
	FirstReplyAt   time.Time `json:"first_reply_at"`
	LastReplyAt    time.Time `json:"last_reply_at"`
}

// HasReached checks the count against a ceiling; max <= 0 means unlimited
func (c *ConversationReplyCount) HasReached(max int) bool {
	if max <= 0 {
		return false
	}
	count := 0
	if c != nil {
		count = c.ReplyCount
	}
	return count >= max
}
