package domain

import "time"

// Notification represents a captured notification
type Notification struct {
	ID                int64     `json:"id"`
	PackageName       string    `json:"package_name"`
	AppName           string    `json:"app_name"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	ConversationID    string    `json:"conversation_id"`
	SourceID          string    `json:"source_id"` // Logical source that posted it (device, feishu, telegram)
	ReplyKey          string    `json:"reply_key"` // Transport handle used to answer, may be empty
	AutoReplyDisabled bool      `json:"auto_reply_disabled"`
}

// Identifier extracts the sender identifier of the notification
func (n *Notification) Identifier() Identifier {
	return ExtractIdentifier(n.PackageName, n.Title, n.Content)
}

// IsWhatsApp checks if the notification comes from a WhatsApp variant
func (n *Notification) IsWhatsApp() bool {
	return IsWhatsAppPackage(n.PackageName)
}

// PostedEvent is the inbound event delivered by a platform collaborator
type PostedEvent struct {
	PackageName string
	AppName     string
	Title       string
	Content     string
	PostTime    time.Time
	SourceID    string
	ReplyKey    string
}

// ToNotification builds the record stored for the event
func (e PostedEvent) ToNotification() *Notification {
	appName := e.AppName
	if appName == "" {
		appName = e.PackageName
	}
	return &Notification{
		PackageName:    e.PackageName,
		AppName:        appName,
		Title:          e.Title,
		Content:        e.Content,
		Timestamp:      e.PostTime,
		ConversationID: ResolveConversationID(e.PackageName, e.Title),
		SourceID:       e.SourceID,
		ReplyKey:       e.ReplyKey,
	}
}
