package domain

import "strings"

const (
	whatsAppPrefix        = "whatsapp_"
	whatsAppContactPrefix = "whatsapp_contact_"
)

// ResolveConversationID builds the stable conversation key of a notification.
// It returns "" when the package or the title is blank.
func ResolveConversationID(packageName, title string) string {
	if packageName == "" || strings.TrimSpace(title) == "" {
		return ""
	}

	if IsWhatsAppPackage(packageName) {
		if HasPhoneNumber(title) {
			return whatsAppPrefix + NormalizePhoneNumber(title)
		}
		return whatsAppContactPrefix + NormalizeTitle(title)
	}

	return packageName + "_" + NormalizeTitle(title)
}

// ConversationThread is the exact-id view of one conversation, oldest first
type ConversationThread struct {
	ConversationID string         `json:"conversation_id"`
	PackageName    string         `json:"package_name"`
	AppName        string         `json:"app_name"`
	Notifications  []Notification `json:"notifications"`
}

// Latest returns the most recent notification of the thread
func (t *ConversationThread) Latest() *Notification {
	if len(t.Notifications) == 0 {
		return nil
	}
	return &t.Notifications[len(t.Notifications)-1]
}
