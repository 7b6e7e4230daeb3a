package domain

import (
	"testing"
	"time"
)

func TestResolveConversationID(t *testing.T) {
	tests := []struct {
		pkg   string
		title string
		want  string
	}{
		{"com.whatsapp", "+234 812 345 6789", "whatsapp_48123456789"},
		{"com.whatsapp.w4b", "0803-123-4567", "whatsapp_08031234567"},
		{"com.whatsapp", "  John   Doe ", "whatsapp_contact_john_doe"},
		{"com.whatsapp", "Room 12", "whatsapp_contact_room_12"},
		{"org.telegram.messenger", "Team Chat", "org.telegram.messenger_team_chat"},
		{"com.whatsapp", "", ""},
		{"com.whatsapp", "   ", ""},
		{"", "Alice", ""},
	}

	for _, tt := range tests {
		if got := ResolveConversationID(tt.pkg, tt.title); got != tt.want {
			t.Errorf("ResolveConversationID(%q, %q) = %q, want %q", tt.pkg, tt.title, got, tt.want)
		}
	}
}

func TestResolveConversationID_Idempotent(t *testing.T) {
	first := ResolveConversationID("com.whatsapp", "Alice  Smith")
	second := ResolveConversationID("com.whatsapp", "Alice  Smith")
	if first != second {
		t.Errorf("expected stable key, got %q then %q", first, second)
	}
}

func TestResolveConversationID_PackagesNeverCollide(t *testing.T) {
	a := ResolveConversationID("com.slack", "General")
	b := ResolveConversationID("com.discord", "General")
	if a == b {
		t.Errorf("expected different keys, both %q", a)
	}
}

func TestPostedEvent_ToNotification(t *testing.T) {
	now := time.Now()
	n := PostedEvent{
		PackageName: "com.whatsapp",
		Title:       "+234 812 345 6789",
		Content:     "Hi",
		PostTime:    now,
		SourceID:    "pixel-7",
	}.ToNotification()

	if n.ConversationID != "whatsapp_48123456789" {
		t.Errorf("unexpected conversation id %q", n.ConversationID)
	}
	if n.AppName != "com.whatsapp" {
		t.Errorf("expected app name to default to package, got %q", n.AppName)
	}
	if !n.Timestamp.Equal(now) {
		t.Error("expected timestamp to be kept")
	}
}

func TestConversationThread_Latest(t *testing.T) {
	thread := &ConversationThread{}
	if thread.Latest() != nil {
		t.Error("expected nil for empty thread")
	}

	thread.Notifications = []Notification{{ID: 1}, {ID: 2}}
	if thread.Latest().ID != 2 {
		t.Errorf("expected last notification, got %d", thread.Latest().ID)
	}
}
