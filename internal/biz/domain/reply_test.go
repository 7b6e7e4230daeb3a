package domain

import (
	"strings"
	"testing"
	"time"
)

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		input    string
		n        int
		expected string
	}{
		{"hello world", 5, "hello world"},
		{"  padded  ", 5, "padded"},
		{"one two three four", 2, "one two..."},
		{"", 3, ""},
	}

	for _, tt := range tests {
		if got := TruncateWords(tt.input, tt.n); got != tt.expected {
			t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.expected)
		}
	}

	long := strings.Repeat("word ", 80)
	if got := len(strings.Fields(TruncateWords(long, MaxReplyWords))); got != MaxReplyWords {
		t.Errorf("expected %d words, got %d", MaxReplyWords, got)
	}
}

func TestPromptTemplate_Render(t *testing.T) {
	p := PromptTemplate{Template: "ctx={context} msg={message}"}
	if got := p.Render("history", "hi"); got != "ctx=history msg=hi" {
		t.Errorf("unexpected render %q", got)
	}

	empty := PromptTemplate{}
	out := empty.Render("H", "M")
	if !strings.Contains(out, "User: M") || !strings.Contains(out, "H") {
		t.Errorf("expected default template to be used, got %q", out)
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); got != "(no previous messages)" {
		t.Errorf("unexpected empty history %q", got)
	}

	got := FormatHistory([]HistoryEntry{
		{Message: "hi", Response: "hello", Timestamp: time.Now()},
		{Message: "how are you", Response: "fine"},
	})
	want := "User: hi\nAssistant: hello\nUser: how are you\nAssistant: fine"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestKeywordAction_Outranks(t *testing.T) {
	now := time.Now()
	short := &KeywordAction{ID: 1, Keyword: "price", CreatedAt: now}
	long := &KeywordAction{ID: 2, Keyword: "price list", CreatedAt: now.Add(-time.Hour)}
	if !long.Outranks(short) {
		t.Error("expected longer keyword to win")
	}

	older := &KeywordAction{ID: 3, Keyword: "hello", CreatedAt: now.Add(-time.Minute)}
	newer := &KeywordAction{ID: 4, Keyword: "world", CreatedAt: now}
	if !newer.Outranks(older) {
		t.Error("expected newer keyword to win on equal length")
	}

	a := &KeywordAction{ID: 5, Keyword: "abc", CreatedAt: now}
	b := &KeywordAction{ID: 6, Keyword: "xyz", CreatedAt: now}
	if !b.Outranks(a) || a.Outranks(b) {
		t.Error("expected higher id to win on full tie")
	}
}

func TestKeywordAction_Matches(t *testing.T) {
	k := &KeywordAction{Keyword: "price", Enabled: true}
	if !k.Matches("what is the price?") {
		t.Error("expected match")
	}
	if k.Matches("What is the PRICE?") {
		t.Error("matching must be case-sensitive")
	}
	k.Enabled = false
	if k.Matches("what is the price?") {
		t.Error("disabled keyword must not match")
	}
}

func TestDefaultPolicies_SettingFor(t *testing.T) {
	wa := BuiltinDefaultPolicies.SettingFor("com.whatsapp", "")
	if !wa.AutoReplyEnabled || wa.AppName != "WhatsApp" {
		t.Errorf("unexpected whatsapp default %+v", wa)
	}

	other := BuiltinDefaultPolicies.SettingFor("org.telegram.messenger", "Telegram")
	if other.AutoReplyEnabled {
		t.Error("expected unknown package to default to disabled")
	}
	if other.AppName != "Telegram" {
		t.Errorf("expected app name to be kept, got %q", other.AppName)
	}
}

func TestReplyCount_HasReached(t *testing.T) {
	var missing *ConversationReplyCount
	if missing.HasReached(1) {
		t.Error("missing record counts as zero")
	}
	c := &ConversationReplyCount{ReplyCount: 3}
	if !c.HasReached(3) || c.HasReached(4) {
		t.Error("unexpected limit evaluation")
	}
	if c.HasReached(0) {
		t.Error("non-positive max means unlimited")
	}
}
