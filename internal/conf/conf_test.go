package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
)

func validConfig() *Config {
	return &Config{
		DBPath:  "/tmp/replies.db",
		HTTP:    HTTPConfig{Addr: ":8080", JWTSecret: "0123456789abcdef"},
		Reply:   ReplyConfig{MaxReplies: 10, Throttle: 500 * time.Millisecond, HistoryLimit: 5, MaxHistory: 10},
		Cleanup: CleanupConfig{MaxAge: time.Hour, Interval: time.Minute},
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("DB_PATH", "")
	t.Setenv("POLICIES_CONFIG_PATH", "")
	t.Setenv("MAX_REPLIES", "")
	t.Setenv("THROTTLE_MS", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Reply.MaxReplies != 10 {
		t.Errorf("Expected MaxReplies 10, got %d", cfg.Reply.MaxReplies)
	}
	if cfg.Reply.Throttle != 500*time.Millisecond {
		t.Errorf("Expected 500ms throttle, got %v", cfg.Reply.Throttle)
	}
	if filepath.Base(cfg.DBPath) != "replies.db" {
		t.Errorf("Unexpected DB path %s", cfg.DBPath)
	}
	if cfg.Policies == nil || len(cfg.Policies.DefaultPolicies) != 2 {
		t.Errorf("Expected built-in default policies, got %+v", cfg.Policies)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_PATH", "/data/x.db")
	t.Setenv("MAX_REPLIES", "3")
	t.Setenv("THROTTLE_MS", "0")
	t.Setenv("GENERATOR_PROVIDER", "OpenAI")
	t.Setenv("GENERATOR_TIMEOUT_SECONDS", "5")
	t.Setenv("POLICIES_CONFIG_PATH", "")
	t.Setenv("HISTORY_LIMIT", "not-a-number")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.DBPath != "/data/x.db" {
		t.Errorf("Expected DB path override, got %s", cfg.DBPath)
	}
	if cfg.Reply.MaxReplies != 3 || cfg.Reply.Throttle != 0 {
		t.Errorf("Unexpected reply config %+v", cfg.Reply)
	}
	if cfg.Generator.Provider != ProviderOpenAI || cfg.Generator.Timeout != 5*time.Second {
		t.Errorf("Unexpected generator config %+v", cfg.Generator)
	}
	if cfg.Reply.HistoryLimit != 5 {
		t.Errorf("Unparsable value should fall back to default, got %d", cfg.Reply.HistoryLimit)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"no db", func(c *Config) { c.DBPath = "" }, "DB_PATH"},
		{"short secret", func(c *Config) { c.HTTP.JWTSecret = "short" }, "JWT_SECRET"},
		{"http disabled needs no secret", func(c *Config) { c.HTTP = HTTPConfig{} }, ""},
		{"unknown provider", func(c *Config) { c.Generator.Provider = "llama" }, "GENERATOR_PROVIDER"},
		{"provider without key", func(c *Config) { c.Generator.Provider = ProviderGemini }, "GENERATOR_API_KEY"},
		{"half feishu", func(c *Config) { c.Feishu.AppID = "cli_x" }, "FEISHU_APP_ID/FEISHU_APP_SECRET"},
		{"negative throttle", func(c *Config) { c.Reply.Throttle = -time.Second }, "THROTTLE_MS"},
		{"history too small", func(c *Config) { c.Reply.MaxHistory = 2 }, "MAX_HISTORY"},
		{"no cleanup interval", func(c *Config) { c.Cleanup.Interval = 0 }, "CLEANUP_INTERVAL_MINUTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			cerr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Expected *ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, cerr.Field)
			}
		})
	}
}

func TestLoadPoliciesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	content := `default_policies:
  - package: org.telegram.messenger
    app_name: Telegram
    auto_reply: true
keywords:
  - keyword: price
    type: TEXT
    content: "It is 10 USD"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	cfg, err := LoadPoliciesConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Source != path {
		t.Errorf("Expected source %s, got %s", path, cfg.Source)
	}
	if p, ok := cfg.DefaultPolicies.Lookup("org.telegram.messenger"); !ok || !p.AutoReplyEnabled {
		t.Errorf("Expected telegram enabled, got %+v", cfg.DefaultPolicies)
	}
	if _, ok := cfg.DefaultPolicies.Lookup("com.whatsapp"); ok {
		t.Error("An explicit table replaces the built-in one")
	}
	if cfg.Prompt.Template != domain.DefaultPromptTemplate.Template {
		t.Error("Expected default prompt template")
	}
	if len(cfg.Keywords) != 1 || cfg.Keywords[0].Type != domain.ActionText {
		t.Errorf("Unexpected keywords %+v", cfg.Keywords)
	}
}

func TestLoadPoliciesConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadPoliciesConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing explicit path")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("keywords:\n  - keyword: x\n    type: AUDIO\n    content: y\n"), 0644)
	if _, err := LoadPoliciesConfig(bad); err == nil {
		t.Error("Expected error for unknown action type")
	}

	malformed := filepath.Join(dir, "malformed.yaml")
	os.WriteFile(malformed, []byte("default_policies: [\n"), 0644)
	if _, err := LoadPoliciesConfig(malformed); err == nil {
		t.Error("Expected error for malformed yaml")
	}
}
