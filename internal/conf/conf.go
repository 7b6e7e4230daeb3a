package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Generator providers
const (
	ProviderNone   = ""
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config represents application configuration
type Config struct {
	// SQLite database path
	DBPath string

	HTTP      HTTPConfig
	Generator GeneratorConfig
	Feishu    FeishuConfig
	Telegram  TelegramConfig
	Reply     ReplyConfig
	Cleanup   CleanupConfig
	Backup    BackupConfig

	// Policies configuration (loaded from YAML)
	Policies *PoliciesConfig

	// Debug mode
	Debug bool
}

// HTTPConfig contains the API server configuration
type HTTPConfig struct {
	Addr      string // Empty disables the HTTP server
	JWTSecret string
}

// GeneratorConfig selects and configures the reply generator
type GeneratorConfig struct {
	Provider string // openai, gemini, or empty to disable generated replies
	APIKey   string
	BaseURL  string // OpenAI-compatible endpoints only
	Model    string
	Timeout  time.Duration
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// Enabled reports whether Feishu ingress and replies are configured
func (c FeishuConfig) Enabled() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// TelegramConfig contains Telegram bot configuration
type TelegramConfig struct {
	Token string
}

// ReplyConfig contains the reply pipeline limits
type ReplyConfig struct {
	MaxReplies   int // <= 0 means unlimited
	Throttle     time.Duration
	HistoryLimit int // Exchanges fed to the prompt
	MaxHistory   int // Exchanges kept per conversation
	SendTimeout  time.Duration
}

// CleanupConfig contains the periodic cleanup settings
type CleanupConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// BackupConfig contains backup sink and encryption settings
type BackupConfig struct {
	Dir          string
	S3Bucket     string
	S3Region     string
	S3Prefix     string
	S3Endpoint   string
	AgeRecipient string
	AgeIdentity  string
}

// UseS3 reports whether backups go to S3 instead of Dir
func (c BackupConfig) UseS3() bool {
	return c.S3Bucket != ""
}

// Encrypted reports whether backups are age-encrypted
func (c BackupConfig) Encrypted() bool {
	return c.AgeRecipient != "" || c.AgeIdentity != ""
}

// Load reads .env when present, then the environment
func Load() (*Config, error) {
	// A missing .env is fine, the environment may be set directly
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		homeDir, _ := os.UserHomeDir()
		dataDir = filepath.Join(homeDir, ".notify-reply")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "replies.db")
	}

	backupDir := os.Getenv("BACKUP_DIR")
	if backupDir == "" {
		backupDir = filepath.Join(dataDir, "backups")
	}

	policies, err := LoadPoliciesConfig(os.Getenv("POLICIES_CONFIG_PATH"))
	if err != nil {
		return nil, err
	}

	return &Config{
		DBPath: dbPath,
		HTTP: HTTPConfig{
			Addr:      envString("HTTP_ADDR", ":8080"),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Generator: GeneratorConfig{
			Provider: strings.ToLower(os.Getenv("GENERATOR_PROVIDER")),
			APIKey:   os.Getenv("GENERATOR_API_KEY"),
			BaseURL:  os.Getenv("GENERATOR_BASE_URL"),
			Model:    os.Getenv("GENERATOR_MODEL"),
			Timeout:  envSeconds("GENERATOR_TIMEOUT_SECONDS", 30*time.Second),
		},
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		Telegram: TelegramConfig{
			Token: os.Getenv("TELEGRAM_BOT_TOKEN"),
		},
		Reply: ReplyConfig{
			MaxReplies:   envInt("MAX_REPLIES", 10),
			Throttle:     time.Duration(envInt("THROTTLE_MS", 500)) * time.Millisecond,
			HistoryLimit: envInt("HISTORY_LIMIT", 5),
			MaxHistory:   envInt("MAX_HISTORY", 10),
			SendTimeout:  envSeconds("SEND_TIMEOUT_SECONDS", 15*time.Second),
		},
		Cleanup: CleanupConfig{
			MaxAge:   time.Duration(envInt("CLEANUP_MAX_AGE_HOURS", 24*30)) * time.Hour,
			Interval: time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		},
		Backup: BackupConfig{
			Dir:          backupDir,
			S3Bucket:     os.Getenv("BACKUP_S3_BUCKET"),
			S3Region:     os.Getenv("BACKUP_S3_REGION"),
			S3Prefix:     os.Getenv("BACKUP_S3_PREFIX"),
			S3Endpoint:   os.Getenv("BACKUP_S3_ENDPOINT"),
			AgeRecipient: os.Getenv("BACKUP_AGE_RECIPIENT"),
			AgeIdentity:  os.Getenv("BACKUP_AGE_IDENTITY"),
		},
		Policies: policies,
		Debug:    os.Getenv("DEBUG") == "true",
	}, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return &ConfigError{Field: "DB_PATH", Message: "required"}
	}
	if c.HTTP.Addr != "" && len(c.HTTP.JWTSecret) < 16 {
		return &ConfigError{Field: "JWT_SECRET", Message: "at least 16 characters required when HTTP_ADDR is set"}
	}
	switch c.Generator.Provider {
	case ProviderNone:
	case ProviderOpenAI, ProviderGemini:
		if c.Generator.APIKey == "" {
			return &ConfigError{Field: "GENERATOR_API_KEY", Message: "required for provider " + c.Generator.Provider}
		}
	default:
		return &ConfigError{Field: "GENERATOR_PROVIDER", Message: "unknown provider " + c.Generator.Provider}
	}
	if (c.Feishu.AppID == "") != (c.Feishu.AppSecret == "") {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "both or neither must be set"}
	}
	if c.Reply.Throttle < 0 {
		return &ConfigError{Field: "THROTTLE_MS", Message: "must not be negative"}
	}
	if c.Reply.MaxHistory < c.Reply.HistoryLimit {
		return &ConfigError{Field: "MAX_HISTORY", Message: "must be at least HISTORY_LIMIT"}
	}
	if c.Cleanup.Interval <= 0 {
		return &ConfigError{Field: "CLEANUP_INTERVAL_MINUTES", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	return time.Duration(envInt(key, int(def/time.Second))) * time.Second
}
