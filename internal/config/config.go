package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string
	PublicHost    string
	RepoDir       string
	HistoryDir    string
	MigrationsDir string
	CORSOrigin    string
	// Forum (Discourse) configuration
	ForumURL           string
	ForumAPIKey        string
	ForumUsername      string
	ForumWriteInterval time.Duration
	WebhookSecret      string
	// bcrypt hash of the key accepted by the manual approve/reject routes
	AdminKeyHash string
	// Optional backends; empty disables the feature
	DatabaseURL    string
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	// S3-compatible mirror of approved artifacts
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	NotifyTo     []string

	Policy Policy
}

// Policy holds the review rules that operators tune without touching the
// deployment environment.
type Policy struct {
	AdminGroup       string   `yaml:"admin_group"`
	ApprovalReaction string   `yaml:"approval_reaction"`
	CategoryID       int      `yaml:"category_id"`
	ReservedNames    []string `yaml:"reserved_names"`
}

func DefaultPolicy() Policy {
	return Policy{
		AdminGroup:       "moonbase_admin",
		ApprovalReaction: "rocket",
		CategoryID:       20,
		ReservedNames:    []string{"uploads"},
	}
}

// Load reads .env (if present) and the process environment. When policyPath
// is non-empty the YAML file is merged over the default policy.
func Load(policyPath string) (Config, error) {
	_ = godotenv.Load()

	repoDir := getenv("MOONBASE_REPO_DIR", "./repo")
	cfg := Config{
		Addr:               getenv("API_ADDR", ":8080"),
		PublicHost:         getenv("HOST", "localhost:8080"),
		RepoDir:            repoDir,
		HistoryDir:         getenv("MOONBASE_HISTORY_DIR", ""),
		MigrationsDir:      getenv("MOONBASE_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:         getenv("MOONBASE_CORS_ORIGIN", "*"),
		ForumURL:           getenv("FORUM_URL", "https://talk.codea.io"),
		ForumAPIKey:        getenv("DISCOURSE_API_KEY", ""),
		ForumUsername:      getenv("DISCOURSE_USERNAME", ""),
		ForumWriteInterval: time.Duration(getenvInt("FORUM_WRITE_INTERVAL_MS", 5000)) * time.Millisecond,
		WebhookSecret:      getenv("DISCOURSE_WEBHOOK_SECRET", ""),
		AdminKeyHash:       getenv("MOONBASE_ADMIN_KEY_HASH", ""),
		DatabaseURL:        getenv("DATABASE_URL", ""),
		RedisURL:           getenv("REDIS_URL", ""),
		MeiliURL:           getenv("MEILI_URL", ""),
		MeiliMasterKey:     getenv("MEILI_MASTER_KEY", ""),
		S3Endpoint:         getenv("S3_ENDPOINT", ""),
		S3AccessKey:        getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:        getenv("S3_SECRET_KEY", ""),
		S3Bucket:           getenv("S3_BUCKET", "moonbase"),
		S3UseSSL:           getenvBool("S3_USE_SSL", true),
		SMTPHost:           getenv("SMTP_HOST", ""),
		SMTPPort:           getenv("SMTP_PORT", "587"),
		SMTPUsername:       getenv("SMTP_USERNAME", ""),
		SMTPPassword:       getenv("SMTP_PASSWORD", ""),
		SMTPFrom:           getenv("SMTP_FROM", ""),
		SMTPFromName:       getenv("SMTP_FROM_NAME", "Moonbase"),
		NotifyTo:           splitList(getenv("MOONBASE_NOTIFY_TO", "")),
		Policy:             DefaultPolicy(),
	}
	if cfg.HistoryDir == "" {
		cfg.HistoryDir = strings.TrimRight(repoDir, "/") + "/.history"
	}

	if policyPath != "" {
		policy, err := LoadPolicy(policyPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy = policy
	}
	return cfg, nil
}

// LoadPolicy reads a YAML policy file. Keys left out keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if strings.TrimSpace(policy.AdminGroup) == "" {
		return Policy{}, fmt.Errorf("policy file: admin_group must not be empty")
	}
	if strings.TrimSpace(policy.ApprovalReaction) == "" {
		return Policy{}, fmt.Errorf("policy file: approval_reaction must not be empty")
	}
	return policy, nil
}

// IsReserved reports whether name is held back for the operators.
func (p Policy) IsReserved(name string) bool {
	for _, reserved := range p.ReservedNames {
		if strings.EqualFold(reserved, name) {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
