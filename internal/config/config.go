// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       int
	DBPath     string
	UploadDir  string
	JWTSecret  string
	SessionTTL time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	NotifyWorkers   int
	NotifyQueueSize int
	NotifyTimeout   time.Duration

	AdminEmails []string

	ReportRatePerMinute int
	ReportBurst         int

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	LogLevel  slog.Level
	LogFormat string // "text" or "json"
}

// GitHubEnabled reports whether GitHub sign-in is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Load reads the configuration. Real environment variables take
// precedence over values in envFile; a missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVals = vals
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config: reading %s: %w", envFile, err)
		}
	}

	return parse(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	})
}

type lookupFunc func(key string) (string, bool)

func parse(lookup lookupFunc) (*Config, error) {
	e := &envReader{lookup: lookup}

	cfg := &Config{
		Port:       e.int("PORT", 8080),
		DBPath:     e.string("DB_PATH", "data/civic-issues.db"),
		UploadDir:  e.string("UPLOAD_DIR", "uploads"),
		JWTSecret:  e.string("JWT_SECRET", ""),
		SessionTTL: e.duration("SESSION_TTL", 24*time.Hour),

		SMTPHost:     e.string("SMTP_HOST", ""),
		SMTPPort:     e.string("SMTP_PORT", "587"),
		SMTPUsername: e.string("SMTP_USERNAME", ""),
		SMTPPassword: e.string("SMTP_PASSWORD", ""),
		SenderEmail:  e.string("SENDER_EMAIL", ""),

		NotifyWorkers:   e.int("NOTIFY_WORKERS", 2),
		NotifyQueueSize: e.int("NOTIFY_QUEUE_SIZE", 100),
		NotifyTimeout:   e.duration("NOTIFY_TIMEOUT", 30*time.Second),

		AdminEmails: e.list("ADMIN_EMAILS"),

		ReportRatePerMinute: e.int("REPORT_RATE_PER_MINUTE", 5),
		ReportBurst:         e.int("REPORT_BURST", 3),

		GitHubClientID:     e.string("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: e.string("GITHUB_CLIENT_SECRET", ""),

		LogLevel:  e.level("LOG_LEVEL", slog.LevelInfo),
		LogFormat: strings.ToLower(e.string("LOG_FORMAT", "text")),
	}
	cfg.GitHubCallbackURL = e.string("GITHUB_CALLBACK_URL",
		fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port))

	if err := errors.Join(e.errs...); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) string(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (e *envReader) level(key string, def slog.Level) slog.Level {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: invalid log level %q", key, v))
		return def
	}
	return lvl
}

// list splits a comma-separated value, dropping blanks.
func (e *envReader) list(key string) []string {
	v, _ := e.lookup(key)
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
