package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	APNs     APNsConfig
	Push     PushConfig
	Email    EmailConfig
	Webhook  WebhookConfig
	Jobs     JobsConfig
	Realtime RealtimeConfig
}

type ServerConfig struct {
	Port     string `envconfig:"PORT" default:"8080"`
	GinMode  string `envconfig:"GIN_MODE" default:"release"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
}

type DatabaseConfig struct {
	URL           string        `envconfig:"DB_URL" required:"true"`
	SlowThreshold time.Duration `envconfig:"DB_LOG_SLOW" default:"1s"`
	AutoMigrate   bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

type APNsConfig struct {
	KeyID      string `envconfig:"APNS_KEY_ID" required:"true"`
	TeamID     string `envconfig:"APNS_TEAM_ID" required:"true"`
	KeyP8      string `envconfig:"APNS_KEY_P8" required:"true"`
	BundleID   string `envconfig:"APNS_BUNDLE_ID" required:"true"`
	Production bool   `envconfig:"APNS_PRODUCTION" default:"false"`
}

type PushConfig struct {
	RetryDelay  time.Duration `envconfig:"PUSH_RETRY_DELAY" default:"1s"`
	MaxRetries  int           `envconfig:"PUSH_MAX_RETRIES" default:"1"`
	Concurrency int           `envconfig:"PUSH_CONCURRENCY" default:"16"`
	Timeout     time.Duration `envconfig:"PUSH_TIMEOUT" default:"10s"`
	Expiration  time.Duration `envconfig:"PUSH_EXPIRATION" default:"1h"`
}

type EmailConfig struct {
	ResendAPIKey string `envconfig:"RESEND_API_KEY"`
	From         string `envconfig:"EMAIL_FROM" default:"CallMe <hello@justcallme.app>"`
	AppURL       string `envconfig:"APP_URL" default:"https://justcallme.app"`
}

type WebhookConfig struct {
	SecretHash string  `envconfig:"WEBHOOK_SECRET_HASH"`
	RatePerSec float64 `envconfig:"WEBHOOK_RATE_PER_SEC" default:"50"`
	RateBurst  int     `envconfig:"WEBHOOK_RATE_BURST" default:"100"`
}

type JobsConfig struct {
	DedupBucket     time.Duration `envconfig:"DEDUP_BUCKET" default:"30s"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	ScanInterval    time.Duration `envconfig:"SCAN_INTERVAL" default:"5m"`
	DefaultTZ       string        `envconfig:"DEFAULT_TZ" default:"UTC"`
	QuietHoursStart string        `envconfig:"QUIET_HOURS_START" default:"22:00"`
	QuietHoursEnd   string        `envconfig:"QUIET_HOURS_END" default:"08:00"`
}

type RealtimeConfig struct {
	Listen  bool   `envconfig:"REALTIME_LISTEN" default:"false"`
	Channel string `envconfig:"REALTIME_CHANNEL" default:"callme_changes"`
}

// Load reads an optional .env file and then the process environment.
// A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values envconfig cannot express as tags.
func (c Config) Validate() error {
	if c.Push.MaxRetries < 0 {
		return fmt.Errorf("PUSH_MAX_RETRIES must be >= 0, got %d", c.Push.MaxRetries)
	}
	if c.Push.Concurrency <= 0 {
		return fmt.Errorf("PUSH_CONCURRENCY must be > 0, got %d", c.Push.Concurrency)
	}
	if c.Jobs.DedupBucket <= 0 {
		return fmt.Errorf("DEDUP_BUCKET must be > 0")
	}
	if c.Jobs.SweepInterval <= 0 || c.Jobs.ScanInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and SCAN_INTERVAL must be > 0")
	}
	if _, err := time.LoadLocation(c.Jobs.DefaultTZ); err != nil {
		return fmt.Errorf("DEFAULT_TZ: %w", err)
	}
	return nil
}

// PrivateKeyPEM returns the APNs key as PEM text. The key may be supplied
// either as raw PEM or as base64 of the PEM file, which survives env
// tooling that strips newlines.
func (a APNsConfig) PrivateKeyPEM() ([]byte, error) {
	raw := strings.TrimSpace(a.KeyP8)
	if strings.HasPrefix(raw, "-----BEGIN") {
		return []byte(strings.ReplaceAll(raw, `\n`, "\n")), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("APNS_KEY_P8 is neither PEM nor base64: %w", err)
	}
	return decoded, nil
}
