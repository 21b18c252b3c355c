package togglekit

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// legacyURLSuffix is the deprecated endpoint-style base URL. Configurations
// that point at the features endpoint itself are rewritten to the parent
// path with a warn.
const legacyURLSuffix = "/features"

// Config is the client configuration. AppName and URL are required;
// everything else has a usable zero value or default.
type Config struct {
	// AppName identifies the application to the toggle service. Required.
	AppName string `env:"TOGGLEKIT_APP_NAME"`

	// URL is the base URL of the toggle service API. Required.
	URL string `env:"TOGGLEKIT_URL"`

	// InstanceID distinguishes instances of the same application.
	// Generated when empty.
	InstanceID string `env:"TOGGLEKIT_INSTANCE_ID"`

	// Environment is merged into every evaluation as the static
	// environment field.
	Environment string `env:"TOGGLEKIT_ENVIRONMENT"`

	// RefreshInterval is the feature polling interval. Zero performs a
	// single best-effort poll at Start with no repeating timer.
	RefreshInterval time.Duration `env:"TOGGLEKIT_REFRESH_INTERVAL" envDefault:"15s"`

	// MetricsInterval is the metrics flush interval. Zero disables
	// metrics reporting entirely.
	MetricsInterval time.Duration `env:"TOGGLEKIT_METRICS_INTERVAL" envDefault:"60s"`

	// DisableMetrics turns off outcome recording and reporting.
	DisableMetrics bool `env:"TOGGLEKIT_DISABLE_METRICS"`

	// BackupPath is the directory holding the local snapshot file.
	// Defaults to the OS temp directory.
	BackupPath string `env:"TOGGLEKIT_BACKUP_PATH"`

	// CustomHeaders are added to every outbound request, typically for
	// static-header authentication.
	CustomHeaders map[string]string `env:"TOGGLEKIT_CUSTOM_HEADERS"`
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when present.
func LoadConfig() (Config, error) {
	// The .env file is optional; a missing file is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrConfigParse, err)
	}
	return cfg, nil
}

// validate enforces the synchronous, fail-fast configuration contract:
// misconfiguration surfaces at construction, before any I/O.
func (c Config) validate() error {
	if c.AppName == "" {
		return ErrMissingAppName
	}
	if c.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.Join(ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Join(ErrInvalidURL, errors.New("only http and https schemes are supported"))
	}
	if u.Host == "" {
		return errors.Join(ErrInvalidURL, errors.New("host is required"))
	}
	return nil
}

// normalizeBaseURL appends the trailing separator when absent and rewrites
// a legacy base URL ending in the deprecated features suffix to its parent
// path. The second return reports whether a rewrite happened, so the
// caller can emit a warn.
func normalizeBaseURL(raw string) (string, bool) {
	normalized := strings.TrimRight(raw, "/")
	rewritten := false
	if strings.HasSuffix(normalized, legacyURLSuffix) {
		normalized = strings.TrimSuffix(normalized, legacyURLSuffix)
		rewritten = true
	}
	return normalized + "/", rewritten
}
