// Package config reads txnsync settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type OAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

type Config struct {
	APIBaseURL       string
	AccessToken      string
	CredentialFile   string
	CredentialMaxAge time.Duration
	StoreDSN         string
	HTTPTimeout      time.Duration
	RunTimeout       time.Duration
	MaxRetries       int
	PageLimit        int
	LockFile         string
	Schedule         string
	Interval         time.Duration
	IntervalJitter   float64
	WatchCredentials bool
	LogLevel         string
	LogFormat        string
	ListenAddr       string
	APIToken         string
	RateLimitMax     int
	RateLimitWindow  time.Duration
	LoginTimeout     time.Duration
	OAuth            OAuth
}

// Load reads the given .env files (".env" when none are named; missing files
// are skipped) and then the process environment. Variables already set in the
// environment win over file values.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv applies defaults and environment overrides. Malformed values are
// reported together.
func FromEnv() (Config, error) {
	r := &reader{}
	cfg := Config{
		APIBaseURL:       envOrDefault("TXNSYNC_API_URL", "https://api.monzo.com"),
		AccessToken:      strings.TrimSpace(os.Getenv("TXNSYNC_ACCESS_TOKEN")),
		CredentialFile:   envOrDefault("TXNSYNC_CREDENTIAL_FILE", "data/credential.json"),
		CredentialMaxAge: r.duration("TXNSYNC_CREDENTIAL_MAX_AGE", 4*time.Minute+50*time.Second),
		StoreDSN:         envOrDefault("TXNSYNC_STORE_DSN", "bolt:data/transactions.db"),
		HTTPTimeout:      r.duration("TXNSYNC_HTTP_TIMEOUT", 30*time.Second),
		RunTimeout:       r.duration("TXNSYNC_RUN_TIMEOUT", 10*time.Minute),
		MaxRetries:       r.int("TXNSYNC_MAX_RETRIES", 0),
		PageLimit:        r.int("TXNSYNC_PAGE_LIMIT", 100),
		LockFile:         envOrDefault("TXNSYNC_LOCK_FILE", "data/txnsync.lock"),
		Schedule:         strings.TrimSpace(os.Getenv("TXNSYNC_SCHEDULE")),
		Interval:         r.duration("TXNSYNC_INTERVAL", 0),
		IntervalJitter:   r.float("TXNSYNC_INTERVAL_JITTER", 0.1),
		WatchCredentials: r.bool("TXNSYNC_WATCH_CREDENTIALS", false),
		LogLevel:         envOrDefault("TXNSYNC_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("TXNSYNC_LOG_FORMAT", "console"),
		ListenAddr:       envOrDefault("TXNSYNC_LISTEN_ADDR", "127.0.0.1:8080"),
		APIToken:         strings.TrimSpace(os.Getenv("TXNSYNC_API_TOKEN")),
		RateLimitMax:     r.int("TXNSYNC_RATE_LIMIT_MAX", 60),
		RateLimitWindow:  r.duration("TXNSYNC_RATE_LIMIT_WINDOW", time.Minute),
		LoginTimeout:     r.duration("TXNSYNC_LOGIN_TIMEOUT", 5*time.Minute),
		OAuth: OAuth{
			ClientID:     strings.TrimSpace(os.Getenv("TXNSYNC_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(os.Getenv("TXNSYNC_CLIENT_SECRET")),
			RedirectURL:  envOrDefault("TXNSYNC_REDIRECT_URL", "http://127.0.0.1:8080/auth/callback"),
			AuthURL:      envOrDefault("TXNSYNC_AUTH_URL", "https://auth.monzo.com/"),
			TokenURL:     envOrDefault("TXNSYNC_TOKEN_URL", "https://api.monzo.com/oauth2/token"),
		},
	}
	return cfg, errors.Join(r.errs...)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StoreDSN) == "" {
		errs = append(errs, errors.New("TXNSYNC_STORE_DSN is required"))
	}
	if c.PageLimit < 1 || c.PageLimit > 100 {
		errs = append(errs, fmt.Errorf("TXNSYNC_PAGE_LIMIT must be within 1..100, got %d", c.PageLimit))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("TXNSYNC_HTTP_TIMEOUT must be positive"))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, errors.New("TXNSYNC_RUN_TIMEOUT must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("TXNSYNC_MAX_RETRIES must not be negative"))
	}
	if c.Interval < 0 {
		errs = append(errs, errors.New("TXNSYNC_INTERVAL must not be negative"))
	}
	if c.CredentialMaxAge <= 0 {
		errs = append(errs, errors.New("TXNSYNC_CREDENTIAL_MAX_AGE must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

type reader struct {
	errs []error
}

func (r *reader) lookup(name string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	return raw, raw != ""
}

func (r *reader) invalid(name, raw string, err error) {
	r.errs = append(r.errs, fmt.Errorf("invalid %s=%q: %w", name, raw, err))
}

func (r *reader) int(name string, fallback int) int {
	raw, ok := r.lookup(name)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.invalid(name, raw, err)
		return fallback
	}
	return value
}

func (r *reader) float(name string, fallback float64) float64 {
	raw, ok := r.lookup(name)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.invalid(name, raw, err)
		return fallback
	}
	return value
}

func (r *reader) bool(name string, fallback bool) bool {
	raw, ok := r.lookup(name)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.invalid(name, raw, err)
		return fallback
	}
	return value
}

func (r *reader) duration(name string, fallback time.Duration) time.Duration {
	raw, ok := r.lookup(name)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.invalid(name, raw, err)
		return fallback
	}
	return value
}
