// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/coffeeshop-go/auth"
	"github.com/ggoodman/coffeeshop-go/internal/logctx"
)

// Drink store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is decoded from the environment. Defaults are provided via struct tags.
type Config struct {
	// Domain of the authorization server. ENV: AUTH0_DOMAIN
	Domain string `env:"AUTH0_DOMAIN,required"`
	// Audience tokens must be issued for. ENV: API_AUDIENCE
	Audience string `env:"API_AUDIENCE,required"`
	// Algorithms is a comma separated allow-list. ENV: AUTH_ALGORITHMS
	Algorithms   string        `env:"AUTH_ALGORITHMS,default=RS256"`
	JWKSURL      string        `env:"AUTH_JWKS_URL"`
	Discovery    bool          `env:"AUTH_DISCOVERY,default=false"`
	Leeway       time.Duration `env:"AUTH_LEEWAY,default=0s"`
	FetchTimeout time.Duration `env:"JWKS_FETCH_TIMEOUT,default=5s"`
	CacheTTL     time.Duration `env:"JWKS_CACHE_TTL,default=0s"`

	ListenAddr string `env:"LISTEN_ADDR,default=127.0.0.1:8080"`
	// PublicURL is the externally visible base URL, advertised as the
	// protected resource. ENV: PUBLIC_URL
	PublicURL string `env:"PUBLIC_URL"`
	Realm     string `env:"AUTH_REALM,default=coffeeshop"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	// Store selects the drink backend: memory, redis or postgres. ENV: DRINKS_STORE
	Store          string `env:"DRINKS_STORE,default=memory"`
	MemoryMaxItems int    `env:"MEMORY_MAX_ITEMS,default=10000"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=coffeeshop:storage:"`
	DatabaseURL    string `env:"DATABASE_URL"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load decodes the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envdecode cannot express.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
		if c.MemoryMaxItems <= 0 {
			return fmt.Errorf("config: MEMORY_MAX_ITEMS must be positive")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: REDIS_ADDR required for redis store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL required for postgres store")
		}
	default:
		return fmt.Errorf("config: unknown DRINKS_STORE %q", c.Store)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	return c.Security().Validate()
}

// Security converts the auth related fields.
func (c Config) Security() auth.SecurityConfig {
	sec := auth.SecurityConfig{
		Domain:       c.Domain,
		Audience:     c.Audience,
		AllowedAlgs:  strings.Split(c.Algorithms, ","),
		JWKSURL:      c.JWKSURL,
		Discovery:    c.Discovery,
		Leeway:       c.Leeway,
		FetchTimeout: c.FetchTimeout,
		CacheTTL:     c.CacheTTL,
	}
	sec.Normalize()
	return sec
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if c.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(logctx.New(h)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q", s)
	}
	return lvl, nil
}
