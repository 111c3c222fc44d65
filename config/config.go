// Package config loads the gateway configuration from defaults, an optional
// YAML file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment variables; the remainder maps to
// a config key with "_" between section and field, e.g.
// NMS_PROXY_UPSTREAM_URL -> proxy.upstream_url.
const EnvPrefix = "NMS_"

// DefaultConfigPaths are searched when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/nms-gateway/config.yaml"}

// Config is the full gateway configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Proxy        ProxyConfig        `koanf:"proxy"`
	Audit        AuditConfig        `koanf:"audit"`
	Auth         AuthConfig         `koanf:"auth"`
	Organization OrganizationConfig `koanf:"organization"`
	Logging      LoggingConfig      `koanf:"logging"`
	RateLimit    RateLimitConfig    `koanf:"ratelimit"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	SecureCookies   bool          `koanf:"secure_cookies"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ProxyConfig describes the orchestrator API behind /nms/apicontroller.
type ProxyConfig struct {
	MountPath   string        `koanf:"mount_path" validate:"required,startswith=/"`
	UpstreamURL string        `koanf:"upstream_url" validate:"required,url"`
	ClientCert  string        `koanf:"client_cert" validate:"required_with=ClientKey"`
	ClientKey   string        `koanf:"client_key" validate:"required_with=ClientCert"`
	CACert      string        `koanf:"ca_cert"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
}

// AuditConfig controls how audit records are delivered to the store.
type AuditConfig struct {
	Async            bool          `koanf:"async"`
	BufferSize       int           `koanf:"buffer_size" validate:"gt=0"`
	WriteTimeout     time.Duration `koanf:"write_timeout" validate:"gt=0"`
	BreakerThreshold uint32        `koanf:"breaker_threshold" validate:"gt=0"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
}

type AuthConfig struct {
	IssuerURL    string   `koanf:"issuer_url" validate:"omitempty,url"`
	ClientID     string   `koanf:"client_id" validate:"required_with=IssuerURL"`
	ClientSecret string   `koanf:"client_secret" validate:"required_with=IssuerURL"`
	RedirectURL  string   `koanf:"redirect_url" validate:"required_with=IssuerURL"`
	Scopes       []string `koanf:"scopes"`
	SessionName  string   `koanf:"session_name" validate:"required"`
	SessionTTL   int64    `koanf:"session_ttl" validate:"gt=0"`
}

// OrganizationConfig names the bootstrap superuser organization. Default is
// only used while authentication is disabled; signed-in users get the
// organization from their ID token.
type OrganizationConfig struct {
	Default   string `koanf:"default" validate:"required"`
	Superuser string `koanf:"superuser" validate:"required"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// RateLimitConfig applies per-IP limits; Requests=0 disables limiting.
type RateLimitConfig struct {
	Requests int           `koanf:"requests" validate:"gte=0"`
	Window   time.Duration `koanf:"window" validate:"gt=0"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Path: "nms_gateway.db"},
		Proxy: ProxyConfig{
			MountPath:   "/nms/apicontroller",
			UpstreamURL: "https://orc8r-nginx-proxy:9443",
			Timeout:     30 * time.Second,
		},
		Audit: AuditConfig{
			Async:            false,
			BufferSize:       1024,
			WriteTimeout:     5 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Auth: AuthConfig{
			Scopes:      []string{"openid", "profile", "email"},
			SessionName: "nms_session",
			SessionTTL:  3600,
		},
		Organization: OrganizationConfig{
			Default:   "master",
			Superuser: "master",
		},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{Requests: 0, Window: time.Minute},
	}
}

// Load builds the configuration. A missing config file or .env is not an
// error; a malformed one is.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitList(k, "auth.scopes"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of every section.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// OIDCEnabled reports whether login through an OIDC issuer is configured.
func (c *Config) OIDCEnabled() bool {
	return c.Auth.IssuerURL != ""
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sections = []string{"server", "database", "proxy", "audit", "auth", "organization", "logging", "ratelimit"}

// envKey maps NMS_PROXY_UPSTREAM_URL to proxy.upstream_url. Variables that
// do not start with a known section are kept under their own lowercased
// name, which no field reads.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// splitList turns a comma-separated env value into a slice.
func splitList(k *koanf.Koanf, path string) error {
	s, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var items []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	if err := k.Set(path, items); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}
