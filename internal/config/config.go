package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/p-blackswan/statusboard/internal/identity"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"3000"`

	// Session transport
	WSPath           string        `envconfig:"WS_PATH" default:"/ws"`
	WSAllowedOrigins string        `envconfig:"WS_ALLOWED_ORIGINS"` // Comma-separated; empty accepts any origin
	WSSendBuffer     int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	WSReadLimit      int64         `envconfig:"WS_READ_LIMIT" default:"4194304"`
	WSPingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"25s"`

	// Snapshot persistence
	SnapshotBackend string `envconfig:"SNAPSHOT_BACKEND" default:"file"` // "file" or "sqlite"
	SnapshotPath    string `envconfig:"SNAPSHOT_PATH" default:"data.json"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:"statusboard.db"`

	// Router
	RouterQueueSize int `envconfig:"ROUTER_QUEUE_SIZE" default:"256"`

	// Management API
	MgmtEnabled        bool   `envconfig:"MGMT_ENABLED" default:"true"`
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"` // 0 disables
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"200"`

	// Identity matching (rule B attribute names)
	IdentityNameField     string `envconfig:"IDENTITY_NAME_FIELD" default:"NOMBRE Y APELLIDO"`
	IdentityPrimaryField  string `envconfig:"IDENTITY_PRIMARY_FIELD" default:"DNI"`
	IdentityFallbackField string `envconfig:"IDENTITY_FALLBACK_FIELD" default:"OS"`

	// Optional YAML overlay for the identity fields
	FieldsFile string `envconfig:"FIELDS_FILE"`
}

// IsDevelopment reports whether console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// AllowedOriginList returns the parsed list of allowed websocket origins.
// Returns nil if not configured (any origin accepted).
func (c *Config) AllowedOriginList() []string {
	if c.WSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.WSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// SnapshotLocation returns the path used by the configured snapshot backend.
func (c *Config) SnapshotLocation() string {
	if strings.EqualFold(c.SnapshotBackend, "sqlite") {
		return c.SQLitePath
	}
	return c.SnapshotPath
}

// IdentityResolver builds the identity resolver from the configured fields.
func (c *Config) IdentityResolver() identity.Resolver {
	return identity.Resolver{
		NameField:     c.IdentityNameField,
		PrimaryField:  c.IdentityPrimaryField,
		FallbackField: c.IdentityFallbackField,
	}
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.SnapshotBackend) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid SNAPSHOT_BACKEND %q, expected file or sqlite", c.SnapshotBackend)
	}
	if c.WSSendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.WSSendBuffer)
	}
	if c.RouterQueueSize < 1 {
		return fmt.Errorf("ROUTER_QUEUE_SIZE must be positive, got %d", c.RouterQueueSize)
	}
	if c.IdentityNameField == "" {
		return fmt.Errorf("IDENTITY_NAME_FIELD must not be empty")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		if prefix == "" {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if cfg.FieldsFile != "" {
		overlay, err := LoadFields(cfg.FieldsFile)
		if err != nil {
			return nil, err
		}
		overlay.apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
