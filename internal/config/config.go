// Package config loads the pipeline configuration from a YAML file with
// environment-variable overrides for the secret-bearing fields.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the pipeline and the API server.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Graph     GraphConfig     `yaml:"microsoft_graph"`
	Source    SourceConfig    `yaml:"source"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
}

// DatabaseConfig describes the persistent store connection.
// Either DSN is set verbatim, or the individual fields are combined.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres" | "sqlite" | "mysql"
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// GraphConfig holds Microsoft Graph client-credentials.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Scope        string `yaml:"scope"`
}

// SourceConfig identifies the remote workbook to pull each run.
type SourceConfig struct {
	DriveID  string `yaml:"drive_id"`
	FolderID string `yaml:"folder_id"`
	FileName string `yaml:"file_name"`
	Sheet    string `yaml:"sheet"`
	DataType string `yaml:"data_type"`

	// WatchDir, when set, is a local drop folder: a workbook copied
	// into it triggers a backfill run from that file.
	WatchDir string `yaml:"watch_dir"`
}

// SchedulerConfig controls the periodic trigger.
type SchedulerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // e.g. "*/5 * * * *"
}

// APIConfig configures the HTTP front end.
type APIConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	MaxLimit  int           `yaml:"max_limit"` // pagination cap enforced at the boundary
	Users     []APIUser     `yaml:"users"`
}

// APIUser is a static API account. PasswordHash is a bcrypt hash.
type APIUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Load reads the YAML file at path, applies .env / environment overrides,
// and fills defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides the secret-bearing fields from the environment so
// credentials never need to live in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CALIDAD_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("CALIDAD_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("CALIDAD_GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("CALIDAD_GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("CALIDAD_GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("CALIDAD_JWT_SECRET"); v != "" {
		c.API.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Graph.Scope == "" {
		c.Graph.Scope = "https://graph.microsoft.com/.default"
	}
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "*/5 * * * *"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.API.TokenTTL == 0 {
		c.API.TokenTTL = 30 * time.Minute
	}
	if c.API.MaxLimit == 0 {
		c.API.MaxLimit = 1000
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" && c.Database.Name == "" {
		return fmt.Errorf("sqlite driver requires dsn or name")
	}
	return nil
}

// ConnString builds the driver connection string.
func (c *DatabaseConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Driver {
	case "postgres":
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, port, c.User, c.Password, c.Name, c.SSLMode)
	case "mysql":
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, port, c.Name)
	case "sqlite":
		return c.Name + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	return ""
}
