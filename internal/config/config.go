// Package config loads the amocrm-contacts configuration from a YAML file,
// a .env file and AMOCRM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppName is used for the XDG config and data directories.
const AppName = "amocrm-contacts"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AMOCRM"

// Token store backends
const (
	StoreFile      = "file"
	StoreFirestore = "firestore"
)

// Config holds all application configuration
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Token       TokenConfig       `mapstructure:"token"`
	Secrets     SecretsConfig     `mapstructure:"secrets"`
	GCP         GCPConfig         `mapstructure:"gcp"`
	Export      ExportConfig      `mapstructure:"export"`
	Import      ImportConfig      `mapstructure:"import"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	MCP         MCPConfig         `mapstructure:"mcp"`
}

// CredentialsConfig holds the amoCRM integration settings
type CredentialsConfig struct {
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	RedirectURI    string `mapstructure:"redirect_uri"`
	Domain         string `mapstructure:"domain"`           // e.g. example.amocrm.ru
	Code           string `mapstructure:"code"`             // one-time authorization code
	LongLivedToken string `mapstructure:"long_lived_token"` // skips the OAuth flow when set
	BaseURL        string `mapstructure:"base_url"`         // overrides https://<domain>
}

// TokenConfig selects where the token record is persisted
type TokenConfig struct {
	Store      string `mapstructure:"store"` // "file" or "firestore"
	File       string `mapstructure:"file"`
	Project    string `mapstructure:"project"`
	Collection string `mapstructure:"collection"`
}

// SecretsConfig optionally loads the client secret from Secret Manager
type SecretsConfig struct {
	Project          string `mapstructure:"project"`
	ClientSecretName string `mapstructure:"client_secret_name"`
}

// GCPConfig holds Google Cloud client options
type GCPConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ExportConfig holds export settings
type ExportConfig struct {
	File     string `mapstructure:"file"`
	PageSize int    `mapstructure:"page_size"`
	MaxPages int    `mapstructure:"max_pages"`
}

// ImportConfig holds import settings
type ImportConfig struct {
	ErrorsFile string        `mapstructure:"errors_file"`
	Delay      time.Duration `mapstructure:"delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"` // empty logs to stderr
	Level string `mapstructure:"level"`
}

// MCPConfig holds the MCP server settings
type MCPConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Token: TokenConfig{
			Store:      StoreFile,
			File:       DefaultTokenPath(),
			Collection: "amocrm_tokens",
		},
		Export: ExportConfig{
			File:     "contacts.csv",
			PageSize: 250,
			MaxPages: 10000,
		},
		Import: ImportConfig{
			ErrorsFile: "errors.csv",
			Delay:      200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
		MCP: MCPConfig{
			Host: "localhost",
			Port: 8080,
		},
	}
}

// DefaultTokenPath returns the default token cache location
func DefaultTokenPath() string {
	return filepath.Join(xdg.DataHome, AppName, "token.json")
}

// DefaultConfigDir returns the directory searched for config.yaml
func DefaultConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load reads configuration. An explicit path must exist; otherwise config.yaml is
// looked up in the XDG config directory and the working directory, and a missing
// file is not an error. A .env file in the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it on Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("credentials.client_id", d.Credentials.ClientID)
	v.SetDefault("credentials.client_secret", d.Credentials.ClientSecret)
	v.SetDefault("credentials.redirect_uri", d.Credentials.RedirectURI)
	v.SetDefault("credentials.domain", d.Credentials.Domain)
	v.SetDefault("credentials.code", d.Credentials.Code)
	v.SetDefault("credentials.long_lived_token", d.Credentials.LongLivedToken)
	v.SetDefault("credentials.base_url", d.Credentials.BaseURL)

	v.SetDefault("token.store", d.Token.Store)
	v.SetDefault("token.file", d.Token.File)
	v.SetDefault("token.project", d.Token.Project)
	v.SetDefault("token.collection", d.Token.Collection)

	v.SetDefault("secrets.project", d.Secrets.Project)
	v.SetDefault("secrets.client_secret_name", d.Secrets.ClientSecretName)

	v.SetDefault("gcp.credentials_file", d.GCP.CredentialsFile)

	v.SetDefault("export.file", d.Export.File)
	v.SetDefault("export.page_size", d.Export.PageSize)
	v.SetDefault("export.max_pages", d.Export.MaxPages)

	v.SetDefault("import.errors_file", d.Import.ErrorsFile)
	v.SetDefault("import.delay", d.Import.Delay)

	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", d.Logging.Level)

	v.SetDefault("mcp.host", d.MCP.Host)
	v.SetDefault("mcp.port", d.MCP.Port)
	v.SetDefault("mcp.api_key", d.MCP.APIKey)
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.Credentials.Domain == "" && c.Credentials.BaseURL == "" {
		return errors.New("credentials.domain is required")
	}
	if c.Credentials.LongLivedToken == "" && c.Credentials.ClientID == "" {
		return errors.New("credentials.client_id is required unless credentials.long_lived_token is set")
	}
	if c.Export.PageSize < 1 || c.Export.PageSize > 250 {
		return fmt.Errorf("export.page_size must be between 1 and 250, got %d", c.Export.PageSize)
	}
	if c.Export.MaxPages < 1 {
		return fmt.Errorf("export.max_pages must be positive, got %d", c.Export.MaxPages)
	}
	if c.Import.Delay < 0 {
		return fmt.Errorf("import.delay must not be negative, got %s", c.Import.Delay)
	}
	switch c.Token.Store {
	case StoreFile:
		if c.Token.File == "" {
			return errors.New("token.file is required for the file token store")
		}
	case StoreFirestore:
		if c.Token.Project == "" {
			return errors.New("token.project is required for the firestore token store")
		}
	default:
		return fmt.Errorf("unknown token.store %q", c.Token.Store)
	}
	return nil
}

// UsesSecretManager reports whether the client secret comes from Secret Manager.
func (c *Config) UsesSecretManager() bool {
	return c.Secrets.Project != "" && c.Secrets.ClientSecretName != ""
}

// MCPAddr returns the MCP listen address.
func (c *Config) MCPAddr() string {
	return fmt.Sprintf("%s:%d", c.MCP.Host, c.MCP.Port)
}
