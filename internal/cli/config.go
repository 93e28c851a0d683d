package cli

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/pthm/docql/pkg/schema"
)

const (
	maxWalkDepth = 25
)

// Config represents the docql configuration from docql.yaml.
type Config struct {
	// Serializer conventions the generated locators must agree with
	Casing      string `mapstructure:"casing" json:"casing"`
	EnumStorage string `mapstructure:"enum_storage" json:"enum_storage"`

	// Session defaults
	SearchConfig string `mapstructure:"search_config" json:"search_config"`
	Tenant       string `mapstructure:"tenant" json:"tenant"`
	Schema       string `mapstructure:"schema" json:"schema"`

	// Query definitions file for preview and explain
	Queries string `mapstructure:"queries" json:"queries"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database" json:"database"`

	// Per-command configuration
	Explain ExplainConfig `mapstructure:"explain" json:"explain"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url" json:"url,omitempty"`
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port"`
	Name     string `mapstructure:"name" json:"name,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"-"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode"`
}

// ExplainConfig holds explain command settings.
type ExplainConfig struct {
	Format  string `mapstructure:"format" json:"format"`
	Analyze bool   `mapstructure:"analyze" json:"analyze"`
	Buffers bool   `mapstructure:"buffers" json:"buffers"`
	Verbose bool   `mapstructure:"verbose" json:"verbose"`
}

// LoadConfig discovers and loads configuration with proper precedence:
// flags > env > config file > defaults.
//
// Returns the loaded config, the path to the config file (empty if none found),
// and any error encountered.
func LoadConfig(explicitConfigPath string) (*Config, string, error) {
	v := viper.New()

	// 1. Set defaults first (lowest precedence)
	setDefaults(v)

	// 2. Set up environment variable binding
	v.SetEnvPrefix("DOCQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 3. Find and load config file
	configPath, err := findConfigFile(explicitConfigPath)
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, configPath, fmt.Errorf("reading config file: %w", err)
		}
	}

	// 4. Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, configPath, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, configPath, nil
}

func setDefaults(v *viper.Viper) {
	// Top-level defaults
	v.SetDefault("casing", "as-is")
	v.SetDefault("enum_storage", "integer")
	v.SetDefault("search_config", "english")
	v.SetDefault("tenant", "*DEFAULT*")
	v.SetDefault("schema", "public")
	v.SetDefault("queries", "queries.yaml")

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "prefer")

	// Explain defaults
	v.SetDefault("explain.format", "json")
	v.SetDefault("explain.analyze", false)
	v.SetDefault("explain.buffers", false)
	v.SetDefault("explain.verbose", false)
}

// findConfigFile finds the config file to use.
// If explicitPath is provided, it validates the file exists.
// Otherwise, it walks up from cwd looking for docql.yaml or docql.yml,
// stopping at a .git directory or after maxWalkDepth levels.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}

	dir := cwd
	for range maxWalkDepth {
		for _, name := range []string{"docql.yaml", "docql.yml"} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}

		// Check for repo boundary (.git file or directory)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // Reached filesystem root
		}
		dir = parent
	}

	return "", nil // No config found, use defaults
}

// Conventions parses the serializer settings.
func (c *Config) Conventions() (schema.Conventions, error) {
	casing, ok := schema.ParseCasing(c.Casing)
	if !ok {
		return schema.Conventions{}, fmt.Errorf("casing: unknown value %q", c.Casing)
	}
	enums, ok := schema.ParseEnumStorage(c.EnumStorage)
	if !ok {
		return schema.Conventions{}, fmt.Errorf("enum_storage: unknown value %q", c.EnumStorage)
	}
	return schema.Conventions{Casing: casing, EnumStorage: enums}, nil
}

// DSN returns the database connection string.
// If database.url is set, it's returned directly.
// Otherwise, builds a DSN from discrete fields.
func (c *Config) DSN() (string, error) {
	db := c.Database

	if db.URL != "" {
		return db.URL, nil
	}

	if db.Host == "" {
		return "", fmt.Errorf("database.host is required when database.url is not set")
	}
	if db.Name == "" {
		return "", fmt.Errorf("database.name is required when database.url is not set")
	}
	if db.User == "" {
		return "", fmt.Errorf("database.user is required when database.url is not set")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   "/" + db.Name,
	}

	if db.Password != "" {
		u.User = url.UserPassword(db.User, db.Password)
	} else {
		u.User = url.User(db.User)
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// ResolvedQueries returns the definitions file for a command, with the
// command-line argument taking precedence over the queries key.
func (c *Config) ResolvedQueries(arg string) string {
	if arg != "" {
		return arg
	}
	return c.Queries
}

// Redacted returns a copy of c safe to print: any password in database.url
// is masked.
func (c *Config) Redacted() Config {
	out := *c
	if out.Database.URL == "" {
		return out
	}
	if u, err := url.Parse(out.Database.URL); err == nil {
		out.Database.URL = u.Redacted()
	}
	return out
}
