package testutil

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig holds configuration for connecting to an external test
// database instead of a container.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// GetDatabaseConfig reads database configuration from environment variables.
// If DOCQL_TEST_DATABASE_URL is set, it returns configuration for a remote
// database. Otherwise, returns an empty config which signals to use
// testcontainers.
func GetDatabaseConfig() DatabaseConfig {
	// Check for direct URL (highest priority)
	if url := os.Getenv("DOCQL_TEST_DATABASE_URL"); url != "" {
		return DatabaseConfig{
			URL:            url,
			MaxConnections: getEnvInt("DOCQL_TEST_DATABASE_MAX_CONNS", 10),
		}
	}

	// Check for individual components
	host := os.Getenv("DOCQL_TEST_DATABASE_HOST")
	if host != "" {
		return DatabaseConfig{
			URL: buildDatabaseURL(
				getEnv("DOCQL_TEST_DATABASE_USER", "postgres"),
				getEnv("DOCQL_TEST_DATABASE_PASSWORD", ""),
				host,
				getEnv("DOCQL_TEST_DATABASE_PORT", "5432"),
				getEnv("DOCQL_TEST_DATABASE_NAME", "postgres"),
				getEnv("DOCQL_TEST_DATABASE_SSLMODE", "prefer"),
			),
			MaxConnections: getEnvInt("DOCQL_TEST_DATABASE_MAX_CONNS", 10),
		}
	}

	// Default: use testcontainers (empty config)
	return DatabaseConfig{MaxConnections: 10}
}

// buildDatabaseURL constructs a PostgreSQL connection string.
func buildDatabaseURL(user, password, host, port, dbname, sslmode string) string {
	if password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			user, password, host, port, dbname, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s",
		user, host, port, dbname, sslmode)
}

// getEnv gets an environment variable with a fallback default value.
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt gets an integer environment variable with a fallback default value.
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}
