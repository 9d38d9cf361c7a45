package config

import (
	"fmt"
	"os"
)

type Config struct {
	DBSource     string
	Port         string
	Env          string
	CanonicalURL string
	IdentityURL  string
}

// Load reads the daemon configuration from the environment. DB_SOURCE
// is required; everything else has a development default.
func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	canonical := os.Getenv("CANONICAL_URL")
	if canonical == "" {
		canonical = "http://localhost:" + port
	}

	// where the accounting daemon sends authorisations for verification
	identityURL := os.Getenv("IDENTITY_URL")
	if identityURL == "" {
		identityURL = "http://localhost:8080"
	}

	return &Config{
		DBSource:     dbSource,
		Port:         port,
		Env:          env,
		CanonicalURL: canonical,
		IdentityURL:  identityURL,
	}, nil
}
