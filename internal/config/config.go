// Package config loads the immutable settings this program runs with, from
// environment variables or a .env file.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the vhtunnel daemon. It is
// loaded once at startup and never mutated afterward.
type Config struct {
	VHostSuffix        string
	SSHListen          string
	HTTPListen         string
	APIURL             string
	APIHost            string
	ServerKeyPath      string
	AuthorizedKeysPath string
	CatalogPath        string
	LogRequests        bool
}

// Load loads configuration from environment variables, optionally populated
// from a .env file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		VHostSuffix:        getenvOrDefault("VHOST_SUFFIX", ".t.local"),
		SSHListen:          getenvOrDefault("SSH_LISTEN", ":2222"),
		HTTPListen:         getenvOrDefault("HTTP_LISTEN", ":8080"),
		APIURL:             getenvOrDefault("API_URL", "http://localhost:8080"),
		ServerKeyPath:      os.Getenv("SERVER_KEY_PATH"),
		AuthorizedKeysPath: os.Getenv("AUTHORIZED_KEYS_PATH"),
		CatalogPath:        getenvOrDefault("CATALOG_PATH", "vhtunnel.db"),
		LogRequests:        strings.ToLower(os.Getenv("LOG_REQUESTS")) != "false",
	}

	if !strings.HasPrefix(cfg.VHostSuffix, ".") {
		return nil, &ConfigError{Message: "VHOST_SUFFIX must start with '.' (e.g. \".example.com\")"}
	}
	if cfg.ServerKeyPath == "" {
		return nil, &ConfigError{Message: "SERVER_KEY_PATH must be set to a PEM/OpenSSH private key file"}
	}
	if err := validatePortSuffix(cfg.SSHListen); err != nil {
		return nil, &ConfigError{Message: "SSH_LISTEN: " + err.Error()}
	}

	u, err := url.Parse(cfg.APIURL)
	if err != nil || u.Hostname() == "" {
		return nil, &ConfigError{Message: "API_URL must be a URL with a host"}
	}
	// The management API binds its routes to this hostname; requests under
	// the vhost suffix never reach it regardless.
	cfg.APIHost = u.Hostname()

	return cfg, nil
}

func validatePortSuffix(addr string) error {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return &ConfigError{Message: "missing ':port'"}
	}
	if _, err := strconv.Atoi(addr[i+1:]); err != nil {
		return &ConfigError{Message: "invalid port"}
	}
	return nil
}

func getenvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ConfigError represents a fatal configuration loading error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
