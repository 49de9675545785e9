package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v2"
)

const (
	// AuthTypeBrowser uses the authorization code flow with PKCE, logging in a user.
	AuthTypeBrowser = "browser"
	// AuthTypeSecret uses the client credentials flow, logging in the application.
	AuthTypeSecret = "secret"
)

const (
	defaultGraphURL      = "https://graph.microsoft.com"
	defaultLoginURL      = "https://login.microsoftonline.com"
	defaultListenAddress = "127.0.0.1:8400"
	defaultCallbackPath  = "/callback"
	defaultConcurrency   = 10
	defaultOutput        = "json"
)

// Config represents the entire application configuration.
type Config struct {
	Tenant            string          `yaml:"tenant"`
	ClientID          string          `yaml:"client_id"`
	ClientSecret      string          `yaml:"client_secret"`
	AuthType          string          `yaml:"auth_type"`
	TokenFilePath     string          `yaml:"token_file_path"`
	ListenAddress     string          `yaml:"listen_address"`
	CallbackPath      string          `yaml:"callback_path"`
	GraphURL          string          `yaml:"graph_url"`
	LoginURL          string          `yaml:"login_url"`
	Output            string          `yaml:"output"`
	Concurrency       int             `yaml:"concurrency"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	Telemetry         TelemetryConfig `yaml:"telemetry"`
	Log               LogConfig       `yaml:"log"`

	OAuth2Config      *oauth2.Config            // derived for the browser login flow
	ClientCredentials *clientcredentials.Config // derived for the client secret flow
}

// TelemetryConfig holds settings for the local telemetry event store.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LogConfig holds settings for the optional rotating log file.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load loads and validates the configuration from the given file path.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validateAndPrepare checks for required fields and sets up derived values.
func validateAndPrepare(c *Config) error {
	if c.Tenant == "" {
		c.Tenant = "common"
	}
	if c.ClientID == "" {
		return errors.New("client_id is missing")
	}
	if c.TokenFilePath == "" {
		return errors.New("token_file_path is missing")
	}

	switch c.AuthType {
	case "":
		c.AuthType = AuthTypeBrowser
	case AuthTypeBrowser:
	case AuthTypeSecret:
		if c.ClientSecret == "" {
			return errors.New("client_secret is required for auth_type secret")
		}
		if c.Tenant == "common" {
			return errors.New("a tenant is required for auth_type secret")
		}
	default:
		return fmt.Errorf("invalid auth_type %q, expected %s or %s", c.AuthType, AuthTypeBrowser, AuthTypeSecret)
	}

	if c.ListenAddress == "" {
		c.ListenAddress = defaultListenAddress
	}
	if c.CallbackPath == "" {
		c.CallbackPath = defaultCallbackPath
	}
	if !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("callback_path %q must start with '/'", c.CallbackPath)
	}
	if c.GraphURL == "" {
		c.GraphURL = defaultGraphURL
	}
	c.GraphURL = strings.TrimRight(c.GraphURL, "/")
	if _, err := url.ParseRequestURI(c.GraphURL); err != nil {
		return fmt.Errorf("invalid graph_url: %w", err)
	}
	if c.LoginURL == "" {
		c.LoginURL = defaultLoginURL
	}
	c.LoginURL = strings.TrimRight(c.LoginURL, "/")

	switch c.Output {
	case "":
		c.Output = defaultOutput
	case "json", "text":
	default:
		return fmt.Errorf("invalid output %q, expected json or text", c.Output)
	}

	if c.Concurrency == 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second cannot be negative")
	}

	if c.Telemetry.Enabled && c.Telemetry.DatabasePath == "" {
		return errors.New("telemetry.database_path is missing")
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 10
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
	}

	authority := fmt.Sprintf("%s/%s/oauth2/v2.0", c.LoginURL, c.Tenant)
	c.OAuth2Config = &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authority + "/authorize",
			TokenURL: authority + "/token",
		},
		RedirectURL: fmt.Sprintf("http://%s%s", c.ListenAddress, c.CallbackPath),
		Scopes:      []string{c.GraphURL + "/.default", "offline_access"},
	}
	c.ClientCredentials = &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     authority + "/token",
		Scopes:       []string{c.GraphURL + "/.default"},
	}

	return nil
}

// AppOnly reports whether the configuration logs in as an application rather than as
// a user.
func (c *Config) AppOnly() bool {
	return c.AuthType == AuthTypeSecret
}
