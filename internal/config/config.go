package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/mianshi/domain/entities"
)

const (
	defaultRelayPort   = "8768"
	defaultUpstreamURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-mini-realtime-preview"
	defaultRelayURL    = "ws://localhost:8768"
	defaultDatabase    = "mianshi"
	defaultLogLevel    = "info"
)

// RelayConfig holds the relay process settings
type RelayConfig struct {
	Port           string
	UpstreamAPIKey string
	UpstreamURL    string
	LogLevel       string
	MetricsEnabled bool
}

// ClientConfig holds the interview client settings
type ClientConfig struct {
	RelayURL      string
	GeminiAPIKey  string
	GeminiModel   string
	MongoURI      string
	MongoDatabase string
	HandoffSecret string
	ResultPageURL string
	LogLevel      string
}

// LoadDotEnv loads a .env file when present. A missing file is not an error.
func LoadDotEnv(logger *zap.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}
}

// RelayConfigFromEnv reads relay settings from the environment
func RelayConfigFromEnv() RelayConfig {
	port := os.Getenv("PORT")
	if port == "" {
		port = os.Getenv("PROXY_PORT")
	}
	if port == "" {
		port = defaultRelayPort
	}

	apiKey := os.Getenv("UPSTREAM_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	upstream := os.Getenv("UPSTREAM_URL")
	if upstream == "" {
		upstream = defaultUpstreamURL
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = defaultLogLevel
	}

	metricsEnabled, _ := strconv.ParseBool(os.Getenv("METRICS_ENABLED"))

	return RelayConfig{
		Port:           port,
		UpstreamAPIKey: apiKey,
		UpstreamURL:    upstream,
		LogLevel:       logLevel,
		MetricsEnabled: metricsEnabled,
	}
}

// Validate validates the relay configuration
func (c RelayConfig) Validate() error {
	if c.UpstreamAPIKey == "" {
		return errors.New("UPSTREAM_API_KEY (or OPENAI_API_KEY) environment variable is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q: %w", c.Port, err)
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("upstream url must use ws or wss, got %q", u.Scheme)
	}
	return nil
}

// ClientConfigFromEnv reads interview client settings from the environment
func ClientConfigFromEnv() ClientConfig {
	c := ClientConfig{
		RelayURL:      os.Getenv("RELAY_URL"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   os.Getenv("GEMINI_MODEL"),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: os.Getenv("MONGODB_DATABASE"),
		HandoffSecret: os.Getenv("HANDOFF_SECRET"),
		ResultPageURL: os.Getenv("RESULT_PAGE_URL"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
	}
	if c.RelayURL == "" {
		c.RelayURL = defaultRelayURL
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = defaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	return c
}

// Validate validates the client configuration
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay url must use ws or wss, got %q", u.Scheme)
	}
	if c.ResultPageURL != "" && c.HandoffSecret == "" {
		return errors.New("HANDOFF_SECRET is required when RESULT_PAGE_URL is set")
	}
	return nil
}

// LoadSettings reads interview settings from a YAML file
func LoadSettings(path string) (entities.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entities.Settings{}, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var settings entities.Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return entities.Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
	}

	settings.Position = strings.TrimSpace(settings.Position)
	settings.Company = strings.TrimSpace(settings.Company)

	if err := settings.Validate(); err != nil {
		return entities.Settings{}, err
	}
	return settings, nil
}

// NewLogger builds a production logger at the given level
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
