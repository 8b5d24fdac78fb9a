package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"chat-bridge/internal"
)

// Config represents the bridge configuration. Values come from config.yaml,
// the process environment and a .env file in the working directory.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Models    ModelsConfig    `mapstructure:"models"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Store     StoreConfig     `mapstructure:"store"`
	Overrides OverridesConfig `mapstructure:"overrides"`

	// Tool description overrides (loaded from tools_override.yaml)
	ToolDescriptions map[string]string `mapstructure:"-"`

	// System message overrides (loaded from system_overrides.yaml)
	SystemMessageOverrides SystemMessageOverrides `mapstructure:"-"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BackendConfig describes the single OpenAI-compatible backend
type BackendConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	// Proxy is empty for a direct connection, or an http://, https:// or
	// socks5:// URL
	Proxy          string        `mapstructure:"proxy"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// AlwaysStream makes non-streaming client requests stream from the
	// backend and collects the result
	AlwaysStream bool          `mapstructure:"always_stream"`
	IncludeUsage bool          `mapstructure:"include_usage"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
	// OAuth replaces APIKey with refresh-token credentials when
	// OAuth.TokenURL is set
	OAuth OAuthConfig `mapstructure:"oauth"`
}

// OAuthConfig describes an OAuth2 refresh-token grant against the backend's
// identity provider. TokenFile, when set, keeps rotated refresh tokens
// across restarts.
type OAuthConfig struct {
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	TokenFile    string `mapstructure:"token_file"`
}

// Enabled reports whether OAuth credentials replace the static key
func (o OAuthConfig) Enabled() bool {
	return o.TokenURL != ""
}

// BreakerConfig controls the backend circuit breaker. A zero
// FailureThreshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Backoff          time.Duration `mapstructure:"backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
}

// ModelsConfig maps client model names to backend model names
type ModelsConfig struct {
	Big   string            `mapstructure:"big"`
	Small string            `mapstructure:"small"`
	Map   map[string]string `mapstructure:"map"`
	// Allowed lists the client model names accepted; empty accepts all
	Allowed []string `mapstructure:"allowed"`
}

// LoggingConfig controls the process logger
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Dir receives bridge.jsonl when set; otherwise logs go to stdout
	Dir string `mapstructure:"dir"`

	PrintSystemMessage       bool `mapstructure:"print_system_message"`
	DisableSmallModelLogging bool `mapstructure:"disable_small_model_logging"`
}

// StoreConfig controls the request log store
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// OverridesConfig names the YAML override files
type OverridesConfig struct {
	ToolsFile  string `mapstructure:"tools_file"`
	SystemFile string `mapstructure:"system_file"`
}

// envBindings lists, per key, the environment variables read for it in
// priority order. The unprefixed names are the ones older .env files use.
var envBindings = map[string][]string{
	"server.port":     {"BRIDGE_SERVER_PORT", "PORT"},
	"backend.url":     {"BRIDGE_BACKEND_URL", "BIG_MODEL_ENDPOINT"},
	"backend.api_key": {"BRIDGE_BACKEND_API_KEY", "BIG_MODEL_API_KEY"},
	"backend.proxy":   {"BRIDGE_BACKEND_PROXY"},

	"backend.oauth.client_id":     {"BRIDGE_BACKEND_OAUTH_CLIENT_ID", "OAUTH_CLIENT_ID"},
	"backend.oauth.refresh_token": {"BRIDGE_BACKEND_OAUTH_REFRESH_TOKEN", "OAUTH_REFRESH_TOKEN"},

	"models.big":      {"BRIDGE_MODELS_BIG", "BIG_MODEL"},
	"models.small":    {"BRIDGE_MODELS_SMALL", "SMALL_MODEL"},
	"logging.level":   {"BRIDGE_LOGGING_LEVEL", "LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3456")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("backend.url", "http://localhost:8080/v1")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.proxy", "")
	v.SetDefault("backend.timeout", "5m")
	v.SetDefault("backend.connect_timeout", "10s")
	v.SetDefault("backend.always_stream", false)
	v.SetDefault("backend.include_usage", true)
	v.SetDefault("backend.breaker.failure_threshold", 2)
	v.SetDefault("backend.breaker.backoff", "30s")
	v.SetDefault("backend.breaker.max_backoff", "5m")
	v.SetDefault("backend.oauth.token_url", "")
	v.SetDefault("backend.oauth.client_id", "")
	v.SetDefault("backend.oauth.client_secret", "")
	v.SetDefault("backend.oauth.refresh_token", "")
	v.SetDefault("backend.oauth.token_file", "")

	v.SetDefault("models.big", "")
	v.SetDefault("models.small", "")
	v.SetDefault("models.map", map[string]string{})
	v.SetDefault("models.allowed", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.print_system_message", false)
	v.SetDefault("logging.disable_small_model_logging", false)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.dsn", "bridge.db")

	v.SetDefault("overrides.tools_file", "tools_override.yaml")
	v.SetDefault("overrides.system_file", "system_overrides.yaml")
}

// GetDefaultConfig returns a default configuration for testing
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3456",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			URL:            "http://localhost:8080/v1",
			Timeout:        5 * time.Minute,
			ConnectTimeout: 10 * time.Second,
			IncludeUsage:   true,
			Breaker: BreakerConfig{
				FailureThreshold: 2,
				Backoff:          30 * time.Second,
				MaxBackoff:       5 * time.Minute,
			},
		},
		Models:                 ModelsConfig{Map: map[string]string{}},
		Logging:                LoggingConfig{Level: "info"},
		Store:                  StoreConfig{DSN: "bridge.db"},
		Overrides:              OverridesConfig{ToolsFile: "tools_override.yaml", SystemFile: "system_overrides.yaml"},
		ToolDescriptions:       make(map[string]string),
		SystemMessageOverrides: SystemMessageOverrides{},
	}
}

// Loader reads the configuration and can watch config.yaml for changes
type Loader struct {
	v       *viper.Viper
	envFile string

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader. An empty configPath searches for config.yaml
// in the working directory and ./config.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	setDefaults(v)

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}

	return &Loader{v: v, envFile: ".env"}
}

// Load loads configuration using default search paths
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads every source and returns the merged configuration. A missing
// config.yaml, .env or override file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	envVars, err := loadEnvFile(l.envFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", l.envFile, err)
	}
	applyEnvFile(l.v, envVars)

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.Backend.URL = firstEndpoint(cfg.Backend.URL)
	if cfg.Models.Map == nil {
		cfg.Models.Map = map[string]string{}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	dir := l.baseDir()
	toolDescriptions, err := LoadToolDescriptions(resolve(dir, cfg.Overrides.ToolsFile))
	if err != nil {
		logrus.WithError(err).Warn("Failed to load tool descriptions, using originals")
		toolDescriptions = make(map[string]string)
	}
	cfg.ToolDescriptions = toolDescriptions

	systemOverrides, err := LoadSystemMessageOverrides(resolve(dir, cfg.Overrides.SystemFile))
	if err != nil {
		logrus.WithError(err).Warn("Failed to load system message overrides, using originals")
		systemOverrides = SystemMessageOverrides{}
	}
	cfg.SystemMessageOverrides = systemOverrides

	logrus.WithFields(logrus.Fields{
		"backend_url":    cfg.Backend.URL,
		"backend_key":    maskAPIKey(cfg.Backend.APIKey),
		"backend_proxy":  cfg.Backend.Proxy != "",
		"backend_oauth":  cfg.Backend.OAuth.Enabled(),
		"big_model":      cfg.Models.Big,
		"small_model":    cfg.Models.Small,
		"allowed_models": len(cfg.Models.Allowed),
		"config_file":    l.v.ConfigFileUsed(),
	}).Debug("Configuration loaded")
	return cfg, nil
}

// Current returns the most recently loaded configuration
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch reloads the configuration whenever config.yaml changes and hands
// the new value to onChange. Invalid edits are logged and ignored. Watch
// does nothing when no config file was found.
func (l *Loader) Watch(onChange func(*Config)) {
	if used := l.v.ConfigFileUsed(); used == "" {
		return
	} else if _, err := os.Stat(used); err != nil {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			logrus.WithError(err).WithField("file", e.Name).Warn("Ignoring invalid configuration change")
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		logrus.WithField("file", e.Name).Info("Configuration reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) baseDir() string {
	if used := l.v.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			return filepath.Dir(used)
		}
	}
	return "."
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if _, err := os.Stat(filepath.Join(dir, path)); err == nil {
		return filepath.Join(dir, path)
	}
	return path
}

func (c *Config) validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url must be set")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must be set")
	}
	if c.Backend.OAuth.Enabled() && c.Backend.OAuth.ClientID == "" {
		return fmt.Errorf("backend.oauth.client_id must be set with backend.oauth.token_url")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	return nil
}

// firstEndpoint keeps the first entry of a comma-separated endpoint list
func firstEndpoint(value string) string {
	for _, endpoint := range strings.Split(value, ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			return endpoint
		}
	}
	return ""
}

// maskAPIKey masks an API key for safe logging
func maskAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}

// MapModelName translates a client model name to the backend model name.
// Explicit mappings win; otherwise haiku-class names go to the small model
// and everything else to the big model. With nothing configured the name
// passes through.
func (c *Config) MapModelName(ctx context.Context, clientModel string) string {
	requestID := internal.GetRequestID(ctx)

	mapped := clientModel
	if m, ok := c.Models.Map[clientModel]; ok && m != "" {
		mapped = m
	} else if c.Models.Small != "" && strings.Contains(strings.ToLower(clientModel), "haiku") {
		mapped = c.Models.Small
	} else if c.Models.Big != "" {
		mapped = c.Models.Big
	}

	if mapped != clientModel && (!c.Logging.DisableSmallModelLogging || mapped != c.Models.Small) {
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"from":       clientModel,
			"to":         mapped,
		}).Debug("Model mapping")
	}
	return mapped
}

// IsModelAllowed reports whether clients may request model
func (c *Config) IsModelAllowed(model string) bool {
	if len(c.Models.Allowed) == 0 {
		return true
	}
	for _, allowed := range c.Models.Allowed {
		if allowed == model {
			return true
		}
	}
	return false
}

// GetToolDescription returns the override description if available, otherwise returns original
func (c *Config) GetToolDescription(toolName, originalDescription string) string {
	return GetToolDescription(c.ToolDescriptions, toolName, originalDescription)
}

// RewriteSystemMessage applies the configured system message overrides
func (c *Config) RewriteSystemMessage(message string) string {
	return ApplySystemMessageOverrides(message, c.SystemMessageOverrides)
}
