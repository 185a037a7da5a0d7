// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

// Config represents the application configuration
type Config struct {
	// Environment is the current running environment (development, staging, production)
	Environment string `mapstructure:"environment" validate:"oneof=development staging production test"`

	Server      ServerConfig      `mapstructure:"server"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Manager     ManagerConfig     `mapstructure:"manager"`
	Provider    ProvidersConfig   `mapstructure:"provider"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the HTTP server port
	Port int `mapstructure:"port"`
	// Host is the HTTP server host
	Host string `mapstructure:"host"`
	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins feeds the CORS middleware and the websocket origin check
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebSocketConfig configures the JSON-RPC websocket endpoint.
type WebSocketConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size" validate:"gt=0"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level            string   `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format           string   `mapstructure:"format" validate:"oneof=json console"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// AuthConfig configures bearer token checks. An empty secret disables them.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// Enabled reports whether API requests must carry a token.
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

// RateLimitConfig configures the inbound API limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// RedisConfig configures the optional redis connection.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database" validate:"gte=0"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// CredentialsConfig selects where provider cookies are persisted.
type CredentialsConfig struct {
	// Backend is one of file, redis, keyring
	Backend string `mapstructure:"backend" validate:"oneof=file redis keyring"`
	// FlushInterval is how often dirty cookies are written back
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// Directory holds cookie files for providers without an explicit cookie_path
	Directory string `mapstructure:"directory"`
	// KeyringService is the keyring service name
	KeyringService string `mapstructure:"keyring_service"`
}

// ManagerConfig tunes fan-out behavior.
type ManagerConfig struct {
	// FailOnEmpty turns an all-branches-failed fan-out into an error
	FailOnEmpty bool `mapstructure:"fail_on_empty"`
}

// RequestLimit bounds outbound traffic to one provider.
type RequestLimit struct {
	RequestBufferSize      int `mapstructure:"request_buffer_size" validate:"gt=0"`
	MaxConcurrencyNumber   int `mapstructure:"max_concurrency_number" validate:"gt=0"`
	LimitRequestPerSeconds int `mapstructure:"limit_request_per_seconds" validate:"gt=0"`
}

// ProviderConfig holds settings shared by all providers plus the
// provider-specific fields each scraper reads.
type ProviderConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RequestLimit RequestLimit  `mapstructure:"request_limit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// CookiePath overrides the cookie file location for the file backend
	CookiePath string `mapstructure:"cookie_path"`
	// Instance is the base URL of a self-hosted API (netease, invidious)
	Instance string `mapstructure:"instance"`
	// APIKey is the YouTube Data API key
	APIKey string `mapstructure:"api_key"`
	// ClientID and ClientSecret are Spotify app credentials
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// Market is the Spotify market code
	Market string `mapstructure:"market"`
}

// ProvidersConfig has one entry per supported provider.
type ProvidersConfig struct {
	Bilibili ProviderConfig `mapstructure:"bilibili"`
	Netease  ProviderConfig `mapstructure:"netease"`
	YouTube  ProviderConfig `mapstructure:"youtube"`
	Spotify  ProviderConfig `mapstructure:"spotify"`
}

// Get returns the settings for p.
func (c *ProvidersConfig) Get(p models.Provider) *ProviderConfig {
	switch p {
	case models.ProviderBilibili:
		return &c.Bilibili
	case models.ProviderNetease:
		return &c.Netease
	case models.ProviderYouTube:
		return &c.YouTube
	case models.ProviderSpotify:
		return &c.Spotify
	}
	return nil
}

// Enabled lists the enabled providers in declaration order.
func (c *ProvidersConfig) Enabled() []models.Provider {
	var out []models.Provider
	for _, p := range models.Providers {
		if c.Get(p).Enabled {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig reads configuration from path, or from CONFIG_FILE, or from
// app.yaml in the usual directories, then applies BRAGI_* environment
// overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("app")
	v.SetConfigType("yaml")

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/bragi")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BRAGI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	env := v.GetString("environment")
	if path == "" {
		v.SetConfigName(fmt.Sprintf("app.%s", env))
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to merge environment config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the default values for the configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_period", "54s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "bragi")

	v.SetDefault("ratelimit.requests_per_minute", 120)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.key_prefix", "bragi")

	v.SetDefault("credentials.backend", "file")
	v.SetDefault("credentials.flush_interval", "1h")
	v.SetDefault("credentials.directory", "./cookies")
	v.SetDefault("credentials.keyring_service", "bragi")

	v.SetDefault("manager.fail_on_empty", false)

	for _, p := range models.Providers {
		prefix := "provider." + p.String() + "."
		v.SetDefault(prefix+"enabled", false)
		v.SetDefault(prefix+"request_limit.request_buffer_size", 128)
		v.SetDefault(prefix+"request_limit.max_concurrency_number", 8)
		v.SetDefault(prefix+"request_limit.limit_request_per_seconds", 8)
		v.SetDefault(prefix+"timeout", "15s")
		v.SetDefault(prefix+"cookie_path", "")
		v.SetDefault(prefix+"instance", "")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"client_id", "")
		v.SetDefault(prefix+"client_secret", "")
		v.SetDefault(prefix+"market", "")
	}
	v.SetDefault("provider.netease.instance", "http://localhost:3000")
	v.SetDefault("provider.youtube.instance", "https://yewtu.be")
	v.SetDefault("provider.spotify.market", "US")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if err := utils.Validate(config); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("%w: server port must be between 1 and 65535", models.ErrConfiguration)
	}

	enabled := config.Provider.Enabled()
	if len(enabled) == 0 {
		return fmt.Errorf("%w: at least one provider must be enabled", models.ErrConfiguration)
	}

	for _, p := range enabled {
		pc := config.Provider.Get(p)
		switch p {
		case models.ProviderNetease:
			if pc.Instance == "" {
				return fmt.Errorf("%w: provider.netease.instance must be set", models.ErrConfiguration)
			}
		case models.ProviderYouTube:
			if pc.APIKey == "" {
				return fmt.Errorf("%w: provider.youtube.api_key must be set", models.ErrConfiguration)
			}
		case models.ProviderSpotify:
			if pc.ClientID == "" || pc.ClientSecret == "" {
				return fmt.Errorf("%w: provider.spotify.client_id and client_secret must be set", models.ErrConfiguration)
			}
		}
	}

	if config.Credentials.Backend == "redis" && !config.Redis.Enabled {
		return fmt.Errorf("%w: credentials backend redis requires redis.enabled", models.ErrConfiguration)
	}
	if config.Redis.Enabled && len(config.Redis.Addresses) == 0 {
		return fmt.Errorf("%w: at least one Redis address must be provided", models.ErrConfiguration)
	}

	return nil
}

// CookiePath returns where the file backend keeps p's cookies.
func (c *Config) CookiePath(p models.Provider) string {
	if pc := c.Provider.Get(p); pc != nil && pc.CookiePath != "" {
		return pc.CookiePath
	}
	return filepath.Join(c.Credentials.Directory, p.String()+".cookie")
}

// GetConfigString returns a formatted summary of the configuration
func GetConfigString(config *Config) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Environment: %s\n", config.Environment)
	fmt.Fprintf(&sb, "Server: %s\n", config.Server.Addr())
	fmt.Fprintf(&sb, "Credentials backend: %s\n", config.Credentials.Backend)
	fmt.Fprintf(&sb, "Redis enabled: %t\n", config.Redis.Enabled)
	sb.WriteString("Providers:\n")
	for _, p := range models.Providers {
		pc := config.Provider.Get(p)
		fmt.Fprintf(&sb, "  %s: enabled=%t buffer=%d concurrency=%d rate=%d/s\n",
			p, pc.Enabled,
			pc.RequestLimit.RequestBufferSize,
			pc.RequestLimit.MaxConcurrencyNumber,
			pc.RequestLimit.LimitRequestPerSeconds,
		)
	}

	return sb.String()
}
