// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"norelock.dev/listenify/bragi/internal/models"
	"norelock.dev/listenify/bragi/internal/utils"
)

const (
	minTimeout       = 1 * time.Second
	maxTimeout       = 5 * time.Minute
	minFlushInterval = 10 * time.Second
	maxRequestRate   = 10000
)

// ValidateAndFixConfig checks settings that have a safe fallback, fixes
// them in place and returns one warning per change.
func ValidateAndFixConfig(config *Config) []string {
	var warnings []string

	if !config.Auth.Enabled() {
		warnings = append(warnings, "JWT secret is not set, API authentication is disabled")
	} else if len(config.Auth.JWTSecret) < 16 {
		warnings = append(warnings, "JWT secret is too short, should be at least 16 characters")
	}

	clamp := func(name string, d *time.Duration) {
		switch {
		case *d < minTimeout:
			warnings = append(warnings, fmt.Sprintf("%s is too short (%v), setting to %v", name, *d, minTimeout))
			*d = minTimeout
		case *d > maxTimeout:
			warnings = append(warnings, fmt.Sprintf("%s is too long (%v), setting to %v", name, *d, maxTimeout))
			*d = maxTimeout
		}
	}
	clamp("Server read timeout", &config.Server.ReadTimeout)
	clamp("Server write timeout", &config.Server.WriteTimeout)
	clamp("Server idle timeout", &config.Server.IdleTimeout)

	if config.WebSocket.PingPeriod >= config.WebSocket.PongWait {
		fixed := config.WebSocket.PongWait * 9 / 10
		warnings = append(warnings, fmt.Sprintf("Websocket ping period must be shorter than pong wait, setting to %v", fixed))
		config.WebSocket.PingPeriod = fixed
	}

	if config.Redis.Enabled {
		for _, addr := range config.Redis.Addresses {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid Redis address: %s", addr))
				continue
			}
			if host == "" || port == "" {
				warnings = append(warnings, fmt.Sprintf("Redis address is incomplete: %s", addr))
			}
		}
	}

	if config.Credentials.FlushInterval < minFlushInterval {
		warnings = append(warnings, fmt.Sprintf("Credential flush interval is too short (%v), setting to %v", config.Credentials.FlushInterval, minFlushInterval))
		config.Credentials.FlushInterval = minFlushInterval
	}

	if config.Credentials.Backend == "file" {
		for _, p := range config.Provider.Enabled() {
			if !UsesCookies(p) {
				continue
			}
			path := config.CookiePath(p)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				warnings = append(warnings, fmt.Sprintf("Cookie file for %s does not exist: %s", p, path))
			}
		}
	}

	for _, p := range config.Provider.Enabled() {
		pc := config.Provider.Get(p)
		if pc.Timeout <= 0 {
			warnings = append(warnings, fmt.Sprintf("Provider %s timeout is not set, using 15s", p))
			pc.Timeout = 15 * time.Second
		}
		if pc.RequestLimit.LimitRequestPerSeconds > maxRequestRate {
			warnings = append(warnings, fmt.Sprintf("Provider %s request rate (%d/s) is too high, setting to %d",
				p, pc.RequestLimit.LimitRequestPerSeconds, maxRequestRate))
			pc.RequestLimit.LimitRequestPerSeconds = maxRequestRate
		}
		if pc.RequestLimit.MaxConcurrencyNumber > pc.RequestLimit.RequestBufferSize {
			warnings = append(warnings, fmt.Sprintf("Provider %s concurrency (%d) exceeds its buffer size (%d)",
				p, pc.RequestLimit.MaxConcurrencyNumber, pc.RequestLimit.RequestBufferSize))
		}
	}

	return warnings
}

// UsesCookies reports whether p authenticates with stored cookies.
func UsesCookies(p models.Provider) bool {
	return p == models.ProviderBilibili || p == models.ProviderNetease
}

// LoggerOptions converts the logging section into logger options.
func LoggerOptions(config *Config) utils.LoggerOptions {
	return utils.LoggerOptions{
		Development:      config.Logging.Format == "console",
		Level:            utils.ParseLevel(config.Logging.Level),
		OutputPaths:      config.Logging.OutputPaths,
		ErrorOutputPaths: config.Logging.ErrorOutputPaths,
	}
}
