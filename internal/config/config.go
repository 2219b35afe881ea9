package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	CallTimeoutSeconds     int    `env:"CALL_TIMEOUT_SECONDS" envDefault:"30"`
	StaleCallAfterSeconds  int    `env:"STALE_CALL_AFTER_SECONDS" envDefault:"120"`
	MessageRateLimitPerMin int    `env:"MESSAGE_RATE_LIMIT_PER_MIN" envDefault:"120"`
	CallRateLimitPerMin    int    `env:"CALL_RATE_LIMIT_PER_MIN" envDefault:"20"`
	ConnectRateLimitPerMin int    `env:"CONNECT_RATE_LIMIT_PER_MIN" envDefault:"30"`
	WSAllowedOrigins       string `env:"WS_ALLOWED_ORIGINS" envDefault:""`
	HSTSEnabled            bool   `env:"HSTS_ENABLED" envDefault:"false"`
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

func (c *Config) StaleCallAfter() time.Duration {
	return time.Duration(c.StaleCallAfterSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AllowedOrigins returns the websocket origin allow list. An empty list accepts any origin.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.WSAllowedOrigins) == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(c.WSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *Config) Validate() error {
	if c.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("CALL_TIMEOUT_SECONDS must be positive")
	}
	if c.StaleCallAfterSeconds < c.CallTimeoutSeconds {
		return fmt.Errorf("STALE_CALL_AFTER_SECONDS must not be shorter than CALL_TIMEOUT_SECONDS")
	}
	if c.MessageRateLimitPerMin <= 0 || c.CallRateLimitPerMin <= 0 || c.ConnectRateLimitPerMin <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	if c.RedisURL == "" {
		log.Warn().Msg("REDIS_URL is empty: fan-out and rate limiting are local to this instance")
	} else if strings.HasPrefix(c.RedisURL, "redis://") {
		log.Debug().Msg("REDIS_URL uses redis:// (not TLS)")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
