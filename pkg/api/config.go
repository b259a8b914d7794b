package api

import "time"

// EnvJWTSecret overrides APIConfig.JWT.Secret.
const EnvJWTSecret = "FLASHWEAR_API_JWT_SECRET"

// APIConfig configures the REST API HTTP server.
type APIConfig struct {
	// Enabled controls whether the API server is started.
	// A pointer distinguishes "not set" (enabled) from "explicitly false".
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`

	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// Default: 10s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// Default: 10s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds a single handler, maintenance included.
	// Default: 5m
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures operator tokens.
type JWTConfig struct {
	// Secret is the HMAC signing key. Mutating routes are disabled while
	// it is empty.
	Secret string `mapstructure:"secret" validate:"omitempty,min=32" yaml:"secret"`

	// Default: "flashwear"
	Issuer string `mapstructure:"issuer" yaml:"issuer"`

	// TokenDuration is the lifetime of tokens minted by 'flashwear token'.
	// Default: 24h
	TokenDuration time.Duration `mapstructure:"token_duration" yaml:"token_duration"`
}

// IsEnabled returns whether the API server is enabled.
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// ApplyDefaults fills in zero values.
func (c *APIConfig) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Minute
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "flashwear"
	}
	if c.JWT.TokenDuration == 0 {
		c.JWT.TokenDuration = 24 * time.Hour
	}
}
