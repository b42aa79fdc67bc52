package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// RingTimeout is how long an unanswered outgoing call rings before the
	// caller's session is torn down as unreachable.
	RingTimeout time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`
	// RegisterDebounce suppresses repeated registrations for the same
	// identity within this window.
	RegisterDebounce time.Duration `mapstructure:"register_debounce" yaml:"register_debounce"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "signal.db",
		LogLevel:          "info",
		RingTimeout:       30 * time.Second,
		RegisterDebounce:  3 * time.Second,
		JWTSecret:         "change-me",
		JWTIssuer:         "signal-server",
		JWTAudience:       "signal-client",
	}
}
