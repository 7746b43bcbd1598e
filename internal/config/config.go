// internal/config/config.go
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the shared operational surface of both server roles, read from
// the environment (a .env file is autoloaded by the binaries).
type Config struct {
	// Port the WebSocket listener binds to.
	Port int `env:"PORT" envDefault:"9090"`

	// Secret is the HS256 shared secret for login and join tokens.
	Secret string `env:"JWT_SECRET" envDefault:"secret"`

	// Issuers accepted on inbound login tokens.
	Issuers []string `env:"JWT_ISSUERS" envDefault:"tic_tac_toe_auth,tic_tac_toe_matchmaker"`

	// SignIssuer stamped on join tokens the matchmaking server signs.
	SignIssuer string `env:"JWT_SIGN_ISSUER" envDefault:"tic_tac_toe_matchmaker"`

	// TickMS overrides the role's default tick period when positive.
	TickMS int `env:"TICK_MS" envDefault:"0"`

	// LogLevel is a logrus level name (trace, debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL enables the pgx result store when set.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisAddr enables the Redis event journal when set.
	RedisAddr string `env:"REDIS_ADDR"`

	// RedisDB selects the Redis database for the journal.
	RedisDB int `env:"REDIS_DB" envDefault:"0"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
