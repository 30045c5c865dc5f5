package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:":3000"`
	GRPCPort string `envconfig:"GRPC_PORT" default:":50051"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	DBDriver          string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN             string        `envconfig:"DB_DSN" default:"builds.db"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"50"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"25"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`

	// Empty disables interaction dedupe and rate limiting.
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"20"`
	CommandRateLimit  int           `envconfig:"COMMAND_RATE_LIMIT" default:"10"`
	CommandRateWindow time.Duration `envconfig:"COMMAND_RATE_WINDOW" default:"1m"`

	UploadDir       string `envconfig:"UPLOAD_DIR" default:"public/uploads"`
	UploadURLPrefix string `envconfig:"UPLOAD_URL_PREFIX" default:"/uploads"`
	MaxUploadBytes  int64  `envconfig:"MAX_UPLOAD_BYTES" default:"8388608"`
	PublicBaseURL   string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:3000"`

	// Empty disables the Discord bot.
	DiscordToken   string `envconfig:"DISCORD_TOKEN"`
	DiscordGuildID string `envconfig:"DISCORD_GUILD_ID"`

	HealthInterval  time.Duration `envconfig:"HEALTH_INTERVAL" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DBDriver != "sqlite" && c.DBDriver != "mysql" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS must be positive and DB_MAX_IDLE_CONNS non-negative"))
	}
	if c.CommandRateLimit <= 0 || c.CommandRateWindow <= 0 {
		errs = append(errs, errors.New("COMMAND_RATE_LIMIT and COMMAND_RATE_WINDOW must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, errors.New("HEALTH_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}
