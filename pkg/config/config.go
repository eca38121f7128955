package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP listen address, e.g. ":8080"
	Address string `env:"ADDRESS" envDefault:":8080"`

	// MaxImages bounds how many photos one session may stage at once.
	MaxImages int `env:"MAX_IMAGES" envDefault:"50"`

	// MaxDimension bounds the longer side of a transcoded slide in pixels.
	MaxDimension int `env:"MAX_DIMENSION" envDefault:"1920"`

	// JPEGQuality for re-encoding lossy sources, 1-100.
	JPEGQuality int `env:"JPEG_QUALITY" envDefault:"85"`

	// ConverterURL base URL of the deck conversion service.
	ConverterURL string `env:"CONVERTER_URL"`

	// ConverterTimeoutSeconds request timeout for conversion calls.
	ConverterTimeoutSeconds int `env:"CONVERTER_TIMEOUT_SECONDS" envDefault:"120"`

	// SessionTTLMinutes idle lifetime of a staging session.
	SessionTTLMinutes int `env:"SESSION_TTL_MINUTES" envDefault:"30"`

	// LogLevel zerolog level name: trace, debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// ConverterTimeout returns the conversion request timeout as a duration.
func (c Config) ConverterTimeout() time.Duration {
	return time.Duration(c.ConverterTimeoutSeconds) * time.Second
}

// SessionTTL returns the session idle lifetime as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Load loads .env (if present) and parses environment variables into Config.
func Load() (Config, error) {
	// Load .env if available; ignore error if file does not exist
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxImages <= 0 {
		return errors.New("MAX_IMAGES must be positive")
	}
	if c.MaxDimension <= 0 {
		return errors.New("MAX_DIMENSION must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("JPEG_QUALITY must be within 1..100")
	}
	if c.ConverterURL == "" {
		return errors.New("CONVERTER_URL is required")
	}
	if c.SessionTTLMinutes <= 0 {
		return errors.New("SESSION_TTL_MINUTES must be positive")
	}
	return nil
}
