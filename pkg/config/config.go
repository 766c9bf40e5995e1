// Package config loads the secure element tool settings from a TOML file.
//
// Example file:
//
//	reader = "ACS ACR39U ICC Reader 00 00"
//	log_level = "debug"
//	max_continuations = 16
//
//	[apps]
//	"com.example.wallet" = "AABBCCDDEEFF00112233445566778899AABBCCDD"
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gregLibert/secure-element/pkg/arf"
	"github.com/gregLibert/secure-element/pkg/channel"
	"github.com/gregLibert/secure-element/pkg/iso7816"
	"github.com/gregLibert/secure-element/pkg/tlv"
	"github.com/rs/zerolog"
)

// Config holds the runtime settings.
type Config struct {
	// Reader is the PC/SC reader name. Empty selects the first reader.
	Reader string

	LogLevel zerolog.Level

	// MaxContinuations bounds the 61XX/6CXX follow-ups of one command.
	MaxContinuations int

	// Apps maps application IDs to their certificate hashes.
	Apps map[string][]byte
}

type fileConfig struct {
	Reader           string            `toml:"reader"`
	LogLevel         string            `toml:"log_level"`
	MaxContinuations int               `toml:"max_continuations"`
	Apps             map[string]string `toml:"apps"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		LogLevel:         zerolog.InfoLevel,
		MaxContinuations: iso7816.DefaultMaxContinuations,
		Apps:             map[string][]byte{},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return fromFile(raw, meta)
}

// Parse is Load for in-memory content.
func Parse(content string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(content, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return fromFile(raw, meta)
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}

	cfg := Default()

	if meta.IsDefined("reader") {
		cfg.Reader = strings.TrimSpace(raw.Reader)
	}

	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("max_continuations") {
		cfg.MaxContinuations = raw.MaxContinuations
	}

	for app, value := range raw.Apps {
		hash, err := tlv.ParseHex(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse apps.%s: %w", app, err)
		}
		cfg.Apps[strings.TrimSpace(app)] = hash
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.MaxContinuations <= 0 {
		return fmt.Errorf("max_continuations must be positive, got %d", c.MaxContinuations)
	}
	for app, hash := range c.Apps {
		if app == "" {
			return fmt.Errorf("apps: empty application id")
		}
		if len(hash) != arf.HashSize {
			return fmt.Errorf("apps.%s: certificate hash is %d bytes, want %d", app, len(hash), arf.HashSize)
		}
	}
	return nil
}

// Resolver returns the configured application hashes as a HashResolver.
func (c Config) Resolver() channel.StaticResolver {
	return channel.StaticResolver(c.Apps)
}

// Logger builds a console logger writing to w at the configured level.
// A trace level also lowers the zerolog global level, which filters
// trace events by default.
func (c Config) Logger(w io.Writer, app string) zerolog.Logger {
	if c.LogLevel < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(c.LogLevel)
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(c.LogLevel).With().Timestamp().Str("app", app).Logger()
}
