// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package config loads client configuration from a TOML file and the
// environment.
//
// Values are read from the file first, then overridden by environment
// variables prefixed with XCLIENT_, for example XCLIENT_SM_ACK_THRESHOLD or
// XCLIENT_LOG_LEVEL.
package config // import "mellium.im/xclient/config"

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"mellium.im/xclient"
	"mellium.im/xclient/mux"
	"mellium.im/xclient/sm"
	"mellium.im/xclient/store"
)

// EnvPrefix is prepended to the name of every environment variable.
const EnvPrefix = "XCLIENT_"

// Config is the complete client configuration.
type Config struct {
	Session Session `toml:"session" envPrefix:"SESSION_"`
	SM      SM      `toml:"sm" envPrefix:"SM_"`
	Store   Store   `toml:"store" envPrefix:"STORE_"`
	Log     Log     `toml:"log" envPrefix:"LOG_"`
}

// Session configures the session core.
type Session struct {
	RequestTimeout   time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	DuplicateModules string        `toml:"duplicate_modules" env:"DUPLICATE_MODULES"`
}

// SM configures stream management.
type SM struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`
	Resume  bool `toml:"resume" env:"RESUME"`

	// MaxResume is the resumption timeout to request, in seconds.
	MaxResume        int           `toml:"max_resume" env:"MAX_RESUME"`
	AckThreshold     uint32        `toml:"ack_threshold" env:"ACK_THRESHOLD"`
	RequestThreshold int           `toml:"request_threshold" env:"REQUEST_THRESHOLD"`
	RequestInterval  time.Duration `toml:"request_interval" env:"REQUEST_INTERVAL"`
	AnswerDelay      time.Duration `toml:"answer_delay" env:"ANSWER_DELAY"`
}

// Store configures where resumption state is kept.
// An empty path keeps state in memory.
type Store struct {
	Path string `toml:"path" env:"PATH"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level" env:"LEVEL"`
}

// Default returns the configuration used for values that are not set.
func Default() Config {
	return Config{
		Session: Session{
			RequestTimeout:   xclient.DefaultRequestTimeout,
			DuplicateModules: mux.Overwrite.String(),
		},
		SM: SM{
			Enabled:          true,
			Resume:           true,
			AckThreshold:     sm.DefaultAckThreshold,
			RequestThreshold: sm.DefaultRequestThreshold,
			RequestInterval:  sm.DefaultRequestInterval,
			AnswerDelay:      sm.DefaultAnswerDelay,
		},
		Log: Log{
			Level: zerolog.InfoLevel.String(),
		},
	}
}

// Load reads the file at path over the defaults, applies environment overrides
// and validates the result.
// If path is empty only the defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse failed (%s): %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overrides cfg from environment variables.
func ParseEnv(cfg *Config) error {
	err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
	if err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// Validate reports every invalid value in the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.Session.RequestTimeout <= 0 {
		errs = append(errs, errors.New("session.request_timeout must be positive"))
	}
	if _, err := mux.ParsePolicy(c.Session.DuplicateModules); err != nil {
		errs = append(errs, fmt.Errorf("session.duplicate_modules: %w", err))
	}
	if c.SM.MaxResume < 0 {
		errs = append(errs, errors.New("sm.max_resume must not be negative"))
	}
	if c.SM.AckThreshold == 0 {
		errs = append(errs, errors.New("sm.ack_threshold must be positive"))
	}
	if c.SM.RequestThreshold < 0 {
		errs = append(errs, errors.New("sm.request_threshold must not be negative"))
	}
	if c.SM.RequestInterval < 0 {
		errs = append(errs, errors.New("sm.request_interval must not be negative"))
	}
	if c.SM.AnswerDelay < 0 {
		errs = append(errs, errors.New("sm.answer_delay must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// Level returns the configured log level.
// Unknown levels have already been rejected by Validate and fall back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// MaxResume returns the configured resumption timeout.
func (c Config) MaxResume() time.Duration {
	return time.Duration(c.SM.MaxResume) * time.Second
}

// SessionOptions returns the session options described by the configuration.
// The logger is passed through unchanged.
func (c Config) SessionOptions(log zerolog.Logger) []xclient.Option {
	policy, err := mux.ParsePolicy(c.Session.DuplicateModules)
	if err != nil {
		policy = mux.Overwrite
	}
	return []xclient.Option{
		xclient.Logger(log.Level(c.Level())),
		xclient.RequestTimeout(c.Session.RequestTimeout),
		xclient.DuplicatePolicy(policy),
	}
}

// SMOptions returns the stream management options described by the
// configuration.
func (c Config) SMOptions() []sm.Option {
	return []sm.Option{
		sm.AckThreshold(c.SM.AckThreshold),
		sm.RequestThreshold(c.SM.RequestThreshold),
		sm.RequestInterval(c.SM.RequestInterval),
		sm.AnswerDelay(c.SM.AnswerDelay),
		sm.MaxResumption(c.MaxResume()),
	}
}

// OpenStore opens the configured resumption store.
// The returned close function must be called when the store is no longer
// used.
func (c Config) OpenStore() (store.Store, func() error, error) {
	if c.Store.Path == "" {
		return &store.Memory{}, func() error { return nil }, nil
	}
	db, err := store.OpenSQLite(c.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

// Engine returns a stream management engine configured by c that persists its
// state in st under key.
// If stream management is disabled Engine returns nil.
func (c Config) Engine(st store.Store, key string) *sm.Engine {
	if !c.SM.Enabled {
		return nil
	}
	opts := c.SMOptions()
	if st != nil {
		opts = append(opts, sm.Store(st, key))
	}
	return sm.New(opts...)
}

// Enable asks the peer to enable stream management on e, requesting
// resumption if it is configured.
func (c Config) Enable(e *sm.Engine, cb func(id string, err error)) {
	e.Enable(c.SM.Resume, c.MaxResume(), cb)
}
