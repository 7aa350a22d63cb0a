// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package config loads the client configuration.
//
// Configuration is read from a TOML file and then overridden by environment
// variables prefixed with UNISON_, for example UNISON_JID or
// UNISON_LOG_LEVEL.
// Variables may also be set in a .env file which is loaded before the
// environment is read.
package config // import "mellium.im/unison/config"

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"mellium.im/unison"
)

// EnvPrefix is the prefix of environment variables that override the file.
const EnvPrefix = "unison"

// Errors returned by Validate.
var (
	ErrNoJID       = errors.New("config: no jid configured")
	ErrKeepAlive   = errors.New("config: keepalive timeout must be shorter than the interval")
	ErrNegativeDur = errors.New("config: durations must not be negative")
)

// Log contains logging settings.
type Log struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Config is the client configuration.
type Config struct {
	JID      string `toml:"jid"`
	Password string `toml:"password"`
	Resource string `toml:"resource"`

	// Host overrides the server address looked up from the JID.
	Host  string `toml:"host"`
	NoTLS bool   `toml:"no_tls" split_words:"true"`

	AutoReconnect     bool     `toml:"auto_reconnect" split_words:"true"`
	KeepAliveInterval Duration `toml:"keepalive_interval" envconfig:"KEEPALIVE_INTERVAL"`
	KeepAliveTimeout  Duration `toml:"keepalive_timeout" envconfig:"KEEPALIVE_TIMEOUT"`

	// HistoryDB is the path of the delivery log database.
	// If empty, no delivery log is kept.
	HistoryDB string `toml:"history_db" split_words:"true"`

	Log Log `toml:"log"`
}

// Default returns the configuration used for any value not set in the file or
// the environment.
func Default() Config {
	return Config{
		Resource:          "unison",
		AutoReconnect:     true,
		KeepAliveInterval: Duration(time.Minute),
		KeepAliveTimeout:  Duration(20 * time.Second),
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path, if any, and applies environment
// overrides.
// If envFile is not empty and exists it is loaded into the environment first;
// variables already set in the environment take precedence over it.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("config: error opening %s: %w", path, err)
		}
		err = Decode(f, &cfg)
		/* #nosec */
		f.Close()
		if err != nil {
			return cfg, fmt.Errorf("config: error parsing %s: %w", path, err)
		}
	}

	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: error loading %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config: unable to read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Decode reads TOML from r into cfg.
// Keys that are not present leave the existing values in cfg untouched.
func Decode(r io.Reader, cfg *Config) error {
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return nil
}

// Encode writes cfg to w as TOML.
func Encode(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Validate reports whether the configuration can be used to connect.
func (c Config) Validate() error {
	switch {
	case c.JID == "":
		return ErrNoJID
	case c.KeepAliveInterval < 0 || c.KeepAliveTimeout < 0:
		return ErrNegativeDur
	case c.KeepAliveInterval > 0 && c.KeepAliveTimeout >= c.KeepAliveInterval:
		return ErrKeepAlive
	}
	return nil
}

// Client returns the connection configuration for a unison.Client.
func (c Config) Client() unison.Config {
	return unison.Config{
		JID:               c.JID,
		Password:          c.Password,
		Resource:          c.Resource,
		Host:              c.Host,
		NoTLS:             c.NoTLS,
		AutoReconnect:     c.AutoReconnect,
		KeepAliveInterval: time.Duration(c.KeepAliveInterval),
		KeepAliveTimeout:  time.Duration(c.KeepAliveTimeout),
	}
}
