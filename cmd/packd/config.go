package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// configEnv names the environment variable holding the default config path.
const configEnv = "PACKD_CONFIG"

// Config is the on-disk TOML configuration. Command-line flags override it.
type Config struct {
	Store  StoreConfig  `toml:"store"`
	Decode DecodeConfig `toml:"decode"`
	Log    LogConfig    `toml:"log"`
	Fetch  FetchConfig  `toml:"fetch"`
}

type StoreConfig struct {
	// Kind is loose, bolt or memory.
	Kind string `toml:"kind"`
	Path string `toml:"path"`
}

type DecodeConfig struct {
	// Workers bounds delta resolution; 0 means GOMAXPROCS.
	Workers int `toml:"workers"`
	// MemoryLimit is the in-memory object cache budget in bytes; 0 means
	// unbounded.
	MemoryLimit  int64  `toml:"memory_limit"`
	SpillDir     string `toml:"spill_dir"`
	ChannelDepth int    `toml:"channel_depth"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

type FetchConfig struct {
	Attempts int    `toml:"attempts"`
	Token    string `toml:"token"`
}

func defaultConfig() Config {
	return Config{
		Store:  StoreConfig{Kind: "loose", Path: "."},
		Decode: DecodeConfig{ChannelDepth: 64},
		Log:    LogConfig{Level: "info", Format: "text"},
		Fetch:  FetchConfig{Attempts: 3},
	}
}

// loadConfig reads path over the defaults. An empty path falls back to
// $PACKD_CONFIG; with neither set the defaults are returned.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	explicit := path != ""
	if !explicit {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Kind {
	case "loose", "bolt", "memory":
	default:
		return fmt.Errorf("store.kind %q: want loose, bolt or memory", c.Store.Kind)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	if c.Decode.Workers < 0 || c.Decode.MemoryLimit < 0 || c.Decode.ChannelDepth < 0 {
		return errors.New("decode settings must not be negative")
	}
	return nil
}
