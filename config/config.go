package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration of the fee engine tooling.
type Config struct {
	DataDir            string       `toml:"DataDir"`
	Environment        string       `toml:"Environment"`
	LogLevel           string       `toml:"LogLevel"`
	LogFile            string       `toml:"LogFile,omitempty"`
	VerifyConservation bool         `toml:"VerifyConservation"`
	MetricsAddress     string       `toml:"MetricsAddress,omitempty"`
	Amortization       Amortization `toml:"amortization"`
	Telemetry          Telemetry    `toml:"telemetry"`
}

// Default returns the configuration written for a fresh install.
func Default() *Config {
	return &Config{
		DataDir:            "./feepools-data",
		Environment:        "local",
		LogLevel:           "info",
		VerifyConservation: true,
		Amortization: Amortization{
			Strategy:      StrategyEra,
			UniformEpochs: 1000,
		},
		Telemetry: Telemetry{
			ServiceName: "feepools",
			Endpoint:    "localhost:4318",
			Insecure:    true,
		},
	}
}

// Load loads the configuration from the given path, writing the default
// configuration there first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Environment = strings.TrimSpace(c.Environment)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Amortization.Strategy = strings.ToLower(strings.TrimSpace(c.Amortization.Strategy))
	if c.Amortization.Strategy == "" {
		c.Amortization.Strategy = StrategyEra
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
