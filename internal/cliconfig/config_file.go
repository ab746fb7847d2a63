package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DataDir        string `toml:"data"`
	Topology       string `toml:"config"`
	Command        string `toml:"cmd"`
	BasePort       int    `toml:"base_port"`
	RelayerVariant string `toml:"relayer"`
	Quiet          *bool  `toml:"quiet"`
	Metrics        *bool  `toml:"metrics"`
	LogLevel       string `toml:"log_level"`
	NoColor        *bool  `toml:"no_color"`
	Timeout        string `toml:"timeout"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.localnet/config.toml, or "" without a home directory.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".localnet", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data", fc.DataDir, &cfg.DataDir)
	s.setString("config", fc.Topology, &cfg.Topology)
	s.setString("cmd", fc.Command, &cfg.Command)
	s.setString("relayer", fc.RelayerVariant, &cfg.RelayerVariant)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setInt("base-port", fc.BasePort, &cfg.BasePort)

	if err := s.setDuration("timeout", fc.Timeout, &cfg.Timeout); err != nil {
		return err
	}

	s.setBool("quiet", fc.Quiet, &cfg.Quiet)
	s.setBool("metrics", fc.Metrics, &cfg.Metrics)
	s.setBool("no-color", fc.NoColor, &cfg.NoColor)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
