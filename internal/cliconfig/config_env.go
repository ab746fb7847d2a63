package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "LOCALNET_"

// ApplyEnvConfig applies configuration from environment variables (LOCALNET_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data", os.Getenv(EnvPrefix+"DATA"), &cfg.DataDir)
	s.setString("config", os.Getenv(EnvPrefix+"CONFIG"), &cfg.Topology)
	s.setString("cmd", os.Getenv(EnvPrefix+"CMD"), &cfg.Command)
	s.setString("relayer", os.Getenv(EnvPrefix+"RELAYER"), &cfg.RelayerVariant)
	s.setString("log-level", os.Getenv(EnvPrefix+"LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setIntFromString("base-port", os.Getenv(EnvPrefix+"BASE_PORT"), &cfg.BasePort); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv(EnvPrefix+"TIMEOUT"), &cfg.Timeout); err != nil {
		return err
	}

	s.setBoolFromString("quiet", os.Getenv(EnvPrefix+"QUIET"), &cfg.Quiet)
	s.setBoolFromString("metrics", os.Getenv(EnvPrefix+"METRICS"), &cfg.Metrics)
	s.setBoolFromString("no-color", os.Getenv(EnvPrefix+"NO_COLOR"), &cfg.NoColor)

	return nil
}
