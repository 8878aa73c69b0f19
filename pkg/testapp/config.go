package testapp

import (
	"fmt"
	"os"

	"github.com/mstoykov/envconfig"
)

// Config is the environment of the fixture binary.
type Config struct {
	Addr         string `envconfig:"FIXTURE_ADDR"`
	DebugEnabled bool   `envconfig:"FIXTURE_DEBUG_ENABLED"`
}

// DefaultConfig serves on the address the verifier targets by default.
func DefaultConfig() Config {
	return Config{Addr: "localhost:5173"}
}

// LoadConfig applies the variables returned by lookup on top of the defaults.
func LoadConfig(lookup func(key string) (string, bool)) (Config, error) {
	conf := DefaultConfig()
	if err := envconfig.Process("", &conf, lookup); err != nil {
		return conf, fmt.Errorf("failed to read environment: %w", err)
	}
	if conf.Addr == "" {
		return conf, fmt.Errorf("FIXTURE_ADDR must not be empty")
	}
	return conf, nil
}

// LoadConfigFromEnv reads the fixture configuration from the process environment.
func LoadConfigFromEnv() (Config, error) {
	return LoadConfig(os.LookupEnv)
}

// Options returns the fixture behaviour selected by the environment.
func (c Config) Options() Options {
	return Options{DebugEnabled: c.DebugEnabled}
}
