// Package config loads the settings of the fpstore tool from YAML.
package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rigado/fpstorage/accountkey"
)

type Config struct {
	// Backend is "bolt" or "json".
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	BondsFile    string `yaml:"bonds_file"`
	Capacity     int    `yaml:"capacity"`
	BondCapacity int    `yaml:"bond_capacity"`
	BondKeeping  bool   `yaml:"bond_keeping"`
	LogLevel     string `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Backend:      "bolt",
		Path:         "fpstore.db",
		BondsFile:    "bonds.json",
		Capacity:     accountkey.DefaultCapacity,
		BondCapacity: accountkey.DefaultBondCapacity,
		BondKeeping:  true,
		LogLevel:     "info",
	}
}

// Load reads filename over the defaults. Keys missing from the file keep
// their default value.
func Load(filename string) (Config, error) {
	cfg := Default()

	in, err := ioutil.ReadFile(filename)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}

	if err := yaml.Unmarshal(in, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse %s", filename)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case "bolt", "json":
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.Path == "" {
		return errors.New("path must be set")
	}
	if c.BondKeeping && c.BondsFile == "" {
		return errors.New("bonds_file must be set when bond_keeping is on")
	}
	return nil
}

// Options maps the configuration to store options.
func (c Config) Options() []accountkey.Option {
	return []accountkey.Option{
		accountkey.OptCapacity(c.Capacity),
		accountkey.OptBondCapacity(c.BondCapacity),
		accountkey.OptBondKeeping(c.BondKeeping),
	}
}
