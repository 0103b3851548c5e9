// Package config loads the aggctl configuration file.
package config

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultFileName = ".aggctl.yml"
	DefaultURI      = "mongodb://localhost:27017"
	DefaultDatabase = "test"
	DefaultLogLevel = "info"
)

type Config struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	// AllowDiskUse is passed to every aggregation. Unset means true.
	AllowDiskUse *bool  `yaml:"allowDiskUse"`
	LogLevel     string `yaml:"logLevel"`
}

// DefaultPath returns the config file in the user's home directory.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "error finding home directory")
	}
	return filepath.Join(home, DefaultFileName), nil
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	conf := &Config{}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error expanding config path %q", path)
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.Wrapf(err, "error reading config file %q", path)
	default:
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, errors.Wrapf(err, "error parsing config file %q", path)
		}
	}

	conf.setDefaults()
	return conf, nil
}

func (c *Config) setDefaults() {
	if c.URI == "" {
		c.URI = DefaultURI
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.AllowDiskUse == nil {
		allow := true
		c.AllowDiskUse = &allow
	}
}
