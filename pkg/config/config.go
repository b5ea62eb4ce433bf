package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v2"

	"github.com/go-delve/tlsvar/pkg/proc"
)

const (
	configDir       string = ".tlsvar"
	configDirXdg    string = "tlsvar"
	configFile      string = "config.yml"
	defaultCacheLen int    = 128
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Target overrides the target triple (goos/goarch) recorded in the
	// snapshot, selecting a different TLS ABI.
	Target string `yaml:"target,omitempty"`

	// CacheSize is the number of resolved addresses remembered during a
	// single stop.
	CacheSize *int `yaml:"cache-size,omitempty"`

	// DisableCache turns off memoization of resolved addresses entirely.
	DisableCache bool `yaml:"disable-cache"`
}

// GetCacheSize returns the configured cache size or its default.
func (c *Config) GetCacheSize() int {
	if c == nil || c.CacheSize == nil {
		return defaultCacheLen
	}
	return *c.CacheSize
}

// Validate reports every option of c that tlsvar cannot honor.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Target != "" {
		if _, err := proc.TargetPtrSize(c.Target); err != nil {
			result = multierror.Append(result, fmt.Errorf("target: %v", err))
		}
	}
	if c.CacheSize != nil && *c.CacheSize < 0 {
		result = multierror.Append(result, fmt.Errorf("cache-size: must not be negative, got %d", *c.CacheSize))
	}
	for cmd, aliases := range c.Aliases {
		for _, alias := range aliases {
			if alias == "" || strings.ContainsAny(alias, " \t") {
				result = multierror.Append(result, fmt.Errorf("aliases: %q is not a valid alias for %s", alias, cmd))
			}
		}
	}
	return result.ErrorOrNil()
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// A missing file is replaced by the default one.
func LoadConfig() (*Config, error) {
	if err := createConfigPath(); err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	data, err := ioutil.ReadFile(fullConfigFile)
	if os.IsNotExist(err) {
		data = []byte(defaultConfig)
		err = ioutil.WriteFile(fullConfigFile, data, 0600)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	} else if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	c, err := parseConfig(data)
	if err != nil {
		return &Config{}, fmt.Errorf("%s: %v", fullConfigFile, err)
	}
	return c, nil
}

func parseConfig(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Aliases == nil {
		c.Aliases = make(map[string][]string)
	}
	return c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := conf.Validate(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fullConfigFile, out, 0600)
}

const defaultConfig = `# Configuration file for tlsvar.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Select the TLS ABI regardless of the target recorded in the snapshot.
# target: linux/amd64

# Number of resolved addresses remembered while the target is stopped.
# cache-size: 128

# Uncomment the following line to resolve every variable from scratch.
# disable-cache: true
`

func createConfigPath() error {
	dir, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/tlsvar is preferred over ~/.tlsvar.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirXdg, file), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, configDir, file), nil
}
