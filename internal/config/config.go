// Package config loads and validates the MediaBus daemon bootstrap
// configuration. It applies defaults so the daemon can rely on fully
// populated values. This is distinct from internal/store.HostSettings,
// which the host UI mutates at runtime; this package only covers what
// must be known before the first listener binds.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the mediabus.yaml schema.
type Config struct {
	Log      LogConfig  `yaml:"log"`
	DataDir  string     `yaml:"data_dir"`
	HTTP     HTTPConfig `yaml:"http"`
	MdnsName string     `yaml:"mdns_name"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HTTPConfig holds the fixed-port HTTPS listener settings. Port is
// overridable only for tests; production defaults to 8443 per spec.
type HTTPConfig struct {
	Port        int `yaml:"port"`
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// Load reads a YAML config file, applies defaults, and validates it.
// It returns a fully populated Config or a descriptive error.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	if err := validate(&c); err != nil {
		return Config{}, err
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.MdnsName = strings.TrimSpace(c.MdnsName)
	return c, nil
}

// applyDefaults populates zero-values with sane defaults.
func applyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8443
	}
	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = 4096
	}
	if c.MdnsName == "" {
		c.MdnsName = "mediabus"
	}
}

// validate performs basic sanity checks for required fields and ranges.
// It does not mutate the config.
func validate(c *Config) error {
	if strings.TrimSpace(c.Log.Level) == "" {
		return errors.New("log.level is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	if c.HTTP.MaxUploadMB < 1 || c.HTTP.MaxUploadMB > 102400 {
		return errors.New("http.max_upload_mb is invalid")
	}
	if strings.TrimSpace(c.MdnsName) == "" {
		return errors.New("mdns_name is required")
	}
	_ = filepath.Clean(c.DataDir)
	return nil
}
