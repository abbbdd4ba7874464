package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the kiosk configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Engine  EngineConfig  `yaml:"engine" toml:"engine"`
	Light   LightConfig   `yaml:"light" toml:"light"`
	Display DisplayConfig `yaml:"display" toml:"display"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port        int           `yaml:"port" toml:"port"`
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	// WriteTimeout of zero leaves event streams open for the whole run.
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	PublicDir    string        `yaml:"public_dir" toml:"public_dir"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys" toml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name" toml:"name"`
	Key  string `yaml:"key" toml:"key"`
}

// EngineConfig contains audit engine settings
type EngineConfig struct {
	Command    string   `yaml:"command" toml:"command"`
	Args       []string `yaml:"args" toml:"args"`
	Dir        string   `yaml:"dir" toml:"dir"`
	ChromePath string   `yaml:"chrome_path" toml:"chrome_path"`
	Output     string   `yaml:"output" toml:"output"`           // html or json
	OutputPath string   `yaml:"output_path" toml:"output_path"` // report location
	LogLevel   string   `yaml:"log_level" toml:"log_level"`     // engine's own verbosity
	Headless   bool     `yaml:"headless" toml:"headless"`
}

// LightConfig contains LED bulb settings
type LightConfig struct {
	Enabled     bool          `yaml:"enabled" toml:"enabled"`
	Device      string        `yaml:"device" toml:"device"` // empty: log frames only
	PulsePeriod time.Duration `yaml:"pulse_period" toml:"pulse_period"`
	IdleOff     time.Duration `yaml:"idle_off" toml:"idle_off"`
}

// DisplayConfig contains score display settings
type DisplayConfig struct {
	AutoReset time.Duration `yaml:"auto_reset" toml:"auto_reset"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json or text
}

// Load reads and parses the configuration file. An empty path yields the
// defaults. Files ending in .toml are parsed as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand environment variables in the config
		expanded := os.ExpandEnv(string(data))

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		default:
			if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills unset fields
func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.PublicDir == "" {
		cfg.Server.PublicDir = "./public"
	}
	if cfg.Engine.Command == "" {
		cfg.Engine.Command = "node"
		if len(cfg.Engine.Args) == 0 {
			cfg.Engine.Args = []string{"index.js"}
		}
	}
	if cfg.Engine.ChromePath == "" {
		cfg.Engine.ChromePath = os.Getenv("CHROME_PATH")
	}
	if cfg.Engine.Output == "" {
		cfg.Engine.Output = "html"
	}
	if cfg.Engine.OutputPath == "" {
		cfg.Engine.OutputPath = filepath.Join(cfg.Server.PublicDir, "results.html")
	}
	if cfg.Engine.LogLevel == "" {
		cfg.Engine.LogLevel = "info"
	}
	if cfg.Light.PulsePeriod == 0 {
		cfg.Light.PulsePeriod = 2 * time.Second
	}
	if cfg.Light.IdleOff == 0 {
		cfg.Light.IdleOff = 10 * time.Second
	}
	if cfg.Display.AutoReset == 0 {
		cfg.Display.AutoReset = 2 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
