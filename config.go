package mpv

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is the file LoadConfig reads when given an empty path.
const DefaultConfigFile = "mpvctl.toml"

// Config represents the mpvctl.toml configuration file
type Config struct {
	Library LibraryConfig `toml:"library"`
	Client  ClientConfig  `toml:"client"`
	// Options are set as properties on a new core before Initialize, for
	// example volume = 50 or vo = "null".
	Options map[string]any `toml:"options"`
	// Observe lists properties the CLI watches.
	Observe []string       `toml:"observe"`
	Log     LogConfig      `toml:"log"`
	Metrics MetricsSection `toml:"metrics"`
	Remote  RemoteConfig   `toml:"remote"`
}

type LibraryConfig struct {
	// Path to libmpv. Empty searches MPV_LIB_PATH and the system paths.
	Path string `toml:"path"`
}

type ClientConfig struct {
	// Name of the client created for scripts.
	Name string `toml:"name"`
	// Weak clients do not keep the core alive.
	Weak bool `toml:"weak"`
}

type LogConfig struct {
	// MPVLevel is the level requested with RequestLogMessages ("no" disables).
	MPVLevel string `toml:"mpv_level"`
	// Level of the host logger: debug, info, warn or error.
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

type MetricsSection struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

type RemoteConfig struct {
	// Listen is the address of the HTTP control server.
	Listen string `toml:"listen"`
	// TracerName names the OpenTelemetry tracer of the server.
	TracerName string `toml:"tracer_name"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			Name: "mpvctl",
		},
		Options: map[string]any{},
		Observe: []string{"pause", "volume"},
		Log: LogConfig{
			MPVLevel: "warn",
			Level:    "info",
			Format:   "text",
		},
		Metrics: MetricsSection{
			Enabled:   true,
			Namespace: "mpv",
		},
		Remote: RemoteConfig{
			Listen:     "127.0.0.1:8765",
			TracerName: "mpvctl",
		},
	}
}

// LoadConfig loads the configuration from path, or DefaultConfigFile when
// path is empty. A missing file yields the default configuration.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Apply defaults for empty values
	if config.Options == nil {
		config.Options = map[string]any{}
	}
	if config.Client.Name == "" {
		config.Client.Name = "mpvctl"
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "mpv"
	}
	return config, nil
}

// SaveConfig writes config to path
func SaveConfig(path string, config Config) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// ClientOptions returns the options New needs for this configuration.
func (c Config) ClientOptions() []Option {
	var opts []Option
	if c.Library.Path != "" {
		opts = append(opts, WithLibraryPath(c.Library.Path))
	}
	return opts
}

// Apply sets every entry of Options on client, in key order.
func (c Config) Apply(client *Client) error {
	keys := make([]string, 0, len(c.Options))
	for k := range c.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		n, err := NodeOf(c.Options[k])
		if err != nil {
			return fmt.Errorf("option %s: %w", k, err)
		}
		if err := SetProperty(client, k, n); err != nil {
			return fmt.Errorf("option %s: %w", k, err)
		}
	}
	return nil
}
