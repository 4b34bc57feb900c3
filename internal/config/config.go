// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads exthost configuration. Values are layered:
// built-in defaults, then the YAML config file, then command-line flags.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/location"
)

// Config is the complete exthost configuration.
type Config struct {
	Log           LogConfig        `koanf:"log"`
	Extensions    ExtensionsConfig `koanf:"extensions"`
	Hosts         HostsConfig      `koanf:"hosts"`
	Heartbeat     HeartbeatConfig  `koanf:"heartbeat"`
	MetricsAddr   string           `koanf:"metrics_addr"`
	EngineVersion string           `koanf:"engine_version"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// ExtensionsConfig says where extensions are installed.
type ExtensionsConfig struct {
	Dirs []string `koanf:"dirs"`
	// DevPaths are extension directories loaded in development mode.
	DevPaths          []string `koanf:"dev_paths"`
	EnableProposedAPI []string `koanf:"enable_proposed_api"`
}

// HostsConfig configures the execution targets.
type HostsConfig struct {
	LazyStart    bool           `koanf:"lazy_start"`
	WebWorker    string         `koanf:"web_worker"`
	Affinity     AffinityConfig `koanf:"affinity"`
	Process      ProcessConfig  `koanf:"process"`
	Remote       RemoteConfig   `koanf:"remote"`
	StartRetries uint64         `koanf:"start_retries"`
	RetryBackoff time.Duration  `koanf:"retry_backoff"`
}

// AffinityConfig partitions local-process extensions between processes.
type AffinityConfig struct {
	Shards  int      `koanf:"shards"`
	Isolate []string `koanf:"isolate"`
	// Pinned entries have the form "publisher.name=group". Extension ids
	// contain dots, so they cannot be map keys under koanf's delimiter.
	Pinned []string `koanf:"pinned"`
}

// ProcessConfig configures separate local processes.
type ProcessConfig struct {
	// Executable defaults to the running binary.
	Executable string `koanf:"executable"`
	Inspect    bool   `koanf:"inspect"`
}

// RemoteConfig configures the remote peer. Authority is the address the
// coordinator dials; Address is where remote-host listens.
type RemoteConfig struct {
	Authority   string        `koanf:"authority"`
	Address     string        `koanf:"address"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// HeartbeatConfig controls responsiveness pings. A zero interval disables
// them.
type HeartbeatConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Defaults returns the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"log.format":                     "json",
		"log.level":                      "info",
		"extensions.dirs":                []string{},
		"extensions.dev_paths":           []string{},
		"extensions.enable_proposed_api": []string{},
		"hosts.lazy_start":               false,
		"hosts.web_worker":               string(location.WebWorkerAuto),
		"hosts.affinity.shards":          1,
		"hosts.affinity.isolate":         []string{},
		"hosts.affinity.pinned":          []string{},
		"hosts.process.executable":       "",
		"hosts.process.inspect":          false,
		"hosts.remote.authority":         "",
		"hosts.remote.address":           "127.0.0.1:7420",
		"hosts.remote.dial_timeout":      "5s",
		"hosts.start_retries":            2,
		"hosts.retry_backoff":            "200ms",
		"heartbeat.interval":             "10s",
		"heartbeat.timeout":              "5s",
		"metrics_addr":                   "127.0.0.1:9120",
		"engine_version":                 "1.0.0",
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-format":          "log.format",
	"log-level":           "log.level",
	"extensions-dir":      "extensions.dirs",
	"extension-dev-path":  "extensions.dev_paths",
	"enable-proposed-api": "extensions.enable_proposed_api",
	"lazy-start":          "hosts.lazy_start",
	"web-worker":          "hosts.web_worker",
	"affinity-shards":     "hosts.affinity.shards",
	"process-executable":  "hosts.process.executable",
	"inspect":             "hosts.process.inspect",
	"remote-authority":    "hosts.remote.authority",
	"remote-address":      "hosts.remote.address",
	"metrics-addr":        "metrics_addr",
	"engine-version":      "engine_version",
}

// BindFlags registers the configuration flags on fs. Flag defaults are
// informational; only flags set explicitly override the file.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("log-format", "json", "log format (json, text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.StringSlice("extensions-dir", nil, "directory containing installed extensions (repeatable)")
	flags.StringSlice("extension-dev-path", nil, "extension directory to load in development mode (repeatable)")
	flags.StringSlice("enable-proposed-api", nil, "extension ids allowed to use proposed APIs")
	flags.Bool("lazy-start", false, "start extension hosts only when an activation needs them")
	flags.String("web-worker", string(location.WebWorkerAuto), "in-process worker availability (true, false, auto)")
	flags.Int("affinity-shards", 1, "number of local processes extensions are spread across")
	flags.String("process-executable", "", "executable used for local process hosts")
	flags.Bool("inspect", false, "start local process hosts with the inspector enabled")
	flags.String("remote-authority", "", "address of the remote extension host")
	flags.String("remote-address", "127.0.0.1:7420", "listen address for remote-host")
	flags.String("metrics-addr", "127.0.0.1:9120", "metrics and health address (empty disables)")
	flags.String("engine-version", "1.0.0", "engine version extensions are checked against")
}

// Load builds the configuration. A missing file at path is ignored unless
// required is set; flags may be nil.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.In("config").Hint("failed to load defaults").Wrap(err)
	}

	if path != "" {
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.In("config").With("path", path).Hint("failed to read config file").Wrap(err)
			}
		case errors.Is(statErr, fs.ErrNotExist) && !required:
		default:
			return nil, oops.In("config").With("path", path).Hint("config file unavailable").Wrap(statErr)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Hint("failed to apply flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Hint("invalid configuration values").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.In("config").With("log.format", c.Log.Format).Errorf("log.format must be json or text")
	}
	if _, ok := location.ParseWebWorkerMode(c.Hosts.WebWorker); !ok {
		return oops.In("config").With("hosts.web_worker", c.Hosts.WebWorker).
			Errorf("hosts.web_worker must be true, false or auto")
	}
	if c.Hosts.Affinity.Shards < 1 {
		return oops.In("config").With("hosts.affinity.shards", c.Hosts.Affinity.Shards).
			Errorf("hosts.affinity.shards must be at least 1")
	}
	for _, id := range c.Hosts.Affinity.Isolate {
		if !validID(id) {
			return oops.In("config").With("hosts.affinity.isolate", id).Errorf("isolated extension must be publisher.name")
		}
	}
	if _, err := c.pinned(); err != nil {
		return err
	}
	if c.Hosts.RetryBackoff < 0 {
		return oops.In("config").Errorf("hosts.retry_backoff must not be negative")
	}
	if c.Hosts.Remote.DialTimeout < 0 {
		return oops.In("config").Errorf("hosts.remote.dial_timeout must not be negative")
	}
	if c.Heartbeat.Interval < 0 || c.Heartbeat.Timeout < 0 {
		return oops.In("config").Errorf("heartbeat durations must not be negative")
	}
	if c.Heartbeat.Interval > 0 && c.Heartbeat.Timeout > c.Heartbeat.Interval {
		return oops.In("config").
			With("heartbeat.interval", c.Heartbeat.Interval).
			With("heartbeat.timeout", c.Heartbeat.Timeout).
			Errorf("heartbeat.timeout must not exceed heartbeat.interval")
	}
	if strings.TrimSpace(c.EngineVersion) == "" {
		return oops.In("config").Errorf("engine_version is required")
	}
	return nil
}

func (c *Config) pinned() (map[string]int, error) {
	if len(c.Hosts.Affinity.Pinned) == 0 {
		return nil, nil
	}
	out := make(map[string]int, len(c.Hosts.Affinity.Pinned))
	for _, entry := range c.Hosts.Affinity.Pinned {
		id, group, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, oops.In("config").With("hosts.affinity.pinned", entry).
				Errorf("pinned entry must be publisher.name=group")
		}
		id = strings.TrimSpace(id)
		if !validID(id) {
			return nil, oops.In("config").With("hosts.affinity.pinned", entry).
				Errorf("pinned extension must be publisher.name")
		}
		n, err := strconv.Atoi(strings.TrimSpace(group))
		if err != nil || n < 0 {
			return nil, oops.In("config").With("hosts.affinity.pinned", entry).
				Errorf("pinned group must be a non-negative integer")
		}
		out[extension.NewIdentifier(id).Key()] = n
	}
	return out, nil
}

func validID(id string) bool {
	publisher, name, ok := strings.Cut(id, ".")
	return ok && publisher != "" && name != "" && !extension.IsReservedSegmentName(name)
}

// AffinityPolicy builds the local-process partitioning policy.
func (c *Config) AffinityPolicy() location.AffinityPolicy {
	pinned, _ := c.pinned()
	return location.NewPolicy(location.PolicyConfig{
		Shards:  c.Hosts.Affinity.Shards,
		Isolate: c.Hosts.Affinity.Isolate,
		Pinned:  pinned,
	})
}

// Capabilities reports the execution targets available for descs.
func (c *Config) Capabilities(descs []*extension.Descriptor) location.Capabilities {
	mode, _ := location.ParseWebWorkerMode(c.Hosts.WebWorker)
	return location.Capabilities{
		Worker:          location.WorkerEnabled(mode, descs),
		Process:         true,
		RemoteAuthority: c.Hosts.Remote.Authority,
	}
}
