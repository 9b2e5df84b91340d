// Package config manages bacstackd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bacstack/bacstack/internal/bacaddr"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete bacstackd configuration.
type Config struct {
	Node    NodeConfig    `koanf:"node"`
	Metrics MetricsConfig `koanf:"metrics"`
	Inspect InspectConfig `koanf:"inspect"`
	Log     LogConfig     `koanf:"log"`
}

// NodeConfig describes the BACnet/IP node this daemon runs.
type NodeConfig struct {
	// Addr is the node's own address and subnet, e.g. "192.168.7.3/24:47808".
	Addr string `koanf:"addr"`

	// Role selects which BIP layer the daemon binds: "simple", "foreign",
	// or "bbmd".
	Role string `koanf:"role"`

	// BDT lists the initial Broadcast Distribution Table entries, each
	// "ip/mask:port" (e.g. "192.168.8.3/24:47808"). Only meaningful when
	// Role is "bbmd"; the node's own /32 entry is added automatically.
	BDT []string `koanf:"bdt"`

	// Foreign holds the BBMD target and TTL used when Role is "foreign".
	Foreign ForeignConfig `koanf:"foreign"`

	// Promiscuous disables destination filtering at the transport; used
	// for passive monitoring setups.
	Promiscuous bool `koanf:"promiscuous"`

	// Spoofing permits emitting PDUs with an arbitrary source address;
	// used by conformance-test tooling.
	Spoofing bool `koanf:"spoofing"`
}

// ForeignConfig holds the BBMD-registration target for a "foreign"-role node.
type ForeignConfig struct {
	// BBMD is the remote BBMD's address, e.g. "192.168.8.3:47808".
	BBMD string `koanf:"bbmd"`

	// TTL is the registration lifetime in seconds (1..65535).
	TTL int `koanf:"ttl"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// InspectConfig holds the JSON inspection endpoint configuration, used by
// bacstackctl to query live BDT/FDT/session state.
type InspectConfig struct {
	// Addr is the HTTP listen address for the inspection endpoint (e.g., ":8080").
	Addr string `koanf:"addr"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// NodeAddr parses Node.Addr into a HostSpec (address, prefix, tuple).
func (c NodeConfig) NodeAddr() (bacaddr.HostSpec, error) {
	if c.Addr == "" {
		return bacaddr.HostSpec{}, fmt.Errorf("node.addr: %w", ErrEmptyNodeAddr)
	}
	hs, err := bacaddr.ParseHostSpec(c.Addr)
	if err != nil {
		return bacaddr.HostSpec{}, fmt.Errorf("parse node.addr %q: %w", c.Addr, err)
	}
	return hs, nil
}

// BBMDAddr parses Foreign.BBMD into a LocalStation address.
func (fc ForeignConfig) BBMDAddr() (bacaddr.Address, error) {
	if fc.BBMD == "" {
		return bacaddr.Address{}, fmt.Errorf("node.foreign.bbmd: %w", ErrEmptyForeignBBMD)
	}
	addr, err := bacaddr.ParseLocalStation(fc.BBMD)
	if err != nil {
		return bacaddr.Address{}, fmt.Errorf("parse node.foreign.bbmd %q: %w", fc.BBMD, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Addr: "0.0.0.0/24:47808",
			Role: RoleSimple,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Inspect: InspectConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for bacstack configuration.
// Variables are named BACSTACK_<section>_<key>, e.g., BACSTACK_NODE_ADDR.
const envPrefix = "BACSTACK_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (BACSTACK_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	BACSTACK_NODE_ADDR     -> node.addr
//	BACSTACK_NODE_ROLE     -> node.role
//	BACSTACK_METRICS_ADDR  -> metrics.addr
//	BACSTACK_METRICS_PATH  -> metrics.path
//	BACSTACK_INSPECT_ADDR  -> inspect.addr
//	BACSTACK_LOG_LEVEL     -> log.level
//	BACSTACK_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// BACSTACK_NODE_ADDR -> node.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms BACSTACK_NODE_ADDR -> node.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"node.addr":        defaults.Node.Addr,
		"node.role":        defaults.Node.Role,
		"metrics.addr":     defaults.Metrics.Addr,
		"metrics.path":     defaults.Metrics.Path,
		"inspect.addr":     defaults.Inspect.Addr,
		"log.level":        defaults.Log.Level,
		"log.format":       defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Role names recognized by NodeConfig.Role.
const (
	RoleSimple  = "simple"
	RoleForeign = "foreign"
	RoleBBMD    = "bbmd"
)

// ValidRoles lists the recognized role strings.
var ValidRoles = map[string]bool{
	RoleSimple:  true,
	RoleForeign: true,
	RoleBBMD:    true,
}

// Validation errors.
var (
	// ErrEmptyNodeAddr indicates node.addr is empty.
	ErrEmptyNodeAddr = errors.New("node.addr must not be empty")

	// ErrInvalidRole indicates node.role is not one of simple/foreign/bbmd.
	ErrInvalidRole = errors.New("node.role must be simple, foreign, or bbmd")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrEmptyForeignBBMD indicates a "foreign"-role node has no BBMD target.
	ErrEmptyForeignBBMD = errors.New("node.foreign.bbmd must not be empty for role=foreign")

	// ErrInvalidForeignTTL indicates node.foreign.ttl is outside 1..65535.
	ErrInvalidForeignTTL = errors.New("node.foreign.ttl must be in 1..65535")

	// ErrInvalidBDTEntry indicates a node.bdt entry does not parse as a
	// "ip/mask:port" host spec.
	ErrInvalidBDTEntry = errors.New("node.bdt entry is not a valid ip/mask:port")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Node.Addr == "" {
		return ErrEmptyNodeAddr
	}
	if _, err := cfg.Node.NodeAddr(); err != nil {
		return err
	}

	if !ValidRoles[cfg.Node.Role] {
		return fmt.Errorf("%w: got %q", ErrInvalidRole, cfg.Node.Role)
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Node.Role == RoleForeign {
		if _, err := cfg.Node.Foreign.BBMDAddr(); err != nil {
			return err
		}
		if cfg.Node.Foreign.TTL < 1 || cfg.Node.Foreign.TTL > 65535 {
			return fmt.Errorf("%w: got %d", ErrInvalidForeignTTL, cfg.Node.Foreign.TTL)
		}
	}

	if cfg.Node.Role == RoleBBMD {
		for i, entry := range cfg.Node.BDT {
			if _, err := bacaddr.ParseHostSpec(entry); err != nil {
				return fmt.Errorf("node.bdt[%d] %q: %w: %w", i, entry, ErrInvalidBDTEntry, err)
			}
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
