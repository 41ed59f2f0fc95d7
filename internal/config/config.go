// Package config handles global configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"firestige.xyz/rtpscope/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `rtpscope:` root key in YAML.
type GlobalConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Capture CaptureConfig `mapstructure:"capture"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`   // trace / debug / info / warn / error
	Format  string           `mapstructure:"format"`  // json / text / pattern
	Pattern string           `mapstructure:"pattern"` // used when format=pattern
	Time    string           `mapstructure:"time"`    // timestamp layout for format=pattern
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Capture ───

// CaptureConfig selects the initial capture source and how it is opened.
type CaptureConfig struct {
	Source      SourceConfig  `mapstructure:"source"`
	Engine      string        `mapstructure:"engine"` // pcap | afpacket
	SnapLen     int           `mapstructure:"snap_len"`
	Promiscuous bool          `mapstructure:"promiscuous"`
	BPFFilter   string        `mapstructure:"bpf_filter"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	BufferMB    int           `mapstructure:"buffer_mb"` // AF_PACKET ring size
	CapturesDir string        `mapstructure:"captures_dir"`
}

// SourceConfig names the capture source opened at startup. An empty name
// starts the server idle until a viewer picks a source.
type SourceConfig struct {
	Kind string `mapstructure:"kind"` // interface | file
	Name string `mapstructure:"name"`
}

// Descriptor converts the configured source, reporting false when none is set.
func (s SourceConfig) Descriptor() (core.Source, bool) {
	if s.Name == "" {
		return core.Source{}, false
	}
	kind := core.SourceInterface
	if s.Kind == "file" {
		kind = core.SourceFile
	}
	return core.Source{Kind: kind, Name: s.Name}, true
}

// ─── Server ───

// ServerConfig configures the viewer-facing listener.
type ServerConfig struct {
	Listen           string `mapstructure:"listen"`
	ExitOnCaptureEnd bool   `mapstructure:"exit_on_capture_end"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics and HTTP API settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `rtpscope: ...`.
type configRoot struct {
	Rtpscope GlobalConfig `mapstructure:"rtpscope"`
}

// Load loads configuration from path. An empty path uses defaults and the
// environment only. A `.env` file in the working directory is loaded first
// when present; env vars use the RTPSCOPE_ prefix (e.g. RTPSCOPE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `rtpscope.` key prefix maps to `RTPSCOPE_` in env vars via the key
	// replacer (e.g. "rtpscope.server.listen" → "RTPSCOPE_SERVER_LISTEN").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Rtpscope

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "rtpscope." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("rtpscope.log.level", "info")
	v.SetDefault("rtpscope.log.format", "text")
	v.SetDefault("rtpscope.log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("rtpscope.log.time", "2006-01-02 15:04:05.000")
	v.SetDefault("rtpscope.log.outputs.file.enabled", false)
	v.SetDefault("rtpscope.log.outputs.file.path", "/var/log/rtpscope/rtpscope.log")
	v.SetDefault("rtpscope.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("rtpscope.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("rtpscope.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("rtpscope.log.outputs.file.rotation.compress", true)

	// Capture defaults
	v.SetDefault("rtpscope.capture.source.kind", "interface")
	v.SetDefault("rtpscope.capture.source.name", "")
	v.SetDefault("rtpscope.capture.engine", "pcap")
	v.SetDefault("rtpscope.capture.snap_len", 65535)
	v.SetDefault("rtpscope.capture.promiscuous", true)
	v.SetDefault("rtpscope.capture.bpf_filter", "udp")
	v.SetDefault("rtpscope.capture.read_timeout", "100ms")
	v.SetDefault("rtpscope.capture.buffer_mb", 8)
	v.SetDefault("rtpscope.capture.captures_dir", "captures")

	// Server defaults
	v.SetDefault("rtpscope.server.listen", ":7373")
	v.SetDefault("rtpscope.server.exit_on_capture_end", false)

	// Metrics defaults
	v.SetDefault("rtpscope.metrics.enabled", true)
	v.SetDefault("rtpscope.metrics.listen", ":9091")
	v.SetDefault("rtpscope.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("%w: log format %q (must be json/text/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return fmt.Errorf("%w: log.outputs.file.path is required when file output is enabled", core.ErrConfigInvalid)
	}

	// ── Capture validation ──
	if cfg.Capture.Source.Kind != "interface" && cfg.Capture.Source.Kind != "file" {
		return fmt.Errorf("%w: capture.source.kind %q (must be interface/file)", core.ErrConfigInvalid, cfg.Capture.Source.Kind)
	}
	if cfg.Capture.Engine != "pcap" && cfg.Capture.Engine != "afpacket" {
		return fmt.Errorf("%w: capture.engine %q (must be pcap/afpacket)", core.ErrConfigInvalid, cfg.Capture.Engine)
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 65535
	}
	if cfg.Capture.ReadTimeout <= 0 {
		cfg.Capture.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Capture.BufferMB <= 0 {
		cfg.Capture.BufferMB = 8
	}

	// ── Listener validation ──
	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return fmt.Errorf("%w: server.listen %q: %v", core.ErrConfigInvalid, cfg.Server.Listen, err)
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("%w: metrics.listen %q: %v", core.ErrConfigInvalid, cfg.Metrics.Listen, err)
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("%w: metrics.path %q must start with /", core.ErrConfigInvalid, cfg.Metrics.Path)
		}
	}

	return nil
}
