// Package config loads the optional YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/timeline"
)

// Config holds every tunable of a run. Command line flags override it.
type Config struct {
	Output           string `yaml:"output"`
	LogFormat        string `yaml:"log_format"`
	JournalPath      string `yaml:"journal_path"`
	CloudInitLogPath string `yaml:"cloudinit_log_path"`
	SystemdPath      string `yaml:"systemd_path"`

	Boot     BootConfig     `yaml:"boot"`
	Timeline TimelineConfig `yaml:"timeline"`
	Graph    GraphConfig    `yaml:"graph"`
	SSH      SSHConfig      `yaml:"ssh"`
}

// BootConfig tunes boot segmentation.
type BootConfig struct {
	EndSignatures []string `yaml:"end_signatures"`
}

// TimelineConfig tunes correlation.
type TimelineConfig struct {
	AnchorSignatures  []string `yaml:"anchor_signatures"`
	GapThreshold      Duration `yaml:"gap_threshold"`
	TopGaps           int      `yaml:"top_gaps"`
	HistogramInterval Duration `yaml:"histogram_interval"`
}

// GraphConfig holds the default unit graph filters.
type GraphConfig struct {
	RootUnit       string   `yaml:"root_unit"`
	Filters        []string `yaml:"filters"`
	FilterInactive bool     `yaml:"filter_inactive"`
}

// SSHConfig describes how to reach a remote machine.
type SSHConfig struct {
	User                  string   `yaml:"user"`
	Port                  int      `yaml:"port"`
	KeyPath               string   `yaml:"key_path"`
	KnownHostsPath        string   `yaml:"known_hosts_path"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key"`
	ProxyHost             string   `yaml:"proxy_host"`
	ProxyUser             string   `yaml:"proxy_user"`
	CommandTimeout        Duration `yaml:"command_timeout"`
	ConnectAttempts       int      `yaml:"connect_attempts"`
	RetryDelay            Duration `yaml:"retry_delay"`
}

// Duration reads "1.5s" style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Output:           "lpt-output",
		LogFormat:        "text",
		CloudInitLogPath: "/var/log/cloud-init.log",
		Boot: BootConfig{
			EndSignatures: append([]string(nil), boot.DefaultEndSignatures...),
		},
		Timeline: TimelineConfig{
			AnchorSignatures:  append([]string(nil), timeline.DefaultAnchorSignatures...),
			GapThreshold:      Duration(timeline.DefaultGapThreshold),
			TopGaps:           10,
			HistogramInterval: Duration(time.Second),
		},
		Graph: GraphConfig{
			RootUnit:       "multi-user.target",
			FilterInactive: true,
		},
		SSH: SSHConfig{
			User:            os.Getenv("USER"),
			Port:            22,
			KnownHostsPath:  filepath.Join(home, ".ssh", "known_hosts"),
			CommandTimeout:  Duration(300 * time.Second),
			ConnectAttempts: 300,
			RetryDelay:      Duration(time.Second),
		},
	}
}

// Load reads configuration from a YAML file layered over the defaults.
// Missing files fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values a run cannot recover from.
func (c Config) Validate() error {
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Timeline.GapThreshold <= 0 {
		return errors.New("timeline.gap_threshold must be positive")
	}
	if c.Timeline.HistogramInterval <= 0 {
		return errors.New("timeline.histogram_interval must be positive")
	}
	if c.Timeline.TopGaps < 0 {
		return errors.New("timeline.top_gaps must not be negative")
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh.port %d out of range", c.SSH.Port)
	}
	if c.SSH.CommandTimeout <= 0 {
		return errors.New("ssh.command_timeout must be positive")
	}
	if c.SSH.ConnectAttempts <= 0 {
		return errors.New("ssh.connect_attempts must be positive")
	}
	if _, err := c.EndSignatures(); err != nil {
		return err
	}
	if _, err := c.AnchorSignatures(); err != nil {
		return err
	}
	return nil
}

// EndSignatures compiles the boot end markers.
func (c Config) EndSignatures() ([]*regexp.Regexp, error) {
	return boot.CompileSignatures(c.Boot.EndSignatures)
}

// AnchorSignatures compiles the clock anchor markers.
func (c Config) AnchorSignatures() ([]*regexp.Regexp, error) {
	return boot.CompileSignatures(c.Timeline.AnchorSignatures)
}
