package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/jinzoro/syseng-scripts/internal/constants"
)

const (
	ControllerProcess = "process"
	ControllerSystemd = "systemd"
	ControllerDocker  = "docker"
)

type Config struct {
	RootDir         string                    `koanf:"root_dir" json:"root_dir,omitempty" yaml:"root_dir,omitempty" toml:"root_dir,omitempty"`
	Controller      string                    `koanf:"controller" json:"controller,omitempty" yaml:"controller,omitempty" toml:"controller,omitempty" validate:"omitempty,oneof=process systemd docker"`
	DeployTimeout   time.Duration             `koanf:"deploy_timeout" json:"deploy_timeout,omitempty" yaml:"deploy_timeout,omitempty" toml:"deploy_timeout,omitempty" validate:"gte=0"`
	RollbackTimeout time.Duration             `koanf:"rollback_timeout" json:"rollback_timeout,omitempty" yaml:"rollback_timeout,omitempty" toml:"rollback_timeout,omitempty" validate:"gte=0"`
	Defaults        ServiceDefaults           `koanf:"defaults" json:"defaults" yaml:"defaults" toml:"defaults"`
	Services        map[string]*ServiceConfig `koanf:"services" json:"services,omitempty" yaml:"services,omitempty" toml:"services,omitempty" validate:"dive"`
	Backup          BackupConfig              `koanf:"backup" json:"backup" yaml:"backup" toml:"backup"`
	Systemd         SystemdConfig             `koanf:"systemd" json:"systemd" yaml:"systemd" toml:"systemd"`
	Metrics         MetricsConfig             `koanf:"metrics" json:"metrics" yaml:"metrics" toml:"metrics"`
	Log             LogConfig                 `koanf:"log" json:"log" yaml:"log" toml:"log"`
}

// ServiceDefaults are inherited by every service unless overridden.
type ServiceDefaults struct {
	Health     HealthConfig     `koanf:"health" json:"health" yaml:"health" toml:"health"`
	Retention  RetentionConfig  `koanf:"retention" json:"retention" yaml:"retention" toml:"retention"`
	Activation ActivationConfig `koanf:"activation" json:"activation" yaml:"activation" toml:"activation"`
	Rollback   *bool            `koanf:"rollback" json:"rollback,omitempty" yaml:"rollback,omitempty" toml:"rollback,omitempty"`
}

type HealthConfig struct {
	URL          string        `koanf:"url" json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty" validate:"omitempty,url"`
	Attempts     int           `koanf:"attempts" json:"attempts,omitempty" yaml:"attempts,omitempty" toml:"attempts,omitempty" validate:"gte=0"`
	Interval     time.Duration `koanf:"interval" json:"interval,omitempty" yaml:"interval,omitempty" toml:"interval,omitempty" validate:"gte=0"`
	ProbeTimeout time.Duration `koanf:"probe_timeout" json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty" toml:"probe_timeout,omitempty" validate:"gte=0"`
}

// RetentionConfig counts. Zero means "use the default", not "keep nothing".
type RetentionConfig struct {
	Versions int `koanf:"versions" json:"versions,omitempty" yaml:"versions,omitempty" toml:"versions,omitempty" validate:"gte=0"`
	Backups  int `koanf:"backups" json:"backups,omitempty" yaml:"backups,omitempty" toml:"backups,omitempty" validate:"gte=0"`
}

type ActivationConfig struct {
	SettleDelay time.Duration `koanf:"settle_delay" json:"settle_delay,omitempty" yaml:"settle_delay,omitempty" toml:"settle_delay,omitempty" validate:"gte=0"`
	StopTimeout time.Duration `koanf:"stop_timeout" json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty" toml:"stop_timeout,omitempty" validate:"gte=0"`
}

type ServiceConfig struct {
	Command    []string          `koanf:"command" json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Artifact   string            `koanf:"artifact" json:"artifact,omitempty" yaml:"artifact,omitempty" toml:"artifact,omitempty"`
	Extract    bool              `koanf:"extract" json:"extract,omitempty" yaml:"extract,omitempty" toml:"extract,omitempty"`
	ConfigFile string            `koanf:"config_file" json:"config_file,omitempty" yaml:"config_file,omitempty" toml:"config_file,omitempty"`
	Env        map[string]string `koanf:"env" json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Image      string            `koanf:"image" json:"image,omitempty" yaml:"image,omitempty" toml:"image,omitempty"`
	MountPath  string            `koanf:"mount_path" json:"mount_path,omitempty" yaml:"mount_path,omitempty" toml:"mount_path,omitempty"`
	Health     HealthConfig      `koanf:"health" json:"health" yaml:"health" toml:"health"`
	Retention  RetentionConfig   `koanf:"retention" json:"retention" yaml:"retention" toml:"retention"`
	Activation ActivationConfig  `koanf:"activation" json:"activation" yaml:"activation" toml:"activation"`
	Rollback   *bool             `koanf:"rollback" json:"rollback,omitempty" yaml:"rollback,omitempty" toml:"rollback,omitempty"`
}

type BackupConfig struct {
	// AgeRecipient enables snapshot encryption when set (an "age1..." public key).
	AgeRecipient string `koanf:"age_recipient" json:"age_recipient,omitempty" yaml:"age_recipient,omitempty" toml:"age_recipient,omitempty"`
}

type SystemdConfig struct {
	UnitDir string `koanf:"unit_dir" json:"unit_dir,omitempty" yaml:"unit_dir,omitempty" toml:"unit_dir,omitempty"`
	User    string `koanf:"user" json:"user,omitempty" yaml:"user,omitempty" toml:"user,omitempty"`
}

type MetricsConfig struct {
	TextfileDir string `koanf:"textfile_dir" json:"textfile_dir,omitempty" yaml:"textfile_dir,omitempty" toml:"textfile_dir,omitempty"`
}

type LogConfig struct {
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	Format string `koanf:"format" json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty" validate:"omitempty,oneof=auto console json"`
}

// Normalize sets default values which will be inherited by all services.
func (c *Config) Normalize() *Config {
	if c.RootDir == "" {
		c.RootDir = DefaultRootDir()
	} else {
		c.RootDir = expandHome(c.RootDir)
	}
	if c.Controller == "" {
		c.Controller = constants.DefaultController
	}
	if c.DeployTimeout == 0 {
		c.DeployTimeout = constants.DefaultDeployTimeout
	}
	if c.RollbackTimeout == 0 {
		c.RollbackTimeout = constants.DefaultRollbackTimeout
	}

	d := &c.Defaults
	if d.Health.Attempts == 0 {
		d.Health.Attempts = constants.DefaultHealthAttempts
	}
	if d.Health.Interval == 0 {
		d.Health.Interval = constants.DefaultHealthInterval
	}
	if d.Health.ProbeTimeout == 0 {
		d.Health.ProbeTimeout = constants.DefaultProbeTimeout
	}
	if d.Retention.Versions == 0 {
		d.Retention.Versions = constants.DefaultVersionsToKeep
	}
	if d.Retention.Backups == 0 {
		d.Retention.Backups = constants.DefaultBackupsToKeep
	}
	if d.Activation.SettleDelay == 0 {
		d.Activation.SettleDelay = constants.DefaultSettleDelay
	}
	if d.Activation.StopTimeout == 0 {
		d.Activation.StopTimeout = constants.DefaultStopTimeout
	}
	if d.Rollback == nil {
		enabled := true
		d.Rollback = &enabled
	}

	if c.Systemd.UnitDir == "" {
		c.Systemd.UnitDir = constants.DefaultSystemdUnitDir
	}
	if c.Services == nil {
		c.Services = make(map[string]*ServiceConfig)
	}
	return c
}

// Service returns the settings for name with the global defaults applied underneath.
// The boolean reports whether the service is declared in the config file.
func (c *Config) Service(name string) (ServiceConfig, bool) {
	resolved := ServiceConfig{
		Health:     c.Defaults.Health,
		Retention:  c.Defaults.Retention,
		Activation: c.Defaults.Activation,
		Rollback:   c.Defaults.Rollback,
	}

	declared, ok := c.Services[name]
	if !ok || declared == nil {
		return resolved, false
	}

	// Non-zero service values win over defaults, field by field inside the nested sections.
	top := *declared
	top.Health, top.Retention, top.Activation = HealthConfig{}, RetentionConfig{}, ActivationConfig{}
	overlay(name, &resolved, &top)
	overlay(name, &resolved.Health, &declared.Health)
	overlay(name, &resolved.Retention, &declared.Retention)
	overlay(name, &resolved.Activation, &declared.Activation)

	if resolved.MountPath == "" {
		resolved.MountPath = constants.DefaultDockerMountPath
	}
	return resolved, true
}

func overlay(service string, dst, src any) {
	if err := copier.CopyWithOption(dst, src, copier.Option{IgnoreEmpty: true}); err != nil {
		// copier only fails on mismatched kinds, which cannot happen for identical types.
		panic(fmt.Sprintf("config: overlay service %q: %v", service, err))
	}
}

// ServiceNames returns the declared services in sorted order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RollbackEnabled reports whether automatic rollback is on for the service.
func (s ServiceConfig) RollbackEnabled() bool {
	return s.Rollback == nil || *s.Rollback
}

// ArtifactFor expands the {service} and {version} placeholders of the artifact location.
func (s ServiceConfig) ArtifactFor(service, version string) string {
	return expandPlaceholders(s.Artifact, service, version)
}

// ConfigFileFor expands the {service} and {version} placeholders of the config file path.
func (s ServiceConfig) ConfigFileFor(service, version string) string {
	return expandPlaceholders(s.ConfigFile, service, version)
}

func expandPlaceholders(s, service, version string) string {
	if s == "" {
		return ""
	}
	return strings.NewReplacer("{service}", service, "{version}", version).Replace(s)
}
