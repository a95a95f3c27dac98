// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the settings of the srr daemon.
package config

import (
	"os"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/srr/core/srr"
)

const (
	DefaultAgentName               = "fty-srr"
	DefaultQueueName               = "ETN.Q.IPMCORE.SRR"
	DefaultVersion                 = srr.Version2
	DefaultRequestTimeout          = 60 * time.Second
	DefaultRestartDelay            = 5 * time.Second
	DefaultHTTPListen              = "127.0.0.1:17080"
	DefaultLoggingConfig           = "<root>=INFO"
	DefaultMaxConcurrentDispatches = 8
)

// DefaultRebootCommand is run to restart the appliance.
var DefaultRebootCommand = []string{"sudo", "/sbin/reboot"}

// DefaultSupportedVersions are the protocol versions restore accepts.
var DefaultSupportedVersions = []string{srr.Version1, srr.Version2, srr.Version21}

// Config holds the daemon settings.
type Config struct {
	AgentName string `yaml:"agent-name"`
	QueueName string `yaml:"queue-name"`

	// Version is the protocol version of list and save responses.
	Version           string   `yaml:"version"`
	SupportedVersions []string `yaml:"supported-versions"`

	RequestTimeout          time.Duration `yaml:"request-timeout"`
	MaxConcurrentDispatches int           `yaml:"max-concurrent-dispatches"`

	RestartDelay  time.Duration `yaml:"restart-delay"`
	EnableReboot  bool          `yaml:"enable-reboot"`
	RebootCommand []string      `yaml:"reboot-command"`

	HTTPListen      string `yaml:"http-listen"`
	LoggingConfig   string `yaml:"logging-config"`
	CatalogFile     string `yaml:"catalog-file,omitempty"`
	TracingEndpoint string `yaml:"tracing-endpoint,omitempty"`
}

// Default returns the default settings.
func Default() Config {
	return Config{
		AgentName:               DefaultAgentName,
		QueueName:               DefaultQueueName,
		Version:                 DefaultVersion,
		SupportedVersions:       append([]string(nil), DefaultSupportedVersions...),
		RequestTimeout:          DefaultRequestTimeout,
		MaxConcurrentDispatches: DefaultMaxConcurrentDispatches,
		RestartDelay:            DefaultRestartDelay,
		EnableReboot:            true,
		RebootCommand:           append([]string(nil), DefaultRebootCommand...),
		HTTPListen:              DefaultHTTPListen,
		LoggingConfig:           DefaultLoggingConfig,
	}
}

// Parse decodes YAML settings. Settings left out keep their default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotate(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Read reads the settings from the file at path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %q", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Annotatef(err, "config %q", path)
	}
	return cfg, nil
}

// Supported returns the supported protocol versions as a set.
func (c Config) Supported() set.Strings {
	return set.NewStrings(c.SupportedVersions...)
}

// Validate returns an error if the settings cannot be used.
func (c Config) Validate() error {
	if c.AgentName == "" {
		return errors.NotValidf("empty agent-name")
	}
	if c.QueueName == "" {
		return errors.NotValidf("empty queue-name")
	}
	for _, v := range c.SupportedVersions {
		if v != srr.Version1 && !srr.IsGrouped(v) {
			return errors.NotValidf("supported version %q", v)
		}
	}
	if !c.Supported().Contains(c.Version) {
		return errors.NotValidf("version %q not in supported-versions", c.Version)
	}
	if c.RequestTimeout <= 0 {
		return errors.NotValidf("non-positive request-timeout")
	}
	if c.MaxConcurrentDispatches <= 0 {
		return errors.NotValidf("non-positive max-concurrent-dispatches")
	}
	if c.RestartDelay < 0 {
		return errors.NotValidf("negative restart-delay")
	}
	if c.EnableReboot && len(c.RebootCommand) == 0 {
		return errors.NotValidf("empty reboot-command with reboot enabled")
	}
	return nil
}
