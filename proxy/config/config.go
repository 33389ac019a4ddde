/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config reads the proxy's YAML configuration file: the set of
// time bases it aggregates and the external collaborators backing each
// one.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// TimeBase describes one time base's static identity and where to
// reach its external PTP and/or system-clock collaborators. At least
// one of PTP4lSocket or ChronydAddress must be set.
type TimeBase struct {
	Index             uint32 `yaml:"index"`
	Name              string `yaml:"name"`
	Interface         string `yaml:"interface"`
	TransportSpecific uint8  `yaml:"transportSpecific"`
	DomainNumber      uint8  `yaml:"domainNumber"`

	// PTP4lSocket is the ptp4l management socket to poll for this time
	// base's PTP state. Empty means this time base has no PTP source.
	PTP4lSocket string `yaml:"ptp4lSocket"`

	// ChronydAddress is the chronyd control socket or UDP address to
	// poll for this time base's system-clock state. Empty means this
	// time base has no system-clock source.
	ChronydAddress string `yaml:"chronydAddress"`

	// PollInterval overrides Config.DefaultPollInterval for this time
	// base's sources.
	PollInterval time.Duration `yaml:"pollInterval"`
}

// HavePTP reports whether this time base has a PTP source configured.
func (t TimeBase) HavePTP() bool { return t.PTP4lSocket != "" }

// HaveSys reports whether this time base has a system-clock source
// configured.
func (t TimeBase) HaveSys() bool { return t.ChronydAddress != "" }

// Config is the proxy daemon's top-level configuration.
type Config struct {
	// TimeBases lists every time base the proxy aggregates and serves.
	TimeBases []TimeBase `yaml:"timeBases"`

	// QueueDir is the runtime directory holding the transport's queue
	// socket files.
	QueueDir string `yaml:"queueDir"`

	// DefaultPollInterval is used for any time base that does not set
	// its own PollInterval.
	DefaultPollInterval time.Duration `yaml:"defaultPollInterval"`

	// LivenessWindow bounds how long a client's liveness probe may go
	// unanswered before the proxy is considered unreachable.
	LivenessWindow time.Duration `yaml:"livenessWindow"`
}

// EvalAndValidate checks the config for internal consistency and
// fills in defaults for fields left unset.
func (c *Config) EvalAndValidate() error {
	if len(c.TimeBases) == 0 {
		return fmt.Errorf("bad config: at least one time base is required")
	}
	seen := make(map[uint32]bool, len(c.TimeBases))
	for _, tb := range c.TimeBases {
		if seen[tb.Index] {
			return fmt.Errorf("bad config: duplicate time base index %d", tb.Index)
		}
		seen[tb.Index] = true
		if tb.Name == "" {
			return fmt.Errorf("bad config: time base %d missing 'name'", tb.Index)
		}
		if !tb.HavePTP() && !tb.HaveSys() {
			return fmt.Errorf("bad config: time base %d has neither a PTP nor a system-clock source", tb.Index)
		}
	}
	if c.DefaultPollInterval <= 0 {
		c.DefaultPollInterval = time.Second
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = 50 * time.Millisecond
	}
	if c.QueueDir == "" {
		c.QueueDir = "/var/run/clkmgr"
	}
	return nil
}

// ReadConfig reads and strictly unmarshals the YAML file at path.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}
