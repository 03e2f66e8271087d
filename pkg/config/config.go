// Copyright 2025 The Kerners Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the boot-time machine configuration, loaded from a
// TOML file. Zero values in the file fall back to defaults; Validate rejects
// configurations the machine cannot run.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/platform"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "10ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the machine configuration.
type Config struct {
	// Arch is the target instruction set, "arm64" or "riscv64". It selects
	// the module relocation engine.
	Arch string `toml:"arch"`

	// CPUs is the number of simulated CPUs.
	CPUs int `toml:"cpus"`

	// TickInterval is the timer interrupt period.
	TickInterval Duration `toml:"tick_interval"`

	// MemoryFrames is the frame pool size in 4KB frames.
	MemoryFrames int `toml:"memory_frames"`

	// LogLevel is "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// LogFile redirects log output to a file. Empty means stderr.
	LogFile string `toml:"log_file"`

	// Modules are object files to load at boot.
	Modules []string `toml:"modules"`
}

// Default returns the default configuration: a 4-CPU arm64 machine with a
// 10ms tick and 256 frames.
func Default() *Config {
	return &Config{
		Arch:         "arm64",
		CPUs:         4,
		TickInterval: Duration(10 * time.Millisecond),
		MemoryFrames: 256,
		LogLevel:     "info",
	}
}

// Load reads and validates a configuration file. Settings absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("config: loading %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes and validates configuration text.
func Parse(data string) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if _, err := platform.ParseArch(c.Arch); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.CPUs < 1 || c.CPUs > platform.MaxCPUs {
		return fmt.Errorf("config: cpus %d out of range [1, %d]", c.CPUs, platform.MaxCPUs)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: tick_interval must be positive")
	}
	if c.MemoryFrames < 1 {
		return fmt.Errorf("config: memory_frames must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// TargetArch returns the parsed architecture.
func (c *Config) TargetArch() (platform.Arch, error) {
	return platform.ParseArch(c.Arch)
}

// Tick returns the tick interval as a time.Duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickInterval)
}

// Level returns the parsed log level.
func (c *Config) Level() (log.Level, error) {
	switch c.LogLevel {
	case "warning":
		return log.Warning, nil
	case "info":
		return log.Info, nil
	case "debug":
		return log.Debug, nil
	default:
		return 0, fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
}
