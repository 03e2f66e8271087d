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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/platform"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if arch, _ := c.TargetArch(); arch != platform.ARM64 {
		t.Errorf("default arch = %v, want arm64", arch)
	}
	if c.Tick() != 10*time.Millisecond {
		t.Errorf("default tick = %v, want 10ms", c.Tick())
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse(`
arch = "riscv64"
cpus = 2
tick_interval = "5ms"
memory_frames = 64
log_level = "debug"
log_file = "/tmp/kerners.log"
modules = ["mods/hello.ko", "mods/blk.ko"]
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if arch, _ := c.TargetArch(); arch != platform.RISCV64 {
		t.Errorf("arch = %v, want riscv64", arch)
	}
	if c.CPUs != 2 || c.MemoryFrames != 64 {
		t.Errorf("cpus=%d frames=%d", c.CPUs, c.MemoryFrames)
	}
	if c.Tick() != 5*time.Millisecond {
		t.Errorf("tick = %v, want 5ms", c.Tick())
	}
	if level, _ := c.Level(); level != log.Debug {
		t.Errorf("level = %v, want debug", level)
	}
	if c.LogFile != "/tmp/kerners.log" {
		t.Errorf("log_file = %q", c.LogFile)
	}
	if len(c.Modules) != 2 || c.Modules[0] != "mods/hello.ko" {
		t.Errorf("modules = %v", c.Modules)
	}
}

func TestParsePartialKeepsDefaults(t *testing.T) {
	c, err := Parse(`cpus = 1`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.CPUs != 1 {
		t.Errorf("cpus = %d, want 1", c.CPUs)
	}
	if c.Arch != "arm64" || c.LogLevel != "info" || c.MemoryFrames != 256 {
		t.Errorf("defaults not kept: %+v", c)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
	}{
		{"bad arch", `arch = "x86"`},
		{"zero cpus", `cpus = 0`},
		{"too many cpus", `cpus = 64`},
		{"bad tick", `tick_interval = "0s"`},
		{"bad tick format", `tick_interval = "fast"`},
		{"zero frames", `memory_frames = 0`},
		{"bad level", `log_level = "verbose"`},
		{"bad toml", `cpus = =`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.text); err == nil {
				t.Errorf("Parse(%q) succeeded", tc.text)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.toml")
	if err := os.WriteFile(path, []byte("cpus = 3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.CPUs != 3 {
		t.Errorf("cpus = %d, want 3", c.CPUs)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load on a missing file succeeded")
	}
}
