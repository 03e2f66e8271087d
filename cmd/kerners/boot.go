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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/yangbeom/kerners/pkg/config"
	"github.com/yangbeom/kerners/pkg/kernel"
	"github.com/yangbeom/kerners/pkg/kmod"
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/pgalloc"
	"github.com/yangbeom/kerners/pkg/platform"
)

// bootCmd implements subcommands.Command for the "boot" command.
type bootCmd struct {
	configPath string
	runFor     time.Duration
	workers    int
	yields     int
}

// Name implements subcommands.Command.Name.
func (*bootCmd) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*bootCmd) Synopsis() string {
	return "boot the machine, load configured modules and run kernel threads"
}

// Usage implements subcommands.Command.Usage.
func (*bootCmd) Usage() string {
	return "boot [-config <file>] [-run <duration>] [-workers <n>]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *bootCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.configPath, "config", "", "machine configuration file (TOML)")
	f.DurationVar(&b.runFor, "run", time.Second, "how long to run before shutting down")
	f.IntVar(&b.workers, "workers", 4, "number of demo worker threads to spawn")
	f.IntVar(&b.yields, "yields", 100, "yields each worker performs before exiting")
}

// Execute implements subcommands.Command.Execute.
func (b *bootCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg := config.Default()
	if b.configPath != "" {
		var err error
		if cfg, err = config.Load(b.configPath); err != nil {
			log.Warningf("%v", err)
			return subcommands.ExitFailure
		}
	}
	level, _ := cfg.Level()
	log.SetLevel(level)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Warningf("opening log file: %v", err)
			return subcommands.ExitFailure
		}
		defer f.Close()
		log.SetTarget(&log.Writer{Next: f})
	}
	arch, _ := cfg.TargetArch()

	machine, err := platform.NewMachine(cfg.CPUs, cfg.Tick())
	if err != nil {
		log.Warningf("creating machine: %v", err)
		return subcommands.ExitFailure
	}
	pool, err := pgalloc.NewPool(cfg.MemoryFrames)
	if err != nil {
		log.Warningf("creating frame pool: %v", err)
		return subcommands.ExitFailure
	}
	defer pool.Destroy()

	k := kernel.New(machine)
	syms := kmod.NewSymbolTable()
	kmod.RegisterKernelSymbols(syms, k)
	loader := kmod.NewLoader(arch, pool, syms)

	if err := k.Start(); err != nil {
		log.Warningf("starting machine: %v", err)
		return subcommands.ExitFailure
	}
	defer k.Shutdown()

	var g errgroup.Group
	for _, path := range cfg.Modules {
		path := path
		g.Go(func() error {
			_, err := loader.LoadFile(path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Warningf("loading modules: %v", err)
		return subcommands.ExitFailure
	}

	for i := 0; i < b.workers; i++ {
		k.Spawn(fmt.Sprintf("worker/%d", i), func() {
			for j := 0; j < b.yields; j++ {
				k.Yield()
			}
		})
	}

	time.Sleep(b.runFor)

	k.DumpThreads()
	for _, name := range loader.Modules() {
		if info, ok := loader.Info(name); ok {
			log.Infof("module %s: %s at %#x, %d bytes, %d exports",
				info.Name, info.State, info.Base, info.Size, info.Exports)
		}
	}
	return subcommands.ExitSuccess
}
