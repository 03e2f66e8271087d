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

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/yangbeom/kerners/pkg/kernel"
	"github.com/yangbeom/kerners/pkg/kmod"
	"github.com/yangbeom/kerners/pkg/log"
	"github.com/yangbeom/kerners/pkg/pgalloc"
	"github.com/yangbeom/kerners/pkg/platform"
)

// loadCmd implements subcommands.Command for the "load" command. It links
// module objects against the kernel symbol table without booting CPUs, as a
// dry run for module authors.
type loadCmd struct {
	arch   string
	frames int
	unload bool
}

// Name implements subcommands.Command.Name.
func (*loadCmd) Name() string {
	return "load"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*loadCmd) Synopsis() string {
	return "load module objects and print their layout and exports"
}

// Usage implements subcommands.Command.Usage.
func (*loadCmd) Usage() string {
	return "load [-arch <arm64|riscv64>] <module.ko>...\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *loadCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.arch, "arch", "arm64", "target architecture")
	f.IntVar(&l.frames, "frames", 256, "frame pool size")
	f.BoolVar(&l.unload, "unload", false, "unload each module after printing it")
}

// Execute implements subcommands.Command.Execute.
func (l *loadCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Print(l.Usage())
		return subcommands.ExitUsageError
	}
	arch, err := platform.ParseArch(l.arch)
	if err != nil {
		log.Warningf("%v", err)
		return subcommands.ExitUsageError
	}
	pool, err := pgalloc.NewPool(l.frames)
	if err != nil {
		log.Warningf("creating frame pool: %v", err)
		return subcommands.ExitFailure
	}
	defer pool.Destroy()

	syms := kmod.NewSymbolTable()
	kmod.RegisterKernelSymbols(syms, kernel.New(nil))
	loader := kmod.NewLoader(arch, pool, syms)

	var g errgroup.Group
	for _, path := range f.Args() {
		path := path
		g.Go(func() error {
			_, err := loader.LoadFile(path)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Warningf("%v", err)
		return subcommands.ExitFailure
	}

	for _, name := range loader.Modules() {
		info, _ := loader.Info(name)
		fmt.Printf("%s: base %#x, %d bytes, %s\n", info.Name, info.Base, info.Size, info.State)
		for _, e := range loader.ModuleSymbols(name) {
			fmt.Printf("  %#016x %s\n", e.Addr, e.Name)
		}
		if l.unload {
			if err := loader.Unload(name); err != nil {
				log.Warningf("unloading %s: %v", name, err)
				return subcommands.ExitFailure
			}
		}
	}
	return subcommands.ExitSuccess
}
